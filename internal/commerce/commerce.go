// Package commerce is the structured retriever: read-only, parameterized
// access to the relational commerce schema (customers, orders, order_items,
// products, payments, inventory, categories).
//
// The retriever never issues writes and never interpolates user input into
// SQL. Aggregate questions about an order always report the order's stored
// total, the authoritative field, even when line items disagree with it.
package commerce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shoptalk/shoptalk/internal/log"
	"github.com/shoptalk/shoptalk/internal/retrieval"
	"github.com/shoptalk/shoptalk/internal/router"
)

// ErrNotFound indicates a referenced row does not exist. Querier
// implementations return it for single-row lookups with no match;
// Retrieve converts it into an empty fragment set.
var ErrNotFound = errors.New("row not found")

// defaultListLimit bounds listing queries so a single hint can never pull
// an unbounded row set into the prompt.
const defaultListLimit = 10

// Customer is a customers row.
type Customer struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
}

// Product is a products row.
type Product struct {
	ID    int64
	Name  string
	Price float64
	SKU   string
}

// Order is an orders row. Total is the stored order total, the
// authoritative amount for this order.
type Order struct {
	ID         int64
	CustomerID int64
	Status     string
	Total      float64
	OrderDate  time.Time
}

// OrderItem is an order_items row.
type OrderItem struct {
	ProductID int64
	Quantity  int32
	Price     float64
}

// Payment is a payments row.
type Payment struct {
	ID     int64
	Method string
	Amount float64
	Status string
}

// RevenueSummary aggregates stored order totals.
type RevenueSummary struct {
	TotalRevenue    float64
	CompletedOrders int64
}

// StockLevel pairs a product with its inventory quantity.
type StockLevel struct {
	ProductName string
	Quantity    int32
}

// CategoryCount pairs a category with its product count.
type CategoryCount struct {
	Name         string
	ProductCount int64
}

// Querier defines the database operations the retriever needs.
// Interfaces are defined by the consumer; the pgx implementation lives in
// queries.go and tests substitute a mock.
type Querier interface {
	CountCustomers(ctx context.Context) (int64, error)
	RecentCustomers(ctx context.Context, limit int32) ([]Customer, error)

	CountProducts(ctx context.Context) (int64, error)
	ListProducts(ctx context.Context, limit int32) ([]Product, error)

	CountOrders(ctx context.Context) (int64, error)
	OrderByID(ctx context.Context, id int64) (Order, error)
	OrderItems(ctx context.Context, orderID int64) ([]OrderItem, error)
	PaymentsForOrder(ctx context.Context, orderID int64) ([]Payment, error)
	RecentOrders(ctx context.Context, limit int32) ([]Order, error)

	Revenue(ctx context.Context) (RevenueSummary, error)
	LowStock(ctx context.Context, limit int32) ([]StockLevel, error)
	CategoryBreakdown(ctx context.Context) ([]CategoryCount, error)
}

// Store maps routing hints to read-only queries and renders the rows into
// prompt-ready fragments. Safe for concurrent use.
type Store struct {
	q       Querier
	timeout time.Duration
	logger  log.Logger
}

// New creates a structured retriever. timeout bounds each Retrieve call;
// zero means 10 seconds.
func New(q Querier, timeout time.Duration, logger log.Logger) *Store {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{q: q, timeout: timeout, logger: logger}
}

// Retrieve executes the query selected by the hint and returns fragments.
// No matching rows yields an empty slice and a nil error.
func (s *Store) Retrieve(ctx context.Context, hint router.StructuredHint) ([]retrieval.Fragment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		frags []retrieval.Fragment
		err   error
	)

	switch hint.Topic {
	case router.TopicCustomers:
		frags, err = s.customers(ctx, hint)
	case router.TopicProducts:
		frags, err = s.products(ctx, hint)
	case router.TopicOrders:
		frags, err = s.orders(ctx, hint)
	case router.TopicRevenue:
		frags, err = s.revenue(ctx)
	case router.TopicInventory:
		frags, err = s.inventory(ctx)
	case router.TopicCategories:
		frags, err = s.categories(ctx)
	default:
		return nil, nil
	}

	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	s.logger.Debug("structured retrieval complete",
		"topic", hint.Topic, "fragments", len(frags))
	return frags, nil
}

func (s *Store) customers(ctx context.Context, hint router.StructuredHint) ([]retrieval.Fragment, error) {
	if hint.Count {
		n, err := s.q.CountCustomers(ctx)
		if err != nil {
			return nil, fmt.Errorf("counting customers: %w", err)
		}
		return []retrieval.Fragment{{
			Source:   retrieval.SourceStructured,
			Text:     fmt.Sprintf("The store has %d customers.", n),
			Citation: "customers/count",
		}}, nil
	}

	customers, err := s.q.RecentCustomers(ctx, defaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("listing customers: %w", err)
	}
	if len(customers) == 0 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("Recent customers:\n")
	for _, c := range customers {
		fmt.Fprintf(&b, "- %s %s <%s> (customer %d)\n", c.FirstName, c.LastName, c.Email, c.ID)
	}
	return []retrieval.Fragment{{
		Source:   retrieval.SourceStructured,
		Text:     b.String(),
		Citation: "customers",
	}}, nil
}

func (s *Store) products(ctx context.Context, hint router.StructuredHint) ([]retrieval.Fragment, error) {
	if hint.Count {
		n, err := s.q.CountProducts(ctx)
		if err != nil {
			return nil, fmt.Errorf("counting products: %w", err)
		}
		return []retrieval.Fragment{{
			Source:   retrieval.SourceStructured,
			Text:     fmt.Sprintf("The catalog contains %d products.", n),
			Citation: "products/count",
		}}, nil
	}

	products, err := s.q.ListProducts(ctx, defaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	if len(products) == 0 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("Products:\n")
	for _, p := range products {
		fmt.Fprintf(&b, "- %s ($%.2f, SKU %s, product %d)\n", p.Name, p.Price, p.SKU, p.ID)
	}
	return []retrieval.Fragment{{
		Source:   retrieval.SourceStructured,
		Text:     b.String(),
		Citation: "products",
	}}, nil
}

func (s *Store) orders(ctx context.Context, hint router.StructuredHint) ([]retrieval.Fragment, error) {
	if hint.OrderID > 0 {
		return s.orderDetail(ctx, hint.OrderID)
	}

	if hint.Count {
		n, err := s.q.CountOrders(ctx)
		if err != nil {
			return nil, fmt.Errorf("counting orders: %w", err)
		}
		return []retrieval.Fragment{{
			Source:   retrieval.SourceStructured,
			Text:     fmt.Sprintf("There are %d orders in total.", n),
			Citation: "orders/count",
		}}, nil
	}

	orders, err := s.q.RecentOrders(ctx, defaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if len(orders) == 0 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("Recent orders:\n")
	for _, o := range orders {
		fmt.Fprintf(&b, "- order %d: %s, total $%.2f, placed %s\n",
			o.ID, o.Status, o.Total, o.OrderDate.Format("2006-01-02"))
	}
	return []retrieval.Fragment{{
		Source:   retrieval.SourceStructured,
		Text:     b.String(),
		Citation: "orders",
	}}, nil
}

// orderDetail renders a single order. The stored total is the authoritative
// amount; line items are listed as detail but never summed into a competing
// figure.
func (s *Store) orderDetail(ctx context.Context, id int64) ([]retrieval.Fragment, error) {
	order, err := s.q.OrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching order %d: %w", id, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Order %d: status %s, order total $%.2f (authoritative), placed %s, customer %d.\n",
		order.ID, order.Status, order.Total, order.OrderDate.Format("2006-01-02"), order.CustomerID)

	items, err := s.q.OrderItems(ctx, id)
	if err != nil {
		// Detail enrichment only; the order row already answers the question.
		s.logger.Warn("fetching order items", "order", id, "error", err)
	} else if len(items) > 0 {
		b.WriteString("Line items:\n")
		for _, it := range items {
			fmt.Fprintf(&b, "- product %d x%d at $%.2f each\n", it.ProductID, it.Quantity, it.Price)
		}
	}

	payments, err := s.q.PaymentsForOrder(ctx, id)
	if err != nil {
		s.logger.Warn("fetching payments", "order", id, "error", err)
	} else if len(payments) > 0 {
		b.WriteString("Payments:\n")
		for _, p := range payments {
			fmt.Fprintf(&b, "- %s $%.2f (%s)\n", p.Method, p.Amount, p.Status)
		}
	}

	return []retrieval.Fragment{{
		Source:   retrieval.SourceStructured,
		Text:     b.String(),
		Citation: fmt.Sprintf("orders/%d", id),
	}}, nil
}

func (s *Store) revenue(ctx context.Context) ([]retrieval.Fragment, error) {
	rev, err := s.q.Revenue(ctx)
	if err != nil {
		return nil, fmt.Errorf("summarizing revenue: %w", err)
	}
	return []retrieval.Fragment{{
		Source: retrieval.SourceStructured,
		Text: fmt.Sprintf("Total revenue from completed orders is $%.2f across %d orders (sum of stored order totals).",
			rev.TotalRevenue, rev.CompletedOrders),
		Citation: "orders/revenue",
	}}, nil
}

func (s *Store) inventory(ctx context.Context) ([]retrieval.Fragment, error) {
	levels, err := s.q.LowStock(ctx, defaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("listing stock levels: %w", err)
	}
	if len(levels) == 0 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("Stock levels (lowest first):\n")
	for _, l := range levels {
		fmt.Fprintf(&b, "- %s: %d units\n", l.ProductName, l.Quantity)
	}
	return []retrieval.Fragment{{
		Source:   retrieval.SourceStructured,
		Text:     b.String(),
		Citation: "inventory",
	}}, nil
}

func (s *Store) categories(ctx context.Context) ([]retrieval.Fragment, error) {
	counts, err := s.q.CategoryBreakdown(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	if len(counts) == 0 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("Product categories:\n")
	for _, c := range counts {
		fmt.Fprintf(&b, "- %s: %d products\n", c.Name, c.ProductCount)
	}
	return []retrieval.Fragment{{
		Source:   retrieval.SourceStructured,
		Text:     b.String(),
		Citation: "categories",
	}}, nil
}
