package commerce

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxQuerier implements Querier against PostgreSQL using pgx.
// All statements are parameterized SELECTs; the pool's role should be
// restricted to read-only access to the commerce schema.
type PgxQuerier struct {
	pool *pgxpool.Pool
}

// NewPgxQuerier wraps a connection pool.
func NewPgxQuerier(pool *pgxpool.Pool) *PgxQuerier {
	return &PgxQuerier{pool: pool}
}

func (q *PgxQuerier) CountCustomers(ctx context.Context) (int64, error) {
	return q.count(ctx, "SELECT COUNT(*) FROM customers")
}

func (q *PgxQuerier) RecentCustomers(ctx context.Context, limit int32) ([]Customer, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT id, first_name, last_name, email
		 FROM customers ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying customers: %w", err)
	}
	defer rows.Close()

	var out []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email); err != nil {
			return nil, fmt.Errorf("scanning customer: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading customers: %w", err)
	}
	return out, nil
}

func (q *PgxQuerier) CountProducts(ctx context.Context) (int64, error) {
	return q.count(ctx, "SELECT COUNT(*) FROM products")
}

func (q *PgxQuerier) ListProducts(ctx context.Context, limit int32) ([]Product, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT id, name, price::float8, sku
		 FROM products ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.SKU); err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading products: %w", err)
	}
	return out, nil
}

func (q *PgxQuerier) CountOrders(ctx context.Context) (int64, error) {
	return q.count(ctx, "SELECT COUNT(*) FROM orders")
}

func (q *PgxQuerier) OrderByID(ctx context.Context, id int64) (Order, error) {
	var o Order
	err := q.pool.QueryRow(ctx,
		`SELECT id, customer_id, status, COALESCE(total, 0)::float8, order_date
		 FROM orders WHERE id = $1`, id).
		Scan(&o.ID, &o.CustomerID, &o.Status, &o.Total, &o.OrderDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, fmt.Errorf("order %d: %w", id, ErrNotFound)
		}
		return Order{}, fmt.Errorf("querying order %d: %w", id, err)
	}
	return o, nil
}

func (q *PgxQuerier) OrderItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT product_id, quantity, price::float8
		 FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("querying order items: %w", err)
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.Price); err != nil {
			return nil, fmt.Errorf("scanning order item: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading order items: %w", err)
	}
	return out, nil
}

func (q *PgxQuerier) PaymentsForOrder(ctx context.Context, orderID int64) ([]Payment, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT id, method, amount::float8, status
		 FROM payments WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("querying payments: %w", err)
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.Method, &p.Amount, &p.Status); err != nil {
			return nil, fmt.Errorf("scanning payment: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading payments: %w", err)
	}
	return out, nil
}

func (q *PgxQuerier) RecentOrders(ctx context.Context, limit int32) ([]Order, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT id, customer_id, status, COALESCE(total, 0)::float8, order_date
		 FROM orders ORDER BY order_date DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.Status, &o.Total, &o.OrderDate); err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading orders: %w", err)
	}
	return out, nil
}

// Revenue sums stored order totals for completed orders. The stored total
// is the authoritative figure; line items are deliberately not involved.
func (q *PgxQuerier) Revenue(ctx context.Context) (RevenueSummary, error) {
	var rev RevenueSummary
	err := q.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total), 0)::float8, COUNT(*)
		 FROM orders WHERE status = 'completed'`).
		Scan(&rev.TotalRevenue, &rev.CompletedOrders)
	if err != nil {
		return RevenueSummary{}, fmt.Errorf("querying revenue: %w", err)
	}
	return rev, nil
}

func (q *PgxQuerier) LowStock(ctx context.Context, limit int32) ([]StockLevel, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT p.name, i.quantity
		 FROM inventory i JOIN products p ON i.product_id = p.id
		 ORDER BY i.quantity ASC, p.id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying inventory: %w", err)
	}
	defer rows.Close()

	var out []StockLevel
	for rows.Next() {
		var l StockLevel
		if err := rows.Scan(&l.ProductName, &l.Quantity); err != nil {
			return nil, fmt.Errorf("scanning stock level: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	return out, nil
}

func (q *PgxQuerier) CategoryBreakdown(ctx context.Context) ([]CategoryCount, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT c.name, COUNT(p.id)
		 FROM categories c LEFT JOIN products p ON c.id = p.category_id
		 GROUP BY c.id, c.name ORDER BY COUNT(p.id) DESC, c.name`)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	defer rows.Close()

	var out []CategoryCount
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Name, &c.ProductCount); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading categories: %w", err)
	}
	return out, nil
}

func (q *PgxQuerier) count(ctx context.Context, sql string) (int64, error) {
	var n int64
	if err := q.pool.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rows: %w", err)
	}
	return n, nil
}
