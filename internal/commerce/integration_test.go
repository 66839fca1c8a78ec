//go:build integration

package commerce_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shoptalk/shoptalk/internal/commerce"
	"github.com/shoptalk/shoptalk/internal/log"
	"github.com/shoptalk/shoptalk/internal/router"
	"github.com/shoptalk/shoptalk/internal/testutil"
)

func seedCommerce(t *testing.T, db *testutil.TestDB) {
	t.Helper()
	ctx := context.Background()

	stmts := []string{
		`INSERT INTO customers (id, first_name, last_name, email) VALUES
		 (1, 'Ada', 'Lovelace', 'ada@example.com'),
		 (2, 'Alan', 'Turing', 'alan@example.com')`,
		`INSERT INTO categories (id, name) VALUES (1, 'Widgets')`,
		`INSERT INTO products (id, name, price, sku, category_id) VALUES
		 (1, 'Blue Widget', 19.99, 'SKU-001', 1),
		 (2, 'Red Widget', 24.99, 'SKU-002', 1)`,
		`INSERT INTO orders (id, customer_id, status, total, order_date) VALUES
		 (7, 1, 'completed', 199.99, now() - interval '1 day'),
		 (8, 2, 'pending', 24.99, now())`,
		`INSERT INTO order_items (order_id, product_id, quantity, price) VALUES
		 (7, 1, 2, 19.99),
		 (7, 2, 1, 24.99)`,
		`INSERT INTO payments (order_id, method, amount, status) VALUES
		 (7, 'card', 199.99, 'captured')`,
		`INSERT INTO inventory (product_id, quantity) VALUES (1, 3), (2, 120)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}
}

func TestPgxQuerier(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db := testutil.SetupTestDB(t)
	seedCommerce(t, db)

	ctx := context.Background()
	q := commerce.NewPgxQuerier(db.Pool)

	t.Run("counts", func(t *testing.T) {
		customers, err := q.CountCustomers(ctx)
		if err != nil || customers != 2 {
			t.Errorf("CountCustomers() = %d, %v", customers, err)
		}
		orders, err := q.CountOrders(ctx)
		if err != nil || orders != 2 {
			t.Errorf("CountOrders() = %d, %v", orders, err)
		}
	})

	t.Run("order with stored total", func(t *testing.T) {
		order, err := q.OrderByID(ctx, 7)
		if err != nil {
			t.Fatalf("OrderByID() error: %v", err)
		}
		// Line items sum to 64.97 but the stored total wins.
		if order.Total != 199.99 {
			t.Errorf("Total = %v, want 199.99", order.Total)
		}
		items, err := q.OrderItems(ctx, 7)
		if err != nil || len(items) != 2 {
			t.Errorf("OrderItems() = %d items, %v", len(items), err)
		}
	})

	t.Run("missing order", func(t *testing.T) {
		_, err := q.OrderByID(ctx, 999)
		if !errors.Is(err, commerce.ErrNotFound) {
			t.Errorf("OrderByID(999) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("revenue from completed orders only", func(t *testing.T) {
		rev, err := q.Revenue(ctx)
		if err != nil {
			t.Fatalf("Revenue() error: %v", err)
		}
		if rev.TotalRevenue != 199.99 || rev.CompletedOrders != 1 {
			t.Errorf("Revenue() = %+v", rev)
		}
	})

	t.Run("low stock ordered ascending", func(t *testing.T) {
		levels, err := q.LowStock(ctx, 10)
		if err != nil {
			t.Fatalf("LowStock() error: %v", err)
		}
		if len(levels) != 2 || levels[0].ProductName != "Blue Widget" || levels[0].Quantity != 3 {
			t.Errorf("LowStock() = %+v", levels)
		}
	})
}

func TestRetrieveAgainstDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db := testutil.SetupTestDB(t)
	seedCommerce(t, db)

	store := commerce.New(commerce.NewPgxQuerier(db.Pool), 5*time.Second, log.NewNop())
	frags, err := store.Retrieve(context.Background(), router.StructuredHint{
		Topic:   router.TopicOrders,
		OrderID: 7,
	})
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(frags) == 0 {
		t.Fatal("no fragments returned")
	}
	found := false
	for _, f := range frags {
		if f.Citation == "orders/7" {
			found = true
		}
	}
	if !found {
		t.Errorf("no orders/7 citation in %+v", frags)
	}
}
