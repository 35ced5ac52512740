package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testDSNEnv указывает строку подключения к PostgreSQL для интеграционных тестов.
const testDSNEnv = "SHOP_TEST_POSTGRES_DSN"

func openRawStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	dsn := strings.TrimSpace(os.Getenv(testDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set", testDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn, WithLockTimeout(500*time.Millisecond))
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func openStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	store := openRawStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, store.MigrateUp(ctx, 0))

	_, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE
			idempotency_keys,
			outbox_messages,
			tier_history,
			order_timeline,
			order_items,
			user_coupons,
			orders,
			coupons,
			cart_items,
			inventory_history,
			products,
			users
		RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err)
	return store
}

func execSQL(t *testing.T, store *Store, query string, args ...any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := store.DB().ExecContext(ctx, query, args...)
	require.NoError(t, err)
}

func seedUser(t *testing.T, store *Store, id, totalSpent, points int64, level int) {
	t.Helper()
	execSQL(t, store, `INSERT INTO users (id, total_spent, point_balance, tier_level) VALUES ($1,$2,$3,$4)`,
		id, totalSpent, points, level)
}

func seedProduct(t *testing.T, store *Store, id, price, stock int64) {
	t.Helper()
	execSQL(t, store, `INSERT INTO products (id, name, price, stock_quantity) VALUES ($1,$2,$3,$4)`,
		id, "product", price, stock)
}

func seedCartItem(t *testing.T, store *Store, userID, productID, quantity int64) {
	t.Helper()
	execSQL(t, store, `INSERT INTO cart_items (user_id, product_id, quantity) VALUES ($1,$2,$3)`,
		userID, productID, quantity)
}
