package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// openIntegrationStore подключается к базе из SALES_POSTGRES_TEST_DSN
// и пропускает тест, если база недоступна.
func openIntegrationStore(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("SALES_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("SALES_POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available for integration tests: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx,
		`TRUNCATE TABLE outbox_messages, order_items, orders RESTART IDENTITY CASCADE`,
	); err != nil {
		t.Fatalf("truncate integration tables: %v", err)
	}
	return store
}
