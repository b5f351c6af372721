package testsupport

import (
	"context"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"tradecore/internal/adapters/postgres"
)

// testStatementTimeout keeps a hung integration query from stalling the suite
const testStatementTimeout = "5s"

// PostgresTestHelper runs a test inside one transaction that is rolled back
// at cleanup, so audit rows written by the test never persist
type PostgresTestHelper struct {
	client   *postgres.Client
	tx       *sqlx.Tx
	rollback sync.Once
}

// NewTestPostgres skips unless the Postgres env is set, then opens the
// test transaction through the production adapter
func NewTestPostgres(t *testing.T) *PostgresTestHelper {
	t.Helper()

	client, err := postgres.NewClient(PostgresConfigFromEnv(t))
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	ctx := context.Background()
	tx, err := client.DB().BeginTxx(ctx, nil)
	if err != nil {
		_ = client.Close()
		t.Fatalf("begin test transaction: %v", err)
	}
	if _, err := tx.ExecContext(ctx, "SET LOCAL statement_timeout = '"+testStatementTimeout+"'"); err != nil {
		_ = tx.Rollback()
		_ = client.Close()
		t.Fatalf("set statement timeout: %v", err)
	}

	h := &PostgresTestHelper{client: client, tx: tx}
	t.Cleanup(func() {
		h.Rollback()
		_ = client.Close()
	})
	return h
}

func (h *PostgresTestHelper) Tx() *sqlx.Tx {
	return h.tx
}

// Rollback discards everything the test wrote. Safe to call more than once.
func (h *PostgresTestHelper) Rollback() {
	h.rollback.Do(func() { _ = h.tx.Rollback() })
}
