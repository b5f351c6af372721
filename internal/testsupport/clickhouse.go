package testsupport

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"tradecore/internal/adapters/clickhouse"
)

// Column sets matching the production tables, for scratch copies in tests
const (
	RegimeColumns       = "symbol String, timestamp DateTime, regime String, confidence Float64"
	MonitorEventColumns = "id String, event_type String, symbol String, ref_id String, price Float64, detail String, timestamp DateTime64(3)"
)

type ClickHouseTestHelper struct {
	client *clickhouse.Client
}

// NewTestClickHouse connects to the env-configured server or skips the test
func NewTestClickHouse(t *testing.T) *ClickHouseTestHelper {
	t.Helper()

	client, err := clickhouse.NewClient(ClickHouseConfigFromEnv(t))
	if err != nil {
		t.Fatalf("connect clickhouse: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return &ClickHouseTestHelper{client: client}
}

// ScratchTable creates a uniquely named MergeTree table with the given
// columns, ordered by its first column, and drops it at cleanup
func (h *ClickHouseTestHelper) ScratchTable(t *testing.T, columns string) string {
	t.Helper()

	table := "scratch_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	orderBy := strings.Fields(columns)[0]
	ddl := fmt.Sprintf("CREATE TABLE %s (%s) ENGINE = MergeTree() ORDER BY %s", table, columns, orderBy)
	if err := h.client.Exec(context.Background(), ddl); err != nil {
		t.Fatalf("create %s: %v", table, err)
	}

	t.Cleanup(func() {
		_ = h.client.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
	})
	return table
}

func (h *ClickHouseTestHelper) Client() *clickhouse.Client {
	return h.client
}
