package clickhouse

import (
	"context"
	"database/sql"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"tradecore/internal/domain/regime"
	"tradecore/internal/metrics"
	"tradecore/internal/risk"
	"tradecore/pkg/errors"
)

var _ risk.RegimeProvider = (*RegimeRepository)(nil)

// RegimeRepository reads the latest classification written by the regime
// detector into ClickHouse
type RegimeRepository struct {
	conn  driver.Conn
	table string
}

func NewRegimeRepository(conn driver.Conn) *RegimeRepository {
	return &RegimeRepository{conn: conn, table: "market_regimes"}
}

// WithTable points the repository at another table, for tests
func (r *RegimeRepository) WithTable(table string) *RegimeRepository {
	r.table = table
	return r
}

// GetRegime returns the newest regime row for symbol
func (r *RegimeRepository) GetRegime(ctx context.Context, symbol string) (*regime.Regime, error) {
	query := `
		SELECT symbol, timestamp, regime, confidence
		FROM ` + r.table + `
		WHERE symbol = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var (
		reg   regime.Regime
		label string
		ts    time.Time
	)
	err := r.conn.QueryRow(ctx, query, symbol).Scan(&reg.Symbol, &ts, &label, &reg.Confidence)
	metrics.RecordDBQuery("clickhouse", "regime_latest", err)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "no regime for %s", symbol)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get regime for %s", symbol)
	}

	reg.Label = regime.Label(label)
	reg.Timestamp = ts
	return &reg, nil
}
