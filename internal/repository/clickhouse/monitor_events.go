package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"tradecore/internal/domain/position"
	"tradecore/internal/metrics"
	"tradecore/internal/monitor"
	"tradecore/pkg/clickhouse"
	"tradecore/pkg/errors"
)

var _ monitor.EventSink = (*MonitorEventArchive)(nil)

// MonitorEventSchema creates the archive table
const MonitorEventSchema = `
	CREATE TABLE IF NOT EXISTS monitor_events (
		id         String,
		event_type LowCardinality(String),
		symbol     LowCardinality(String),
		ref_id     String,
		price      Float64,
		detail     String,
		timestamp  DateTime64(3)
	) ENGINE = MergeTree()
	ORDER BY (symbol, timestamp)`

type eventRow struct {
	ID        string    `ch:"id"`
	Type      string    `ch:"event_type"`
	Symbol    string    `ch:"symbol"`
	RefID     string    `ch:"ref_id"`
	Price     float64   `ch:"price"`
	Detail    string    `ch:"detail"`
	Timestamp time.Time `ch:"timestamp"`
}

func toRow(ev position.MonitorEvent) eventRow {
	return eventRow{
		ID:        ev.ID,
		Type:      ev.Type.String(),
		Symbol:    ev.Symbol,
		RefID:     ev.RefID,
		Price:     ev.Price.InexactFloat64(),
		Detail:    ev.Detail,
		Timestamp: ev.Timestamp,
	}
}

// MonitorEventArchive buffers position monitor events and writes them to
// ClickHouse in batches
type MonitorEventArchive struct {
	conn   driver.Conn
	table  string
	writer *clickhouse.BatchWriter[eventRow]
}

type ArchiveConfig struct {
	Table         string
	BatchSize     int
	FlushInterval time.Duration
}

func NewMonitorEventArchive(conn driver.Conn, cfg ArchiveConfig) *MonitorEventArchive {
	if cfg.Table == "" {
		cfg.Table = "monitor_events"
	}
	a := &MonitorEventArchive{conn: conn, table: cfg.Table}
	a.writer = clickhouse.NewBatchWriter(clickhouse.BatchWriterConfig[eventRow]{
		FlushFunc:    a.insert,
		TableName:    cfg.Table,
		MaxBatchSize: cfg.BatchSize,
		MaxAge:       cfg.FlushInterval,
	})
	return a
}

// EnsureSchema creates the archive table when missing
func (a *MonitorEventArchive) EnsureSchema(ctx context.Context) error {
	if a.table != "monitor_events" {
		return nil
	}
	if err := a.conn.Exec(ctx, MonitorEventSchema); err != nil {
		return errors.Wrap(err, "failed to create monitor_events table")
	}
	return nil
}

// Start runs the periodic flush loop
func (a *MonitorEventArchive) Start(ctx context.Context) {
	a.writer.Start(ctx)
}

// Stop flushes what is buffered and ends the flush loop
func (a *MonitorEventArchive) Stop(ctx context.Context) error {
	return a.writer.Stop(ctx)
}

// Record queues events; a failed size-triggered flush keeps them buffered
func (a *MonitorEventArchive) Record(ctx context.Context, events []position.MonitorEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]eventRow, 0, len(events))
	for _, ev := range events {
		rows = append(rows, toRow(ev))
	}
	return a.writer.Add(ctx, rows...)
}

// Flush forces buffered events out
func (a *MonitorEventArchive) Flush(ctx context.Context) error {
	return a.writer.Flush(ctx)
}

func (a *MonitorEventArchive) insert(ctx context.Context, rows []eventRow) error {
	batch, err := a.conn.PrepareBatch(ctx, "INSERT INTO "+a.table)
	if err != nil {
		metrics.RecordDBQuery("clickhouse", "monitor_events_insert", err)
		return errors.Wrap(err, "prepare monitor events batch")
	}
	for i := range rows {
		if err := batch.AppendStruct(&rows[i]); err != nil {
			_ = batch.Abort()
			return errors.Wrap(err, "append monitor event")
		}
	}
	err = batch.Send()
	metrics.RecordDBQuery("clickhouse", "monitor_events_insert", err)
	if err != nil {
		return errors.Wrapf(err, "send %d monitor events", len(rows))
	}
	return nil
}
