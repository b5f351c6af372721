package audit

import (
	"context"
	"sync"

	domain "tradecore/internal/domain/audit"
	"tradecore/internal/metrics"
	"tradecore/pkg/logger"
)

const defaultCapacity = 1000

// Log is the in-memory audit trail. It keeps the most recent records up to
// capacity and optionally mirrors every record to a durable store.
type Log struct {
	capacity int
	store    domain.Store
	log      *logger.Logger

	mu      sync.RWMutex
	records []domain.Record
}

func NewLog(capacity int, store domain.Store) *Log {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Log{
		capacity: capacity,
		store:    store,
		log:      logger.Get().With("component", "audit_log"),
		records:  make([]domain.Record, 0, capacity),
	}
}

// Append records one terminal outcome. A durable store failure is logged;
// the in-memory trail always receives the record.
func (l *Log) Append(ctx context.Context, rec domain.Record) {
	l.mu.Lock()
	if len(l.records) == l.capacity {
		copy(l.records, l.records[1:])
		l.records = l.records[:len(l.records)-1]
	}
	l.records = append(l.records, rec)
	l.mu.Unlock()

	metrics.OrchestratorOutcomes.WithLabelValues(rec.Action.String()).Inc()

	l.log.Infow("Audit",
		"action", rec.Action,
		"symbol", rec.Symbol,
		"direction", rec.Direction,
		"agent", rec.Agent,
		"confidence", rec.Confidence,
		"score", rec.Score,
		"size", rec.Size,
		"reason", rec.Reason,
	)

	if l.store == nil {
		return
	}
	if err := l.store.Append(ctx, &rec); err != nil {
		l.log.Errorw("Failed to persist audit record", "request_id", rec.RequestID, "error", err)
	}
}

// Recent returns up to n of the newest records, oldest first. n <= 0 returns all.
func (l *Log) Recent(n int) []domain.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := 0
	if n > 0 && n < len(l.records) {
		start = len(l.records) - n
	}
	out := make([]domain.Record, len(l.records)-start)
	copy(out, l.records[start:])
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
