package postgres

import (
	"context"

	domain "tradecore/internal/domain/audit"
	"tradecore/internal/metrics"
	"tradecore/pkg/errors"
)

// Compile-time check
var _ domain.Store = (*AuditRepository)(nil)

// AuditSchema creates the decision audit table
const AuditSchema = `
	CREATE TABLE IF NOT EXISTS decision_audit (
		id          BIGSERIAL PRIMARY KEY,
		created_at  TIMESTAMPTZ NOT NULL,
		request_id  TEXT NOT NULL DEFAULT '',
		symbol      TEXT NOT NULL,
		direction   TEXT NOT NULL,
		agent       TEXT NOT NULL,
		confidence  DOUBLE PRECISION NOT NULL,
		score       DOUBLE PRECISION NOT NULL,
		action      TEXT NOT NULL,
		size        DOUBLE PRECISION NOT NULL DEFAULT 0,
		reason      TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_decision_audit_created_at ON decision_audit (created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_decision_audit_symbol ON decision_audit (symbol, created_at DESC);`

// AuditRepository is the durable append-only sink behind the in-memory audit log
type AuditRepository struct {
	db DBTX
}

func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// EnsureSchema creates the audit table when missing
func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, AuditSchema); err != nil {
		return errors.Wrap(err, "failed to create decision_audit table")
	}
	return nil
}

func (r *AuditRepository) Append(ctx context.Context, rec *domain.Record) error {
	query := `
		INSERT INTO decision_audit (
			created_at, request_id, symbol, direction, agent,
			confidence, score, action, size, reason
		) VALUES (
			:created_at, :request_id, :symbol, :direction, :agent,
			:confidence, :score, :action, :size, :reason
		)`

	_, err := r.db.NamedExecContext(ctx, query, rec)
	metrics.RecordDBQuery("postgres", "audit_append", err)
	if err != nil {
		return errors.Wrapf(err, "failed to append audit record for %s", rec.Symbol)
	}
	return nil
}

// Recent returns up to limit newest records, newest first
func (r *AuditRepository) Recent(ctx context.Context, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT created_at, request_id, symbol, direction, agent,
		       confidence, score, action, size, reason
		FROM decision_audit
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	var records []domain.Record
	err := r.db.SelectContext(ctx, &records, query, limit)
	metrics.RecordDBQuery("postgres", "audit_recent", err)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit records")
	}
	return records, nil
}
