package postgres

import (
	"context"
	"database/sql"
)

// DBTX is the subset of sqlx used by the audit repository. *sqlx.DB serves
// production and *sqlx.Tx serves rolled-back integration tests.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}
