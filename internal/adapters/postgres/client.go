package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"tradecore/internal/adapters/config"
	"tradecore/internal/metrics"
	"tradecore/pkg/errors"
)

const connectTimeout = 10 * time.Second

// Client owns the Postgres pool backing the decision audit trail.
// Audit writes are append-only and bursty, so idle connections are kept warm
// but recycled often.
type Client struct {
	db *sqlx.DB
}

func NewClient(cfg config.PostgresConfig) (*Client, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(1, maxConns/2))
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "postgres ping %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	}

	return &Client{db: db}, nil
}

func (c *Client) DB() *sqlx.DB {
	return c.db
}

func (c *Client) Close() error {
	return c.db.Close()
}

// Health pings the pool and records the outcome under the "postgres" label
func (c *Client) Health(ctx context.Context) error {
	err := c.db.PingContext(ctx)
	metrics.RecordDBQuery("postgres", "ping", err)
	if err != nil {
		return errors.Wrapf(errors.ErrUnavailable, "postgres ping: %v", err)
	}
	return nil
}
