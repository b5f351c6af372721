package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"tradecore/internal/adapters/config"
	"tradecore/internal/metrics"
	"tradecore/pkg/errors"
)

const dialTimeout = 10 * time.Second

// Client owns the ClickHouse connection used for the monitor event archive
// and the optional regime table.
type Client struct {
	conn driver.Conn
}

func NewClient(cfg config.ClickHouseConfig) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: dialTimeout,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "open clickhouse")
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "clickhouse ping %s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	}

	return &Client{conn: conn}, nil
}

func (c *Client) Conn() driver.Conn {
	return c.conn
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Health pings the server and records the outcome under the "clickhouse" label
func (c *Client) Health(ctx context.Context) error {
	err := c.conn.Ping(ctx)
	metrics.RecordDBQuery("clickhouse", "ping", err)
	if err != nil {
		return errors.Wrapf(errors.ErrUnavailable, "clickhouse ping: %v", err)
	}
	return nil
}

func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}
