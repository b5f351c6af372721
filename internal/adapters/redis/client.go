package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"tradecore/internal/adapters/config"
	"tradecore/internal/metrics"
	"tradecore/pkg/errors"
)

const dialTimeout = 5 * time.Second

// Client holds the connection used for portfolio snapshots and the kill switch flag.
// Both are small hot keys, so the pool stays small and reads fail fast.
type Client struct {
	rdb *redis.Client
}

func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     8,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redis ping %s", cfg.Addr())
	}

	return &Client{rdb: rdb}, nil
}

func (c *Client) Client() *redis.Client {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health pings Redis and records the outcome under the "redis" database label
func (c *Client) Health(ctx context.Context) error {
	err := c.rdb.Ping(ctx).Err()
	metrics.RecordDBQuery("redis", "ping", err)
	if err != nil {
		return errors.Wrapf(errors.ErrUnavailable, "redis ping: %v", err)
	}
	return nil
}
