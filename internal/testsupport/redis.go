package testsupport

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"

	redisclient "tradecore/internal/adapters/redis"
)

// stateKeyPatterns covers every key the portfolio and kill switch stores write
var stateKeyPatterns = []string{"portfolio:*", "risk:*"}

// NewTestRedis connects through the production adapter and clears trading
// state keys before and after the test. Other keys in the database are left alone.
func NewTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client, err := redisclient.NewClient(RedisConfigFromEnv(t))
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	rdb := client.Client()

	clearState(t, rdb)
	t.Cleanup(func() {
		clearState(t, rdb)
		_ = client.Close()
	})
	return rdb
}

func clearState(t *testing.T, rdb *redis.Client) {
	t.Helper()
	ctx := context.Background()

	for _, pattern := range stateKeyPatterns {
		iter := rdb.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := rdb.Del(ctx, iter.Val()).Err(); err != nil {
				t.Fatalf("clear %s: %v", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			t.Fatalf("scan %s: %v", pattern, err)
		}
	}
}
