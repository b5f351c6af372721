package redis

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"

	"tradecore/internal/domain/portfolio"
	"tradecore/internal/domain/trading"
	"tradecore/pkg/errors"
)

var _ portfolio.SnapshotStore = (*PortfolioRepository)(nil)

const (
	capitalKey   = "portfolio:capital"
	positionsKey = "portfolio:positions"
)

// PortfolioRepository serves the shared capital/positions snapshot that an
// external portfolio service publishes into Redis
type PortfolioRepository struct {
	client *redis.Client
}

func NewPortfolioRepository(client *redis.Client) *PortfolioRepository {
	return &PortfolioRepository{client: client}
}

// GetCapital returns total portfolio value. A missing key is ErrNotFound.
func (r *PortfolioRepository) GetCapital(ctx context.Context) (float64, error) {
	raw, err := r.client.Get(ctx, capitalKey).Result()
	if err == redis.Nil {
		return 0, errors.Wrapf(errors.ErrNotFound, "key %s", capitalKey)
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to get capital from redis")
	}

	capital, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed capital %q", raw)
	}
	return capital, nil
}

// GetPositions returns open holdings; none stored means an empty book
func (r *PortfolioRepository) GetPositions(ctx context.Context) ([]trading.PositionSnapshot, error) {
	data, err := r.client.Get(ctx, positionsKey).Bytes()
	if err == redis.Nil {
		return []trading.PositionSnapshot{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get positions from redis")
	}

	var positions []trading.PositionSnapshot
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal positions")
	}
	return positions, nil
}

func (r *PortfolioRepository) SetCapital(ctx context.Context, capital float64) error {
	if capital < 0 {
		return errors.NewValidationError("capital", "must not be negative", capital)
	}
	value := strconv.FormatFloat(capital, 'f', -1, 64)
	if err := r.client.Set(ctx, capitalKey, value, 0).Err(); err != nil {
		return errors.Wrap(err, "failed to save capital to redis")
	}
	return nil
}

func (r *PortfolioRepository) SetPositions(ctx context.Context, positions []trading.PositionSnapshot) error {
	if positions == nil {
		positions = []trading.PositionSnapshot{}
	}
	data, err := json.Marshal(positions)
	if err != nil {
		return errors.Wrap(err, "failed to marshal positions")
	}
	if err := r.client.Set(ctx, positionsKey, data, 0).Err(); err != nil {
		return errors.Wrap(err, "failed to save positions to redis")
	}
	return nil
}
