package redis

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"

	"tradecore/internal/risk"
	"tradecore/pkg/errors"
)

var (
	_ risk.KillSwitchStore = (*KillSwitchRepository)(nil)
	_ risk.PeakStore       = (*KillSwitchRepository)(nil)
)

const (
	killSwitchKey = "risk:kill_switch"
	peakKey       = "risk:peak_capital"
)

// KillSwitchRepository persists the kill switch and the drawdown peak so
// both survive restarts
type KillSwitchRepository struct {
	client *redis.Client
}

func NewKillSwitchRepository(client *redis.Client) *KillSwitchRepository {
	return &KillSwitchRepository{client: client}
}

func (r *KillSwitchRepository) Save(ctx context.Context, state *risk.KillSwitchState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "failed to marshal kill switch state")
	}
	// no TTL: only an explicit reset clears it
	if err := r.client.Set(ctx, killSwitchKey, data, 0).Err(); err != nil {
		return errors.Wrap(err, "failed to save kill switch to redis")
	}
	return nil
}

func (r *KillSwitchRepository) Load(ctx context.Context) (*risk.KillSwitchState, error) {
	data, err := r.client.Get(ctx, killSwitchKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get kill switch from redis")
	}

	var state risk.KillSwitchState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal kill switch state")
	}
	return &state, nil
}

func (r *KillSwitchRepository) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, killSwitchKey).Err(); err != nil {
		return errors.Wrap(err, "failed to delete kill switch from redis")
	}
	return nil
}

// SavePeak stores the drawdown peak. No TTL; only a kill switch reset rebases it.
func (r *KillSwitchRepository) SavePeak(ctx context.Context, peak float64) error {
	if peak <= 0 {
		return errors.NewValidationError("peak", "must be positive", peak)
	}
	if err := r.client.Set(ctx, peakKey, strconv.FormatFloat(peak, 'f', -1, 64), 0).Err(); err != nil {
		return errors.Wrap(err, "failed to save drawdown peak to redis")
	}
	return nil
}

func (r *KillSwitchRepository) LoadPeak(ctx context.Context) (float64, error) {
	peak, err := r.client.Get(ctx, peakKey).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to get drawdown peak from redis")
	}
	return peak, nil
}
