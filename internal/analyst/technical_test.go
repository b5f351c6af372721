package analyst

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/bus"
	"tradecore/internal/bus/bustest"
	"tradecore/internal/domain/trading"
	"tradecore/pkg/errors"
)

type fakeIndicators struct {
	values map[string]map[string]float64
	err    map[string]error
	calls  int
}

func (f *fakeIndicators) CalculateIndicators(ctx context.Context, symbol string, names []string) (map[string]float64, error) {
	f.calls++
	if err := f.err[symbol]; err != nil {
		return nil, err
	}
	return f.values[symbol], nil
}

func newTestAnalyst(t *testing.T, ind *fakeIndicators, symbols ...string) (*TechnicalAnalyst, *bustest.Broker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	b := bustest.NewBroker()
	a := NewTechnicalAnalyst(Config{
		Symbols: symbols,
		Sectors: map[string]string{"AAPL": "tech"},
	}, Deps{Bus: b, Indicators: ind}).WithClock(func() time.Time { return now })
	require.NoError(t, a.Setup(context.Background()))
	return a, b, &now
}

func TestEvaluate(t *testing.T) {
	a, _, _ := newTestAnalyst(t, &fakeIndicators{})

	tests := []struct {
		name       string
		values     map[string]float64
		direction  trading.Direction
		confidence float64
		stop       float64
		target     float64
	}{
		{
			name:       "oversold goes long",
			values:     map[string]float64{"rsi": 15, "atr": 2.5, "close": 150},
			direction:  trading.DirectionLong,
			confidence: 0.75,
			stop:       145,
			target:     157.5,
		},
		{
			name:       "overbought goes short",
			values:     map[string]float64{"rsi": 85, "atr": 2, "close": 100},
			direction:  trading.DirectionShort,
			confidence: 0.75,
			stop:       104,
			target:     94,
		},
		{
			name:   "neutral",
			values: map[string]float64{"rsi": 50, "atr": 2, "close": 100},
		},
		{
			name:   "missing atr",
			values: map[string]float64{"rsi": 10, "close": 100},
		},
		{
			name:   "atr larger than price",
			values: map[string]float64{"rsi": 10, "atr": 80, "close": 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := a.Evaluate("AAPL", tt.values)
			if tt.direction == "" {
				assert.Nil(t, sig)
				return
			}
			require.NotNil(t, sig)
			require.NoError(t, sig.Validate())
			assert.Equal(t, tt.direction, sig.Direction)
			assert.InDelta(t, tt.confidence, sig.Confidence, 1e-9)
			assert.InDelta(t, tt.stop, sig.StopLoss, 1e-9)
			assert.InDelta(t, tt.target, sig.TakeProfit, 1e-9)
			assert.Equal(t, "tech", sig.Sector)
			assert.Equal(t, AgentType, sig.AgentType)
		})
	}
}

func TestProcess_PublishesOnceWithinCooldown(t *testing.T) {
	ind := &fakeIndicators{values: map[string]map[string]float64{
		"AAPL": {"rsi": 20, "atr": 2, "close": 150},
	}}
	a, b, _ := newTestAnalyst(t, ind, "AAPL")
	ctx := context.Background()

	require.NoError(t, a.Process(ctx))
	require.NoError(t, a.Process(ctx))

	sigs := bustest.PublishedAs[trading.TradingSignal](b, bus.TopicSignals)
	require.Len(t, sigs, 1)
	assert.Equal(t, "AAPL", sigs[0].Symbol)
	assert.Equal(t, 2, ind.calls)
}

func TestProcess_PublishFailureAllowsRetry(t *testing.T) {
	ind := &fakeIndicators{values: map[string]map[string]float64{
		"AAPL": {"rsi": 20, "atr": 2, "close": 150},
	}}
	a, b, _ := newTestAnalyst(t, ind, "AAPL")
	ctx := context.Background()

	b.FailPublish(bus.TopicSignals, errors.ErrUnavailable)
	assert.ErrorIs(t, a.Process(ctx), errors.ErrUnavailable)

	b.FailPublish(bus.TopicSignals, nil)
	require.NoError(t, a.Process(ctx))
	assert.Len(t, b.Published(bus.TopicSignals), 1)
}

func TestProcess_PartialFailureIsNotAnError(t *testing.T) {
	ind := &fakeIndicators{
		values: map[string]map[string]float64{"MSFT": {"rsi": 50, "atr": 2, "close": 400}},
		err:    map[string]error{"AAPL": errors.ErrTimeout},
	}
	a, _, _ := newTestAnalyst(t, ind, "AAPL", "MSFT")

	assert.NoError(t, a.Process(context.Background()))

	ind.err["MSFT"] = errors.ErrTimeout
	assert.ErrorIs(t, a.Process(context.Background()), errors.ErrTimeout)
}

func TestSetup_RequiresIndicators(t *testing.T) {
	a := NewTechnicalAnalyst(Config{}, Deps{Bus: bustest.NewBroker()})
	assert.ErrorIs(t, a.Setup(context.Background()), errors.ErrInvalidInput)
}
