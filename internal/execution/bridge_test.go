package execution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/bus"
	"tradecore/internal/bus/bustest"
	"tradecore/internal/domain/position"
	"tradecore/internal/domain/trading"
	"tradecore/pkg/errors"
)

type recordingRegistrar struct {
	orders map[string]*position.PendingOrder
}

func (r *recordingRegistrar) AddPendingOrder(o *position.PendingOrder) error {
	if _, ok := r.orders[o.OrderID]; ok {
		return errors.Wrapf(errors.ErrDuplicate, "order %s", o.OrderID)
	}
	r.orders[o.OrderID] = o
	return nil
}

type fixedPrice decimal.Decimal

func (p fixedPrice) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Decimal(p), nil
}

func decision(entry float64) *trading.Decision {
	return &trading.Decision{
		DecisionID: "dec-1",
		RequestID:  "req-1",
		Signal: trading.TradingSignal{
			Symbol:     "AAPL",
			Direction:  trading.DirectionLong,
			Confidence: 0.9,
			EntryPrice: entry,
			StopLoss:   145,
			TakeProfit: 165,
		},
		Action: trading.ActionExecute,
		Size:   40,
	}
}

func TestBridge_DecisionBecomesOrder(t *testing.T) {
	b := bustest.NewBroker()
	reg := &recordingRegistrar{orders: map[string]*position.PendingOrder{}}
	bridge := NewBridge(b, reg, nil, time.Hour)
	now := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	bridge.now = func() time.Time { return now }

	require.NoError(t, bridge.Register(context.Background()))
	require.NoError(t, b.Deliver(context.Background(), bus.TopicDecisions, decision(150)))

	o, ok := reg.orders["dec-1"]
	require.True(t, ok)
	assert.True(t, o.LimitPrice.Equal(decimal.NewFromInt(150)))
	assert.True(t, o.Quantity.Equal(decimal.NewFromInt(40)))
	assert.True(t, o.StopLoss.Equal(decimal.NewFromInt(145)))
	assert.True(t, o.TakeProfit.Equal(decimal.NewFromInt(165)))
	assert.Equal(t, now.Add(time.Hour), o.ExpiresAt)

	// redelivery is tolerated
	require.NoError(t, bridge.HandleDecision(context.Background(), decision(150)))
	assert.Len(t, reg.orders, 1)
}

func TestBridge_MarketDecision(t *testing.T) {
	reg := &recordingRegistrar{orders: map[string]*position.PendingOrder{}}

	noPrices := NewBridge(bustest.NewBroker(), reg, nil, 0)
	err := noPrices.HandleDecision(context.Background(), decision(0))
	assert.ErrorIs(t, err, errors.ErrUnavailable)
	assert.Empty(t, reg.orders)

	quoted := NewBridge(bustest.NewBroker(), reg, fixedPrice(decimal.NewFromFloat(151.5)), 0)
	require.NoError(t, quoted.HandleDecision(context.Background(), decision(0)))
	assert.True(t, reg.orders["dec-1"].LimitPrice.Equal(decimal.NewFromFloat(151.5)))
	assert.True(t, reg.orders["dec-1"].ExpiresAt.IsZero())
}

func TestBridge_SkipsNonExecutable(t *testing.T) {
	reg := &recordingRegistrar{orders: map[string]*position.PendingOrder{}}
	bridge := NewBridge(bustest.NewBroker(), reg, nil, 0)

	d := decision(150)
	d.Action = trading.ActionNone
	require.NoError(t, bridge.HandleDecision(context.Background(), d))

	d = decision(150)
	d.Size = 0
	require.NoError(t, bridge.HandleDecision(context.Background(), d))
	assert.Empty(t, reg.orders)
}
