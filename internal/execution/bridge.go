package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/bus"
	"tradecore/internal/domain/position"
	"tradecore/internal/domain/trading"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

// OrderRegistrar accepts limit orders for monitoring
type OrderRegistrar interface {
	AddPendingOrder(order *position.PendingOrder) error
}

// PriceSource quotes a limit price for decisions on market signals
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Bridge turns executable decisions into pending limit orders
type Bridge struct {
	bus    bus.Broker
	orders OrderRegistrar
	prices PriceSource
	ttl    time.Duration
	log    *logger.Logger
	now    func() time.Time
}

// NewBridge builds a bridge. prices may be nil, in which case decisions
// without an entry price are skipped.
func NewBridge(b bus.Broker, orders OrderRegistrar, prices PriceSource, ttl time.Duration) *Bridge {
	return &Bridge{
		bus:    b,
		orders: orders,
		prices: prices,
		ttl:    ttl,
		log:    logger.Get().With("component", "execution_bridge"),
		now:    time.Now,
	}
}

// Register subscribes the bridge to decisions
func (b *Bridge) Register(ctx context.Context) error {
	return b.bus.Subscribe(ctx, bus.TopicDecisions, bus.Handle(b.HandleDecision))
}

func (b *Bridge) HandleDecision(ctx context.Context, d *trading.Decision) error {
	if d.Action != trading.ActionExecute {
		b.log.Debugw("Decision not executable, skipping", "decision_id", d.DecisionID, "action", d.Action)
		return nil
	}
	if d.Size <= 0 {
		b.log.Warnw("Decision with non-positive size ignored", "decision_id", d.DecisionID, "size", d.Size)
		return nil
	}

	limit, err := b.limitPrice(ctx, &d.Signal)
	if err != nil {
		return errors.Wrapf(err, "limit price for decision %s", d.DecisionID)
	}

	now := b.now()
	order := &position.PendingOrder{
		OrderID:    d.DecisionID,
		Symbol:     d.Signal.Symbol,
		Direction:  d.Signal.Direction,
		LimitPrice: limit,
		Quantity:   decimal.NewFromFloat(d.Size),
		StopLoss:   decimal.NewFromFloat(d.Signal.StopLoss),
		TakeProfit: decimal.NewFromFloat(d.Signal.TakeProfit),
		CreatedAt:  now,
	}
	if b.ttl > 0 {
		order.ExpiresAt = now.Add(b.ttl)
	}

	if err := b.orders.AddPendingOrder(order); err != nil {
		if errors.Is(err, errors.ErrDuplicate) {
			b.log.Warnw("Decision already converted to an order", "decision_id", d.DecisionID)
			return nil
		}
		return errors.Wrapf(err, "register order for decision %s", d.DecisionID)
	}

	b.log.Infow("Decision converted to pending order",
		"decision_id", d.DecisionID,
		"symbol", order.Symbol,
		"direction", order.Direction,
		"limit", order.LimitPrice.String(),
		"quantity", order.Quantity.String(),
	)
	return nil
}

func (b *Bridge) limitPrice(ctx context.Context, sig *trading.TradingSignal) (decimal.Decimal, error) {
	if !sig.IsMarket() {
		return decimal.NewFromFloat(sig.EntryPrice), nil
	}
	if b.prices == nil {
		return decimal.Zero, errors.Wrap(errors.ErrUnavailable, "market decision without a price source")
	}
	return b.prices.GetPrice(ctx, sig.Symbol)
}
