package monitor

import (
	"context"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain/position"
)

// PriceSource quotes the current price of a symbol
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PositionCloser closes an open position. reason is the triggering event type.
type PositionCloser interface {
	ClosePosition(ctx context.Context, pos *position.MonitoredPosition, reason position.EventType, price decimal.Decimal) error
}

// OrderExecutor executes a pending order and returns the fill price
type OrderExecutor interface {
	ExecuteOrder(ctx context.Context, order *position.PendingOrder, price decimal.Decimal) (decimal.Decimal, error)
}

// EventSink receives each tick's events for durable storage
type EventSink interface {
	Record(ctx context.Context, events []position.MonitorEvent) error
}
