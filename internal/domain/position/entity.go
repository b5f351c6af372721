package position

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradecore/internal/domain/trading"
)

// MonitoredPosition is an open position under stop-loss/take-profit watch.
// StopLoss and TakeProfit are fixed at registration; CurrentPrice changes only on a monitor poll.
type MonitoredPosition struct {
	ID           string            `json:"id"`
	OrderID      string            `json:"order_id"`
	Symbol       string            `json:"symbol"`
	Direction    trading.Direction `json:"direction"`
	EntryPrice   decimal.Decimal   `json:"entry_price"`
	CurrentPrice decimal.Decimal   `json:"current_price"`
	Quantity     decimal.Decimal   `json:"quantity"`
	StopLoss     decimal.Decimal   `json:"stop_loss"`
	TakeProfit   decimal.Decimal   `json:"take_profit"`
	EntryTime    time.Time         `json:"entry_time"`
}

// FromFill builds the position that a filled order turns into
func FromFill(order *PendingOrder, fillPrice decimal.Decimal, at time.Time) *MonitoredPosition {
	return &MonitoredPosition{
		ID:           uuid.NewString(),
		OrderID:      order.OrderID,
		Symbol:       order.Symbol,
		Direction:    order.Direction,
		EntryPrice:   fillPrice,
		CurrentPrice: fillPrice,
		Quantity:     order.Quantity,
		StopLoss:     order.StopLoss,
		TakeProfit:   order.TakeProfit,
		EntryTime:    at,
	}
}

// CheckStopLoss reports whether price is at or through the stop
func (p *MonitoredPosition) CheckStopLoss(price decimal.Decimal) bool {
	if p.StopLoss.IsZero() {
		return false
	}
	if p.Direction == trading.DirectionShort {
		return price.GreaterThanOrEqual(p.StopLoss)
	}
	return price.LessThanOrEqual(p.StopLoss)
}

// CheckTakeProfit reports whether price is at or through the target
func (p *MonitoredPosition) CheckTakeProfit(price decimal.Decimal) bool {
	if p.TakeProfit.IsZero() {
		return false
	}
	if p.Direction == trading.DirectionShort {
		return price.LessThanOrEqual(p.TakeProfit)
	}
	return price.GreaterThanOrEqual(p.TakeProfit)
}

// UnrealizedPnL at the last polled price
func (p *MonitoredPosition) UnrealizedPnL() decimal.Decimal {
	diff := p.CurrentPrice.Sub(p.EntryPrice)
	if p.Direction == trading.DirectionShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}

// PendingOrder is a limit order awaiting fill or expiry
type PendingOrder struct {
	OrderID    string            `json:"order_id"`
	Symbol     string            `json:"symbol"`
	Direction  trading.Direction `json:"direction"`
	LimitPrice decimal.Decimal   `json:"limit_price"`
	Quantity   decimal.Decimal   `json:"quantity"`
	StopLoss   decimal.Decimal   `json:"stop_loss"`
	TakeProfit decimal.Decimal   `json:"take_profit"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// Expired reports whether the order's lifetime has passed
func (o *PendingOrder) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// ShouldFill applies the tolerance fill rule. Tolerance is a fraction of the limit price:
// a long fills at or below limit*(1+tol), a short at or above limit*(1-tol).
func (o *PendingOrder) ShouldFill(price decimal.Decimal, tolerance float64) bool {
	band := o.LimitPrice.Mul(decimal.NewFromFloat(tolerance))
	if o.Direction == trading.DirectionShort {
		return price.GreaterThanOrEqual(o.LimitPrice.Sub(band))
	}
	return price.LessThanOrEqual(o.LimitPrice.Add(band))
}

// Validate checks an order before it enters monitoring
func (o *PendingOrder) Validate() error {
	switch {
	case o.OrderID == "":
		return errInvalid("order_id", "required", o.OrderID)
	case o.Symbol == "":
		return errInvalid("symbol", "required", o.Symbol)
	case !o.Direction.Valid():
		return errInvalid("direction", "must be long or short", o.Direction)
	case !o.LimitPrice.IsPositive():
		return errInvalid("limit_price", "must be positive", o.LimitPrice)
	case !o.Quantity.IsPositive():
		return errInvalid("quantity", "must be positive", o.Quantity)
	}
	return nil
}
