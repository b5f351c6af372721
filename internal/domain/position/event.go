package position

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradecore/pkg/errors"
)

// EventType classifies monitor events
type EventType string

const (
	EventStopLoss    EventType = "STOP_LOSS_TRIGGERED"
	EventTakeProfit  EventType = "TAKE_PROFIT_TRIGGERED"
	EventOrderFilled EventType = "ORDER_FILLED"
	EventExpired     EventType = "ORDER_EXPIRED"
	EventCloseFailed EventType = "CLOSE_FAILED"
)

func (t EventType) String() string {
	return string(t)
}

// MonitorEvent records one trigger, fill, expiry or failed close
type MonitorEvent struct {
	ID        string          `json:"id" ch:"id"`
	Type      EventType       `json:"type" ch:"event_type"`
	Symbol    string          `json:"symbol" ch:"symbol"`
	RefID     string          `json:"ref_id" ch:"ref_id"`
	Price     decimal.Decimal `json:"price" ch:"price"`
	Detail    string          `json:"detail,omitempty" ch:"detail"`
	Timestamp time.Time       `json:"timestamp" ch:"timestamp"`
}

// NewEvent builds an event with a fresh id
func NewEvent(t EventType, symbol, refID string, price decimal.Decimal, detail string, at time.Time) MonitorEvent {
	return MonitorEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Symbol:    symbol,
		RefID:     refID,
		Price:     price,
		Detail:    detail,
		Timestamp: at,
	}
}

func errInvalid(field, msg string, v interface{}) error {
	return errors.NewValidationError(field, msg, v)
}
