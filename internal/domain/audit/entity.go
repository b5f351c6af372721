package audit

import (
	"context"
	"time"
)

// Action is the terminal outcome recorded for a signal
type Action string

const (
	ActionDiscarded Action = "discarded"
	ActionApproved  Action = "approved"
	ActionRejected  Action = "rejected"
	ActionExpired   Action = "expired"
	ActionInvalid   Action = "invalid"
	ActionFailed    Action = "failed"
)

func (a Action) String() string {
	return string(a)
}

// Record explains why a trade did or did not happen
type Record struct {
	Timestamp  time.Time `json:"timestamp" db:"created_at"`
	RequestID  string    `json:"request_id,omitempty" db:"request_id"`
	Symbol     string    `json:"symbol" db:"symbol"`
	Direction  string    `json:"direction" db:"direction"`
	Agent      string    `json:"agent" db:"agent"`
	Confidence float64   `json:"confidence" db:"confidence"`
	Score      float64   `json:"score" db:"score"`
	Action     Action    `json:"action" db:"action"`
	Size       float64   `json:"size" db:"size"`
	Reason     string    `json:"reason" db:"reason"`
}

// Store is a durable append-only sink for audit records
type Store interface {
	Append(ctx context.Context, rec *Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
}
