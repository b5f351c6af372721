package trading

import (
	"time"

	"github.com/google/uuid"

	"tradecore/pkg/errors"
)

// Direction is the side of a trade
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Valid checks if direction is valid
func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

func (d Direction) String() string {
	return string(d)
}

// TradingSignal is a candidate trade proposed by an analyst agent.
// EntryPrice of zero marks a market signal without a reference price.
type TradingSignal struct {
	SourceAgent string             `json:"source_agent"`
	AgentType   string             `json:"agent_type"`
	Symbol      string             `json:"symbol"`
	Sector      string             `json:"sector,omitempty"`
	Direction   Direction          `json:"direction"`
	Confidence  float64            `json:"confidence"`
	EntryPrice  float64            `json:"entry_price"`
	StopLoss    float64            `json:"stop_loss"`
	TakeProfit  float64            `json:"take_profit"`
	Timeframe   string             `json:"timeframe,omitempty"`
	Indicators  map[string]float64 `json:"indicators,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// IsMarket reports whether the signal carries no entry reference price
func (s *TradingSignal) IsMarket() bool {
	return s.EntryPrice == 0
}

// Validate enforces the invariants every published signal must satisfy
func (s *TradingSignal) Validate() error {
	if s.Symbol == "" {
		return errors.NewValidationError("symbol", "required", s.Symbol)
	}
	if !s.Direction.Valid() {
		return errors.NewValidationError("direction", "must be long or short", s.Direction)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return errors.NewValidationError("confidence", "must be within [0,1]", s.Confidence)
	}
	if s.EntryPrice < 0 {
		return errors.NewValidationError("entry_price", "must not be negative", s.EntryPrice)
	}
	if s.StopLoss <= 0 {
		return errors.NewValidationError("stop_loss", "required", s.StopLoss)
	}
	if s.TakeProfit <= 0 {
		return errors.NewValidationError("take_profit", "required", s.TakeProfit)
	}
	if s.IsMarket() {
		return nil
	}

	switch s.Direction {
	case DirectionLong:
		if s.StopLoss > s.EntryPrice {
			return errors.NewValidationError("stop_loss", "long stop must be at or below entry", s.StopLoss)
		}
		if s.TakeProfit <= s.EntryPrice {
			return errors.NewValidationError("take_profit", "long target must be above entry", s.TakeProfit)
		}
	case DirectionShort:
		if s.StopLoss < s.EntryPrice {
			return errors.NewValidationError("stop_loss", "short stop must be at or above entry", s.StopLoss)
		}
		if s.TakeProfit >= s.EntryPrice {
			return errors.NewValidationError("take_profit", "short target must be below entry", s.TakeProfit)
		}
	}
	return nil
}

// PositionSnapshot is one open holding as seen by the capital/positions store
type PositionSnapshot struct {
	Symbol      string    `json:"symbol"`
	Sector      string    `json:"sector,omitempty"`
	Direction   Direction `json:"direction"`
	Quantity    float64   `json:"quantity"`
	EntryPrice  float64   `json:"entry_price"`
	MarketValue float64   `json:"market_value"`
}

// Value returns the market value, falling back to cost basis
func (p PositionSnapshot) Value() float64 {
	if p.MarketValue != 0 {
		return p.MarketValue
	}
	return p.Quantity * p.EntryPrice
}

// RiskRequest asks the risk manager to validate one signal
type RiskRequest struct {
	RequestID string             `json:"request_id"`
	Signal    TradingSignal      `json:"signal"`
	Capital   float64            `json:"capital"`
	Positions []PositionSnapshot `json:"positions"`
	CreatedAt time.Time          `json:"created_at"`
}

// NewRiskRequest builds a request with a fresh id
func NewRiskRequest(signal TradingSignal, capital float64, positions []PositionSnapshot, now time.Time) *RiskRequest {
	return &RiskRequest{
		RequestID: uuid.NewString(),
		Signal:    signal,
		Capital:   capital,
		Positions: positions,
		CreatedAt: now,
	}
}

// SizeAdjustment records one multiplicative change applied to a position size
type SizeAdjustment struct {
	Reason string  `json:"reason"`
	Factor float64 `json:"factor"`
}

// RiskResponse is the verdict for one RiskRequest
type RiskResponse struct {
	RequestID       string           `json:"request_id"`
	Approved        bool             `json:"approved"`
	OriginalSize    float64          `json:"original_size"`
	AdjustedSize    float64          `json:"adjusted_size"`
	Adjustments     []SizeAdjustment `json:"adjustments,omitempty"`
	Warnings        []string         `json:"warnings,omitempty"`
	RejectionReason string           `json:"rejection_reason,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Reject builds a rejection; a rejected response always carries a zero size
func Reject(requestID, reason string, warnings []string, now time.Time) *RiskResponse {
	return &RiskResponse{
		RequestID:       requestID,
		Approved:        false,
		RejectionReason: reason,
		Warnings:        warnings,
		Timestamp:       now,
	}
}

// Validate checks the response shape before it is acted on
func (r *RiskResponse) Validate() error {
	if r.RequestID == "" {
		return errors.NewValidationError("request_id", "required", r.RequestID)
	}
	if !r.Approved && r.AdjustedSize != 0 {
		return errors.NewValidationError("adjusted_size", "rejected response must carry zero size", r.AdjustedSize)
	}
	if r.AdjustedSize < 0 {
		return errors.NewValidationError("adjusted_size", "must not be negative", r.AdjustedSize)
	}
	return nil
}

// Action is what a decision tells execution to do
type Action string

const (
	ActionExecute Action = "execute"
	ActionNone    Action = "none"
)

// Decision is the orchestrator's final verdict for an approved signal
type Decision struct {
	DecisionID  string           `json:"decision_id"`
	RequestID   string           `json:"request_id"`
	Signal      TradingSignal    `json:"signal"`
	Score       float64          `json:"score"`
	Action      Action           `json:"action"`
	Size        float64          `json:"size"`
	Adjustments []SizeAdjustment `json:"adjustments,omitempty"`
	Reasoning   string           `json:"reasoning"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Severity of an alert
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an out-of-band safety notification
type Alert struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewAlert builds an alert with a fresh id
func NewAlert(source string, severity Severity, message string, ctx map[string]interface{}, now time.Time) *Alert {
	return &Alert{
		ID:        uuid.NewString(),
		Source:    source,
		Severity:  severity,
		Message:   message,
		Context:   ctx,
		Timestamp: now,
	}
}

// MessageKey partitions signals by symbol
func (s *TradingSignal) MessageKey() string { return s.Symbol }

// MessageKey partitions requests by id
func (r *RiskRequest) MessageKey() string { return r.RequestID }

// MessageKey partitions responses by request id
func (r *RiskResponse) MessageKey() string { return r.RequestID }

// MessageKey partitions decisions by symbol
func (d *Decision) MessageKey() string { return d.Signal.Symbol }

// MessageKey partitions alerts by source
func (a *Alert) MessageKey() string { return a.Source }
