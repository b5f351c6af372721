package regime

import (
	"strings"
	"time"
)

// Regime is the classifier's current view of one instrument
type Regime struct {
	Symbol        string             `json:"symbol" db:"symbol"`
	Label         Label              `json:"regime" db:"regime"`
	Confidence    float64            `json:"confidence" db:"confidence"`
	Probabilities map[string]float64 `json:"probabilities,omitempty" db:"-"`
	Timestamp     time.Time          `json:"timestamp" db:"timestamp"`
}

// Label is a regime class name as produced by the classifier
type Label string

const (
	LabelTrendUp        Label = "trend_up"
	LabelTrendDown      Label = "trend_down"
	LabelRange          Label = "range"
	LabelBreakout       Label = "breakout"
	LabelVolatile       Label = "volatile"
	LabelHighVolatility Label = "high_volatility"
	LabelCrisis         Label = "crisis"
	LabelUnknown        Label = "unknown"
)

func (l Label) String() string {
	return string(l)
}

// IsHighVolatility reports whether position sizes should be cut in this regime
func (l Label) IsHighVolatility() bool {
	switch Label(strings.ToLower(string(l))) {
	case LabelVolatile, LabelHighVolatility, LabelCrisis:
		return true
	}
	return false
}

// IsHighVolatility is a shortcut for r.Label.IsHighVolatility
func (r *Regime) IsHighVolatility() bool {
	return r != nil && r.Label.IsHighVolatility()
}
