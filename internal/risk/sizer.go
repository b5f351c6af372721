package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain/trading"
)

const sizePrecision = 4

var (
	decBaseRisk      = decimal.NewFromFloat(BaseRiskPerTrade)
	decMaxPosition   = decimal.NewFromFloat(MaxPositionPct)
	decSyntheticStop = decimal.NewFromFloat(SyntheticStopDistancePct)
)

// SizingInput holds the values the risk-based sizing formula needs
type SizingInput struct {
	Capital    float64
	Entry      float64
	StopLoss   float64
	Confidence float64
}

// Sizing tracks a position size through its adjustments
type Sizing struct {
	Original    decimal.Decimal
	Shares      decimal.Decimal
	Adjustments []trading.SizeAdjustment
	Warnings    []string
}

// BaseSize computes capital * base_risk * confidence / |entry - stop|.
// When entry equals stop a synthetic 2% stop distance is used instead.
func BaseSize(in SizingInput) *Sizing {
	capital := decimal.NewFromFloat(in.Capital)
	entry := decimal.NewFromFloat(in.Entry)
	stop := decimal.NewFromFloat(in.StopLoss)

	riskAmount := capital.Mul(decBaseRisk).Mul(decimal.NewFromFloat(in.Confidence))

	s := &Sizing{}
	distance := entry.Sub(stop).Abs()
	if distance.IsZero() {
		distance = entry.Mul(decSyntheticStop)
		s.Warnings = append(s.Warnings,
			fmt.Sprintf("stop equals entry; using synthetic %.0f%% stop distance", SyntheticStopDistancePct*100))
	}
	if distance.IsZero() {
		return s
	}

	s.Original = riskAmount.Div(distance)
	s.Shares = s.Original
	return s
}

// CapToPosition limits the position value to the per-position ceiling
func (s *Sizing) CapToPosition(capital, entry float64) {
	if entry <= 0 || s.Shares.IsZero() {
		return
	}
	maxShares := decimal.NewFromFloat(capital).Mul(decMaxPosition).Div(decimal.NewFromFloat(entry))
	if s.Shares.LessThanOrEqual(maxShares) {
		return
	}
	factor := maxShares.Div(s.Shares)
	s.Shares = maxShares
	s.Adjustments = append(s.Adjustments, trading.SizeAdjustment{
		Reason: AdjustPositionCap,
		Factor: factor.Round(6).InexactFloat64(),
	})
}

// Reduce applies a multiplicative reduction and records it
func (s *Sizing) Reduce(reason string, factor float64) {
	s.Shares = s.Shares.Mul(decimal.NewFromFloat(factor))
	s.Adjustments = append(s.Adjustments, trading.SizeAdjustment{Reason: reason, Factor: factor})
}

// Value returns shares * price
func (s *Sizing) Value(price float64) float64 {
	return s.Shares.Mul(decimal.NewFromFloat(price)).InexactFloat64()
}

// Final returns the adjusted size truncated to the reporting precision
func (s *Sizing) Final() float64 {
	return s.Shares.Truncate(sizePrecision).InexactFloat64()
}

// OriginalSize returns the pre-adjustment size truncated to the reporting precision
func (s *Sizing) OriginalSize() float64 {
	return s.Original.Truncate(sizePrecision).InexactFloat64()
}
