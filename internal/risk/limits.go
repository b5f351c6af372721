package risk

// Hard ceilings. These are deliberately constants so that no configuration
// change can loosen them.
const (
	MaxPositionPct    = 0.20
	MaxSectorPct      = 0.40
	MaxCorrelation    = 0.70
	MaxDrawdownPct    = 0.15
	MinCashReservePct = 0.10
)

// Sizing parameters
const (
	BaseRiskPerTrade             = 0.02
	CorrelationReduceThreshold   = 0.50
	CorrelationReduceFactor      = 0.50
	HighVolatilityReduceFactor   = 0.50
	SyntheticStopDistancePct     = 0.02
	SectorWarningRatio           = 0.80
	DrawdownWarningRatio         = 0.80
	sameSectorDefaultCorrelation = 0.60
)

// Adjustment reasons recorded on RiskResponse
const (
	AdjustPositionCap    = "position_cap"
	AdjustCorrelation    = "high_correlation"
	AdjustHighVolatility = "high_volatility_regime"
)

// Limits is a read-only view of the hard ceilings
type Limits struct {
	MaxPositionPct    float64 `json:"max_position_pct"`
	MaxSectorPct      float64 `json:"max_sector_pct"`
	MaxCorrelation    float64 `json:"max_correlation"`
	MaxDrawdownPct    float64 `json:"max_drawdown_pct"`
	MinCashReservePct float64 `json:"min_cash_reserve_pct"`
	BaseRiskPerTrade  float64 `json:"base_risk_per_trade"`
}

// CurrentLimits returns the compiled-in ceilings
func CurrentLimits() Limits {
	return Limits{
		MaxPositionPct:    MaxPositionPct,
		MaxSectorPct:      MaxSectorPct,
		MaxCorrelation:    MaxCorrelation,
		MaxDrawdownPct:    MaxDrawdownPct,
		MinCashReservePct: MinCashReservePct,
		BaseRiskPerTrade:  BaseRiskPerTrade,
	}
}
