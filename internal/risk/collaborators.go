package risk

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain/regime"
	"tradecore/internal/domain/trading"
)

// Exposure is the portfolio breakdown returned by the exposure collaborator.
// All values are fractions of portfolio value.
type Exposure struct {
	CashPct  float64            `json:"cash_pct"`
	BySector map[string]float64 `json:"exposure_by_sector"`
	BySymbol map[string]float64 `json:"exposure_by_symbol,omitempty"`
}

// ExposureCalculator computes exposure for a capital/positions snapshot
type ExposureCalculator interface {
	GetExposure(ctx context.Context, portfolioValue float64, positions []trading.PositionSnapshot) (*Exposure, error)
}

// RegimeProvider classifies an instrument's current market regime
type RegimeProvider interface {
	GetRegime(ctx context.Context, symbol string) (*regime.Regime, error)
}

// CorrelationSource returns correlation coefficients of symbol with other assets,
// keyed by asset symbol, each within [-1, 1]
type CorrelationSource interface {
	GetCorrelations(ctx context.Context, symbol string) (map[string]float64, error)
}

// PriceSource quotes a live price; used to size market signals
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// KillSwitchState is the persisted kill switch record
type KillSwitchState struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason"`
	Drawdown    float64   `json:"drawdown"`
	ActivatedAt time.Time `json:"activated_at"`
}

// KillSwitchStore persists the kill switch across restarts
type KillSwitchStore interface {
	Save(ctx context.Context, state *KillSwitchState) error
	// Load returns nil, nil when nothing is stored
	Load(ctx context.Context) (*KillSwitchState, error)
	Clear(ctx context.Context) error
}

// PeakStore persists the drawdown peak so drawdown is measured from the
// historical high across restarts
type PeakStore interface {
	SavePeak(ctx context.Context, peak float64) error
	// LoadPeak returns 0, nil when nothing is stored
	LoadPeak(ctx context.Context) (float64, error)
}
