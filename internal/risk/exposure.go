package risk

import (
	"context"
	"strings"

	"tradecore/internal/domain/trading"
	"tradecore/pkg/errors"
)

const unknownSector = "unknown"

// LocalExposure derives exposure directly from position snapshots.
// Cash is whatever part of portfolio value is not held in positions.
type LocalExposure struct{}

func (LocalExposure) GetExposure(ctx context.Context, portfolioValue float64, positions []trading.PositionSnapshot) (*Exposure, error) {
	if portfolioValue <= 0 {
		return nil, errors.NewValidationError("portfolio_value", "must be positive", portfolioValue)
	}

	exp := &Exposure{
		BySector: make(map[string]float64),
		BySymbol: make(map[string]float64),
	}

	invested := 0.0
	for _, p := range positions {
		v := p.Value()
		if v < 0 {
			v = -v
		}
		invested += v
		exp.BySector[sectorKey(p.Sector)] += v / portfolioValue
		exp.BySymbol[p.Symbol] += v / portfolioValue
	}

	exp.CashPct = 1 - invested/portfolioValue
	if exp.CashPct < 0 {
		exp.CashPct = 0
	}
	return exp, nil
}

func sectorKey(sector string) string {
	s := strings.ToLower(strings.TrimSpace(sector))
	if s == "" {
		return unknownSector
	}
	return s
}

// StaticCorrelations serves a fixed correlation table, symmetric by construction
type StaticCorrelations struct {
	table map[string]map[string]float64
}

func NewStaticCorrelations() *StaticCorrelations {
	return &StaticCorrelations{table: make(map[string]map[string]float64)}
}

// Set records the correlation between a and b in both directions
func (s *StaticCorrelations) Set(a, b string, corr float64) *StaticCorrelations {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		row, ok := s.table[pair[0]]
		if !ok {
			row = make(map[string]float64)
			s.table[pair[0]] = row
		}
		row[pair[1]] = corr
	}
	return s
}

func (s *StaticCorrelations) GetCorrelations(ctx context.Context, symbol string) (map[string]float64, error) {
	out := make(map[string]float64, len(s.table[symbol]))
	for k, v := range s.table[symbol] {
		out[k] = v
	}
	return out, nil
}

// maxCorrelation is the highest correlation between the candidate and any holding.
// Holdings of the same symbol count as 1; holdings in the same sector without a
// known coefficient fall back to a moderate default.
func maxCorrelation(signal *trading.TradingSignal, positions []trading.PositionSnapshot, corr map[string]float64) float64 {
	highest := 0.0
	for _, p := range positions {
		c, ok := corr[p.Symbol]
		switch {
		case p.Symbol == signal.Symbol:
			c = 1
		case !ok && signal.Sector != "" && sectorKey(p.Sector) == sectorKey(signal.Sector):
			c = sameSectorDefaultCorrelation
		}
		if c > highest {
			highest = c
		}
	}
	return highest
}
