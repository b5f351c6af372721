package trading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/pkg/errors"
)

func validLong() TradingSignal {
	return TradingSignal{
		SourceAgent: "technical-1",
		AgentType:   "technical",
		Symbol:      "AAPL",
		Direction:   DirectionLong,
		Confidence:  0.9,
		EntryPrice:  150,
		StopLoss:    145,
		TakeProfit:  165,
	}
}

func TestTradingSignal_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *TradingSignal)
		field  string
	}{
		{"valid long", func(s *TradingSignal) {}, ""},
		{"valid short", func(s *TradingSignal) {
			s.Direction = DirectionShort
			s.StopLoss = 155
			s.TakeProfit = 140
		}, ""},
		{"market signal", func(s *TradingSignal) { s.EntryPrice = 0 }, ""},
		{"missing symbol", func(s *TradingSignal) { s.Symbol = "" }, "symbol"},
		{"bad direction", func(s *TradingSignal) { s.Direction = "flat" }, "direction"},
		{"confidence above one", func(s *TradingSignal) { s.Confidence = 1.01 }, "confidence"},
		{"negative confidence", func(s *TradingSignal) { s.Confidence = -0.1 }, "confidence"},
		{"missing stop", func(s *TradingSignal) { s.StopLoss = 0 }, "stop_loss"},
		{"missing target", func(s *TradingSignal) { s.TakeProfit = 0 }, "take_profit"},
		{"long stop above entry", func(s *TradingSignal) { s.StopLoss = 151 }, "stop_loss"},
		{"long target below entry", func(s *TradingSignal) { s.TakeProfit = 149 }, "take_profit"},
		{"short stop below entry", func(s *TradingSignal) {
			s.Direction = DirectionShort
			s.StopLoss = 140
			s.TakeProfit = 130
		}, "stop_loss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validLong()
			tt.mutate(&s)
			err := s.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *errors.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestReject_ZeroSize(t *testing.T) {
	resp := Reject("req-1", "cash reserve too low", nil, time.Now())

	assert.False(t, resp.Approved)
	assert.Zero(t, resp.AdjustedSize)
	assert.NoError(t, resp.Validate())
}

func TestRiskResponse_Validate(t *testing.T) {
	resp := &RiskResponse{RequestID: "r", Approved: false, AdjustedSize: 10}
	assert.Error(t, resp.Validate())

	resp = &RiskResponse{Approved: true, AdjustedSize: 10}
	assert.Error(t, resp.Validate())

	resp = &RiskResponse{RequestID: "r", Approved: true, AdjustedSize: 10}
	assert.NoError(t, resp.Validate())
}

func TestPositionSnapshot_Value(t *testing.T) {
	assert.Equal(t, 500.0, PositionSnapshot{Quantity: 10, EntryPrice: 50}.Value())
	assert.Equal(t, 600.0, PositionSnapshot{Quantity: 10, EntryPrice: 50, MarketValue: 600}.Value())
}

func TestNewRiskRequest_UniqueIDs(t *testing.T) {
	now := time.Now()
	a := NewRiskRequest(validLong(), 1000, nil, now)
	b := NewRiskRequest(validLong(), 1000, nil, now)

	assert.NotEmpty(t, a.RequestID)
	assert.NotEqual(t, a.RequestID, b.RequestID)
}
