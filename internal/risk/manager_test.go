package risk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/bus"
	"tradecore/internal/bus/bustest"
	"tradecore/internal/domain/regime"
	"tradecore/internal/domain/trading"
	"tradecore/pkg/errors"
)

type stubCapital struct {
	mu      sync.Mutex
	capital float64
	err     error
}

func (s *stubCapital) set(v float64) {
	s.mu.Lock()
	s.capital = v
	s.mu.Unlock()
}

func (s *stubCapital) GetCapital(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capital, s.err
}

func (s *stubCapital) GetPositions(ctx context.Context) ([]trading.PositionSnapshot, error) {
	return nil, nil
}

type stubRegime struct {
	label regime.Label
	err   error
}

func (s stubRegime) GetRegime(ctx context.Context, symbol string) (*regime.Regime, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &regime.Regime{Symbol: symbol, Label: s.label, Confidence: 0.8}, nil
}

type stubPrice float64

func (p stubPrice) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.NewFromFloat(float64(p)), nil
}

type failingExposure struct{}

func (failingExposure) GetExposure(ctx context.Context, v float64, p []trading.PositionSnapshot) (*Exposure, error) {
	return nil, errors.Wrap(errors.ErrTimeout, "exposure service")
}

var testNow = time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

func newTestManager(t *testing.T, deps Deps) (*Manager, *bustest.Broker) {
	t.Helper()
	b := bustest.NewBroker()
	deps.Bus = b
	m := NewManager(Config{}, deps).WithClock(func() time.Time { return testNow })
	require.NoError(t, m.Setup(context.Background()))
	return m, b
}

func longSignal(symbol, sector string, entry, stop, target, confidence float64) trading.TradingSignal {
	return trading.TradingSignal{
		SourceAgent: "technical_analyst",
		AgentType:   "technical",
		Symbol:      symbol,
		Sector:      sector,
		Direction:   trading.DirectionLong,
		Confidence:  confidence,
		EntryPrice:  entry,
		StopLoss:    stop,
		TakeProfit:  target,
		Timestamp:   testNow,
	}
}

func request(sig trading.TradingSignal, capital float64, positions ...trading.PositionSnapshot) *trading.RiskRequest {
	return trading.NewRiskRequest(sig, capital, positions, testNow)
}

func TestManager_SetupSubscribes(t *testing.T) {
	_, b := newTestManager(t, Deps{})
	assert.True(t, b.Subscribed(bus.TopicRiskRequests))
}

func TestValidate_ApprovesWithinLimits(t *testing.T) {
	m, _ := newTestManager(t, Deps{})

	resp := m.Validate(context.Background(), request(longSignal("AAPL", "tech", 100, 90, 120, 0.9), 100000))

	require.True(t, resp.Approved, resp.RejectionReason)
	// 100000 * 0.02 * 0.9 / 10
	assert.InDelta(t, 180, resp.OriginalSize, 1e-9)
	assert.InDelta(t, 180, resp.AdjustedSize, 1e-9)
	assert.Empty(t, resp.Adjustments)
	assert.Empty(t, resp.Warnings)
	assert.NoError(t, resp.Validate())
}

func TestValidate_PositionCap(t *testing.T) {
	m, _ := newTestManager(t, Deps{})

	resp := m.Validate(context.Background(), request(longSignal("AAPL", "tech", 150, 145, 165, 0.9), 100000))

	require.True(t, resp.Approved)
	assert.InDelta(t, 360, resp.OriginalSize, 1e-9)
	// 20% of 100000 at 150
	assert.InDelta(t, 133.3333, resp.AdjustedSize, 1e-4)
	require.Len(t, resp.Adjustments, 1)
	assert.Equal(t, AdjustPositionCap, resp.Adjustments[0].Reason)
	assert.InDelta(t, 0.37037, resp.Adjustments[0].Factor, 1e-5)
}

func TestValidate_SyntheticStopWhenStopEqualsEntry(t *testing.T) {
	m, _ := newTestManager(t, Deps{})

	resp := m.Validate(context.Background(), request(longSignal("AAPL", "tech", 100, 100, 120, 0.5), 100000))

	require.True(t, resp.Approved)
	// 1000 risk over a 2.0 synthetic distance, then capped to 200
	assert.InDelta(t, 500, resp.OriginalSize, 1e-9)
	assert.InDelta(t, 200, resp.AdjustedSize, 1e-9)
	require.NotEmpty(t, resp.Warnings)
	assert.Contains(t, resp.Warnings[0], "synthetic")
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		deps      Deps
		req       *trading.RiskRequest
		reasonSub string
	}{
		{
			name: "invalid signal",
			req: request(trading.TradingSignal{
				Symbol: "AAPL", Direction: "sideways", Confidence: 0.9, EntryPrice: 100, StopLoss: 90, TakeProfit: 120,
			}, 100000),
			reasonSub: "invalid signal",
		},
		{
			name:      "exposure unavailable fails closed",
			deps:      Deps{Exposure: failingExposure{}},
			req:       request(longSignal("AAPL", "tech", 100, 90, 120, 0.9), 100000),
			reasonSub: "exposure unavailable",
		},
		{
			name: "cash reserve below minimum",
			req: request(longSignal("AAPL", "tech", 100, 90, 120, 0.9), 100000,
				trading.PositionSnapshot{Symbol: "XOM", Sector: "energy", Quantity: 950, EntryPrice: 100}),
			reasonSub: "cash reserve",
		},
		{
			name: "sector limit",
			req: request(longSignal("AAPL", "tech", 100, 90, 120, 0.9), 100000,
				trading.PositionSnapshot{Symbol: "NVDA", Sector: "Tech", Quantity: 350, EntryPrice: 100}),
			reasonSub: "sector tech",
		},
		{
			name:      "market signal without price source",
			req:       request(longSignal("AAPL", "tech", 0, 90, 120, 0.9), 100000),
			reasonSub: "no price",
		},
		{
			name:      "zero confidence yields zero size",
			req:       request(longSignal("AAPL", "tech", 100, 90, 120, 0), 100000),
			reasonSub: "zero",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, tt.deps)
			resp := m.Validate(context.Background(), tt.req)

			assert.False(t, resp.Approved)
			assert.Zero(t, resp.AdjustedSize)
			assert.Contains(t, resp.RejectionReason, tt.reasonSub)
			assert.NoError(t, resp.Validate())
		})
	}
}

func TestValidate_SectorWarningNearLimit(t *testing.T) {
	m, _ := newTestManager(t, Deps{})

	// 15% held + 18% new = 33%, above 80% of the 40% ceiling
	resp := m.Validate(context.Background(), request(longSignal("AAPL", "tech", 100, 90, 120, 0.9), 100000,
		trading.PositionSnapshot{Symbol: "NVDA", Sector: "tech", Quantity: 150, EntryPrice: 100}))

	require.True(t, resp.Approved)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "approaching limit")
}

func TestValidate_CorrelationReducesSize(t *testing.T) {
	corr := NewStaticCorrelations().Set("AAPL", "MSFT", 0.8)
	m, _ := newTestManager(t, Deps{Correlations: corr})

	resp := m.Validate(context.Background(), request(longSignal("AAPL", "tech", 100, 90, 120, 0.9), 100000,
		trading.PositionSnapshot{Symbol: "MSFT", Sector: "tech", Quantity: 100, EntryPrice: 100}))

	require.True(t, resp.Approved)
	assert.InDelta(t, 90, resp.AdjustedSize, 1e-9)
	require.Len(t, resp.Adjustments, 1)
	assert.Equal(t, AdjustCorrelation, resp.Adjustments[0].Reason)
	assert.Equal(t, CorrelationReduceFactor, resp.Adjustments[0].Factor)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "correlation 0.80")
}

func TestValidate_HighVolatilityRegimeHalvesSize(t *testing.T) {
	m, _ := newTestManager(t, Deps{Regime: stubRegime{label: regime.LabelVolatile}})

	resp := m.Validate(context.Background(), request(longSignal("AAPL", "tech", 100, 90, 120, 0.9), 100000))

	require.True(t, resp.Approved)
	assert.InDelta(t, 90, resp.AdjustedSize, 1e-9)
	require.Len(t, resp.Adjustments, 1)
	assert.Equal(t, AdjustHighVolatility, resp.Adjustments[0].Reason)
}

func TestValidate_RegimeFailureIsWarningOnly(t *testing.T) {
	m, _ := newTestManager(t, Deps{Regime: stubRegime{err: errors.ErrTimeout}})

	resp := m.Validate(context.Background(), request(longSignal("AAPL", "tech", 100, 90, 120, 0.9), 100000))

	require.True(t, resp.Approved)
	assert.InDelta(t, 180, resp.AdjustedSize, 1e-9)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "regime unavailable")
}

func TestValidate_MarketSignalUsesQuote(t *testing.T) {
	m, _ := newTestManager(t, Deps{Prices: stubPrice(100)})

	resp := m.Validate(context.Background(), request(longSignal("AAPL", "tech", 0, 90, 120, 0.9), 100000))

	require.True(t, resp.Approved, resp.RejectionReason)
	assert.InDelta(t, 180, resp.AdjustedSize, 1e-9)
}

func TestKillSwitch_DrawdownMonitorTripsAndRejectsEverything(t *testing.T) {
	capital := &stubCapital{capital: 100000}
	m, b := newTestManager(t, Deps{Snapshots: capital})
	ctx := context.Background()

	require.NoError(t, m.Process(ctx))
	assert.False(t, m.KillSwitchActive())

	capital.set(84000) // 16% drawdown
	require.NoError(t, m.Process(ctx))
	require.True(t, m.KillSwitchActive())

	alerts := bustest.PublishedAs[trading.Alert](b, bus.TopicAlerts)
	require.Len(t, alerts, 1)
	assert.Equal(t, trading.SeverityCritical, alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "KILL SWITCH")

	for _, sym := range []string{"AAPL", "MSFT", "XOM"} {
		resp := m.Validate(ctx, request(longSignal(sym, "any", 100, 90, 120, 0.9), 84000))
		assert.False(t, resp.Approved)
		assert.Contains(t, resp.RejectionReason, "KILL SWITCH")
	}

	// still active after recovery, and no repeat alert
	capital.set(120000)
	require.NoError(t, m.Process(ctx))
	assert.True(t, m.KillSwitchActive())
	assert.Len(t, bustest.PublishedAs[trading.Alert](b, bus.TopicAlerts), 1)
}

func TestKillSwitch_TrippedByRequestCapital(t *testing.T) {
	m, _ := newTestManager(t, Deps{})
	ctx := context.Background()

	resp := m.Validate(ctx, request(longSignal("AAPL", "tech", 100, 90, 120, 0.9), 100000))
	require.True(t, resp.Approved)

	resp = m.Validate(ctx, request(longSignal("AAPL", "tech", 100, 90, 120, 0.9), 84000))
	assert.False(t, resp.Approved)
	assert.Contains(t, resp.RejectionReason, "KILL SWITCH")
	assert.True(t, m.KillSwitchActive())
}

func TestKillSwitch_ResetResumesTrading(t *testing.T) {
	capital := &stubCapital{capital: 100000}
	m, b := newTestManager(t, Deps{Snapshots: capital})
	ctx := context.Background()

	require.NoError(t, m.Process(ctx))
	capital.set(80000)
	require.NoError(t, m.Process(ctx))
	require.True(t, m.KillSwitchActive())

	require.NoError(t, m.ResetKillSwitch(ctx))
	assert.False(t, m.KillSwitchActive())

	// peak was rebased, so the same capital no longer trips
	require.NoError(t, m.Process(ctx))
	assert.False(t, m.KillSwitchActive())

	resp := m.Validate(ctx, request(longSignal("AAPL", "tech", 100, 90, 120, 0.9), 80000))
	assert.True(t, resp.Approved, resp.RejectionReason)

	alerts := bustest.PublishedAs[trading.Alert](b, bus.TopicAlerts)
	require.Len(t, alerts, 2)
	assert.Equal(t, trading.SeverityInfo, alerts[1].Severity)
}

func TestKillSwitch_AlertRetriedWhenPublishFails(t *testing.T) {
	capital := &stubCapital{capital: 100000}
	m, b := newTestManager(t, Deps{Snapshots: capital})
	ctx := context.Background()

	require.NoError(t, m.Process(ctx))
	b.FailPublish(bus.TopicAlerts, errors.ErrUnavailable)
	capital.set(50000)
	require.NoError(t, m.Process(ctx))
	assert.Empty(t, b.Published(bus.TopicAlerts))

	b.FailPublish(bus.TopicAlerts, nil)
	require.NoError(t, m.Process(ctx))
	assert.Len(t, b.Published(bus.TopicAlerts), 1)

	require.NoError(t, m.Process(ctx))
	assert.Len(t, b.Published(bus.TopicAlerts), 1)
}

func TestDrawdownWarning_OncePerEntry(t *testing.T) {
	capital := &stubCapital{capital: 100000}
	m, b := newTestManager(t, Deps{Snapshots: capital})
	ctx := context.Background()

	require.NoError(t, m.Process(ctx))
	capital.set(87000) // 13%
	require.NoError(t, m.Process(ctx))
	require.NoError(t, m.Process(ctx))

	alerts := bustest.PublishedAs[trading.Alert](b, bus.TopicAlerts)
	require.Len(t, alerts, 1)
	assert.Equal(t, trading.SeverityWarning, alerts[0].Severity)

	capital.set(95000)
	require.NoError(t, m.Process(ctx))
	capital.set(87500)
	require.NoError(t, m.Process(ctx))
	assert.Len(t, bustest.PublishedAs[trading.Alert](b, bus.TopicAlerts), 2)
	assert.False(t, m.KillSwitchActive())
}

func TestProcess_CapitalErrorPropagates(t *testing.T) {
	m, _ := newTestManager(t, Deps{Snapshots: &stubCapital{err: errors.ErrUnavailable}})
	err := m.Process(context.Background())
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}

func TestProcess_MissingCapitalIsNotAnError(t *testing.T) {
	m, _ := newTestManager(t, Deps{Snapshots: &stubCapital{err: errors.Wrap(errors.ErrNotFound, "key portfolio:capital")}})
	assert.NoError(t, m.Process(context.Background()))
	assert.Zero(t, m.drawdown.Peak())
}

func TestHandleRiskRequest_PublishesResponseOnce(t *testing.T) {
	_, b := newTestManager(t, Deps{})
	ctx := context.Background()

	req := request(longSignal("AAPL", "tech", 100, 90, 120, 0.9), 100000)
	require.NoError(t, b.Deliver(ctx, bus.TopicRiskRequests, req))
	require.NoError(t, b.Deliver(ctx, bus.TopicRiskRequests, req))

	resps := bustest.PublishedAs[trading.RiskResponse](b, bus.TopicRiskResponses)
	require.Len(t, resps, 1)
	assert.Equal(t, req.RequestID, resps[0].RequestID)
	assert.True(t, resps[0].Approved)
}

func TestHandleRiskRequest_RequiresID(t *testing.T) {
	m, _ := newTestManager(t, Deps{})
	req := request(longSignal("AAPL", "tech", 100, 90, 120, 0.9), 100000)
	req.RequestID = ""
	assert.ErrorIs(t, m.HandleRiskRequest(context.Background(), req), errors.ErrInvalidInput)
}

func TestCurrentLimits(t *testing.T) {
	m, _ := newTestManager(t, Deps{})
	l := m.CurrentLimits()
	assert.Equal(t, 0.20, l.MaxPositionPct)
	assert.Equal(t, 0.40, l.MaxSectorPct)
	assert.Equal(t, 0.70, l.MaxCorrelation)
	assert.Equal(t, 0.15, l.MaxDrawdownPct)
	assert.Equal(t, 0.10, l.MinCashReservePct)
}

// memoryRiskStore keeps kill switch state and peak the way the Redis store does
type memoryRiskStore struct {
	mu    sync.Mutex
	state *KillSwitchState
	peak  float64
}

func (s *memoryRiskStore) Save(ctx context.Context, st *KillSwitchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.state = &cp
	return nil
}

func (s *memoryRiskStore) Load(ctx context.Context) (*KillSwitchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	cp := *s.state
	return &cp, nil
}

func (s *memoryRiskStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.state = nil
	s.mu.Unlock()
	return nil
}

func (s *memoryRiskStore) SavePeak(ctx context.Context, peak float64) error {
	s.mu.Lock()
	s.peak = peak
	s.mu.Unlock()
	return nil
}

func (s *memoryRiskStore) LoadPeak(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak, nil
}

func TestDrawdownPeakSurvivesRestart(t *testing.T) {
	store := &memoryRiskStore{}
	ctx := context.Background()

	capital := &stubCapital{capital: 100000}
	first, _ := newTestManager(t, Deps{Snapshots: capital, KillSwitchStore: store, Peaks: store})
	require.NoError(t, first.Process(ctx))
	capital.set(90000)
	require.NoError(t, first.Process(ctx))
	require.False(t, first.KillSwitchActive())
	assert.Equal(t, 100000.0, store.peak)

	// restart on the same storage
	capital.set(90000)
	second, b := newTestManager(t, Deps{Snapshots: capital, KillSwitchStore: store, Peaks: store})
	assert.Equal(t, 100000.0, second.drawdown.Peak())

	require.NoError(t, second.Process(ctx))
	assert.InDelta(t, 0.10, second.drawdown.Drawdown(), 1e-9)

	capital.set(80000) // 20% below the pre-restart peak
	require.NoError(t, second.Process(ctx))
	require.True(t, second.KillSwitchActive())
	require.NotNil(t, store.state)
	assert.True(t, store.state.Active)

	resp := second.Validate(ctx, request(longSignal("AAPL", "tech", 100, 90, 120, 0.9), 80000))
	assert.False(t, resp.Approved)
	assert.Contains(t, resp.RejectionReason, "KILL SWITCH")

	alerts := bustest.PublishedAs[trading.Alert](b, bus.TopicAlerts)
	require.NotEmpty(t, alerts)
	assert.Equal(t, trading.SeverityCritical, alerts[len(alerts)-1].Severity)
}

func TestResetPersistsRebasedPeak(t *testing.T) {
	store := &memoryRiskStore{}
	capital := &stubCapital{capital: 100000}
	m, _ := newTestManager(t, Deps{Snapshots: capital, KillSwitchStore: store, Peaks: store})
	ctx := context.Background()

	require.NoError(t, m.Process(ctx))
	capital.set(80000)
	require.NoError(t, m.Process(ctx))
	require.True(t, m.KillSwitchActive())

	require.NoError(t, m.ResetKillSwitch(ctx))
	assert.Equal(t, 80000.0, store.peak)
	assert.Nil(t, store.state)
}

type failingPeaks struct{}

func (failingPeaks) SavePeak(ctx context.Context, peak float64) error { return errors.ErrUnavailable }
func (failingPeaks) LoadPeak(ctx context.Context) (float64, error)    { return 0, errors.ErrTimeout }

func TestManager_SetupFailsWhenPeakUnreadable(t *testing.T) {
	b := bustest.NewBroker()
	m := NewManager(Config{}, Deps{Bus: b, Peaks: failingPeaks{}})

	err := m.Setup(context.Background())
	assert.ErrorIs(t, err, errors.ErrTimeout)
	assert.False(t, b.Subscribed(bus.TopicRiskRequests))
}

func TestProcess_SweepsExpiredRequestIDs(t *testing.T) {
	now := testNow
	b := bustest.NewBroker()
	m := NewManager(Config{DedupWindow: 5 * time.Minute}, Deps{Bus: b}).
		WithClock(func() time.Time { return now })
	ctx := context.Background()
	require.NoError(t, m.Setup(ctx))

	for i := 0; i < 50; i++ {
		req := request(longSignal("AAPL", "tech", 100, 90, 120, 0.9), 100000)
		require.NoError(t, m.HandleRiskRequest(ctx, req))
	}
	assert.Equal(t, 50, m.seen.Len())

	now = now.Add(24 * time.Hour)
	require.NoError(t, m.Process(ctx))
	assert.Zero(t, m.seen.Len())
}
