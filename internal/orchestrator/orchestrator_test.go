package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/bus"
	"tradecore/internal/bus/bustest"
	domain "tradecore/internal/domain/audit"
	"tradecore/internal/domain/trading"
	"tradecore/pkg/errors"
)

type fakeSnapshots struct {
	capital   float64
	positions []trading.PositionSnapshot
	err       error
}

func (f *fakeSnapshots) GetCapital(ctx context.Context) (float64, error) {
	return f.capital, f.err
}

func (f *fakeSnapshots) GetPositions(ctx context.Context) ([]trading.PositionSnapshot, error) {
	return f.positions, f.err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	orch  *Orchestrator
	bus   *bustest.Broker
	clock *clock
	snap  *fakeSnapshots
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		bus:   bustest.NewBroker(),
		clock: &clock{now: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)},
		snap:  &fakeSnapshots{capital: 100000},
	}
	f.orch = New(cfg, Deps{Bus: f.bus, Snapshots: f.snap}).WithClock(f.clock.Now)
	require.NoError(t, f.orch.Setup(context.Background()))
	return f
}

func aaplSignal(confidence float64) *trading.TradingSignal {
	return &trading.TradingSignal{
		SourceAgent: "technical_analyst",
		AgentType:   "technical",
		Symbol:      "AAPL",
		Direction:   trading.DirectionLong,
		Confidence:  confidence,
		EntryPrice:  150,
		StopLoss:    145,
		TakeProfit:  165,
	}
}

func (f *fixture) lastRequest(t *testing.T) *trading.RiskRequest {
	t.Helper()
	reqs := bustest.PublishedAs[trading.RiskRequest](f.bus, bus.TopicRiskRequests)
	require.NotEmpty(t, reqs)
	return reqs[len(reqs)-1]
}

func TestSetup_Subscribes(t *testing.T) {
	f := newFixture(t, Config{})
	assert.True(t, f.bus.Subscribed(bus.TopicSignals))
	assert.True(t, f.bus.Subscribed(bus.TopicRiskResponses))
}

func TestSetup_RequiresSnapshots(t *testing.T) {
	o := New(Config{}, Deps{Bus: bustest.NewBroker()})
	assert.ErrorIs(t, o.Setup(context.Background()), errors.ErrInvalidInput)
}

func TestScore(t *testing.T) {
	f := newFixture(t, Config{Weights: map[string]float64{"technical": 3, "sentiment": 1}})

	tests := []struct {
		agentType string
		conf      float64
		expected  float64
	}{
		{"technical", 0.8, 0.6},
		{"sentiment", 0.8, 0.2},
		{"unknown", 0.9, 0},
	}
	for _, tt := range tests {
		t.Run(tt.agentType, func(t *testing.T) {
			sig := aaplSignal(tt.conf)
			sig.AgentType = tt.agentType
			assert.InDelta(t, tt.expected, f.orch.Score(sig), 1e-9)
		})
	}
}

func TestScenario_AAPLApprovedWithFullSize(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.bus.Deliver(ctx, bus.TopicSignals, aaplSignal(0.9)))
	req := f.lastRequest(t)
	assert.Equal(t, 100000.0, req.Capital)
	assert.Equal(t, 1, f.orch.PendingCount())

	require.NoError(t, f.bus.Deliver(ctx, bus.TopicRiskResponses, &trading.RiskResponse{
		RequestID:    req.RequestID,
		Approved:     true,
		OriginalSize: 360,
		AdjustedSize: 40,
	}))

	decisions := bustest.PublishedAs[trading.Decision](f.bus, bus.TopicDecisions)
	require.Len(t, decisions, 1)
	assert.Equal(t, 40.0, decisions[0].Size)
	assert.InDelta(t, 0.9, decisions[0].Score, 1e-9)
	assert.Equal(t, trading.ActionExecute, decisions[0].Action)
	assert.Equal(t, req.RequestID, decisions[0].RequestID)
	assert.NotEmpty(t, decisions[0].DecisionID)
	assert.Zero(t, f.orch.PendingCount())

	trail := f.orch.AuditTrail(0)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.ActionApproved, trail[0].Action)
	assert.Equal(t, 40.0, trail[0].Size)
	assert.Equal(t, "technical_analyst", trail[0].Agent)
}

func TestReducedConvictionHalvesSize(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.orch.HandleSignal(ctx, aaplSignal(0.55)))
	req := f.lastRequest(t)

	require.NoError(t, f.orch.HandleRiskResponse(ctx, &trading.RiskResponse{
		RequestID: req.RequestID, Approved: true, AdjustedSize: 40,
	}))

	decisions := bustest.PublishedAs[trading.Decision](f.bus, bus.TopicDecisions)
	require.Len(t, decisions, 1)
	assert.Equal(t, 20.0, decisions[0].Size)
	assert.Contains(t, decisions[0].Reasoning, "reduced conviction")
}

func TestLowScoreDiscardedWithoutRiskCall(t *testing.T) {
	f := newFixture(t, Config{})

	require.NoError(t, f.orch.HandleSignal(context.Background(), aaplSignal(0.4)))

	assert.Empty(t, f.bus.Published(bus.TopicRiskRequests))
	trail := f.orch.AuditTrail(0)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.ActionDiscarded, trail[0].Action)
	assert.Contains(t, trail[0].Reason, "below threshold")
}

func TestInvalidSignalAudited(t *testing.T) {
	f := newFixture(t, Config{})
	sig := aaplSignal(0.9)
	sig.StopLoss = 160

	require.NoError(t, f.orch.HandleSignal(context.Background(), sig))

	assert.Empty(t, f.bus.Published(bus.TopicRiskRequests))
	trail := f.orch.AuditTrail(0)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.ActionInvalid, trail[0].Action)
}

func TestSnapshotFailureAudited(t *testing.T) {
	f := newFixture(t, Config{})
	f.snap.err = errors.ErrTimeout

	require.NoError(t, f.orch.HandleSignal(context.Background(), aaplSignal(0.9)))

	assert.Empty(t, f.bus.Published(bus.TopicRiskRequests))
	assert.Zero(t, f.orch.PendingCount())
	trail := f.orch.AuditTrail(0)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.ActionFailed, trail[0].Action)
}

func TestRejectedResponseRecordsReason(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.orch.HandleSignal(ctx, aaplSignal(0.9)))
	req := f.lastRequest(t)

	require.NoError(t, f.orch.HandleRiskResponse(ctx,
		trading.Reject(req.RequestID, "KILL SWITCH activated: drawdown", nil, f.clock.Now())))

	assert.Empty(t, f.bus.Published(bus.TopicDecisions))
	trail := f.orch.AuditTrail(0)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.ActionRejected, trail[0].Action)
	assert.Equal(t, "KILL SWITCH activated: drawdown", trail[0].Reason)
}

func TestDuplicateResponseNeverDecidesTwice(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.orch.HandleSignal(ctx, aaplSignal(0.9)))
	req := f.lastRequest(t)
	resp := &trading.RiskResponse{RequestID: req.RequestID, Approved: true, AdjustedSize: 10}

	require.NoError(t, f.orch.HandleRiskResponse(ctx, resp))
	require.NoError(t, f.orch.HandleRiskResponse(ctx, resp))

	assert.Len(t, f.bus.Published(bus.TopicDecisions), 1)
	assert.Equal(t, 1, f.orch.deps.Audit.Len())
}

func TestPendingExpiresAfterTimeout(t *testing.T) {
	f := newFixture(t, Config{PendingTimeout: 30 * time.Second})
	ctx := context.Background()

	require.NoError(t, f.orch.HandleSignal(ctx, aaplSignal(0.9)))
	req := f.lastRequest(t)

	f.clock.Advance(20 * time.Second)
	require.NoError(t, f.orch.Process(ctx))
	assert.Equal(t, 1, f.orch.PendingCount())

	f.clock.Advance(11 * time.Second)
	require.NoError(t, f.orch.Process(ctx))
	assert.Zero(t, f.orch.PendingCount())

	trail := f.orch.AuditTrail(0)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.ActionExpired, trail[0].Action)
	assert.Equal(t, req.RequestID, trail[0].RequestID)

	// late response is an orphan
	require.NoError(t, f.orch.HandleRiskResponse(ctx, &trading.RiskResponse{
		RequestID: req.RequestID, Approved: true, AdjustedSize: 10,
	}))
	assert.Empty(t, f.bus.Published(bus.TopicDecisions))

	require.NoError(t, f.orch.Process(ctx))
	assert.Len(t, f.orch.AuditTrail(0), 1, "expiry is recorded once")
}

func TestPublishFailureDropsPending(t *testing.T) {
	f := newFixture(t, Config{})
	f.bus.FailPublish(bus.TopicRiskRequests, errors.ErrUnavailable)

	err := f.orch.HandleSignal(context.Background(), aaplSignal(0.9))
	assert.ErrorIs(t, err, errors.ErrUnavailable)
	assert.Zero(t, f.orch.PendingCount())

	trail := f.orch.AuditTrail(0)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.ActionFailed, trail[0].Action)
}

func TestMalformedResponseAuditedAsInvalid(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.orch.HandleSignal(ctx, aaplSignal(0.9)))
	req := f.lastRequest(t)

	require.NoError(t, f.orch.HandleRiskResponse(ctx, &trading.RiskResponse{
		RequestID: req.RequestID, Approved: false, AdjustedSize: 12,
	}))

	assert.Empty(t, f.bus.Published(bus.TopicDecisions))
	trail := f.orch.AuditTrail(0)
	require.Len(t, trail, 1)
	assert.Equal(t, domain.ActionInvalid, trail[0].Action)
}
