package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"tradecore/internal/agent"
	"tradecore/internal/audit"
	"tradecore/internal/bus"
	domain "tradecore/internal/domain/audit"
	"tradecore/internal/domain/portfolio"
	"tradecore/internal/domain/trading"
	"tradecore/internal/metrics"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

const AgentName = "orchestrator"

const (
	fullSizingFactor    = 1.0
	reducedSizingFactor = 0.5
)

// Config tunes scoring and pending-request handling
type Config struct {
	Interval          time.Duration
	PendingTimeout    time.Duration
	SnapshotTimeout   time.Duration
	DecisionThreshold float64
	ReducedThreshold  float64
	// Weights per producing agent type; an unknown type scores zero
	Weights map[string]float64

	MaxConsecutiveErrors int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	StopGrace            time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = 30 * time.Second
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = 3 * time.Second
	}
	if c.DecisionThreshold <= 0 {
		c.DecisionThreshold = 0.65
	}
	if c.ReducedThreshold <= 0 {
		c.ReducedThreshold = 0.50
	}
	if len(c.Weights) == 0 {
		c.Weights = map[string]float64{"technical": 1.0}
	}
}

type Deps struct {
	Bus       bus.Broker
	Snapshots portfolio.SnapshotStore
	Audit     *audit.Log
}

type pending struct {
	request      *trading.RiskRequest
	score        float64
	sizingFactor float64
	createdAt    time.Time
}

// Orchestrator turns signals into scored candidates, asks the risk manager
// to validate them and publishes decisions for approved ones.
type Orchestrator struct {
	*agent.Runtime

	cfg         Config
	deps        Deps
	log         *logger.Logger
	now         func() time.Time
	weightTotal float64

	mu      sync.Mutex
	pending map[string]*pending
}

func New(cfg Config, deps Deps) *Orchestrator {
	cfg.applyDefaults()
	if deps.Audit == nil {
		deps.Audit = audit.NewLog(0, nil)
	}

	total := 0.0
	for _, w := range cfg.Weights {
		if w > 0 {
			total += w
		}
	}

	o := &Orchestrator{
		cfg:         cfg,
		deps:        deps,
		now:         time.Now,
		weightTotal: total,
		pending:     make(map[string]*pending),
	}
	o.Runtime = agent.NewRuntime(o, agent.Options{
		Name:                 AgentName,
		Interval:             cfg.Interval,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		BackoffBase:          cfg.BackoffBase,
		BackoffMax:           cfg.BackoffMax,
		StopGrace:            cfg.StopGrace,
	})
	o.log = o.Runtime.Log()
	return o
}

// WithClock replaces the time source, for tests
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Setup subscribes to trading signals and risk responses
func (o *Orchestrator) Setup(ctx context.Context) error {
	if o.deps.Bus == nil {
		return errors.Wrap(errors.ErrInvalidInput, "orchestrator requires a bus")
	}
	if o.deps.Snapshots == nil {
		return errors.Wrap(errors.ErrInvalidInput, "orchestrator requires a snapshot store")
	}
	if err := o.deps.Bus.Subscribe(ctx, bus.TopicSignals, bus.Handle(o.HandleSignal)); err != nil {
		return err
	}
	return o.deps.Bus.Subscribe(ctx, bus.TopicRiskResponses, bus.Handle(o.HandleRiskResponse))
}

// Process sweeps pending validations that outlived PendingTimeout
func (o *Orchestrator) Process(ctx context.Context) error {
	now := o.now()

	o.mu.Lock()
	var expired []*pending
	for id, p := range o.pending {
		if now.Sub(p.createdAt) > o.cfg.PendingTimeout {
			expired = append(expired, p)
			delete(o.pending, id)
		}
	}
	remaining := len(o.pending)
	o.mu.Unlock()

	metrics.OrchestratorPending.Set(float64(remaining))

	for _, p := range expired {
		o.log.Warnw("Risk validation expired without response",
			"request_id", p.request.RequestID,
			"symbol", p.request.Signal.Symbol,
			"age", now.Sub(p.createdAt),
		)
		o.audit(ctx, &p.request.Signal, p.request.RequestID, p.score, domain.ActionExpired, 0,
			fmt.Sprintf("no risk response within %s", o.cfg.PendingTimeout))
	}
	return nil
}

// Score weights a signal's confidence by its producer's share of total weight
func (o *Orchestrator) Score(sig *trading.TradingSignal) float64 {
	if o.weightTotal <= 0 {
		return 0
	}
	w := o.cfg.Weights[sig.AgentType]
	if w <= 0 {
		return 0
	}
	return sig.Confidence * (w / o.weightTotal)
}

// HandleSignal scores a signal and either discards it or sends it for risk validation
func (o *Orchestrator) HandleSignal(ctx context.Context, sig *trading.TradingSignal) error {
	if err := sig.Validate(); err != nil {
		o.audit(ctx, sig, "", 0, domain.ActionInvalid, 0, fmt.Sprintf("invalid signal: %v", err))
		return nil
	}

	score := o.Score(sig)
	metrics.SignalScore.WithLabelValues(sig.AgentType).Observe(score)

	if score < o.cfg.ReducedThreshold {
		o.audit(ctx, sig, "", score, domain.ActionDiscarded, 0,
			fmt.Sprintf("score %.2f below threshold %.2f", score, o.cfg.ReducedThreshold))
		return nil
	}

	capital, positions, err := o.snapshot(ctx)
	if err != nil {
		o.audit(ctx, sig, "", score, domain.ActionFailed, 0, fmt.Sprintf("portfolio snapshot unavailable: %v", err))
		return nil
	}

	factor := reducedSizingFactor
	if score >= o.cfg.DecisionThreshold {
		factor = fullSizingFactor
	}

	req := trading.NewRiskRequest(*sig, capital, positions, o.now())

	o.mu.Lock()
	o.pending[req.RequestID] = &pending{
		request:      req,
		score:        score,
		sizingFactor: factor,
		createdAt:    req.CreatedAt,
	}
	count := len(o.pending)
	o.mu.Unlock()
	metrics.OrchestratorPending.Set(float64(count))

	if err := o.deps.Bus.Publish(ctx, bus.TopicRiskRequests, req); err != nil {
		o.mu.Lock()
		delete(o.pending, req.RequestID)
		o.mu.Unlock()
		o.audit(ctx, sig, req.RequestID, score, domain.ActionFailed, 0, fmt.Sprintf("risk request not sent: %v", err))
		return errors.Wrapf(err, "publish risk request %s", req.RequestID)
	}

	o.log.Debugw("Risk validation requested",
		"request_id", req.RequestID,
		"symbol", sig.Symbol,
		"score", score,
		"sizing_factor", factor,
	)
	return nil
}

// HandleRiskResponse completes a pending validation. A response without a
// pending entry is an orphan and is discarded.
func (o *Orchestrator) HandleRiskResponse(ctx context.Context, resp *trading.RiskResponse) error {
	o.mu.Lock()
	p, ok := o.pending[resp.RequestID]
	if ok {
		delete(o.pending, resp.RequestID)
	}
	count := len(o.pending)
	o.mu.Unlock()

	if !ok {
		metrics.OrchestratorOrphans.Inc()
		o.log.Warnw("Orphan risk response discarded", "request_id", resp.RequestID, "approved", resp.Approved)
		return nil
	}
	metrics.OrchestratorPending.Set(float64(count))

	sig := &p.request.Signal

	if err := resp.Validate(); err != nil {
		o.audit(ctx, sig, resp.RequestID, p.score, domain.ActionInvalid, 0, fmt.Sprintf("malformed risk response: %v", err))
		return nil
	}

	if !resp.Approved {
		o.audit(ctx, sig, resp.RequestID, p.score, domain.ActionRejected, 0, resp.RejectionReason)
		return nil
	}

	size := resp.AdjustedSize * p.sizingFactor
	decision := &trading.Decision{
		DecisionID:  uuid.NewString(),
		RequestID:   resp.RequestID,
		Signal:      *sig,
		Score:       p.score,
		Action:      trading.ActionExecute,
		Size:        size,
		Adjustments: resp.Adjustments,
		Reasoning:   o.reasoning(p, resp, size),
		Timestamp:   o.now(),
	}

	if err := o.deps.Bus.Publish(ctx, bus.TopicDecisions, decision); err != nil {
		o.audit(ctx, sig, resp.RequestID, p.score, domain.ActionFailed, size, fmt.Sprintf("decision not published: %v", err))
		return errors.Wrapf(err, "publish decision %s", decision.DecisionID)
	}

	o.audit(ctx, sig, resp.RequestID, p.score, domain.ActionApproved, size, decision.Reasoning)
	return nil
}

// AuditTrail returns up to n of the newest audit records
func (o *Orchestrator) AuditTrail(n int) []domain.Record {
	return o.deps.Audit.Recent(n)
}

// PendingCount returns the number of validations awaiting a response
func (o *Orchestrator) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

func (o *Orchestrator) snapshot(ctx context.Context) (float64, []trading.PositionSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.SnapshotTimeout)
	defer cancel()

	start := time.Now()
	capital, err := o.deps.Snapshots.GetCapital(ctx)
	if err == nil && capital <= 0 {
		err = errors.NewValidationError("capital", "must be positive", capital)
	}
	metrics.RecordCollaboratorCall("capital", time.Since(start), err)
	if err != nil {
		return 0, nil, errors.Wrap(err, "read capital")
	}

	start = time.Now()
	positions, err := o.deps.Snapshots.GetPositions(ctx)
	metrics.RecordCollaboratorCall("positions", time.Since(start), err)
	if err != nil {
		return 0, nil, errors.Wrap(err, "read positions")
	}
	return capital, positions, nil
}

func (o *Orchestrator) reasoning(p *pending, resp *trading.RiskResponse, size float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "score %.2f, risk size %s x factor %.1f = %s",
		p.score,
		humanize.FtoaWithDigits(resp.AdjustedSize, 4),
		p.sizingFactor,
		humanize.FtoaWithDigits(size, 4),
	)
	if p.sizingFactor < fullSizingFactor {
		fmt.Fprintf(&b, " (reduced conviction, below %.2f)", o.cfg.DecisionThreshold)
	}
	for _, a := range resp.Adjustments {
		fmt.Fprintf(&b, "; %s x%.2f", a.Reason, a.Factor)
	}
	for _, w := range resp.Warnings {
		fmt.Fprintf(&b, "; warning: %s", w)
	}
	return b.String()
}

func (o *Orchestrator) audit(ctx context.Context, sig *trading.TradingSignal, requestID string, score float64, action domain.Action, size float64, reason string) {
	o.deps.Audit.Append(ctx, domain.Record{
		Timestamp:  o.now(),
		RequestID:  requestID,
		Symbol:     sig.Symbol,
		Direction:  sig.Direction.String(),
		Agent:      sig.SourceAgent,
		Confidence: sig.Confidence,
		Score:      score,
		Action:     action,
		Size:       size,
		Reason:     reason,
	})
}
