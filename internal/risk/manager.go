package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"tradecore/internal/agent"
	"tradecore/internal/bus"
	"tradecore/internal/cache"
	"tradecore/internal/domain/portfolio"
	"tradecore/internal/domain/trading"
	"tradecore/internal/metrics"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

// AgentName identifies the risk manager on the bus and in health reports
const AgentName = "risk_manager"

// Rejection reason codes used as metric labels
const (
	rejectInvalidSignal = "invalid_signal"
	rejectKillSwitch    = "kill_switch"
	rejectExposure      = "exposure_unavailable"
	rejectCashReserve   = "cash_reserve"
	rejectDrawdown      = "drawdown"
	rejectNoPrice       = "no_price"
	rejectSectorLimit   = "sector_limit"
	rejectZeroSize      = "zero_size"
)

// Config tunes the risk manager. Limits themselves are not configurable.
type Config struct {
	MonitorInterval      time.Duration
	CollaboratorTimeout  time.Duration
	DedupWindow          time.Duration
	MaxConsecutiveErrors int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	StopGrace            time.Duration
}

// Deps are the collaborators the risk manager talks to. Exposure is required;
// the rest are optional and their absence skips the check that needs them.
type Deps struct {
	Bus             bus.Broker
	Exposure        ExposureCalculator
	Regime          RegimeProvider
	Correlations    CorrelationSource
	Prices          PriceSource
	Snapshots       portfolio.SnapshotStore
	KillSwitchStore KillSwitchStore
	Peaks           PeakStore
}

// Manager validates risk requests against hard limits, sizes positions and
// owns the kill switch. It also runs a periodic drawdown monitor.
type Manager struct {
	*agent.Runtime

	cfg  Config
	deps Deps
	log  *logger.Logger
	now  func() time.Time

	killSwitch *KillSwitch
	drawdown   *DrawdownTracker
	seen       *cache.TTL[string, struct{}]

	mu             sync.Mutex
	alertPending   bool
	drawdownWarned bool
}

func NewManager(cfg Config, deps Deps) *Manager {
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 30 * time.Second
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = 5 * time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Minute
	}
	if deps.Exposure == nil {
		deps.Exposure = LocalExposure{}
	}

	m := &Manager{
		cfg:      cfg,
		deps:     deps,
		now:      time.Now,
		drawdown: &DrawdownTracker{},
		seen:     cache.NewTTL[string, struct{}](cfg.DedupWindow),
	}
	m.Runtime = agent.NewRuntime(m, agent.Options{
		Name:                 AgentName,
		Interval:             cfg.MonitorInterval,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		BackoffBase:          cfg.BackoffBase,
		BackoffMax:           cfg.BackoffMax,
		StopGrace:            cfg.StopGrace,
	})
	m.log = m.Runtime.Log()
	m.killSwitch = NewKillSwitch(deps.KillSwitchStore, m.log)
	return m
}

// WithClock replaces the time source, for tests
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	m.seen.WithClock(now)
	return m
}

// Setup restores persisted kill switch state and drawdown peak, then
// subscribes to risk requests
func (m *Manager) Setup(ctx context.Context) error {
	if err := m.killSwitch.Restore(ctx); err != nil {
		return err
	}
	metrics.SetKillSwitch(m.killSwitch.IsActive())

	if m.deps.Peaks != nil {
		peak, err := m.deps.Peaks.LoadPeak(ctx)
		if err != nil {
			return errors.Wrap(err, "load drawdown peak")
		}
		m.drawdown.Restore(peak)
		if peak > 0 {
			m.log.Infow("Drawdown peak restored", "peak", humanize.Commaf(peak))
		}
	}

	if m.deps.Bus == nil {
		return errors.Wrap(errors.ErrInvalidInput, "risk manager requires a bus")
	}
	return m.deps.Bus.Subscribe(ctx, bus.TopicRiskRequests, bus.Handle(m.HandleRiskRequest))
}

// Process is the drawdown monitor. It re-sends an undelivered kill switch
// alert and checks current capital against the peak.
func (m *Manager) Process(ctx context.Context) error {
	if n := m.seen.Sweep(); n > 0 {
		m.log.Debugw("Expired request ids evicted", "count", n)
	}

	m.mu.Lock()
	pending := m.alertPending
	m.mu.Unlock()
	if pending {
		m.publishKillSwitchAlert(ctx)
	}

	if m.deps.Snapshots == nil {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.CollaboratorTimeout)
	defer cancel()

	start := time.Now()
	capital, err := m.deps.Snapshots.GetCapital(cctx)
	metrics.RecordCollaboratorCall("capital", time.Since(start), err)
	if errors.Is(err, errors.ErrNotFound) {
		m.log.Debug("No capital published yet")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read capital")
	}

	dd := m.observeCapital(ctx, capital)
	if dd > MaxDrawdownPct {
		m.trip(ctx, dd, capital)
		return nil
	}
	m.checkDrawdownWarning(ctx, dd, capital)
	return nil
}

// HandleRiskRequest validates one request and publishes the response.
// Requests already seen within the dedup window are dropped.
func (m *Manager) HandleRiskRequest(ctx context.Context, req *trading.RiskRequest) error {
	if req.RequestID == "" {
		return errors.NewValidationError("request_id", "required", req.RequestID)
	}
	if !m.seen.SetIfAbsent(req.RequestID, struct{}{}) {
		m.log.Debugw("Duplicate risk request dropped", "request_id", req.RequestID)
		return nil
	}

	resp := m.Validate(ctx, req)

	if err := m.deps.Bus.Publish(ctx, bus.TopicRiskResponses, resp); err != nil {
		return errors.Wrapf(err, "publish risk response %s", req.RequestID)
	}
	return nil
}

// Validate runs the full check sequence for one request. It never returns
// an error: collaborator failures either reject (exposure, price) or degrade
// to a warning (regime, correlations).
func (m *Manager) Validate(ctx context.Context, req *trading.RiskRequest) *trading.RiskResponse {
	sig := &req.Signal
	log := m.log.With("request_id", req.RequestID, "symbol", sig.Symbol)

	if err := sig.Validate(); err != nil {
		return m.reject(log, req, rejectInvalidSignal, fmt.Sprintf("invalid signal: %v", err), nil)
	}

	if err := m.killSwitch.Check(); err != nil {
		log.Debugw("Trading halted", "error", err)
		return m.reject(log, req, rejectKillSwitch,
			fmt.Sprintf("KILL SWITCH activated: %s", m.killSwitch.State().Reason), nil)
	}

	var warnings []string

	exp, err := m.exposure(ctx, req)
	if err != nil {
		return m.reject(log, req, rejectExposure, fmt.Sprintf("exposure unavailable: %v", err), nil)
	}

	if exp.CashPct < MinCashReservePct {
		return m.reject(log, req, rejectCashReserve,
			fmt.Sprintf("cash reserve %.1f%% below minimum %.0f%%", exp.CashPct*100, MinCashReservePct*100), nil)
	}

	dd := m.observeCapital(ctx, req.Capital)
	if dd > MaxDrawdownPct {
		m.trip(ctx, dd, req.Capital)
		return m.reject(log, req, rejectDrawdown,
			fmt.Sprintf("drawdown %.1f%% exceeds limit %.0f%%; KILL SWITCH activated", dd*100, MaxDrawdownPct*100), nil)
	}

	entry := sig.EntryPrice
	stop := sig.StopLoss
	if sig.IsMarket() {
		price, err := m.quote(ctx, sig.Symbol)
		if err != nil {
			return m.reject(log, req, rejectNoPrice, fmt.Sprintf("no price for market signal: %v", err), nil)
		}
		entry = price
	}

	sizing := BaseSize(SizingInput{
		Capital:    req.Capital,
		Entry:      entry,
		StopLoss:   stop,
		Confidence: sig.Confidence,
	})
	warnings = append(warnings, sizing.Warnings...)
	sizing.CapToPosition(req.Capital, entry)

	sector := sectorKey(sig.Sector)
	sectorAfter := exp.BySector[sector] + sizing.Value(entry)/req.Capital
	if sectorAfter > MaxSectorPct {
		return m.reject(log, req, rejectSectorLimit,
			fmt.Sprintf("sector %s exposure would reach %.1f%%, limit %.0f%%", sector, sectorAfter*100, MaxSectorPct*100),
			warnings)
	}
	if sectorAfter >= MaxSectorPct*SectorWarningRatio {
		warnings = append(warnings,
			fmt.Sprintf("sector %s exposure at %.1f%% approaching limit %.0f%%", sector, sectorAfter*100, MaxSectorPct*100))
	}

	corr, err := m.correlations(ctx, sig.Symbol)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("correlations unavailable: %v", err))
	}
	if c := maxCorrelation(sig, req.Positions, corr); c > CorrelationReduceThreshold {
		sizing.Reduce(AdjustCorrelation, CorrelationReduceFactor)
		if c > MaxCorrelation {
			warnings = append(warnings, fmt.Sprintf("correlation %.2f with existing holdings exceeds %.2f", c, MaxCorrelation))
		}
	}

	if m.deps.Regime != nil {
		rctx, cancel := context.WithTimeout(ctx, m.cfg.CollaboratorTimeout)
		start := time.Now()
		r, err := m.deps.Regime.GetRegime(rctx, sig.Symbol)
		cancel()
		metrics.RecordCollaboratorCall("regime", time.Since(start), err)

		switch {
		case err != nil:
			warnings = append(warnings, fmt.Sprintf("regime unavailable: %v", err))
		case r.IsHighVolatility():
			sizing.Reduce(AdjustHighVolatility, HighVolatilityReduceFactor)
		}
	}

	final := sizing.Final()
	if final <= 0 {
		return m.reject(log, req, rejectZeroSize, "computed position size is zero", warnings)
	}

	for _, a := range sizing.Adjustments {
		metrics.RiskAdjustments.WithLabelValues(a.Reason).Inc()
	}
	metrics.RecordRiskValidation(true, "")

	log.Infow("Risk request approved",
		"original_size", sizing.OriginalSize(),
		"adjusted_size", final,
		"adjustments", len(sizing.Adjustments),
		"warnings", len(warnings),
	)

	return &trading.RiskResponse{
		RequestID:    req.RequestID,
		Approved:     true,
		OriginalSize: sizing.OriginalSize(),
		AdjustedSize: final,
		Adjustments:  sizing.Adjustments,
		Warnings:     warnings,
		Timestamp:    m.now(),
	}
}

// KillSwitchActive reports whether trading is halted
func (m *Manager) KillSwitchActive() bool {
	return m.killSwitch.IsActive()
}

// KillSwitchState returns the current kill switch record
func (m *Manager) KillSwitchState() KillSwitchState {
	return m.killSwitch.State()
}

// ResetKillSwitch is the explicit operator action that resumes trading.
// The drawdown peak is rebased to current capital so the monitor does not
// trip again on the same loss.
func (m *Manager) ResetKillSwitch(ctx context.Context) error {
	was := m.killSwitch.State()
	if err := m.killSwitch.Reset(ctx); err != nil {
		return err
	}
	m.savePeak(ctx, m.drawdown.Rebase())
	metrics.SetKillSwitch(false)
	metrics.PortfolioDrawdown.Set(m.drawdown.Drawdown())

	m.mu.Lock()
	m.alertPending = false
	m.drawdownWarned = false
	m.mu.Unlock()

	if !was.Active {
		return nil
	}
	alert := trading.NewAlert(AgentName, trading.SeverityInfo, "Kill switch reset; trading resumed",
		map[string]interface{}{"previous_reason": was.Reason}, m.now())
	if err := m.deps.Bus.Publish(ctx, bus.TopicAlerts, alert); err != nil {
		m.log.Warnw("Failed to publish kill switch reset alert", "error", err)
	}
	return nil
}

// CurrentLimits exposes the hard ceilings
func (m *Manager) CurrentLimits() Limits {
	return CurrentLimits()
}

// observeCapital feeds the drawdown tracker and persists any new peak
func (m *Manager) observeCapital(ctx context.Context, capital float64) float64 {
	dd, raised := m.drawdown.Observe(capital)
	metrics.PortfolioDrawdown.Set(dd)
	if raised {
		m.savePeak(ctx, m.drawdown.Peak())
	}
	return dd
}

// savePeak persists peak. A failed write is logged; the next new high retries it.
func (m *Manager) savePeak(ctx context.Context, peak float64) {
	if m.deps.Peaks == nil || peak <= 0 {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CollaboratorTimeout)
	defer cancel()
	if err := m.deps.Peaks.SavePeak(cctx, peak); err != nil {
		m.log.Errorw("Failed to persist drawdown peak", "peak", peak, "error", err)
	}
}

func (m *Manager) trip(ctx context.Context, dd, capital float64) {
	reason := fmt.Sprintf("drawdown %.1f%% exceeds %.0f%% limit", dd*100, MaxDrawdownPct*100)
	if !m.killSwitch.Activate(ctx, reason, dd, m.now()) {
		return
	}
	metrics.SetKillSwitch(true)

	m.mu.Lock()
	m.alertPending = true
	m.mu.Unlock()

	m.log.Errorw("Trading halted",
		"drawdown", dd,
		"capital", humanize.Commaf(capital),
		"peak", humanize.Commaf(m.drawdown.Peak()),
	)
	m.publishKillSwitchAlert(ctx)
}

func (m *Manager) publishKillSwitchAlert(ctx context.Context) {
	st := m.killSwitch.State()
	if !st.Active {
		return
	}
	alert := trading.NewAlert(AgentName, trading.SeverityCritical,
		fmt.Sprintf("KILL SWITCH activated: %s", st.Reason),
		map[string]interface{}{
			"drawdown":     st.Drawdown,
			"peak_capital": m.drawdown.Peak(),
			"activated_at": st.ActivatedAt,
		}, m.now())

	if err := m.deps.Bus.Publish(ctx, bus.TopicAlerts, alert); err != nil {
		m.log.Errorw("Failed to publish kill switch alert, will retry", "error", err)
		return
	}

	m.mu.Lock()
	m.alertPending = false
	m.mu.Unlock()
}

// checkDrawdownWarning sends one warning on entering the zone near the limit
// and re-arms once drawdown falls back out of it.
func (m *Manager) checkDrawdownWarning(ctx context.Context, dd, capital float64) {
	threshold := MaxDrawdownPct * DrawdownWarningRatio

	m.mu.Lock()
	warned := m.drawdownWarned
	if dd < threshold {
		m.drawdownWarned = false
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	if warned {
		return
	}

	alert := trading.NewAlert(AgentName, trading.SeverityWarning,
		fmt.Sprintf("Drawdown %.1f%% approaching %.0f%% limit", dd*100, MaxDrawdownPct*100),
		map[string]interface{}{
			"drawdown":     dd,
			"capital":      capital,
			"peak_capital": m.drawdown.Peak(),
		}, m.now())

	if err := m.deps.Bus.Publish(ctx, bus.TopicAlerts, alert); err != nil {
		m.log.Warnw("Failed to publish drawdown warning", "error", err)
		return
	}
	m.mu.Lock()
	m.drawdownWarned = true
	m.mu.Unlock()
}

func (m *Manager) exposure(ctx context.Context, req *trading.RiskRequest) (*Exposure, error) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CollaboratorTimeout)
	defer cancel()

	start := time.Now()
	exp, err := m.deps.Exposure.GetExposure(cctx, req.Capital, req.Positions)
	metrics.RecordCollaboratorCall("exposure", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, errors.Wrap(errors.ErrUnavailable, "empty exposure")
	}
	if exp.BySector == nil {
		exp.BySector = map[string]float64{}
	}
	return exp, nil
}

func (m *Manager) quote(ctx context.Context, symbol string) (float64, error) {
	if m.deps.Prices == nil {
		return 0, errors.Wrap(errors.ErrUnavailable, "no price source configured")
	}
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CollaboratorTimeout)
	defer cancel()

	start := time.Now()
	price, err := m.deps.Prices.GetPrice(cctx, symbol)
	metrics.RecordCollaboratorCall("price", time.Since(start), err)
	if err != nil {
		return 0, err
	}
	if !price.IsPositive() {
		return 0, errors.NewValidationError("price", "must be positive", price)
	}
	return price.InexactFloat64(), nil
}

func (m *Manager) correlations(ctx context.Context, symbol string) (map[string]float64, error) {
	if m.deps.Correlations == nil {
		return nil, nil
	}
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CollaboratorTimeout)
	defer cancel()

	start := time.Now()
	corr, err := m.deps.Correlations.GetCorrelations(cctx, symbol)
	metrics.RecordCollaboratorCall("correlations", time.Since(start), err)
	return corr, err
}

func (m *Manager) reject(log *logger.Logger, req *trading.RiskRequest, code, reason string, warnings []string) *trading.RiskResponse {
	metrics.RecordRiskValidation(false, code)
	log.Warnw("Risk request rejected", "reason", reason)
	return trading.Reject(req.RequestID, reason, warnings, m.now())
}
