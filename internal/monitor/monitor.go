package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/agent"
	"tradecore/internal/domain/position"
	"tradecore/internal/metrics"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

const AgentName = "position_monitor"

type Config struct {
	Interval      time.Duration
	FillTolerance float64
	EventCapacity int
	// OrderTTL sets ExpiresAt on orders registered without one
	OrderTTL    time.Duration
	CallTimeout time.Duration

	MaxConsecutiveErrors int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	StopGrace            time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.FillTolerance < 0 {
		c.FillTolerance = 0
	}
	if c.EventCapacity <= 0 {
		c.EventCapacity = 1000
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
}

type Deps struct {
	Prices   PriceSource
	Closer   PositionCloser
	Executor OrderExecutor
	// Sink is optional
	Sink EventSink
}

// Stats are cumulative event counts plus current collection sizes
type Stats struct {
	Positions      int `json:"positions"`
	PendingOrders  int `json:"pending_orders"`
	StopLosses     int `json:"stop_losses"`
	TakeProfits    int `json:"take_profits"`
	Fills          int `json:"fills"`
	Expirations    int `json:"expirations"`
	CloseFailures  int `json:"close_failures"`
	RetainedEvents int `json:"retained_events"`
}

// Monitor polls open positions for stop-loss/take-profit and pending limit
// orders for fills and expiry. A position enters monitoring only through a
// fill of a pending order.
type Monitor struct {
	*agent.Runtime

	cfg  Config
	deps Deps
	log  *logger.Logger
	now  func() time.Time

	mu        sync.Mutex
	positions map[string]*position.MonitoredPosition
	orders    map[string]*position.PendingOrder
	events    *ring
	counts    map[position.EventType]int

	// closeFailing holds positions whose CLOSE_FAILED event is already
	// retained; repeat failures only bump the counter until a close succeeds
	closeFailing map[string]bool
}

func New(cfg Config, deps Deps) *Monitor {
	cfg.applyDefaults()
	m := &Monitor{
		cfg:       cfg,
		deps:      deps,
		now:       time.Now,
		positions: make(map[string]*position.MonitoredPosition),
		orders:    make(map[string]*position.PendingOrder),
		events:    newRing(cfg.EventCapacity),
		counts:    make(map[position.EventType]int),

		closeFailing: make(map[string]bool),
	}
	m.Runtime = agent.NewRuntime(m, agent.Options{
		Name:                 AgentName,
		Interval:             cfg.Interval,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		BackoffBase:          cfg.BackoffBase,
		BackoffMax:           cfg.BackoffMax,
		StopGrace:            cfg.StopGrace,
	})
	m.log = m.Runtime.Log()
	return m
}

// WithClock replaces the time source, for tests
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

func (m *Monitor) Setup(ctx context.Context) error {
	if m.deps.Prices == nil || m.deps.Closer == nil || m.deps.Executor == nil {
		return errors.Wrap(errors.ErrInvalidInput, "position monitor requires price, close and execute collaborators")
	}
	return nil
}

func (m *Monitor) Process(ctx context.Context) error {
	return m.Tick(ctx)
}

// AddPendingOrder registers a limit order for fill/expiry watching
func (m *Monitor) AddPendingOrder(order *position.PendingOrder) error {
	if err := order.Validate(); err != nil {
		return err
	}

	o := *order
	now := m.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.ExpiresAt.IsZero() && m.cfg.OrderTTL > 0 {
		o.ExpiresAt = o.CreatedAt.Add(m.cfg.OrderTTL)
	}

	m.mu.Lock()
	if _, exists := m.orders[o.OrderID]; exists {
		m.mu.Unlock()
		return errors.Wrapf(errors.ErrDuplicate, "pending order %s", o.OrderID)
	}
	m.orders[o.OrderID] = &o
	count := len(m.orders)
	m.mu.Unlock()

	metrics.PendingOrders.Set(float64(count))
	m.log.Infow("Pending order registered",
		"order_id", o.OrderID,
		"symbol", o.Symbol,
		"direction", o.Direction,
		"limit", o.LimitPrice.String(),
		"expires_at", o.ExpiresAt,
	)
	return nil
}

// Tick runs one pass: positions first, then pending orders. Collaborator
// failures are logged and retried on the next tick.
func (m *Monitor) Tick(ctx context.Context) error {
	var batch []position.MonitorEvent

	for _, p := range m.snapshotPositions() {
		if ctx.Err() != nil {
			break
		}
		if ev, ok := m.checkPosition(ctx, p); ok {
			batch = append(batch, ev)
		}
	}

	for _, o := range m.snapshotOrders() {
		if ctx.Err() != nil {
			break
		}
		batch = append(batch, m.checkOrder(ctx, o)...)
	}

	m.mu.Lock()
	metrics.MonitoredPositions.Set(float64(len(m.positions)))
	metrics.PendingOrders.Set(float64(len(m.orders)))
	m.mu.Unlock()

	if len(batch) > 0 && m.deps.Sink != nil {
		if err := m.deps.Sink.Record(ctx, batch); err != nil {
			m.log.Errorw("Failed to archive monitor events", "count", len(batch), "error", err)
		}
	}
	return ctx.Err()
}

func (m *Monitor) checkPosition(ctx context.Context, p *position.MonitoredPosition) (position.MonitorEvent, bool) {
	price, err := m.price(ctx, p.Symbol)
	if err != nil {
		m.log.Warnw("Price unavailable for position", "symbol", p.Symbol, "position_id", p.ID, "error", err)
		return position.MonitorEvent{}, false
	}

	m.mu.Lock()
	if live, ok := m.positions[p.ID]; ok {
		live.CurrentPrice = price
	}
	m.mu.Unlock()

	var trigger position.EventType
	switch {
	case p.CheckStopLoss(price):
		trigger = position.EventStopLoss
	case p.CheckTakeProfit(price):
		trigger = position.EventTakeProfit
	default:
		return position.MonitorEvent{}, false
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	start := time.Now()
	err = m.deps.Closer.ClosePosition(cctx, p, trigger, price)
	cancel()
	metrics.RecordCollaboratorCall("close", time.Since(start), err)

	if err != nil {
		m.log.Errorw("Failed to close position, will retry",
			"position_id", p.ID,
			"symbol", p.Symbol,
			"trigger", trigger,
			"error", err,
		)
		m.mu.Lock()
		repeat := m.closeFailing[p.ID]
		m.closeFailing[p.ID] = true
		if repeat {
			m.counts[position.EventCloseFailed]++
		}
		m.mu.Unlock()
		if repeat {
			metrics.MonitorEvents.WithLabelValues(position.EventCloseFailed.String()).Inc()
			return position.MonitorEvent{}, false
		}
		return m.record(position.NewEvent(position.EventCloseFailed, p.Symbol, p.ID, price,
			fmt.Sprintf("%s close failed: %v", trigger, err), m.now())), true
	}

	m.mu.Lock()
	delete(m.positions, p.ID)
	delete(m.closeFailing, p.ID)
	m.mu.Unlock()

	p.CurrentPrice = price
	pnl := p.UnrealizedPnL()
	m.log.Infow("Position closed",
		"position_id", p.ID,
		"symbol", p.Symbol,
		"trigger", trigger,
		"price", price.String(),
		"pnl", pnl.StringFixed(2),
	)
	return m.record(position.NewEvent(trigger, p.Symbol, p.ID, price,
		fmt.Sprintf("entry %s, pnl %s", p.EntryPrice.String(), pnl.StringFixed(2)), m.now())), true
}

func (m *Monitor) checkOrder(ctx context.Context, o *position.PendingOrder) []position.MonitorEvent {
	now := m.now()
	if o.Expired(now) {
		m.mu.Lock()
		delete(m.orders, o.OrderID)
		m.mu.Unlock()

		m.log.Infow("Pending order expired", "order_id", o.OrderID, "symbol", o.Symbol, "expires_at", o.ExpiresAt)
		return []position.MonitorEvent{m.record(position.NewEvent(position.EventExpired, o.Symbol, o.OrderID,
			decimal.Zero, fmt.Sprintf("expired at %s", o.ExpiresAt.Format(time.RFC3339)), now))}
	}

	price, err := m.price(ctx, o.Symbol)
	if err != nil {
		m.log.Warnw("Price unavailable for pending order", "order_id", o.OrderID, "symbol", o.Symbol, "error", err)
		return nil
	}
	if !o.ShouldFill(price, m.cfg.FillTolerance) {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	start := time.Now()
	fill, err := m.deps.Executor.ExecuteOrder(cctx, o, price)
	cancel()
	metrics.RecordCollaboratorCall("execute", time.Since(start), err)

	if err == nil && !fill.IsPositive() {
		err = errors.Wrapf(errors.ErrUnavailable, "non-positive fill price %s", fill.String())
	}
	if err != nil {
		m.log.Errorw("Failed to execute pending order, will retry",
			"order_id", o.OrderID,
			"symbol", o.Symbol,
			"error", err,
		)
		return nil
	}

	pos := position.FromFill(o, fill, m.now())

	m.mu.Lock()
	delete(m.orders, o.OrderID)
	m.positions[pos.ID] = pos
	m.mu.Unlock()

	m.log.Infow("Pending order filled",
		"order_id", o.OrderID,
		"position_id", pos.ID,
		"symbol", o.Symbol,
		"fill", fill.String(),
	)
	return []position.MonitorEvent{m.record(position.NewEvent(position.EventOrderFilled, o.Symbol, o.OrderID, fill,
		fmt.Sprintf("position %s opened, qty %s", pos.ID, pos.Quantity.String()), m.now()))}
}

func (m *Monitor) price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	p, err := m.deps.Prices.GetPrice(cctx, symbol)
	metrics.RecordCollaboratorCall("price", time.Since(start), err)
	if err != nil {
		return decimal.Zero, err
	}
	if !p.IsPositive() {
		return decimal.Zero, errors.NewValidationError("price", "must be positive", p)
	}
	return p, nil
}

func (m *Monitor) record(ev position.MonitorEvent) position.MonitorEvent {
	m.mu.Lock()
	m.events.push(ev)
	m.counts[ev.Type]++
	m.mu.Unlock()
	metrics.MonitorEvents.WithLabelValues(ev.Type.String()).Inc()
	return ev
}

// Positions returns copies of the monitored positions ordered by entry time
func (m *Monitor) Positions() []position.MonitoredPosition {
	ps := m.snapshotPositions()
	out := make([]position.MonitoredPosition, len(ps))
	for i, p := range ps {
		out[i] = *p
	}
	return out
}

// PendingOrders returns copies of the pending orders ordered by creation time
func (m *Monitor) PendingOrders() []position.PendingOrder {
	orders := m.snapshotOrders()
	out := make([]position.PendingOrder, len(orders))
	for i, o := range orders {
		out[i] = *o
	}
	return out
}

// Events returns up to n of the newest events, oldest first. n <= 0 returns all retained.
func (m *Monitor) Events(n int) []position.MonitorEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events.last(n)
}

func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Positions:      len(m.positions),
		PendingOrders:  len(m.orders),
		StopLosses:     m.counts[position.EventStopLoss],
		TakeProfits:    m.counts[position.EventTakeProfit],
		Fills:          m.counts[position.EventOrderFilled],
		Expirations:    m.counts[position.EventExpired],
		CloseFailures:  m.counts[position.EventCloseFailed],
		RetainedEvents: m.events.len(),
	}
}

// snapshotPositions copies the working set so collaborator calls run without the lock
func (m *Monitor) snapshotPositions() []*position.MonitoredPosition {
	m.mu.Lock()
	out := make([]*position.MonitoredPosition, 0, len(m.positions))
	for _, p := range m.positions {
		cp := *p
		out = append(out, &cp)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

func (m *Monitor) snapshotOrders() []*position.PendingOrder {
	m.mu.Lock()
	out := make([]*position.PendingOrder, 0, len(m.orders))
	for _, o := range m.orders {
		cp := *o
		out = append(out, &cp)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
