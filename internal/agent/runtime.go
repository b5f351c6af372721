package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"tradecore/internal/metrics"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

// Agent is a long-running unit of work driven by a Runtime
type Agent interface {
	// Setup runs once before the loop starts (subscriptions, cache warm-up)
	Setup(ctx context.Context) error
	// Process runs one iteration; the runtime provides repetition and pacing
	Process(ctx context.Context) error
}

// Status of an agent
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusStopped  Status = "stopped"
)

// Health is a liveness snapshot of one agent
type Health struct {
	Name              string    `json:"name"`
	Status            Status    `json:"status"`
	Running           bool      `json:"running"`
	LastActivity      time.Time `json:"last_activity"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
}

// Options configure a Runtime
type Options struct {
	Name                 string
	Interval             time.Duration
	MaxConsecutiveErrors int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	StopGrace            time.Duration
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.MaxConsecutiveErrors <= 0 {
		o.MaxConsecutiveErrors = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 60 * time.Second
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 10 * time.Second
	}
}

// Runtime gives an Agent a start/stop/health contract and a fail-stop loop.
//
// Each failed Process call increments a consecutive error counter and delays
// the next attempt with exponential backoff. Reaching MaxConsecutiveErrors
// stops the loop for good; a successful call resets the counter.
type Runtime struct {
	opts  Options
	agent Agent
	log   *logger.Logger

	mu           sync.RWMutex
	running      bool
	starting     bool
	lastActivity time.Time
	consecutive  int
	lastErr      error
	stopReq      chan struct{}
	cancel       context.CancelFunc
	done         chan struct{}
}

func NewRuntime(a Agent, opts Options) *Runtime {
	opts.applyDefaults()
	return &Runtime{
		opts:  opts,
		agent: a,
		log:   logger.Get().With("agent", opts.Name),
	}
}

// Name returns the agent name
func (r *Runtime) Name() string {
	return r.opts.Name
}

// Log returns the agent's logger
func (r *Runtime) Log() *logger.Logger {
	return r.log
}

// Running reports whether the loop is active
func (r *Runtime) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Start runs Setup and launches the loop. A Setup error leaves the agent stopped.
// Concurrent calls are serialized: only one proceeds to Setup, the rest get ErrAgentRunning.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running || r.starting {
		r.mu.Unlock()
		return errors.Wrapf(errors.ErrAgentRunning, "agent %s", r.opts.Name)
	}
	r.starting = true
	r.mu.Unlock()

	if err := r.agent.Setup(ctx); err != nil {
		r.mu.Lock()
		r.starting = false
		r.mu.Unlock()
		return errors.Wrapf(err, "setup agent %s", r.opts.Name)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	stopReq := make(chan struct{})
	done := make(chan struct{})

	r.mu.Lock()
	r.starting = false
	r.running = true
	r.consecutive = 0
	r.lastErr = nil
	r.lastActivity = time.Now()
	r.stopReq = stopReq
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.loop(loopCtx, stopReq, done)

	r.log.Infow("Agent started", "interval", r.opts.Interval)
	return nil
}

// Stop asks the loop to finish its current iteration, waits up to StopGrace,
// then cancels the loop context and waits for exit. Stopping an agent that is
// not running only logs a warning.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		r.log.Warn("Stop called on agent that is not running")
		return nil
	}
	stopReq, cancel, done := r.stopReq, r.cancel, r.done
	r.stopReq = nil
	r.mu.Unlock()

	if stopReq != nil {
		close(stopReq)
	}

	select {
	case <-done:
	case <-time.After(r.opts.StopGrace):
		r.log.Warnw("Agent did not stop within grace period, cancelling", "grace", r.opts.StopGrace)
		cancel()
		<-done
	}
	cancel()

	r.log.Info("Agent stopped")
	return nil
}

// Health returns the current snapshot
func (r *Runtime) Health() Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h := Health{
		Name:              r.opts.Name,
		Running:           r.running,
		LastActivity:      r.lastActivity,
		ConsecutiveErrors: r.consecutive,
	}
	if r.lastErr != nil {
		h.LastError = r.lastErr.Error()
	}

	switch {
	case !r.running:
		h.Status = StatusStopped
	case r.consecutive > 0:
		h.Status = StatusDegraded
	default:
		h.Status = StatusHealthy
	}
	return h
}

func (r *Runtime) loop(ctx context.Context, stopReq <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	b := &backoff.Backoff{
		Min:    r.opts.BackoffBase,
		Max:    r.opts.BackoffMax,
		Factor: 2,
	}

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		err := r.iterate(ctx)

		var (
			wait  <-chan time.Time
			timer *time.Timer
		)
		if err == nil {
			b.Reset()
			wait = ticker.C
		} else {
			count := r.recordError(err)
			if count >= r.opts.MaxConsecutiveErrors {
				r.log.Errorw("Agent reached consecutive error ceiling, stopping",
					"consecutive_errors", count,
					"error", err,
				)
				metrics.AgentFailStops.WithLabelValues(r.opts.Name).Inc()
				return
			}

			delay := b.Duration()
			r.log.Warnw("Agent iteration failed",
				"consecutive_errors", count,
				"retry_in", delay,
				"error", err,
			)
			timer = time.NewTimer(delay)
			wait = timer.C
		}

		stop := waitNext(ctx, stopReq, wait)
		if timer != nil {
			timer.Stop()
		}
		if stop {
			return
		}
	}
}

func waitNext(ctx context.Context, stopReq <-chan struct{}, wait <-chan time.Time) bool {
	select {
	case <-stopReq:
		return true
	case <-ctx.Done():
		return true
	case <-wait:
		return false
	}
}

func (r *Runtime) iterate(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("process panic: %v", rec)
		}
		metrics.RecordAgentIteration(r.opts.Name, time.Since(start), err)
		if err == nil {
			r.mu.Lock()
			r.consecutive = 0
			r.lastActivity = time.Now()
			r.mu.Unlock()
		}
	}()

	return r.agent.Process(ctx)
}

func (r *Runtime) recordError(err error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consecutive++
	r.lastErr = err
	r.lastActivity = time.Now()
	return r.consecutive
}
