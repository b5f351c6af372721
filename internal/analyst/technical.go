package analyst

import (
	"context"
	"time"

	"tradecore/internal/agent"
	"tradecore/internal/bus"
	"tradecore/internal/cache"
	"tradecore/internal/domain/trading"
	"tradecore/internal/metrics"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

const (
	AgentName = "technical_analyst"
	AgentType = "technical"
)

// Indicator names requested from the indicator service
const (
	IndicatorRSI   = "rsi"
	IndicatorATR   = "atr"
	IndicatorClose = "close"
)

// IndicatorSource computes named indicator values for a symbol
type IndicatorSource interface {
	CalculateIndicators(ctx context.Context, symbol string, names []string) (map[string]float64, error)
}

type Config struct {
	Interval time.Duration
	Symbols  []string
	// Sectors maps symbol to sector for the emitted signals
	Sectors map[string]string

	Oversold          float64
	Overbought        float64
	StopATRMultiple   float64
	TargetATRMultiple float64
	// Cooldown suppresses a repeat signal in the same direction for a symbol
	Cooldown    time.Duration
	CallTimeout time.Duration

	MaxConsecutiveErrors int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	StopGrace            time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Oversold <= 0 {
		c.Oversold = 30
	}
	if c.Overbought <= 0 {
		c.Overbought = 70
	}
	if c.StopATRMultiple <= 0 {
		c.StopATRMultiple = 2
	}
	if c.TargetATRMultiple <= 0 {
		c.TargetATRMultiple = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 15 * time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
}

type Deps struct {
	Bus        bus.Broker
	Indicators IndicatorSource
}

// TechnicalAnalyst emits mean-reversion signals from RSI extremes with
// ATR-based stop and target levels
type TechnicalAnalyst struct {
	*agent.Runtime

	cfg    Config
	deps   Deps
	log    *logger.Logger
	now    func() time.Time
	recent *cache.TTL[string, struct{}]
}

func NewTechnicalAnalyst(cfg Config, deps Deps) *TechnicalAnalyst {
	cfg.applyDefaults()
	a := &TechnicalAnalyst{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		recent: cache.NewTTL[string, struct{}](cfg.Cooldown),
	}
	a.Runtime = agent.NewRuntime(a, agent.Options{
		Name:                 AgentName,
		Interval:             cfg.Interval,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		BackoffBase:          cfg.BackoffBase,
		BackoffMax:           cfg.BackoffMax,
		StopGrace:            cfg.StopGrace,
	})
	a.log = a.Runtime.Log()
	return a
}

// WithClock replaces the time source, for tests
func (a *TechnicalAnalyst) WithClock(now func() time.Time) *TechnicalAnalyst {
	a.now = now
	a.recent.WithClock(now)
	return a
}

func (a *TechnicalAnalyst) Setup(ctx context.Context) error {
	if a.deps.Bus == nil {
		return errors.Wrap(errors.ErrInvalidInput, "technical analyst requires a bus")
	}
	if a.deps.Indicators == nil {
		return errors.Wrap(errors.ErrInvalidInput, "technical analyst requires an indicator source")
	}
	if len(a.cfg.Symbols) == 0 {
		a.log.Warn("No symbols configured; analyst will stay idle")
	}
	return nil
}

// Process evaluates every configured symbol. It fails only when no symbol
// could be evaluated, so one flaky instrument does not trip the runtime.
func (a *TechnicalAnalyst) Process(ctx context.Context) error {
	if len(a.cfg.Symbols) == 0 {
		return nil
	}

	var firstErr error
	failed := 0
	for _, symbol := range a.cfg.Symbols {
		if err := a.analyze(ctx, symbol); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			a.log.Warnw("Symbol analysis failed", "symbol", symbol, "error", err)
		}
	}

	if failed == len(a.cfg.Symbols) {
		return errors.Wrapf(firstErr, "all %d symbols failed", failed)
	}
	return nil
}

func (a *TechnicalAnalyst) analyze(ctx context.Context, symbol string) error {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	values, err := a.deps.Indicators.CalculateIndicators(callCtx, symbol,
		[]string{IndicatorRSI, IndicatorATR, IndicatorClose})
	metrics.RecordCollaboratorCall("indicators", time.Since(start), err)
	if err != nil {
		return errors.Wrap(err, "calculate indicators")
	}

	sig := a.Evaluate(symbol, values)
	if sig == nil {
		return nil
	}
	if !a.recent.SetIfAbsent(symbol+":"+sig.Direction.String(), struct{}{}) {
		a.log.Debugw("Signal suppressed by cooldown", "symbol", symbol, "direction", sig.Direction)
		return nil
	}

	if err := a.deps.Bus.Publish(ctx, bus.TopicSignals, sig); err != nil {
		a.recent.Delete(symbol + ":" + sig.Direction.String())
		return errors.Wrap(err, "publish signal")
	}

	a.log.Infow("Signal published",
		"symbol", symbol,
		"direction", sig.Direction,
		"confidence", sig.Confidence,
		"entry", sig.EntryPrice,
		"stop", sig.StopLoss,
		"target", sig.TakeProfit,
	)
	return nil
}

// Evaluate turns indicator values into a signal, or nil when RSI is neutral
// or the inputs are incomplete
func (a *TechnicalAnalyst) Evaluate(symbol string, values map[string]float64) *trading.TradingSignal {
	rsi, okRSI := values[IndicatorRSI]
	atr, okATR := values[IndicatorATR]
	price, okClose := values[IndicatorClose]
	if !okRSI || !okATR || !okClose || atr <= 0 || price <= 0 {
		return nil
	}

	var (
		dir  trading.Direction
		conf float64
	)
	switch {
	case rsi < a.cfg.Oversold:
		dir = trading.DirectionLong
		conf = 0.5 + 0.5*(a.cfg.Oversold-rsi)/a.cfg.Oversold
	case rsi > a.cfg.Overbought:
		dir = trading.DirectionShort
		conf = 0.5 + 0.5*(rsi-a.cfg.Overbought)/(100-a.cfg.Overbought)
	default:
		return nil
	}
	conf = clamp(conf, 0, 1)

	stopDist := atr * a.cfg.StopATRMultiple
	targetDist := atr * a.cfg.TargetATRMultiple

	sig := &trading.TradingSignal{
		SourceAgent: AgentName,
		AgentType:   AgentType,
		Symbol:      symbol,
		Sector:      a.cfg.Sectors[symbol],
		Direction:   dir,
		Confidence:  conf,
		EntryPrice:  price,
		Indicators:  map[string]float64{IndicatorRSI: rsi, IndicatorATR: atr},
		Timestamp:   a.now().UTC(),
	}
	if dir == trading.DirectionLong {
		sig.StopLoss = price - stopDist
		sig.TakeProfit = price + targetDist
	} else {
		sig.StopLoss = price + stopDist
		sig.TakeProfit = price - targetDist
	}

	// a stop below zero means ATR dwarfs the price
	if sig.Validate() != nil {
		return nil
	}
	return sig
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
