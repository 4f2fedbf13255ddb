// Package engine replays market data through strategies in timestamp order
// and routes the resulting signals, orders and fills.
package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"backtesting-engine/internal/errs"
	"backtesting-engine/internal/events"
	"backtesting-engine/internal/execution"
	"backtesting-engine/internal/monitor"
	"backtesting-engine/internal/portfolio"
	"backtesting-engine/internal/strategy"
)

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics reports counters and strategy latency to m.
func WithMetrics(m *monitor.SystemMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSimulatorOptions passes custom slippage or commission models to the
// execution simulator.
func WithSimulatorOptions(opts ...execution.Option) Option {
	return func(e *Engine) { e.simOpts = append(e.simOpts, opts...) }
}

// WithBus publishes every dispatched event to b.
func WithBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// Engine owns the event queue, the registered strategies, the simulator and
// the portfolio. Dispatch is single-threaded; an Engine must not be used
// from several goroutines at once.
type Engine struct {
	cfg        Config
	queue      eventQueue
	strategies []strategy.Strategy
	simulator  *execution.Simulator
	portfolio  *portfolio.Portfolio

	state   State
	err     error
	stats   Stats
	journal []events.Event

	log     *zap.Logger
	metrics *monitor.SystemMetrics
	bus     *events.Bus
	simOpts []execution.Option
}

// New builds an idle engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}

	sim, err := execution.NewSimulator(cfg.Execution, e.simOpts...)
	if err != nil {
		return nil, err
	}
	var pfOpts []portfolio.Option
	if cfg.RecordEquity {
		pfOpts = append(pfOpts, portfolio.WithEquityCurve())
	}
	pf, err := portfolio.New(cfg.InitialCapital, pfOpts...)
	if err != nil {
		return nil, err
	}
	e.simulator = sim
	e.portfolio = pf
	return e, nil
}

// NewWithCapital builds an engine with default settings and the given cash.
func NewWithCapital(initialCapital float64, opts ...Option) (*Engine, error) {
	cfg := DefaultConfig()
	cfg.InitialCapital = initialCapital
	return New(cfg, opts...)
}

// AddMarketData validates and enqueues one market observation.
func (e *Engine) AddMarketData(symbol string, price float64, ts int64, volume int64) error {
	m, err := events.NewMarket(symbol, price, ts, volume)
	if err != nil {
		return err
	}
	return e.AddMarketEvent(m)
}

// AddMarketEvent enqueues an already built Market event. Events may be added
// in any order; Run dispatches them by timestamp.
func (e *Engine) AddMarketEvent(m events.Market) error {
	if e.state != StateIdle {
		return fmt.Errorf("%w: cannot add market data while %s", errs.ErrInvalidState, e.state)
	}
	e.queue.push(m)
	return nil
}

// AddStrategy registers s. Strategies are evaluated in registration order.
func (e *Engine) AddStrategy(s strategy.Strategy) error {
	if s == nil {
		return fmt.Errorf("%w: nil strategy", errs.ErrInvalidConfiguration)
	}
	if e.state != StateIdle {
		return fmt.Errorf("%w: cannot add strategy while %s", errs.ErrInvalidState, e.state)
	}
	e.strategies = append(e.strategies, s)
	return nil
}

// Run drains the queue. It returns nil and leaves the engine Completed when
// every event was dispatched. On the first dispatch error the engine becomes
// Failed and stops; mutations already applied to the portfolio are kept.
func (e *Engine) Run() error {
	if e.state != StateIdle {
		return fmt.Errorf("%w: run called while %s", errs.ErrInvalidState, e.state)
	}
	e.state = StateRunning
	start := time.Now()
	e.log.Info("backtest started",
		zap.Int("pending_events", e.queue.len()),
		zap.Int("strategies", len(e.strategies)),
		zap.Float64("initial_capital", e.portfolio.InitialCapital()),
		zap.Bool("concurrent", e.cfg.ConcurrentStrategies),
	)

	for {
		ev, ok := e.queue.pop()
		if !ok {
			break
		}
		if err := e.dispatch(ev); err != nil {
			e.finish(start, err)
			return err
		}
	}

	e.finish(start, nil)
	return nil
}

func (e *Engine) finish(start time.Time, err error) {
	e.stats.Duration = time.Since(start)
	if e.metrics != nil {
		e.metrics.RecordRun(e.stats.Duration, err != nil)
	}
	if err != nil {
		e.state = StateFailed
		e.err = err
		e.log.Error("backtest failed", zap.Error(err), zap.Int("dispatched", e.stats.Events()))
		return
	}
	e.state = StateCompleted
	e.log.Info("backtest completed",
		zap.Int("market_events", e.stats.MarketEvents),
		zap.Int("signals", e.stats.Signals),
		zap.Int("fills", e.stats.Fills),
		zap.Float64("total_value", e.portfolio.TotalValue()),
		zap.Duration("elapsed", e.stats.Duration),
	)
}

// Reset returns the engine to Idle with an empty queue and a fresh
// portfolio. Registered strategies are kept and reset when they support it.
func (e *Engine) Reset() {
	e.queue.reset()
	e.portfolio.Reset()
	e.simulator.Reset()
	for _, s := range e.strategies {
		if r, ok := s.(strategy.Resetter); ok {
			r.Reset()
		}
	}
	e.state = StateIdle
	e.err = nil
	e.stats = Stats{}
	e.journal = nil
}

func (e *Engine) State() State                    { return e.state }
func (e *Engine) Portfolio() *portfolio.Portfolio { return e.portfolio }
func (e *Engine) Stats() Stats                    { return e.stats }
func (e *Engine) Config() Config                  { return e.cfg }

// Err is the error that failed the last run, if any.
func (e *Engine) Err() error { return e.err }

// Pending is the number of queued events.
func (e *Engine) Pending() int { return e.queue.len() }

// Journal returns the dispatched events in dispatch order. It is empty
// unless RecordJournal is set.
func (e *Engine) Journal() []events.Event {
	out := make([]events.Event, len(e.journal))
	copy(out, e.journal)
	return out
}

// StrategyNames lists registered strategies in registration order.
func (e *Engine) StrategyNames() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

func (e *Engine) dispatch(ev events.Event) error {
	if e.cfg.RecordJournal {
		e.journal = append(e.journal, ev)
	}
	if e.bus != nil {
		e.bus.Publish(ev)
	}
	switch v := ev.(type) {
	case events.Market:
		return e.onMarket(v)
	case events.Signal:
		return e.onSignal(v)
	case events.Order:
		e.stats.Orders++
		if e.metrics != nil {
			e.metrics.IncrementOrders()
		}
		return nil
	case events.Fill:
		e.portfolio.OnFill(v)
		e.stats.Fills++
		if e.metrics != nil {
			e.metrics.IncrementFills()
		}
		e.log.Debug("fill applied",
			zap.String("order_id", v.OrderID()),
			zap.String("symbol", v.Symbol()),
			zap.Stringer("direction", v.Direction()),
			zap.Int64("quantity", v.Quantity()),
			zap.Float64("price", v.Price()),
			zap.Float64("cash", e.portfolio.Cash()),
		)
		return nil
	default:
		return fmt.Errorf("%w: unexpected event %T", errs.ErrInvalidEvent, ev)
	}
}

func (e *Engine) onMarket(m events.Market) error {
	e.stats.MarketEvents++
	if e.metrics != nil {
		e.metrics.IncrementMarketEvents()
	}
	e.portfolio.MarkToMarket(m.Symbol(), m.Price(), m.Timestamp())

	results, err := e.evaluate(m)
	if err != nil {
		return err
	}
	for i, sigs := range results {
		for _, sig := range sigs {
			if sig.Timestamp() != m.Timestamp() {
				return fmt.Errorf("%w: %s emitted signal at %d for market event at %d",
					errs.ErrStrategyFailed, e.strategies[i].Name(), sig.Timestamp(), m.Timestamp())
			}
			e.queue.push(sig)
		}
	}
	return nil
}

// evaluate runs every strategy for m and returns their signals indexed by
// registration order. When several strategies fail, the error of the
// earliest registered one is returned.
func (e *Engine) evaluate(m events.Market) ([][]events.Signal, error) {
	results := make([][]events.Signal, len(e.strategies))

	if !e.cfg.ConcurrentStrategies || len(e.strategies) < 2 {
		for i, s := range e.strategies {
			sigs, err := e.call(s, m)
			if err != nil {
				return nil, err
			}
			results[i] = sigs
		}
		return results, nil
	}

	failures := make([]error, len(e.strategies))
	var g errgroup.Group
	if e.cfg.MaxWorkers > 0 {
		g.SetLimit(e.cfg.MaxWorkers)
	}
	for i, s := range e.strategies {
		g.Go(func() error {
			results[i], failures[i] = e.call(s, m)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range failures {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (e *Engine) call(s strategy.Strategy, m events.Market) (sigs []events.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			sigs = nil
			err = fmt.Errorf("%w: %s panicked: %v", errs.ErrStrategyFailed, s.Name(), r)
		}
	}()

	var timer *monitor.Timer
	if e.metrics != nil {
		timer = monitor.NewTimer(e.metrics.StrategyLatency)
	}
	sigs, err = s.CalculateSignals(m)
	if timer != nil {
		timer.Stop()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s at %d: %w", errs.ErrStrategyFailed, s.Name(), m.Timestamp(), err)
	}
	return sigs, nil
}

func (e *Engine) onSignal(sig events.Signal) error {
	e.stats.Signals++
	if e.metrics != nil {
		e.metrics.IncrementSignals()
	}

	ref := sig.Price()
	if ref <= 0 {
		ref, _ = e.portfolio.LastPrice(sig.Symbol())
	}
	exec, ok, err := e.simulator.OnSignal(sig, ref)
	if err != nil {
		return fmt.Errorf("execute %s signal from %s: %w", sig.Symbol(), sig.StrategyID(), err)
	}
	if !ok {
		e.stats.SignalsDropped++
		if e.metrics != nil {
			e.metrics.IncrementDroppedSignals()
		}
		return nil
	}

	e.log.Debug("signal executed",
		zap.String("strategy", sig.StrategyID()),
		zap.String("symbol", sig.Symbol()),
		zap.Stringer("direction", sig.Direction()),
		zap.Float64("strength", sig.Strength()),
		zap.String("order_id", exec.Order.ID()),
	)
	e.queue.push(exec.Order)
	e.queue.push(exec.Fill)
	return nil
}
