package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"backtesting-engine/internal/data"
	"backtesting-engine/internal/engine"
	"backtesting-engine/internal/errs"
	"backtesting-engine/internal/events"
	"backtesting-engine/internal/monitor"
	"backtesting-engine/internal/report"
	"backtesting-engine/internal/sink"
	"backtesting-engine/internal/strategy"
	"backtesting-engine/pkg/cache"
	"backtesting-engine/pkg/db"
)

// DefaultMaxMarketData bounds the observations accepted per request.
const DefaultMaxMarketData = 1_000_000

// runCacheShardSize bounds cached run headers per cache shard.
const runCacheShardSize = 64

// Impl implements Service by composing the engine, the report, the store
// and the optional sink.
type Impl struct {
	store   Store
	sink    sink.Sink
	metrics *monitor.SystemMetrics
	log     *zap.Logger
	runs    *cache.Sharded[db.Run]

	engineCfg     engine.Config
	maxMarketData int
	slots         *semaphore.Weighted
	running       atomic.Int64

	version   string
	startTime time.Time
	now       func() time.Time
}

// Config holds the dependencies for NewImpl.
type Config struct {
	Store   Store
	Sink    sink.Sink // optional
	Metrics *monitor.SystemMetrics
	Logger  *zap.Logger

	// Engine is used for requests that do not carry their own.
	Engine engine.Config
	// MaxConcurrentRuns bounds simultaneous backtests; zero means one.
	MaxConcurrentRuns int64
	MaxMarketData     int
	Version           string
}

// NewImpl creates a service.
func NewImpl(cfg Config) (*Impl, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: service needs a store", errs.ErrInvalidConfiguration)
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}
	if cfg.MaxMarketData <= 0 {
		cfg.MaxMarketData = DefaultMaxMarketData
	}
	if cfg.Metrics == nil {
		cfg.Metrics = monitor.NewSystemMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Impl{
		store:         cfg.Store,
		sink:          cfg.Sink,
		metrics:       cfg.Metrics,
		log:           cfg.Logger,
		runs:          cache.New[db.Run](runCacheShardSize),
		engineCfg:     cfg.Engine,
		maxMarketData: cfg.MaxMarketData,
		slots:         semaphore.NewWeighted(cfg.MaxConcurrentRuns),
		version:       cfg.Version,
		startTime:     time.Now(),
		now:           time.Now,
	}, nil
}

// --- Commands ---

// RunBacktest builds an engine for req, runs it to the end and stores the
// outcome. A run that fails during dispatch is stored too and returned
// together with an error wrapping ErrRunFailed.
func (s *Impl) RunBacktest(ctx context.Context, req BacktestRequest) (*Result, error) {
	return s.run(ctx, req, nil)
}

// StreamBacktest is RunBacktest with every dispatched event also published
// to bus while the run is in progress.
func (s *Impl) StreamBacktest(ctx context.Context, req BacktestRequest, bus *events.Bus) (*Result, error) {
	return s.run(ctx, req, bus)
}

func (s *Impl) run(ctx context.Context, req BacktestRequest, bus *events.Bus) (*Result, error) {
	records, err := s.marketData(req)
	if err != nil {
		return nil, err
	}
	if len(req.Strategies) == 0 {
		return nil, fmt.Errorf("%w: no strategies", errs.ErrInvalidConfiguration)
	}
	strategies, err := strategy.BuildAll(req.Strategies)
	if err != nil {
		return nil, err
	}
	cfg := s.engineCfg
	if req.Engine != nil {
		cfg = *req.Engine
	}
	cfg.RecordJournal = true
	cfg.RecordEquity = true

	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.slots.Release(1)
	s.running.Add(1)
	defer s.running.Add(-1)

	id := uuid.NewString()
	log := s.log.With(zap.String("run_id", id))
	e, err := engine.New(cfg, engine.WithLogger(log), engine.WithMetrics(s.metrics), engine.WithBus(bus))
	if err != nil {
		return nil, err
	}
	for _, st := range strategies {
		if err := e.AddStrategy(st); err != nil {
			return nil, err
		}
	}
	if _, err := data.Feed(e, records); err != nil {
		return nil, err
	}

	runErr := e.Run()
	res := &Result{
		ID:         id,
		CreatedAt:  s.now().UTC(),
		Strategies: e.StrategyNames(),
		Symbols:    data.Symbols(records),
		Summary:    report.FromEngine(e),
	}
	fills := journalFills(e.Journal())

	timer := monitor.NewTimer(s.metrics.DBLatency)
	err = s.store.SaveRun(ctx, buildRecord(res, e, fills))
	timer.Stop()
	if err != nil {
		return nil, fmt.Errorf("save run %s: %w", id, err)
	}

	if s.sink != nil {
		if err := s.sink.PublishRun(ctx, id, res.Summary, fills); err != nil {
			log.Warn("run not published", zap.Error(err))
		} else {
			res.Published = true
		}
	}

	if runErr != nil {
		return res, fmt.Errorf("%w: %w", ErrRunFailed, runErr)
	}
	return res, nil
}

func (s *Impl) marketData(req BacktestRequest) ([]data.Record, error) {
	switch {
	case len(req.MarketData) > 0 && req.Synthetic != nil:
		return nil, fmt.Errorf("%w: give market data or synthetic settings, not both", errs.ErrInvalidConfiguration)
	case req.Synthetic != nil:
		if err := req.Synthetic.Validate(); err != nil {
			return nil, err
		}
		// Points*len(Symbols) can overflow int.
		if per := s.maxMarketData / len(req.Synthetic.Symbols); req.Synthetic.Points > per {
			return nil, fmt.Errorf("%w: %d synthetic points for %d symbols exceed %d",
				errs.ErrInvalidConfiguration, req.Synthetic.Points, len(req.Synthetic.Symbols), s.maxMarketData)
		}
		return data.Generate(*req.Synthetic)
	case len(req.MarketData) == 0:
		return nil, fmt.Errorf("%w: no market data", errs.ErrInvalidConfiguration)
	case len(req.MarketData) > s.maxMarketData:
		return nil, fmt.Errorf("%w: %d market data points exceed %d", errs.ErrInvalidConfiguration, len(req.MarketData), s.maxMarketData)
	}
	return req.MarketData, nil
}

func (s *Impl) DeleteRun(ctx context.Context, id string) error {
	s.runs.Delete(id)
	return s.store.DeleteRun(ctx, id)
}

// --- Queries ---

func (s *Impl) ListRuns(ctx context.Context, limit int) ([]db.Run, error) {
	return s.store.ListRuns(ctx, limit)
}

// GetRun serves stored runs from memory after the first read; stored runs
// never change.
func (s *Impl) GetRun(ctx context.Context, id string) (*db.Run, error) {
	if run, ok := s.runs.Get(id); ok {
		return &run, nil
	}
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	s.runs.Set(id, *run)
	return run, nil
}

func (s *Impl) ListFills(ctx context.Context, id string) ([]db.Fill, error) {
	return s.store.ListFills(ctx, id)
}

func (s *Impl) ListPositions(ctx context.Context, id string) ([]db.Position, error) {
	return s.store.ListPositions(ctx, id)
}

func (s *Impl) ListEquity(ctx context.Context, id string) ([]db.EquityPoint, error) {
	return s.store.ListEquity(ctx, id)
}

// --- System ---

func (s *Impl) Metrics() monitor.MetricsSnapshot {
	return s.metrics.GetSnapshot()
}

func (s *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	return &SystemStatus{
		Version:   s.version,
		StartTime: s.startTime,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Persisted: s.store != nil,
		Publishes: s.sink != nil,
		Running:   s.running.Load(),
		Cached:    s.runs.Len(),
	}
}

// IsClientError reports whether err was caused by the request rather than by
// the service.
func IsClientError(err error) bool {
	return errors.Is(err, errs.ErrInvalidConfiguration) || errors.Is(err, errs.ErrInvalidEvent)
}

func journalFills(journal []events.Event) []events.Fill {
	var fills []events.Fill
	for _, ev := range journal {
		if f, ok := ev.(events.Fill); ok {
			fills = append(fills, f)
		}
	}
	return fills
}

func buildRecord(res *Result, e *engine.Engine, fills []events.Fill) db.RunRecord {
	sum := res.Summary
	cfgJSON, _ := json.Marshal(e.Config())
	rec := db.RunRecord{
		Run: db.Run{
			ID:             res.ID,
			CreatedAt:      res.CreatedAt,
			State:          sum.State,
			Error:          sum.Error,
			Strategies:     res.Strategies,
			InitialCapital: sum.InitialCapital,
			FinalValue:     sum.FinalValue,
			Cash:           sum.Cash,
			TotalReturn:    sum.TotalReturn,
			MaxDrawdown:    sum.MaxDrawdown,
			RealizedPnL:    sum.RealizedPnL,
			UnrealizedPnL:  sum.UnrealizedPnL,
			Commission:     sum.Commission,
			MarketEvents:   sum.Stats.MarketEvents,
			Signals:        sum.Stats.Signals,
			SignalsDropped: sum.Stats.SignalsDropped,
			Orders:         sum.Stats.Orders,
			Fills:          sum.Stats.Fills,
			ClosedTrades:   sum.ClosedTrades,
			WinningTrades:  sum.WinningTrades,
			WinRate:        sum.WinRate,
			DurationMs:     sum.Stats.Duration.Milliseconds(),
			Config:         string(cfgJSON),
		},
	}

	for _, f := range fills {
		rec.Fills = append(rec.Fills, db.Fill{
			OrderID:   f.OrderID(),
			Symbol:    f.Symbol(),
			Side:      f.Direction().String(),
			Qty:       f.Quantity(),
			Price:     f.Price(),
			Fee:       f.Commission(),
			Timestamp: f.Timestamp(),
		})
	}

	pf := e.Portfolio()
	for _, p := range pf.Positions() {
		last, _ := pf.LastPrice(p.Symbol)
		rec.Positions = append(rec.Positions, db.Position{
			Symbol:      p.Symbol,
			Qty:         p.Quantity,
			AvgPrice:    p.AvgPrice,
			RealizedPnL: p.RealizedPnL,
			LastPrice:   last,
		})
	}
	for _, pt := range pf.EquityCurve() {
		rec.Equity = append(rec.Equity, db.EquityPoint{Timestamp: pt.Timestamp, Equity: pt.Equity})
	}
	return rec
}
