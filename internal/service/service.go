// Package service runs backtests on request and serves their stored results.
// The API layer talks to backtests only through the Service interface.
package service

import (
	"context"
	"errors"
	"time"

	"backtesting-engine/internal/data"
	"backtesting-engine/internal/engine"
	"backtesting-engine/internal/events"
	"backtesting-engine/internal/monitor"
	"backtesting-engine/internal/report"
	"backtesting-engine/internal/strategy"
	"backtesting-engine/pkg/db"
)

// ErrRunFailed is returned with a Result when the engine stopped on a
// dispatch error. The failed run is still stored.
var ErrRunFailed = errors.New("backtest failed")

// Service defines the backtest operations available to the API and CLI.
type Service interface {
	// Commands
	RunBacktest(ctx context.Context, req BacktestRequest) (*Result, error)
	StreamBacktest(ctx context.Context, req BacktestRequest, bus *events.Bus) (*Result, error)
	DeleteRun(ctx context.Context, id string) error

	// Queries
	ListRuns(ctx context.Context, limit int) ([]db.Run, error)
	GetRun(ctx context.Context, id string) (*db.Run, error)
	ListFills(ctx context.Context, id string) ([]db.Fill, error)
	ListPositions(ctx context.Context, id string) ([]db.Position, error)
	ListEquity(ctx context.Context, id string) ([]db.EquityPoint, error)

	// System
	Metrics() monitor.MetricsSnapshot
	GetSystemStatus(ctx context.Context) *SystemStatus
}

// Store is the persistence the service needs; *db.Database implements it.
type Store interface {
	SaveRun(ctx context.Context, rec db.RunRecord) error
	DeleteRun(ctx context.Context, id string) error
	GetRun(ctx context.Context, id string) (*db.Run, error)
	ListRuns(ctx context.Context, limit int) ([]db.Run, error)
	ListFills(ctx context.Context, runID string) ([]db.Fill, error)
	ListPositions(ctx context.Context, runID string) ([]db.Position, error)
	ListEquity(ctx context.Context, runID string) ([]db.EquityPoint, error)
}

// BacktestRequest describes one run. Exactly one of MarketData and Synthetic
// supplies the prices.
type BacktestRequest struct {
	Strategies []strategy.Config     `json:"strategies"`
	MarketData []data.Record         `json:"market_data,omitempty"`
	Synthetic  *data.SyntheticConfig `json:"synthetic,omitempty"`
	// Engine overrides the service's default engine configuration.
	Engine *engine.Config `json:"engine,omitempty"`
}

// Result is the outcome of RunBacktest.
type Result struct {
	ID         string         `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	Strategies []string       `json:"strategies"`
	Symbols    []string       `json:"symbols"`
	Summary    report.Summary `json:"summary"`
	Published  bool           `json:"published"`
}

// SystemStatus describes the running service.
type SystemStatus struct {
	Version   string    `json:"version"`
	StartTime time.Time `json:"start_time"`
	Uptime    string    `json:"uptime"`
	Persisted bool      `json:"persisted"`
	Publishes bool      `json:"publishes"`
	Running   int64     `json:"running"`
	Cached    int       `json:"cached_runs"`
}
