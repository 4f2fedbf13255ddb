package engine

import (
	"fmt"
	"time"

	"backtesting-engine/internal/errs"
	"backtesting-engine/internal/execution"
	"backtesting-engine/internal/portfolio"
)

// State is the engine lifecycle: Idle -> Running -> Completed | Failed.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the engine construction settings.
type Config struct {
	InitialCapital float64          `json:"initial_capital"`
	Execution      execution.Config `json:"execution"`

	// ConcurrentStrategies evaluates all strategies for one Market event in
	// parallel. Signals are still enqueued in registration order.
	ConcurrentStrategies bool `json:"concurrent_strategies"`
	// MaxWorkers bounds concurrent evaluation; zero means one goroutine per strategy.
	MaxWorkers int `json:"max_workers"`

	// RecordJournal keeps every dispatched event for inspection after Run.
	RecordJournal bool `json:"record_journal"`
	// RecordEquity keeps one portfolio value per distinct timestamp.
	RecordEquity bool `json:"record_equity"`
}

// DefaultConfig starts with 100000 in cash and the default simulator.
func DefaultConfig() Config {
	return Config{
		InitialCapital: portfolio.DefaultInitialCapital,
		Execution:      execution.DefaultConfig(),
		RecordJournal:  true,
		RecordEquity:   true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxWorkers < 0 {
		return fmt.Errorf("%w: max workers %d", errs.ErrInvalidConfiguration, c.MaxWorkers)
	}
	return c.Execution.Validate()
}

// Stats counts what a run dispatched.
type Stats struct {
	MarketEvents   int           `json:"market_events"`
	Signals        int           `json:"signals"`
	SignalsDropped int           `json:"signals_dropped"`
	Orders         int           `json:"orders"`
	Fills          int           `json:"fills"`
	Duration       time.Duration `json:"duration_ns"`
}

// Events is the total number of events dispatched.
func (s Stats) Events() int {
	return s.MarketEvents + s.Signals + s.Orders + s.Fills
}
