package strategy

import (
	"fmt"
	"math"

	"backtesting-engine/internal/errs"
	"backtesting-engine/internal/events"
	"backtesting-engine/internal/indicators"
)

// SMAConfig parameterises SMAStrategy.
type SMAConfig struct {
	Window int `json:"window"`
	// Epsilon is the relative dead band around the average; deviations with
	// magnitude at or below it produce no signal.
	Epsilon float64 `json:"epsilon"`
	// MaxDeviation is the relative deviation that maps to full strength.
	MaxDeviation float64 `json:"max_deviation"`
}

// DefaultSMAConfig is a 20-observation window with no dead band.
func DefaultSMAConfig() SMAConfig {
	return SMAConfig{Window: 20, MaxDeviation: 0.05}
}

// Validate checks the configuration.
func (c SMAConfig) Validate() error {
	if c.Window < 1 {
		return fmt.Errorf("%w: sma window %d", errs.ErrInvalidConfiguration, c.Window)
	}
	if math.IsNaN(c.Epsilon) || c.Epsilon < 0 {
		return fmt.Errorf("%w: sma epsilon %v", errs.ErrInvalidConfiguration, c.Epsilon)
	}
	if math.IsNaN(c.MaxDeviation) || c.MaxDeviation <= 0 {
		return fmt.Errorf("%w: sma max deviation %v", errs.ErrInvalidConfiguration, c.MaxDeviation)
	}
	return nil
}

// SMAStrategy compares each price with the simple moving average of the last
// Window prices for the same symbol. Above the average it signals BUY, below
// it SELL, with strength proportional to the relative deviation.
type SMAStrategy struct {
	cfg     SMAConfig
	windows *indicators.SymbolWindows
	name    string
}

// NewSMAStrategy builds an SMA strategy with default epsilon and max deviation.
func NewSMAStrategy(window int) (*SMAStrategy, error) {
	cfg := DefaultSMAConfig()
	cfg.Window = window
	return NewSMAStrategyWithConfig(cfg)
}

// NewSMAStrategyWithConfig builds an SMA strategy from cfg.
func NewSMAStrategyWithConfig(cfg SMAConfig) (*SMAStrategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SMAStrategy{
		cfg:     cfg,
		windows: indicators.NewSymbolWindows(cfg.Window),
		name:    fmt.Sprintf("SMA_%d", cfg.Window),
	}, nil
}

func (s *SMAStrategy) Name() string      { return s.name }
func (s *SMAStrategy) Config() SMAConfig { return s.cfg }
func (s *SMAStrategy) Reset()            { s.windows.Reset() }

// CalculateSignals emits at most one signal per call, and none until the
// symbol's window is full.
func (s *SMAStrategy) CalculateSignals(m events.Market) ([]events.Signal, error) {
	w := s.windows.Push(m.Symbol(), m.Price())
	if !w.Full() {
		return nil, nil
	}

	sma := w.Mean()
	dev := (m.Price() - sma) / sma

	var dir events.Direction
	switch {
	case dev > s.cfg.Epsilon:
		dir = events.Buy
	case dev < -s.cfg.Epsilon:
		dir = events.Sell
	default:
		return nil, nil
	}

	strength := math.Min(1, math.Abs(dev)/s.cfg.MaxDeviation)
	return one(events.SignalFromMarket(m, dir, strength, s.name))
}
