package strategy

import (
	"fmt"
	"math"

	"backtesting-engine/internal/errs"
	"backtesting-engine/internal/events"
	"backtesting-engine/internal/indicators"
)

// MomentumConfig parameterises MomentumStrategy.
type MomentumConfig struct {
	Lookback  int     `json:"lookback"`
	Threshold float64 `json:"threshold"`
	Strength  float64 `json:"strength"`
}

// DefaultMomentumConfig looks for three consecutive moves of more than 2%.
func DefaultMomentumConfig() MomentumConfig {
	return MomentumConfig{Lookback: 3, Threshold: 0.02, Strength: 0.9}
}

func (c MomentumConfig) Validate() error {
	if c.Lookback < 1 {
		return fmt.Errorf("%w: momentum lookback %d", errs.ErrInvalidConfiguration, c.Lookback)
	}
	if math.IsNaN(c.Threshold) || c.Threshold < 0 {
		return fmt.Errorf("%w: momentum threshold %v", errs.ErrInvalidConfiguration, c.Threshold)
	}
	if math.IsNaN(c.Strength) || c.Strength < 0 || c.Strength > 1 {
		return fmt.Errorf("%w: momentum strength %v", errs.ErrInvalidConfiguration, c.Strength)
	}
	return nil
}

// MomentumStrategy signals BUY when each of the last Lookback relative price
// changes is above Threshold, and SELL when each is below -Threshold.
type MomentumStrategy struct {
	cfg     MomentumConfig
	windows *indicators.SymbolWindows
	name    string
}

func NewMomentumStrategy(cfg MomentumConfig) (*MomentumStrategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MomentumStrategy{
		cfg:     cfg,
		windows: indicators.NewSymbolWindows(cfg.Lookback + 1),
		name:    fmt.Sprintf("Momentum_%dd_%.1f%%", cfg.Lookback, cfg.Threshold*100),
	}, nil
}

func (s *MomentumStrategy) Name() string { return s.name }
func (s *MomentumStrategy) Reset()       { s.windows.Reset() }

func (s *MomentumStrategy) CalculateSignals(m events.Market) ([]events.Signal, error) {
	w := s.windows.Push(m.Symbol(), m.Price())
	if !w.Full() {
		return nil, nil
	}

	up, down := true, true
	for i := 1; i < w.Len(); i++ {
		change := (w.At(i) - w.At(i-1)) / w.At(i-1)
		up = up && change > s.cfg.Threshold
		down = down && change < -s.cfg.Threshold
	}

	switch {
	case up:
		return one(events.SignalFromMarket(m, events.Buy, s.cfg.Strength, s.name))
	case down:
		return one(events.SignalFromMarket(m, events.Sell, s.cfg.Strength, s.name))
	}
	return nil, nil
}
