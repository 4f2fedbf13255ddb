package strategy

import (
	"fmt"

	"backtesting-engine/internal/errs"
	"backtesting-engine/internal/events"
	"backtesting-engine/internal/indicators"
)

// MACrossConfig parameterises MACrossStrategy.
type MACrossConfig struct {
	FastPeriod int     `json:"fast"`
	SlowPeriod int     `json:"slow"`
	Strength   float64 `json:"strength"`
}

func DefaultMACrossConfig() MACrossConfig {
	return MACrossConfig{FastPeriod: 10, SlowPeriod: 30, Strength: 1}
}

func (c MACrossConfig) Validate() error {
	if c.FastPeriod < 1 || c.SlowPeriod <= c.FastPeriod {
		return fmt.Errorf("%w: ma cross periods %d/%d", errs.ErrInvalidConfiguration, c.FastPeriod, c.SlowPeriod)
	}
	if c.Strength < 0 || c.Strength > 1 {
		return fmt.Errorf("%w: ma cross strength %v", errs.ErrInvalidConfiguration, c.Strength)
	}
	return nil
}

// MACrossStrategy implements a simple moving average crossover strategy.
// Generates BUY signal when fast MA crosses above slow MA (golden cross).
// Generates SELL signal when fast MA crosses below slow MA (death cross).
type MACrossStrategy struct {
	cfg     MACrossConfig
	windows *indicators.SymbolWindows
	last    map[string]maPair
	buf     []float64
}

type maPair struct{ fast, slow float64 }

// NewMACrossStrategy creates a new MA cross strategy.
func NewMACrossStrategy(cfg MACrossConfig) (*MACrossStrategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MACrossStrategy{
		cfg:     cfg,
		windows: indicators.NewSymbolWindows(cfg.SlowPeriod),
		last:    make(map[string]maPair),
		buf:     make([]float64, 0, cfg.SlowPeriod),
	}, nil
}

func (s *MACrossStrategy) Name() string {
	return fmt.Sprintf("MA_Cross_%d_%d", s.cfg.FastPeriod, s.cfg.SlowPeriod)
}

func (s *MACrossStrategy) Reset() {
	s.windows.Reset()
	s.last = make(map[string]maPair)
}

func (s *MACrossStrategy) CalculateSignals(m events.Market) ([]events.Signal, error) {
	w := s.windows.Push(m.Symbol(), m.Price())
	// Need enough data for slow MA
	if !w.Full() {
		return nil, nil
	}

	s.buf = w.AppendValues(s.buf[:0])
	cur := maPair{
		fast: indicators.SMA(s.buf, s.cfg.FastPeriod),
		slow: indicators.SMA(s.buf, s.cfg.SlowPeriod),
	}
	prev, primed := s.last[m.Symbol()]
	s.last[m.Symbol()] = cur
	if !primed {
		return nil, nil
	}

	switch {
	case prev.fast <= prev.slow && cur.fast > cur.slow:
		return one(events.SignalFromMarket(m, events.Buy, s.cfg.Strength, s.Name()))
	case prev.fast >= prev.slow && cur.fast < cur.slow:
		return one(events.SignalFromMarket(m, events.Sell, s.cfg.Strength, s.Name()))
	}
	return nil, nil
}
