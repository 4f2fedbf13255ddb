package strategy

import (
	"fmt"

	"backtesting-engine/internal/errs"
	"backtesting-engine/internal/events"
	"backtesting-engine/internal/indicators"
)

// RSIConfig parameterises RSIStrategy.
type RSIConfig struct {
	Period     int     `json:"period"`
	Oversold   float64 `json:"oversold"`
	Overbought float64 `json:"overbought"`
}

func DefaultRSIConfig() RSIConfig {
	return RSIConfig{Period: 14, Oversold: 30, Overbought: 70}
}

func (c RSIConfig) Validate() error {
	if c.Period < 1 {
		return fmt.Errorf("%w: rsi period %d", errs.ErrInvalidConfiguration, c.Period)
	}
	if c.Oversold <= 0 || c.Overbought >= 100 || c.Oversold >= c.Overbought {
		return fmt.Errorf("%w: rsi thresholds %v/%v", errs.ErrInvalidConfiguration, c.Oversold, c.Overbought)
	}
	return nil
}

// RSIStrategy implements RSI (Relative Strength Index) overbought/oversold strategy.
// BUY when RSI < Oversold (default 30)
// SELL when RSI > Overbought (default 70)
// A signal is emitted only when the opinion for a symbol changes.
type RSIStrategy struct {
	cfg     RSIConfig
	windows *indicators.SymbolWindows
	prev    opinions
	buf     []float64
}

// NewRSIStrategy creates a new RSI strategy.
func NewRSIStrategy(cfg RSIConfig) (*RSIStrategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RSIStrategy{
		cfg:     cfg,
		windows: indicators.NewSymbolWindows(cfg.Period + 1),
		prev:    opinions{},
		buf:     make([]float64, 0, cfg.Period+1),
	}, nil
}

func (s *RSIStrategy) Name() string {
	return fmt.Sprintf("RSI_%d", s.cfg.Period)
}

func (s *RSIStrategy) Reset() {
	s.windows.Reset()
	s.prev = opinions{}
}

func (s *RSIStrategy) CalculateSignals(m events.Market) ([]events.Signal, error) {
	w := s.windows.Push(m.Symbol(), m.Price())
	// Need enough data to calculate RSI
	if !w.Full() {
		return nil, nil
	}

	s.buf = w.AppendValues(s.buf[:0])
	rsi := indicators.RSI(s.buf, s.cfg.Period)

	var dir events.Direction
	var strength float64
	switch {
	case rsi < s.cfg.Oversold:
		dir = events.Buy
		strength = (s.cfg.Oversold - rsi) / s.cfg.Oversold
	case rsi > s.cfg.Overbought:
		dir = events.Sell
		strength = (rsi - s.cfg.Overbought) / (100 - s.cfg.Overbought)
	}

	if !s.prev.changed(m.Symbol(), dir) {
		return nil, nil
	}
	return one(events.SignalFromMarket(m, dir, clamp01(strength), s.Name()))
}
