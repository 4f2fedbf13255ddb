package strategy

import (
	"fmt"
	"math"

	"backtesting-engine/internal/errs"
	"backtesting-engine/internal/events"
	"backtesting-engine/internal/indicators"
)

// BollingerConfig parameterises BollingerStrategy.
type BollingerConfig struct {
	Period    int     `json:"period"`
	NumStdDev float64 `json:"std_dev"`
	Strength  float64 `json:"strength"`
}

func DefaultBollingerConfig() BollingerConfig {
	return BollingerConfig{Period: 20, NumStdDev: 2, Strength: 1}
}

func (c BollingerConfig) Validate() error {
	if c.Period < 2 {
		return fmt.Errorf("%w: bollinger period %d", errs.ErrInvalidConfiguration, c.Period)
	}
	if c.NumStdDev <= 0 || c.Strength < 0 || c.Strength > 1 {
		return fmt.Errorf("%w: bollinger std dev %v strength %v", errs.ErrInvalidConfiguration, c.NumStdDev, c.Strength)
	}
	return nil
}

// BollingerStrategy implements Bollinger Bands breakout strategy.
// BUY when price touches/breaks below lower band
// SELL when price touches/breaks above upper band
type BollingerStrategy struct {
	cfg     BollingerConfig
	windows *indicators.SymbolWindows
	prev    opinions
}

// NewBollingerStrategy creates a new Bollinger Bands strategy.
func NewBollingerStrategy(cfg BollingerConfig) (*BollingerStrategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BollingerStrategy{
		cfg:     cfg,
		windows: indicators.NewSymbolWindows(cfg.Period),
		prev:    opinions{},
	}, nil
}

func (s *BollingerStrategy) Name() string {
	return fmt.Sprintf("Bollinger_%d_%.1f", s.cfg.Period, s.cfg.NumStdDev)
}

func (s *BollingerStrategy) Reset() {
	s.windows.Reset()
	s.prev = opinions{}
}

func (s *BollingerStrategy) CalculateSignals(m events.Market) ([]events.Signal, error) {
	w := s.windows.Push(m.Symbol(), m.Price())
	if !w.Full() {
		return nil, nil
	}

	lower, upper := bands(w, s.cfg.NumStdDev)

	var dir events.Direction
	switch {
	case m.Price() <= lower:
		dir = events.Buy
	case m.Price() >= upper:
		dir = events.Sell
	}
	// Flat windows have zero width; both comparisons hold, nothing to trade.
	if lower == upper {
		dir = 0
	}

	if !s.prev.changed(m.Symbol(), dir) {
		return nil, nil
	}
	return one(events.SignalFromMarket(m, dir, s.cfg.Strength, s.Name()))
}

// bands returns middle -/+ k population standard deviations.
func bands(w *indicators.Window, k float64) (float64, float64) {
	middle := w.Mean()
	variance := 0.0
	for i := 0; i < w.Len(); i++ {
		diff := w.At(i) - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(w.Len()))
	return middle - k*stdDev, middle + k*stdDev
}
