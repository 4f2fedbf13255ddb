package strategy

import (
	"fmt"

	"backtesting-engine/internal/errs"
	"backtesting-engine/internal/events"
	"backtesting-engine/internal/indicators"
)

// VolumeProfileConfig parameterises VolumeProfileStrategy.
type VolumeProfileConfig struct {
	VolumeMultiplier float64 `json:"volume_multiplier"` // e.g. 2.0 means volume must be 2x average
	VolumePeriod     int     `json:"volume_period"`
	Strength         float64 `json:"strength"`
}

func DefaultVolumeProfileConfig() VolumeProfileConfig {
	return VolumeProfileConfig{VolumeMultiplier: 2, VolumePeriod: 20, Strength: 1}
}

func (c VolumeProfileConfig) Validate() error {
	if c.VolumePeriod < 1 || c.VolumeMultiplier <= 0 {
		return fmt.Errorf("%w: volume profile period %d multiplier %v", errs.ErrInvalidConfiguration, c.VolumePeriod, c.VolumeMultiplier)
	}
	if c.Strength < 0 || c.Strength > 1 {
		return fmt.Errorf("%w: volume profile strength %v", errs.ErrInvalidConfiguration, c.Strength)
	}
	return nil
}

// VolumeProfileStrategy trades based on volume patterns.
// High volume + price increase = strong bullish signal
// High volume + price decrease = strong bearish signal
// Low volume movements are ignored.
type VolumeProfileStrategy struct {
	cfg       VolumeProfileConfig
	volumes   *indicators.SymbolWindows
	prevPrice map[string]float64
	prev      opinions
}

// NewVolumeProfileStrategy creates a volume-based strategy.
func NewVolumeProfileStrategy(cfg VolumeProfileConfig) (*VolumeProfileStrategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &VolumeProfileStrategy{
		cfg:       cfg,
		volumes:   indicators.NewSymbolWindows(cfg.VolumePeriod),
		prevPrice: make(map[string]float64),
		prev:      opinions{},
	}, nil
}

func (s *VolumeProfileStrategy) Name() string {
	return fmt.Sprintf("VolumeProfile_%.1fx", s.cfg.VolumeMultiplier)
}

func (s *VolumeProfileStrategy) Reset() {
	s.volumes.Reset()
	s.prevPrice = make(map[string]float64)
	s.prev = opinions{}
}

func (s *VolumeProfileStrategy) CalculateSignals(m events.Market) ([]events.Signal, error) {
	sym := m.Symbol()
	w := s.volumes.Push(sym, float64(m.Volume()))
	prevPrice, seen := s.prevPrice[sym]
	s.prevPrice[sym] = m.Price()

	if !w.Full() || !seen {
		return nil, nil
	}

	// Volume must be significantly above average
	avg := w.Mean()
	if avg == 0 || float64(m.Volume()) < avg*s.cfg.VolumeMultiplier {
		return nil, nil
	}

	var dir events.Direction
	switch {
	case m.Price() > prevPrice:
		dir = events.Buy
	case m.Price() < prevPrice:
		dir = events.Sell
	default:
		return nil, nil
	}

	// Only emit if signal changed
	if !s.prev.changed(sym, dir) {
		return nil, nil
	}
	return one(events.SignalFromMarket(m, dir, s.cfg.Strength, s.Name()))
}
