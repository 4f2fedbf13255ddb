package data

import (
	"fmt"
	"math"
	"math/rand"

	"backtesting-engine/internal/errs"
)

// SyntheticConfig describes a seeded random walk.
type SyntheticConfig struct {
	Symbols      []string `json:"symbols"`
	Points       int      `json:"points"`
	Start        int64    `json:"start"`
	Interval     int64    `json:"interval"`
	InitialPrice float64  `json:"initial_price"`
	// Drift and Volatility are the mean and standard deviation of the
	// per-step return.
	Drift      float64 `json:"drift"`
	Volatility float64 `json:"volatility"`
	BaseVolume int64   `json:"base_volume"`
	Seed       int64   `json:"seed"`
}

// DefaultSyntheticConfig is one year of daily TEST prices starting
// 2022-01-01.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Symbols:      []string{"TEST"},
		Points:       252,
		Start:        1640995200,
		Interval:     86400,
		InitialPrice: 100,
		Drift:        0.001,
		Volatility:   0.02,
		BaseVolume:   5000,
		Seed:         42,
	}
}

func (c SyntheticConfig) Validate() error {
	switch {
	case len(c.Symbols) == 0:
		return fmt.Errorf("%w: no symbols", errs.ErrInvalidConfiguration)
	case c.Points < 0:
		return fmt.Errorf("%w: points %d", errs.ErrInvalidConfiguration, c.Points)
	case c.Interval <= 0:
		return fmt.Errorf("%w: interval %d", errs.ErrInvalidConfiguration, c.Interval)
	case !(c.InitialPrice > 0):
		return fmt.Errorf("%w: initial price %v", errs.ErrInvalidConfiguration, c.InitialPrice)
	case c.Volatility < 0 || math.IsNaN(c.Volatility):
		return fmt.Errorf("%w: volatility %v", errs.ErrInvalidConfiguration, c.Volatility)
	case c.BaseVolume < 0:
		return fmt.Errorf("%w: base volume %d", errs.ErrInvalidConfiguration, c.BaseVolume)
	}
	for _, s := range c.Symbols {
		if s == "" {
			return fmt.Errorf("%w: empty symbol", errs.ErrInvalidConfiguration)
		}
	}
	return nil
}

// Generate produces Points observations per symbol, ordered by timestamp and
// then by symbol order. The same config always yields the same records.
func Generate(cfg SyntheticConfig) ([]Record, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	prices := make([]float64, len(cfg.Symbols))
	for i := range prices {
		prices[i] = cfg.InitialPrice
	}

	out := make([]Record, 0, cfg.Points*len(cfg.Symbols))
	for step := 0; step < cfg.Points; step++ {
		ts := cfg.Start + int64(step)*cfg.Interval
		for i, sym := range cfg.Symbols {
			ret := cfg.Drift + cfg.Volatility*rng.NormFloat64()
			next := prices[i] * (1 + ret)
			if next <= 0.01 {
				next = 0.01
			}
			prices[i] = next

			// bigger moves trade more
			vol := int64(float64(cfg.BaseVolume) * (1 + 10*math.Abs(ret)) * (0.5 + rng.Float64()))
			out = append(out, Record{Symbol: sym, Timestamp: ts, Price: roundCents(next), Volume: vol})
		}
	}
	return out, nil
}

func roundCents(v float64) float64 {
	r := math.Round(v*100) / 100
	if r <= 0 {
		return 0.01
	}
	return r
}
