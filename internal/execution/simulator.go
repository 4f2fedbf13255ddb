// Package execution simulates order placement and fills for signals.
package execution

import (
	"fmt"
	"math"

	"backtesting-engine/internal/errs"
	"backtesting-engine/internal/events"
)

// Config holds the simulator settings.
type Config struct {
	// DefaultQuantity is the order size for a full-strength signal.
	DefaultQuantity int64 `json:"default_quantity"`
	// ActivationThreshold drops signals weaker than this. Zero-strength
	// signals are always dropped.
	ActivationThreshold float64 `json:"activation_threshold"`
	// ScaleByStrength sizes orders as max(1, round(DefaultQuantity*strength)).
	ScaleByStrength bool `json:"scale_by_strength"`

	SlippageBps       float64 `json:"slippage_bps"`
	CommissionRate    float64 `json:"commission_rate"` // decimal, e.g. 0.0004 = 4 bps
	CommissionPerFill float64 `json:"commission_per_fill"`
	TickSize          float64 `json:"tick_size"`
}

// DefaultConfig fills 100 units per signal with no costs.
func DefaultConfig() Config {
	return Config{DefaultQuantity: 100}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.DefaultQuantity <= 0:
		return fmt.Errorf("%w: default quantity %d", errs.ErrInvalidConfiguration, c.DefaultQuantity)
	case badNonNegative(c.ActivationThreshold) || c.ActivationThreshold > 1:
		return fmt.Errorf("%w: activation threshold %v", errs.ErrInvalidConfiguration, c.ActivationThreshold)
	case badNonNegative(c.SlippageBps) || c.SlippageBps >= 10000:
		return fmt.Errorf("%w: slippage bps %v", errs.ErrInvalidConfiguration, c.SlippageBps)
	case badNonNegative(c.CommissionRate), badNonNegative(c.CommissionPerFill):
		return fmt.Errorf("%w: commission %v + %v", errs.ErrInvalidConfiguration, c.CommissionRate, c.CommissionPerFill)
	case badNonNegative(c.TickSize):
		return fmt.Errorf("%w: tick size %v", errs.ErrInvalidConfiguration, c.TickSize)
	}
	return nil
}

func badNonNegative(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0) || v < 0
}

// Execution is the Order a signal produced and its immediate Fill.
type Execution struct {
	Order events.Order
	Fill  events.Fill
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithSlippage replaces the basis-point slippage model.
func WithSlippage(m SlippageModel) Option {
	return func(s *Simulator) { s.slippage = m }
}

// WithCommission replaces the rate-plus-flat commission model.
func WithCommission(m CommissionModel) Option {
	return func(s *Simulator) { s.commission = m }
}

// Simulator converts signals into a MARKET order and a same-timestamp fill.
// Order ids are sequential per simulator, so a replay yields identical ids.
type Simulator struct {
	cfg        Config
	slippage   SlippageModel
	commission CommissionModel
	seq        uint64
}

// NewSimulator validates cfg and builds a simulator.
func NewSimulator(cfg Config, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		cfg:        cfg,
		slippage:   BpsSlippage{Bps: cfg.SlippageBps},
		commission: RateCommission{Rate: cfg.CommissionRate, PerFill: cfg.CommissionPerFill},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Simulator) Config() Config { return s.cfg }

// Reset restarts order id numbering.
func (s *Simulator) Reset() { s.seq = 0 }

// OnSignal returns the execution for sig, or false when the signal is below
// the activation threshold. refPrice is the price the fill is based on,
// normally the triggering Market event's price.
func (s *Simulator) OnSignal(sig events.Signal, refPrice float64) (Execution, bool, error) {
	if sig.Strength() == 0 || sig.Strength() < s.cfg.ActivationThreshold {
		return Execution{}, false, nil
	}
	if !(refPrice > 0) || math.IsInf(refPrice, 0) {
		return Execution{}, false, fmt.Errorf("%w: no reference price for %s at %d", errs.ErrInvalidEvent, sig.Symbol(), sig.Timestamp())
	}

	qty := s.quantity(sig.Strength())
	s.seq++
	id := fmt.Sprintf("ORD-%06d", s.seq)

	order, err := events.NewOrder(id, sig.Symbol(), sig.Direction(), qty, events.OrderMarket, 0, sig.Timestamp())
	if err != nil {
		return Execution{}, false, fmt.Errorf("build order: %w", err)
	}

	price := roundToTick(s.slippage.Apply(sig.Direction(), refPrice), s.cfg.TickSize)
	commission := s.commission.Compute(sig.Direction(), price, qty)
	fill, err := events.NewFill(id, sig.Symbol(), sig.Direction(), qty, price, commission, sig.Timestamp())
	if err != nil {
		return Execution{}, false, fmt.Errorf("build fill: %w", err)
	}
	return Execution{Order: order, Fill: fill}, true, nil
}

func (s *Simulator) quantity(strength float64) int64 {
	if !s.cfg.ScaleByStrength {
		return s.cfg.DefaultQuantity
	}
	q := int64(math.Round(float64(s.cfg.DefaultQuantity) * strength))
	if q < 1 {
		q = 1
	}
	return q
}
