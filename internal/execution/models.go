package execution

import (
	"github.com/shopspring/decimal"

	"backtesting-engine/internal/events"
)

// SlippageModel moves a reference price against the trader.
type SlippageModel interface {
	Apply(dir events.Direction, price float64) float64
}

// CommissionModel prices a fill.
type CommissionModel interface {
	Compute(dir events.Direction, price float64, qty int64) float64
}

// BpsSlippage worsens the price by a fixed number of basis points: buys pay
// more, sells receive less.
type BpsSlippage struct{ Bps float64 }

func (s BpsSlippage) Apply(dir events.Direction, price float64) float64 {
	if s.Bps == 0 {
		return price
	}
	frac := s.Bps / 10000.0
	if dir == events.Buy {
		return price * (1 + frac)
	}
	return price * (1 - frac)
}

// RateCommission charges a fraction of notional plus a flat amount per fill.
type RateCommission struct {
	Rate    float64 // decimal, e.g. 0.0004 = 4 bps
	PerFill float64
}

func (c RateCommission) Compute(_ events.Direction, price float64, qty int64) float64 {
	return price*float64(qty)*c.Rate + c.PerFill
}

// roundToTick rounds price to the nearest multiple of tick. A non-positive
// tick leaves the price unchanged; a price that would round to zero is
// lifted to one tick.
func roundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	t := decimal.NewFromFloat(tick)
	r := decimal.NewFromFloat(price).Div(t).Round(0).Mul(t)
	if !r.IsPositive() {
		r = t
	}
	f, _ := r.Float64()
	return f
}
