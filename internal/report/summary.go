// Package report condenses a finished backtest into headline numbers.
package report

import (
	"math"

	"github.com/shopspring/decimal"

	"backtesting-engine/internal/engine"
	"backtesting-engine/internal/portfolio"
)

// Summary is the outcome of one run. Money is rounded to cents and ratios to
// four decimals.
type Summary struct {
	State          string  `json:"state"`
	Error          string  `json:"error,omitempty"`
	InitialCapital float64 `json:"initial_capital"`
	FinalValue     float64 `json:"final_value"`
	Cash           float64 `json:"cash"`
	TotalReturn    float64 `json:"total_return"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	RealizedPnL    float64 `json:"realized_pnl"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	Commission     float64 `json:"commission"`
	ClosedTrades   int     `json:"closed_trades"`
	WinningTrades  int     `json:"winning_trades"`
	WinRate        float64 `json:"win_rate"`

	Stats engine.Stats `json:"stats"`
}

// FromEngine summarises e after Run returned, whether it succeeded or not.
func FromEngine(e *engine.Engine) Summary {
	pf := e.Portfolio()
	s := FromPortfolio(pf)
	s.State = e.State().String()
	if err := e.Err(); err != nil {
		s.Error = err.Error()
	}
	s.Stats = e.Stats()
	return s
}

// FromPortfolio summarises the portfolio marked at its last seen prices.
func FromPortfolio(pf *portfolio.Portfolio) Summary {
	final := pf.TotalValue()
	return Summary{
		InitialCapital: money(pf.InitialCapital()),
		FinalValue:     money(final),
		Cash:           money(pf.Cash()),
		TotalReturn:    ratio(TotalReturn(pf.InitialCapital(), final)),
		MaxDrawdown:    ratio(MaxDrawdown(pf.EquityCurve())),
		RealizedPnL:    money(pf.RealizedPnL()),
		UnrealizedPnL:  money(pf.UnrealizedPnL()),
		Commission:     money(pf.Commission()),
		ClosedTrades:   pf.ClosedTrades(),
		WinningTrades:  pf.WinningTrades(),
		WinRate:        ratio(WinRate(pf.WinningTrades(), pf.ClosedTrades())),
	}
}

// TotalReturn is (final - initial) / initial, or 0 without capital.
func TotalReturn(initial, final float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (final - initial) / initial
}

// MaxDrawdown is the largest peak-to-trough fall of the curve as a fraction
// of the peak.
func MaxDrawdown(curve []portfolio.EquityPoint) float64 {
	var peak, worst float64
	for i, p := range curve {
		if i == 0 || p.Equity > peak {
			peak = p.Equity
			continue
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// WinRate is winners over closed trades.
func WinRate(winning, closed int) float64 {
	if closed == 0 {
		return 0
	}
	return float64(winning) / float64(closed)
}

func money(v float64) float64 { return round(v, 2) }
func ratio(v float64) float64 { return round(v, 4) }

func round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
