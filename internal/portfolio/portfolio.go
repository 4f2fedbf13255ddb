// Package portfolio does cash and position accounting for a simulated run.
package portfolio

import (
	"fmt"
	"math"
	"sort"

	"backtesting-engine/internal/errs"
	"backtesting-engine/internal/events"
)

// DefaultInitialCapital is the starting cash when none is configured.
const DefaultInitialCapital = 100000.0

// EquityPoint is the portfolio value observed at one timestamp.
type EquityPoint struct {
	Timestamp int64   `json:"timestamp"`
	Equity    float64 `json:"equity"`
}

// Option customises a Portfolio at construction.
type Option func(*Portfolio)

// WithEquityCurve records one EquityPoint per distinct timestamp.
func WithEquityCurve() Option {
	return func(p *Portfolio) { p.recordEquity = true }
}

// Portfolio owns every Position in a run plus the cash balance.
//
// Fills are never rejected for lack of cash; cash may go negative, which
// models unlimited margin. Portfolio is not safe for concurrent use.
type Portfolio struct {
	initialCapital float64
	cash           float64
	positions      map[string]*Position
	lastPrice      map[string]float64

	realized   float64
	commission float64
	fills      int
	closed     int
	winning    int

	recordEquity bool
	curve        []EquityPoint
}

// New returns a portfolio holding initialCapital in cash.
func New(initialCapital float64, opts ...Option) (*Portfolio, error) {
	if math.IsNaN(initialCapital) || math.IsInf(initialCapital, 0) || initialCapital < 0 {
		return nil, fmt.Errorf("%w: initial capital %v", errs.ErrInvalidConfiguration, initialCapital)
	}
	p := &Portfolio{initialCapital: initialCapital}
	for _, opt := range opts {
		opt(p)
	}
	p.Reset()
	return p, nil
}

// Reset restores the portfolio to its initial cash with no positions.
func (p *Portfolio) Reset() {
	p.cash = p.initialCapital
	p.positions = make(map[string]*Position)
	p.lastPrice = make(map[string]float64)
	p.realized = 0
	p.commission = 0
	p.fills = 0
	p.closed = 0
	p.winning = 0
	p.curve = nil
}

// OnFill applies a fill to cash and to the symbol's position.
func (p *Portfolio) OnFill(f events.Fill) {
	pos, ok := p.positions[f.Symbol()]
	if !ok {
		pos = NewPosition(f.Symbol())
		p.positions[f.Symbol()] = pos
	}

	signed := f.SignedQuantity()
	closing := pos.Quantity != 0 && !sameSign(pos.Quantity, signed)

	p.cash -= float64(signed) * f.Price()
	p.cash -= f.Commission()
	p.commission += f.Commission()
	p.fills++

	realized := pos.Update(signed, f.Price())
	p.realized += realized
	if closing {
		p.closed++
		if realized > 0 {
			p.winning++
		}
	}

	if _, seen := p.lastPrice[f.Symbol()]; !seen {
		p.lastPrice[f.Symbol()] = f.Price()
	}
	p.record(f.Timestamp())
}

// MarkToMarket records the latest observed price for symbol.
func (p *Portfolio) MarkToMarket(symbol string, price float64, ts int64) {
	p.lastPrice[symbol] = price
	p.record(ts)
}

func (p *Portfolio) record(ts int64) {
	if !p.recordEquity {
		return
	}
	pt := EquityPoint{Timestamp: ts, Equity: p.TotalValue()}
	if n := len(p.curve); n > 0 && p.curve[n-1].Timestamp == ts {
		p.curve[n-1] = pt
		return
	}
	p.curve = append(p.curve, pt)
}

// LastPrice returns the most recent price seen for symbol.
func (p *Portfolio) LastPrice(symbol string) (float64, bool) {
	v, ok := p.lastPrice[symbol]
	return v, ok
}

// Position returns a copy of the position in symbol.
func (p *Portfolio) Position(symbol string) (Position, bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{Symbol: symbol}, false
	}
	return *pos, true
}

// Positions returns copies of all positions ordered by symbol. Flat positions
// are included once they have traded.
func (p *Portfolio) Positions() []Position {
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Equity is cash plus the market value of every position. Each symbol is
// valued at prices[symbol] when present, else the last seen price, else the
// position's cost basis.
func (p *Portfolio) Equity(prices map[string]float64) float64 {
	total := p.cash
	for sym, pos := range p.positions {
		if pos.Quantity == 0 {
			continue
		}
		total += pos.MarketValue(p.priceFor(sym, prices))
	}
	return total
}

// TotalValue is Equity at the last seen prices.
func (p *Portfolio) TotalValue() float64 {
	return p.Equity(nil)
}

// UnrealizedPnL sums the open-position gains at the last seen prices.
func (p *Portfolio) UnrealizedPnL() float64 {
	total := 0.0
	for sym, pos := range p.positions {
		total += pos.UnrealizedPnL(p.priceFor(sym, nil))
	}
	return total
}

func (p *Portfolio) priceFor(symbol string, prices map[string]float64) float64 {
	if v, ok := prices[symbol]; ok {
		return v
	}
	if v, ok := p.lastPrice[symbol]; ok {
		return v
	}
	return p.positions[symbol].AvgPrice
}

func (p *Portfolio) Cash() float64           { return p.cash }
func (p *Portfolio) InitialCapital() float64 { return p.initialCapital }
func (p *Portfolio) RealizedPnL() float64    { return p.realized }
func (p *Portfolio) Commission() float64     { return p.commission }
func (p *Portfolio) FillCount() int          { return p.fills }

// ClosedTrades counts fills that reduced or flipped an open position.
func (p *Portfolio) ClosedTrades() int { return p.closed }

// WinningTrades counts closing fills that realized a profit.
func (p *Portfolio) WinningTrades() int { return p.winning }

// EquityCurve returns a copy of the recorded curve; empty unless the
// portfolio was built WithEquityCurve.
func (p *Portfolio) EquityCurve() []EquityPoint {
	out := make([]EquityPoint, len(p.curve))
	copy(out, p.curve)
	return out
}
