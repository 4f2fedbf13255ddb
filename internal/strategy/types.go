package strategy

import (
	"backtesting-engine/internal/events"
)

// Strategy turns market observations into trading opinions.
//
// CalculateSignals is called once per Market event, in timestamp order. Any
// returned signal must carry the Market event's timestamp; use
// events.SignalFromMarket to build it. A strategy may keep per-symbol state
// but must not look at data it has not been given.
type Strategy interface {
	CalculateSignals(m events.Market) ([]events.Signal, error)
	// Name identifies the strategy and becomes the signals' strategy id.
	Name() string
}

// Resetter is implemented by strategies that can drop their accumulated state
// so the same instance can be replayed from scratch.
type Resetter interface {
	Reset()
}

// Func adapts a plain function into a Strategy.
type Func struct {
	ID string
	Fn func(m events.Market) ([]events.Signal, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) CalculateSignals(m events.Market) ([]events.Signal, error) {
	return f.Fn(m)
}

// opinions remembers the last direction emitted per symbol so a strategy can
// signal only when its view changes.
type opinions map[string]events.Direction

// changed records dir for symbol and reports whether it differs from the
// previous opinion. A zero dir means neutral.
func (o opinions) changed(symbol string, dir events.Direction) bool {
	if o[symbol] == dir {
		return false
	}
	o[symbol] = dir
	return dir != 0
}

// bySymbol restricts a strategy to one symbol.
type bySymbol struct {
	Strategy
	symbol string
}

// OnlySymbol wraps s so it only sees Market events for symbol.
func OnlySymbol(s Strategy, symbol string) Strategy {
	if symbol == "" {
		return s
	}
	return &bySymbol{Strategy: s, symbol: symbol}
}

func (b *bySymbol) CalculateSignals(m events.Market) ([]events.Signal, error) {
	if m.Symbol() != b.symbol {
		return nil, nil
	}
	return b.Strategy.CalculateSignals(m)
}

func (b *bySymbol) Reset() {
	if r, ok := b.Strategy.(Resetter); ok {
		r.Reset()
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func one(s events.Signal, err error) ([]events.Signal, error) {
	if err != nil {
		return nil, err
	}
	return []events.Signal{s}, nil
}
