package events

import (
	"fmt"
	"strings"

	"backtesting-engine/internal/errs"
)

// Kind enumerates the four event shapes flowing through the engine.
type Kind int

const (
	KindMarket Kind = iota
	KindSignal
	KindOrder
	KindFill
)

func (k Kind) String() string {
	switch k {
	case KindMarket:
		return "MARKET"
	case KindSignal:
		return "SIGNAL"
	case KindOrder:
		return "ORDER"
	case KindFill:
		return "FILL"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Direction is the side of a signal, order or fill.
type Direction int

const (
	Buy Direction = iota + 1
	Sell
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Sign returns +1 for Buy and -1 for Sell.
func (d Direction) Sign() int64 {
	if d == Sell {
		return -1
	}
	return 1
}

// Valid reports whether d is Buy or Sell.
func (d Direction) Valid() bool {
	return d == Buy || d == Sell
}

// ParseDirection accepts "BUY"/"SELL" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	}
	return 0, fmt.Errorf("%w: unknown direction %q", errs.ErrInvalidEvent, s)
}

// OrderType mirrors the order types a venue would accept.
type OrderType int

const (
	OrderMarket OrderType = iota + 1
	OrderLimit
	OrderStop
)

func (t OrderType) String() string {
	switch t {
	case OrderMarket:
		return "MARKET"
	case OrderLimit:
		return "LIMIT"
	case OrderStop:
		return "STOP"
	default:
		return fmt.Sprintf("OrderType(%d)", int(t))
	}
}

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t >= OrderMarket && t <= OrderStop
}
