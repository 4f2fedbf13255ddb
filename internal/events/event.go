package events

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"backtesting-engine/internal/errs"
)

// Event is the closed set of values the engine dispatches: Market, Signal,
// Order and Fill. All implementations are immutable value types, so two
// events with the same fields compare equal with ==.
type Event interface {
	Kind() Kind
	Symbol() string
	Timestamp() int64
	String() string

	sealed()
}

// Market is one observed trade price for a symbol.
type Market struct {
	symbol string
	price  float64
	ts     int64
	volume int64
}

// NewMarket validates and builds a Market event.
func NewMarket(symbol string, price float64, ts int64, volume int64) (Market, error) {
	if symbol == "" {
		return Market{}, fmt.Errorf("%w: market event without symbol", errs.ErrInvalidEvent)
	}
	if !positiveFinite(price) {
		return Market{}, fmt.Errorf("%w: market price %v for %s", errs.ErrInvalidEvent, price, symbol)
	}
	if volume < 0 {
		return Market{}, fmt.Errorf("%w: negative volume %d for %s", errs.ErrInvalidEvent, volume, symbol)
	}
	return Market{symbol: symbol, price: price, ts: ts, volume: volume}, nil
}

func (m Market) Kind() Kind       { return KindMarket }
func (m Market) Symbol() string   { return m.symbol }
func (m Market) Timestamp() int64 { return m.ts }
func (m Market) Price() float64   { return m.price }
func (m Market) Volume() int64    { return m.volume }
func (Market) sealed()            {}

func (m Market) String() string {
	return render("MarketEvent",
		"symbol", m.symbol,
		"price", fmtFloat(m.price),
		"timestamp", fmtInt(m.ts),
		"volume", fmtInt(m.volume),
	)
}

// Signal is a strategy's opinion about a symbol at a point in time.
type Signal struct {
	symbol     string
	direction  Direction
	strength   float64
	strategyID string
	ts         int64
	price      float64
}

// NewSignal validates and builds a Signal. price is the reference price the
// signal was computed from; zero means unknown.
func NewSignal(symbol string, dir Direction, strength float64, strategyID string, ts int64, price float64) (Signal, error) {
	if symbol == "" {
		return Signal{}, fmt.Errorf("%w: signal without symbol", errs.ErrInvalidEvent)
	}
	if !dir.Valid() {
		return Signal{}, fmt.Errorf("%w: signal direction %s", errs.ErrInvalidEvent, dir)
	}
	if math.IsNaN(strength) || strength < 0 || strength > 1 {
		return Signal{}, fmt.Errorf("%w: signal strength %v outside [0,1]", errs.ErrInvalidEvent, strength)
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return Signal{}, fmt.Errorf("%w: signal price %v", errs.ErrInvalidEvent, price)
	}
	return Signal{
		symbol:     symbol,
		direction:  dir,
		strength:   strength,
		strategyID: strategyID,
		ts:         ts,
		price:      price,
	}, nil
}

// SignalFromMarket builds a Signal that inherits symbol, timestamp and price
// from the Market event that triggered it.
func SignalFromMarket(m Market, dir Direction, strength float64, strategyID string) (Signal, error) {
	return NewSignal(m.symbol, dir, strength, strategyID, m.ts, m.price)
}

func (s Signal) Kind() Kind           { return KindSignal }
func (s Signal) Symbol() string       { return s.symbol }
func (s Signal) Timestamp() int64     { return s.ts }
func (s Signal) Direction() Direction { return s.direction }
func (s Signal) Strength() float64    { return s.strength }
func (s Signal) StrategyID() string   { return s.strategyID }
func (s Signal) Price() float64       { return s.price }
func (Signal) sealed()                {}

func (s Signal) String() string {
	return render("SignalEvent",
		"symbol", s.symbol,
		"direction", s.direction.String(),
		"strength", fmtFloat(s.strength),
		"strategy", s.strategyID,
		"timestamp", fmtInt(s.ts),
		"price", fmtFloat(s.price),
	)
}

// Order is an instruction to trade a fixed quantity.
type Order struct {
	id        string
	symbol    string
	direction Direction
	quantity  int64
	orderType OrderType
	price     float64
	ts        int64
}

// NewOrder validates and builds an Order. price is required for LIMIT and
// STOP orders and ignored for MARKET orders.
func NewOrder(id, symbol string, dir Direction, qty int64, typ OrderType, price float64, ts int64) (Order, error) {
	if symbol == "" {
		return Order{}, fmt.Errorf("%w: order without symbol", errs.ErrInvalidEvent)
	}
	if !dir.Valid() {
		return Order{}, fmt.Errorf("%w: order direction %s", errs.ErrInvalidEvent, dir)
	}
	if qty <= 0 {
		return Order{}, fmt.Errorf("%w: order quantity %d", errs.ErrInvalidEvent, qty)
	}
	if !typ.Valid() {
		return Order{}, fmt.Errorf("%w: order type %s", errs.ErrInvalidEvent, typ)
	}
	if typ != OrderMarket && !positiveFinite(price) {
		return Order{}, fmt.Errorf("%w: %s order needs a positive price, got %v", errs.ErrInvalidEvent, typ, price)
	}
	if typ == OrderMarket {
		price = 0
	}
	return Order{id: id, symbol: symbol, direction: dir, quantity: qty, orderType: typ, price: price, ts: ts}, nil
}

func (o Order) Kind() Kind           { return KindOrder }
func (o Order) Symbol() string       { return o.symbol }
func (o Order) Timestamp() int64     { return o.ts }
func (o Order) ID() string           { return o.id }
func (o Order) Direction() Direction { return o.direction }
func (o Order) Quantity() int64      { return o.quantity }
func (o Order) Type() OrderType      { return o.orderType }

// Price is the limit or stop price; zero for MARKET orders.
func (o Order) Price() float64 { return o.price }
func (Order) sealed()          {}

func (o Order) String() string {
	return render("OrderEvent",
		"id", o.id,
		"symbol", o.symbol,
		"direction", o.direction.String(),
		"quantity", fmtInt(o.quantity),
		"type", o.orderType.String(),
		"price", fmtFloat(o.price),
		"timestamp", fmtInt(o.ts),
	)
}

// Fill is the simulated execution of an Order.
type Fill struct {
	orderID    string
	symbol     string
	direction  Direction
	quantity   int64
	price      float64
	commission float64
	ts         int64
}

// NewFill validates and builds a Fill.
func NewFill(orderID, symbol string, dir Direction, qty int64, price, commission float64, ts int64) (Fill, error) {
	if symbol == "" {
		return Fill{}, fmt.Errorf("%w: fill without symbol", errs.ErrInvalidEvent)
	}
	if !dir.Valid() {
		return Fill{}, fmt.Errorf("%w: fill direction %s", errs.ErrInvalidEvent, dir)
	}
	if qty <= 0 {
		return Fill{}, fmt.Errorf("%w: fill quantity %d", errs.ErrInvalidEvent, qty)
	}
	if !positiveFinite(price) {
		return Fill{}, fmt.Errorf("%w: fill price %v", errs.ErrInvalidEvent, price)
	}
	if math.IsNaN(commission) || math.IsInf(commission, 0) || commission < 0 {
		return Fill{}, fmt.Errorf("%w: fill commission %v", errs.ErrInvalidEvent, commission)
	}
	return Fill{orderID: orderID, symbol: symbol, direction: dir, quantity: qty, price: price, commission: commission, ts: ts}, nil
}

func (f Fill) Kind() Kind           { return KindFill }
func (f Fill) Symbol() string       { return f.symbol }
func (f Fill) Timestamp() int64     { return f.ts }
func (f Fill) OrderID() string      { return f.orderID }
func (f Fill) Direction() Direction { return f.direction }
func (f Fill) Quantity() int64      { return f.quantity }
func (f Fill) Price() float64       { return f.price }
func (f Fill) Commission() float64  { return f.commission }
func (Fill) sealed()                {}

// SignedQuantity is the quantity with the fill's direction applied.
func (f Fill) SignedQuantity() int64 { return f.quantity * f.direction.Sign() }

// Notional is quantity times fill price.
func (f Fill) Notional() float64 { return float64(f.quantity) * f.price }

func (f Fill) String() string {
	return render("FillEvent",
		"order", f.orderID,
		"symbol", f.symbol,
		"direction", f.direction.String(),
		"quantity", fmtInt(f.quantity),
		"price", fmtFloat(f.price),
		"commission", fmtFloat(f.commission),
		"timestamp", fmtInt(f.ts),
	)
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func fmtFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
func fmtInt(v int64) string     { return strconv.FormatInt(v, 10) }

func render(name string, kv ...string) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(kv[i])
		b.WriteByte('=')
		b.WriteString(kv[i+1])
	}
	b.WriteByte('}')
	return b.String()
}
