package portfolio

// Position is the net holding in one symbol. Quantity is signed: positive is
// long, negative is short. AvgPrice is the cost basis of the open quantity
// only and is zero whenever the position is flat.
type Position struct {
	Symbol      string  `json:"symbol"`
	Quantity    int64   `json:"quantity"`
	AvgPrice    float64 `json:"avg_price"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// NewPosition returns a flat position for symbol.
func NewPosition(symbol string) *Position {
	return &Position{Symbol: symbol}
}

// Update applies a signed trade and returns the P&L it realized.
//
//   - flat or same direction: quantity grows, AvgPrice becomes the weighted average.
//   - opposite direction, not larger than the holding: quantity shrinks and
//     AvgPrice is kept (reset to zero when flat).
//   - opposite direction and larger: the holding is closed and the remainder
//     opens a new position at price.
func (p *Position) Update(qty int64, price float64) float64 {
	if qty == 0 {
		return 0
	}

	if p.Quantity == 0 || sameSign(p.Quantity, qty) {
		total := p.Quantity + qty
		p.AvgPrice = (float64(abs(p.Quantity))*p.AvgPrice + float64(abs(qty))*price) / float64(abs(total))
		p.Quantity = total
		return 0
	}

	closed := min(abs(qty), abs(p.Quantity))
	realized := float64(closed) * (price - p.AvgPrice) * float64(sign(p.Quantity))
	p.RealizedPnL += realized

	remaining := p.Quantity + qty
	switch {
	case remaining == 0:
		p.Quantity = 0
		p.AvgPrice = 0
	case sameSign(remaining, p.Quantity):
		p.Quantity = remaining
	default:
		p.Quantity = remaining
		p.AvgPrice = price
	}
	return realized
}

// MarketValue is Quantity times price.
func (p Position) MarketValue(price float64) float64 {
	return float64(p.Quantity) * price
}

// UnrealizedPnL is the mark-to-market gain of the open quantity at price.
func (p Position) UnrealizedPnL(price float64) float64 {
	if p.Quantity == 0 {
		return 0
	}
	return float64(p.Quantity) * (price - p.AvgPrice)
}

// IsFlat reports whether the position holds nothing.
func (p Position) IsFlat() bool { return p.Quantity == 0 }

func sameSign(a, b int64) bool { return (a > 0) == (b > 0) }

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
