package portfolio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtesting-engine/internal/errs"
	"backtesting-engine/internal/events"
)

func mustFill(t *testing.T, sym string, dir events.Direction, qty int64, price, commission float64, ts int64) events.Fill {
	t.Helper()
	f, err := events.NewFill("ORD", sym, dir, qty, price, commission, ts)
	require.NoError(t, err)
	return f
}

func TestPositionUpdate(t *testing.T) {
	tests := []struct {
		name         string
		trades       [][2]float64 // qty, price
		wantQty      int64
		wantAvg      float64
		wantRealized float64
	}{
		{"single buy", [][2]float64{{100, 50}}, 100, 50, 0},
		{"weighted average", [][2]float64{{100, 50}, {50, 60}}, 150, 53.333333333, 0},
		{"partial close keeps avg", [][2]float64{{100, 50}, {-40, 55}}, 60, 50, 200},
		{"full close resets avg", [][2]float64{{100, 50}, {-100, 45}}, 0, 0, -500},
		{"flip opens at trade price", [][2]float64{{100, 50}, {-150, 60}}, -50, 60, 1000},
		{"short then cover", [][2]float64{{-20, 10}, {20, 8}}, 0, 0, 40},
		{"short add", [][2]float64{{-10, 10}, {-30, 12}}, -40, 11.5, 0},
		{"zero quantity is a no-op", [][2]float64{{10, 5}, {0, 99}}, 10, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPosition("TEST")
			realized := 0.0
			for _, tr := range tt.trades {
				realized += p.Update(int64(tr[0]), tr[1])
			}
			assert.Equal(t, tt.wantQty, p.Quantity)
			assert.InDelta(t, tt.wantAvg, p.AvgPrice, 1e-6)
			assert.InDelta(t, tt.wantRealized, realized, 1e-9)
			assert.InDelta(t, tt.wantRealized, p.RealizedPnL, 1e-9)
		})
	}
}

func TestPositionMarketValue(t *testing.T) {
	p := NewPosition("TEST")
	p.Update(100, 50)
	assert.Equal(t, 5500.0, p.MarketValue(55))
	assert.Equal(t, 500.0, p.UnrealizedPnL(55))
	assert.False(t, p.IsFlat())

	short := NewPosition("TEST")
	short.Update(-10, 20)
	assert.Equal(t, -150.0, short.MarketValue(15))
	assert.Equal(t, 50.0, short.UnrealizedPnL(15))
}

func TestNewRejectsBadCapital(t *testing.T) {
	_, err := New(-1)
	assert.ErrorIs(t, err, errs.ErrInvalidConfiguration)

	p, err := New(DefaultInitialCapital)
	require.NoError(t, err)
	assert.Equal(t, 100000.0, p.Cash())
	assert.Equal(t, 100000.0, p.TotalValue())
}

func TestOnFillBuyThenMark(t *testing.T) {
	p, err := New(100000)
	require.NoError(t, err)

	p.OnFill(mustFill(t, "TEST", events.Buy, 100, 50, 0, 1))
	assert.Equal(t, 95000.0, p.Cash())

	pos, ok := p.Position("TEST")
	require.True(t, ok)
	assert.Equal(t, int64(100), pos.Quantity)
	assert.Equal(t, 50.0, pos.AvgPrice)

	assert.Equal(t, 100500.0, p.Equity(map[string]float64{"TEST": 55}))
	assert.Equal(t, 100000.0, p.TotalValue(), "falls back to the only price seen")

	p.MarkToMarket("TEST", 55, 2)
	assert.Equal(t, 100500.0, p.TotalValue())
	assert.Equal(t, 500.0, p.UnrealizedPnL())
}

func TestOnFillSellAddsCashAndCommission(t *testing.T) {
	p, _ := New(1000)
	p.OnFill(mustFill(t, "X", events.Buy, 10, 10, 1, 1))
	p.OnFill(mustFill(t, "X", events.Sell, 10, 12, 1, 2))

	assert.InDelta(t, 1000-100-1+120-1, p.Cash(), 1e-9)
	assert.InDelta(t, 20.0, p.RealizedPnL(), 1e-9)
	assert.InDelta(t, 2.0, p.Commission(), 1e-9)
	assert.Equal(t, 2, p.FillCount())
	assert.Equal(t, 1, p.ClosedTrades())
	assert.Equal(t, 1, p.WinningTrades())

	pos, ok := p.Position("X")
	require.True(t, ok, "flat positions persist")
	assert.True(t, pos.IsFlat())
	assert.Equal(t, 0.0, pos.AvgPrice)
}

func TestOnFillAllowsNegativeCash(t *testing.T) {
	p, _ := New(100)
	p.OnFill(mustFill(t, "X", events.Buy, 100, 10, 0, 1))
	assert.Equal(t, -900.0, p.Cash())
	assert.Equal(t, 100.0, p.TotalValue())
}

func TestPositionsSortedAndCopied(t *testing.T) {
	p, _ := New(1000)
	p.OnFill(mustFill(t, "ZZZ", events.Buy, 1, 1, 0, 1))
	p.OnFill(mustFill(t, "AAA", events.Sell, 2, 3, 0, 1))

	got := p.Positions()
	require.Len(t, got, 2)
	assert.Equal(t, "AAA", got[0].Symbol)
	assert.Equal(t, int64(-2), got[0].Quantity)

	got[0].Quantity = 99
	again, _ := p.Position("AAA")
	assert.Equal(t, int64(-2), again.Quantity)

	_, ok := p.Position("NONE")
	assert.False(t, ok)
}

func TestEquityCurveOnePointPerTimestamp(t *testing.T) {
	p, _ := New(1000, WithEquityCurve())
	p.MarkToMarket("X", 10, 1)
	p.OnFill(mustFill(t, "X", events.Buy, 10, 10, 0, 1))
	p.MarkToMarket("X", 12, 2)
	p.MarkToMarket("Y", 5, 2)

	curve := p.EquityCurve()
	require.Len(t, curve, 2)
	assert.Equal(t, EquityPoint{Timestamp: 1, Equity: 1000}, curve[0])
	assert.Equal(t, EquityPoint{Timestamp: 2, Equity: 1020}, curve[1])

	p.Reset()
	assert.Empty(t, p.EquityCurve())
	assert.Equal(t, 1000.0, p.Cash())
	assert.Empty(t, p.Positions())
}

func TestEquityCurveDisabledByDefault(t *testing.T) {
	p, _ := New(1000)
	p.MarkToMarket("X", 10, 1)
	assert.Empty(t, p.EquityCurve())
}
