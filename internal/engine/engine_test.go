package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"backtesting-engine/internal/errs"
	"backtesting-engine/internal/events"
	"backtesting-engine/internal/monitor"
	"backtesting-engine/internal/strategy"
)

const day = int64(86400)

var referencePrices = []float64{100, 102, 99, 105, 103, 107, 101, 108}

func newEngine(t *testing.T, mutate func(*Config), opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	require.NoError(t, err)
	return e
}

func addSeries(t *testing.T, e *Engine, symbol string, start int64, prices []float64) {
	t.Helper()
	for i, p := range prices {
		require.NoError(t, e.AddMarketData(symbol, p, start+int64(i)*day, 1000))
	}
}

// alwaysBuy signals BUY at full strength on every Market event.
func alwaysBuy(name string) strategy.Func {
	return strategy.Func{ID: name, Fn: func(m events.Market) ([]events.Signal, error) {
		sig, err := events.SignalFromMarket(m, events.Buy, 1, name)
		if err != nil {
			return nil, err
		}
		return []events.Signal{sig}, nil
	}}
}

func journalKinds(j []events.Event) []string {
	out := make([]string, len(j))
	for i, ev := range j {
		out[i] = ev.Kind().String() + ":" + ev.Symbol()
	}
	return out
}

func TestEndToEndSMA(t *testing.T) {
	e := newEngine(t, nil)
	sma, err := strategy.NewSMAStrategy(5)
	require.NoError(t, err)
	require.NoError(t, e.AddStrategy(sma))
	addSeries(t, e, "TEST", 1640995200, referencePrices)

	require.Equal(t, StateIdle, e.State())
	require.NoError(t, e.Run())
	assert.Equal(t, StateCompleted, e.State())
	assert.NoError(t, e.Err())
	assert.Equal(t, 0, e.Pending())

	pf := e.Portfolio()
	assert.False(t, math.IsNaN(pf.Cash()))
	assert.False(t, math.IsInf(pf.Cash(), -1))

	// BUY@103, BUY@107, SELL@101, BUY@108 at 100 units each
	assert.InDelta(t, 78300.0, pf.Cash(), 1e-9)
	pos, ok := pf.Position("TEST")
	require.True(t, ok)
	assert.Equal(t, int64(200), pos.Quantity)
	assert.InDelta(t, 106.5, pos.AvgPrice, 1e-9)
	assert.InDelta(t, -400.0, pf.RealizedPnL(), 1e-9)
	assert.InDelta(t, 99900.0, pf.TotalValue(), 1e-9)

	st := e.Stats()
	assert.Equal(t, 8, st.MarketEvents)
	assert.Equal(t, 4, st.Signals)
	assert.Equal(t, 4, st.Orders)
	assert.Equal(t, 4, st.Fills)
	assert.Equal(t, 20, st.Events())

	assert.Len(t, pf.EquityCurve(), 8)
	assert.Equal(t, []string{"SMA_5"}, e.StrategyNames())
}

func TestRunTwiceWithoutResetFails(t *testing.T) {
	e := newEngine(t, nil)
	addSeries(t, e, "TEST", 0, []float64{1, 2})
	require.NoError(t, e.Run())

	assert.ErrorIs(t, e.Run(), errs.ErrInvalidState)
	assert.ErrorIs(t, e.AddMarketData("TEST", 1, 10, 0), errs.ErrInvalidState)
	assert.ErrorIs(t, e.AddStrategy(alwaysBuy("x")), errs.ErrInvalidState)
	assert.Equal(t, StateCompleted, e.State())
}

func TestAddValidation(t *testing.T) {
	e := newEngine(t, nil)
	assert.ErrorIs(t, e.AddMarketData("", 1, 0, 0), errs.ErrInvalidEvent)
	assert.ErrorIs(t, e.AddMarketData("X", 0, 0, 0), errs.ErrInvalidEvent)
	assert.ErrorIs(t, e.AddMarketData("X", 1, 0, -1), errs.ErrInvalidEvent)
	assert.ErrorIs(t, e.AddStrategy(nil), errs.ErrInvalidConfiguration)
	assert.Equal(t, 0, e.Pending())

	_, err := New(Config{InitialCapital: 1000})
	assert.ErrorIs(t, err, errs.ErrInvalidConfiguration, "zero default quantity")

	cfg := DefaultConfig()
	cfg.InitialCapital = -5
	_, err = New(cfg)
	assert.ErrorIs(t, err, errs.ErrInvalidConfiguration)
}

func TestSameTimestampKeepsInsertionOrder(t *testing.T) {
	e := newEngine(t, nil)
	require.NoError(t, e.AddStrategy(alwaysBuy("buyer")))
	require.NoError(t, e.AddMarketData("A", 10, 100, 0))
	require.NoError(t, e.AddMarketData("B", 20, 100, 0))

	require.NoError(t, e.Run())
	assert.Equal(t, []string{
		"MARKET:A", "MARKET:B",
		"SIGNAL:A", "SIGNAL:B",
		"ORDER:A", "FILL:A",
		"ORDER:B", "FILL:B",
	}, journalKinds(e.Journal()))
}

func TestOutOfOrderInsertionIsSorted(t *testing.T) {
	e := newEngine(t, nil)
	for _, ts := range []int64{30, 10, 20} {
		require.NoError(t, e.AddMarketData("X", float64(ts), ts, 0))
	}
	require.NoError(t, e.Run())

	var got []int64
	for _, ev := range e.Journal() {
		got = append(got, ev.Timestamp())
	}
	assert.Equal(t, []int64{10, 20, 30}, got)
}

func TestFillsPrecedeLaterMarketEvents(t *testing.T) {
	e := newEngine(t, nil)
	require.NoError(t, e.AddStrategy(alwaysBuy("buyer")))
	addSeries(t, e, "X", 0, []float64{10, 11, 12})
	require.NoError(t, e.Run())

	var last int64 = math.MinInt64
	for _, ev := range e.Journal() {
		assert.GreaterOrEqual(t, ev.Timestamp(), last, "timestamps never decrease")
		last = ev.Timestamp()
	}
	assert.Equal(t, []string{
		"MARKET:X", "SIGNAL:X", "ORDER:X", "FILL:X",
		"MARKET:X", "SIGNAL:X", "ORDER:X", "FILL:X",
		"MARKET:X", "SIGNAL:X", "ORDER:X", "FILL:X",
	}, journalKinds(e.Journal()))
}

func TestStrategyErrorFailsRunAndKeepsMutations(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	flaky := strategy.Func{ID: "flaky", Fn: func(m events.Market) ([]events.Signal, error) {
		calls++
		if calls == 3 {
			return nil, boom
		}
		sig, err := events.SignalFromMarket(m, events.Buy, 1, "flaky")
		return []events.Signal{sig}, err
	}}

	e := newEngine(t, nil)
	require.NoError(t, e.AddStrategy(flaky))
	addSeries(t, e, "X", 0, []float64{10, 10, 10, 10})

	err := e.Run()
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrStrategyFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, e.State())
	assert.Equal(t, err, e.Err())

	pos, _ := e.Portfolio().Position("X")
	assert.Equal(t, int64(200), pos.Quantity, "fills before the failure stay applied")
	assert.Equal(t, 1, e.Pending(), "remaining events are not dispatched")

	assert.ErrorIs(t, e.Run(), errs.ErrInvalidState)
}

func TestStrategyPanicIsRecovered(t *testing.T) {
	e := newEngine(t, nil)
	require.NoError(t, e.AddStrategy(strategy.Func{ID: "panicky", Fn: func(events.Market) ([]events.Signal, error) {
		panic("index out of range")
	}}))
	addSeries(t, e, "X", 0, []float64{1})

	err := e.Run()
	assert.ErrorIs(t, err, errs.ErrStrategyFailed)
	assert.Contains(t, err.Error(), "panicky")
	assert.Equal(t, StateFailed, e.State())
}

func TestLookAheadSignalRejected(t *testing.T) {
	e := newEngine(t, nil)
	require.NoError(t, e.AddStrategy(strategy.Func{ID: "future", Fn: func(m events.Market) ([]events.Signal, error) {
		sig, err := events.NewSignal(m.Symbol(), events.Buy, 1, "future", m.Timestamp()+1, m.Price())
		return []events.Signal{sig}, err
	}}))
	addSeries(t, e, "X", 0, []float64{1})

	assert.ErrorIs(t, e.Run(), errs.ErrStrategyFailed)
}

func TestActivationThresholdDropsSignals(t *testing.T) {
	e := newEngine(t, func(c *Config) { c.Execution.ActivationThreshold = 0.99 })
	sma, _ := strategy.NewSMAStrategy(5)
	require.NoError(t, e.AddStrategy(sma))
	addSeries(t, e, "TEST", 1640995200, referencePrices)

	require.NoError(t, e.Run())
	st := e.Stats()
	assert.Equal(t, 4, st.Signals)
	assert.Equal(t, 4, st.SignalsDropped)
	assert.Equal(t, 0, st.Fills)
	assert.Equal(t, 100000.0, e.Portfolio().Cash())
}

func TestSignalWithoutPriceUsesLastMarketPrice(t *testing.T) {
	e := newEngine(t, nil)
	require.NoError(t, e.AddStrategy(strategy.Func{ID: "noprice", Fn: func(m events.Market) ([]events.Signal, error) {
		sig, err := events.NewSignal(m.Symbol(), events.Sell, 1, "noprice", m.Timestamp(), 0)
		return []events.Signal{sig}, err
	}}))
	require.NoError(t, e.AddMarketData("X", 42, 1, 0))
	require.NoError(t, e.Run())

	pos, _ := e.Portfolio().Position("X")
	assert.Equal(t, int64(-100), pos.Quantity)
	assert.Equal(t, 42.0, pos.AvgPrice)
}

func TestSignalForUnseenSymbolFails(t *testing.T) {
	e := newEngine(t, nil)
	require.NoError(t, e.AddStrategy(strategy.Func{ID: "pairs", Fn: func(m events.Market) ([]events.Signal, error) {
		sig, err := events.NewSignal("OTHER", events.Buy, 1, "pairs", m.Timestamp(), 0)
		return []events.Signal{sig}, err
	}}))
	require.NoError(t, e.AddMarketData("X", 42, 1, 0))

	assert.ErrorIs(t, e.Run(), errs.ErrInvalidEvent)
	assert.Equal(t, StateFailed, e.State())
}

func TestResetAllowsReplay(t *testing.T) {
	e := newEngine(t, nil)
	sma, _ := strategy.NewSMAStrategy(5)
	require.NoError(t, e.AddStrategy(sma))
	addSeries(t, e, "TEST", 1640995200, referencePrices)
	require.NoError(t, e.Run())
	first := e.Journal()
	firstValue := e.Portfolio().TotalValue()

	e.Reset()
	assert.Equal(t, StateIdle, e.State())
	assert.Empty(t, e.Journal())
	assert.Equal(t, Stats{}, e.Stats())
	assert.Equal(t, 100000.0, e.Portfolio().Cash())

	addSeries(t, e, "TEST", 1640995200, referencePrices)
	require.NoError(t, e.Run())
	assert.Equal(t, first, e.Journal(), "replay is deterministic")
	assert.Equal(t, firstValue, e.Portfolio().TotalValue())
}

func TestConcurrentEvaluationMatchesSequential(t *testing.T) {
	prices := make([]float64, 300)
	for i := range prices {
		prices[i] = 100 + 10*math.Sin(float64(i)/7) + float64(i%5)
	}
	build := func(concurrent bool) []events.Event {
		e := newEngine(t, func(c *Config) {
			c.ConcurrentStrategies = concurrent
			c.MaxWorkers = 2
		})
		sma, _ := strategy.NewSMAStrategy(5)
		mom, _ := strategy.NewMomentumStrategy(strategy.MomentumConfig{Lookback: 2, Threshold: 0.005, Strength: 0.9})
		rsi, _ := strategy.NewRSIStrategy(strategy.RSIConfig{Period: 6, Oversold: 35, Overbought: 65})
		for _, s := range []strategy.Strategy{sma, mom, rsi} {
			require.NoError(t, e.AddStrategy(s))
		}
		addSeries(t, e, "A", 0, prices)
		addSeries(t, e, "B", 0, prices[50:])
		require.NoError(t, e.Run())
		return e.Journal()
	}

	assert.Equal(t, build(false), build(true))
}

func TestConcurrentErrorFollowsRegistrationOrder(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	failWith := func(name string, err error) strategy.Func {
		return strategy.Func{ID: name, Fn: func(events.Market) ([]events.Signal, error) { return nil, err }}
	}

	e := newEngine(t, func(c *Config) { c.ConcurrentStrategies = true })
	require.NoError(t, e.AddStrategy(alwaysBuy("ok")))
	require.NoError(t, e.AddStrategy(failWith("one", first)))
	require.NoError(t, e.AddStrategy(failWith("two", second)))
	addSeries(t, e, "X", 0, []float64{1})

	err := e.Run()
	assert.ErrorIs(t, err, first)
	assert.NotErrorIs(t, err, second)
	assert.Equal(t, 0, e.Stats().Signals, "no signals are enqueued for a failed market event")
}

func TestMetricsAndLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	metrics := monitor.NewSystemMetrics()

	cfg := DefaultConfig()
	e, err := New(cfg, WithLogger(zap.New(core)), WithMetrics(metrics))
	require.NoError(t, err)
	sma, _ := strategy.NewSMAStrategy(5)
	require.NoError(t, e.AddStrategy(sma))
	addSeries(t, e, "TEST", 1640995200, referencePrices)
	require.NoError(t, e.Run())

	snap := metrics.GetSnapshot()
	assert.Equal(t, uint64(8), snap.MarketEvents)
	assert.Equal(t, uint64(4), snap.SignalsGenerated)
	assert.Equal(t, uint64(4), snap.FillsProcessed)
	assert.Equal(t, uint64(1), snap.RunsCompleted)
	assert.Equal(t, 8, snap.StrategyLatency.Count)

	assert.Equal(t, 1, logs.FilterMessage("backtest started").Len())
	assert.Equal(t, 1, logs.FilterMessage("backtest completed").Len())
}

func TestAccessorsAreIdempotent(t *testing.T) {
	e := newEngine(t, nil)
	sma, _ := strategy.NewSMAStrategy(3)
	require.NoError(t, e.AddStrategy(sma))
	addSeries(t, e, "X", 0, []float64{1, 2, 3, 4, 5})
	require.NoError(t, e.Run())

	pf := e.Portfolio()
	assert.Equal(t, pf.Positions(), pf.Positions())
	assert.Equal(t, pf.TotalValue(), pf.TotalValue())
	assert.Equal(t, e.Journal(), e.Journal())
	pos, _ := pf.Position("X")
	assert.Equal(t, pos.MarketValue(7), pos.MarketValue(7))
}

func TestStressThousandPoints(t *testing.T) {
	e, err := NewWithCapital(1_000_000)
	require.NoError(t, err)
	sma, _ := strategy.NewSMAStrategy(20)
	require.NoError(t, e.AddStrategy(sma))

	price := 100.0
	for i := 0; i < 1000; i++ {
		price *= 1 + 0.01*math.Sin(float64(i))
		require.NoError(t, e.AddMarketData("STRESS", price, int64(i), 1000))
	}
	require.NoError(t, e.Run())
	assert.Equal(t, 1000, e.Stats().MarketEvents)
	assert.Equal(t, StateCompleted, e.State())
}

func TestBusSeesDispatchedEvents(t *testing.T) {
	bus := events.NewBus()
	fills, unsubFills := bus.Subscribe(events.KindFill, 16)
	defer unsubFills()
	markets, unsubMarkets := bus.Subscribe(events.KindMarket, 2)
	defer unsubMarkets()

	e := newEngine(t, func(c *Config) { c.RecordJournal = false }, WithBus(bus))
	sma, err := strategy.NewSMAStrategy(5)
	require.NoError(t, err)
	require.NoError(t, e.AddStrategy(sma))
	addSeries(t, e, "TEST", 1640995200, referencePrices)
	require.NoError(t, e.Run())

	require.Len(t, fills, 4)
	first := (<-fills).(events.Fill)
	assert.Equal(t, 103.0, first.Price())
	// the market subscriber is slow and misses what does not fit its buffer
	assert.Len(t, markets, 2)
}
