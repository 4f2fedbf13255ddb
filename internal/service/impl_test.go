package service

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"backtesting-engine/internal/data"
	"backtesting-engine/internal/engine"
	"backtesting-engine/internal/errs"
	"backtesting-engine/internal/events"
	"backtesting-engine/internal/sink"
	"backtesting-engine/internal/strategy"
	"backtesting-engine/pkg/db"
)

func newTestService(t *testing.T, s sink.Sink) *Impl {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	svc, err := NewImpl(Config{
		Store:   database,
		Sink:    s,
		Logger:  zaptest.NewLogger(t),
		Engine:  engine.DefaultConfig(),
		Version: "test",
	})
	require.NoError(t, err)
	return svc
}

func referenceRequest() BacktestRequest {
	prices := []float64{100, 102, 99, 105, 103, 107, 101, 108}
	recs := make([]data.Record, len(prices))
	for i, p := range prices {
		recs[i] = data.Record{Symbol: "TEST", Timestamp: 1640995200 + int64(i)*86400, Price: p, Volume: 1000}
	}
	return BacktestRequest{
		Strategies: []strategy.Config{{Type: "sma", Parameters: map[string]interface{}{"window": 5}}},
		MarketData: recs,
	}
}

func TestRunBacktestStoresRun(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	res, err := svc.RunBacktest(ctx, referenceRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, []string{"SMA_5"}, res.Strategies)
	assert.Equal(t, "COMPLETED", res.Summary.State)
	assert.Equal(t, 99900.0, res.Summary.FinalValue)
	assert.False(t, res.Published)

	run, err := svc.GetRun(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"SMA_5"}, run.Strategies)
	assert.Equal(t, 78300.0, run.Cash)
	assert.Equal(t, 4, run.Fills)
	assert.Contains(t, run.Config, `"initial_capital":100000`)

	fills, err := svc.ListFills(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, fills, 4)
	assert.Equal(t, "ORD-000001", fills[0].OrderID)
	assert.Equal(t, 103.0, fills[0].Price)
	assert.Equal(t, "SELL", fills[2].Side)

	positions, err := svc.ListPositions(ctx, res.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(200), positions[0].Qty)
	assert.Equal(t, 108.0, positions[0].LastPrice)

	equity, err := svc.ListEquity(ctx, res.ID)
	require.NoError(t, err)
	assert.Len(t, equity, 8)

	runs, err := svc.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	snap := svc.Metrics()
	assert.Equal(t, uint64(1), snap.RunsCompleted)
	assert.Equal(t, 1, snap.DBLatency.Count)

	_, err = svc.GetRun(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.GetSystemStatus(ctx).Cached)

	require.NoError(t, svc.DeleteRun(ctx, res.ID))
	_, err = svc.GetRun(ctx, res.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Zero(t, svc.GetSystemStatus(ctx).Cached)
}

func TestRunBacktestEngineOverride(t *testing.T) {
	svc := newTestService(t, nil)
	req := referenceRequest()
	cfg := engine.DefaultConfig()
	cfg.InitialCapital = 50000
	cfg.Execution.DefaultQuantity = 10
	cfg.RecordJournal = false
	req.Engine = &cfg

	res, err := svc.RunBacktest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 50000.0, res.Summary.InitialCapital)
	assert.Equal(t, 4, res.Summary.Stats.Fills, "fills are collected even when the request disables the journal")

	fills, err := svc.ListFills(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), fills[0].Qty)
}

func TestRunBacktestSynthetic(t *testing.T) {
	svc := newTestService(t, nil)
	syn := data.DefaultSyntheticConfig()
	syn.Symbols = []string{"AAA", "BBB"}
	syn.Points = 120

	res, err := svc.RunBacktest(context.Background(), BacktestRequest{
		Strategies: []strategy.Config{
			{Type: "sma", Symbol: "AAA"},
			{Type: "rsi", Parameters: map[string]interface{}{"period": 7}},
		},
		Synthetic: &syn,
	})
	require.NoError(t, err)
	assert.Equal(t, 240, res.Summary.Stats.MarketEvents)
	assert.Equal(t, []string{"SMA_20", "RSI_7"}, res.Strategies)
	assert.Equal(t, []string{"AAA", "BBB"}, res.Symbols)
}

func TestRunBacktestRejectsOversizedSynthetic(t *testing.T) {
	svc := newTestService(t, nil)
	svc.maxMarketData = 1_000_000
	syn := data.DefaultSyntheticConfig()
	syn.Symbols = []string{"A", "B", "C", "D"}

	tests := []struct {
		name   string
		points int
	}{
		{"over the cap", 250_001},
		{"product wraps", 1<<62 + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := syn
			cfg.Points = tt.points
			req := referenceRequest()
			req.MarketData = nil
			req.Synthetic = &cfg

			res, err := svc.RunBacktest(context.Background(), req)
			assert.ErrorIs(t, err, errs.ErrInvalidConfiguration)
			assert.Nil(t, res)
		})
	}
}

func TestRunBacktestValidation(t *testing.T) {
	svc := newTestService(t, nil)
	svc.maxMarketData = 5
	syn := data.DefaultSyntheticConfig()

	tests := []struct {
		name   string
		mutate func(*BacktestRequest)
	}{
		{"no strategies", func(r *BacktestRequest) { r.Strategies = nil }},
		{"unknown strategy", func(r *BacktestRequest) { r.Strategies = []strategy.Config{{Type: "astrology"}} }},
		{"no data", func(r *BacktestRequest) { r.MarketData = nil }},
		{"both sources", func(r *BacktestRequest) { r.Synthetic = &syn }},
		{"too much data", func(r *BacktestRequest) {}},
		{"too many synthetic points", func(r *BacktestRequest) { r.MarketData = nil; r.Synthetic = &syn }},
		{"bad engine config", func(r *BacktestRequest) { r.MarketData = r.MarketData[:2]; r.Engine = &engine.Config{} }},
		{"bad record", func(r *BacktestRequest) { r.MarketData = []data.Record{{Symbol: "X", Price: -1}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := referenceRequest()
			tt.mutate(&req)
			res, err := svc.RunBacktest(context.Background(), req)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, IsClientError(err), "got %v", err)
		})
	}

	runs, err := svc.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "rejected requests are not stored")
}

func TestRunBacktestPublishes(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sink.ProducerConfig())
	for i := 0; i < 5; i++ {
		producer.ExpectSendMessageAndSucceed()
	}
	pub := sink.NewPublisher(producer, "backtests", nil)
	svc := newTestService(t, pub)

	res, err := svc.RunBacktest(context.Background(), referenceRequest())
	require.NoError(t, err)
	assert.True(t, res.Published)
	assert.True(t, svc.GetSystemStatus(context.Background()).Publishes)
	require.NoError(t, pub.Close())
}

func TestRunBacktestSurvivesPublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sink.ProducerConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	pub := sink.NewPublisher(producer, "backtests", nil)
	svc := newTestService(t, pub)

	res, err := svc.RunBacktest(context.Background(), referenceRequest())
	require.NoError(t, err)
	assert.False(t, res.Published)

	_, err = svc.GetRun(context.Background(), res.ID)
	assert.NoError(t, err)
	require.NoError(t, pub.Close())
}

func TestRunBacktestWaitsForSlot(t *testing.T) {
	svc := newTestService(t, nil)
	require.NoError(t, svc.slots.Acquire(context.Background(), 1))
	defer svc.slots.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.RunBacktest(ctx, referenceRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewImplNeedsStore(t *testing.T) {
	_, err := NewImpl(Config{Engine: engine.DefaultConfig()})
	assert.ErrorIs(t, err, errs.ErrInvalidConfiguration)
}

func TestStreamBacktestPublishesToBus(t *testing.T) {
	svc := newTestService(t, nil)
	bus := events.NewBus()
	signals, unsub := bus.Subscribe(events.KindSignal, 16)

	res, err := svc.StreamBacktest(context.Background(), referenceRequest(), bus)
	unsub()
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", res.Summary.State)

	var n int
	for ev := range signals {
		assert.Equal(t, "SMA_5", ev.(events.Signal).StrategyID())
		n++
	}
	assert.Equal(t, 4, n)
}
