package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_PATH", "DATABASE_PATH", "KAFKA_BROKERS", "LOG_LEVEL", "BACKTEST_DEFAULT_QUANTITY"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./data/backtests.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.KafkaBrokers)

	ec := cfg.EngineConfig()
	assert.Equal(t, 100000.0, ec.InitialCapital)
	assert.Equal(t, int64(100), ec.Execution.DefaultQuantity)
	assert.True(t, ec.RecordJournal)
	assert.NoError(t, ec.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DB_PATH", "")
	t.Setenv("DATABASE_PATH", "/tmp/legacy.db")
	t.Setenv("BACKTEST_INITIAL_CAPITAL", "2500.5")
	t.Setenv("BACKTEST_DEFAULT_QUANTITY", "7")
	t.Setenv("BACKTEST_CONCURRENT_STRATEGIES", "true")
	t.Setenv("BACKTEST_SLIPPAGE_BPS", "not-a-number")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("ALLOWED_ORIGINS", "https://ui.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/legacy.db", cfg.DBPath)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"https://ui.example.com"}, cfg.AllowedOrigins)

	ec := cfg.EngineConfig()
	assert.Equal(t, 2500.5, ec.InitialCapital)
	assert.Equal(t, int64(7), ec.Execution.DefaultQuantity)
	assert.True(t, ec.ConcurrentStrategies)
	assert.Zero(t, ec.Execution.SlippageBps, "unparsable values fall back to the default")
}
