// Package config loads environment-driven settings for the backtest service.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"backtesting-engine/internal/engine"
)

// Config holds environment-driven settings for the backtest service.
type Config struct {
	Port string

	// Engine
	InitialCapital       float64
	DefaultQuantity      int64
	ActivationThreshold  float64
	ScaleByStrength      bool
	SlippageBps          float64
	CommissionRate       float64 // decimal (e.g. 0.0004 = 4 bps)
	CommissionPerFill    float64
	TickSize             float64
	ConcurrentStrategies bool
	MaxWorkers           int

	// Service
	MaxConcurrentRuns int
	MaxMarketData     int

	// Database
	DBPath string

	// Strategy definitions (YAML)
	StrategyConfig string

	// Logging
	LogLevel  string
	LogFormat string // "json" (default) or "console"

	// Kafka; publishing is off when no brokers are set
	KafkaBrokers []string
	KafkaTopic   string

	// API
	RateLimit float64 // requests per second per IP
	RateBurst int
	// JWTSecret enables bearer-token auth on /api when set.
	JWTSecret string
	// AllowedOrigins limits browser origins on the websocket stream.
	AllowedOrigins []string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/backtests.db")
	}

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		InitialCapital:       getEnvFloat("BACKTEST_INITIAL_CAPITAL", 100000.0),
		DefaultQuantity:      int64(getEnvInt("BACKTEST_DEFAULT_QUANTITY", 100)),
		ActivationThreshold:  getEnvFloat("BACKTEST_ACTIVATION_THRESHOLD", 0),
		ScaleByStrength:      getEnv("BACKTEST_SCALE_BY_STRENGTH", "false") == "true",
		SlippageBps:          getEnvFloat("BACKTEST_SLIPPAGE_BPS", 0),
		CommissionRate:       getEnvFloat("BACKTEST_COMMISSION_RATE", 0),
		CommissionPerFill:    getEnvFloat("BACKTEST_COMMISSION_PER_FILL", 0),
		TickSize:             getEnvFloat("BACKTEST_TICK_SIZE", 0),
		ConcurrentStrategies: getEnv("BACKTEST_CONCURRENT_STRATEGIES", "false") == "true",
		MaxWorkers:           getEnvInt("BACKTEST_MAX_WORKERS", 0),
		MaxConcurrentRuns:    getEnvInt("MAX_CONCURRENT_RUNS", 2),
		MaxMarketData:        getEnvInt("MAX_MARKET_DATA", 1_000_000),
		DBPath:               dbPath,
		StrategyConfig:       getEnv("STRATEGY_CONFIG", ""),
		LogLevel:             strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(getEnv("LOG_FORMAT", "json")),
		KafkaBrokers:         splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:           getEnv("KAFKA_TOPIC", "backtest-results"),
		RateLimit:            getEnvFloat("RATE_LIMIT", 20),
		RateBurst:            getEnvInt("RATE_BURST", 50),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		AllowedOrigins:       splitAndTrim(getEnv("ALLOWED_ORIGINS", "")),
	}, nil
}

// EngineConfig maps the engine settings onto engine.Config. Journal and
// equity recording keep their defaults.
func (c *Config) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.InitialCapital = c.InitialCapital
	cfg.ConcurrentStrategies = c.ConcurrentStrategies
	cfg.MaxWorkers = c.MaxWorkers
	cfg.Execution.DefaultQuantity = c.DefaultQuantity
	cfg.Execution.ActivationThreshold = c.ActivationThreshold
	cfg.Execution.ScaleByStrength = c.ScaleByStrength
	cfg.Execution.SlippageBps = c.SlippageBps
	cfg.Execution.CommissionRate = c.CommissionRate
	cfg.Execution.CommissionPerFill = c.CommissionPerFill
	cfg.Execution.TickSize = c.TickSize
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
