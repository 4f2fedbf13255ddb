package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"backtesting-engine/internal/api"
	"backtesting-engine/internal/data"
	"backtesting-engine/internal/monitor"
	"backtesting-engine/internal/service"
	"backtesting-engine/internal/sink"
	"backtesting-engine/internal/strategy"
	"backtesting-engine/pkg/config"
	"backtesting-engine/pkg/db"
	"backtesting-engine/pkg/logging"
)

const tokenTTL = 30 * 24 * time.Hour

type options struct {
	csvPath      string
	strategyPath string
	synthetic    bool
	symbol       string
	points       int
	seed         int64
	serve        bool
	dbPath       string
	issueToken   string
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.csvPath, "csv", "", "CSV file with symbol,timestamp,price[,volume] rows")
	flag.StringVar(&o.strategyPath, "strategies", "", "YAML strategy definitions (default: STRATEGY_CONFIG, else SMA(20))")
	flag.BoolVar(&o.synthetic, "synthetic", false, "run against a generated random walk instead of a CSV file")
	flag.StringVar(&o.symbol, "symbol", "TEST", "symbol for synthetic data")
	flag.IntVar(&o.points, "points", 252, "observations for synthetic data")
	flag.Int64Var(&o.seed, "seed", 42, "seed for synthetic data")
	flag.BoolVar(&o.serve, "serve", false, "serve the HTTP API instead of running a single backtest")
	flag.StringVar(&o.issueToken, "issue-token", "", "print an API token for this subject (signed with JWT_SECRET) and exit")
	flag.StringVar(&o.dbPath, "db", "", "SQLite path for stored runs (default: in-memory for single runs, DB_PATH when serving)")
	flag.Parse()
	return o
}

func main() {
	opts := parseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, log); err != nil {
		log.Error("backtest exited", zap.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, log *zap.Logger) error {
	if opts.issueToken != "" {
		token, err := api.IssueToken(opts.issueToken, cfg.JWTSecret, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	dbPath := opts.dbPath
	if dbPath == "" {
		dbPath = ":memory:"
		if opts.serve {
			dbPath = cfg.DBPath
		}
	}
	database, err := db.New(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("database ready", zap.String("path", dbPath))

	var publisher sink.Sink
	if len(cfg.KafkaBrokers) > 0 {
		p, err := sink.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
		log.Info("publishing runs to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	metrics := monitor.NewSystemMetrics()
	svc, err := service.NewImpl(service.Config{
		Store:             database,
		Sink:              publisher,
		Metrics:           metrics,
		Logger:            log,
		Engine:            cfg.EngineConfig(),
		MaxConcurrentRuns: int64(cfg.MaxConcurrentRuns),
		MaxMarketData:     cfg.MaxMarketData,
		Version:           buildVersion,
	})
	if err != nil {
		return err
	}

	if opts.serve {
		apiOpts := api.DefaultOptions()
		apiOpts.RateLimit = cfg.RateLimit
		apiOpts.RateBurst = cfg.RateBurst
		apiOpts.JWTSecret = cfg.JWTSecret
		apiOpts.AllowedOrigins = cfg.AllowedOrigins
		if cfg.JWTSecret == "" {
			log.Warn("JWT_SECRET not set, /api is open")
		}
		server := api.NewServer(svc, metrics, log, apiOpts)
		return server.Start(ctx, ":"+cfg.Port)
	}

	req, err := buildRequest(cfg, opts)
	if err != nil {
		return err
	}
	res, err := svc.RunBacktest(ctx, req)
	if res != nil {
		printResult(res)
	}
	return err
}

func buildRequest(cfg *config.Config, opts options) (service.BacktestRequest, error) {
	var req service.BacktestRequest

	strategyPath := opts.strategyPath
	if strategyPath == "" {
		strategyPath = cfg.StrategyConfig
	}
	if strategyPath != "" {
		cfgs, err := strategy.LoadConfig(strategyPath)
		if err != nil {
			return req, err
		}
		req.Strategies = cfgs
	} else {
		req.Strategies = []strategy.Config{{Type: "sma"}}
	}

	switch {
	case opts.csvPath != "" && opts.synthetic:
		return req, errors.New("use either -csv or -synthetic")
	case opts.csvPath != "":
		records, err := data.LoadCSV(opts.csvPath)
		if err != nil {
			return req, err
		}
		req.MarketData = records
	case opts.synthetic:
		syn := data.DefaultSyntheticConfig()
		syn.Symbols = []string{opts.symbol}
		syn.Points = opts.points
		syn.Seed = opts.seed
		req.Synthetic = &syn
	default:
		return req, errors.New("no market data: pass -csv <file> or -synthetic")
	}
	return req, nil
}

func printResult(res *service.Result) {
	s := res.Summary
	fmt.Printf("run %s  %s\n", res.ID, s.State)
	if s.Error != "" {
		fmt.Printf("  error:          %s\n", s.Error)
	}
	fmt.Printf("  strategies:     %v\n", res.Strategies)
	fmt.Printf("  symbols:        %v\n", res.Symbols)
	fmt.Printf("  events:         market=%d signals=%d dropped=%d orders=%d fills=%d\n",
		s.Stats.MarketEvents, s.Stats.Signals, s.Stats.SignalsDropped, s.Stats.Orders, s.Stats.Fills)
	fmt.Printf("  initial:        %.2f\n", s.InitialCapital)
	fmt.Printf("  final value:    %.2f\n", s.FinalValue)
	fmt.Printf("  cash:           %.2f\n", s.Cash)
	fmt.Printf("  total return:   %.2f%%\n", s.TotalReturn*100)
	fmt.Printf("  max drawdown:   %.2f%%\n", s.MaxDrawdown*100)
	fmt.Printf("  realized pnl:   %.2f\n", s.RealizedPnL)
	fmt.Printf("  unrealized pnl: %.2f\n", s.UnrealizedPnL)
	fmt.Printf("  commission:     %.2f\n", s.Commission)
	fmt.Printf("  closed trades:  %d (win rate %.1f%%)\n", s.ClosedTrades, s.WinRate*100)
}
