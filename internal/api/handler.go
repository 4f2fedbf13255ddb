// Package api exposes backtests over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"backtesting-engine/internal/monitor"
	"backtesting-engine/internal/service"
)

// Options tunes the HTTP layer.
type Options struct {
	RequestTimeout time.Duration
	RateLimit      float64 // requests per second per IP
	RateBurst      int
	// MaxBodyBytes bounds request bodies; market data can be large.
	MaxBodyBytes int64
	// JWTSecret protects /api with bearer tokens when set.
	JWTSecret string
	// AllowedOrigins limits browser origins on the stream; empty allows all.
	AllowedOrigins []string
}

// DefaultOptions allows 20 req/s per IP with bursts of 50.
func DefaultOptions() Options {
	return Options{
		RequestTimeout: 5 * time.Minute,
		RateLimit:      20,
		RateBurst:      50,
		MaxBodyBytes:   64 << 20,
	}
}

// Server wires HTTP endpoints around the backtest service.
type Server struct {
	Router  *gin.Engine
	Svc     service.Service
	Metrics *monitor.SystemMetrics
	Log     *zap.Logger
	opts    Options

	upgrader *websocket.Upgrader
}

func NewServer(svc service.Service, metrics *monitor.SystemMetrics, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(RequestIDMiddleware())       // Request ID tracking (first, so panics are tagged)
	r.Use(Recovery(log))               // Panic recovery
	r.Use(RequestLogger(log, metrics)) // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(newIPLimiters(rate.Limit(opts.RateLimit), opts.RateBurst), log))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(CORSMiddleware()) // CORS (last before routes)

	s := &Server{
		Router:  r,
		Svc:     svc,
		Metrics: metrics,
		Log:     log,
		opts:    opts,

		upgrader: newUpgrader(opts.AllowedOrigins),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", s.getPromMetrics)

	api := s.Router.Group("/api")
	if s.opts.JWTSecret != "" {
		api.Use(AuthMiddleware(s.opts.JWTSecret))
	}
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		api.POST("/backtests", s.createBacktest)
		api.GET("/backtests", s.listBacktests)
		api.GET("/backtests/stream", s.streamBacktest)
		api.GET("/backtests/:id", s.getBacktest)
		api.DELETE("/backtests/:id", s.deleteBacktest)
		api.GET("/backtests/:id/fills", s.getBacktestFills)
		api.GET("/backtests/:id/positions", s.getBacktestPositions)
		api.GET("/backtests/:id/equity", s.getBacktestEquity)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Log.Info("api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Log.Info("api shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
