package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"backtesting-engine/internal/monitor"
	"backtesting-engine/internal/service"
	"backtesting-engine/pkg/db"
)

type listBacktestsQuery struct {
	Limit int `form:"limit"`
}

func (q *listBacktestsQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 200 {
		q.Limit = 200
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// classifyError maps service and store errors to an HTTP status, a code and
// a client-safe message.
func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "backtest not found"
	case errors.Is(err, db.ErrRunIDRequired), service.IsClientError(err):
		return http.StatusBadRequest, "INVALID_REQUEST", err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "BUSY", "no backtest slot became free in time"
	default:
		return http.StatusInternalServerError, "INTERNAL", "internal error"
	}
}

func (s *Server) respondServiceError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, code, msg := classifyError(err)
	if status == http.StatusInternalServerError {
		s.Log.Error("service error", zap.Error(err), zap.String("request_id", c.GetString("RequestID")))
	}
	respondError(c, status, code, msg)
}

// createBacktest runs a backtest synchronously and returns its summary.
func (s *Server) createBacktest(c *gin.Context) {
	if s.opts.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxBodyBytes)
	}

	var req service.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "TOO_LARGE", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}

	res, err := s.Svc.RunBacktest(c.Request.Context(), req)
	if errors.Is(err, service.ErrRunFailed) && res != nil {
		// the run is stored; report it with the failure
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":   "RUN_FAILED",
			"error":  err.Error(),
			"result": res,
		})
		return
	}
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.Header("Location", "/api/backtests/"+res.ID)
	c.JSON(http.StatusCreated, res)
}

func (s *Server) listBacktests(c *gin.Context) {
	var q listBacktestsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	runs, err := s.Svc.ListRuns(c.Request.Context(), q.Limit)
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"backtests": runs, "count": len(runs)})
}

func (s *Server) getBacktest(c *gin.Context) {
	run, err := s.Svc.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) deleteBacktest(c *gin.Context) {
	if err := s.Svc.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getBacktestFills(c *gin.Context) {
	fills, err := s.Svc.ListFills(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills, "count": len(fills)})
}

func (s *Server) getBacktestPositions(c *gin.Context) {
	positions, err := s.Svc.ListPositions(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) getBacktestEquity(c *gin.Context) {
	points, err := s.Svc.ListEquity(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": points})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Svc.GetSystemStatus(c.Request.Context()))
}

// getMetrics returns system performance metrics.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// getPromMetrics returns a minimal Prometheus text exposition of key metrics.
func (s *Server) getPromMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.String(http.StatusServiceUnavailable, "# metrics not available\n")
		return
	}
	snapshot := s.Metrics.GetSnapshot()

	var b strings.Builder
	// Counters
	fmt.Fprintf(&b, "backtest_api_requests_total %d\n", snapshot.APIRequests)
	fmt.Fprintf(&b, "backtest_api_errors_total %d\n", snapshot.APIErrors)
	fmt.Fprintf(&b, "backtest_runs_completed_total %d\n", snapshot.RunsCompleted)
	fmt.Fprintf(&b, "backtest_runs_failed_total %d\n", snapshot.RunsFailed)
	fmt.Fprintf(&b, "backtest_market_events_total %d\n", snapshot.MarketEvents)
	fmt.Fprintf(&b, "backtest_signals_generated_total %d\n", snapshot.SignalsGenerated)
	fmt.Fprintf(&b, "backtest_signals_dropped_total %d\n", snapshot.SignalsDropped)
	fmt.Fprintf(&b, "backtest_orders_processed_total %d\n", snapshot.OrdersProcessed)
	fmt.Fprintf(&b, "backtest_fills_processed_total %d\n", snapshot.FillsProcessed)

	// Gauges for latency (ms)
	writeLatency := func(prefix string, ls monitor.LatencyStats) {
		if ls.Count == 0 {
			return
		}
		fmt.Fprintf(&b, "backtest_%s_latency_ms_avg %f\n", prefix, ls.Avg)
		fmt.Fprintf(&b, "backtest_%s_latency_ms_p50 %f\n", prefix, ls.P50)
		fmt.Fprintf(&b, "backtest_%s_latency_ms_p95 %f\n", prefix, ls.P95)
		fmt.Fprintf(&b, "backtest_%s_latency_ms_p99 %f\n", prefix, ls.P99)
	}
	writeLatency("api", snapshot.APILatency)
	writeLatency("run", snapshot.RunLatency)
	writeLatency("strategy", snapshot.StrategyLatency)
	writeLatency("db", snapshot.DBLatency)

	fmt.Fprintf(&b, "backtest_goroutines %d\n", snapshot.GoroutineCount)
	fmt.Fprintf(&b, "backtest_heap_alloc_bytes %d\n", snapshot.HeapAlloc)

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.String(http.StatusOK, b.String())
}
