package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks backtest throughput and latency across runs.
type SystemMetrics struct {
	// Latency histograms
	StrategyLatency *LatencyHistogram
	RunLatency      *LatencyHistogram
	DBLatency       *LatencyHistogram
	APILatency      *LatencyHistogram

	// Counters
	marketEvents     uint64
	signalsGenerated uint64
	signalsDropped   uint64
	ordersProcessed  uint64
	fillsProcessed   uint64
	runsCompleted    uint64
	runsFailed       uint64
	apiRequests      uint64
	apiErrors        uint64
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		StrategyLatency: NewLatencyHistogram(1000),
		RunLatency:      NewLatencyHistogram(100),
		DBLatency:       NewLatencyHistogram(1000),
		APILatency:      NewLatencyHistogram(1000),
	}
}

// LatencyHistogram tracks latency samples with sliding window.
// Supports lazy stats computation.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool         // Whether samples have changed since last Stats()
	cachedStats LatencyStats // Cached computed stats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true // Mark as dirty for lazy recomputation
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
// Uses lazy computation - only recomputes when samples have changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Return cached stats if samples haven't changed
	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	// Compute new stats
	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementMarketEvents counts dispatched Market events.
func (m *SystemMetrics) IncrementMarketEvents() {
	atomic.AddUint64(&m.marketEvents, 1)
}

// IncrementSignals counts signals emitted by strategies.
func (m *SystemMetrics) IncrementSignals() {
	atomic.AddUint64(&m.signalsGenerated, 1)
}

// IncrementDroppedSignals counts signals below the activation threshold.
func (m *SystemMetrics) IncrementDroppedSignals() {
	atomic.AddUint64(&m.signalsDropped, 1)
}

// IncrementOrders increments processed orders counter.
func (m *SystemMetrics) IncrementOrders() {
	atomic.AddUint64(&m.ordersProcessed, 1)
}

// IncrementFills counts fills applied to a portfolio.
func (m *SystemMetrics) IncrementFills() {
	atomic.AddUint64(&m.fillsProcessed, 1)
}

// RecordRun counts a finished run and its wall time.
func (m *SystemMetrics) RecordRun(d time.Duration, failed bool) {
	m.RunLatency.RecordDuration(d)
	if failed {
		atomic.AddUint64(&m.runsFailed, 1)
		return
	}
	atomic.AddUint64(&m.runsCompleted, 1)
}

// IncrementAPI counts served API requests.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors counts API responses with status >= 400.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// MetricsSnapshot is a point-in-time copy of SystemMetrics.
type MetricsSnapshot struct {
	StrategyLatency  LatencyStats `json:"strategy_latency"`
	RunLatency       LatencyStats `json:"run_latency"`
	DBLatency        LatencyStats `json:"db_latency"`
	APILatency       LatencyStats `json:"api_latency"`
	MarketEvents     uint64       `json:"market_events"`
	SignalsGenerated uint64       `json:"signals_generated"`
	SignalsDropped   uint64       `json:"signals_dropped"`
	OrdersProcessed  uint64       `json:"orders_processed"`
	FillsProcessed   uint64       `json:"fills_processed"`
	RunsCompleted    uint64       `json:"runs_completed"`
	RunsFailed       uint64       `json:"runs_failed"`
	APIRequests      uint64       `json:"api_requests"`
	APIErrors        uint64       `json:"api_errors"`
	GoroutineCount   int          `json:"goroutine_count"`
	HeapAlloc        uint64       `json:"heap_alloc_bytes"`
	Timestamp        time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		StrategyLatency:  m.StrategyLatency.Stats(),
		RunLatency:       m.RunLatency.Stats(),
		DBLatency:        m.DBLatency.Stats(),
		APILatency:       m.APILatency.Stats(),
		MarketEvents:     atomic.LoadUint64(&m.marketEvents),
		SignalsGenerated: atomic.LoadUint64(&m.signalsGenerated),
		SignalsDropped:   atomic.LoadUint64(&m.signalsDropped),
		OrdersProcessed:  atomic.LoadUint64(&m.ordersProcessed),
		FillsProcessed:   atomic.LoadUint64(&m.fillsProcessed),
		RunsCompleted:    atomic.LoadUint64(&m.runsCompleted),
		RunsFailed:       atomic.LoadUint64(&m.runsFailed),
		APIRequests:      atomic.LoadUint64(&m.apiRequests),
		APIErrors:        atomic.LoadUint64(&m.apiErrors),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		Timestamp:        time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
