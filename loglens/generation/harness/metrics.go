package harness

import (
	"slices"
	"sync"
	"time"
)

// latencyWindow is how many recent analysis latencies are kept for percentiles.
const latencyWindow = 1000

// MetricsCollector collects counters and latencies for analyses
type MetricsCollector struct {
	mu sync.RWMutex

	// Counters
	analyses         int64
	byCode           map[int]int64
	attempts         int64
	retries          int64
	cacheHits        int64
	rateLimitDenials int64

	// Ring of the most recent latencies
	latency []time.Duration
	next    int
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		byCode:  make(map[int]int64),
		latency: make([]time.Duration, 0, latencyWindow),
	}
}

// RecordAnalysis records one finished analysis and the provider calls it made.
func (mc *MetricsCollector) RecordAnalysis(code, attempts int, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.analyses++
	mc.byCode[code]++
	mc.attempts += int64(attempts)
	if attempts > 1 {
		mc.retries += int64(attempts - 1)
	}

	if len(mc.latency) < latencyWindow {
		mc.latency = append(mc.latency, duration)
		return
	}
	mc.latency[mc.next] = duration
	mc.next = (mc.next + 1) % latencyWindow
}

// RecordCacheHit counts a first-round answer served from the cache.
func (mc *MetricsCollector) RecordCacheHit() {
	mc.mu.Lock()
	mc.cacheHits++
	mc.mu.Unlock()
}

// RecordRateLimited counts an attempt denied by the rate limiter.
func (mc *MetricsCollector) RecordRateLimited() {
	mc.mu.Lock()
	mc.rateLimitDenials++
	mc.mu.Unlock()
}

// Snapshot returns a copy of the collected metrics
func (mc *MetricsCollector) Snapshot() MetricsSummary {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	byCode := make(map[int]int64, len(mc.byCode))
	for code, n := range mc.byCode {
		byCode[code] = n
	}

	return MetricsSummary{
		Analyses:         mc.analyses,
		ByCode:           byCode,
		Attempts:         mc.attempts,
		Retries:          mc.retries,
		CacheHits:        mc.cacheHits,
		RateLimitDenials: mc.rateLimitDenials,
		Latency:          percentiles(mc.latency),
	}
}

// Reset clears all collected metrics
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.analyses = 0
	mc.byCode = make(map[int]int64)
	mc.attempts = 0
	mc.retries = 0
	mc.cacheHits = 0
	mc.rateLimitDenials = 0
	mc.latency = mc.latency[:0]
	mc.next = 0
}

func percentiles(latencies []time.Duration) LatencyPercentiles {
	if len(latencies) == 0 {
		return LatencyPercentiles{}
	}

	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	return LatencyPercentiles{
		P50: sorted[len(sorted)*50/100],
		P95: sorted[len(sorted)*95/100],
		P99: sorted[len(sorted)*99/100],
	}
}

// MetricsSummary represents a summary of collected metrics
type MetricsSummary struct {
	Analyses         int64              `json:"analyses"`
	ByCode           map[int]int64      `json:"by_code"`
	Attempts         int64              `json:"attempts"`
	Retries          int64              `json:"retries"`
	CacheHits        int64              `json:"cache_hits"`
	RateLimitDenials int64              `json:"rate_limit_denials"`
	Latency          LatencyPercentiles `json:"latency"`
}

// LatencyPercentiles represents latency percentiles
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
}
