package stats

/*
	Collector centralises request accounting for the rotation engine. Every
	component reports here - dispatcher outcomes, retry legs, rate-limit
	denials, breaker rejections - so one snapshot shows what the engine is
	doing system-wide.

	Thread-safe for high concurrency since this gets hit on every request.
	Per-proxy records are removed when the proxy leaves the pool, so the map
	tracks the live pool and nothing else.
*/

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
)

const DefaultLatencySampleSize = 200

type Collector struct {
	proxies    *xsync.Map[string, *proxyRecord]
	selections *xsync.Map[string, *selectionRecord]
	latency    PercentileTracker

	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
	totalLatency       atomic.Int64
	retriedAttempts    atomic.Int64
	rateLimited        atomic.Int64
	breakerRejections  atomic.Int64
}

type proxyRecord struct {
	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
	totalLatency       atomic.Int64
	minLatency         atomic.Int64
	maxLatency         atomic.Int64
	lastUsed           atomic.Int64

	// url, status and ema change rarely relative to the counters; a plain
	// mutex is cheaper than threading them through CAS loops.
	metaMu sync.Mutex
	url    string
	status string
	emaMs  float64
}

type selectionRecord struct {
	count        atomic.Int64
	totalLatency atomic.Int64 // nanoseconds; selection is sub-millisecond
}

// SelectionStats aggregates one strategy's selection activity.
type SelectionStats struct {
	Count         int64 `json:"count"`
	AverageMicros int64 `json:"avg_micros"`
}

var _ ports.StatsCollector = (*Collector)(nil)

func NewCollector() *Collector {
	return &Collector{
		proxies:    xsync.NewMap[string, *proxyRecord](),
		selections: xsync.NewMap[string, *selectionRecord](),
		latency:    NewReservoirSampler(DefaultLatencySampleSize),
	}
}

// RecordAttempt accounts one request attempt through one proxy. Latency
// feeds the percentile sampler only on success so timeouts do not drown
// the signal.
func (c *Collector) RecordAttempt(proxy *domain.Proxy, statusCode int, latency time.Duration, success bool) {
	latencyMs := latency.Milliseconds()

	c.totalRequests.Add(1)
	if success {
		c.successfulRequests.Add(1)
		c.totalLatency.Add(latencyMs)
		c.latency.Add(latencyMs)
	} else {
		c.failedRequests.Add(1)
	}

	if proxy == nil {
		return
	}

	record := c.getOrInit(proxy)
	record.totalRequests.Add(1)
	record.lastUsed.Store(time.Now().UnixNano())
	if success {
		record.successfulRequests.Add(1)
		record.totalLatency.Add(latencyMs)
		updateLatencyBounds(record, latencyMs)
	} else {
		record.failedRequests.Add(1)
	}

	metrics := proxy.MetricsSnapshot()
	record.metaMu.Lock()
	record.status = proxy.Status().String()
	record.emaMs = metrics.EMAResponseMs
	record.metaMu.Unlock()
}

func (c *Collector) RecordRetry(proxyID string) {
	c.retriedAttempts.Add(1)
}

func (c *Collector) RecordRateLimited(identifier, endpoint string) {
	c.rateLimited.Add(1)
}

func (c *Collector) RecordBreakerRejection(proxyID string) {
	c.breakerRejections.Add(1)
}

func (c *Collector) RecordSelection(strategy string, latency time.Duration) {
	record, _ := c.selections.LoadOrCompute(strategy, func() (*selectionRecord, bool) {
		return &selectionRecord{}, false
	})
	record.count.Add(1)
	record.totalLatency.Add(latency.Nanoseconds())
}

func (c *Collector) GetEngineStats() ports.EngineStats {
	successful := c.successfulRequests.Load()
	totalLatency := c.totalLatency.Load()

	var avgLatency int64
	if successful > 0 {
		avgLatency = totalLatency / successful
	}
	_, p95, p99 := c.latency.GetPercentiles()

	return ports.EngineStats{
		TotalRequests:      c.totalRequests.Load(),
		SuccessfulRequests: successful,
		FailedRequests:     c.failedRequests.Load(),
		RetriedAttempts:    c.retriedAttempts.Load(),
		RateLimited:        c.rateLimited.Load(),
		BreakerRejections:  c.breakerRejections.Load(),
		AverageLatency:     avgLatency,
		P95Latency:         p95,
		P99Latency:         p99,
	}
}

func (c *Collector) GetProxyStats() map[string]ports.ProxyStats {
	stats := make(map[string]ports.ProxyStats, c.proxies.Size())

	c.proxies.Range(func(proxyID string, record *proxyRecord) bool {
		total := record.totalRequests.Load()
		successful := record.successfulRequests.Load()
		totalLatency := record.totalLatency.Load()

		var avgLatency int64
		if successful > 0 {
			avgLatency = totalLatency / successful
		}
		successRate := 0.0
		if total > 0 {
			successRate = float64(successful) / float64(total) * 100
		}
		minLatency := record.minLatency.Load()
		if minLatency == -1 {
			minLatency = 0
		}

		record.metaMu.Lock()
		url := record.url
		status := record.status
		emaMs := record.emaMs
		record.metaMu.Unlock()

		stats[proxyID] = ports.ProxyStats{
			ProxyID:            proxyID,
			URL:                url,
			Status:             status,
			TotalRequests:      total,
			SuccessfulRequests: successful,
			FailedRequests:     record.failedRequests.Load(),
			AverageLatency:     avgLatency,
			MinLatency:         minLatency,
			MaxLatency:         record.maxLatency.Load(),
			LastUsed:           time.Unix(0, record.lastUsed.Load()),
			SuccessRate:        successRate,
			EMAResponseMs:      emaMs,
		}
		return true
	})

	return stats
}

// GetSelectionStats reports per-strategy selection counts and mean cost.
func (c *Collector) GetSelectionStats() map[string]SelectionStats {
	stats := make(map[string]SelectionStats, c.selections.Size())
	c.selections.Range(func(strategy string, record *selectionRecord) bool {
		count := record.count.Load()
		var avg int64
		if count > 0 {
			avg = record.totalLatency.Load() / count / int64(time.Microsecond)
		}
		stats[strategy] = SelectionStats{Count: count, AverageMicros: avg}
		return true
	})
	return stats
}

// RemoveProxy drops the record for a proxy that left the pool.
func (c *Collector) RemoveProxy(proxyID string) {
	c.proxies.Delete(proxyID)
}

func (c *Collector) getOrInit(proxy *domain.Proxy) *proxyRecord {
	record, _ := c.proxies.LoadOrCompute(proxy.ID, func() (*proxyRecord, bool) {
		r := &proxyRecord{url: proxy.Redacted()}
		r.minLatency.Store(-1)
		return r, false
	})
	return record
}

func updateLatencyBounds(record *proxyRecord, latencyMs int64) {
	for {
		minLatency := record.minLatency.Load()
		if minLatency != -1 && latencyMs >= minLatency {
			break
		}
		if record.minLatency.CompareAndSwap(minLatency, latencyMs) {
			break
		}
	}
	for {
		maxLatency := record.maxLatency.Load()
		if latencyMs <= maxLatency {
			break
		}
		if record.maxLatency.CompareAndSwap(maxLatency, latencyMs) {
			break
		}
	}
}
