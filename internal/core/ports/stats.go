package ports

import (
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

type StatsCollector interface {
	RecordAttempt(proxy *domain.Proxy, statusCode int, latency time.Duration, success bool)
	RecordRetry(proxyID string)
	RecordRateLimited(identifier, endpoint string)
	RecordBreakerRejection(proxyID string)
	RecordSelection(strategy string, latency time.Duration)

	GetEngineStats() EngineStats
	GetProxyStats() map[string]ProxyStats
	RemoveProxy(proxyID string)
}

// EngineStats aggregates across every proxy since start.
type EngineStats struct {
	TotalRequests      int64 `json:"total_requests"`
	SuccessfulRequests int64 `json:"successful_requests"`
	FailedRequests     int64 `json:"failed_requests"`
	RetriedAttempts    int64 `json:"retried_attempts"`
	RateLimited        int64 `json:"rate_limited"`
	BreakerRejections  int64 `json:"breaker_rejections"`
	AverageLatency     int64 `json:"avg_latency_ms"`
	P95Latency         int64 `json:"p95_latency_ms"`
	P99Latency         int64 `json:"p99_latency_ms"`
}

// ProxyStats aggregates one proxy's traffic.
type ProxyStats struct {
	LastUsed           time.Time `json:"last_used"`
	ProxyID            string    `json:"proxy_id"`
	URL                string    `json:"url"`
	Status             string    `json:"status"`
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	AverageLatency     int64     `json:"avg_latency_ms"`
	MinLatency         int64     `json:"min_latency_ms"`
	MaxLatency         int64     `json:"max_latency_ms"`
	SuccessRate        float64   `json:"success_rate_percent"`
	EMAResponseMs      float64   `json:"ema_response_ms"`
}
