package strategy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

const DefaultExplorationRequests = 5

// minLatencyMs guards the inverse-latency weight against a zero EMA.
const minLatencyMs = 1.0

// Performance favours proxies with low response-time EMAs. Proxies that
// have not served enough requests yet are rotated through first, so a
// newcomer earns a meaningful EMA before it has to compete on latency.
type Performance struct {
	exploration int64
	cursor      uint64
}

func NewPerformance(explorationRequests int) *Performance {
	if explorationRequests <= 0 {
		explorationRequests = DefaultExplorationRequests
	}
	return &Performance{exploration: int64(explorationRequests)}
}

func (p *Performance) Name() string {
	return DefaultStrategyPerformance
}

func (p *Performance) Select(ctx context.Context, candidates []*domain.Proxy, sel *domain.SelectionContext) (*domain.Proxy, error) {
	eligible := sel.FilterExcluded(candidates)
	if len(eligible) == 0 {
		return nil, domain.ErrNoEligibleProxy
	}

	exploring := make([]*domain.Proxy, 0, len(eligible))
	weights := make([]float64, len(eligible))
	for i, candidate := range eligible {
		metrics := candidate.MetricsSnapshot()
		if metrics.TotalRequests < p.exploration {
			exploring = append(exploring, candidate)
			continue
		}
		ema := metrics.EMAResponseMs
		if ema < minLatencyMs {
			ema = minLatencyMs
		}
		weights[i] = 1 / ema
	}

	// Unproven proxies take priority in round-robin order until each has
	// enough samples.
	if len(exploring) > 0 {
		current := atomic.AddUint64(&p.cursor, 1) - 1
		return exploring[current%uint64(len(exploring))], nil
	}

	return eligible[pickWeighted(weights)], nil
}

func (p *Performance) RecordOutcome(proxy *domain.Proxy, success bool, responseTime time.Duration) {
	// The EMA this strategy ranks on is maintained by the proxy itself
}
