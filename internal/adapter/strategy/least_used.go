package strategy

import (
	"context"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

// LeastUsed selects the proxy with the fewest total requests, spreading
// load evenly over pools with uneven histories. Ties go to the proxy used
// longest ago.
type LeastUsed struct{}

func NewLeastUsed() *LeastUsed {
	return &LeastUsed{}
}

func (l *LeastUsed) Name() string {
	return DefaultStrategyLeastUsed
}

func (l *LeastUsed) Select(ctx context.Context, candidates []*domain.Proxy, sel *domain.SelectionContext) (*domain.Proxy, error) {
	eligible := sel.FilterExcluded(candidates)
	if len(eligible) == 0 {
		return nil, domain.ErrNoEligibleProxy
	}

	var selected *domain.Proxy
	var selectedMetrics domain.Metrics

	for _, p := range eligible {
		metrics := p.MetricsSnapshot()
		if selected == nil {
			selected, selectedMetrics = p, metrics
			continue
		}
		if metrics.TotalRequests < selectedMetrics.TotalRequests {
			selected, selectedMetrics = p, metrics
			continue
		}
		if metrics.TotalRequests == selectedMetrics.TotalRequests && metrics.LastUsed.Before(selectedMetrics.LastUsed) {
			selected, selectedMetrics = p, metrics
		}
	}

	return selected, nil
}

func (l *LeastUsed) RecordOutcome(proxy *domain.Proxy, success bool, responseTime time.Duration) {
}
