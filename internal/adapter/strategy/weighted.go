package strategy

import (
	"context"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

// Weighted selects proxies in proportion to their weight. A proxy with an
// explicit weight uses it; otherwise its observed success rate stands in,
// floored so a failing proxy still gets the occasional chance to recover.
type Weighted struct{}

func NewWeighted() *Weighted {
	return &Weighted{}
}

func (w *Weighted) Name() string {
	return DefaultStrategyWeighted
}

func (w *Weighted) Select(ctx context.Context, candidates []*domain.Proxy, sel *domain.SelectionContext) (*domain.Proxy, error) {
	eligible := sel.FilterExcluded(candidates)
	if len(eligible) == 0 {
		return nil, domain.ErrNoEligibleProxy
	}

	weights := make([]float64, len(eligible))
	for i, p := range eligible {
		weight := p.Weight
		if weight <= 0 {
			metrics := p.MetricsSnapshot()
			weight = metrics.SuccessRate()
		}
		if weight < minWeight {
			weight = minWeight
		}
		weights[i] = weight
	}

	return eligible[pickWeighted(weights)], nil
}

func (w *Weighted) RecordOutcome(proxy *domain.Proxy, success bool, responseTime time.Duration) {
}
