package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
)

// Composite runs an ordered list of candidate filters and hands the
// survivors to a final selector. A filter that eliminates every
// candidate fails the request rather than silently widening the set.
type Composite struct {
	selector    ports.Strategy
	filters     []ports.CandidateFilter
	filterNames []string
}

func NewComposite(filters []ports.CandidateFilter, filterNames []string, selector ports.Strategy) *Composite {
	return &Composite{
		selector:    selector,
		filters:     filters,
		filterNames: filterNames,
	}
}

func (c *Composite) Name() string {
	return DefaultStrategyComposite
}

func (c *Composite) Select(ctx context.Context, candidates []*domain.Proxy, sel *domain.SelectionContext) (*domain.Proxy, error) {
	eligible := sel.FilterExcluded(candidates)
	if len(eligible) == 0 {
		return nil, domain.ErrNoEligibleProxy
	}

	survivors := eligible
	for i, filter := range c.filters {
		survivors = filter.Narrow(survivors, sel)
		if len(survivors) == 0 {
			return nil, fmt.Errorf("composite filter %s eliminated every candidate: %w",
				c.filterNames[i], domain.ErrNoMatch)
		}
	}

	return c.selector.Select(ctx, survivors, sel)
}

func (c *Composite) RecordOutcome(proxy *domain.Proxy, success bool, responseTime time.Duration) {
	c.selector.RecordOutcome(proxy, success, responseTime)
}
