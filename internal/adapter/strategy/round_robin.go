package strategy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

// RoundRobin cycles through the eligible proxies in pool insertion order.
type RoundRobin struct {
	counter uint64
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (r *RoundRobin) Name() string {
	return DefaultStrategyRoundRobin
}

// Select returns the next proxy in rotation, skipping ones that already
// failed this request.
func (r *RoundRobin) Select(ctx context.Context, candidates []*domain.Proxy, sel *domain.SelectionContext) (*domain.Proxy, error) {
	eligible := sel.FilterExcluded(candidates)
	if len(eligible) == 0 {
		return nil, domain.ErrNoEligibleProxy
	}

	current := atomic.AddUint64(&r.counter, 1) - 1 // Subtract 1 to start from 0
	index := current % uint64(len(eligible))

	return eligible[index], nil
}

func (r *RoundRobin) RecordOutcome(proxy *domain.Proxy, success bool, responseTime time.Duration) {
	// No strategy-local state; health lives on the proxy
}
