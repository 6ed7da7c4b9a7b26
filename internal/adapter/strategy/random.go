package strategy

import (
	"context"
	"math/rand"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

// Random picks uniformly among the eligible proxies.
type Random struct{}

func NewRandom() *Random {
	return &Random{}
}

func (r *Random) Name() string {
	return DefaultStrategyRandom
}

func (r *Random) Select(ctx context.Context, candidates []*domain.Proxy, sel *domain.SelectionContext) (*domain.Proxy, error) {
	eligible := sel.FilterExcluded(candidates)
	if len(eligible) == 0 {
		return nil, domain.ErrNoEligibleProxy
	}

	return eligible[rand.Intn(len(eligible))], nil
}

func (r *Random) RecordOutcome(proxy *domain.Proxy, success bool, responseTime time.Duration) {
}
