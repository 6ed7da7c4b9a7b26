package strategy

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

const DefaultFreeBoost = 10.0

// Cost prefers cheaper proxies. Paid proxies are weighted by inverse
// cost; free proxies outweigh even the cheapest paid one by the boost
// factor. A request budget filters out anything too expensive.
type Cost struct {
	freeBoost float64
}

func NewCost(freeBoost float64) *Cost {
	if freeBoost <= 0 {
		freeBoost = DefaultFreeBoost
	}
	return &Cost{freeBoost: freeBoost}
}

func (c *Cost) Name() string {
	return DefaultStrategyCost
}

// Narrow drops proxies whose per-request cost exceeds the budget. Free
// proxies always survive. No budget, no filtering.
func (c *Cost) Narrow(candidates []*domain.Proxy, sel *domain.SelectionContext) []*domain.Proxy {
	if sel == nil || sel.MaxCostPerRequest <= 0 {
		return candidates
	}

	out := make([]*domain.Proxy, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.CostPerRequest <= sel.MaxCostPerRequest {
			out = append(out, candidate)
		}
	}
	return out
}

func (c *Cost) Select(ctx context.Context, candidates []*domain.Proxy, sel *domain.SelectionContext) (*domain.Proxy, error) {
	eligible := sel.FilterExcluded(candidates)
	if len(eligible) == 0 {
		return nil, domain.ErrNoEligibleProxy
	}

	affordable := c.Narrow(eligible, sel)
	if len(affordable) == 0 {
		return nil, fmt.Errorf("no proxy within budget %.4f per request: %w",
			sel.MaxCostPerRequest, domain.ErrNoMatch)
	}

	// The cheapest paid cost anchors the free-proxy boost. With no paid
	// proxies left, every candidate is free and equally good.
	cheapest := 0.0
	for _, candidate := range affordable {
		if candidate.CostPerRequest > 0 && (cheapest == 0 || candidate.CostPerRequest < cheapest) {
			cheapest = candidate.CostPerRequest
		}
	}
	if cheapest == 0 {
		return affordable[rand.Intn(len(affordable))], nil
	}

	weights := make([]float64, len(affordable))
	for i, candidate := range affordable {
		if candidate.CostPerRequest > 0 {
			weights[i] = 1 / candidate.CostPerRequest
		} else {
			weights[i] = c.freeBoost / cheapest
		}
	}

	return affordable[pickWeighted(weights)], nil
}

func (c *Cost) RecordOutcome(proxy *domain.Proxy, success bool, responseTime time.Duration) {
}
