package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
)

// Geo narrows selection to proxies matching the request's target country
// and region, then delegates the pick to a secondary strategy. Without a
// match it either falls back to the whole eligible set or, in strict
// mode, fails the request.
type Geo struct {
	secondary ports.Strategy
	strict    bool
}

func NewGeo(secondary ports.Strategy, strict bool) *Geo {
	return &Geo{secondary: secondary, strict: strict}
}

func (g *Geo) Name() string {
	return DefaultStrategyGeo
}

// Narrow filters candidates by target country then region. With no geo
// targets set it is a no-op, which also makes it usable as a composite
// filter.
func (g *Geo) Narrow(candidates []*domain.Proxy, sel *domain.SelectionContext) []*domain.Proxy {
	if sel == nil || (sel.TargetCountry == "" && sel.TargetRegion == "") {
		return candidates
	}

	out := make([]*domain.Proxy, 0, len(candidates))
	for _, candidate := range candidates {
		if sel.TargetCountry != "" && !strings.EqualFold(candidate.CountryCode, sel.TargetCountry) {
			continue
		}
		if sel.TargetRegion != "" && !strings.EqualFold(candidate.Region, sel.TargetRegion) {
			continue
		}
		out = append(out, candidate)
	}
	return out
}

func (g *Geo) Select(ctx context.Context, candidates []*domain.Proxy, sel *domain.SelectionContext) (*domain.Proxy, error) {
	eligible := sel.FilterExcluded(candidates)
	if len(eligible) == 0 {
		return nil, domain.ErrNoEligibleProxy
	}

	matched := g.Narrow(eligible, sel)
	if len(matched) == 0 {
		if g.strict {
			return nil, fmt.Errorf("no proxy matches country %q region %q: %w",
				sel.TargetCountry, sel.TargetRegion, domain.ErrNoMatch)
		}
		matched = eligible
	}

	return g.secondary.Select(ctx, matched, sel)
}

func (g *Geo) RecordOutcome(proxy *domain.Proxy, success bool, responseTime time.Duration) {
	g.secondary.RecordOutcome(proxy, success, responseTime)
}
