package strategy

import (
	"context"
	"testing"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
)

func newTestProxy(t *testing.T, rawURL string) *domain.Proxy {
	t.Helper()
	p, err := domain.NewProxy(rawURL)
	if err != nil {
		t.Fatalf("NewProxy(%s) failed: %v", rawURL, err)
	}
	return p
}

func newGeoProxy(t *testing.T, rawURL, country, region string) *domain.Proxy {
	t.Helper()
	p := newTestProxy(t, rawURL)
	p.CountryCode = country
	p.Region = region
	return p
}

func newCostProxy(t *testing.T, rawURL string, cost float64) *domain.Proxy {
	t.Helper()
	p := newTestProxy(t, rawURL)
	p.CostPerRequest = cost
	return p
}

// selectionCounts tallies how often each proxy wins over repeated picks.
func selectionCounts(t *testing.T, s ports.Strategy, candidates []*domain.Proxy, sel *domain.SelectionContext, picks int) map[string]int {
	t.Helper()
	counts := make(map[string]int)
	ctx := context.Background()
	for i := 0; i < picks; i++ {
		p, err := s.Select(ctx, candidates, sel)
		if err != nil {
			t.Fatalf("Select %d failed: %v", i, err)
		}
		counts[p.ID]++
	}
	return counts
}
