package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

func TestRandom_Select_NoCandidates(t *testing.T) {
	selector := NewRandom()

	_, err := selector.Select(context.Background(), nil, nil)
	if !errors.Is(err, domain.ErrNoEligibleProxy) {
		t.Errorf("Expected ErrNoEligibleProxy, got %v", err)
	}
}

func TestRandom_Select_CoversAllCandidates(t *testing.T) {
	selector := NewRandom()

	candidates := []*domain.Proxy{
		newTestProxy(t, "http://proxy-1.example.com:8080"),
		newTestProxy(t, "http://proxy-2.example.com:8080"),
		newTestProxy(t, "http://proxy-3.example.com:8080"),
	}

	counts := selectionCounts(t, selector, candidates, nil, 600)

	for _, candidate := range candidates {
		if counts[candidate.ID] < 100 {
			t.Errorf("Expected roughly uniform traffic, proxy %s got %d/600", candidate.ID, counts[candidate.ID])
		}
	}
}

func TestRandom_Select_RespectsExclusions(t *testing.T) {
	selector := NewRandom()
	ctx := context.Background()

	candidates := []*domain.Proxy{
		newTestProxy(t, "http://proxy-1.example.com:8080"),
		newTestProxy(t, "http://proxy-2.example.com:8080"),
	}

	sel := &domain.SelectionContext{}
	sel.Exclude(candidates[0].ID)

	for i := 0; i < 20; i++ {
		proxy, err := selector.Select(ctx, candidates, sel)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if proxy != candidates[1] {
			t.Error("Selected an excluded proxy")
		}
	}
}
