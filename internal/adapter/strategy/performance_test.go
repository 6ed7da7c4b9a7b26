package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

func TestPerformance_Select_ExploresFreshProxiesFirst(t *testing.T) {
	selector := NewPerformance(5)
	ctx := context.Background()

	proven := newTestProxy(t, "http://proven.example.com:8080")
	for i := 0; i < 10; i++ {
		proven.RecordOutcome(true, 10*time.Millisecond)
	}
	fresh := newTestProxy(t, "http://fresh.example.com:8080")

	// The fresh proxy has no track record, so it gets the traffic until
	// it has enough samples
	for i := 0; i < 5; i++ {
		proxy, err := selector.Select(ctx, []*domain.Proxy{proven, fresh}, nil)
		if err != nil {
			t.Fatalf("Select %d failed: %v", i, err)
		}
		if proxy != fresh {
			t.Errorf("Selection %d: expected the unproven proxy during exploration, got %s", i, proxy.ID)
		}
		proxy.RecordOutcome(true, 200*time.Millisecond)
	}

	// Exploration is over; now the faster EMA should win most picks
	counts := selectionCounts(t, selector, []*domain.Proxy{proven, fresh}, nil, 1000)
	if counts[proven.ID] < 800 {
		t.Errorf("Expected the low-latency proxy to dominate after exploration, got %d/1000", counts[proven.ID])
	}
}

func TestPerformance_Select_RotatesAmongExplorers(t *testing.T) {
	selector := NewPerformance(5)
	ctx := context.Background()

	candidates := []*domain.Proxy{
		newTestProxy(t, "http://a.example.com:8080"),
		newTestProxy(t, "http://b.example.com:8080"),
	}

	first, err := selector.Select(ctx, candidates, nil)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	second, err := selector.Select(ctx, candidates, nil)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	if first == second {
		t.Error("Expected exploration to rotate between fresh proxies")
	}
}

func TestPerformance_Select_InverseLatencyWeighting(t *testing.T) {
	selector := NewPerformance(1)

	fast := newTestProxy(t, "http://fast.example.com:8080")
	slow := newTestProxy(t, "http://slow.example.com:8080")
	fast.RecordOutcome(true, 10*time.Millisecond)
	slow.RecordOutcome(true, 1000*time.Millisecond)

	// EMA 10ms vs 1000ms is 100:1 odds
	counts := selectionCounts(t, selector, []*domain.Proxy{fast, slow}, nil, 500)
	if counts[fast.ID] < 450 {
		t.Errorf("Expected the fast proxy to take nearly all picks, got %d/500", counts[fast.ID])
	}
}

func TestPerformance_ZeroExplorationUsesDefault(t *testing.T) {
	selector := NewPerformance(0)
	if selector.exploration != DefaultExplorationRequests {
		t.Errorf("Expected default exploration count %d, got %d", DefaultExplorationRequests, selector.exploration)
	}
}
