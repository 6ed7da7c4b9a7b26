package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

func TestLeastUsed_Select_NoCandidates(t *testing.T) {
	selector := NewLeastUsed()

	_, err := selector.Select(context.Background(), nil, nil)
	if !errors.Is(err, domain.ErrNoEligibleProxy) {
		t.Errorf("Expected ErrNoEligibleProxy, got %v", err)
	}
}

func TestLeastUsed_Select_PicksFewestRequests(t *testing.T) {
	selector := NewLeastUsed()
	ctx := context.Background()

	busy := newTestProxy(t, "http://busy.example.com:8080")
	quiet := newTestProxy(t, "http://quiet.example.com:8080")

	for i := 0; i < 5; i++ {
		busy.RecordOutcome(true, 50*time.Millisecond)
	}
	quiet.RecordOutcome(true, 50*time.Millisecond)

	proxy, err := selector.Select(ctx, []*domain.Proxy{busy, quiet}, nil)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if proxy != quiet {
		t.Errorf("Expected the quiet proxy, got %s", proxy.ID)
	}
}

func TestLeastUsed_Select_TieBreaksOnOldestUse(t *testing.T) {
	selector := NewLeastUsed()
	ctx := context.Background()

	older := newTestProxy(t, "http://older.example.com:8080")
	newer := newTestProxy(t, "http://newer.example.com:8080")

	older.RecordOutcome(true, 50*time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	newer.RecordOutcome(true, 50*time.Millisecond)

	// Equal totals; the proxy idle longest wins
	proxy, err := selector.Select(ctx, []*domain.Proxy{newer, older}, nil)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if proxy != older {
		t.Errorf("Expected the longest-idle proxy, got %s", proxy.ID)
	}
}

func TestLeastUsed_Select_EvensOutLoadOverTime(t *testing.T) {
	selector := NewLeastUsed()
	ctx := context.Background()

	candidates := []*domain.Proxy{
		newTestProxy(t, "http://proxy-1.example.com:8080"),
		newTestProxy(t, "http://proxy-2.example.com:8080"),
		newTestProxy(t, "http://proxy-3.example.com:8080"),
	}

	counts := make(map[string]int)
	for i := 0; i < 30; i++ {
		proxy, err := selector.Select(ctx, candidates, nil)
		if err != nil {
			t.Fatalf("Select %d failed: %v", i, err)
		}
		proxy.RecordOutcome(true, 50*time.Millisecond)
		counts[proxy.ID]++
	}

	for _, candidate := range candidates {
		if counts[candidate.ID] != 10 {
			t.Errorf("Expected 10 requests on %s, got %d", candidate.ID, counts[candidate.ID])
		}
	}
}
