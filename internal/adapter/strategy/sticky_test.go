package strategy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

func newStickyForTest(ttl time.Duration, maxSessions int) *Sticky {
	return NewSticky(NewRoundRobin(), ttl, maxSessions)
}

func TestSticky_Select_RequiresSessionID(t *testing.T) {
	selector := newStickyForTest(time.Hour, 100)
	candidates := []*domain.Proxy{newTestProxy(t, "http://proxy.example.com:8080")}

	_, err := selector.Select(context.Background(), candidates, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Expected validation error for nil context, got %v", err)
	}

	_, err = selector.Select(context.Background(), candidates, &domain.SelectionContext{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Expected validation error for empty session id, got %v", err)
	}

	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Expected *ValidationError, got %T", err)
	}
	if validationErr.Field != "session_id" {
		t.Errorf("Expected field session_id, got %q", validationErr.Field)
	}
}

func TestSticky_Select_SameSessionSameProxy(t *testing.T) {
	selector := newStickyForTest(time.Hour, 100)
	ctx := context.Background()

	candidates := []*domain.Proxy{
		newTestProxy(t, "http://proxy-a.example.com:8080"),
		newTestProxy(t, "http://proxy-b.example.com:8080"),
		newTestProxy(t, "http://proxy-c.example.com:8080"),
	}
	sel := &domain.SelectionContext{SessionID: "s1"}

	first, err := selector.Select(ctx, candidates, sel)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	for i := 1; i < 100; i++ {
		proxy, err := selector.Select(ctx, candidates, sel)
		if err != nil {
			t.Fatalf("Select %d failed: %v", i, err)
		}
		if proxy != first {
			t.Fatalf("Selection %d broke stickiness: got %s, want %s", i, proxy.ID, first.ID)
		}
	}
}

func TestSticky_Select_DistinctSessionsMayDiffer(t *testing.T) {
	selector := newStickyForTest(time.Hour, 100)
	ctx := context.Background()

	candidates := []*domain.Proxy{
		newTestProxy(t, "http://proxy-a.example.com:8080"),
		newTestProxy(t, "http://proxy-b.example.com:8080"),
	}

	first, err := selector.Select(ctx, candidates, &domain.SelectionContext{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	second, err := selector.Select(ctx, candidates, &domain.SelectionContext{SessionID: "s2"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	// Round-robin fallback assigns in order, so two fresh sessions land
	// on two proxies
	if first == second {
		t.Error("Expected distinct sessions to spread over the pool")
	}
}

func TestSticky_Select_RebindsWhenProxyGone(t *testing.T) {
	selector := newStickyForTest(time.Hour, 100)
	ctx := context.Background()

	a := newTestProxy(t, "http://proxy-a.example.com:8080")
	b := newTestProxy(t, "http://proxy-b.example.com:8080")
	sel := &domain.SelectionContext{SessionID: "s1"}

	first, err := selector.Select(ctx, []*domain.Proxy{a, b}, sel)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	// The bound proxy drops out of the eligible set
	remaining := b
	if first == b {
		remaining = a
	}

	rebound, err := selector.Select(ctx, []*domain.Proxy{remaining}, sel)
	if err != nil {
		t.Fatalf("Select after proxy loss failed: %v", err)
	}
	if rebound != remaining {
		t.Errorf("Expected rebind to the surviving proxy, got %s", rebound.ID)
	}

	// The new binding sticks even once the old proxy returns
	again, err := selector.Select(ctx, []*domain.Proxy{a, b}, sel)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if again != remaining {
		t.Errorf("Expected the rebound proxy to stay bound, got %s", again.ID)
	}
}

func TestSticky_Select_ExpiredSessionRebinds(t *testing.T) {
	selector := newStickyForTest(20*time.Millisecond, 100)
	ctx := context.Background()

	candidates := []*domain.Proxy{
		newTestProxy(t, "http://proxy-a.example.com:8080"),
		newTestProxy(t, "http://proxy-b.example.com:8080"),
	}
	sel := &domain.SelectionContext{SessionID: "s1"}

	if _, err := selector.Select(ctx, candidates, sel); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if selector.Sessions() != 1 {
		t.Fatalf("Expected 1 live session, got %d", selector.Sessions())
	}

	time.Sleep(50 * time.Millisecond)

	// TTL elapsed; the next select allocates a fresh binding instead of
	// failing
	if _, err := selector.Select(ctx, candidates, sel); err != nil {
		t.Fatalf("Select after expiry failed: %v", err)
	}
}

// gatedFallback parks callers inside Select until released, handing out a
// different proxy per call so divergent bindings are visible.
type gatedFallback struct {
	inside  chan struct{}
	release chan struct{}
	proxies []*domain.Proxy
	calls   atomic.Int32
}

func (g *gatedFallback) Select(ctx context.Context, candidates []*domain.Proxy, sel *domain.SelectionContext) (*domain.Proxy, error) {
	g.inside <- struct{}{}
	<-g.release
	n := g.calls.Add(1)
	return g.proxies[int(n-1)%len(g.proxies)], nil
}

func (g *gatedFallback) RecordOutcome(proxy *domain.Proxy, success bool, responseTime time.Duration) {}

func (g *gatedFallback) Name() string { return "gated" }

func TestSticky_ConcurrentFirstRequestsShareBinding(t *testing.T) {
	a := newTestProxy(t, "http://proxy-a.example.com:8080")
	b := newTestProxy(t, "http://proxy-b.example.com:8080")
	fallback := &gatedFallback{
		inside:  make(chan struct{}, 2),
		release: make(chan struct{}),
		proxies: []*domain.Proxy{a, b},
	}
	selector := NewSticky(fallback, time.Hour, 100)

	results := make(chan *domain.Proxy, 2)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			p, err := selector.Select(context.Background(), []*domain.Proxy{a, b},
				&domain.SelectionContext{SessionID: "race"})
			if err != nil {
				errs <- err
				return
			}
			results <- p
		}()
	}

	// One caller is inside the fallback; give the other time to queue up
	// behind it, then let them run.
	<-fallback.inside
	time.Sleep(20 * time.Millisecond)
	close(fallback.release)

	var got []*domain.Proxy
	for len(got) < 2 {
		select {
		case p := <-results:
			got = append(got, p)
		case err := <-errs:
			t.Fatalf("Select failed: %v", err)
		case <-time.After(2 * time.Second):
			t.Fatal("Select did not return")
		}
	}

	if got[0] != got[1] {
		t.Fatalf("concurrent first requests diverged: %s vs %s", got[0].ID, got[1].ID)
	}
	if calls := fallback.calls.Load(); calls != 1 {
		t.Errorf("expected one fallback selection, got %d", calls)
	}

	again, err := selector.Select(context.Background(), []*domain.Proxy{a, b},
		&domain.SelectionContext{SessionID: "race"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if again != got[0] {
		t.Errorf("later request broke the agreed binding: got %s, want %s", again.ID, got[0].ID)
	}
}

func TestSticky_CloseSession(t *testing.T) {
	selector := newStickyForTest(time.Hour, 100)
	ctx := context.Background()

	candidates := []*domain.Proxy{
		newTestProxy(t, "http://proxy-a.example.com:8080"),
		newTestProxy(t, "http://proxy-b.example.com:8080"),
	}
	sel := &domain.SelectionContext{SessionID: "s1"}

	if _, err := selector.Select(ctx, candidates, sel); err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	if !selector.CloseSession("s1") {
		t.Error("Expected CloseSession to report a live binding")
	}
	if selector.CloseSession("s1") {
		t.Error("Expected second CloseSession to report nothing to do")
	}
	if selector.Sessions() != 0 {
		t.Errorf("Expected no live sessions after close, got %d", selector.Sessions())
	}
}

func TestSticky_ReleaseProxy(t *testing.T) {
	selector := newStickyForTest(time.Hour, 100)
	ctx := context.Background()

	a := newTestProxy(t, "http://proxy-a.example.com:8080")
	b := newTestProxy(t, "http://proxy-b.example.com:8080")
	candidates := []*domain.Proxy{a, b}

	// Round-robin fallback: s1 -> a, s2 -> b
	bound1, err := selector.Select(ctx, candidates, &domain.SelectionContext{SessionID: "s1"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if _, err := selector.Select(ctx, candidates, &domain.SelectionContext{SessionID: "s2"}); err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	selector.ReleaseProxy(bound1.ID)

	if selector.Sessions() != 1 {
		t.Errorf("Expected 1 surviving session after release, got %d", selector.Sessions())
	}
}

func TestSticky_MaxSessionsEvictsOldest(t *testing.T) {
	selector := newStickyForTest(time.Hour, 2)
	ctx := context.Background()

	candidates := []*domain.Proxy{
		newTestProxy(t, "http://proxy-a.example.com:8080"),
		newTestProxy(t, "http://proxy-b.example.com:8080"),
	}

	for _, sessionID := range []string{"s1", "s2", "s3"} {
		if _, err := selector.Select(ctx, candidates, &domain.SelectionContext{SessionID: sessionID}); err != nil {
			t.Fatalf("Select for %s failed: %v", sessionID, err)
		}
	}

	if selector.Sessions() != 2 {
		t.Errorf("Expected the session cap to hold at 2, got %d", selector.Sessions())
	}
	// s1 was least recently used and should be the one evicted
	if selector.CloseSession("s1") {
		t.Error("Expected s1 to have been evicted by the cap")
	}
}
