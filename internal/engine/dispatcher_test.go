package engine

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/adapter/breaker"
	"github.com/proxywhirl/proxywhirl/internal/adapter/ratelimit"
	"github.com/proxywhirl/proxywhirl/internal/adapter/stats"
	"github.com/proxywhirl/proxywhirl/internal/adapter/strategy"
	"github.com/proxywhirl/proxywhirl/internal/config"
	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
	"github.com/proxywhirl/proxywhirl/internal/logger"
	"github.com/proxywhirl/proxywhirl/pkg/eventbus"
)

func newDispatcherHarness(t *testing.T, limiter ports.RateLimiter, dispatchCfg config.DispatchConfig, proxyURLs ...string) (*Dispatcher, *eventbus.EventBus[domain.Event]) {
	t.Helper()

	proxyPool := domain.NewPool(domain.DefaultHealthPolicy())
	for _, raw := range proxyURLs {
		p, err := domain.NewProxy(raw)
		if err != nil {
			t.Fatalf("NewProxy(%s) failed: %v", raw, err)
		}
		if _, _, err := proxyPool.Add(p); err != nil {
			t.Fatalf("adding %s failed: %v", raw, err)
		}
	}

	transport := &fakeTransport{}
	transport.roundTrip = func(ctx context.Context, proxy *domain.Proxy, req *domain.Request) (*domain.Response, error) {
		return okResponse(), nil
	}

	gate := breaker.NewGate(config.BreakerConfig{
		FailureThreshold: 5,
		Window:           time.Minute,
		OpenTimeout:      time.Minute,
	})
	bus := eventbus.New[domain.Event]()
	t.Cleanup(bus.Shutdown)

	d := NewDispatcher(testRetryConfig(), dispatchCfg, proxyPool,
		strategy.NewRoundRobin(), gate, transport, limiter,
		stats.NewCollector(), bus, nil)
	return d, bus
}

func TestDispatcher_Do(t *testing.T) {
	d, _ := newDispatcherHarness(t, nil, config.DispatchConfig{}, "http://proxy-a.example:8080")

	resp, err := d.Do(context.Background(), &domain.Request{URL: "http://upstream.example/data"})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if resp.ProxyURL != "http://proxy-a.example:8080" {
		t.Errorf("unexpected proxy URL %q", resp.ProxyURL)
	}
}

func TestDispatcher_RejectsInvalidRequest(t *testing.T) {
	d, _ := newDispatcherHarness(t, nil, config.DispatchConfig{}, "http://proxy-a.example:8080")

	_, err := d.Do(context.Background(), &domain.Request{URL: "ftp://nope.example"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDispatcher_ClosedRefusesWork(t *testing.T) {
	d, _ := newDispatcherHarness(t, nil, config.DispatchConfig{}, "http://proxy-a.example:8080")

	d.Close()
	_, err := d.Do(context.Background(), &domain.Request{URL: "http://upstream.example/"})
	if !errors.Is(err, domain.ErrClosed) {
		t.Errorf("expected closed error, got %v", err)
	}
}

func TestDispatcher_RateLimitDenial(t *testing.T) {
	limiter, err := ratelimit.New(config.RateLimitConfig{
		Enabled:  true,
		FailOpen: true,
		Global:   config.RateRule{Requests: 2, Window: time.Minute},
	}, logger.NewDiscard())
	if err != nil {
		t.Fatalf("building limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })

	d, _ := newDispatcherHarness(t, limiter, config.DispatchConfig{}, "http://proxy-a.example:8080")

	req := func() *domain.Request {
		return &domain.Request{URL: "http://upstream.example/api", Identifier: "client-1"}
	}
	for i := 0; i < 2; i++ {
		if _, err := d.Do(context.Background(), req()); err != nil {
			t.Fatalf("request %d should pass: %v", i+1, err)
		}
	}

	_, err = d.Do(context.Background(), req())
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	var rlErr *domain.RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got %T", err)
	}
	if rlErr.Identifier != "client-1" || rlErr.Limit != 2 {
		t.Errorf("unexpected denial metadata: %+v", rlErr)
	}

	// A different identifier has its own window.
	if _, err := d.Do(context.Background(), &domain.Request{
		URL: "http://upstream.example/api", Identifier: "client-2",
	}); err != nil {
		t.Errorf("other identifier should not share the window: %v", err)
	}
}

func TestDispatcher_SetStrategy(t *testing.T) {
	d, bus := newDispatcherHarness(t, nil, config.DispatchConfig{}, "http://proxy-a.example:8080")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, unsubscribe := bus.Subscribe(ctx)
	defer unsubscribe()

	if got := d.CurrentStrategy().Name(); got != "round_robin" {
		t.Fatalf("expected round_robin to start, got %q", got)
	}
	d.SetStrategy(strategy.NewRandom())
	if got := d.CurrentStrategy().Name(); got != "random" {
		t.Errorf("expected random after swap, got %q", got)
	}

	select {
	case ev := <-events:
		if ev.Type != domain.EventStrategyChanged || ev.From != "round_robin" || ev.To != "random" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("expected strategy change event")
	}
}

func TestDispatcher_GlobalGuardThrottles(t *testing.T) {
	d, _ := newDispatcherHarness(t, nil, config.DispatchConfig{
		GlobalRequestsPerSecond: 50,
		GlobalBurst:             1,
	}, "http://proxy-a.example:8080")

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := d.Do(context.Background(), &domain.Request{URL: "http://upstream.example/"}); err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
	}
	// Burst of 1 at 50 rps means the second and third request each wait
	// roughly 20ms.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("expected throttling to spread requests, took %v", elapsed)
	}
}
