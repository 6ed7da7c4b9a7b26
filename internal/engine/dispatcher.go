package engine

import (
	"context"
	"net/url"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/proxywhirl/proxywhirl/internal/config"
	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
	"github.com/proxywhirl/proxywhirl/internal/logger"
	"github.com/proxywhirl/proxywhirl/internal/util"
	"github.com/proxywhirl/proxywhirl/pkg/eventbus"
)

// Dispatcher is the front door for requests: it validates, admits through
// the global throttle and the per-identifier rate limiter, then hands off to
// the retry executor. The active strategy lives here so it can be swapped at
// runtime without pausing traffic.
type Dispatcher struct {
	executor *Executor
	limiter  ports.RateLimiter
	guard    *rate.Limiter
	stats    ports.StatsCollector
	bus      *eventbus.EventBus[domain.Event]
	log      *logger.StyledLogger

	strategy atomic.Pointer[strategyHolder]
	closed   atomic.Bool
}

// strategyHolder exists because an interface value cannot live in an
// atomic.Pointer directly.
type strategyHolder struct {
	strategy ports.Strategy
}

func NewDispatcher(
	retryCfg config.RetryConfig,
	dispatchCfg config.DispatchConfig,
	proxyPool *domain.Pool,
	strategy ports.Strategy,
	breakers ports.BreakerGate,
	transport ports.ProxyTransport,
	limiter ports.RateLimiter,
	stats ports.StatsCollector,
	bus *eventbus.EventBus[domain.Event],
	log *logger.StyledLogger,
) *Dispatcher {
	if log == nil {
		log = logger.NewDiscard()
	}

	d := &Dispatcher{
		limiter: limiter,
		stats:   stats,
		bus:     bus,
		log:     log,
	}
	d.strategy.Store(&strategyHolder{strategy: strategy})

	if dispatchCfg.GlobalRequestsPerSecond > 0 {
		burst := dispatchCfg.GlobalBurst
		if burst < 1 {
			burst = 1
		}
		d.guard = rate.NewLimiter(rate.Limit(dispatchCfg.GlobalRequestsPerSecond), burst)
	}

	d.executor = NewExecutor(retryCfg, dispatchCfg, proxyPool,
		d.CurrentStrategy, breakers, transport, stats, log)
	return d
}

// Do runs one request through admission and the retry executor.
func (d *Dispatcher) Do(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	if d.closed.Load() {
		return nil, domain.ErrClosed
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	requestID := util.GenerateRequestID()
	log := d.log.WithRequestID(requestID)

	if d.guard != nil {
		if err := d.guard.Wait(ctx); err != nil {
			return nil, deadlineKind(err)
		}
	}

	if err := d.admit(ctx, req, log); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := d.executor.Execute(ctx, req)
	if err != nil {
		log.Warn("request failed",
			"method", req.Method, "url", req.URL,
			"elapsed", time.Since(start), "error", err)
		return nil, err
	}
	log.Debug("request completed",
		"method", req.Method, "url", req.URL,
		"status", resp.StatusCode, "attempts", resp.Attempts,
		"proxy", resp.ProxyURL, "elapsed", time.Since(start))
	return resp, nil
}

// admit consults the per-identifier sliding-window limiter. Backend errors
// never surface here; the limiter resolves them to its fail-open or
// fail-closed stance internally.
func (d *Dispatcher) admit(ctx context.Context, req *domain.Request, log *logger.StyledLogger) error {
	if d.limiter == nil {
		return nil
	}

	identifier := req.RateIdentifier()
	endpoint := endpointPath(req.URL)
	decision, err := d.limiter.Allow(ctx, identifier, endpoint, req.Tier)
	if err != nil {
		return err
	}
	if decision.Allowed {
		return nil
	}

	d.stats.RecordRateLimited(identifier, endpoint)
	log.Warn("request rate limited",
		"identifier", identifier, "endpoint", endpoint,
		"rule", decision.Rule, "retry_after", decision.RetryAfter)
	return &domain.RateLimitError{
		Identifier: identifier,
		Endpoint:   endpoint,
		Limit:      decision.Limit,
		RetryAfter: decision.RetryAfter,
	}
}

// CurrentStrategy returns the live strategy.
func (d *Dispatcher) CurrentStrategy() ports.Strategy {
	return d.strategy.Load().strategy
}

// SetStrategy swaps the rotation strategy. In-flight requests finish on the
// strategy they selected with; new selections use the replacement.
func (d *Dispatcher) SetStrategy(strategy ports.Strategy) {
	previous := d.strategy.Swap(&strategyHolder{strategy: strategy})

	from := ""
	if previous != nil {
		from = previous.strategy.Name()
	}
	d.log.Info("rotation strategy changed", "from", from, "to", strategy.Name())
	if d.bus != nil {
		d.bus.Publish(domain.Event{
			Timestamp: time.Now(),
			Type:      domain.EventStrategyChanged,
			From:      from,
			To:        strategy.Name(),
		})
	}
}

// Probe dispatches a health probe outside admission and selection.
func (d *Dispatcher) Probe(ctx context.Context, proxy *domain.Proxy) (time.Duration, error) {
	if d.closed.Load() {
		return 0, domain.ErrClosed
	}
	prober, ok := d.executor.transport.(ports.Prober)
	if !ok {
		return 0, domain.ErrConnection
	}
	return prober.Probe(ctx, proxy)
}

// Close stops admission. Component teardown (limiter, transport, cache)
// belongs to whoever constructed them.
func (d *Dispatcher) Close() {
	d.closed.Store(true)
	d.executor.transport.CloseIdle()
}

// endpointPath extracts the path component the rate-limit rules match
// against. A target URL that does not parse still rate-limits under its raw
// form rather than slipping through.
func endpointPath(target string) string {
	parsed, err := url.Parse(target)
	if err != nil || parsed.Path == "" {
		return "/"
	}
	return parsed.Path
}
