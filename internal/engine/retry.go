package engine

import (
	"context"
	"errors"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/config"
	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
	"github.com/proxywhirl/proxywhirl/internal/logger"
	"github.com/proxywhirl/proxywhirl/internal/util"
)

// Executor runs one request to completion: select a proxy, dispatch, feed
// the outcome back to the pool, strategy, breakers and stats, and retry on
// another proxy when the failure is worth retrying.
type Executor struct {
	pool      *domain.Pool
	strategy  func() ports.Strategy
	breakers  ports.BreakerGate
	transport ports.ProxyTransport
	stats     ports.StatsCollector
	log       *logger.StyledLogger

	cfg            config.RetryConfig
	attemptTimeout time.Duration
	retryable      map[int]struct{}

	// sleep is swappable so tests do not wait out real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(
	retryCfg config.RetryConfig,
	dispatchCfg config.DispatchConfig,
	proxyPool *domain.Pool,
	strategy func() ports.Strategy,
	breakers ports.BreakerGate,
	transport ports.ProxyTransport,
	stats ports.StatsCollector,
	log *logger.StyledLogger,
) *Executor {
	if log == nil {
		log = logger.NewDiscard()
	}
	attemptTimeout := dispatchCfg.AttemptTimeout
	if attemptTimeout <= 0 {
		attemptTimeout = 30 * time.Second
	}
	return &Executor{
		pool:           proxyPool,
		strategy:       strategy,
		breakers:       breakers,
		transport:      transport,
		stats:          stats,
		log:            log,
		cfg:            retryCfg,
		attemptTimeout: attemptTimeout,
		retryable:      retryStatusSet(retryCfg.RetryStatuses),
		sleep:          sleepContext,
	}
}

// Execute dispatches req, retrying across proxies within the attempt budget
// and the total deadline. The returned response is terminal whatever its
// status code; only transport failures, retryable statuses and 407 burn
// attempts.
func (e *Executor) Execute(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	maxAttempts := e.cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if !req.Idempotent() {
		maxAttempts = 1
	}

	if e.cfg.TotalDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.TotalDeadline)
		defer cancel()
	}

	sel := req.SelectionContext()
	var attemptErrs []*domain.AttemptError
	var lastProxy *domain.Proxy

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, e.fail(req, deadlineKind(err), attemptErrs, lastProxy)
		}

		proxy, err := e.selectProxy(ctx, sel)
		if err != nil {
			return nil, e.fail(req, err, attemptErrs, lastProxy)
		}
		lastProxy = proxy

		resp, attemptErr := e.dispatch(ctx, proxy, req, attempt)
		if attemptErr == nil {
			resp.ProxyID = proxy.ID
			resp.ProxyURL = proxy.Redacted()
			resp.Attempts = attempt
			return resp, nil
		}
		attemptErrs = append(attemptErrs, attemptErr)
		sel.Exclude(proxy.ID)

		// A dead parent context dressed up as an attempt failure is still
		// the caller's deadline or cancellation; report it as such.
		if err := ctx.Err(); err != nil {
			return nil, e.fail(req, deadlineKind(err), attemptErrs, lastProxy)
		}

		if !domain.Retryable(attemptErr.Err) {
			return nil, e.fail(req, attemptErr.Err, attemptErrs, lastProxy)
		}
		if attempt == maxAttempts {
			break
		}

		e.stats.RecordRetry(proxy.ID)
		delay := util.CalculateBackoff(e.cfg.Backoff, attempt,
			e.cfg.BaseDelay, e.cfg.MaxDelay, e.cfg.Multiplier, e.cfg.Jitter)
		e.log.Debug("retrying request",
			"attempt", attempt, "max_attempts", maxAttempts,
			"delay", delay, "proxy", proxy.Redacted())
		if err := e.sleep(ctx, delay); err != nil {
			return nil, e.fail(req, deadlineKind(err), attemptErrs, lastProxy)
		}
	}

	return nil, e.fail(req, domain.ErrAllAttemptsFailed, attemptErrs, lastProxy)
}

// selectProxy picks a proxy the breakers will let through. Proxies already
// tried for this request stay excluded; once every eligible proxy has
// failed the request there is nothing left to try and the call fails with
// ErrNoEligibleProxy rather than handing a proxy a second attempt.
func (e *Executor) selectProxy(ctx context.Context, sel *domain.SelectionContext) (*domain.Proxy, error) {
	if e.pool.Len() == 0 {
		return nil, domain.ErrPoolEmpty
	}
	candidates := e.pool.Eligible()
	if len(candidates) == 0 {
		return nil, domain.ErrNoEligibleProxy
	}

	filtered := sel.FilterExcluded(candidates)
	if len(filtered) == 0 {
		return nil, domain.ErrNoEligibleProxy
	}

	if e.breakers.AllOpen(proxyIDs(filtered)) {
		return nil, domain.ErrAllBreakersOpen
	}

	for len(filtered) > 0 {
		strat := e.strategy()
		start := time.Now()
		proxy, err := strat.Select(ctx, filtered, sel)
		e.stats.RecordSelection(strat.Name(), time.Since(start))
		if err != nil {
			return nil, err
		}
		if e.breakers.Allow(proxy.ID) {
			return proxy, nil
		}
		e.stats.RecordBreakerRejection(proxy.ID)
		filtered = withoutProxy(filtered, proxy.ID)
	}
	return nil, domain.ErrAllBreakersOpen
}

// dispatch runs one attempt through one proxy and settles the outcome with
// every interested party. A nil return means the response is final.
func (e *Executor) dispatch(ctx context.Context, proxy *domain.Proxy, req *domain.Request, attempt int) (*domain.Response, *domain.AttemptError) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.attemptTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.transport.RoundTrip(attemptCtx, proxy, req)
	latency := time.Since(start)

	if err != nil {
		kind := classifyTransportError(err)
		e.settle(proxy, false, 0, latency)
		e.log.WarnWithProxy("attempt failed", proxy.Redacted(),
			"attempt", attempt, "latency", latency, "error", kind)
		return nil, &domain.AttemptError{
			Err:     kind,
			ProxyID: proxy.ID,
			URL:     proxy.Redacted(),
			Attempt: attempt - 1,
			Latency: latency,
		}
	}

	if kind := statusKind(resp.StatusCode, e.retryable); kind != nil {
		e.settle(proxy, false, resp.StatusCode, latency)
		e.log.WarnWithProxy("attempt rejected by status", proxy.Redacted(),
			"attempt", attempt, "status", resp.StatusCode, "latency", latency)
		return nil, &domain.AttemptError{
			Err:     kind,
			ProxyID: proxy.ID,
			URL:     proxy.Redacted(),
			Attempt: attempt - 1,
			Latency: latency,
		}
	}

	e.settle(proxy, true, resp.StatusCode, latency)
	return resp, nil
}

// settle feeds one attempt outcome to the pool, the strategy, the breaker
// and the stats collector. Health accounting counts any final response as a
// success; the proxy did its job even if the upstream said 404.
func (e *Executor) settle(proxy *domain.Proxy, success bool, statusCode int, latency time.Duration) {
	e.pool.RecordOutcome(proxy.ID, success, latency)
	e.strategy().RecordOutcome(proxy, success, latency)
	if success {
		e.breakers.RecordSuccess(proxy.ID)
	} else {
		e.breakers.RecordFailure(proxy.ID)
	}
	e.stats.RecordAttempt(proxy, statusCode, latency, success)
}

func (e *Executor) fail(req *domain.Request, kind error, attempts []*domain.AttemptError, lastProxy *domain.Proxy) error {
	reqErr := &domain.RequestError{
		Kind:      unwrapKind(kind),
		Method:    req.Method,
		TargetURL: req.URL,
		Attempts:  attempts,
	}
	if lastProxy != nil {
		reqErr.ProxyID = lastProxy.ID
		reqErr.ProxyURL = lastProxy.Redacted()
	}
	return reqErr
}

// unwrapKind reduces a wrapped attempt error to its sentinel so RequestError
// renders and matches cleanly.
func unwrapKind(err error) error {
	for _, sentinel := range []error{
		domain.ErrPoolEmpty,
		domain.ErrNoEligibleProxy,
		domain.ErrNoMatch,
		domain.ErrAllBreakersOpen,
		domain.ErrAuthFailure,
		domain.ErrConnection,
		domain.ErrUpstreamTimeout,
		domain.ErrUpstreamTransient,
		domain.ErrUpstreamPermanent,
		domain.ErrDeadlineExceeded,
		domain.ErrAllAttemptsFailed,
		domain.ErrCancelled,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return err
}

func deadlineKind(err error) error {
	if errors.Is(err, context.Canceled) {
		return domain.ErrCancelled
	}
	return domain.ErrDeadlineExceeded
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func proxyIDs(proxies []*domain.Proxy) []string {
	ids := make([]string, len(proxies))
	for i, p := range proxies {
		ids[i] = p.ID
	}
	return ids
}

func withoutProxy(proxies []*domain.Proxy, id string) []*domain.Proxy {
	out := make([]*domain.Proxy, 0, len(proxies))
	for _, p := range proxies {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
