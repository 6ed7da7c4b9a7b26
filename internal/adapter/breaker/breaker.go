package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/proxywhirl/proxywhirl/internal/config"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
)

const (
	DefaultFailureThreshold = 5
	DefaultWindow           = 60 * time.Second
	DefaultOpenTimeout      = 30 * time.Second
)

// Gate keeps one circuit breaker per proxy. Breakers are created on
// first use and always start closed; nothing survives a restart.
type Gate struct {
	breakers    *xsync.Map[string, *breaker]
	threshold   int
	window      time.Duration
	openTimeout time.Duration
}

// breaker is the per-proxy state machine. All fields are guarded by mu;
// failures holds the timestamps of recent failures while closed, oldest
// first, and is pruned against the window on every access.
type breaker struct {
	mu        sync.Mutex
	failures  []time.Time
	state     ports.BreakerState
	openedAt  time.Time
	openUntil time.Time
	trialing  bool
}

func NewGate(cfg config.BreakerConfig) *Gate {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}

	return &Gate{
		breakers:    xsync.NewMap[string, *breaker](),
		threshold:   cfg.FailureThreshold,
		window:      cfg.Window,
		openTimeout: cfg.OpenTimeout,
	}
}

func (g *Gate) get(proxyID string) *breaker {
	b, _ := g.breakers.LoadOrCompute(proxyID, func() (*breaker, bool) {
		return &breaker{state: ports.BreakerClosed}, false
	})
	return b
}

// Allow reports whether a request may be sent through the proxy. When
// an open breaker has cooled off, the first caller is admitted as the
// half-open trial and later callers are rejected until the trial
// reports back through RecordSuccess or RecordFailure.
func (g *Gate) Allow(proxyID string) bool {
	b := g.get(proxyID)
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case ports.BreakerOpen:
		if now.Before(b.openUntil) {
			return false
		}
		b.state = ports.BreakerHalfOpen
		b.trialing = true
		return true
	case ports.BreakerHalfOpen:
		if b.trialing {
			return false
		}
		b.trialing = true
		return true
	default:
		b.prune(now, g.window)
		return true
	}
}

// RecordSuccess closes the breaker. A half-open trial success resets
// the failure history; a success while already closed leaves the
// windowed history alone so slow-burn failures still trip.
func (g *Gate) RecordSuccess(proxyID string) {
	b := g.get(proxyID)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == ports.BreakerClosed {
		return
	}

	b.state = ports.BreakerClosed
	b.trialing = false
	b.failures = b.failures[:0]
	b.openedAt = time.Time{}
	b.openUntil = time.Time{}
}

// RecordFailure appends to the failure window and trips the breaker at
// the threshold. A half-open trial failure reopens with a fresh
// cool-off; failures reported while already open are late results from
// requests admitted before the trip and change nothing.
func (g *Gate) RecordFailure(proxyID string) {
	b := g.get(proxyID)
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case ports.BreakerOpen:
	case ports.BreakerHalfOpen:
		b.trialing = false
		b.open(now, g.openTimeout)
	default:
		b.prune(now, g.window)
		b.failures = append(b.failures, now)
		if len(b.failures) >= g.threshold {
			b.open(now, g.openTimeout)
		}
	}
}

func (g *Gate) State(proxyID string) ports.BreakerState {
	b, ok := g.breakers.Load(proxyID)
	if !ok {
		return ports.BreakerClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.observedState(time.Now())
}

// Snapshot returns a point-in-time view of every breaker, sorted by
// proxy ID for stable output.
func (g *Gate) Snapshot() []ports.BreakerSnapshot {
	now := time.Now()
	snapshots := make([]ports.BreakerSnapshot, 0, g.breakers.Size())

	g.breakers.Range(func(proxyID string, b *breaker) bool {
		b.mu.Lock()
		b.prune(now, g.window)
		snap := ports.BreakerSnapshot{
			ProxyID:        proxyID,
			State:          b.observedState(now),
			RecentFailures: len(b.failures),
		}
		if !b.openedAt.IsZero() {
			snap.OpenedAt = b.openedAt
			snap.NextTrialAt = b.openUntil
		}
		b.mu.Unlock()

		snapshots = append(snapshots, snap)
		return true
	})

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].ProxyID < snapshots[j].ProxyID
	})
	return snapshots
}

// Reset forces a breaker back to closed. Returns false when the proxy
// has no breaker yet.
func (g *Gate) Reset(proxyID string) bool {
	b, ok := g.breakers.Load(proxyID)
	if !ok {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = ports.BreakerClosed
	b.trialing = false
	b.failures = b.failures[:0]
	b.openedAt = time.Time{}
	b.openUntil = time.Time{}
	return true
}

// Remove drops the breaker for a proxy that left the pool.
func (g *Gate) Remove(proxyID string) {
	g.breakers.Delete(proxyID)
}

// AllOpen reports whether every given proxy is currently blocked. Used
// by the retry executor to fail fast instead of burning attempts.
func (g *Gate) AllOpen(proxyIDs []string) bool {
	if len(proxyIDs) == 0 {
		return false
	}

	now := time.Now()
	for _, id := range proxyIDs {
		b, ok := g.breakers.Load(id)
		if !ok {
			return false
		}

		b.mu.Lock()
		state := b.observedState(now)
		blocked := state == ports.BreakerOpen || (state == ports.BreakerHalfOpen && b.trialing)
		b.mu.Unlock()

		if !blocked {
			return false
		}
	}
	return true
}

// open transitions to OPEN with a fresh cool-off. Caller holds mu.
func (b *breaker) open(now time.Time, openTimeout time.Duration) {
	b.state = ports.BreakerOpen
	b.openedAt = now
	b.openUntil = now.Add(openTimeout)
}

// observedState maps a cooled-off OPEN to HALF_OPEN without mutating;
// the transition itself happens in Allow. Caller holds mu.
func (b *breaker) observedState(now time.Time) ports.BreakerState {
	if b.state == ports.BreakerOpen && !now.Before(b.openUntil) {
		return ports.BreakerHalfOpen
	}
	return b.state
}

// prune drops failure timestamps older than the window. Caller holds mu.
func (b *breaker) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	idx := 0
	for idx < len(b.failures) && !b.failures[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		b.failures = append(b.failures[:0], b.failures[idx:]...)
	}
}
