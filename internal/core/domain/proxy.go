package domain

import (
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultEMAAlpha weights new latency samples in the per-proxy moving
	// average. Shared with the performance strategy so both see the same
	// signal.
	DefaultEMAAlpha = 0.2

	// outcomeWindowSize bounds the rolling outcome ring used for the
	// windowed success-rate degradation rule.
	outcomeWindowSize = 20
)

// HealthPolicy holds the thresholds that drive proxy status transitions.
// The zero value is not usable; call DefaultHealthPolicy.
type HealthPolicy struct {
	// DegradedAfterFailures moves Healthy/Unknown to Degraded once this many
	// consecutive failures accumulate.
	DegradedAfterFailures int
	// WindowMinSuccessRate moves Healthy to Degraded when the success rate
	// over the last outcomeWindowSize requests drops below it. Only applies
	// once the window is full.
	WindowMinSuccessRate float64
	// UnhealthyAfterDegraded moves Degraded to Unhealthy after this many
	// further failures since entering Degraded.
	UnhealthyAfterDegraded int
	// DeadAfterStreak moves Unhealthy to Dead once the unbroken consecutive
	// failure streak reaches it.
	DeadAfterStreak int
	// EMAAlpha is the smoothing factor for the latency moving average.
	EMAAlpha float64
}

func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{
		DegradedAfterFailures:  3,
		WindowMinSuccessRate:   0.5,
		UnhealthyAfterDegraded: 5,
		DeadAfterStreak:        20,
		EMAAlpha:               DefaultEMAAlpha,
	}
}

// Metrics is the health accounting attached to one proxy. Reads outside the
// owning proxy's lock must go through Proxy.MetricsSnapshot.
type Metrics struct {
	TotalRequests         int64
	SuccessfulRequests    int64
	ConsecutiveFailures   int64
	FailuresSinceDegraded int64
	// EMAResponseMs is uninitialised until the first successful sample.
	EMAResponseMs  float64
	EMAInitialised bool
	LastUsed       time.Time
	LastChecked    time.Time

	// rolling outcome ring for the windowed degradation rule
	window      [outcomeWindowSize]bool
	windowIdx   int
	windowCount int
}

// SuccessRate is successes over total, guarding the empty case.
func (m *Metrics) SuccessRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.SuccessfulRequests) / float64(m.TotalRequests)
}

// WindowedSuccessRate is the success rate over the rolling window, and
// whether the window has filled enough to be meaningful.
func (m *Metrics) WindowedSuccessRate() (float64, bool) {
	if m.windowCount < outcomeWindowSize {
		return 0, false
	}
	successes := 0
	for _, ok := range m.window {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(outcomeWindowSize), true
}

func (m *Metrics) pushOutcome(success bool) {
	m.window[m.windowIdx] = success
	m.windowIdx = (m.windowIdx + 1) % outcomeWindowSize
	if m.windowCount < outcomeWindowSize {
		m.windowCount++
	}
}

// Proxy is a single upstream forward proxy. Identity and metadata fields are
// set at construction and only mutated through MergeRecord under the owning
// pool's lock. Health state and metrics are guarded by the per-proxy mutex so
// concurrent completions never block pool membership reads.
type Proxy struct {
	ID           string
	URL          *url.URL // credentials stripped; use Credential for auth
	CanonicalURL string
	Credential   *Credential
	Tags         map[string]struct{}
	CountryCode  string
	Region       string
	CostPerRequest float64
	Source       string
	FetchedAt    time.Time
	Weight       float64 // optional explicit selection weight; 0 means derive

	seq uint64 // pool insert sequence, stable ordering for round-robin

	mu      sync.Mutex
	status  ProxyStatus
	metrics Metrics
	policy  HealthPolicy
}

// NewProxy builds a proxy from an already validated URL. rawURL may carry
// userinfo; it is split off into a Credential and never kept on the URL.
func NewProxy(rawURL string) (*Proxy, error) {
	parsed, cred, canonical, err := ParseProxyURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &Proxy{
		ID:           uuid.NewString(),
		URL:          parsed,
		CanonicalURL: canonical,
		Credential:   cred,
		Tags:         make(map[string]struct{}),
		status:       StatusUnknown,
		policy:       DefaultHealthPolicy(),
	}, nil
}

// SetHealthPolicy overrides the transition thresholds. Intended for pool
// construction, before the proxy observes traffic.
func (p *Proxy) SetHealthPolicy(policy HealthPolicy) {
	p.mu.Lock()
	p.policy = policy
	p.mu.Unlock()
}

func (p *Proxy) Status() ProxyStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// IsEligible reports whether the proxy is healthy enough to be selected.
func (p *Proxy) IsEligible() bool {
	return p.Status().IsEligible()
}

// MetricsSnapshot returns a copy of the metrics safe to read without locks.
func (p *Proxy) MetricsSnapshot() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// Sequence is the pool insert order. Zero until the proxy joins a pool.
func (p *Proxy) Sequence() uint64 {
	return p.seq
}

// Redacted renders the proxy URL with credentials stripped, safe for logs
// and error messages.
func (p *Proxy) Redacted() string {
	if p.URL == nil {
		return ""
	}
	return p.URL.Scheme + "://" + p.URL.Host
}

// HasTag reports tag membership.
func (p *Proxy) HasTag(tag string) bool {
	_, ok := p.Tags[tag]
	return ok
}

// RecordOutcome is the single mutator for proxy health metrics. It updates
// the counters and moving average and applies the status transition rules.
// Dead proxies keep accounting but stay Dead; only RecordProbe revives them.
// The returned transition has From != To when the status changed.
func (p *Proxy) RecordOutcome(success bool, responseTime time.Duration) StatusTransition {
	return p.record(success, responseTime, false)
}

// RecordProbe records the outcome of an explicit health probe. A successful
// probe is the only path out of Dead.
func (p *Proxy) RecordProbe(success bool, responseTime time.Duration) StatusTransition {
	return p.record(success, responseTime, true)
}

func (p *Proxy) record(success bool, responseTime time.Duration, probe bool) StatusTransition {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	from := p.status

	p.metrics.TotalRequests++
	p.metrics.LastUsed = now
	p.metrics.LastChecked = now
	p.metrics.pushOutcome(success)

	if success {
		p.metrics.SuccessfulRequests++
		p.metrics.ConsecutiveFailures = 0
		p.metrics.FailuresSinceDegraded = 0
		p.updateEMA(responseTime)

		if p.status == StatusDead && !probe {
			// Dead is absorbing for regular traffic; a stray success from a
			// request in flight when the proxy died does not resurrect it.
			return StatusTransition{Timestamp: now, ProxyID: p.ID, From: from, To: from}
		}
		p.status = StatusHealthy
		return p.transition(now, from, StatusHealthy, "success")
	}

	p.metrics.ConsecutiveFailures++
	if p.status == StatusDegraded || p.status == StatusUnhealthy {
		p.metrics.FailuresSinceDegraded++
	}

	switch p.status {
	case StatusUnknown, StatusHealthy:
		if p.metrics.ConsecutiveFailures >= int64(p.policy.DegradedAfterFailures) {
			p.status = StatusDegraded
			p.metrics.FailuresSinceDegraded = 0
			return p.transition(now, from, StatusDegraded, "consecutive failures")
		}
		if rate, full := p.metrics.WindowedSuccessRate(); full && rate < p.policy.WindowMinSuccessRate {
			p.status = StatusDegraded
			p.metrics.FailuresSinceDegraded = 0
			return p.transition(now, from, StatusDegraded, "windowed success rate")
		}
	case StatusDegraded:
		if p.metrics.FailuresSinceDegraded >= int64(p.policy.UnhealthyAfterDegraded) {
			p.status = StatusUnhealthy
			return p.transition(now, from, StatusUnhealthy, "failures since degraded")
		}
	case StatusUnhealthy:
		if p.metrics.ConsecutiveFailures >= int64(p.policy.DeadAfterStreak) {
			p.status = StatusDead
			return p.transition(now, from, StatusDead, "failure streak")
		}
	case StatusDead:
		// absorbing
	}

	return StatusTransition{Timestamp: now, ProxyID: p.ID, URL: p.Redacted(), From: from, To: p.status}
}

func (p *Proxy) updateEMA(responseTime time.Duration) {
	if responseTime <= 0 {
		return
	}
	sample := float64(responseTime.Milliseconds())
	if !p.metrics.EMAInitialised {
		p.metrics.EMAResponseMs = sample
		p.metrics.EMAInitialised = true
		return
	}
	alpha := p.policy.EMAAlpha
	p.metrics.EMAResponseMs = alpha*sample + (1-alpha)*p.metrics.EMAResponseMs
}

func (p *Proxy) transition(now time.Time, from, to ProxyStatus, reason string) StatusTransition {
	return StatusTransition{
		Timestamp: now,
		ProxyID:   p.ID,
		URL:       p.Redacted(),
		From:      from,
		To:        to,
		Reason:    reason,
	}
}

// MarkDead forces the proxy out of rotation until an explicit probe succeeds.
func (p *Proxy) MarkDead(reason string) StatusTransition {
	p.mu.Lock()
	defer p.mu.Unlock()
	from := p.status
	p.status = StatusDead
	return p.transition(time.Now(), from, StatusDead, reason)
}

// RestoreState reinstates persisted health state during rehydration.
func (p *Proxy) RestoreState(status ProxyStatus, consecutiveFailures int64) {
	p.mu.Lock()
	p.status = status
	p.metrics.ConsecutiveFailures = consecutiveFailures
	p.mu.Unlock()
}
