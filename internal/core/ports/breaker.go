package ports

import (
	"time"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerSnapshot is a point-in-time view of one proxy's breaker.
type BreakerSnapshot struct {
	OpenedAt       time.Time    `json:"opened_at,omitempty"`
	NextTrialAt    time.Time    `json:"next_trial_at,omitempty"`
	ProxyID        string       `json:"proxy_id"`
	State          BreakerState `json:"state"`
	RecentFailures int          `json:"recent_failures"`
}

// BreakerGate fronts the per-proxy circuit breakers. Allow reserves the
// half-open trial slot when it grants one; every granted Allow must be
// matched by a RecordSuccess or RecordFailure.
type BreakerGate interface {
	Allow(proxyID string) bool
	RecordSuccess(proxyID string)
	RecordFailure(proxyID string)
	State(proxyID string) BreakerState
	Snapshot() []BreakerSnapshot
	Reset(proxyID string) bool
	Remove(proxyID string)
	AllOpen(proxyIDs []string) bool
}
