package ports

import (
	"context"
	"time"
)

// RateDecision is the limiter's answer for one request.
type RateDecision struct {
	ResetAt    time.Time     `json:"reset_at"`
	Rule       string        `json:"rule,omitempty"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Allowed    bool          `json:"allowed"`
}

// RateLimiter gates requests per (identifier, endpoint) pair. Allow consumes
// a slot when it grants one; Peek only inspects. The tier selects which
// default applies when no endpoint rule matches.
type RateLimiter interface {
	Allow(ctx context.Context, identifier, endpoint, tier string) (RateDecision, error)
	Peek(ctx context.Context, identifier, endpoint, tier string) (RateDecision, error)
	Close() error
}
