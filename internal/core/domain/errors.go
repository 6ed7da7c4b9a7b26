package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel error kinds surfaced to callers. Wrap with fmt.Errorf("%w") and
// match with errors.Is; the typed errors below carry per-request detail.
var (
	ErrValidation        = errors.New("validation failed")
	ErrPoolEmpty         = errors.New("proxy pool is empty")
	ErrNoEligibleProxy   = errors.New("no eligible proxy available")
	ErrNoMatch           = errors.New("no proxy matches the targeting constraints")
	ErrAllBreakersOpen   = errors.New("all circuit breakers are open")
	ErrAuthFailure       = errors.New("proxy authentication failed")
	ErrConnection        = errors.New("connection to proxy failed")
	ErrUpstreamTimeout   = errors.New("upstream request timed out")
	ErrUpstreamTransient = errors.New("transient upstream failure")
	ErrUpstreamPermanent = errors.New("permanent upstream failure")
	ErrDeadlineExceeded  = errors.New("total deadline exceeded")
	ErrAllAttemptsFailed = errors.New("all retry attempts failed")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrCancelled         = errors.New("request cancelled")
	ErrClosed            = errors.New("client is closed")
	ErrCacheDegraded     = errors.New("cache tier degraded")
)

// Retryable reports whether the retry executor may re-issue the request
// through a different proxy after seeing this error.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrConnection),
		errors.Is(err, ErrUpstreamTimeout),
		errors.Is(err, ErrUpstreamTransient):
		return true
	default:
		return false
	}
}

// ValidationError reports a rejected input with the offending field.
// Values are pre-redacted; credential material never appears here.
type ValidationError struct {
	Value  any
	Field  string
	Reason string
}

func NewValidationError(field string, value any, reason string) *ValidationError {
	return &ValidationError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// AttemptError captures one failed dispatch leg: which proxy carried it,
// what happened, how long it took.
type AttemptError struct {
	Err     error
	ProxyID string
	URL     string
	Attempt int
	Latency time.Duration
}

func (e *AttemptError) Error() string {
	if e.ProxyID == "" {
		return fmt.Sprintf("attempt %d failed: %v", e.Attempt+1, e.Err)
	}
	return fmt.Sprintf("attempt %d via %s [%s] failed after %v: %v",
		e.Attempt+1, e.URL, shortID(e.ProxyID), e.Latency, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

// RequestError is the terminal error for one dispatched request. Kind is one
// of the sentinels above; Attempts lists each failed leg in order.
type RequestError struct {
	Kind      error
	Method    string
	TargetURL string
	ProxyID   string
	ProxyURL  string
	Attempts  []*AttemptError
}

func (e *RequestError) Error() string {
	if e.ProxyID == "" {
		return fmt.Sprintf("%s %s: %v after %d attempts",
			e.Method, e.TargetURL, e.Kind, len(e.Attempts))
	}
	return fmt.Sprintf("%s %s: %v after %d attempts (last proxy %s [%s])",
		e.Method, e.TargetURL, e.Kind, len(e.Attempts), e.ProxyURL, shortID(e.ProxyID))
}

func (e *RequestError) Unwrap() error {
	return e.Kind
}

// LastAttempt returns the final failed leg, or nil when none were recorded.
func (e *RequestError) LastAttempt() *AttemptError {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1]
}

// RateLimitError carries the limiter's denial metadata so callers can back
// off without guessing.
type RateLimitError struct {
	Identifier string
	Endpoint   string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit %d exceeded for %s on %s, retry after %v",
		e.Limit, e.Identifier, e.Endpoint, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// PoolError wraps pool membership failures with the operation that hit them.
type PoolError struct {
	Err error
	Op  string
	URL string
}

func NewPoolError(op, redactedURL string, err error) *PoolError {
	return &PoolError{
		Op:  op,
		URL: redactedURL,
		Err: err,
	}
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("pool %s failed for %s: %v", e.Op, e.URL, e.Err)
}

func (e *PoolError) Unwrap() error {
	return e.Err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
