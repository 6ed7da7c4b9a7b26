package proxywhirl

import (
	"errors"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

// Error kinds surfaced by the client. Match with errors.Is; the wrapper
// types below carry per-request detail.
var (
	ErrValidation        = domain.ErrValidation
	ErrPoolEmpty         = domain.ErrPoolEmpty
	ErrNoEligibleProxy   = domain.ErrNoEligibleProxy
	ErrNoMatch           = domain.ErrNoMatch
	ErrAllBreakersOpen   = domain.ErrAllBreakersOpen
	ErrAuthFailure       = domain.ErrAuthFailure
	ErrConnection        = domain.ErrConnection
	ErrUpstreamTimeout   = domain.ErrUpstreamTimeout
	ErrUpstreamTransient = domain.ErrUpstreamTransient
	ErrUpstreamPermanent = domain.ErrUpstreamPermanent
	ErrDeadlineExceeded  = domain.ErrDeadlineExceeded
	ErrAllAttemptsFailed = domain.ErrAllAttemptsFailed
	ErrRateLimited       = domain.ErrRateLimited
	ErrCancelled         = domain.ErrCancelled
	ErrClosed            = domain.ErrClosed
	ErrCacheDegraded     = domain.ErrCacheDegraded
)

// ErrCacheDisabled is returned by cache operations when the client was
// built without a cache.
var ErrCacheDisabled = errors.New("cache is disabled")

// ErrRateLimitDisabled is returned by rate-limit operations when the client
// was built without a limiter.
var ErrRateLimitDisabled = errors.New("rate limiting is disabled")

// Wrapper types carrying structured failure detail. All unwrap to one of
// the sentinels above.
type (
	ValidationError = domain.ValidationError
	AttemptError    = domain.AttemptError
	RequestError    = domain.RequestError
	RateLimitError  = domain.RateLimitError
	PoolError       = domain.PoolError
)
