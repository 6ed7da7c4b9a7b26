package domain

import (
	"net/http"
	"strings"
	"time"
)

// DefaultIdentifier is the rate-limit identity used when a request does not
// declare one.
const DefaultIdentifier = "default"

// Request is one outbound request to run through the rotation engine.
// The body is held as bytes so a retry can replay it on another proxy.
type Request struct {
	Header   http.Header
	Metadata map[string]string

	Method string
	URL    string

	// SessionID pins the request to one proxy under the sticky strategy.
	SessionID string

	// TargetCountry and TargetRegion constrain geo-aware selection.
	TargetCountry string
	TargetRegion  string

	// Identifier names the rate-limit subject; empty means
	// DefaultIdentifier.
	Identifier string

	// Tier selects the rate-limit tier defaults for this request; empty
	// falls back to the global rule.
	Tier string

	Body []byte

	// Timeout bounds a single attempt. Zero means the engine default.
	Timeout time.Duration

	// MaxCostPerRequest caps spend for cost-aware selection. Zero means
	// unlimited.
	MaxCostPerRequest float64

	// RetryNonIdempotent opts a POST or PATCH into retries. Idempotent
	// methods retry by default.
	RetryNonIdempotent bool
}

// Validate normalises the request in place and rejects what the engine
// cannot dispatch.
func (r *Request) Validate() error {
	if r == nil {
		return NewValidationError("request", nil, "nil request")
	}
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		return NewValidationError("url", r.URL, "target URL is required")
	}
	if !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
		return NewValidationError("url", r.URL, "target URL must be absolute http or https")
	}
	if r.Timeout < 0 {
		return NewValidationError("timeout", r.Timeout, "must not be negative")
	}
	if r.MaxCostPerRequest < 0 {
		return NewValidationError("max_cost_per_request", r.MaxCostPerRequest, "must not be negative")
	}
	return nil
}

// Idempotent reports whether the engine may retry this request on another
// proxy without the caller opting in.
func (r *Request) Idempotent() bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete, http.MethodTrace:
		return true
	default:
		return r.RetryNonIdempotent
	}
}

// RateIdentifier returns the rate-limit subject for this request.
func (r *Request) RateIdentifier() string {
	if r.Identifier == "" {
		return DefaultIdentifier
	}
	return r.Identifier
}

// SelectionContext derives the strategy hints from the request.
func (r *Request) SelectionContext() *SelectionContext {
	return &SelectionContext{
		SessionID:         r.SessionID,
		TargetCountry:     strings.ToUpper(strings.TrimSpace(r.TargetCountry)),
		TargetRegion:      strings.TrimSpace(r.TargetRegion),
		MaxCostPerRequest: r.MaxCostPerRequest,
	}
}

// Response is the terminal result of a dispatched request. The body is fully
// drained so the connection can be reused.
type Response struct {
	Header http.Header

	// ProxyID and ProxyURL identify the proxy that carried the winning
	// attempt. ProxyURL is redacted.
	ProxyID  string
	ProxyURL string

	Body []byte

	StatusCode int

	// Attempts counts every attempt made, including the successful one.
	Attempts int

	// Latency is the duration of the winning attempt only.
	Latency time.Duration
}
