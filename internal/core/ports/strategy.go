package ports

import (
	"context"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

// Strategy picks the proxy for one request from the eligible candidates.
// Implementations must be safe for concurrent use; candidates arrive in
// pool insertion order and are never empty. RecordOutcome feeds back the
// request result for strategies that keep local state; most ignore it
// because latency EMAs already live on the proxy itself.
type Strategy interface {
	Select(ctx context.Context, candidates []*domain.Proxy, sel *domain.SelectionContext) (*domain.Proxy, error)
	RecordOutcome(proxy *domain.Proxy, success bool, responseTime time.Duration)
	Name() string
}

// CandidateFilter narrows a candidate set without selecting from it. The
// composite strategy chains filters ahead of its final selector; geo and
// cost strategies implement this alongside Strategy.
type CandidateFilter interface {
	Narrow(candidates []*domain.Proxy, sel *domain.SelectionContext) []*domain.Proxy
}

// SessionReleaser is implemented by strategies that pin sessions to proxies
// and need to drop the pin when a proxy leaves the pool.
type SessionReleaser interface {
	ReleaseProxy(proxyID string)
}

// SessionCloser is implemented by strategies that honour explicit session
// termination ahead of TTL expiry.
type SessionCloser interface {
	CloseSession(sessionID string) bool
}
