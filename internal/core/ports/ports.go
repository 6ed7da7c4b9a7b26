package ports

import (
	"context"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

// ProxyTransport carries one request attempt through one proxy. The
// implementation owns connection pooling per proxy and drains response
// bodies so connections can be reused.
type ProxyTransport interface {
	RoundTrip(ctx context.Context, proxy *domain.Proxy, req *domain.Request) (*domain.Response, error)
	CloseIdle()
	Release(proxyID string)
}

// Prober issues an active health probe through a proxy without going
// through selection, breakers or rate limits.
type Prober interface {
	Probe(ctx context.Context, proxy *domain.Proxy) (time.Duration, error)
}
