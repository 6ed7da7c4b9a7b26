package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	xproxy "golang.org/x/net/proxy"

	"github.com/proxywhirl/proxywhirl/internal/config"
	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
	"github.com/proxywhirl/proxywhirl/internal/logger"
	"github.com/proxywhirl/proxywhirl/pkg/pool"
)

const (
	DefaultMaxBodySize = 10 * 1024 * 1024
	DefaultUserAgent   = "proxywhirl/1.0"
)

// hopHeaders never travel past one hop; forwarding them through a proxy
// confuses keep-alive handling. Proxy-Authorization is ours to set, not the
// caller's.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Transport carries request attempts through individual proxies. Each proxy
// gets its own http.Transport so connection pools never mix and a removed
// proxy's sockets can be torn down in isolation.
type Transport struct {
	transports *xsync.Map[string, *http.Transport]
	buffers    *pool.Pool[*bytes.Buffer]
	log        *logger.StyledLogger

	dispatch     config.DispatchConfig
	probeURL     string
	probeTimeout time.Duration
}

var (
	_ ports.ProxyTransport = (*Transport)(nil)
	_ ports.Prober         = (*Transport)(nil)
)

func NewTransport(dispatch config.DispatchConfig, poolCfg config.PoolConfig, log *logger.StyledLogger) *Transport {
	if log == nil {
		log = logger.NewDiscard()
	}
	buffers, _ := pool.NewLitePool(func() *bytes.Buffer {
		return new(bytes.Buffer)
	})
	return &Transport{
		transports:   xsync.NewMap[string, *http.Transport](),
		buffers:      buffers,
		log:          log,
		dispatch:     dispatch,
		probeURL:     poolCfg.ProbeURL,
		probeTimeout: poolCfg.ProbeTimeout,
	}
}

// RoundTrip sends one attempt through one proxy and returns the fully
// drained response. The caller owns attempt timeouts via ctx.
func (t *Transport) RoundTrip(ctx context.Context, proxy *domain.Proxy, req *domain.Request) (*domain.Response, error) {
	transport, err := t.transportFor(proxy)
	if err != nil {
		return nil, err
	}

	httpReq, err := t.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := transport.RoundTrip(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := t.readBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", domain.ErrUpstreamTransient, err)
	}

	return &domain.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		Latency:    time.Since(start),
	}, nil
}

// Probe issues a lightweight GET through the proxy to measure liveness and
// latency. Any response counts; a probe asks "can this proxy carry traffic",
// not "is the probe target happy".
func (t *Transport) Probe(ctx context.Context, proxy *domain.Proxy) (time.Duration, error) {
	transport, err := t.transportFor(proxy)
	if err != nil {
		return 0, err
	}

	timeout := t.probeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.probeURL, nil)
	if err != nil {
		return 0, fmt.Errorf("building probe request: %w", err)
	}
	httpReq.Header.Set("User-Agent", t.userAgent())

	start := time.Now()
	resp, err := transport.RoundTrip(httpReq)
	latency := time.Since(start)
	if err != nil {
		return latency, classifyTransportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusProxyAuthRequired {
		return latency, fmt.Errorf("%w: probe returned 407", domain.ErrAuthFailure)
	}
	return latency, nil
}

// Release tears down the transport for a proxy that left the pool.
func (t *Transport) Release(proxyID string) {
	if transport, ok := t.transports.LoadAndDelete(proxyID); ok {
		transport.CloseIdleConnections()
	}
}

// CloseIdle drops every pooled connection across all proxies.
func (t *Transport) CloseIdle() {
	t.transports.Range(func(_ string, transport *http.Transport) bool {
		transport.CloseIdleConnections()
		return true
	})
}

func (t *Transport) transportFor(proxy *domain.Proxy) (*http.Transport, error) {
	if existing, ok := t.transports.Load(proxy.ID); ok {
		return existing, nil
	}
	built, err := t.build(proxy)
	if err != nil {
		return nil, err
	}
	actual, _ := t.transports.LoadOrStore(proxy.ID, built)
	return actual, nil
}

func (t *Transport) build(proxy *domain.Proxy) (*http.Transport, error) {
	maxIdle := t.dispatch.MaxIdleConnsPerProxy
	if maxIdle <= 0 {
		maxIdle = 8
	}
	idleTimeout := t.dispatch.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: maxIdle,
		IdleConnTimeout:     idleTimeout,
	}

	switch proxy.URL.Scheme {
	case "http", "https":
		// Userinfo is kept off the stored URL; rebuild it here so
		// http.Transport handles Proxy-Authorization for both plain
		// requests and CONNECT tunnels.
		proxyURL := *proxy.URL
		if cred := proxy.Credential; cred != nil {
			proxyURL.User = url.UserPassword(cred.Username(), cred.Password())
		}
		transport.Proxy = http.ProxyURL(&proxyURL)
	case "socks5":
		var auth *xproxy.Auth
		if cred := proxy.Credential; cred != nil {
			auth = &xproxy.Auth{User: cred.Username(), Password: cred.Password()}
		}
		dialer, err := xproxy.SOCKS5("tcp", proxy.URL.Host, auth, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("%w: building socks5 dialer for %s: %v",
				domain.ErrConnection, proxy.Redacted(), err)
		}
		contextDialer, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("%w: socks5 dialer for %s does not support contexts",
				domain.ErrConnection, proxy.Redacted())
		}
		transport.DialContext = contextDialer.DialContext
	case "socks4":
		// SOCKS4 proxies are accepted into the pool for inventory purposes
		// but there is no SOCKS4 dialer; attempts through them fail fast.
		return nil, fmt.Errorf("%w: %s: socks4 dialing is not supported",
			domain.ErrConnection, proxy.Redacted())
	default:
		return nil, fmt.Errorf("%w: %s: unsupported proxy scheme",
			domain.ErrConnection, proxy.Redacted())
	}

	return transport, nil
}

func (t *Transport) buildRequest(ctx context.Context, req *domain.Request) (*http.Request, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, domain.NewValidationError("url", req.URL, err.Error())
	}

	for key, values := range req.Header {
		if isHopHeader(key) {
			continue
		}
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", t.userAgent())
	}
	return httpReq, nil
}

// readBody drains the response into a pooled buffer, capped at the
// configured body size. Any overflow is discarded rather than failing the
// attempt so the connection stays reusable.
func (t *Transport) readBody(r io.Reader) ([]byte, error) {
	limit := t.dispatch.MaxBodySize
	if limit <= 0 {
		limit = DefaultMaxBodySize
	}

	buf := t.buffers.Get()
	defer func() {
		buf.Reset()
		t.buffers.Put(buf)
	}()

	if _, err := io.Copy(buf, io.LimitReader(r, limit)); err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, r)

	body := make([]byte, buf.Len())
	copy(body, buf.Bytes())
	return body, nil
}

func (t *Transport) userAgent() string {
	if t.dispatch.UserAgent != "" {
		return t.dispatch.UserAgent
	}
	return DefaultUserAgent
}

func isHopHeader(key string) bool {
	for _, hop := range hopHeaders {
		if http.CanonicalHeaderKey(key) == hop {
			return true
		}
	}
	return false
}
