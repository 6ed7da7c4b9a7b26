package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

// classifyTransportError maps a transport-level failure onto the engine's
// error kinds. Errors already carrying a domain sentinel pass through so the
// transport can pre-classify what it understands better than we do here.
func classifyTransportError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrConnection),
		errors.Is(err, domain.ErrAuthFailure),
		errors.Is(err, domain.ErrUpstreamTimeout),
		errors.Is(err, domain.ErrUpstreamTransient),
		errors.Is(err, domain.ErrUpstreamPermanent):
		return err
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}

	if isProxyAuthError(err) {
		return fmt.Errorf("%w: %v", domain.ErrAuthFailure, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}

	if isConnectionError(err) {
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}

	return fmt.Errorf("%w: %v", domain.ErrUpstreamTransient, err)
}

// isConnectionError reports whether the failure happened on the way to or
// through the proxy rather than at the upstream. Typed checks first, then
// the string fallbacks the net package still forces on us.
func isConnectionError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := err.Error()
	for _, needle := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"proxyconnect",
		"socks connect",
		"malformed HTTP response",
		"transport connection broken",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// isProxyAuthError catches the proxy rejecting our credentials during the
// CONNECT handshake, which http.Transport reports as a plain error string.
func isProxyAuthError(err error) bool {
	msg := err.Error()
	if strings.Contains(msg, "Proxy Authentication Required") {
		return true
	}
	if strings.Contains(msg, "proxyconnect") && strings.Contains(msg, "407") {
		return true
	}
	return false
}

// statusKind maps a received status code onto an error kind, or nil when the
// response is final and should be handed back to the caller as-is. A 407
// means the proxy itself rejected us, never the upstream.
func statusKind(statusCode int, retryable map[int]struct{}) error {
	if statusCode == http.StatusProxyAuthRequired {
		return fmt.Errorf("%w: proxy returned 407", domain.ErrAuthFailure)
	}
	if _, ok := retryable[statusCode]; ok {
		return fmt.Errorf("%w: upstream returned %d", domain.ErrUpstreamTransient, statusCode)
	}
	return nil
}

// retryStatusSet indexes the configured retryable status codes.
func retryStatusSet(statuses []int) map[int]struct{} {
	set := make(map[int]struct{}, len(statuses))
	for _, code := range statuses {
		set[code] = struct{}{}
	}
	return set
}
