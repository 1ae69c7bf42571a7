// Package httpclient provides the single shared HTTP client used for all
// outbound provider calls, so connection pooling is shared across
// providers rather than rebuilt per request.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

const (
	// UnaryTimeout bounds a non-streaming outbound provider request. It is
	// applied per call via context.WithTimeout, never as *http.Client.Timeout
	// on Shared: Client.Timeout runs from request start and aborts an
	// in-progress body read once it elapses, so setting it on the shared
	// client would cut off every streaming response at UnaryTimeout
	// regardless of upstream activity — spec.md §5 requires streaming to
	// have no whole-response timeout, only context cancellation.
	UnaryTimeout = 60 * time.Second

	idleConnTimeout     = 5 * time.Second
	tcpKeepAlive        = 60 * time.Second
	dialTimeout         = 10 * time.Second
	maxIdleConnsPerHost = 32
)

// Shared is the process-wide HTTP client used for every provider call,
// unary and streaming alike. It carries no Client.Timeout; callers bound
// unary calls with context.WithTimeout(ctx, UnaryTimeout) and leave
// streaming calls bounded only by the caller's own context.
var Shared = New()

// New builds an *http.Client tuned for a gateway that fans out to many
// upstream providers: a short idle-connection timeout to recycle
// connections to frequently-rotated endpoints, TCP keepalive so long-lived
// streaming connections survive NAT idle timeouts, and a per-host pool
// sized for concurrent fan-out.
func New() *http.Client {
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: tcpKeepAlive,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		IdleConnTimeout:     idleConnTimeout,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		ForceAttemptHTTP2:   true,
	}

	return &http.Client{
		Transport: transport,
	}
}
