// Package ratelimit implements client IP extraction, per-request rate
// checks, and the separate post-response token-accounting path (§4.6).
package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/compresr/llm-gateway/internal/config"
)

// ClientIP resolves the request's client address per the configured policy:
// X-Real-IP first (if enabled and it parses), then the nth entry from the
// right of X-Forwarded-For (if trusted hops is configured and it parses),
// then the TCP peer address. remoteAddr is r.RemoteAddr (host:port or bare
// host), passed explicitly so this stays a pure function for testing.
func ClientIP(r *http.Request, policy config.ClientIPPolicy, remoteAddr string) string {
	if policy.XRealIP {
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			if parsed := strings.TrimSpace(ip); validIP(parsed) {
				return parsed
			}
		}
	}

	// x_real_ip takes priority when both are configured; this is not a
	// validation error (spec: "else if", strictly ordered).
	if policy.XForwardedForTrustedHops != nil {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if ip, ok := nthFromRight(xff, *policy.XForwardedForTrustedHops); ok && validIP(ip) {
				return ip
			}
		}
	}

	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// nthFromRight returns the nth comma-separated entry counting from the
// right (0 = rightmost), trimmed of surrounding whitespace.
func nthFromRight(xff string, n int) (string, bool) {
	parts := strings.Split(xff, ",")
	idx := len(parts) - 1 - n
	if idx < 0 || idx >= len(parts) {
		return "", false
	}
	return strings.TrimSpace(parts[idx]), true
}

func validIP(s string) bool {
	return net.ParseIP(s) != nil
}
