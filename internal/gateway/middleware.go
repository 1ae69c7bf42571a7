// HTTP middleware chain: panicRecovery -> auth -> clientIdentity ->
// rateLimit(ip, identity) -> loggingMiddleware -> security, per spec.md
// §2's pipeline ([Auth] -> [ClientIdentification] -> [RateLimit]) and §4.6
// ("upstream of the rate limiter, a layer extracts the validated JWT's
// claims"). Adapted from the teacher's internal/gateway/middleware.go.
// responseWriter is kept close to verbatim — it is exactly the primitive a
// streaming proxy needs.
package gateway

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/identity"
	"github.com/compresr/llm-gateway/internal/ratelimit"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code before writing it.
func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush implements http.Flusher to support streaming responses. This
// delegates to the underlying ResponseWriter if it supports flushing.
func (w *responseWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

type requestContextKey struct{}

// requestContextFrom returns the RequestContext attached by the
// middleware chain, or a zero-valued one if none was attached (e.g. in a
// unit test exercising a handler directly).
func requestContextFrom(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(requestContextKey{}).(*RequestContext); ok {
		return rc
	}
	return &RequestContext{}
}

// panicRecovery recovers from panics and returns a 500 error.
func (g *Gateway) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("panic", err).Str("stack", string(debug.Stack())).Msg("panic")
				g.writeInternalError(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// auth is the first identity-bearing layer (spec §2's [Auth] step): it
// creates the request's RequestContext, records whether the client
// supplied an Authorization: Bearer header intended for transparent
// forwarding to Anthropic (spec §3's has_anthropic_authorization), and
// validates that same bearer token via g.authenticator — the concrete
// OAuth2/JWKS implementation is an external collaborator out of scope here
// (spec.md non-goals); only its *output*, validated claims, is consumed.
// HasAnthropicAuthorization is set independent of whether validation
// succeeded — proxy mode forwards the raw token regardless.
func (g *Gateway) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := &RequestContext{Headers: r.Header, ClientAPIKey: r.Header.Get(HeaderClientAPIKey)}

		if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
			rc.Auth.HasAnthropicAuthorization = true
			if claims, err := g.authenticator.Authenticate(token); err == nil && claims != nil {
				rc.Auth.Claims = claims
			}
		}

		ctx := context.WithValue(r.Context(), requestContextKey{}, rc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIdentity is spec §2's [ClientIdentification] step: it resolves
// ClientIdentity from the claims auth validated, per the configured dotted
// claim paths. A no-op when auth did not validate a token or no claim path
// is configured (spec §4.6). Runs downstream of auth and upstream of
// rateLimit so the rate-limit key can combine {ip, identity}.
func (g *Gateway) clientIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := requestContextFrom(r.Context())

		if rc.Auth.Claims != nil && g.cfg.Identity.ClaimPath != "" {
			if id, ok := identity.Resolve(rc.Auth.Claims, g.cfg.Identity.ClaimPath, g.cfg.Identity.GroupClaimPath); ok {
				rc.Identity = &id
			}
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimit enforces the per-client request bucket before the request
// reaches routing, keyed on {ip, identity} per spec §4.6 so identified
// clients get their own bucket independent of the IP they connect from.
// Unlike the teacher's version, no Retry-After header is sent — spec §4.6
// requires this to keep response shape consistent with downstream LLM
// providers.
func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ratelimit.ClientIP(r, g.cfg.RateLimit.ClientIP, r.RemoteAddr)
		key := ratelimit.Key(ip, clientIdentityKey(requestContextFrom(r.Context())))

		decision, err := g.rateLimitStore.CheckRequest(r.Context(), key)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("rate limit store failure")
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("Internal server error"))
			return
		}
		if decision == ratelimit.Deny {
			log.Warn().Str("key", key).Msg("rate limit exceeded")
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("Rate limit exceeded"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}

// loggingMiddleware logs request details and duration.
func (g *Gateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, requestID)

		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		log.Info().
			Str("id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// security adds the gateway's baseline response headers. There is no CORS
// layer here — this gateway is consumed by server-side clients, not
// browsers, and the teacher's SSRF host allowlist has no analogue: this
// gateway only ever dials the providers named in its own configuration,
// never a client-supplied target URL.
func (g *Gateway) security(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

// chain composes the middleware stack in the fixed order spec §2 requires:
// [Auth] -> [ClientIdentification] -> [RateLimit].
func (g *Gateway) chain(h http.Handler) http.Handler {
	return g.panicRecovery(g.auth(g.clientIdentity(g.rateLimit(g.loggingMiddleware(g.security(h))))))
}

func (g *Gateway) writeInternalError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte("Internal server error"))
}
