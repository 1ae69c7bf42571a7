package gateway

import (
	"net/http"

	"github.com/compresr/llm-gateway/internal/identity"
)

// Header names the gateway reads or sets on every request, collected here
// to avoid magic strings scattered across middleware.go and dispatch.go.
const (
	HeaderRequestID    = "X-Request-ID"
	HeaderClientAPIKey = "X-Provider-API-Key"
)

// Authentication records what the client presented for authentication
// purposes (spec §3). Claims is nil unless an upstream identity layer
// validated a bearer token; HasAnthropicAuthorization is set whenever the
// client supplied an Authorization header intended for transparent
// forwarding to Anthropic, independent of whether Claims was populated.
type Authentication struct {
	Claims                    []byte
	HasAnthropicAuthorization bool
}

// RequestContext is the per-request value created at ingestion and
// consumed by provider selection; it never outlives one HTTP exchange.
type RequestContext struct {
	Headers      http.Header
	ClientAPIKey string
	Identity     *identity.ClientIdentity
	Auth         Authentication
}
