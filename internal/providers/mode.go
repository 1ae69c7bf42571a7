package providers

import (
	"net/http"

	"github.com/compresr/llm-gateway/internal/gatewayerr"
)

// SupportedMode is one authentication mode a provider is willing to accept.
// A provider advertises a slice of these; ModeKind distinguishes variants,
// with ClientKeyHeader / OwnKey populated as relevant.
type SupportedModeKind int

const (
	ModeAnthropicProxy SupportedModeKind = iota
	ModeRouterWithClientKey
	ModeRouterWithOwnKey
)

type SupportedMode struct {
	Kind SupportedModeKind

	// ClientKeyHeader names the request header to look for, for
	// ModeRouterWithClientKey (e.g. "X-Provider-API-Key").
	ClientKeyHeader string

	// OwnKey is the configured secret, for ModeRouterWithOwnKey.
	OwnKey string
}

func AnthropicProxyMode() SupportedMode {
	return SupportedMode{Kind: ModeAnthropicProxy}
}

func RouterWithClientKey(header string) SupportedMode {
	return SupportedMode{Kind: ModeRouterWithClientKey, ClientKeyHeader: header}
}

func RouterWithOwnKey(key string) SupportedMode {
	return SupportedMode{Kind: ModeRouterWithOwnKey, OwnKey: key}
}

// ResolvedModeKind identifies which negotiated mode a provider call must use.
type ResolvedModeKind int

const (
	ResolvedProxy ResolvedModeKind = iota
	ResolvedClientAPIKey
	ResolvedOwnedAPIKey
)

// ResolvedMode is the outcome of negotiating a SupportedMode list against a
// concrete request. KeyValue is the credential value to place on the
// outbound request; it is never logged.
type ResolvedMode struct {
	Kind     ResolvedModeKind
	KeyValue string
}

// NegotiationInput is the subset of RequestContext that mode negotiation
// needs, kept separate so this package does not depend on internal/gateway.
type NegotiationInput struct {
	HasAnthropicAuthorization bool
	Headers                   http.Header
}

// DetermineMode resolves a ProviderMode for a request against a provider's
// supported modes, following the exact 3-step order: transparent Anthropic
// forwarding takes priority over everything else when the client supplied
// one, then a client-supplied key via a supported header, then the
// provider's own configured key.
func DetermineMode(in NegotiationInput, supported []SupportedMode) (ResolvedMode, error) {
	if in.HasAnthropicAuthorization {
		for _, m := range supported {
			if m.Kind == ModeAnthropicProxy {
				return ResolvedMode{Kind: ResolvedProxy}, nil
			}
		}
		return ResolvedMode{}, gatewayerr.InvalidRequest("Provider does not support Anthropic token forwarding")
	}

	for _, m := range supported {
		if m.Kind != ModeRouterWithClientKey {
			continue
		}
		if value := in.Headers.Get(m.ClientKeyHeader); value != "" {
			return ResolvedMode{Kind: ResolvedClientAPIKey, KeyValue: value}, nil
		}
	}

	for _, m := range supported {
		if m.Kind == ModeRouterWithOwnKey {
			return ResolvedMode{Kind: ResolvedOwnedAPIKey, KeyValue: m.OwnKey}, nil
		}
	}

	return ResolvedMode{}, gatewayerr.AuthenticationFailed("No API key was provided nor configured.")
}
