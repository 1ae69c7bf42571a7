// Package gatewayerr defines the single error type that drives both HTTP
// status codes and the two wire error envelope shapes the gateway speaks.
package gatewayerr

import "fmt"

// Kind enumerates the gateway's error taxonomy (spec §7).
type Kind int

const (
	KindInvalidModelFormat Kind = iota
	KindInvalidRequest
	KindStreamingNotSupported
	KindAuthenticationFailed
	KindInsufficientQuota
	KindProviderNotFound
	KindModelNotFound
	KindRateLimitExceeded
	KindConnectionError
	KindProviderAPIError
	KindInternalError
)

// GatewayError is the single error type returned by every gateway-internal
// operation that can fail in a client-visible way.
type GatewayError struct {
	kind Kind
	msg  string

	// providerStatus is set only for KindProviderAPIError; it is the raw
	// HTTP status code the upstream provider returned.
	providerStatus int

	// internalMessage is set only for KindInternalError. When nil the
	// client-facing message is replaced with a constant, never the
	// underlying cause.
	internalMessage *string
}

func (e *GatewayError) Error() string {
	return e.msg
}

func (e *GatewayError) Kind() Kind {
	return e.kind
}

func InvalidModelFormat(got string) *GatewayError {
	return &GatewayError{kind: KindInvalidModelFormat, msg: fmt.Sprintf("invalid model format: expected 'provider/model', got %q", got)}
}

func InvalidRequest(msg string) *GatewayError {
	return &GatewayError{kind: KindInvalidRequest, msg: fmt.Sprintf("invalid request: %s", msg)}
}

func StreamingNotSupported() *GatewayError {
	return &GatewayError{kind: KindStreamingNotSupported, msg: "streaming is not supported for this model"}
}

func AuthenticationFailed(msg string) *GatewayError {
	return &GatewayError{kind: KindAuthenticationFailed, msg: fmt.Sprintf("authentication failed: %s", msg)}
}

func InsufficientQuota(msg string) *GatewayError {
	return &GatewayError{kind: KindInsufficientQuota, msg: fmt.Sprintf("insufficient quota: %s", msg)}
}

func ProviderNotFound(name string) *GatewayError {
	return &GatewayError{kind: KindProviderNotFound, msg: fmt.Sprintf("provider %q not found", name)}
}

func ModelNotFound(msg string) *GatewayError {
	return &GatewayError{kind: KindModelNotFound, msg: msg}
}

func RateLimitExceeded(msg string) *GatewayError {
	return &GatewayError{kind: KindRateLimitExceeded, msg: fmt.Sprintf("rate limit exceeded: %s", msg)}
}

func ConnectionError(msg string) *GatewayError {
	return &GatewayError{kind: KindConnectionError, msg: fmt.Sprintf("connection error: %s", msg)}
}

func ProviderAPIError(status int, msg string) *GatewayError {
	return &GatewayError{
		kind:           KindProviderAPIError,
		msg:            fmt.Sprintf("provider api error (%d): %s", status, msg),
		providerStatus: status,
	}
}

// InternalError constructs an internal error. msg, when non-empty, came
// from a provider and is safe to show; an empty msg means the failure is
// internal to the gateway and must not leak to the client.
func InternalError(msg string) *GatewayError {
	var inner *string
	if msg != "" {
		inner = &msg
	}
	return &GatewayError{kind: KindInternalError, msg: "internal server error", internalMessage: inner}
}

// StatusCode returns the HTTP status this error maps to.
func (e *GatewayError) StatusCode() int {
	switch e.kind {
	case KindInvalidModelFormat, KindInvalidRequest, KindStreamingNotSupported:
		return 400
	case KindAuthenticationFailed:
		return 401
	case KindInsufficientQuota:
		return 403
	case KindProviderNotFound, KindModelNotFound:
		return 404
	case KindRateLimitExceeded:
		return 429
	case KindConnectionError:
		return 502
	case KindProviderAPIError:
		switch e.providerStatus {
		case 400, 401, 403, 404, 429:
			return e.providerStatus
		default:
			return 502
		}
	case KindInternalError:
		return 500
	default:
		return 500
	}
}

// OpenAIType returns the error.type value for the OpenAI-shaped envelope.
func (e *GatewayError) OpenAIType() string {
	switch e.kind {
	case KindInvalidModelFormat, KindInvalidRequest, KindStreamingNotSupported:
		return "invalid_request_error"
	case KindAuthenticationFailed:
		return "authentication_error"
	case KindInsufficientQuota:
		return "insufficient_quota"
	case KindProviderNotFound, KindModelNotFound:
		return "not_found_error"
	case KindRateLimitExceeded:
		return "rate_limit_error"
	case KindConnectionError, KindProviderAPIError:
		return "api_error"
	case KindInternalError:
		return "internal_error"
	default:
		return "internal_error"
	}
}

// AnthropicType returns the error.type value for the Anthropic-shaped
// envelope. ProviderAPIError carries the provider's raw status through to
// pick timeout_error / overloaded_error where the OpenAI envelope only has
// a single api_error bucket.
func (e *GatewayError) AnthropicType() string {
	switch e.kind {
	case KindInvalidModelFormat, KindInvalidRequest, KindStreamingNotSupported:
		return "invalid_request_error"
	case KindAuthenticationFailed:
		return "authentication_error"
	case KindInsufficientQuota:
		return "billing_error"
	case KindProviderNotFound, KindModelNotFound:
		return "not_found_error"
	case KindRateLimitExceeded:
		return "rate_limit_error"
	case KindConnectionError:
		return "api_error"
	case KindProviderAPIError:
		switch e.providerStatus {
		case 408, 504:
			return "timeout_error"
		case 529:
			return "overloaded_error"
		default:
			return "api_error"
		}
	case KindInternalError:
		return "api_error"
	default:
		return "api_error"
	}
}

// ClientMessage is the message safe to expose to API consumers.
func (e *GatewayError) ClientMessage() string {
	if e.kind == KindInternalError {
		if e.internalMessage != nil {
			return *e.internalMessage
		}
		return "Internal server error"
	}
	return e.msg
}

// AsGatewayError unwraps err into a *GatewayError, wrapping any other error
// kind as an internal error with no client-visible detail.
func AsGatewayError(err error) *GatewayError {
	if err == nil {
		return nil
	}
	if ge, ok := err.(*GatewayError); ok {
		return ge
	}
	return InternalError("")
}
