package gatewayerr

import "testing"

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		err  *GatewayError
		want int
	}{
		{InvalidModelFormat("gpt-4"), 400},
		{InvalidRequest("bad"), 400},
		{StreamingNotSupported(), 400},
		{AuthenticationFailed("no key"), 401},
		{InsufficientQuota("out of credits"), 403},
		{ProviderNotFound("foo"), 404},
		{ModelNotFound("bar"), 404},
		{RateLimitExceeded("too fast"), 429},
		{ConnectionError("reset"), 502},
		{InternalError(""), 500},
	}
	for _, c := range cases {
		if got := c.err.StatusCode(); got != c.want {
			t.Errorf("%v: StatusCode() = %d, want %d", c.err.Kind(), got, c.want)
		}
	}
}

func TestProviderAPIErrorStatusMapping(t *testing.T) {
	cases := []struct {
		upstream int
		want     int
	}{
		{400, 400},
		{401, 401},
		{403, 403},
		{404, 404},
		{429, 429},
		{500, 502},
		{503, 502},
		{599, 502},
	}
	for _, c := range cases {
		got := ProviderAPIError(c.upstream, "boom").StatusCode()
		if got != c.want {
			t.Errorf("upstream %d: StatusCode() = %d, want %d", c.upstream, got, c.want)
		}
	}
}

func TestInternalErrorClientMessage(t *testing.T) {
	if msg := InternalError("").ClientMessage(); msg != "Internal server error" {
		t.Errorf("empty internal message should be replaced, got %q", msg)
	}
	if msg := InternalError("upstream said no").ClientMessage(); msg != "upstream said no" {
		t.Errorf("provider-supplied internal message should pass through, got %q", msg)
	}
}

func TestOpenAIAndAnthropicTypeDivergeOnQuota(t *testing.T) {
	err := InsufficientQuota("no credits")
	if err.OpenAIType() != "insufficient_quota" {
		t.Errorf("OpenAIType() = %q", err.OpenAIType())
	}
	if err.AnthropicType() != "billing_error" {
		t.Errorf("AnthropicType() = %q", err.AnthropicType())
	}
}

func TestAnthropicTypeOverloadedAndTimeout(t *testing.T) {
	if got := ProviderAPIError(529, "overloaded").AnthropicType(); got != "overloaded_error" {
		t.Errorf("AnthropicType() = %q, want overloaded_error", got)
	}
	if got := ProviderAPIError(504, "timeout").AnthropicType(); got != "timeout_error" {
		t.Errorf("AnthropicType() = %q, want timeout_error", got)
	}
}

func TestAsGatewayErrorWrapsUnknownErrors(t *testing.T) {
	wrapped := AsGatewayError(errUnrelated{})
	if wrapped.Kind() != KindInternalError {
		t.Errorf("expected unrelated errors to become internal errors, got kind %v", wrapped.Kind())
	}
	if wrapped.ClientMessage() != "Internal server error" {
		t.Errorf("wrapped unrelated error must not leak detail, got %q", wrapped.ClientMessage())
	}
}

type errUnrelated struct{}

func (errUnrelated) Error() string { return "boom" }
