package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/compresr/llm-gateway/internal/gatewayerr"
	"github.com/compresr/llm-gateway/internal/protocol/anthropic"
	"github.com/compresr/llm-gateway/internal/protocol/openai"
)

// writeOpenAIError renders a GatewayError as the OpenAI-shaped envelope,
// used by every /v1/chat/completions failure path.
func (g *Gateway) writeOpenAIError(w http.ResponseWriter, err *gatewayerr.GatewayError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode())
	w.Write(openai.RenderError(err))
}

// writeAnthropicError renders a GatewayError as the Anthropic-shaped
// envelope, used by every /v1/messages and /v1/messages/count_tokens
// failure path.
func (g *Gateway) writeAnthropicError(w http.ResponseWriter, err *gatewayerr.GatewayError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode())
	w.Write(anthropic.RenderError(err))
}

// writeAnthropicErrorStatus renders a hand-built Anthropic error envelope
// for the one failure case that has no GatewayError constructor of its
// own: a provider resolved successfully but does not implement
// TokenCounter (spec §4.1).
func (g *Gateway) writeAnthropicErrorStatus(w http.ResponseWriter, status int, errType, message string) {
	body := anthropic.ErrorResponse{Type: "error", Error: anthropic.ErrorDetail{Type: errType, Message: message}}
	b, _ := json.Marshal(body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}
