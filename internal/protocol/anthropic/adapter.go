package anthropic

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/llm-gateway/internal/gatewayerr"
	"github.com/compresr/llm-gateway/internal/protocol"
)

// DefaultVersion is used for the anthropic-version header when proxying
// and the client did not supply one.
const DefaultVersion = "2023-06-01"

// Envelope is the routing-relevant subset of an inbound request.
type Envelope struct {
	PublicModel string
	Stream      bool
}

// ReadEnvelope extracts routing fields without a full unmarshal, so the
// dispatcher can resolve the provider before the full Parse.
func ReadEnvelope(body []byte) (Envelope, error) {
	model := gjson.GetBytes(body, "model")
	if !model.Exists() || model.String() == "" {
		return Envelope{}, gatewayerr.InvalidRequest("missing required field 'model'")
	}
	return Envelope{
		PublicModel: model.String(),
		Stream:      gjson.GetBytes(body, "stream").Bool(),
	}, nil
}

// RewriteModel patches the "model" field of a raw request body in place.
func RewriteModel(body []byte, upstreamModel string) ([]byte, error) {
	out, err := sjson.SetBytes(body, "model", upstreamModel)
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite model field: %w", err)
	}
	return out, nil
}

// Parse decodes a full Request and translates it into a UnifiedRequest,
// for dispatch to a provider whose native dialect is not Anthropic's.
// Unknown fields captured on Request/ContentBlock are not carried into the
// UnifiedRequest: cross-dialect translation is necessarily lossy for
// fields the target provider has no equivalent of.
func Parse(body []byte, provider, model, publicModel string) (protocol.UnifiedRequest, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return protocol.UnifiedRequest{}, gatewayerr.InvalidRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}

	messages := make([]protocol.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks, err := m.Blocks()
		if err != nil {
			return protocol.UnifiedRequest{}, gatewayerr.InvalidRequest(fmt.Sprintf("invalid message content: %v", err))
		}
		out := make([]protocol.ContentBlock, 0, len(blocks))
		for _, b := range blocks {
			out = append(out, toUnifiedBlock(b))
		}
		messages = append(messages, protocol.Message{Role: protocol.Role(m.Role), Content: out})
	}

	tools := make([]protocol.ToolDefinition, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, protocol.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}

	return protocol.UnifiedRequest{
		Provider:      provider,
		Model:         model,
		OriginalModel: publicModel,
		System:        req.SystemText(),
		Messages:      messages,
		Tools:         tools,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		Stream:        req.Stream,
		Stop:          req.StopSeqs,
	}, nil
}

func toUnifiedBlock(b ContentBlock) protocol.ContentBlock {
	switch b.Type {
	case "tool_use":
		return protocol.ContentBlock{Type: protocol.ContentToolUse, ToolUseID: b.ID, ToolName: b.Name, ToolInput: b.Input}
	case "tool_result":
		return protocol.ContentBlock{Type: protocol.ContentToolResult, ToolUseID: b.ToolUseID, ToolResultContent: b.Content, ToolResultIsError: b.IsError}
	case "image":
		return protocol.ContentBlock{Type: protocol.ContentImage, ImageSource: b.Source}
	case "thinking":
		return protocol.ContentBlock{Type: protocol.ContentThinking, Text: b.Thinking}
	default:
		return protocol.ContentBlock{Type: protocol.ContentText, Text: b.Text}
	}
}

func fromUnifiedBlock(b protocol.ContentBlock) ContentBlock {
	switch b.Type {
	case protocol.ContentToolUse:
		return ContentBlock{Type: "tool_use", ID: b.ToolUseID, Name: b.ToolName, Input: b.ToolInput}
	case protocol.ContentToolResult:
		return ContentBlock{Type: "tool_result", ToolUseID: b.ToolUseID, Content: b.ToolResultContent, IsError: b.ToolResultIsError}
	case protocol.ContentImage:
		return ContentBlock{Type: "image", Source: b.ImageSource}
	case protocol.ContentThinking:
		return ContentBlock{Type: "thinking", Thinking: b.Text}
	default:
		return ContentBlock{Type: "text", Text: b.Text}
	}
}

// RenderResponse translates a UnifiedResponse into an Anthropic unary
// /v1/messages response body.
func RenderResponse(resp protocol.UnifiedResponse, publicModel, id string) ([]byte, error) {
	blocks := make([]ContentBlock, 0, len(resp.Content))
	for _, b := range resp.Content {
		blocks = append(blocks, fromUnifiedBlock(b))
	}

	stopReason := mapFinishReason(resp.FinishReason)

	out := Response{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Model:      publicModel,
		Content:    blocks,
		StopReason: &stopReason,
		Usage:      Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}

	return json.Marshal(out)
}

func mapFinishReason(r string) string {
	switch r {
	case "stop", "end_turn":
		return "end_turn"
	case "length", "max_tokens":
		return "max_tokens"
	case "tool_calls", "tool_use":
		return "tool_use"
	default:
		if r == "" {
			return "end_turn"
		}
		return r
	}
}

// StreamFrame is the event name and payload for one SSE frame of the Anthropic
// event sequence: message_start (content_block_start content_block_delta*
// content_block_stop)+ message_delta* message_stop, optionally
// interleaved with ping/error.
type StreamFrame struct {
	Event string
	Data  []byte
}

// RenderError builds the Anthropic-shaped error envelope body.
func RenderError(err *gatewayerr.GatewayError) []byte {
	body := ErrorResponse{Type: "error", Error: ErrorDetail{
		Type:    err.AnthropicType(),
		Message: err.ClientMessage(),
	}}
	b, _ := json.Marshal(body)
	return b
}
