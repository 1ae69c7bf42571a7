package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/llm-gateway/internal/gatewayerr"
	"github.com/compresr/llm-gateway/internal/protocol"
)

// Envelope is the routing-relevant subset of an inbound request, read with
// gjson so the dispatcher can resolve a provider before committing to a
// full typed decode.
type Envelope struct {
	PublicModel string
	Stream      bool
}

// ReadEnvelope extracts routing fields from a raw request body without a
// full unmarshal, so the dispatcher can resolve the provider before the
// full Parse.
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

// RewriteModel patches the "model" field of a raw request body in place,
// substituting the upstream model name while leaving every other field
// (including ones the gateway does not model) untouched. The dispatcher
// does not call it; every request is translated through Parse.
func RewriteModel(body []byte, upstreamModel string) ([]byte, error) {
	out, err := sjson.SetBytes(body, "model", upstreamModel)
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite model field: %w", err)
	}
	return out, nil
}

// Parse decodes a full ChatCompletionRequest and translates it into a
// UnifiedRequest, for dispatch to a provider whose native dialect differs
// from OpenAI's.
func Parse(body []byte, provider, model, publicModel string) (protocol.UnifiedRequest, error) {
	var req ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return protocol.UnifiedRequest{}, gatewayerr.InvalidRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}

	var system string
	var messages []protocol.Message

	for _, m := range req.Messages {
		if m.Role == "system" {
			if s, ok := m.Content.(string); ok {
				if system != "" {
					system += "\n"
				}
				system += s
			}
			continue
		}

		blocks, err := messageContentToBlocks(m)
		if err != nil {
			return protocol.UnifiedRequest{}, err
		}
		messages = append(messages, protocol.Message{Role: protocol.Role(m.Role), Content: blocks})
	}

	tools := make([]protocol.ToolDefinition, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, protocol.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}

	return protocol.UnifiedRequest{
		Provider:      provider,
		Model:         model,
		OriginalModel: publicModel,
		System:        system,
		Messages:      messages,
		Tools:         tools,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		Stream:        req.Stream,
		Stop:          req.Stop,
	}, nil
}

func messageContentToBlocks(m ChatMessage) ([]protocol.ContentBlock, error) {
	if m.Role == "tool" {
		return []protocol.ContentBlock{{
			Type:              protocol.ContentToolResult,
			ToolUseID:         m.ToolCallID,
			ToolResultContent: stringContentToRaw(m.Content),
		}}, nil
	}

	var blocks []protocol.ContentBlock
	switch content := m.Content.(type) {
	case string:
		if content != "" {
			blocks = append(blocks, protocol.ContentBlock{Type: protocol.ContentText, Text: content})
		}
	case []any:
		for _, item := range content {
			part, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if part["type"] == "text" {
				if text, ok := part["text"].(string); ok {
					blocks = append(blocks, protocol.ContentBlock{Type: protocol.ContentText, Text: text})
				}
			}
		}
	}

	for _, tc := range m.ToolCalls {
		blocks = append(blocks, protocol.ContentBlock{
			Type:      protocol.ContentToolUse,
			ToolUseID: tc.ID,
			ToolName:  tc.Function.Name,
			ToolInput: json.RawMessage(tc.Function.Arguments),
		})
	}

	return blocks, nil
}

func stringContentToRaw(content any) json.RawMessage {
	s, ok := content.(string)
	if !ok {
		b, _ := json.Marshal(content)
		return b
	}
	b, _ := json.Marshal(s)
	return b
}

// RenderResponse translates a UnifiedResponse into an OpenAI unary
// chat.completion body.
func RenderResponse(resp protocol.UnifiedResponse, publicModel string, id string, created int64) ([]byte, error) {
	msg := ChatMessage{Role: "assistant"}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case protocol.ContentText:
			text.WriteString(block.Text)
		case protocol.ContentToolUse:
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:   block.ToolUseID,
				Type: "function",
				Function: struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				}{Name: block.ToolName, Arguments: string(block.ToolInput)},
			})
		}
	}
	if text.Len() > 0 {
		msg.Content = text.String()
	}

	finish := resp.FinishReason
	out := ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   publicModel,
		Choices: []Choice{{Index: 0, Message: msg, FinishReason: &finish}},
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.Total(),
		},
	}

	return json.Marshal(out)
}

// RenderStreamChunk translates a single StreamEvent into an SSE "data:"
// payload for the OpenAI streaming dialect, plus whether this was the
// terminal event (in which case the caller must also emit "data: [DONE]").
func RenderStreamChunk(ev protocol.StreamEvent, publicModel, id string, created int64) ([]byte, bool, error) {
	choice := Choice{Index: 0}

	switch ev.Kind {
	case protocol.StreamEventDelta:
		choice.Delta = ChatMessage{Content: ev.Delta}
	case protocol.StreamEventToolDelta:
		choice.Delta = ChatMessage{ToolCalls: []ToolCall{{
			ID:   ev.ToolUseID,
			Type: "function",
			Function: struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			}{Name: ev.ToolName, Arguments: ev.ToolDelta},
		}}}
	case protocol.StreamEventDone:
		finish := ev.FinishReason
		choice.FinishReason = &finish
	case protocol.StreamEventUsage:
		// usage-only events carry no delta; fall through to emit a chunk
		// with just the usage block populated below.
	case protocol.StreamEventError:
		return nil, true, ev.Err
	}

	chunk := ChatCompletionChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   publicModel,
		Choices: []Choice{choice},
	}
	if ev.Usage != nil {
		chunk.Usage = &Usage{
			PromptTokens:     ev.Usage.InputTokens,
			CompletionTokens: ev.Usage.OutputTokens,
			TotalTokens:      ev.Usage.Total(),
		}
	}

	b, err := json.Marshal(chunk)
	if err != nil {
		return nil, false, err
	}
	return b, ev.Kind == protocol.StreamEventDone, nil
}

// RenderError builds the OpenAI-shaped error envelope body.
func RenderError(err *gatewayerr.GatewayError) []byte {
	body := ErrorResponse{Error: ErrorDetails{
		Message: err.ClientMessage(),
		Type:    err.OpenAIType(),
		Code:    err.StatusCode(),
	}}
	b, _ := json.Marshal(body)
	return b
}

// RenderModelList renders the current catalog as GET /v1/models' body.
func RenderModelList(entries []ModelListEntry) []byte {
	b, _ := json.Marshal(ModelList{Object: "list", Data: entries})
	return b
}
