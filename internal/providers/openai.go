package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/gatewayerr"
	"github.com/compresr/llm-gateway/internal/httpclient"
	"github.com/compresr/llm-gateway/internal/models"
	"github.com/compresr/llm-gateway/internal/protocol"
	"github.com/compresr/llm-gateway/internal/protocol/openai"
)

// OpenAIProvider talks to OpenAI-compatible chat-completions endpoints.
type OpenAIProvider struct {
	name     string
	baseURL  string
	ownKey   string
	declared []config.ModelDeclaration
	client   *http.Client
	sdk      openaisdk.Client
}

// NewOpenAIProvider builds a provider from its configuration record.
func NewOpenAIProvider(cfg config.ProviderConfig) *OpenAIProvider {
	opts := []option.RequestOption{option.WithBaseURL(cfg.BaseURL)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	return &OpenAIProvider{
		name:     cfg.Name,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		ownKey:   cfg.APIKey,
		declared: cfg.Models,
		client:   httpclient.Shared,
		sdk:      openaisdk.NewClient(opts...),
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) SupportedModes() []SupportedMode {
	modes := []SupportedMode{RouterWithClientKey("X-Provider-API-Key")}
	if p.ownKey != "" {
		modes = append(modes, RouterWithOwnKey(p.ownKey))
	}
	return modes
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]models.ListedModel, error) {
	page, err := p.sdk.Models.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("openai: list models: %w", err)
	}
	out := make([]models.ListedModel, 0, len(page.Data)+len(p.declared))
	for _, m := range page.Data {
		out = append(out, models.ListedModel{ID: m.ID, Created: m.Created, OwnedBy: m.OwnedBy})
	}
	out = append(out, models.DeclaredListedModels(p.name, p.declared)...)
	return out, nil
}

func (p *OpenAIProvider) buildRequest(ctx context.Context, body []byte, mode ResolvedMode, stream bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+mode.KeyValue)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

func (p *OpenAIProvider) do(req *http.Request) (*http.Response, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, gatewayerr.ConnectionError(err.Error())
	}
	return resp, nil
}

func readErrorBody(resp *http.Response) string {
	var errBody openai.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil && errBody.Error.Message != "" {
		return errBody.Error.Message
	}
	return resp.Status
}

func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req protocol.UnifiedRequest, mode ResolvedMode) (protocol.UnifiedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, httpclient.UnaryTimeout)
	defer cancel()

	body, err := buildOpenAIRequestBody(req)
	if err != nil {
		return protocol.UnifiedResponse{}, err
	}

	httpReq, err := p.buildRequest(ctx, body, mode, false)
	if err != nil {
		return protocol.UnifiedResponse{}, gatewayerr.InternalError(err.Error())
	}

	resp, err := p.do(httpReq)
	if err != nil {
		return protocol.UnifiedResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return protocol.UnifiedResponse{}, gatewayerr.ProviderAPIError(resp.StatusCode, readErrorBody(resp))
	}

	var out openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return protocol.UnifiedResponse{}, gatewayerr.InternalError("")
	}

	return unifiedResponseFromOpenAI(out), nil
}

func (p *OpenAIProvider) ChatCompletionStream(ctx context.Context, req protocol.UnifiedRequest, mode ResolvedMode) (<-chan protocol.StreamEvent, error) {
	body, err := buildOpenAIRequestBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := p.buildRequest(ctx, body, mode, true)
	if err != nil {
		return nil, gatewayerr.InternalError(err.Error())
	}

	resp, err := p.do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, gatewayerr.ProviderAPIError(resp.StatusCode, readErrorBody(resp))
	}

	events := make(chan protocol.StreamEvent, 8)
	go streamOpenAISSE(resp, events)
	return events, nil
}

func streamOpenAISSE(resp *http.Response, events chan<- protocol.StreamEvent) {
	defer resp.Body.Close()
	defer close(events)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}

		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		for _, ev := range streamEventsFromChunk(chunk) {
			events <- ev
		}
	}

	if err := scanner.Err(); err != nil {
		events <- protocol.StreamEvent{Kind: protocol.StreamEventError, Err: gatewayerr.ConnectionError(err.Error())}
	}
}

func streamEventsFromChunk(chunk openai.ChatCompletionChunk) []protocol.StreamEvent {
	var out []protocol.StreamEvent

	if chunk.Usage != nil {
		out = append(out, protocol.StreamEvent{
			Kind:  protocol.StreamEventUsage,
			Model: chunk.Model,
			Usage: &protocol.Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens},
		})
	}

	for _, choice := range chunk.Choices {
		if choice.Delta.Content != nil {
			if s, ok := choice.Delta.Content.(string); ok && s != "" {
				out = append(out, protocol.StreamEvent{Kind: protocol.StreamEventDelta, Model: chunk.Model, Delta: s})
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			out = append(out, protocol.StreamEvent{
				Kind:      protocol.StreamEventToolDelta,
				Model:     chunk.Model,
				ToolUseID: tc.ID,
				ToolName:  tc.Function.Name,
				ToolDelta: tc.Function.Arguments,
			})
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			out = append(out, protocol.StreamEvent{Kind: protocol.StreamEventDone, Model: chunk.Model, FinishReason: *choice.FinishReason})
		}
	}

	return out
}

func buildOpenAIRequestBody(req protocol.UnifiedRequest) ([]byte, error) {
	var messages []openai.ChatMessage
	if req.System != "" {
		messages = append(messages, openai.ChatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, chatMessageFromUnified(m))
	}

	tools := make([]openai.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tool := openai.Tool{Type: "function"}
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = t.Parameters
		tools = append(tools, tool)
	}

	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		Stop:        req.Stop,
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, gatewayerr.InternalError(err.Error())
	}
	return body, nil
}

func chatMessageFromUnified(m protocol.Message) openai.ChatMessage {
	msg := openai.ChatMessage{Role: string(m.Role)}

	var text strings.Builder
	for _, b := range m.Content {
		switch b.Type {
		case protocol.ContentText:
			text.WriteString(b.Text)
		case protocol.ContentToolUse:
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   b.ToolUseID,
				Type: "function",
				Function: struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				}{Name: b.ToolName, Arguments: string(b.ToolInput)},
			})
		case protocol.ContentToolResult:
			msg.Role = "tool"
			msg.ToolCallID = b.ToolUseID
			msg.Content = string(b.ToolResultContent)
		}
	}
	if text.Len() > 0 {
		msg.Content = text.String()
	}
	return msg
}

func unifiedResponseFromOpenAI(resp openai.ChatCompletionResponse) protocol.UnifiedResponse {
	var content []protocol.ContentBlock
	var finish string

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if s, ok := choice.Message.Content.(string); ok && s != "" {
			content = append(content, protocol.ContentBlock{Type: protocol.ContentText, Text: s})
		}
		for _, tc := range choice.Message.ToolCalls {
			content = append(content, protocol.ContentBlock{
				Type: protocol.ContentToolUse, ToolUseID: tc.ID, ToolName: tc.Function.Name,
				ToolInput: json.RawMessage(tc.Function.Arguments),
			})
		}
		if choice.FinishReason != nil {
			finish = *choice.FinishReason
		}
	}

	return protocol.UnifiedResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      content,
		FinishReason: finish,
		Usage:        protocol.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}
}
