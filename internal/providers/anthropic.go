package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/gatewayerr"
	"github.com/compresr/llm-gateway/internal/httpclient"
	"github.com/compresr/llm-gateway/internal/models"
	"github.com/compresr/llm-gateway/internal/protocol"
	"github.com/compresr/llm-gateway/internal/protocol/anthropic"
	"github.com/compresr/llm-gateway/internal/tokencount"
)

// AnthropicProvider talks to the Anthropic messages API. It is the only
// provider kind that can additionally run in transparent proxy mode,
// handled separately by the anthropicproxy package.
type AnthropicProvider struct {
	name           string
	baseURL        string
	ownKey         string
	anthropicProxy bool
	declared       []config.ModelDeclaration
	client         *http.Client
	sdk            anthropicsdk.Client
}

// NewAnthropicProvider builds a provider from its configuration record.
func NewAnthropicProvider(cfg config.ProviderConfig) *AnthropicProvider {
	opts := []option.RequestOption{option.WithBaseURL(cfg.BaseURL)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	return &AnthropicProvider{
		name:           cfg.Name,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		ownKey:         cfg.APIKey,
		anthropicProxy: cfg.AnthropicProxy,
		declared:       cfg.Models,
		client:         httpclient.Shared,
		sdk:            anthropicsdk.NewClient(opts...),
	}
}

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) SupportedModes() []SupportedMode {
	var out []SupportedMode
	if p.anthropicProxy {
		out = append(out, AnthropicProxyMode())
	}
	out = append(out, RouterWithClientKey("X-Provider-API-Key"))
	if p.ownKey != "" {
		out = append(out, RouterWithOwnKey(p.ownKey))
	}
	return out
}

func (p *AnthropicProvider) ListModels(ctx context.Context) ([]models.ListedModel, error) {
	page, err := p.sdk.Models.List(ctx, anthropicsdk.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("anthropic: list models: %w", err)
	}
	out := make([]models.ListedModel, 0, len(page.Data)+len(p.declared))
	for _, m := range page.Data {
		out = append(out, models.ListedModel{ID: m.ID, Created: m.CreatedAt.Unix(), OwnedBy: "anthropic"})
	}
	out = append(out, models.DeclaredListedModels(p.name, p.declared)...)
	return out, nil
}

// CountTokens satisfies TokenCounter. Anthropic has no dedicated counting
// endpoint wired here, so this returns the tiktoken-go estimate rather
// than a provider round trip.
func (p *AnthropicProvider) CountTokens(ctx context.Context, req protocol.UnifiedRequest) (int, error) {
	return tokencount.Estimate(req.Model, req.System, req.Messages), nil
}

func (p *AnthropicProvider) buildRequest(ctx context.Context, body []byte, mode ResolvedMode) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropic.DefaultVersion)
	req.Header.Set("x-api-key", mode.KeyValue)
	return req, nil
}

func readAnthropicErrorBody(resp *http.Response) string {
	var errBody anthropic.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil && errBody.Error.Message != "" {
		return errBody.Error.Message
	}
	return resp.Status
}

func (p *AnthropicProvider) ChatCompletion(ctx context.Context, req protocol.UnifiedRequest, mode ResolvedMode) (protocol.UnifiedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, httpclient.UnaryTimeout)
	defer cancel()

	body, err := buildAnthropicRequestBody(req)
	if err != nil {
		return protocol.UnifiedResponse{}, err
	}

	httpReq, err := p.buildRequest(ctx, body, mode)
	if err != nil {
		return protocol.UnifiedResponse{}, gatewayerr.InternalError(err.Error())
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return protocol.UnifiedResponse{}, gatewayerr.ConnectionError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return protocol.UnifiedResponse{}, gatewayerr.ProviderAPIError(resp.StatusCode, readAnthropicErrorBody(resp))
	}

	var out anthropic.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return protocol.UnifiedResponse{}, gatewayerr.InternalError("")
	}

	return unifiedResponseFromAnthropic(out), nil
}

func (p *AnthropicProvider) ChatCompletionStream(ctx context.Context, req protocol.UnifiedRequest, mode ResolvedMode) (<-chan protocol.StreamEvent, error) {
	body, err := buildAnthropicRequestBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := p.buildRequest(ctx, body, mode)
	if err != nil {
		return nil, gatewayerr.InternalError(err.Error())
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, gatewayerr.ConnectionError(err.Error())
	}

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, gatewayerr.ProviderAPIError(resp.StatusCode, readAnthropicErrorBody(resp))
	}

	events := make(chan protocol.StreamEvent, 8)
	go streamAnthropicSSE(resp, events)
	return events, nil
}

func streamAnthropicSSE(resp *http.Response, events chan<- protocol.StreamEvent) {
	defer resp.Body.Close()
	defer close(events)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if ev, ok := streamEventFromAnthropicFrame(eventName, data); ok {
				events <- ev
			}
		}
	}

	if err := scanner.Err(); err != nil {
		events <- protocol.StreamEvent{Kind: protocol.StreamEventError, Err: gatewayerr.ConnectionError(err.Error())}
	}
}

func streamEventFromAnthropicFrame(eventName, data string) (protocol.StreamEvent, bool) {
	switch eventName {
	case "content_block_delta":
		var payload struct {
			Delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return protocol.StreamEvent{}, false
		}
		if payload.Delta.Type == "input_json_delta" {
			return protocol.StreamEvent{Kind: protocol.StreamEventToolDelta, ToolDelta: payload.Delta.PartialJSON}, true
		}
		return protocol.StreamEvent{Kind: protocol.StreamEventDelta, Delta: payload.Delta.Text}, true
	case "message_delta":
		var payload struct {
			Delta struct {
				StopReason *string `json:"stop_reason"`
			} `json:"delta"`
			Usage anthropic.Usage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return protocol.StreamEvent{}, false
		}
		if payload.Delta.StopReason != nil {
			return protocol.StreamEvent{
				Kind:         protocol.StreamEventDone,
				FinishReason: *payload.Delta.StopReason,
				Usage:        &protocol.Usage{InputTokens: payload.Usage.InputTokens, OutputTokens: payload.Usage.OutputTokens},
			}, true
		}
		return protocol.StreamEvent{}, false
	case "error":
		var payload anthropic.ErrorResponse
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return protocol.StreamEvent{}, false
		}
		return protocol.StreamEvent{Kind: protocol.StreamEventError, Err: fmt.Errorf("%s", payload.Error.Message)}, true
	default:
		return protocol.StreamEvent{}, false
	}
}

func buildAnthropicRequestBody(req protocol.UnifiedRequest) ([]byte, error) {
	messages := make([]anthropic.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks := make([]anthropic.ContentBlock, 0, len(m.Content))
		for _, b := range m.Content {
			blocks = append(blocks, contentBlockToAnthropic(b))
		}
		content, err := json.Marshal(blocks)
		if err != nil {
			return nil, gatewayerr.InternalError(err.Error())
		}
		messages = append(messages, anthropic.Message{Role: string(m.Role), Content: content})
	}

	tools := make([]anthropic.Tool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, anthropic.Tool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	var system json.RawMessage
	if req.System != "" {
		system, _ = json.Marshal(req.System)
	}

	out := anthropic.Request{
		Model:       req.Model,
		System:      system,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		StopSeqs:    req.Stop,
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, gatewayerr.InternalError(err.Error())
	}
	return body, nil
}

func contentBlockToAnthropic(b protocol.ContentBlock) anthropic.ContentBlock {
	switch b.Type {
	case protocol.ContentToolUse:
		return anthropic.ContentBlock{Type: "tool_use", ID: b.ToolUseID, Name: b.ToolName, Input: b.ToolInput}
	case protocol.ContentToolResult:
		return anthropic.ContentBlock{Type: "tool_result", ToolUseID: b.ToolUseID, Content: b.ToolResultContent, IsError: b.ToolResultIsError}
	case protocol.ContentImage:
		return anthropic.ContentBlock{Type: "image", Source: b.ImageSource}
	case protocol.ContentThinking:
		return anthropic.ContentBlock{Type: "thinking", Thinking: b.Text}
	default:
		return anthropic.ContentBlock{Type: "text", Text: b.Text}
	}
}

func unifiedResponseFromAnthropic(resp anthropic.Response) protocol.UnifiedResponse {
	content := make([]protocol.ContentBlock, 0, len(resp.Content))
	for _, b := range resp.Content {
		switch b.Type {
		case "tool_use":
			content = append(content, protocol.ContentBlock{Type: protocol.ContentToolUse, ToolUseID: b.ID, ToolName: b.Name, ToolInput: b.Input})
		default:
			content = append(content, protocol.ContentBlock{Type: protocol.ContentText, Text: b.Text})
		}
	}

	var finish string
	if resp.StopReason != nil {
		finish = *resp.StopReason
	}

	return protocol.UnifiedResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      content,
		FinishReason: finish,
		Usage:        protocol.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}
}
