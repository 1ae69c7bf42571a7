package providers

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/protocol"
	"github.com/compresr/llm-gateway/internal/protocol/openai"
)

func TestNewOpenAIProviderTrimsTrailingSlash(t *testing.T) {
	p := NewOpenAIProvider(config.ProviderConfig{Name: "openai", BaseURL: "https://api.openai.com/", APIKey: "sk-test"})
	if p.baseURL != "https://api.openai.com" {
		t.Errorf("baseURL = %q, want no trailing slash", p.baseURL)
	}
	if p.Name() != "openai" {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestOpenAISupportedModesIncludesOwnKeyOnlyWhenConfigured(t *testing.T) {
	withKey := NewOpenAIProvider(config.ProviderConfig{Name: "a", BaseURL: "https://x", APIKey: "sk-test"})
	if len(withKey.SupportedModes()) != 2 {
		t.Errorf("expected 2 supported modes with an API key, got %d", len(withKey.SupportedModes()))
	}

	withoutKey := NewOpenAIProvider(config.ProviderConfig{Name: "a", BaseURL: "https://x"})
	if len(withoutKey.SupportedModes()) != 1 {
		t.Errorf("expected 1 supported mode without an API key, got %d", len(withoutKey.SupportedModes()))
	}
}

func TestBuildOpenAIRequestBodyIncludesSystemMessage(t *testing.T) {
	req := protocol.UnifiedRequest{
		Model:  "gpt-4o",
		System: "be terse",
		Messages: []protocol.Message{
			{Role: protocol.RoleUser, Content: []protocol.ContentBlock{{Type: protocol.ContentText, Text: "hi"}}},
		},
	}

	body, err := buildOpenAIRequestBody(req)
	if err != nil {
		t.Fatalf("buildOpenAIRequestBody() error = %v", err)
	}

	var out openai.ChatCompletionRequest
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(out.Messages) != 2 || out.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v, want system message first", out.Messages)
	}
}

func TestChatMessageFromUnifiedMapsToolResultToToolRole(t *testing.T) {
	m := protocol.Message{
		Role: protocol.RoleUser,
		Content: []protocol.ContentBlock{
			{Type: protocol.ContentToolResult, ToolUseID: "call_1", ToolResultContent: json.RawMessage(`"42"`)},
		},
	}

	msg := chatMessageFromUnified(m)

	if msg.Role != "tool" || msg.ToolCallID != "call_1" {
		t.Errorf("got role=%q toolCallID=%q, want tool/call_1", msg.Role, msg.ToolCallID)
	}
}

func TestChatMessageFromUnifiedMapsToolUseToToolCalls(t *testing.T) {
	m := protocol.Message{
		Role: protocol.RoleAssistant,
		Content: []protocol.ContentBlock{
			{Type: protocol.ContentToolUse, ToolUseID: "call_1", ToolName: "get_weather", ToolInput: json.RawMessage(`{"city":"NYC"}`)},
		},
	}

	msg := chatMessageFromUnified(m)

	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Function.Name != "get_weather" {
		t.Fatalf("ToolCalls = %+v", msg.ToolCalls)
	}
	if !strings.Contains(msg.ToolCalls[0].Function.Arguments, "NYC") {
		t.Errorf("Arguments = %q, want to contain NYC", msg.ToolCalls[0].Function.Arguments)
	}
}

func TestUnifiedResponseFromOpenAIExtractsTextAndUsage(t *testing.T) {
	finish := "stop"
	resp := openai.ChatCompletionResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4o",
		Choices: []openai.Choice{
			{Message: openai.ChatMessage{Content: "hello"}, FinishReason: &finish},
		},
		Usage: openai.Usage{PromptTokens: 10, CompletionTokens: 5},
	}

	out := unifiedResponseFromOpenAI(resp)

	if len(out.Content) != 1 || out.Content[0].Text != "hello" {
		t.Fatalf("Content = %+v", out.Content)
	}
	if out.FinishReason != "stop" {
		t.Errorf("FinishReason = %q", out.FinishReason)
	}
	if out.Usage.InputTokens != 10 || out.Usage.OutputTokens != 5 {
		t.Errorf("Usage = %+v", out.Usage)
	}
}
