package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/models"
	"github.com/compresr/llm-gateway/internal/protocol"
	"github.com/compresr/llm-gateway/internal/providers"
	"github.com/compresr/llm-gateway/internal/ratelimit"
	"github.com/compresr/llm-gateway/internal/telemetry"
)

// fakeProvider is a minimal providers.Provider used to exercise the
// dispatcher without a real upstream. countTokens, when non-nil, also
// makes it satisfy providers.TokenCounter.
type fakeProvider struct {
	name        string
	modes       []providers.SupportedMode
	response    protocol.UnifiedResponse
	streamEvent []protocol.StreamEvent
	err         error
	countTokens func(req protocol.UnifiedRequest) (int, error)
}

func (f *fakeProvider) Name() string                          { return f.name }
func (f *fakeProvider) SupportedModes() []providers.SupportedMode { return f.modes }
func (f *fakeProvider) ListModels(ctx context.Context) ([]models.ListedModel, error) {
	return nil, nil
}

func (f *fakeProvider) ChatCompletion(ctx context.Context, req protocol.UnifiedRequest, mode providers.ResolvedMode) (protocol.UnifiedResponse, error) {
	if f.err != nil {
		return protocol.UnifiedResponse{}, f.err
	}
	return f.response, nil
}

func (f *fakeProvider) ChatCompletionStream(ctx context.Context, req protocol.UnifiedRequest, mode providers.ResolvedMode) (<-chan protocol.StreamEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan protocol.StreamEvent, len(f.streamEvent))
	for _, ev := range f.streamEvent {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) CountTokens(ctx context.Context, req protocol.UnifiedRequest) (int, error) {
	return f.countTokens(req)
}

func newTestGateway(t *testing.T, provider providers.Provider, catalog models.Map, cfg *config.Config) *Gateway {
	t.Helper()
	registry := providers.NewRegistry()
	registry.Register(provider)

	cat := models.NewCatalog()
	cat.Store(catalog)

	tel, err := telemetry.New()
	if err != nil {
		t.Fatalf("telemetry.New() error = %v", err)
	}

	if cfg == nil {
		cfg = &config.Config{}
	}

	g, err := New(cfg, registry, cat, ratelimit.NewMemoryStore(1000), tel)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func TestHandleChatCompletionsUnary(t *testing.T) {
	provider := &fakeProvider{
		name:  "openai",
		modes: []providers.SupportedMode{providers.RouterWithOwnKey("sk-test")},
		response: protocol.UnifiedResponse{
			ID:           "resp-1",
			Content:      []protocol.ContentBlock{{Type: protocol.ContentText, Text: "hi there"}},
			FinishReason: "stop",
			Usage:        protocol.Usage{InputTokens: 3, OutputTokens: 5},
		},
	}
	catalog := models.Map{"gpt-4o": models.Info{ProviderName: "openai", OwnedBy: "openai"}}
	g := newTestGateway(t, provider, catalog, nil)

	body := `{"model":"openai/gpt-4o","messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	g.handleChatCompletions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if out["model"] != "openai/gpt-4o" {
		t.Errorf("model = %v, want openai/gpt-4o", out["model"])
	}
}

func TestHandleChatCompletionsUnknownProvider(t *testing.T) {
	provider := &fakeProvider{name: "openai"}
	g := newTestGateway(t, provider, models.Map{}, nil)

	body := `{"model":"anthropic/claude-3","messages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	g.handleChatCompletions(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleChatCompletionsInvalidModelFormat(t *testing.T) {
	provider := &fakeProvider{name: "openai"}
	g := newTestGateway(t, provider, models.Map{}, nil)

	body := `{"model":"gpt-4o","messages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	g.handleChatCompletions(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleChatCompletionsWrongContentType(t *testing.T) {
	provider := &fakeProvider{name: "openai"}
	g := newTestGateway(t, provider, models.Map{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()

	g.handleChatCompletions(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (InvalidRequest), body = %s", rec.Code, rec.Body.String())
	}
}

func TestHandleMessagesUnary(t *testing.T) {
	provider := &fakeProvider{
		name:  "anthropic",
		modes: []providers.SupportedMode{providers.RouterWithOwnKey("sk-ant-test")},
		response: protocol.UnifiedResponse{
			ID:           "msg-1",
			Content:      []protocol.ContentBlock{{Type: protocol.ContentText, Text: "hi"}},
			FinishReason: "end_turn",
			Usage:        protocol.Usage{InputTokens: 4, OutputTokens: 6},
		},
	}
	catalog := models.Map{"anthropic/claude-3-5-sonnet": models.Info{ProviderName: "anthropic", OwnedBy: "anthropic"}}
	g := newTestGateway(t, provider, catalog, nil)

	body := `{"model":"anthropic/claude-3-5-sonnet","max_tokens":100,"messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	g.handleMessages(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if out["type"] != "message" {
		t.Errorf("type = %v, want message", out["type"])
	}
}

func TestHandleCountTokensUnsupportedProvider(t *testing.T) {
	provider := &fakeProvider{name: "openai", modes: []providers.SupportedMode{providers.RouterWithOwnKey("sk-test")}}
	catalog := models.Map{"openai/gpt-4o": models.Info{ProviderName: "openai"}}
	g := newTestGateway(t, provider, catalog, nil)

	body := `{"model":"openai/gpt-4o","max_tokens":100,"messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	g.handleCountTokens(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500, body = %s", rec.Code, rec.Body.String())
	}
	var out map[string]any
	json.Unmarshal(rec.Body.Bytes(), &out)
	errObj, _ := out["error"].(map[string]any)
	if errObj["type"] != "internal_error" {
		t.Errorf("error.type = %v, want internal_error", errObj["type"])
	}
}

func TestHandleCountTokensSupportedProvider(t *testing.T) {
	provider := &fakeProvider{
		name:  "anthropic",
		modes: []providers.SupportedMode{providers.RouterWithOwnKey("sk-ant-test")},
		countTokens: func(req protocol.UnifiedRequest) (int, error) {
			return 42, nil
		},
	}
	catalog := models.Map{"anthropic/claude-3-5-sonnet": models.Info{ProviderName: "anthropic"}}
	g := newTestGateway(t, provider, catalog, nil)

	body := `{"model":"anthropic/claude-3-5-sonnet","max_tokens":100,"messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	g.handleCountTokens(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out struct {
		InputTokens int `json:"input_tokens"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if out.InputTokens != 42 {
		t.Errorf("input_tokens = %d, want 42", out.InputTokens)
	}
}

func TestHandleListModelsRendersProviderPrefixedIDs(t *testing.T) {
	provider := &fakeProvider{name: "openai"}
	catalog := models.Map{
		"gpt-4o":              models.Info{ProviderName: "openai", OwnedBy: "openai"},
		"openai/gpt-4o-mini":  models.Info{ProviderName: "openai", OwnedBy: "openai"},
	}
	g := newTestGateway(t, provider, catalog, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	g.handleListModels(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(out.Data) != 2 {
		t.Fatalf("got %d entries, want 2", len(out.Data))
	}
	for _, entry := range out.Data {
		if !strings.Contains(entry.ID, "/") {
			t.Errorf("entry id %q missing provider prefix", entry.ID)
		}
	}
}

func TestHandleChatCompletionsStreaming(t *testing.T) {
	provider := &fakeProvider{
		name:  "openai",
		modes: []providers.SupportedMode{providers.RouterWithOwnKey("sk-test")},
		streamEvent: []protocol.StreamEvent{
			{Kind: protocol.StreamEventDelta, Delta: "hel"},
			{Kind: protocol.StreamEventDelta, Delta: "lo"},
			{Kind: protocol.StreamEventDone, FinishReason: "stop", Usage: &protocol.Usage{InputTokens: 1, OutputTokens: 2}},
		},
	}
	catalog := models.Map{"gpt-4o": models.Info{ProviderName: "openai"}}
	g := newTestGateway(t, provider, catalog, nil)

	body := `{"model":"openai/gpt-4o","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	g.handleChatCompletions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("data: [DONE]")) {
		t.Errorf("stream body missing terminal [DONE], got: %s", rec.Body.String())
	}
}

func TestResolveModelRejectsMismatchedProvider(t *testing.T) {
	provider := &fakeProvider{name: "openai"}
	catalog := models.Map{"gpt-4o": models.Info{ProviderName: "anthropic"}}
	g := newTestGateway(t, provider, catalog, nil)

	_, gerr := g.resolveModel("openai/gpt-4o")
	if gerr == nil {
		t.Fatal("expected ModelNotFound when catalog entry belongs to a different provider")
	}
	if gerr.StatusCode() != http.StatusNotFound {
		t.Errorf("StatusCode() = %d, want 404", gerr.StatusCode())
	}
}

func TestResolveModelAppliesRename(t *testing.T) {
	provider := &fakeProvider{name: "openai"}
	catalog := models.Map{"openai/my-alias": models.Info{ProviderName: "openai"}}
	cfg := &config.Config{Providers: []config.ProviderConfig{
		{Name: "openai", Kind: config.KindOpenAI, Models: []config.ModelDeclaration{{Name: "my-alias", Rename: "gpt-4o-2024-08-06"}}},
	}}
	g := newTestGateway(t, provider, catalog, cfg)

	res, gerr := g.resolveModel("openai/my-alias")
	if gerr != nil {
		t.Fatalf("resolveModel() error = %v", gerr)
	}
	if res.upstreamModel != "gpt-4o-2024-08-06" {
		t.Errorf("upstreamModel = %q, want gpt-4o-2024-08-06", res.upstreamModel)
	}
}
