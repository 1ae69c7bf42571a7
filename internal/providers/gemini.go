package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/gatewayerr"
	"github.com/compresr/llm-gateway/internal/models"
	"github.com/compresr/llm-gateway/internal/protocol"
	"github.com/compresr/llm-gateway/internal/protocol/googleschema"
)

// GoogleProvider talks to the Gemini API through the official genai SDK.
type GoogleProvider struct {
	name     string
	ownKey   string
	declared []config.ModelDeclaration
	client   *genai.Client
}

// NewGoogleProvider builds a provider from its configuration record. The
// client is constructed eagerly against the Gemini API backend; BaseURL is
// honored only when the SDK is later pointed at a compatible proxy, which
// this gateway does not require, so it is otherwise ignored.
func NewGoogleProvider(cfg config.ProviderConfig) (*GoogleProvider, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &GoogleProvider{name: cfg.Name, ownKey: cfg.APIKey, declared: cfg.Models, client: client}, nil
}

func (p *GoogleProvider) Name() string { return p.name }

func (p *GoogleProvider) SupportedModes() []SupportedMode {
	modes := []SupportedMode{RouterWithClientKey("X-Provider-API-Key")}
	if p.ownKey != "" {
		modes = append(modes, RouterWithOwnKey(p.ownKey))
	}
	return modes
}

// ListModels walks the SDK's paginated model listing explicitly (genai's
// Models.List returns one page at a time; the page carries its own token
// for the next call rather than handing back an iterator).
func (p *GoogleProvider) ListModels(ctx context.Context) ([]models.ListedModel, error) {
	var out []models.ListedModel

	cfg := &genai.ListModelsConfig{}
	for {
		page, err := p.client.Models.List(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("google: list models: %w", err)
		}
		for _, m := range page.Items {
			out = append(out, models.ListedModel{ID: normalizeGeminiModelID(m.Name), OwnedBy: "google"})
		}
		if page.NextPageToken == "" {
			break
		}
		cfg.PageToken = page.NextPageToken
	}

	out = append(out, models.DeclaredListedModels(p.name, p.declared)...)
	return out, nil
}

// normalizeGeminiModelID strips the "models/" prefix the SDK returns so
// discovered ids match the plain model names the catalog is keyed by.
func normalizeGeminiModelID(name string) string {
	return strings.TrimPrefix(name, "models/")
}

func (p *GoogleProvider) ChatCompletion(ctx context.Context, req protocol.UnifiedRequest, mode ResolvedMode) (protocol.UnifiedResponse, error) {
	contents, err := contentsFromUnified(req.Messages)
	if err != nil {
		return protocol.UnifiedResponse{}, err
	}
	cfg := generationConfigFromUnified(req)

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return protocol.UnifiedResponse{}, gatewayerr.ProviderAPIError(502, err.Error())
	}
	return unifiedResponseFromGemini(req.Model, resp), nil
}

func (p *GoogleProvider) ChatCompletionStream(ctx context.Context, req protocol.UnifiedRequest, mode ResolvedMode) (<-chan protocol.StreamEvent, error) {
	contents, err := contentsFromUnified(req.Messages)
	if err != nil {
		return nil, err
	}
	cfg := generationConfigFromUnified(req)

	events := make(chan protocol.StreamEvent, 8)
	go streamGemini(ctx, p.client, req.Model, contents, cfg, events)
	return events, nil
}

func streamGemini(ctx context.Context, client *genai.Client, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig, events chan<- protocol.StreamEvent) {
	defer close(events)

	for chunk, err := range client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			events <- protocol.StreamEvent{Kind: protocol.StreamEventError, Err: gatewayerr.ProviderAPIError(502, err.Error())}
			return
		}
		if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
			continue
		}
		candidate := chunk.Candidates[0]
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				events <- protocol.StreamEvent{Kind: protocol.StreamEventDelta, Model: model, Delta: part.Text}
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				events <- protocol.StreamEvent{
					Kind: protocol.StreamEventToolDelta, Model: model,
					ToolName: part.FunctionCall.Name, ToolDelta: string(args),
				}
			}
		}
		if candidate.FinishReason != "" {
			if u := usageFromGemini(chunk); u != nil {
				events <- protocol.StreamEvent{Kind: protocol.StreamEventUsage, Model: model, Usage: u}
			}
			events <- protocol.StreamEvent{Kind: protocol.StreamEventDone, Model: model, FinishReason: string(candidate.FinishReason)}
		}
	}
}

func contentsFromUnified(messages []protocol.Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if m.Role == protocol.RoleAssistant {
			role = genai.RoleModel
		}

		parts := make([]*genai.Part, 0, len(m.Content))
		for _, b := range m.Content {
			switch b.Type {
			case protocol.ContentToolUse:
				args := map[string]any{}
				if len(b.ToolInput) > 0 {
					if err := json.Unmarshal(b.ToolInput, &args); err != nil {
						return nil, gatewayerr.InvalidRequest("tool_input is not a JSON object: " + err.Error())
					}
				}
				parts = append(parts, genai.NewPartFromFunctionCall(b.ToolName, args))
			case protocol.ContentToolResult:
				resp := map[string]any{}
				if len(b.ToolResultContent) > 0 {
					if err := json.Unmarshal(b.ToolResultContent, &resp); err != nil {
						resp["output"] = string(b.ToolResultContent)
					}
				}
				parts = append(parts, genai.NewPartFromFunctionResponse(b.ToolName, resp))
			default:
				if b.Text != "" {
					parts = append(parts, genai.NewPartFromText(b.Text))
				}
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, nil
}

func generationConfigFromUnified(req protocol.UnifiedRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if req.TopP != nil {
		t := float32(*req.TopP)
		cfg.TopP = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Stop) > 0 {
		cfg.StopSequences = req.Stop
	}

	if len(req.Tools) > 0 {
		cfg.Tools = toolsFromUnified(req.Tools)
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
		}
	}

	return cfg
}

// toolsFromUnified converts tool definitions, stripping schema keys Gemini's
// function-declaration parser rejects (googleschema.StripUnsupported).
func toolsFromUnified(tools []protocol.ToolDefinition) []*genai.Tool {
	out := make([]*genai.Tool, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}

		if len(t.Parameters) > 0 {
			var decoded any
			if err := json.Unmarshal(t.Parameters, &decoded); err == nil {
				stripped := googleschema.StripUnsupported(decoded)
				if schema, ok := stripped.(map[string]any); ok {
					decl.ParametersJsonSchema = schema
				}
			}
		}

		out = append(out, &genai.Tool{FunctionDeclarations: []*genai.FunctionDeclaration{decl}})
	}
	return out
}

func unifiedResponseFromGemini(model string, resp *genai.GenerateContentResponse) protocol.UnifiedResponse {
	out := protocol.UnifiedResponse{Model: model}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	candidate := resp.Candidates[0]

	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			out.Content = append(out.Content, protocol.ContentBlock{Type: protocol.ContentText, Text: part.Text})
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			out.Content = append(out.Content, protocol.ContentBlock{
				Type: protocol.ContentToolUse, ToolName: part.FunctionCall.Name, ToolUseID: part.FunctionCall.ID,
				ToolInput: json.RawMessage(args),
			})
		}
	}

	out.FinishReason = string(candidate.FinishReason)
	if u := usageFromGemini(resp); u != nil {
		out.Usage = *u
	}
	return out
}

func usageFromGemini(resp *genai.GenerateContentResponse) *protocol.Usage {
	if resp.UsageMetadata == nil {
		return nil
	}
	return &protocol.Usage{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}
