package providers

import (
	"context"
	"encoding/json"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/gatewayerr"
	"github.com/compresr/llm-gateway/internal/httpclient"
	"github.com/compresr/llm-gateway/internal/models"
	"github.com/compresr/llm-gateway/internal/protocol"
	"github.com/compresr/llm-gateway/internal/protocol/anthropic"
	"github.com/compresr/llm-gateway/internal/tokencount"
)

// BedrockProvider dispatches to Bedrock Runtime's "invoke" API using the
// Anthropic-on-Bedrock wire format, via bedrockruntime.Client rather than a
// hand-rolled SigV4 request: the SDK client signs every call with the
// default AWS credential chain and decodes the service's binary
// event-stream framing for streaming invocations, neither of which a raw
// net/http.Client can do correctly. Bedrock has no public model-listing
// endpoint in this gateway's scope, so its declared models come entirely
// from config.ProviderConfig.Models.
type BedrockProvider struct {
	name       string
	declared   []config.ModelDeclaration
	client     *bedrockruntime.Client
	configured bool
}

// NewBedrockProvider builds a provider from its configuration record,
// loading AWS credentials from the standard credential chain (environment
// variables, shared credentials file, IAM role) for the configured region.
// It returns a non-nil provider even when no credentials are available, so
// a misconfigured Bedrock provider fails at request time with a clear
// error rather than at startup.
func NewBedrockProvider(cfg config.ProviderConfig) *BedrockProvider {
	p := &BedrockProvider{name: cfg.Name, declared: cfg.Models}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Warn().Err(err).Str("region", cfg.AWSRegion).Msg("failed to load AWS config for bedrock provider")
		return p
	}

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	if err != nil || creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		log.Debug().Msg("no AWS credentials available for bedrock provider")
		return p
	}

	p.configured = true
	p.client = bedrockruntime.NewFromConfig(awsCfg)
	return p
}

func (p *BedrockProvider) Name() string { return p.name }

// SupportedModes offers the router-with-own-key shape when AWS credentials
// were found, and no mode otherwise: Bedrock authenticates via AWS SigV4
// using the SDK client's own credential chain, never a client-supplied
// provider key.
func (p *BedrockProvider) SupportedModes() []SupportedMode {
	if !p.configured {
		return nil
	}
	return []SupportedMode{RouterWithOwnKey(bedrockSentinelKey)}
}

// bedrockSentinelKey is the ResolvedMode.KeyValue placeholder for Bedrock,
// which never authenticates with a bearer key; the SDK client signs every
// request itself.
const bedrockSentinelKey = "aws-sigv4"

func (p *BedrockProvider) ListModels(ctx context.Context) ([]models.ListedModel, error) {
	return models.DeclaredListedModels(p.name, p.declared), nil
}

// CountTokens satisfies TokenCounter. Bedrock speaks the Anthropic wire
// format but has no counting endpoint of its own in this gateway's scope,
// so this uses the same tiktoken-go estimate as AnthropicProvider.
func (p *BedrockProvider) CountTokens(ctx context.Context, req protocol.UnifiedRequest) (int, error) {
	return tokencount.Estimate(req.Model, req.System, req.Messages), nil
}

func (p *BedrockProvider) ChatCompletion(ctx context.Context, req protocol.UnifiedRequest, mode ResolvedMode) (protocol.UnifiedResponse, error) {
	if !p.configured {
		return protocol.UnifiedResponse{}, gatewayerr.AuthenticationFailed("bedrock provider has no AWS credentials configured")
	}

	ctx, cancel := context.WithTimeout(ctx, httpclient.UnaryTimeout)
	defer cancel()

	body, err := buildBedrockRequestBody(req)
	if err != nil {
		return protocol.UnifiedResponse{}, err
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     awssdk.String(req.Model),
		ContentType: awssdk.String("application/json"),
		Accept:      awssdk.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return protocol.UnifiedResponse{}, bedrockInvokeError(err)
	}

	var parsed anthropic.Response
	if err := json.Unmarshal(out.Body, &parsed); err != nil {
		return protocol.UnifiedResponse{}, gatewayerr.InternalError("")
	}
	return unifiedResponseFromAnthropic(parsed), nil
}

func (p *BedrockProvider) ChatCompletionStream(ctx context.Context, req protocol.UnifiedRequest, mode ResolvedMode) (<-chan protocol.StreamEvent, error) {
	if !p.configured {
		return nil, gatewayerr.AuthenticationFailed("bedrock provider has no AWS credentials configured")
	}

	body, err := buildBedrockRequestBody(req)
	if err != nil {
		return nil, err
	}

	out, err := p.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     awssdk.String(req.Model),
		ContentType: awssdk.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, bedrockInvokeError(err)
	}

	events := make(chan protocol.StreamEvent, 8)
	go streamBedrockEventStream(out.GetStream(), events)
	return events, nil
}

// bedrockInvokeError wraps an error from the SDK client. Bedrock's own
// error taxonomy (ThrottlingException, ValidationException, etc.) would be
// a natural future refinement; for now every SDK-level failure surfaces as
// a provider API error so the client still gets a gateway-shaped response.
func bedrockInvokeError(err error) error {
	return gatewayerr.ProviderAPIError(0, err.Error())
}

// streamBedrockEventStream reads the bedrockruntime SDK's decoded event
// stream (it handles the service's binary length-prefixed framing itself)
// and re-parses each chunk's JSON payload as an Anthropic-shaped SSE
// event, reusing streamEventFromAnthropicFrame the same way the native
// Anthropic provider does.
func streamBedrockEventStream(stream *bedrockruntime.InvokeModelWithResponseStreamEventStream, events chan<- protocol.StreamEvent) {
	defer stream.Close()
	defer close(events)

	for ev := range stream.Events() {
		chunk, ok := ev.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}

		var typed struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(chunk.Value.Bytes, &typed); err != nil {
			continue
		}
		if parsed, ok := streamEventFromAnthropicFrame(typed.Type, string(chunk.Value.Bytes)); ok {
			events <- parsed
		}
	}

	if err := stream.Err(); err != nil {
		events <- protocol.StreamEvent{Kind: protocol.StreamEventError, Err: gatewayerr.ConnectionError(err.Error())}
	}
}

func buildBedrockRequestBody(req protocol.UnifiedRequest) ([]byte, error) {
	body, err := buildAnthropicRequestBody(req)
	if err != nil {
		return nil, err
	}
	// Bedrock's invoke API embeds the Anthropic request shape directly but
	// replaces "model" with a fixed anthropic_version field and drops
	// "stream", which is implied by the endpoint path instead.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, gatewayerr.InternalError(err.Error())
	}
	delete(raw, "model")
	delete(raw, "stream")
	version, _ := json.Marshal(anthropic.DefaultVersion)
	raw["anthropic_version"] = version
	return json.Marshal(raw)
}
