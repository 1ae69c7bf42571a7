// The provider dispatcher (spec §4.2): parse provider/model, look the pair
// up against the live catalog, negotiate a ProviderMode, invoke the
// provider, and render the result back in the dialect the client called.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/gatewayerr"
	"github.com/compresr/llm-gateway/internal/protocol"
	"github.com/compresr/llm-gateway/internal/protocol/anthropic"
	"github.com/compresr/llm-gateway/internal/protocol/openai"
	"github.com/compresr/llm-gateway/internal/providers"
	"github.com/compresr/llm-gateway/internal/ratelimit"
)

// maxBodyBytes caps request bodies at 32 MiB (spec §4.1/§5/§8). readBody
// reports an oversized body as InvalidRequest (400); no 413 status is sent.
const maxBodyBytes = 32 << 20

// resolution is the outcome of resolving a public "provider/model" id
// against the registry and catalog, plus the provider's own config record
// (needed for rename substitution and rate-limit bindings).
type resolution struct {
	provider      providers.Provider
	providerCfg   config.ProviderConfig
	modelName     string
	upstreamModel string
}

// resolveModel implements the §4.1 "Model parsing" rule: split on the
// first '/', look the provider up in the registry, and confirm the model
// segment is claimed by that same provider in the catalog — either as a
// bare discovered id or as the "provider/model" form explicit
// declarations are stored under.
func (g *Gateway) resolveModel(publicModel string) (resolution, *gatewayerr.GatewayError) {
	idx := strings.IndexByte(publicModel, '/')
	if idx < 0 {
		return resolution{}, gatewayerr.InvalidModelFormat(publicModel)
	}
	providerName, modelName := publicModel[:idx], publicModel[idx+1:]

	provider, ok := g.registry.Get(providerName)
	if !ok {
		return resolution{}, gatewayerr.ProviderNotFound(providerName)
	}

	catalog := g.catalog.Load()
	info, claimed := catalog[publicModel]
	if !claimed || info.ProviderName != providerName {
		info, claimed = catalog[modelName]
	}
	if !claimed || info.ProviderName != providerName {
		return resolution{}, gatewayerr.ModelNotFound(fmt.Sprintf("model %q not found for provider %q", modelName, providerName))
	}

	pc := g.providerConfigs[providerName]
	upstream := modelName
	for _, decl := range pc.Models {
		if decl.Name == modelName && decl.Rename != "" {
			upstream = decl.Rename
			break
		}
	}

	return resolution{provider: provider, providerCfg: pc, modelName: modelName, upstreamModel: upstream}, nil
}

// readBody enforces the content-type gate and the 32 MiB body cap,
// returning the raw bytes for envelope extraction and parsing.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, *gatewayerr.GatewayError) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		return nil, gatewayerr.InvalidRequest(fmt.Sprintf("unsupported content-type %q, expected application/json", ct))
	}

	limited := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, gatewayerr.InvalidRequest("request body exceeds the 32 MiB limit")
	}
	return body, nil
}

func newChatCompletionID() string {
	return "chatcmpl-" + uuid.New().String()
}

func newAnthropicMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// tryAnthropicProxy short-circuits the dispatcher into the transparent
// Anthropic reverse proxy (spec §4.2 "Anthropic proxy mode") when mode
// negotiation selected it. rawBody is re-attached to the request since it
// was already drained once for envelope extraction.
func (g *Gateway) tryAnthropicProxy(w http.ResponseWriter, r *http.Request, rawBody []byte, mode providers.ResolvedMode, providerName string) bool {
	if mode.Kind != providers.ResolvedProxy {
		return false
	}
	proxy, ok := g.anthropicProxies[providerName]
	if !ok {
		g.writeInternalError(w)
		return true
	}
	r.Body = io.NopCloser(bytes.NewReader(rawBody))
	proxy.ServeHTTP(w, r)
	return true
}

// recordTokenUsage consults the lazily-constructed TokenRateLimitManager
// after a completed response (spec §4.6: token-based limiting is a
// post-response bookkeeping step, not a pre-request gate). A denial is
// logged for operators to act on; it never unwinds the response already
// sent to the client.
func (g *Gateway) recordTokenUsage(ctx context.Context, res resolution, identity string, total int) {
	if g.tokenManager == nil || total == 0 {
		return
	}
	var limit int
	if res.providerCfg.RateLimit != nil {
		limit = res.providerCfg.RateLimit.InputTokensPerDay
	}
	if binding, ok := res.providerCfg.ModelRateLimit[res.modelName]; ok && binding.InputTokensPerDay > 0 {
		limit = binding.InputTokensPerDay
	}
	if limit <= 0 {
		return
	}
	key := ratelimit.Key(res.providerCfg.Name+"/"+res.modelName, identity)
	decision, err := g.tokenManager.RecordTokens(ctx, key, total, limit)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to record token usage")
		return
	}
	if decision == ratelimit.Deny {
		log.Warn().Str("key", key).Int("limit", limit).Msg("token budget exceeded")
	}
}

func negotiate(rc *RequestContext, supported []providers.SupportedMode) (providers.ResolvedMode, *gatewayerr.GatewayError) {
	mode, err := providers.DetermineMode(providers.NegotiationInput{
		HasAnthropicAuthorization: rc.Auth.HasAnthropicAuthorization,
		Headers:                   rc.Headers,
	}, supported)
	if err != nil {
		return providers.ResolvedMode{}, gatewayerr.AsGatewayError(err)
	}
	return mode, nil
}

// handleChatCompletions implements POST /v1/chat/completions.
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, gerr := readBody(w, r)
	if gerr != nil {
		g.writeOpenAIError(w, gerr)
		return
	}

	envelope, err := openai.ReadEnvelope(body)
	if err != nil {
		g.writeOpenAIError(w, gatewayerr.AsGatewayError(err))
		return
	}

	res, gerr := g.resolveModel(envelope.PublicModel)
	if gerr != nil {
		g.writeOpenAIError(w, gerr)
		return
	}

	rc := requestContextFrom(r.Context())
	mode, gerr := negotiate(rc, res.provider.SupportedModes())
	if gerr != nil {
		g.writeOpenAIError(w, gerr)
		return
	}
	if g.tryAnthropicProxy(w, r, body, mode, res.provider.Name()) {
		return
	}

	req, err := openai.Parse(body, res.provider.Name(), res.upstreamModel, envelope.PublicModel)
	if err != nil {
		g.writeOpenAIError(w, gatewayerr.AsGatewayError(err))
		return
	}

	id := newChatCompletionID()
	created := time.Now().Unix()
	identity := clientIdentityKey(rc)

	if !req.Stream {
		resp, err := g.telemetry.WrapUnary(r.Context(), res.provider.Name(), res.upstreamModel, func(ctx context.Context) (protocol.UnifiedResponse, error) {
			return res.provider.ChatCompletion(ctx, req, mode)
		})
		if err != nil {
			g.writeOpenAIError(w, gatewayerr.AsGatewayError(err))
			return
		}
		g.recordTokenUsage(r.Context(), res, identity, resp.Usage.Total())

		out, err := openai.RenderResponse(resp, envelope.PublicModel, id, created)
		if err != nil {
			g.writeInternalError(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(out)
		return
	}

	stream, err := res.provider.ChatCompletionStream(r.Context(), req, mode)
	if err != nil {
		g.writeOpenAIError(w, gatewayerr.AsGatewayError(err))
		return
	}
	stream = g.telemetry.WrapStream(r.Context(), res.provider.Name(), res.upstreamModel, stream)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	var total protocol.Usage
	for ev := range stream {
		if ev.Usage != nil {
			total = *ev.Usage
		}
		chunk, done, err := openai.RenderStreamChunk(ev, envelope.PublicModel, id, created)
		if err != nil {
			break
		}
		fmt.Fprintf(w, "data: %s\n\n", chunk)
		if flusher != nil {
			flusher.Flush()
		}
		if done {
			io.WriteString(w, "data: [DONE]\n\n")
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
	g.recordTokenUsage(r.Context(), res, identity, total.Total())
}

// handleMessages implements POST /v1/messages.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, gerr := readBody(w, r)
	if gerr != nil {
		g.writeAnthropicError(w, gerr)
		return
	}

	envelope, err := anthropic.ReadEnvelope(body)
	if err != nil {
		g.writeAnthropicError(w, gatewayerr.AsGatewayError(err))
		return
	}

	res, gerr := g.resolveModel(envelope.PublicModel)
	if gerr != nil {
		g.writeAnthropicError(w, gerr)
		return
	}

	rc := requestContextFrom(r.Context())
	mode, gerr := negotiate(rc, res.provider.SupportedModes())
	if gerr != nil {
		g.writeAnthropicError(w, gerr)
		return
	}
	if g.tryAnthropicProxy(w, r, body, mode, res.provider.Name()) {
		return
	}

	req, err := anthropic.Parse(body, res.provider.Name(), res.upstreamModel, envelope.PublicModel)
	if err != nil {
		g.writeAnthropicError(w, gatewayerr.AsGatewayError(err))
		return
	}

	id := newAnthropicMessageID()
	identity := clientIdentityKey(rc)

	if !req.Stream {
		resp, err := g.telemetry.WrapUnary(r.Context(), res.provider.Name(), res.upstreamModel, func(ctx context.Context) (protocol.UnifiedResponse, error) {
			return res.provider.ChatCompletion(ctx, req, mode)
		})
		if err != nil {
			g.writeAnthropicError(w, gatewayerr.AsGatewayError(err))
			return
		}
		g.recordTokenUsage(r.Context(), res, identity, resp.Usage.Total())

		out, err := anthropic.RenderResponse(resp, envelope.PublicModel, id)
		if err != nil {
			g.writeInternalError(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(out)
		return
	}

	stream, err := res.provider.ChatCompletionStream(r.Context(), req, mode)
	if err != nil {
		g.writeAnthropicError(w, gatewayerr.AsGatewayError(err))
		return
	}
	stream = g.telemetry.WrapStream(r.Context(), res.provider.Name(), res.upstreamModel, stream)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	sequencer := anthropic.NewStreamSequencer(id, envelope.PublicModel)
	var total protocol.Usage
	for ev := range stream {
		if ev.Usage != nil {
			total = *ev.Usage
		}
		for _, frame := range sequencer.Next(ev) {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Event, frame.Data)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	g.recordTokenUsage(r.Context(), res, identity, total.Total())
}

// handleCountTokens implements POST /v1/messages/count_tokens, rejecting
// any provider that does not implement providers.TokenCounter.
func (g *Gateway) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	body, gerr := readBody(w, r)
	if gerr != nil {
		g.writeAnthropicError(w, gerr)
		return
	}

	envelope, err := anthropic.ReadEnvelope(body)
	if err != nil {
		g.writeAnthropicError(w, gatewayerr.AsGatewayError(err))
		return
	}

	res, gerr := g.resolveModel(envelope.PublicModel)
	if gerr != nil {
		g.writeAnthropicError(w, gerr)
		return
	}

	counter, ok := res.provider.(providers.TokenCounter)
	if !ok {
		g.writeAnthropicErrorStatus(w, http.StatusInternalServerError, "internal_error",
			fmt.Sprintf("Provider '%s' does not implement token counting", res.provider.Name()))
		return
	}

	req, err := anthropic.Parse(body, res.provider.Name(), res.upstreamModel, envelope.PublicModel)
	if err != nil {
		g.writeAnthropicError(w, gatewayerr.AsGatewayError(err))
		return
	}

	count, err := counter.CountTokens(r.Context(), req)
	if err != nil {
		g.writeAnthropicError(w, gatewayerr.AsGatewayError(err))
		return
	}

	out, _ := json.Marshal(struct {
		InputTokens int `json:"input_tokens"`
	}{InputTokens: count})
	w.Header().Set("Content-Type", "application/json")
	w.Write(out)
}

// handleListModels implements GET /v1/models.
func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	catalog := g.catalog.Load()
	entries := make([]openai.ModelListEntry, 0, len(catalog))
	for id, info := range catalog {
		// Catalog keys are bare for discovered models and "provider/model"
		// for explicit declarations (spec §3); the client-visible id is
		// always the "provider/model" form (spec §8 Model id).
		publicID := id
		if !strings.Contains(id, "/") {
			publicID = info.ProviderName + "/" + id
		}
		entries = append(entries, openai.ModelListEntry{
			ID:      publicID,
			Object:  "model",
			Created: info.Created,
			OwnedBy: info.OwnedBy,
		})
	}
	sortModelEntries(entries)

	w.Header().Set("Content-Type", "application/json")
	w.Write(openai.RenderModelList(entries))
}

func sortModelEntries(entries []openai.ModelListEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].ID > entries[j].ID; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

// clientIdentityKey returns the resolved ClientIdentity's id, or "" when
// no identity was attached to this request (anonymous, for rate-limit
// keying purposes).
func clientIdentityKey(rc *RequestContext) string {
	if rc.Identity == nil {
		return ""
	}
	return rc.Identity.ClientID
}
