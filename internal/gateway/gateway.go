package gateway

import (
	"context"
	"net/http"

	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/httpclient"
	"github.com/compresr/llm-gateway/internal/identity"
	"github.com/compresr/llm-gateway/internal/models"
	"github.com/compresr/llm-gateway/internal/providers"
	"github.com/compresr/llm-gateway/internal/providers/anthropicproxy"
	"github.com/compresr/llm-gateway/internal/ratelimit"
	"github.com/compresr/llm-gateway/internal/telemetry"
)

// Gateway owns the HTTP surface: the middleware chain, the route table,
// and every collaborator the dispatcher needs to resolve and serve a
// request.
type Gateway struct {
	cfg       *config.Config
	registry  *providers.Registry
	catalog   *models.Catalog
	telemetry *telemetry.Telemetry

	rateLimitStore ratelimit.Store
	tokenManager   *ratelimit.TokenRateLimitManager
	authenticator  identity.Authenticator

	providerConfigs  map[string]config.ProviderConfig
	anthropicProxies map[string]*anthropicproxy.Proxy

	server *http.Server
}

// New builds a Gateway wired against the given registry, catalog, and
// rate-limit store. The authenticator defaults to a pass-through
// implementation: the concrete OAuth2/JWKS validator is an external
// collaborator out of scope here (spec.md non-goals).
func New(cfg *config.Config, registry *providers.Registry, catalog *models.Catalog, rateLimitStore ratelimit.Store, tel *telemetry.Telemetry) (*Gateway, error) {
	providerConfigs := make(map[string]config.ProviderConfig, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		providerConfigs[pc.Name] = pc
	}

	anthropicProxies := make(map[string]*anthropicproxy.Proxy)
	for _, pc := range cfg.Providers {
		if pc.Kind != config.KindAnthropic || !pc.AnthropicProxy {
			continue
		}
		proxy, err := anthropicproxy.New(pc.BaseURL, "/v1", httpclient.Shared)
		if err != nil {
			return nil, err
		}
		anthropicProxies[pc.Name] = proxy
	}

	g := &Gateway{
		cfg:              cfg,
		registry:         registry,
		catalog:          catalog,
		telemetry:        tel,
		rateLimitStore:   rateLimitStore,
		tokenManager:     newTokenManagerIfNeeded(cfg),
		authenticator:    identity.PassthroughAuthenticator{},
		providerConfigs:  providerConfigs,
		anthropicProxies: anthropicProxies,
	}

	g.server = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      g.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return g, nil
}

// newTokenManagerIfNeeded constructs a TokenRateLimitManager only when at
// least one provider or model declares a token budget, per spec §4.6
// ("initialized lazily and only when any provider or model declares token
// limits").
func newTokenManagerIfNeeded(cfg *config.Config) *ratelimit.TokenRateLimitManager {
	for _, pc := range cfg.Providers {
		if pc.HasTokenLimits() {
			return ratelimit.NewTokenRateLimitManager()
		}
	}
	return nil
}

// SetAuthenticator overrides the default pass-through authenticator,
// exposed for tests and for wiring a real OAuth2/JWKS validator.
func (g *Gateway) SetAuthenticator(a identity.Authenticator) {
	g.authenticator = a
}

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/chat/completions", g.chain(http.HandlerFunc(g.handleChatCompletions)))
	mux.Handle("POST /v1/messages", g.chain(http.HandlerFunc(g.handleMessages)))
	mux.Handle("POST /v1/messages/count_tokens", g.chain(http.HandlerFunc(g.handleCountTokens)))
	mux.Handle("GET /v1/models", g.chain(http.HandlerFunc(g.handleListModels)))
	return mux
}

// Start begins serving and blocks until the server stops or fails.
func (g *Gateway) Start() error {
	return g.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}
