// Package providers implements the concrete upstream LLM backends and the
// authentication-mode negotiation shared by all of them.
package providers

import (
	"context"
	"sync"

	"github.com/compresr/llm-gateway/internal/models"
	"github.com/compresr/llm-gateway/internal/protocol"
)

// Provider is the interface every upstream backend implements. Instances
// are constructed once at startup, are safe for concurrent use by many
// goroutines, and hold no per-request mutable state.
type Provider interface {
	// Name is the provider's logical configuration name, used as the
	// "provider" half of a public model id.
	Name() string

	// SupportedModes lists the authentication modes this provider accepts,
	// in preference order, for ProviderMode negotiation.
	SupportedModes() []SupportedMode

	// ListModels lists the models currently available from this provider,
	// for the discovery background loop.
	ListModels(ctx context.Context) ([]models.ListedModel, error)

	// ChatCompletion performs a single unary chat completion.
	ChatCompletion(ctx context.Context, req protocol.UnifiedRequest, mode ResolvedMode) (protocol.UnifiedResponse, error)

	// ChatCompletionStream performs a streaming chat completion. The
	// returned channel is closed after a terminal StreamEvent (Kind ==
	// StreamEventDone or StreamEventError) has been sent.
	ChatCompletionStream(ctx context.Context, req protocol.UnifiedRequest, mode ResolvedMode) (<-chan protocol.StreamEvent, error)
}

// TokenCounter is an optional capability a Provider may additionally
// implement to answer POST /v1/messages/count_tokens. Providers that do
// not implement it cause that endpoint to fail with a 500 internal_error
// naming the provider (spec §4.1).
type TokenCounter interface {
	CountTokens(ctx context.Context, req protocol.UnifiedRequest) (int, error)
}

// Registry is a thread-safe lookup of configured providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	// order preserves configuration order for discovery's deterministic
	// dedup rule.
	order []string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider, preserving call order.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[p.Name()]; !exists {
		r.order = append(r.order, p.Name())
	}
	r.providers[p.Name()] = p
}

// Get looks up a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Ordered returns every registered provider in registration order.
func (r *Registry) Ordered() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.providers[name])
	}
	return out
}
