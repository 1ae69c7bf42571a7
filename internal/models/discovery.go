package models

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/config"
)

// ModelLister is the subset of the provider interface discovery needs.
// Defined locally so this package does not depend on internal/providers.
type ModelLister interface {
	Name() string
	ListModels(ctx context.Context) ([]ListedModel, error)
}

// ListedModel is a single model entry as reported by a provider's listing
// endpoint, before catalog-level dedup and filtering are applied.
type ListedModel struct {
	ID      string
	Created int64
	OwnedBy string
}

// DeclaredListedModels converts a provider's explicitly-configured model
// declarations into ListedModel entries prefixed with the provider's name
// so buildMap's containsSlash check recognizes them as claimed, bypassing
// the discovered-model allow-regex filter (spec §3 Invariants). Providers
// append these to whatever their live discovery call returns.
func DeclaredListedModels(providerName string, declared []config.ModelDeclaration) []ListedModel {
	out := make([]ListedModel, 0, len(declared))
	for _, d := range declared {
		out = append(out, ListedModel{ID: providerName + "/" + d.Name, OwnedBy: providerName})
	}
	return out
}

// Discovery runs periodic model-catalog refreshes across a fixed set of
// providers, applying the gateway's dedup and filter rules.
type Discovery struct {
	providers []ModelLister
	config    *config.Config
	interval  time.Duration
}

// NewDiscovery builds a Discovery coordinator using the configured
// interval, falling back to the package default when unset.
func NewDiscovery(providers []ModelLister, cfg *config.Config) *Discovery {
	interval := cfg.Discovery.Interval
	if interval == 0 {
		interval = config.DefaultDiscoveryInterval
	}
	return &Discovery{providers: providers, config: cfg, interval: interval}
}

type providerResult struct {
	index  int
	name   string
	models []ListedModel
	err    error
}

// FetchModels performs a single discovery pass across every provider and
// returns the resulting catalog snapshot. Any provider failure aborts the
// whole pass; the caller decides whether that is fatal (first pass) or
// merely logged (background refresh).
func (d *Discovery) FetchModels(ctx context.Context) (Map, error) {
	results := d.fetchProviderModels(ctx)

	var errs []providerResult
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r)
		}
	}
	if len(errs) > 0 {
		names := make([]string, 0, len(errs))
		for _, e := range errs {
			names = append(names, e.name)
			log.Error().Err(e.err).Str("provider", e.name).Msg("failed to discover models")
		}
		return nil, fmt.Errorf("model discovery failed for %d provider(s): %v", len(errs), names)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	return d.buildMap(results), nil
}

func (d *Discovery) fetchProviderModels(ctx context.Context) []providerResult {
	results := make([]providerResult, len(d.providers))
	done := make(chan int, len(d.providers))

	for i, p := range d.providers {
		go func(i int, p ModelLister) {
			models, err := p.ListModels(ctx)
			results[i] = providerResult{index: i, name: p.Name(), models: models, err: err}
			done <- i
		}(i, p)
	}

	for range d.providers {
		<-done
	}

	return results
}

func (d *Discovery) buildMap(results []providerResult) Map {
	out := make(Map)

	providersByName := make(map[string]*config.ProviderConfig, len(d.config.Providers))
	for i := range d.config.Providers {
		providersByName[d.config.Providers[i].Name] = &d.config.Providers[i]
	}

	for _, r := range results {
		var filter func(string) bool
		if pc, ok := providersByName[r.name]; ok {
			re, _ := pc.CompiledFilter()
			if re != nil {
				filter = re.MatchString
			}
		}

		for _, model := range r.models {
			isDiscovered := !containsSlash(model.ID)

			if isDiscovered && filter != nil && !filter(model.ID) {
				continue
			}

			if existing, ok := out[model.ID]; ok {
				if isDiscovered && existing.ProviderName != r.name {
					log.Warn().
						Str("model", model.ID).
						Str("existing_provider", existing.ProviderName).
						Str("duplicate_provider", r.name).
						Msg("model already claimed by another provider, skipping duplicate")
				} else {
					log.Debug().
						Str("model", model.ID).
						Str("provider", r.name).
						Msg("provider returned duplicate model, skipping")
				}
				continue
			}

			out[model.ID] = Info{
				ProviderName: r.name,
				Created:      model.Created,
				OwnedBy:      model.OwnedBy,
			}
		}
	}

	return out
}

func containsSlash(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return true
		}
	}
	return false
}

// SpawnUpdater starts a background loop that refreshes the catalog on the
// configured interval until ctx is cancelled, storing each successful
// refresh into catalog. Refresh failures are logged and do not stop the
// loop, matching the Rust original's "log and continue" behavior for the
// background path (only the first pass is fatal).
func (d *Discovery) SpawnUpdater(ctx context.Context, catalog *Catalog) {
	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m, err := d.FetchModels(ctx)
				if err != nil {
					log.Error().Err(err).Msg("failed to refresh model catalog")
					continue
				}
				catalog.Store(m)
			}
		}
	}()
}
