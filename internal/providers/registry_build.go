package providers

import (
	"fmt"

	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/models"
)

// BuildRegistry constructs one provider per configured entry, dispatching
// on Kind, and registers each in configuration order (discovery's dedup
// rule depends on that order being preserved).
func BuildRegistry(cfg *config.Config) (*Registry, error) {
	registry := NewRegistry()
	for _, pc := range cfg.Providers {
		var p Provider
		switch pc.Kind {
		case config.KindOpenAI:
			p = NewOpenAIProvider(pc)
		case config.KindAnthropic:
			p = NewAnthropicProvider(pc)
		case config.KindGoogle:
			gp, err := NewGoogleProvider(pc)
			if err != nil {
				return nil, fmt.Errorf("provider %q: %w", pc.Name, err)
			}
			p = gp
		case config.KindBedrock:
			p = NewBedrockProvider(pc)
		default:
			return nil, fmt.Errorf("provider %q: unknown kind %q", pc.Name, pc.Kind)
		}
		registry.Register(p)
	}
	return registry, nil
}

// ModelListers adapts a Registry's providers to models.ModelLister for the
// discovery package: every Provider already implements Name() and
// ListModels(ctx) ([]models.ListedModel, error), so no wrapping is needed
// beyond the slice conversion.
func (r *Registry) ModelListers() []models.ModelLister {
	ordered := r.Ordered()
	out := make([]models.ModelLister, 0, len(ordered))
	for _, p := range ordered {
		out = append(out, p)
	}
	return out
}
