package config

import (
	"fmt"
	"regexp"
)

// Kind identifies the upstream vendor a ProviderConfig talks to.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
	KindGoogle    Kind = "google"
	KindBedrock   Kind = "bedrock"
)

// ModelDeclaration is an explicitly-declared model for a provider. An
// explicit declaration is treated as claimed and bypasses the allow-regex
// filter applied to discovered models (spec §3 Invariants).
type ModelDeclaration struct {
	// Name is the vendor-side model name.
	Name string `yaml:"name"`
	// Rename substitutes the outbound wire model name when set.
	Rename string `yaml:"rename,omitempty"`
}

// RateLimitBinding associates a provider or model with rate-limit buckets
// (request-based and/or token-based). The concrete storage backend
// consulted for these bindings lives in internal/ratelimit.
type RateLimitBinding struct {
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty"`
	InputTokensPerDay int `yaml:"input_tokens_per_day,omitempty"`
}

// ProviderConfig is an immutable per-provider record (spec §3).
type ProviderConfig struct {
	Name    string `yaml:"name"`
	Kind    Kind   `yaml:"kind"`
	BaseURL string `yaml:"base_url"`

	// APIKey is the configured secret used for RouterWithOwnKey mode.
	APIKey string `yaml:"api_key,omitempty"`

	// AWSRegion, when set, marks this provider as Bedrock-signed via the
	// default AWS credential chain rather than a static API key.
	AWSRegion string `yaml:"aws_region,omitempty"`

	// ModelFilter is an allow-regex applied to discovered (not explicitly
	// declared) model ids.
	ModelFilter string `yaml:"model_filter,omitempty"`

	// BYOK enables the X-Provider-API-Key client-supplied key header.
	BYOK bool `yaml:"byok,omitempty"`

	// AnthropicProxy enables transparent Anthropic-authorization forwarding
	// for this provider (only meaningful for kind: anthropic).
	AnthropicProxy bool `yaml:"anthropic_proxy,omitempty"`

	Models []ModelDeclaration `yaml:"models,omitempty"`

	RateLimit      *RateLimitBinding            `yaml:"rate_limit,omitempty"`
	ModelRateLimit map[string]RateLimitBinding  `yaml:"model_rate_limit,omitempty"`

	compiledFilter *regexp.Regexp
}

// CompiledFilter lazily compiles and caches ModelFilter.
func (p *ProviderConfig) CompiledFilter() (*regexp.Regexp, error) {
	if p.ModelFilter == "" {
		return nil, nil
	}
	if p.compiledFilter != nil {
		return p.compiledFilter, nil
	}
	re, err := regexp.Compile(p.ModelFilter)
	if err != nil {
		return nil, fmt.Errorf("invalid model_filter: %w", err)
	}
	p.compiledFilter = re
	return re, nil
}

// Validate checks a single provider's configuration for consistency.
func (p *ProviderConfig) Validate() error {
	switch p.Kind {
	case KindOpenAI, KindAnthropic, KindGoogle, KindBedrock:
	default:
		return fmt.Errorf("unknown kind %q", p.Kind)
	}

	if p.Kind == KindBedrock {
		if p.AWSRegion == "" {
			return fmt.Errorf("aws_region is required for bedrock providers")
		}
	} else if p.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}

	if p.APIKey == "" && p.Kind != KindBedrock && !p.BYOK && !p.AnthropicProxy {
		return fmt.Errorf("provider has no api_key configured and BYOK/anthropic_proxy are disabled — no ProviderMode could ever be negotiated")
	}

	if p.AnthropicProxy && p.Kind != KindAnthropic {
		return fmt.Errorf("anthropic_proxy is only valid for kind: anthropic")
	}

	if _, err := p.CompiledFilter(); err != nil {
		return err
	}

	return nil
}

// HasTokenLimits reports whether this provider or any of its declared
// models carries a token-based rate-limit binding, used to decide whether
// to lazily construct the TokenRateLimitManager (§4.6).
func (p *ProviderConfig) HasTokenLimits() bool {
	if p.RateLimit != nil && p.RateLimit.InputTokensPerDay > 0 {
		return true
	}
	for _, b := range p.ModelRateLimit {
		if b.InputTokensPerDay > 0 {
			return true
		}
	}
	return false
}
