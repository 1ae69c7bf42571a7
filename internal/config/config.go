// Package config loads and validates the gateway configuration.
//
// DESIGN: All provider and policy configuration MUST come from YAML files.
// There are no implicit defaults for provider credentials or routing —
// this keeps production deployments explicit and auditable.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the gateway.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  []ProviderConfig `yaml:"providers"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Identity   IdentityConfig   `yaml:"identity"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DiscoveryConfig controls the model discovery refresh loop (spec §4.4).
type DiscoveryConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// DefaultDiscoveryInterval is used when the config omits discovery.interval.
const DefaultDiscoveryInterval = 300 * time.Second

// IdentityConfig controls JWT claim extraction for client identification (§4.6).
type IdentityConfig struct {
	// ClaimPath is a dotted claim path such as "sub" or "user.plan".
	// Empty disables client identity extraction (the layer becomes a no-op).
	ClaimPath string `yaml:"claim_path"`

	// GroupClaimPath is a dotted claim path such as "org.id" used to
	// populate ClientIdentity.Group for group-scoped rate-limit bindings.
	// Empty leaves Group unset even when ClaimPath resolves.
	GroupClaimPath string `yaml:"group_claim_path"`
}

// TelemetryConfig controls the OTel exporters used by the telemetry middleware.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	ServiceName   string `yaml:"service_name"`
}

// expandEnvWithDefaults expands environment variables with support for default values.
// Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Discovery.Interval == 0 {
		c.Discovery.Interval = DefaultDiscoveryInterval
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "llm-gateway"
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.ReadTimeout == 0 {
		return fmt.Errorf("server.read_timeout is required")
	}
	if c.Server.WriteTimeout == 0 {
		return fmt.Errorf("server.write_timeout is required")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider entry missing name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true

		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider %q: %w", p.Name, err)
		}
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}

	return nil
}
