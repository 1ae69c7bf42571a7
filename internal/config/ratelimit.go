package config

import "fmt"

// StoreKind selects the backing implementation for the rate-limit store.
type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreRedis  StoreKind = "redis"
)

// ClientIPPolicy controls how the gateway derives the client IP used as the
// rate-limit bucket key (spec §4.6). XRealIP takes priority over
// XForwardedForTrustedHops when both are set; this is intentional, not an
// error, so Validate does not reject the combination.
type ClientIPPolicy struct {
	XRealIP                 bool `yaml:"x_real_ip"`
	XForwardedForTrustedHops *int `yaml:"x_forwarded_for_trusted_hops"`
}

// RedisConfig holds connection settings for the Redis-backed rate-limit store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// RateLimitConfig controls both client identification and the storage
// backend used for request/token rate limiting.
type RateLimitConfig struct {
	Store     StoreKind       `yaml:"store"`
	ClientIP  ClientIPPolicy  `yaml:"client_ip"`
	Redis     RedisConfig     `yaml:"redis,omitempty"`
	RequestsPerMinute int     `yaml:"requests_per_minute,omitempty"`
}

// Validate checks the rate-limit configuration for internal consistency.
func (r *RateLimitConfig) Validate() error {
	switch r.Store {
	case "", StoreMemory:
		r.Store = StoreMemory
	case StoreRedis:
		if r.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when store is redis")
		}
	default:
		return fmt.Errorf("unknown store %q", r.Store)
	}

	if r.ClientIP.XForwardedForTrustedHops != nil && *r.ClientIP.XForwardedForTrustedHops < 0 {
		return fmt.Errorf("client_ip.x_forwarded_for_trusted_hops must be non-negative")
	}

	return nil
}
