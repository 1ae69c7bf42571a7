package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TokenRateLimitManager tracks per-day token spend keyed by
// "<provider>/<model>:<identity>", consulted by the gateway dispatcher after
// a completed (or fully-streamed) response. It is a second, independent instance of the
// same bucket-per-key idea as Store, but measured in tokens-per-day rather
// than requests-per-minute, so it is not itself a Store implementation.
type TokenRateLimitManager struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	spent     int
	windowDay int64
	limit     int
}

// NewTokenRateLimitManager constructs an empty manager. Construct this only
// when config.ProviderConfig.HasTokenLimits() is true for at least one
// configured provider or model (spec §4.6); an idle manager costs nothing,
// but there is no reason to hold one when no budget is declared.
func NewTokenRateLimitManager() *TokenRateLimitManager {
	return &TokenRateLimitManager{buckets: make(map[string]*tokenBucket)}
}

// RecordTokens adds n tokens to key's running daily total against limit,
// reporting Deny once the day's budget is exceeded. The window resets at
// UTC midnight.
func (m *TokenRateLimitManager) RecordTokens(ctx context.Context, key string, n, limit int) (Decision, error) {
	if limit <= 0 {
		return Allow, nil
	}

	day := currentDay()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || b.windowDay != day {
		b = &tokenBucket{windowDay: day, limit: limit}
		m.buckets[key] = b
	}

	b.spent += n
	if b.spent > b.limit {
		return Deny, nil
	}
	return Allow, nil
}

func currentDay() int64 {
	return time.Now().UTC().Unix() / 86400
}

// Key joins a base (a provider/model pair for RecordTokens, or a client IP
// for Store.CheckRequest) with an optional client identity, falling back to
// the bare base when identity is empty (anonymous caller).
func Key(base, identity string) string {
	if identity == "" {
		return base
	}
	return fmt.Sprintf("%s:%s", base, identity)
}
