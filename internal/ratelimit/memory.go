package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	memoryKeyTimeout    = 10 * time.Minute
	memoryCleanupPeriod = 5 * time.Minute
)

// MemoryStore is an in-process token-bucket Store keyed per identifier,
// one rate.Limiter per key created lazily on first use.
type MemoryStore struct {
	requestsPerMinute int

	mu       sync.RWMutex
	limiters map[string]*memoryBucket

	stopChan chan struct{}
	stopOnce sync.Once
}

type memoryBucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewMemoryStore creates a Store allowing requestsPerMinute sustained
// requests per key, with a burst equal to the per-minute allowance.
func NewMemoryStore(requestsPerMinute int) *MemoryStore {
	s := &MemoryStore{
		requestsPerMinute: requestsPerMinute,
		limiters:          make(map[string]*memoryBucket),
		stopChan:          make(chan struct{}),
	}
	go s.cleanup()
	return s
}

func (s *MemoryStore) CheckRequest(ctx context.Context, key string) (Decision, error) {
	limiter := s.limiterFor(key)
	if limiter.Allow() {
		return Allow, nil
	}
	return Deny, nil
}

func (s *MemoryStore) limiterFor(key string) *rate.Limiter {
	s.mu.RLock()
	b, ok := s.limiters[key]
	s.mu.RUnlock()
	if ok {
		s.touch(b)
		return b.limiter
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.limiters[key]; ok {
		return b.limiter
	}

	perSecond := float64(s.requestsPerMinute) / 60.0
	b = &memoryBucket{
		limiter:    rate.NewLimiter(rate.Limit(perSecond), s.requestsPerMinute),
		lastAccess: time.Now(),
	}
	s.limiters[key] = b
	return b.limiter
}

func (s *MemoryStore) touch(b *memoryBucket) {
	s.mu.Lock()
	b.lastAccess = time.Now()
	s.mu.Unlock()
}

func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(memoryCleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictStale()
		case <-s.stopChan:
			return
		}
	}
}

func (s *MemoryStore) evictStale() {
	cutoff := time.Now().Add(-memoryKeyTimeout)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.limiters {
		if b.lastAccess.Before(cutoff) {
			delete(s.limiters, key)
		}
	}
}

// Stop terminates the background eviction goroutine.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}
