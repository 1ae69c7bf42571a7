package ratelimit

import (
	"context"
	"testing"
)

func TestMemoryStoreAllowsWithinBurst(t *testing.T) {
	s := NewMemoryStore(60)
	defer s.Stop()

	for i := 0; i < 5; i++ {
		decision, err := s.CheckRequest(context.Background(), "client-a")
		if err != nil {
			t.Fatalf("CheckRequest() error = %v", err)
		}
		if decision != Allow {
			t.Fatalf("request %d = %v, want Allow", i, decision)
		}
	}
}

func TestMemoryStoreDeniesOverBurst(t *testing.T) {
	s := NewMemoryStore(1)
	defer s.Stop()

	ctx := context.Background()
	if decision, _ := s.CheckRequest(ctx, "client-b"); decision != Allow {
		t.Fatalf("first request = %v, want Allow", decision)
	}
	if decision, _ := s.CheckRequest(ctx, "client-b"); decision != Deny {
		t.Fatalf("second request = %v, want Deny", decision)
	}
}

func TestMemoryStoreKeysAreIndependent(t *testing.T) {
	s := NewMemoryStore(1)
	defer s.Stop()

	ctx := context.Background()
	s.CheckRequest(ctx, "client-c")
	decision, _ := s.CheckRequest(ctx, "client-d")
	if decision != Allow {
		t.Errorf("unrelated key = %v, want Allow", decision)
	}
}

func TestMemoryStoreEvictsStaleKeys(t *testing.T) {
	s := NewMemoryStore(1)
	defer s.Stop()

	s.limiterFor("stale-key")
	s.mu.Lock()
	s.limiters["stale-key"].lastAccess = s.limiters["stale-key"].lastAccess.Add(-memoryKeyTimeout * 2)
	s.mu.Unlock()

	s.evictStale()

	s.mu.RLock()
	_, ok := s.limiters["stale-key"]
	s.mu.RUnlock()
	if ok {
		t.Error("expected stale key to be evicted")
	}
}
