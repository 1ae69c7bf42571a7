package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/compresr/llm-gateway/internal/config"
)

// RedisStore is a fixed-window Store backed by Redis, implemented with a
// bare INCR+EXPIRE pair rather than a Lua script, matching the teacher
// pack's direct-command style over scripted atomicity for this simple case.
type RedisStore struct {
	client            redis.UniversalClient
	requestsPerMinute int
	keyPrefix         string
}

// NewRedisStore connects to Redis using the given configuration.
func NewRedisStore(cfg config.RedisConfig, requestsPerMinute int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis rate-limit store: %w", err)
	}

	return &RedisStore{client: client, requestsPerMinute: requestsPerMinute, keyPrefix: "ratelimit"}, nil
}

func (s *RedisStore) CheckRequest(ctx context.Context, key string) (Decision, error) {
	redisKey := fmt.Sprintf("%s:req:%s:%d", s.keyPrefix, key, currentWindow())

	count, err := s.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Deny, fmt.Errorf("redis incr: %w", err)
	}
	if count == 1 {
		s.client.Expire(ctx, redisKey, time.Minute)
	}

	if int(count) > s.requestsPerMinute {
		return Deny, nil
	}
	return Allow, nil
}

// currentWindow returns a fixed-minute window bucket number so concurrent
// CheckRequest calls in the same minute share one INCR counter.
func currentWindow() int64 {
	return time.Now().Unix() / 60
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
