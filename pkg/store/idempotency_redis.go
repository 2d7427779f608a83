package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore deduplicates requests by caller-supplied identity. The
// escalation gateway itself is only idempotent in effect; the HTTP layer in
// front of it reserves a key per admin request so a retried click maps to
// the original outcome instead of a second settlement attempt.
type IdempotencyStore interface {
	// Reserve claims the key for ttl. It returns false when the key is
	// already held (the request is a duplicate).
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisIdempotencyStore implements IdempotencyStore with SET NX.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

func NewRedisIdempotencyStore(addr string) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: "concord:idem:",
	}
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

// MemoryIdempotencyStore is the single-process fallback.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	clock   func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]time.Time),
		clock:   time.Now,
	}
}

// WithClock overrides the time source. Tests use it to exercise expiry.
func (s *MemoryIdempotencyStore) WithClock(clock func() time.Time) *MemoryIdempotencyStore {
	s.clock = clock
	return s
}

func (s *MemoryIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	if expiry, ok := s.entries[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.entries[key] = now.Add(ttl)
	return true, nil
}
