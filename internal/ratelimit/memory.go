package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxKeys bounds the in-memory bucket table.
const DefaultMaxKeys = 100000

type counter struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps buckets in a bounded LRU. When full, the least recently used bucket is
// evicted, which can only make a limiter more lenient for that key.
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *counter]
	now   func() time.Time
}

// NewMemoryStore creates a store holding at most maxKeys buckets.
func NewMemoryStore(maxKeys int) (*MemoryStore, error) {
	return newMemoryStore(maxKeys, time.Now)
}

func newMemoryStore(maxKeys int, now func() time.Time) (*MemoryStore, error) {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	cache, err := lru.New[string, *counter](maxKeys)
	if err != nil {
		return nil, fmt.Errorf("create bucket cache: %w", err)
	}
	return &MemoryStore{cache: cache, now: now}, nil
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.cache.Get(key)
	if !ok || !now.Before(c.resetAt) {
		c = &counter{resetAt: now.Add(window)}
		s.cache.Add(key, c)
	}
	c.count++
	return Bucket{Count: c.count, ResetAt: c.resetAt}, nil
}

// Decrement implements Store.
func (s *MemoryStore) Decrement(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cache.Peek(key); ok && c.count > 0 && s.now().Before(c.resetAt) {
		c.count--
	}
	return nil
}

// Len returns the number of tracked buckets.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
