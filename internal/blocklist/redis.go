package blocklist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces blocklist keys in the shared Redis.
const KeyPrefix = "gk:blocked:"

// RedisStore shares the blocklist between instances. Entries are JSON values under
// gk:blocked:<ip>; a TTL maps to the key expiry.
type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisStore creates a store on client. timeout bounds each call; zero means 250ms.
func NewRedisStore(client redis.UniversalClient, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &RedisStore{client: client, timeout: timeout}
}

// Block implements Store.
func (s *RedisStore) Block(ctx context.Context, e Entry, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if ttl > 0 {
		e.ExpiresAt = e.BlockedAt.Add(ttl)
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode blocklist entry: %w", err)
	}
	if err := s.client.Set(ctx, KeyPrefix+e.IP, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis block %s: %w", e.IP, err)
	}
	return nil
}

// IsBlocked implements Store.
func (s *RedisStore) IsBlocked(ctx context.Context, ip string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Exists(ctx, KeyPrefix+ip).Result()
	if err != nil {
		return false, fmt.Errorf("redis is-blocked %s: %w", ip, err)
	}
	return n > 0, nil
}

// Unblock implements Store.
func (s *RedisStore) Unblock(ctx context.Context, ip string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Del(ctx, KeyPrefix+ip).Result()
	if err != nil {
		return false, fmt.Errorf("redis unblock %s: %w", ip, err)
	}
	return n > 0, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []Entry{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list blocklist: %w", err)
	}

	out := make([]Entry, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			e = Entry{IP: strings.TrimPrefix(keys[i], KeyPrefix)}
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis reset blocklist: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) keys(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*s.timeout)
	defer cancel()

	var keys []string
	iter := s.client.Scan(ctx, 0, KeyPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis scan blocklist: %w", err)
	}
	return keys, nil
}
