package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript increments the counter, starts the window on the first hit and returns
// {count, pttl}. One round trip keeps increment-and-check atomic across instances.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

var decrementScript = redis.NewScript(`
local v = tonumber(redis.call("GET", KEYS[1]) or "0")
if v > 0 then
	return redis.call("DECR", KEYS[1])
end
return 0
`)

// RedisStore shares buckets between instances through Redis.
type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
	now     func() time.Time
}

// NewRedisStore creates a store on client. timeout bounds each call; zero means 250ms.
func NewRedisStore(client redis.UniversalClient, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &RedisStore{client: client, timeout: timeout, now: time.Now}
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Bucket, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ms := window.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	res, err := incrementScript.Run(ctx, s.client, []string{key}, ms).Int64Slice()
	if err != nil {
		return Bucket{}, fmt.Errorf("redis increment %s: %w", key, err)
	}
	if len(res) != 2 {
		return Bucket{}, fmt.Errorf("redis increment %s: unexpected reply %v", key, res)
	}
	return Bucket{
		Count:   int(res[0]),
		ResetAt: s.now().Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

// Decrement implements Store.
func (s *RedisStore) Decrement(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := decrementScript.Run(ctx, s.client, []string{key}).Err(); err != nil {
		return fmt.Errorf("redis decrement %s: %w", key, err)
	}
	return nil
}
