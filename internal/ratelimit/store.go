package ratelimit

import (
	"context"
	"time"
)

// Bucket is the state of one fixed-window counter after an increment.
type Bucket struct {
	Count   int
	ResetAt time.Time
}

// Store holds fixed-window counters. Increment must be atomic per key: concurrent callers
// never observe the same count.
type Store interface {
	// Increment adds one hit to key, starting a new window of the given length when none is
	// active, and returns the resulting bucket.
	Increment(ctx context.Context, key string, window time.Duration) (Bucket, error)
	// Decrement removes one hit from key within its current window. Missing keys are ignored.
	Decrement(ctx context.Context, key string) error
}

// Key builds the bucket key for a policy, limit type and identifier.
func Key(policy string, t LimitType, id string) string {
	scope := "ip"
	switch t {
	case LimitUser:
		scope = "user"
	case LimitBurst:
		scope = "burst"
	}
	return "rl:" + policy + ":" + scope + ":" + id
}
