package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Check.
type Decision struct {
	Allowed   bool
	Policy    string
	LimitType LimitType // tripped ceiling, or the tightest one when allowed
	Limit     int
	Remaining int
	ResetAt   time.Time

	rollback []string
}

// RetryAfter returns how long the caller should wait before retrying.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}

// Limiter evaluates policies against a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

// NewLimiter creates a limiter on store.
func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

type tier struct {
	limitType LimitType
	key       string
	max       int
	window    time.Duration
}

// Check counts the request against the IP ceiling, the user ceiling when userID is set, and
// the burst ceiling, in that order. The first ceiling exceeded rejects the request and later
// ceilings are not counted.
func (l *Limiter) Check(ctx context.Context, p Policy, ip, userID string) (Decision, error) {
	if ip == "" {
		ip = "unknown"
	}
	tiers := make([]tier, 0, 3)
	tiers = append(tiers, tier{LimitIP, Key(p.Name, LimitIP, ip), p.IPMax, p.Window})
	if userID != "" {
		tiers = append(tiers, tier{LimitUser, Key(p.Name, LimitUser, userID), p.UserMax, p.Window})
	}
	if p.BurstMax > 0 && p.BurstWindow > 0 {
		tiers = append(tiers, tier{LimitBurst, Key(p.Name, LimitBurst, ip), p.BurstMax, p.BurstWindow})
	}

	d := Decision{Allowed: true, Policy: p.Name, Remaining: -1}
	for _, t := range tiers {
		if t.max <= 0 {
			continue
		}
		b, err := l.store.Increment(ctx, t.key, t.window)
		if err != nil {
			return Decision{}, err
		}
		if t.limitType != LimitBurst {
			d.rollback = append(d.rollback, t.key)
		}

		remaining := t.max - b.Count
		if remaining < 0 {
			return Decision{
				Policy:    p.Name,
				LimitType: t.limitType,
				Limit:     t.max,
				Remaining: 0,
				ResetAt:   b.ResetAt,
			}, nil
		}
		if d.Remaining < 0 || remaining < d.Remaining {
			d.LimitType = t.limitType
			d.Limit = t.max
			d.Remaining = remaining
			d.ResetAt = b.ResetAt
		}
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d, nil
}

// Rollback removes the IP and user hits of an allowed decision.
func (l *Limiter) Rollback(ctx context.Context, d Decision) error {
	for _, key := range d.rollback {
		if err := l.store.Decrement(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
