package blocklist

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/staffdesk/gatekeeper/internal/circuitbreaker"
	"github.com/staffdesk/gatekeeper/internal/metrics"
)

// FailoverStore writes through to a shared primary and a local fallback. Lookups hit the
// local copy first, so an IP blocked on this instance stays blocked while the primary is
// unreachable.
type FailoverStore struct {
	primary  Store
	local    Store
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewFailoverStore creates a failover store.
func NewFailoverStore(primary, local Store, breakers *circuitbreaker.Manager, m *metrics.Metrics, log zerolog.Logger) *FailoverStore {
	return &FailoverStore{primary: primary, local: local, breakers: breakers, metrics: m, log: log}
}

func (s *FailoverStore) call(fn func() (interface{}, error)) (interface{}, bool) {
	res, err := s.breakers.Execute(circuitbreaker.ServiceRedis, fn)
	if err != nil {
		s.metrics.ObserveFailover("blocklist")
		ev := s.log.Warn()
		if circuitbreaker.IsOpen(err) {
			ev = s.log.Debug()
		}
		ev.Err(err).Msg("blocklist.store_failover")
		return nil, false
	}
	return res, true
}

// Block implements Store.
func (s *FailoverStore) Block(ctx context.Context, e Entry, ttl time.Duration) error {
	if err := s.local.Block(ctx, e, ttl); err != nil {
		return err
	}
	s.call(func() (interface{}, error) { return nil, s.primary.Block(ctx, e, ttl) })
	return nil
}

// IsBlocked implements Store.
func (s *FailoverStore) IsBlocked(ctx context.Context, ip string) (bool, error) {
	blocked, err := s.local.IsBlocked(ctx, ip)
	if err != nil || blocked {
		return blocked, err
	}
	res, ok := s.call(func() (interface{}, error) { return s.primary.IsBlocked(ctx, ip) })
	if !ok {
		return false, nil
	}
	return res.(bool), nil
}

// Unblock implements Store.
func (s *FailoverStore) Unblock(ctx context.Context, ip string) (bool, error) {
	removed, err := s.local.Unblock(ctx, ip)
	if err != nil {
		return false, err
	}
	if res, ok := s.call(func() (interface{}, error) { return s.primary.Unblock(ctx, ip) }); ok {
		removed = removed || res.(bool)
	}
	return removed, nil
}

// List implements Store. Entries known to both stores are reported once.
func (s *FailoverStore) List(ctx context.Context) ([]Entry, error) {
	local, err := s.local.List(ctx)
	if err != nil {
		return nil, err
	}
	res, ok := s.call(func() (interface{}, error) { return s.primary.List(ctx) })
	if !ok {
		return local, nil
	}

	seen := make(map[string]struct{}, len(local))
	out := append([]Entry(nil), local...)
	for _, e := range local {
		seen[e.IP] = struct{}{}
	}
	for _, e := range res.([]Entry) {
		if _, dup := seen[e.IP]; !dup {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

// Reset implements Store.
func (s *FailoverStore) Reset(ctx context.Context) (int, error) {
	n, err := s.local.Reset(ctx)
	if err != nil {
		return 0, err
	}
	if res, ok := s.call(func() (interface{}, error) { return s.primary.Reset(ctx) }); ok && res.(int) > n {
		n = res.(int)
	}
	return n, nil
}
