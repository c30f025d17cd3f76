package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/staffdesk/gatekeeper/internal/circuitbreaker"
	"github.com/staffdesk/gatekeeper/internal/metrics"
)

// FailoverStore uses primary through the Redis circuit breaker and serves from fallback
// whenever the primary call fails or the breaker is open. Counts diverge between instances
// while the fallback is in use.
type FailoverStore struct {
	primary  Store
	fallback Store
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewFailoverStore creates a failover store.
func NewFailoverStore(primary, fallback Store, breakers *circuitbreaker.Manager, m *metrics.Metrics, log zerolog.Logger) *FailoverStore {
	return &FailoverStore{primary: primary, fallback: fallback, breakers: breakers, metrics: m, log: log}
}

// Increment implements Store.
func (s *FailoverStore) Increment(ctx context.Context, key string, window time.Duration) (Bucket, error) {
	res, err := s.breakers.Execute(circuitbreaker.ServiceRedis, func() (interface{}, error) {
		return s.primary.Increment(ctx, key, window)
	})
	if err == nil {
		return res.(Bucket), nil
	}
	s.failedOver(err)
	return s.fallback.Increment(ctx, key, window)
}

// Decrement implements Store.
func (s *FailoverStore) Decrement(ctx context.Context, key string) error {
	_, err := s.breakers.Execute(circuitbreaker.ServiceRedis, func() (interface{}, error) {
		return nil, s.primary.Decrement(ctx, key)
	})
	if err == nil {
		return nil
	}
	s.failedOver(err)
	return s.fallback.Decrement(ctx, key)
}

func (s *FailoverStore) failedOver(err error) {
	s.metrics.ObserveFailover("ratelimit")
	ev := s.log.Warn()
	if circuitbreaker.IsOpen(err) {
		ev = s.log.Debug()
	}
	ev.Err(err).Msg("ratelimit.store_failover")
}
