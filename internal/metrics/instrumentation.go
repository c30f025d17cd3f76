package metrics

import (
	"net/http"
	"time"
)

// MeasureAuditWrite wraps a durable audit write with timing instrumentation.
// Usage:
//
//	defer metrics.MeasureAuditWrite(m, "postgres")()
func MeasureAuditWrite(m *Metrics, backend string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.ObserveAuditWrite(backend, time.Since(start))
	}
}

// Middleware records request duration under a fixed route group label.
func Middleware(m *Metrics, routeGroup string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			m.ObserveRequest(routeGroup, time.Since(start))
		})
	}
}
