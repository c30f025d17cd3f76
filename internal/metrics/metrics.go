package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage labels for RejectionsTotal, one per gatekeeping layer.
const (
	StageBlocklist = "blocklist"
	StageHeaders   = "headers"
	StageOrigin    = "origin"
	StageRateLimit = "ratelimit"
	StageSanitize  = "sanitize"
	StageCSRF      = "csrf"
	StageAdmin     = "admin"
)

// Metrics holds all Prometheus metrics for the gatekeeper.
// Every Observe method is safe to call on a nil *Metrics.
type Metrics struct {
	// Rejections
	RejectionsTotal    *prometheus.CounterVec
	RateLimitHitsTotal *prometheus.CounterVec

	// Blocklist and sanitizer
	BlockedIPsTotal      prometheus.Counter
	BlockedIPsActive     prometheus.Gauge
	SanitizedValuesTotal prometheus.Counter

	// Shared stores and audit sinks
	StoreFailoversTotal *prometheus.CounterVec
	AuditDroppedTotal   prometheus.Counter
	AuditWriteDuration  *prometheus.HistogramVec

	// Latency
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		RejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_rejections_total",
				Help: "Total number of requests rejected by a gatekeeping stage",
			},
			[]string{"stage", "code"},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_rate_limit_hits_total",
				Help: "Total number of requests over a rate limit ceiling",
			},
			[]string{"policy", "limit_type"},
		),

		BlockedIPsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_blocked_ips_total",
				Help: "Total number of IPs added to the blocklist",
			},
		),
		BlockedIPsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_blocked_ips_active",
				Help: "Number of IPs currently on the blocklist (as of the last admin listing)",
			},
		),
		SanitizedValuesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_sanitized_values_total",
				Help: "Total number of JSON string values rewritten by the sanitizer",
			},
		),
		StoreFailoversTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_store_failovers_total",
				Help: "Total number of shared-store operations served by the in-memory fallback",
			},
			[]string{"store"},
		),
		AuditDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_audit_events_dropped_total",
				Help: "Total number of security events dropped because the audit queue was full or the sink failed",
			},
		),
		AuditWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_audit_write_duration_seconds",
				Help:    "Durable audit sink write duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"backend"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_request_duration_seconds",
				Help:    "Request duration including all gatekeeping stages",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"route_group"},
		),
	}
}

// ObserveRejection records a terminal rejection by a gatekeeping stage.
func (m *Metrics) ObserveRejection(stage, code string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(stage, code).Inc()
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(policy, limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(policy, limitType).Inc()
}

// ObserveBlockedIP records a new blocklist entry.
func (m *Metrics) ObserveBlockedIP() {
	if m == nil {
		return
	}
	m.BlockedIPsTotal.Inc()
}

// SetBlockedIPsActive records the current blocklist size.
func (m *Metrics) SetBlockedIPsActive(n int) {
	if m == nil {
		return
	}
	m.BlockedIPsActive.Set(float64(n))
}

// ObserveSanitized records how many string values a request body had rewritten.
func (m *Metrics) ObserveSanitized(values int) {
	if m == nil || values <= 0 {
		return
	}
	m.SanitizedValuesTotal.Add(float64(values))
}

// ObserveFailover records an operation served by the in-memory fallback.
func (m *Metrics) ObserveFailover(store string) {
	if m == nil {
		return
	}
	m.StoreFailoversTotal.WithLabelValues(store).Inc()
}

// ObserveAuditDropped records a dropped security event.
func (m *Metrics) ObserveAuditDropped() {
	if m == nil {
		return
	}
	m.AuditDroppedTotal.Inc()
}

// ObserveAuditWrite records a durable audit sink write.
func (m *Metrics) ObserveAuditWrite(backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AuditWriteDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// ObserveRequest records end-to-end request latency for a route group.
func (m *Metrics) ObserveRequest(routeGroup string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(routeGroup).Observe(duration.Seconds())
}
