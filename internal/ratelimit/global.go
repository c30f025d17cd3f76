package ratelimit

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	apierrors "github.com/staffdesk/gatekeeper/internal/errors"
	"github.com/staffdesk/gatekeeper/internal/metrics"
)

// GlobalConfig configures the process-wide ceiling shared by every caller.
type GlobalConfig struct {
	Enabled bool
	Limit   int           // requests per window
	Window  time.Duration // time window
}

// GlobalLimiter creates a global rate limiter middleware.
func GlobalLimiter(cfg GlobalConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	if !cfg.Enabled || cfg.Limit <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	retryAfter := retryAfterWindow(cfg.Window)
	return httprate.Limit(
		cfg.Limit,
		cfg.Window,
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			m.ObserveRateLimit("global", "GLOBAL")
			m.ObserveRejection(metrics.StageRateLimit, string(apierrors.ErrCodeRateLimitGlobal))
			apierrors.WriteRateLimited(w, apierrors.ErrCodeRateLimitGlobal,
				"Global rate limit exceeded. Please try again later.", retryAfter, "GLOBAL")
		}),
	)
}

// retryAfterWindow is the Retry-After for global rejections; httprate does not expose the
// window reset time to the limit handler.
func retryAfterWindow(window time.Duration) time.Duration {
	if window <= 0 {
		return time.Second
	}
	return window
}
