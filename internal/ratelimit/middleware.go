package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/staffdesk/gatekeeper/internal/audit"
	apierrors "github.com/staffdesk/gatekeeper/internal/errors"
	"github.com/staffdesk/gatekeeper/internal/logger"
	"github.com/staffdesk/gatekeeper/internal/metrics"
	"github.com/staffdesk/gatekeeper/internal/netclass"
	"github.com/staffdesk/gatekeeper/internal/session"
)

// Response headers.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Options configures Middleware.
type Options struct {
	Recorder audit.Recorder
	Metrics  *metrics.Metrics
}

// Middleware applies the policy chosen by router to every request.
func Middleware(l *Limiter, router *Router, opts Options) func(http.Handler) http.Handler {
	recorder := audit.OrLog(opts.Recorder)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			p := router.Classify(r.URL.Path)

			d, err := l.Check(ctx, p, netclass.ClientIP(r), session.UserID(ctx))
			if err != nil {
				log := logger.FromContext(ctx)
				log.Error().Err(err).Str("policy", p.Name).Msg("ratelimit.check_failed")
				opts.Metrics.ObserveRejection(metrics.StageRateLimit, string(apierrors.ErrCodeInternalError))
				apierrors.WriteError(w, apierrors.ErrCodeInternalError, "Internal server error")
				return
			}

			setHeaders(w, d)

			if !d.Allowed {
				code := apierrors.RateLimitCode(string(d.LimitType), d.Policy)
				ev := audit.FromRequest(r, audit.EventRateLimited, string(code)).
					With("policy", d.Policy).
					With("limit_type", string(d.LimitType))
				audit.Emit(ctx, recorder, ev)
				opts.Metrics.ObserveRateLimit(d.Policy, string(d.LimitType))
				opts.Metrics.ObserveRejection(metrics.StageRateLimit, string(code))
				apierrors.WriteRateLimited(w, code, "Too many requests, please try again later",
					d.RetryAfter(l.now()), string(d.LimitType))
				return
			}

			if !p.SkipSuccessful {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if status := ww.Status(); status == 0 || status < http.StatusBadRequest {
				if err := l.Rollback(ctx, d); err != nil {
					log := logger.FromContext(ctx)
					log.Warn().Err(err).Str("policy", p.Name).Msg("ratelimit.rollback_failed")
				}
			}
		})
	}
}

func setHeaders(w http.ResponseWriter, d Decision) {
	if d.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
}

