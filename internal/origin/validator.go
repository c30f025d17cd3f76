package origin

import (
	"net/http"
	"strings"

	"github.com/staffdesk/gatekeeper/internal/apikey"
	"github.com/staffdesk/gatekeeper/internal/audit"
	apierrors "github.com/staffdesk/gatekeeper/internal/errors"
	"github.com/staffdesk/gatekeeper/internal/logger"
	"github.com/staffdesk/gatekeeper/internal/metrics"
	"github.com/staffdesk/gatekeeper/internal/netclass"
)

var (
	allowMethods = "GET,POST,PUT,DELETE,OPTIONS"
	allowHeaders = strings.Join([]string{
		"Content-Type", "Authorization", "X-CSRF-Token", "X-XSRF-Token",
		"X-Requested-With", apikey.Header, "X-Request-ID",
	}, ",")
	exposeHeaders = strings.Join([]string{
		"X-CSRF-Token", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining",
		"X-RateLimit-Reset", "Retry-After",
	}, ",")
)

// Options configures how originless callers are admitted.
type Options struct {
	APIKeys     *apikey.Set
	Classifier  *netclass.Classifier
	ExemptPaths []string
	Recorder    audit.Recorder
	Metrics     *metrics.Metrics
}

// Validator admits requests by Origin header. It is immutable and safe for concurrent use.
type Validator struct {
	allowed    *AllowedSet
	keys       *apikey.Set
	classifier *netclass.Classifier
	exempt     map[string]struct{}
	recorder   audit.Recorder
	metrics    *metrics.Metrics
}

// NewValidator creates a validator over allowed.
func NewValidator(allowed *AllowedSet, opts Options) *Validator {
	exempt := make(map[string]struct{}, len(opts.ExemptPaths))
	for _, p := range opts.ExemptPaths {
		exempt[p] = struct{}{}
	}
	return &Validator{
		allowed:    allowed,
		keys:       opts.APIKeys,
		classifier: opts.Classifier,
		exempt:     exempt,
		recorder:   audit.OrLog(opts.Recorder),
		metrics:    opts.Metrics,
	}
}

// Middleware applies the origin decision before any other gatekeeping stage sees the request.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// An empty Origin value is treated as absent; "null" is an ordinary unlisted origin.
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !v.allowed.Contains(origin) {
				v.reject(w, r, apierrors.ErrCodeOriginNotAllowed, "Origin not allowed")
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Expose-Headers", exposeHeaders)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if !v.admitOriginless(r) {
			v.reject(w, r, apierrors.ErrCodeOriginRequired, "Origin header required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (v *Validator) admitOriginless(r *http.Request) bool {
	if v.keys.Authorized(r) {
		return true
	}
	if v.classifier.IsInternal(r) {
		return true
	}
	_, ok := v.exempt[r.URL.Path]
	return ok
}

func (v *Validator) reject(w http.ResponseWriter, r *http.Request, code apierrors.ErrorCode, msg string) {
	ev := audit.FromRequest(r, audit.EventOriginRejected, string(code)).
		With("allowed_origins", strings.Join(v.allowed.Snapshot(), ","))
	if key := apikey.FromRequest(r); key != "" {
		ev = ev.With("presented_key", logger.RedactKey(key))
	}
	audit.Emit(r.Context(), v.recorder, ev)
	v.metrics.ObserveRejection(metrics.StageOrigin, string(code))
	apierrors.WriteError(w, code, msg)
}
