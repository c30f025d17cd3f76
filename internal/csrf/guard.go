// Package csrf rejects state-changing requests that lack a token bound to the caller's
// CSRF secret cookie, and issues tokens on every response.
package csrf

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gorilla/csrf"
	"github.com/rs/zerolog"

	"github.com/staffdesk/gatekeeper/internal/audit"
	"github.com/staffdesk/gatekeeper/internal/cookies"
	apierrors "github.com/staffdesk/gatekeeper/internal/errors"
	"github.com/staffdesk/gatekeeper/internal/metrics"
)

const (
	// HeaderName carries the token on requests and responses.
	HeaderName = "X-CSRF-Token"
	// AliasHeaderName is accepted on requests for clients using the XSRF naming.
	AliasHeaderName = "X-XSRF-Token"
	// FieldName is the form or JSON body field carrying the token.
	FieldName = "_csrf"
)

// Config configures the guard.
type Config struct {
	Enabled        bool
	Secret         string
	Production     bool
	MaxAge         time.Duration
	ExemptPaths    []string
	StaticPrefixes []string
	SensitivePaths []string
	MinTokenLength int
	// TrustedOrigins lists the origins (scheme://host[:port]) allowed to submit unsafe requests.
	// Anything else carrying an Origin header fails the check even with a valid token.
	TrustedOrigins []string
	Recorder       audit.Recorder
	Metrics        *metrics.Metrics
}

// Guard wraps gorilla/csrf with the cookie policy, exemptions and the error contract.
type Guard struct {
	enabled   bool
	protect   func(http.Handler) http.Handler
	exempt    map[string]struct{}
	static    []string
	sensitive []string
	minLength int
	recorder  audit.Recorder
	metrics   *metrics.Metrics
}

// New builds a guard. Without a secret outside production a random key is generated and a
// warning logged.
func New(cfg Config, log zerolog.Logger) (*Guard, error) {
	g := &Guard{
		enabled:   cfg.Enabled,
		exempt:    make(map[string]struct{}, len(cfg.ExemptPaths)),
		static:    cfg.StaticPrefixes,
		sensitive: cfg.SensitivePaths,
		minLength: cfg.MinTokenLength,
		recorder:  audit.OrLog(cfg.Recorder),
		metrics:   cfg.Metrics,
	}
	for _, p := range cfg.ExemptPaths {
		g.exempt[p] = struct{}{}
	}
	if !cfg.Enabled {
		log.Warn().Msg("csrf.disabled")
		return g, nil
	}

	var key []byte
	var err error
	switch {
	case cfg.Secret != "":
		key, err = DeriveKey(cfg.Secret)
	case cfg.Production:
		err = errors.New("csrf: session secret required in production")
	default:
		log.Warn().Msg("csrf.ephemeral_key: SESSION_SECRET unset, tokens reset on restart")
		key, err = randomKey()
	}
	if err != nil {
		return nil, err
	}

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 12 * time.Hour
	}
	policy := cookies.Policy{Production: cfg.Production}

	opts := []csrf.Option{
		csrf.CookieName(policy.Name(cookies.CSRF)),
		csrf.Secure(cfg.Production),
		csrf.HttpOnly(true),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteStrictMode),
		csrf.MaxAge(int(maxAge/time.Second)),
		csrf.RequestHeader(HeaderName),
		csrf.FieldName(FieldName),
		csrf.ErrorHandler(http.HandlerFunc(g.fail)),
	}
	if hosts := trustedHosts(cfg.TrustedOrigins, log); len(hosts) > 0 {
		opts = append(opts, csrf.TrustedOrigins(hosts))
	}
	g.protect = csrf.Protect(key, opts...)
	return g, nil
}

// trustedHosts reduces origins to the host[:port] form gorilla/csrf compares against.
func trustedHosts(origins []string, log zerolog.Logger) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			log.Warn().Str("origin", o).Msg("csrf.trusted_origin_skipped")
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}

// Middleware enforces the token check on unsafe methods and sets X-CSRF-Token on every
// response it lets through.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	if !g.enabled {
		return next
	}

	inner := g.protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok := csrf.Token(r); tok != "" {
			w.Header().Set(HeaderName, tok)
		}
		next.ServeHTTP(w, r)
	}))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The origin validator runs first, so Referer is not required here. gorilla/csrf still
		// matches any Origin header against TrustedOrigins.
		r = csrf.PlaintextHTTPRequest(r)

		if r.Header.Get(HeaderName) == "" {
			if alias := r.Header.Get(AliasHeaderName); alias != "" {
				r.Header.Set(HeaderName, alias)
			} else if body := submittedFromContext(r.Context()); body != "" {
				r.Header.Set(HeaderName, body)
			}
		}

		if !isSafeMethod(r.Method) {
			if g.isExempt(r.URL.Path) {
				r = csrf.UnsafeSkipCheck(r)
			} else if tok := submittedToken(r); tok != "" && g.isSensitive(r.URL.Path) && len(tok) < g.minLength {
				g.reject(w, r, apierrors.ErrCodeCSRFTokenInvalid, "short token on sensitive path")
				return
			}
		}

		inner.ServeHTTP(w, r)
	})
}

// Token returns the masked token for r. Empty when the guard is disabled or skipped.
func Token(r *http.Request) string {
	return csrf.Token(r)
}

// TokenHandler serves {"csrfToken": "..."}.
func TokenHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(map[string]string{"csrfToken": Token(r)})
}

func (g *Guard) fail(w http.ResponseWriter, r *http.Request) {
	code := apierrors.ErrCodeCSRFTokenMissing
	if submittedToken(r) != "" {
		code = apierrors.ErrCodeCSRFTokenInvalid
	}
	g.reject(w, r, code, failureReason(csrf.FailureReason(r)))
}

// failureReason names the gorilla/csrf failure for the audit trail.
func failureReason(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case errors.Is(err, csrf.ErrBadOrigin):
		return "origin_not_trusted"
	case errors.Is(err, csrf.ErrNoReferer), errors.Is(err, csrf.ErrBadReferer):
		return "referer_mismatch"
	case errors.Is(err, csrf.ErrNoToken):
		return "token_missing"
	case errors.Is(err, csrf.ErrBadToken):
		return "token_mismatch"
	}
	return err.Error()
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, code apierrors.ErrorCode, reason string) {
	audit.Emit(r.Context(), g.recorder, audit.FromRequest(r, audit.EventCSRFRejected, string(code)).With("reason", reason))
	g.metrics.ObserveRejection(metrics.StageCSRF, string(code))

	msg := "CSRF token missing"
	if code == apierrors.ErrCodeCSRFTokenInvalid {
		msg = "CSRF token invalid"
	}
	if apierrors.WantsHTML(r) {
		writeErrorPage(w, r, code, msg)
		return
	}
	apierrors.WriteError(w, code, msg)
}

func (g *Guard) isExempt(p string) bool {
	if _, ok := g.exempt[p]; ok {
		return true
	}
	for _, prefix := range g.static {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return path.Ext(path.Base(p)) != ""
}

func (g *Guard) isSensitive(p string) bool {
	for _, s := range g.sensitive {
		if strings.Contains(p, s) {
			return true
		}
	}
	return false
}

// submittedToken returns the token presented in the header or form field.
func submittedToken(r *http.Request) string {
	if tok := r.Header.Get(HeaderName); tok != "" {
		return tok
	}
	return r.PostFormValue(FieldName)
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

type submittedKey struct{}

// WithSubmittedToken records a token lifted from a JSON body so the guard can use it when
// no header carries one.
func WithSubmittedToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, submittedKey{}, token)
}

func submittedFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(submittedKey{}).(string)
	return tok
}
