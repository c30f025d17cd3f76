package httpserver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/staffdesk/gatekeeper/internal/apikey"
	"github.com/staffdesk/gatekeeper/internal/audit"
	"github.com/staffdesk/gatekeeper/internal/blocklist"
	"github.com/staffdesk/gatekeeper/internal/config"
	"github.com/staffdesk/gatekeeper/internal/csp"
	"github.com/staffdesk/gatekeeper/internal/csrf"
	"github.com/staffdesk/gatekeeper/internal/logger"
	"github.com/staffdesk/gatekeeper/internal/metrics"
	"github.com/staffdesk/gatekeeper/internal/netclass"
	"github.com/staffdesk/gatekeeper/internal/origin"
	"github.com/staffdesk/gatekeeper/internal/ratelimit"
	"github.com/staffdesk/gatekeeper/internal/sanitize"
	"github.com/staffdesk/gatekeeper/internal/session"
)

var (
	serverStartTime = time.Now()
)

// Pinger reports whether a shared store is reachable. Used by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries the stateful components the router is assembled from. Middleware that is a pure
// function of configuration is built inside ConfigureRouter.
type Deps struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer // served on /metrics
	Recorder  audit.Recorder
	Sessions  *session.Manager
	Blocklist *blocklist.Blocklist
	RateStore ratelimit.Store
	Store     Pinger // shared store, nil when running in memory

	// Routes mount collaborator handlers behind the full gatekeeping chain.
	Routes []func(chi.Router)
}

type handlers struct {
	cfg      *config.Config
	origins  int
	internal int
	store    Pinger
	logger   zerolog.Logger
}

// Server wraps http.Server with TLS and mutual TLS support.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	log        zerolog.Logger
}

// New builds a server around an already configured handler.
func New(cfg config.ServerConfig, handler http.Handler, log zerolog.Logger) *Server {
	return &Server{
		cfg: cfg,
		log: log,
		httpServer: &http.Server{
			Addr:              cfg.Address,
			ReadTimeout:       cfg.ReadTimeout.Duration,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      cfg.WriteTimeout.Duration,
			IdleTimeout:       cfg.IdleTimeout.Duration,
			Handler:           handler,
		},
	}
}

// ConfigureRouter attaches the gatekeeping chain, the built-in routes and collaborator routes
// to router. Every configuration problem is returned before any route is registered.
func ConfigureRouter(router chi.Router, deps Deps) error {
	if router == nil {
		return errors.New("httpserver: router required")
	}
	cfg := deps.Config
	if cfg == nil {
		return errors.New("httpserver: config required")
	}
	log := deps.Logger
	m := deps.Metrics
	recorder := audit.OrLog(deps.Recorder)

	headers := securityHeaders(cfg)

	policy := csp.DefaultPolicy()
	policy.ReportURI = cfg.CSP.ReportURI
	nonces, err := csp.Middleware(policy, m)
	if err != nil {
		return fmt.Errorf("csp policy: %w", err)
	}

	allowed := origin.ParseAllowed(cfg.CORS.Origins, log)
	classifier, skipped := netclass.NewClassifier(cfg.CORS.InternalCIDRs)
	for _, err := range skipped {
		log.Warn().Err(err).Msg("netclass.invalid_cidr_skipped")
	}
	validator := origin.NewValidator(allowed, origin.Options{
		APIKeys:     apikey.NewSet(cfg.CORS.OriginlessAPIKeys),
		Classifier:  classifier,
		ExemptPaths: cfg.CORS.OriginlessExemptPaths,
		Recorder:    recorder,
		Metrics:     m,
	})

	guard, err := csrf.New(csrf.Config{
		Enabled:        cfg.CSRF.Enabled,
		Secret:         cfg.Session.Secret,
		Production:     cfg.IsProduction(),
		MaxAge:         cfg.CSRF.TokenMaxAge.Duration,
		ExemptPaths:    cfg.CSRF.ExemptPaths,
		StaticPrefixes: cfg.CSRF.StaticPrefixes,
		SensitivePaths: cfg.CSRF.SensitivePaths,
		MinTokenLength: cfg.CSRF.MinTokenLength,
		TrustedOrigins: allowed.Snapshot(),
		Recorder:       recorder,
		Metrics:        m,
	}, log)
	if err != nil {
		return fmt.Errorf("csrf guard: %w", err)
	}

	var limits []func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		rlRouter, err := ratelimit.NewRouter(ratelimit.PoliciesFromConfig(cfg.RateLimit), cfg.RateLimit.Routes)
		if err != nil {
			return fmt.Errorf("rate limit policies: %w", err)
		}
		store := deps.RateStore
		if store == nil {
			if store, err = ratelimit.NewMemoryStore(cfg.RateLimit.MaxKeys); err != nil {
				return fmt.Errorf("rate limit store: %w", err)
			}
		}
		limits = append(limits,
			ratelimit.GlobalLimiter(ratelimit.GlobalConfig{
				Enabled: cfg.RateLimit.GlobalEnabled,
				Limit:   cfg.RateLimit.GlobalLimit,
				Window:  cfg.RateLimit.GlobalWindow.Duration,
			}, m),
			ratelimit.Middleware(ratelimit.NewLimiter(store), rlRouter, ratelimit.Options{Recorder: recorder, Metrics: m}),
		)
	}

	sanitizer := sanitize.New(sanitize.Config{
		MaxBodyBytes:     cfg.Sanitize.MaxBodyBytes,
		StripHTML:        cfg.Sanitize.StripHTML,
		AllowMarkupPaths: cfg.Sanitize.AllowMarkupPaths,
		Blocker:          blockerOrNil(deps.Blocklist),
		Recorder:         recorder,
		Metrics:          m,
	})

	h := &handlers{
		cfg:      cfg,
		origins:  allowed.Len(),
		internal: len(classifier.Prefixes()),
		store:    deps.Store,
		logger:   log,
	}

	// Enrichment only: nothing here rejects a request.
	router.Use(logger.Middleware(log))
	router.Use(recoverer)
	if cfg.Server.TrustProxy {
		router.Use(middleware.RealIP)
	}

	// Admin routes skip the blocklist so an operator can always reach the unblock endpoint.
	if cfg.Server.AdminAPIKey != "" {
		router.Group(func(r chi.Router) {
			r.Use(metrics.Middleware(m, "admin"))
			r.Use(headers, nonces, validator.Middleware)
			r.Use(adminAuth(cfg.Server.AdminAPIKey, recorder, m))

			gatherer := deps.Gatherer
			if gatherer == nil {
				gatherer = prometheus.DefaultGatherer
			}
			r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
			if deps.Blocklist != nil {
				r.Route("/admin/blocklist", deps.Blocklist.Routes)
			}
		})
	} else {
		log.Info().Msg("httpserver.admin_disabled: ADMIN_API_KEY unset")
	}

	// Main chain, in order: blocklist, headers and CSP, origin, identity, rate limits,
	// sanitizer, CSRF.
	chain := []func(http.Handler) http.Handler{metrics.Middleware(m, "api")}
	if deps.Blocklist != nil && cfg.Blocklist.Enabled {
		chain = append(chain, deps.Blocklist.Middleware)
	}
	chain = append(chain, headers, nonces, validator.Middleware)
	if deps.Sessions != nil {
		chain = append(chain, deps.Sessions.Middleware)
	}
	chain = append(chain, limits...)
	chain = append(chain, sanitizer.Middleware, guard.Middleware)

	router.Group(func(r chi.Router) {
		r.Use(chain...)

		r.Get("/health", h.health)
		r.Get("/api/csrf-token", csrf.TokenHandler)
		r.Get("/", h.shell)
		r.Get("/api/whoami", h.whoami)
		r.Post("/api/echo", h.echo)

		for _, mount := range deps.Routes {
			mount(r)
		}
	})

	// Unknown paths get the same treatment as known ones.
	router.NotFound(chi.Chain(chain...).HandlerFunc(notFound).ServeHTTP)
	router.MethodNotAllowed(chi.Chain(chain...).HandlerFunc(methodNotAllowed).ServeHTTP)

	return nil
}

// blockerOrNil keeps a nil *Blocklist from becoming a non-nil interface.
func blockerOrNil(b *blocklist.Blocklist) sanitize.Blocker {
	if b == nil {
		return nil
	}
	return b
}

// ListenAndServe starts the HTTP server, with TLS when a certificate is configured. A client CA
// enables mutual TLS: verified client certificates mark callers as internal.
func (s *Server) ListenAndServe() error {
	if s.cfg.TLSCertFile == "" {
		s.log.Info().Str("address", s.cfg.Address).Msg("httpserver.listening")
		return s.httpServer.ListenAndServe()
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if s.cfg.TLSClientCAFile != "" {
		pool, err := loadCertPool(s.cfg.TLSClientCAFile)
		if err != nil {
			return err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}
	s.httpServer.TLSConfig = tlsConfig

	s.log.Info().
		Str("address", s.cfg.Address).
		Bool("mtls", s.cfg.TLSClientCAFile != "").
		Msg("httpserver.listening_tls")
	return s.httpServer.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("client CA %s: no certificates found", path)
	}
	return pool, nil
}
