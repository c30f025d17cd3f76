// Package gatekeeper assembles the security middleware stack for embedding in another
// service or for standalone serving from cmd/server.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/staffdesk/gatekeeper/internal/audit"
	"github.com/staffdesk/gatekeeper/internal/blocklist"
	"github.com/staffdesk/gatekeeper/internal/circuitbreaker"
	"github.com/staffdesk/gatekeeper/internal/config"
	"github.com/staffdesk/gatekeeper/internal/cookies"
	"github.com/staffdesk/gatekeeper/internal/dbpool"
	"github.com/staffdesk/gatekeeper/internal/httpserver"
	"github.com/staffdesk/gatekeeper/internal/lifecycle"
	"github.com/staffdesk/gatekeeper/internal/logger"
	"github.com/staffdesk/gatekeeper/internal/metrics"
	"github.com/staffdesk/gatekeeper/internal/ratelimit"
	"github.com/staffdesk/gatekeeper/internal/session"
)

// App wires the gatekeeping components around a chi router.
type App struct {
	Config    *config.Config
	Sessions  *session.Manager
	Blocklist *blocklist.Blocklist
	Recorder  audit.Recorder
	Metrics   *metrics.Metrics

	router          chi.Router
	registry        prometheus.Gatherer
	resourceManager *lifecycle.Manager
}

// Option configures App construction.
type Option func(*options)

type options struct {
	router       chi.Router
	routes       []func(chi.Router)
	logger       *zerolog.Logger
	registry     *prometheus.Registry
	redis        redis.UniversalClient
	rateStore    ratelimit.Store
	blockStore   blocklist.Store
	sessionStore session.Store
	recorder     audit.Recorder
}

// WithRouter allows callers to provide an existing chi.Router to register routes onto.
// The router must not have routes yet.
func WithRouter(router chi.Router) Option {
	return func(o *options) {
		o.router = router
	}
}

// WithRoutes mounts application handlers behind the full middleware chain.
func WithRoutes(mounts ...func(chi.Router)) Option {
	return func(o *options) {
		o.routes = append(o.routes, mounts...)
	}
}

// WithLogger replaces the logger built from the logging config.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &log
	}
}

// WithRegistry registers metrics on registry instead of a private one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithRedisClient shares an existing client for rate limit counters and the blocklist.
// The app does not close it.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		o.redis = client
	}
}

// WithRateLimitStore overrides the rate limit counter store.
func WithRateLimitStore(store ratelimit.Store) Option {
	return func(o *options) {
		o.rateStore = store
	}
}

// WithBlocklistStore overrides the blocklist store.
func WithBlocklistStore(store blocklist.Store) Option {
	return func(o *options) {
		o.blockStore = store
	}
}

// WithSessionStore overrides the in-memory session store.
func WithSessionStore(store session.Store) Option {
	return func(o *options) {
		o.sessionStore = store
	}
}

// WithRecorder replaces the audit recorder selected by the audit config.
func WithRecorder(recorder audit.Recorder) Option {
	return func(o *options) {
		o.recorder = recorder
	}
}

// NewApp assembles the gatekeeper for embedding. Resources opened here are released by Close.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("gatekeeper: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	var log zerolog.Logger
	if optState.logger != nil {
		log = *optState.logger
	} else {
		log = logger.New(logger.Config{
			Level:       cfg.Logging.Level,
			Format:      cfg.Logging.Format,
			Service:     "gatekeeper",
			Environment: cfg.Environment,
		})
	}

	registry := optState.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	app := &App{
		Config:          cfg,
		Metrics:         metrics.New(registry),
		registry:        registry,
		resourceManager: lifecycle.NewManager(log),
	}
	fail := func(err error) (*App, error) {
		_ = app.resourceManager.Close()
		return nil, err
	}

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, log)

	client := optState.redis
	if client == nil && cfg.Redis.Addr != "" {
		owned := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.resourceManager.Register("redis", owned)
		client = owned
	}

	rateStore, err := newRateStore(cfg, optState.rateStore, client, breakers, app.Metrics, log)
	if err != nil {
		return fail(err)
	}
	blockStore := newBlockStore(cfg, optState.blockStore, client, breakers, app.Metrics, log)
	if client == nil {
		log.Warn().Msg("gatekeeper: rate limit counters and blocklist are in process memory and not shared across instances")
	}

	if optState.recorder != nil {
		app.Recorder = optState.recorder
	} else {
		recorder, err := newRecorder(context.Background(), cfg, app.resourceManager, breakers, app.Metrics, log)
		if err != nil {
			return fail(err)
		}
		app.Recorder = recorder
	}

	sessionStore := optState.sessionStore
	if sessionStore == nil {
		mem := session.NewMemoryStore(cfg.Session.MaxSessions)
		app.resourceManager.Register("session-store", mem)
		sessionStore = mem
	}
	app.Sessions = session.NewManager(sessionStore, cookies.Policy{Production: cfg.IsProduction()}, session.Config{
		TTL:             cfg.Session.TTL.Duration,
		AccessTokenTTL:  cfg.Session.AccessTokenTTL.Duration,
		RefreshTokenTTL: cfg.Session.RefreshTokenTTL.Duration,
	})

	app.Blocklist = blocklist.New(blockStore, blocklist.Options{
		TTL:      cfg.Blocklist.TTL.Duration,
		Recorder: app.Recorder,
		Metrics:  app.Metrics,
	})

	if optState.router != nil {
		app.router = optState.router
	} else {
		app.router = chi.NewRouter()
	}

	deps := httpserver.Deps{
		Config:    cfg,
		Logger:    log,
		Metrics:   app.Metrics,
		Gatherer:  registry,
		Recorder:  app.Recorder,
		Sessions:  app.Sessions,
		Blocklist: app.Blocklist,
		RateStore: rateStore,
		Routes:    optState.routes,
	}
	if client != nil {
		deps.Store = redisPinger{client}
	}
	if err := httpserver.ConfigureRouter(app.router, deps); err != nil {
		return fail(err)
	}

	return app, nil
}

func newRateStore(cfg *config.Config, override ratelimit.Store, client redis.UniversalClient, breakers *circuitbreaker.Manager, m *metrics.Metrics, log zerolog.Logger) (ratelimit.Store, error) {
	if override != nil {
		return override, nil
	}
	mem, err := ratelimit.NewMemoryStore(cfg.RateLimit.MaxKeys)
	if err != nil {
		return nil, fmt.Errorf("rate limit store: %w", err)
	}
	if client == nil {
		return mem, nil
	}
	return ratelimit.NewFailoverStore(ratelimit.NewRedisStore(client, cfg.Redis.Timeout.Duration), mem, breakers, m, log), nil
}

func newBlockStore(cfg *config.Config, override blocklist.Store, client redis.UniversalClient, breakers *circuitbreaker.Manager, m *metrics.Metrics, log zerolog.Logger) blocklist.Store {
	if override != nil {
		return override
	}
	mem := blocklist.NewMemoryStore()
	if client == nil {
		return mem
	}
	return blocklist.NewFailoverStore(blocklist.NewRedisStore(client, cfg.Redis.Timeout.Duration), mem, breakers, m, log)
}

// newRecorder always logs events; a durable backend is written through a bounded queue so
// a slow database never holds up a rejection.
func newRecorder(ctx context.Context, cfg *config.Config, resources *lifecycle.Manager, breakers *circuitbreaker.Manager, m *metrics.Metrics, log zerolog.Logger) (audit.Recorder, error) {
	logRecorder := audit.NewLogRecorder(log)

	var durable audit.Recorder
	switch cfg.Audit.Backend {
	case "postgres":
		pool, err := dbpool.NewSharedPool(ctx, cfg.Audit.PostgresURL, cfg.Audit.PostgresPool)
		if err != nil {
			return nil, fmt.Errorf("audit postgres: %w", err)
		}
		resources.Register("postgres-pool", pool)
		rec, err := audit.NewPostgresRecorder(ctx, pool.DB(), cfg.Audit.PostgresTable, breakers, m)
		if err != nil {
			return nil, fmt.Errorf("audit postgres: %w", err)
		}
		durable = rec
	case "mongodb":
		rec, err := audit.NewMongoRecorder(ctx, cfg.Audit.MongoDBURL, cfg.Audit.MongoDBDatabase, cfg.Audit.MongoDBCollection, breakers, m)
		if err != nil {
			return nil, fmt.Errorf("audit mongodb: %w", err)
		}
		resources.Register("audit-mongodb", rec)
		durable = rec
	default:
		return logRecorder, nil
	}

	// Registered after the backend so it drains before the backend closes.
	queue := audit.NewAsyncRecorder(durable, cfg.Audit.QueueSize, log, m)
	resources.Register("audit-queue", queue)
	log.Info().Str("backend", cfg.Audit.Backend).Msg("gatekeeper: durable audit sink enabled")

	return audit.Multi{logRecorder, queue}, nil
}

type redisPinger struct {
	client redis.UniversalClient
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Router returns the chi router with gatekeeper middleware and routes registered.
func (a *App) Router() chi.Router {
	return a.router
}

// Handler exposes the router as an http.Handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Gatherer returns the registry the app's metrics are registered on.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.registry
}

// Close releases resources owned by the app: the audit queue, database clients, the Redis
// client it created and the session sweeper. Safe to call more than once.
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// NewHandler is a convenience that constructs an App and returns its handler.
func NewHandler(cfg *config.Config, opts ...Option) (http.Handler, func(context.Context) error, error) {
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func(context.Context) error {
		return app.Close()
	}
	return app.Handler(), shutdown, nil
}

// Config is an exported alias of the internal configuration struct for embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the gatekeeper.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
