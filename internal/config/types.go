package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Environment names accepted by Config.Environment.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Environment    string               `yaml:"environment"` // production | development | test
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	CORS           CORSConfig           `yaml:"cors"`
	CSRF           CSRFConfig           `yaml:"csrf"`
	CSP            CSPConfig            `yaml:"csp"`
	Session        SessionConfig        `yaml:"session"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Blocklist      BlocklistConfig      `yaml:"blocklist"`
	Sanitize       SanitizeConfig       `yaml:"sanitize"`
	Redis          RedisConfig          `yaml:"redis"`
	Audit          AuditConfig          `yaml:"audit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// IsProduction reports whether production-only hardening (cookie prefixes, Secure flag, HSTS) applies.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	TrustProxy      bool     `yaml:"trust_proxy"`       // Honor X-Forwarded-For / X-Real-IP for client IP
	TLSCertFile     string   `yaml:"tls_cert_file"`     // Serve TLS when set together with TLSKeyFile
	TLSKeyFile      string   `yaml:"tls_key_file"`
	TLSClientCAFile string   `yaml:"tls_client_ca_file"` // Enables mutual TLS classification of internal callers
	AdminAPIKey     string   `yaml:"admin_api_key"`      // Bearer key for /admin and /metrics (empty disables admin routes)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // json, console (default: json)
}

// CORSConfig holds origin validation configuration.
type CORSConfig struct {
	// Origins is the raw comma-separated allow-list (CORS_ORIGINS). Parsed and validated by the origin package.
	Origins               string   `yaml:"origins"`
	OriginlessAPIKeys     []string `yaml:"originless_api_keys"`     // Pre-shared keys that substitute for an Origin header
	InternalCIDRs         []string `yaml:"internal_cidrs"`          // Networks whose originless callers are trusted
	OriginlessExemptPaths []string `yaml:"originless_exempt_paths"` // Paths that accept originless callers unconditionally (default: none)
}

// CSRFConfig holds CSRF guard configuration.
type CSRFConfig struct {
	Enabled        bool     `yaml:"enabled"`
	TokenMaxAge    Duration `yaml:"token_max_age"`    // Lifetime of the CSRF secret cookie
	ExemptPaths    []string `yaml:"exempt_paths"`     // Exact paths never checked
	StaticPrefixes []string `yaml:"static_prefixes"`  // Static asset prefixes never checked
	SensitivePaths []string `yaml:"sensitive_paths"`  // Path segments that enforce a minimum token length
	MinTokenLength int      `yaml:"min_token_length"` // Minimum submitted token length on sensitive paths
}

// CSPConfig holds Content-Security-Policy configuration.
type CSPConfig struct {
	ReportURI string `yaml:"report_uri"`
}

// SessionConfig holds session and cookie configuration.
type SessionConfig struct {
	Secret          string   `yaml:"secret"`            // SESSION_SECRET; HKDF input for CSRF keys
	TTL             Duration `yaml:"ttl"`               // Session cookie and record lifetime
	AccessTokenTTL  Duration `yaml:"access_token_ttl"`  // Auth access cookie lifetime
	RefreshTokenTTL Duration `yaml:"refresh_token_ttl"` // Auth refresh cookie lifetime
	MaxSessions     int      `yaml:"max_sessions"`      // In-memory session store capacity
}

// RateLimitConfig holds rate limiting configuration.
// Window/MaxRequests/UserMaxRequests seed the general policy; the other policies have their own blocks.
type RateLimitConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Window          Duration `yaml:"window"`            // RATE_LIMIT_WINDOW_MS
	MaxRequests     int      `yaml:"max_requests"`      // RATE_LIMIT_MAX_REQUESTS (IP ceiling)
	UserMaxRequests int      `yaml:"user_max_requests"` // RATE_LIMIT_USER_MAX_REQUESTS (user ceiling)
	BurstWindow     Duration `yaml:"burst_window"`
	BurstMax        int      `yaml:"burst_max"`
	MaxKeys         int      `yaml:"max_keys"` // In-memory bucket capacity

	Login    PolicyConfig `yaml:"login"`
	Document PolicyConfig `yaml:"document"`
	Search   PolicyConfig `yaml:"search"`

	// Routes maps a path prefix to a policy name (login, document, search). Unmatched paths use general.
	Routes map[string]string `yaml:"routes"`

	// Global DoS ceiling across all callers
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`
}

// PolicyConfig configures one named rate limit policy.
type PolicyConfig struct {
	Window         Duration `yaml:"window"`
	IPMax          int      `yaml:"ip_max"`
	UserMax        int      `yaml:"user_max"`
	BurstWindow    Duration `yaml:"burst_window"`
	BurstMax       int      `yaml:"burst_max"`
	SkipSuccessful bool     `yaml:"skip_successful"`
}

// BlocklistConfig holds IP blocklist configuration.
type BlocklistConfig struct {
	Enabled bool     `yaml:"enabled"`
	TTL     Duration `yaml:"ttl"` // 0 keeps entries until an operator reset or restart
}

// SanitizeConfig holds request body sanitization configuration.
type SanitizeConfig struct {
	MaxBodyBytes     int64    `yaml:"max_body_bytes"`
	StripHTML        bool     `yaml:"strip_html"`         // Remove all markup, not only script/handler patterns
	AllowMarkupPaths []string `yaml:"allow_markup_paths"` // Prefixes where attack signatures are stripped instead of blocked
}

// RedisConfig configures the shared store used by rate limiting and the blocklist.
// An empty Addr keeps both stores in process memory.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	Timeout  Duration `yaml:"timeout"`
}

// AuditConfig selects where security events are recorded in addition to the log.
type AuditConfig struct {
	Backend           string             `yaml:"backend"` // log | postgres | mongodb
	PostgresURL       string             `yaml:"postgres_url"`
	PostgresTable     string             `yaml:"postgres_table"`
	PostgresPool      PostgresPoolConfig `yaml:"postgres_pool"`
	MongoDBURL        string             `yaml:"mongodb_url"`
	MongoDBDatabase   string             `yaml:"mongodb_database"`
	MongoDBCollection string             `yaml:"mongodb_collection"`
	QueueSize         int                `yaml:"queue_size"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 10)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 2)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// CircuitBreakerConfig holds circuit breaker configuration for shared stores.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Redis   BreakerServiceConfig `yaml:"redis"`
	Audit   BreakerServiceConfig `yaml:"audit"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
