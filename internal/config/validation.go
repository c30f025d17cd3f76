package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MinSessionSecretBytes is the minimum SESSION_SECRET length accepted in production.
const MinSessionSecretBytes = 32

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	c.Environment = normalizeEnvironment(c.Environment)

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		if c.Environment == EnvDevelopment {
			c.Logging.Format = "console"
		} else {
			c.Logging.Format = "json"
		}
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.CSRF.MinTokenLength <= 0 {
		c.CSRF.MinTokenLength = 32
	}
	if c.Audit.Backend == "" {
		c.Audit.Backend = "log"
	}
	c.Audit.Backend = strings.ToLower(strings.TrimSpace(c.Audit.Backend))
	if c.Audit.MongoDBDatabase == "" {
		c.Audit.MongoDBDatabase = "gatekeeper"
	}

	// The general policy has no block of its own; unset burst values fall back to 20/1s.
	if c.RateLimit.BurstWindow.Duration <= 0 {
		c.RateLimit.BurstWindow = Duration{Duration: time.Second}
	}
	if c.RateLimit.BurstMax <= 0 {
		c.RateLimit.BurstMax = 20
	}
	if c.RateLimit.MaxKeys <= 0 {
		c.RateLimit.MaxKeys = 100000
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	switch c.Environment {
	case EnvProduction, EnvDevelopment, EnvTest:
	default:
		errs = append(errs, fmt.Sprintf("environment %q must be one of production, development, test", c.Environment))
	}

	if c.IsProduction() && len(c.Session.Secret) < MinSessionSecretBytes {
		errs = append(errs, fmt.Sprintf("session.secret (SESSION_SECRET) must be at least %d bytes in production", MinSessionSecretBytes))
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Window.Duration <= 0 {
			errs = append(errs, "rate_limit.window (RATE_LIMIT_WINDOW_MS) must be positive")
		}
		if c.RateLimit.MaxRequests <= 0 {
			errs = append(errs, "rate_limit.max_requests (RATE_LIMIT_MAX_REQUESTS) must be positive")
		}
		if c.RateLimit.UserMaxRequests <= 0 {
			errs = append(errs, "rate_limit.user_max_requests (RATE_LIMIT_USER_MAX_REQUESTS) must be positive")
		}
		for name, p := range map[string]PolicyConfig{
			"login":    c.RateLimit.Login,
			"document": c.RateLimit.Document,
			"search":   c.RateLimit.Search,
		} {
			if p.Window.Duration <= 0 || p.IPMax <= 0 || p.UserMax <= 0 {
				errs = append(errs, fmt.Sprintf("rate_limit.%s must define a positive window, ip_max and user_max", name))
			}
		}
		for prefix, policy := range c.RateLimit.Routes {
			switch policy {
			case "general", "login", "document", "search":
			default:
				errs = append(errs, fmt.Sprintf("rate_limit.routes[%q] references unknown policy %q", prefix, policy))
			}
		}
		if c.RateLimit.GlobalEnabled && (c.RateLimit.GlobalLimit <= 0 || c.RateLimit.GlobalWindow.Duration <= 0) {
			errs = append(errs, "rate_limit.global_limit and rate_limit.global_window must be positive when global_enabled")
		}
	}

	if c.Sanitize.MaxBodyBytes <= 0 {
		errs = append(errs, "sanitize.max_body_bytes (MAX_BODY_BYTES) must be positive")
	}
	if c.Blocklist.TTL.Duration < 0 {
		errs = append(errs, "blocklist.ttl (BLOCKLIST_TTL) must not be negative")
	}

	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "server.tls_cert_file and server.tls_key_file must be set together")
	}
	if c.Server.TLSClientCAFile != "" && c.Server.TLSCertFile == "" {
		errs = append(errs, "server.tls_client_ca_file requires server.tls_cert_file")
	}

	switch c.Audit.Backend {
	case "log":
	case "postgres":
		if c.Audit.PostgresURL == "" {
			errs = append(errs, "audit.postgres_url (AUDIT_POSTGRES_URL) is required when audit.backend is postgres")
		}
	case "mongodb":
		if c.Audit.MongoDBURL == "" {
			errs = append(errs, "audit.mongodb_url (AUDIT_MONGODB_URL) is required when audit.backend is mongodb")
		}
	default:
		errs = append(errs, fmt.Sprintf("audit.backend %q must be one of log, postgres, mongodb", c.Audit.Backend))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// normalizeEnvironment maps common spellings onto the accepted environment names.
func normalizeEnvironment(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "development", "local":
		return EnvDevelopment
	case "prod", "production":
		return EnvProduction
	case "test", "testing":
		return EnvTest
	default:
		return strings.ToLower(strings.TrimSpace(env))
	}
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 2
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
