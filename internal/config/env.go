package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
func (c *Config) applyEnvOverrides() {
	// NODE_ENV is kept for deployments that share an environment file with the web frontend.
	setIfEnv(&c.Environment, "NODE_ENV")
	setIfEnv(&c.Environment, "APP_ENV")

	// Server config
	setIfEnv(&c.Server.Address, "SERVER_ADDRESS")
	setBoolIfEnv(&c.Server.TrustProxy, "TRUST_PROXY")
	setIfEnv(&c.Server.TLSCertFile, "TLS_CERT_FILE")
	setIfEnv(&c.Server.TLSKeyFile, "TLS_KEY_FILE")
	setIfEnv(&c.Server.TLSClientCAFile, "TLS_CLIENT_CA_FILE")
	setIfEnv(&c.Server.AdminAPIKey, "ADMIN_API_KEY")

	// Logging config
	setIfEnv(&c.Logging.Level, "LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "LOG_FORMAT")

	// Origin validation
	setIfEnv(&c.CORS.Origins, "CORS_ORIGINS")
	setListIfEnv(&c.CORS.OriginlessAPIKeys, "CORS_ORIGINLESS_API_KEYS")
	setListIfEnv(&c.CORS.InternalCIDRs, "INTERNAL_CIDR_ALLOWLIST")

	// CSRF and CSP
	setBoolIfEnv(&c.CSRF.Enabled, "CSRF_ENABLED")
	setIfEnv(&c.CSP.ReportURI, "CSP_REPORT_URI")

	// Session
	setIfEnv(&c.Session.Secret, "SESSION_SECRET")

	// Rate limiting (general policy)
	setMillisIfEnv(&c.RateLimit.Window, "RATE_LIMIT_WINDOW_MS")
	setIntIfEnv(&c.RateLimit.MaxRequests, "RATE_LIMIT_MAX_REQUESTS")
	setIntIfEnv(&c.RateLimit.UserMaxRequests, "RATE_LIMIT_USER_MAX_REQUESTS")

	// Blocklist and sanitizer
	setDurationIfEnv(&c.Blocklist.TTL, "BLOCKLIST_TTL")
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.Sanitize.MaxBodyBytes = n
		}
	}

	// Redis shared store
	setIfEnv(&c.Redis.Addr, "REDIS_ADDR")
	setIfEnv(&c.Redis.Password, "REDIS_PASSWORD")
	setIntIfEnv(&c.Redis.DB, "REDIS_DB")

	// Audit sinks
	setIfEnv(&c.Audit.Backend, "AUDIT_BACKEND")
	setIfEnv(&c.Audit.PostgresURL, "AUDIT_POSTGRES_URL")
	setIfEnv(&c.Audit.MongoDBURL, "AUDIT_MONGODB_URL")
	setIfEnv(&c.Audit.MongoDBDatabase, "AUDIT_MONGODB_DATABASE")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable. Unparseable values are ignored.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// setMillisIfEnv sets a Duration pointer from an integer millisecond count ("900000").
func setMillisIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			*target = Duration{Duration: time.Duration(ms) * time.Millisecond}
		}
	}
}

// setListIfEnv replaces a string slice with the comma-separated environment value.
// Entries are trimmed and empty entries dropped.
func setListIfEnv(target *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	*target = splitList(v)
}

// splitList splits a comma-separated list, trimming whitespace and dropping empty entries.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
