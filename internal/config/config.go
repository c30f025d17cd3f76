package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		CSRF: CSRFConfig{
			Enabled:        true,
			TokenMaxAge:    Duration{Duration: 24 * time.Hour},
			ExemptPaths:    []string{"/health", "/api/csrf-token"},
			StaticPrefixes: []string{"/assets/", "/static/"},
			SensitivePaths: []string{"/auth/", "/admin/"},
			MinTokenLength: 32,
		},
		Session: SessionConfig{
			TTL:             Duration{Duration: 24 * time.Hour},
			AccessTokenTTL:  Duration{Duration: 15 * time.Minute},
			RefreshTokenTTL: Duration{Duration: 7 * 24 * time.Hour},
			MaxSessions:     100000,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			Window:          Duration{Duration: 15 * time.Minute},
			MaxRequests:     100,
			UserMaxRequests: 200,
			BurstWindow:     Duration{Duration: 1 * time.Second},
			BurstMax:        20,
			MaxKeys:         100000,
			Login: PolicyConfig{
				Window:         Duration{Duration: 15 * time.Minute},
				IPMax:          5,
				UserMax:        10,
				BurstWindow:    Duration{Duration: 1 * time.Second},
				BurstMax:       3,
				SkipSuccessful: true,
			},
			Document: PolicyConfig{
				Window:      Duration{Duration: 15 * time.Minute},
				IPMax:       50,
				UserMax:     100,
				BurstWindow: Duration{Duration: 1 * time.Second},
				BurstMax:    10,
			},
			Search: PolicyConfig{
				Window:      Duration{Duration: 1 * time.Minute},
				IPMax:       30,
				UserMax:     60,
				BurstWindow: Duration{Duration: 1 * time.Second},
				BurstMax:    10,
			},
			Routes: map[string]string{
				"/api/auth/login": "login",
				"/api/documents":  "document",
				"/api/search":     "search",
			},
			GlobalEnabled: true,
			GlobalLimit:   1000,
			GlobalWindow:  Duration{Duration: 1 * time.Minute},
		},
		Blocklist: BlocklistConfig{
			Enabled: true,
		},
		Sanitize: SanitizeConfig{
			MaxBodyBytes: 1 << 20,
		},
		Redis: RedisConfig{
			Timeout: Duration{Duration: 250 * time.Millisecond},
		},
		Audit: AuditConfig{
			Backend:           "log",
			PostgresTable:     "security_events",
			MongoDBCollection: "security_events",
			QueueSize:         1024,
			PostgresPool: PostgresPoolConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: Duration{Duration: 5 * time.Minute},
			},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Redis: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 15 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Audit: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
