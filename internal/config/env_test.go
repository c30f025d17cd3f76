package config

import (
	"reflect"
	"testing"
	"time"
)

func TestEnvOverrides(t *testing.T) {
	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name:    "SERVER_ADDRESS overrides default",
			envVars: map[string]string{"SERVER_ADDRESS": ":3000"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address != ":3000" {
					t.Errorf("Expected :3000, got %s", cfg.Server.Address)
				}
			},
		},
		{
			name:    "APP_ENV wins over NODE_ENV",
			envVars: map[string]string{"NODE_ENV": "development", "APP_ENV": "production"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Environment != "production" {
					t.Errorf("Expected production, got %s", cfg.Environment)
				}
			},
		},
		{
			name: "origin lists are split and trimmed",
			envVars: map[string]string{
				"CORS_ORIGINS":             "https://a.example.com, https://b.example.com",
				"CORS_ORIGINLESS_API_KEYS": " key-one ,,key-two ",
				"INTERNAL_CIDR_ALLOWLIST":  "10.0.0.0/8, 192.168.0.0/16",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.CORS.Origins != "https://a.example.com, https://b.example.com" {
					t.Errorf("Origins kept raw for origin parsing, got %q", cfg.CORS.Origins)
				}
				if !reflect.DeepEqual(cfg.CORS.OriginlessAPIKeys, []string{"key-one", "key-two"}) {
					t.Errorf("unexpected keys %v", cfg.CORS.OriginlessAPIKeys)
				}
				if !reflect.DeepEqual(cfg.CORS.InternalCIDRs, []string{"10.0.0.0/8", "192.168.0.0/16"}) {
					t.Errorf("unexpected cidrs %v", cfg.CORS.InternalCIDRs)
				}
			},
		},
		{
			name:    "CSRF_ENABLED false",
			envVars: map[string]string{"CSRF_ENABLED": "false"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.CSRF.Enabled {
					t.Error("Expected CSRF disabled")
				}
			},
		},
		{
			name: "rate limit window in milliseconds",
			envVars: map[string]string{
				"RATE_LIMIT_WINDOW_MS":         "60000",
				"RATE_LIMIT_MAX_REQUESTS":      "60",
				"RATE_LIMIT_USER_MAX_REQUESTS": "120",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.RateLimit.Window.Duration != time.Minute {
					t.Errorf("Expected 1m, got %v", cfg.RateLimit.Window.Duration)
				}
				if cfg.RateLimit.MaxRequests != 60 || cfg.RateLimit.UserMaxRequests != 120 {
					t.Errorf("unexpected ceilings %d/%d", cfg.RateLimit.MaxRequests, cfg.RateLimit.UserMaxRequests)
				}
			},
		},
		{
			name:    "invalid integers are ignored",
			envVars: map[string]string{"RATE_LIMIT_MAX_REQUESTS": "lots", "MAX_BODY_BYTES": "big"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.RateLimit.MaxRequests != 100 {
					t.Errorf("Expected default 100, got %d", cfg.RateLimit.MaxRequests)
				}
				if cfg.Sanitize.MaxBodyBytes != 1<<20 {
					t.Errorf("Expected default body ceiling, got %d", cfg.Sanitize.MaxBodyBytes)
				}
			},
		},
		{
			name: "redis and blocklist",
			envVars: map[string]string{
				"REDIS_ADDR":    "redis:6379",
				"REDIS_DB":      "3",
				"BLOCKLIST_TTL": "24h",
				"TRUST_PROXY":   "1",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Redis.Addr != "redis:6379" || cfg.Redis.DB != 3 {
					t.Errorf("unexpected redis config %+v", cfg.Redis)
				}
				if cfg.Blocklist.TTL.Duration != 24*time.Hour {
					t.Errorf("Expected 24h, got %v", cfg.Blocklist.TTL.Duration)
				}
				if !cfg.Server.TrustProxy {
					t.Error("Expected TrustProxy")
				}
			},
		},
		{
			name: "audit sinks",
			envVars: map[string]string{
				"AUDIT_BACKEND":          "mongodb",
				"AUDIT_MONGODB_URL":      "mongodb://localhost:27017",
				"AUDIT_MONGODB_DATABASE": "security",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Audit.Backend != "mongodb" || cfg.Audit.MongoDBDatabase != "security" {
					t.Errorf("unexpected audit config %+v", cfg.Audit)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", []string{}},
		{"a", []string{"a"}},
		{" a , b ,, c ", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := splitList(tt.input); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitList(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
