package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/staffdesk/gatekeeper/internal/cookies"
	"github.com/staffdesk/gatekeeper/internal/logger"
)

// idBytes is the entropy of a session ID.
const idBytes = 32

// Config configures a Manager.
type Config struct {
	TTL             time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// Manager issues, resolves and rotates sessions. Every cookie it writes goes through the
// cookie policy. Establishing, renewing or destroying a session also expires the CSRF cookie,
// which rotates the anti-forgery secret on session boundaries only.
type Manager struct {
	store  Store
	policy cookies.Policy
	cfg    Config
	now    func() time.Time
}

// NewManager creates a session manager.
func NewManager(store Store, policy cookies.Policy, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	return &Manager{store: store, policy: policy, cfg: cfg, now: time.Now}
}

// Middleware resolves the session cookie and attaches the caller's Identity to the context.
// It never rejects: unknown, expired or missing sessions leave the request anonymous, and an
// identity already attached upstream is kept.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()).Authenticated() {
			next.ServeHTTP(w, r)
			return
		}

		id, ok := m.policy.Read(r, cookies.Session)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := m.store.Get(r.Context(), id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				log := logger.FromContext(r.Context())
				log.Error().Err(err).Msg("session.lookup_failed")
			}
			next.ServeHTTP(w, r)
			return
		}

		ctx := WithIdentity(r.Context(), Identity{UserID: sess.UserID, SessionID: sess.ID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Establish starts a new session for userID (typically after a successful login). Any session
// presented by the request is destroyed first so a pre-login session ID cannot be fixed.
func (m *Manager) Establish(w http.ResponseWriter, r *http.Request, userID string) (Session, error) {
	if userID == "" {
		return Session{}, errors.New("establish session: empty user id")
	}
	if old, ok := m.policy.Read(r, cookies.Session); ok {
		if err := m.store.Delete(r.Context(), old); err != nil {
			return Session{}, fmt.Errorf("delete previous session: %w", err)
		}
	}
	return m.issue(w, r, userID)
}

// Renew replaces the current session with a fresh ID and lifetime for the same user.
func (m *Manager) Renew(w http.ResponseWriter, r *http.Request) (Session, error) {
	id, ok := m.policy.Read(r, cookies.Session)
	if !ok {
		return Session{}, ErrNotFound
	}
	current, err := m.store.Get(r.Context(), id)
	if err != nil {
		return Session{}, err
	}
	if err := m.store.Delete(r.Context(), current.ID); err != nil {
		return Session{}, fmt.Errorf("delete previous session: %w", err)
	}
	return m.issue(w, r, current.UserID)
}

// Destroy ends the current session and clears every gateway-owned cookie.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) error {
	if id, ok := m.policy.Read(r, cookies.Session); ok {
		if err := m.store.Delete(r.Context(), id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	for _, base := range []string{cookies.Session, cookies.CSRF, cookies.AccessToken, cookies.RefreshToken} {
		m.policy.Clear(w, base)
	}
	return nil
}

// SetAuthCookies writes the access and refresh token cookies with their configured lifetimes.
func (m *Manager) SetAuthCookies(w http.ResponseWriter, accessToken, refreshToken string) {
	m.policy.Set(w, cookies.AccessToken, accessToken, m.cfg.AccessTokenTTL)
	m.policy.Set(w, cookies.RefreshToken, refreshToken, m.cfg.RefreshTokenTTL)
}

func (m *Manager) issue(w http.ResponseWriter, r *http.Request, userID string) (Session, error) {
	id, err := NewID()
	if err != nil {
		return Session{}, err
	}
	now := m.now()
	sess := Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
	}
	if err := m.store.Save(r.Context(), sess); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}

	m.policy.Set(w, cookies.Session, sess.ID, m.cfg.TTL)
	m.policy.Clear(w, cookies.CSRF)

	log := logger.FromContext(r.Context())
	log.Info().
		Str("user_id", userID).
		Msg("session.established")

	return sess, nil
}

// NewID returns a random URL-safe session identifier.
func NewID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
