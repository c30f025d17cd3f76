package cookies

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Production(t *testing.T) {
	p := Policy{Production: true}
	rec := httptest.NewRecorder()
	p.Set(rec, Session, "abc", 24*time.Hour)

	header := rec.Header().Get("Set-Cookie")
	assert.True(t, strings.HasPrefix(header, "__Host-sid=abc"), header)
	for _, attr := range []string{"HttpOnly", "Secure", "SameSite=Strict", "Path=/", "Max-Age=86400", "Expires="} {
		assert.Contains(t, header, attr)
	}
	assert.NotContains(t, header, "Domain")
}

func TestPolicy_Development(t *testing.T) {
	p := Policy{Production: false}
	rec := httptest.NewRecorder()
	p.Set(rec, Session, "abc", time.Hour)

	header := rec.Header().Get("Set-Cookie")
	assert.True(t, strings.HasPrefix(header, "sid=abc"), header)
	assert.NotContains(t, header, "__Host-")
	assert.NotContains(t, header, "Secure")
	for _, attr := range []string{"HttpOnly", "SameSite=Strict", "Path=/", "Max-Age=3600"} {
		assert.Contains(t, header, attr)
	}
}

func TestPolicy_EveryCookieHasLifetime(t *testing.T) {
	p := Policy{Production: true}
	for _, base := range []string{Session, CSRF, AccessToken, RefreshToken} {
		c := p.New(base, "v", 0)
		assert.Equal(t, 1, c.MaxAge, base)
		assert.False(t, c.Expires.IsZero(), base)
		assert.Empty(t, c.Domain, base)
		assert.Equal(t, "/", c.Path, base)
	}
}

func TestPolicy_Expire(t *testing.T) {
	p := Policy{Production: true}
	rec := httptest.NewRecorder()
	p.Clear(rec, CSRF)

	header := rec.Header().Get("Set-Cookie")
	assert.True(t, strings.HasPrefix(header, "__Host-csrf=;"), header)
	assert.Contains(t, header, "Max-Age=0")
	assert.Contains(t, header, "Secure")
}

func TestPolicy_Read(t *testing.T) {
	p := Policy{Production: true}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "sid", Value: "unprefixed"})

	_, ok := p.Read(r, Session)
	assert.False(t, ok, "production must ignore the unprefixed name")

	r.AddCookie(&http.Cookie{Name: "__Host-sid", Value: "prefixed"})
	v, ok := p.Read(r, Session)
	require.True(t, ok)
	assert.Equal(t, "prefixed", v)
}
