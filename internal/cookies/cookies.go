// Package cookies applies one hardening policy to every cookie the gateway sets.
package cookies

import (
	"net/http"
	"time"
)

// Base names of the cookies the gateway owns. Policy.Name adds the production prefix.
const (
	Session      = "sid"
	CSRF         = "csrf"
	AccessToken  = "access_token"
	RefreshToken = "refresh_token"
)

// HostPrefix locks a cookie to the exact host that set it. Browsers only accept it with
// Secure, Path=/ and no Domain.
const HostPrefix = "__Host-"

// Policy holds the environment-dependent part of cookie hardening. In production cookies get
// the __Host- prefix and the Secure flag; development relaxes both so plain-HTTP localhost
// works. HttpOnly, SameSite=Strict, Path=/ and an explicit lifetime always apply.
type Policy struct {
	Production bool
}

// Name returns the on-the-wire cookie name for base.
func (p Policy) Name(base string) string {
	if p.Production {
		return HostPrefix + base
	}
	return base
}

// New builds a hardened cookie. maxAge is rounded down to whole seconds; values under one
// second are raised to one so the cookie is never session-scoped by accident.
func (p Policy) New(base, value string, maxAge time.Duration) *http.Cookie {
	secs := int(maxAge / time.Second)
	if secs < 1 {
		secs = 1
	}
	return &http.Cookie{
		Name:     p.Name(base),
		Value:    value,
		Path:     "/",
		MaxAge:   secs,
		Expires:  time.Now().Add(time.Duration(secs) * time.Second).UTC(),
		Secure:   p.Production,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// Expire builds a deletion cookie for base carrying the same attributes, so browsers that
// enforce the prefix rules accept the overwrite.
func (p Policy) Expire(base string) *http.Cookie {
	return &http.Cookie{
		Name:     p.Name(base),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		Secure:   p.Production,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// Set writes a hardened cookie to w.
func (p Policy) Set(w http.ResponseWriter, base, value string, maxAge time.Duration) {
	http.SetCookie(w, p.New(base, value, maxAge))
}

// Clear writes a deletion cookie for base to w.
func (p Policy) Clear(w http.ResponseWriter, base string) {
	http.SetCookie(w, p.Expire(base))
}

// Read returns the value of the policy-named cookie, if present and non-empty.
func (p Policy) Read(r *http.Request, base string) (string, bool) {
	c, err := r.Cookie(p.Name(base))
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}
