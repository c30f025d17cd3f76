package apikey

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Header is the request header carrying a pre-shared key.
const Header = "X-API-Key"

// Set holds the pre-shared keys that let originless callers (server-to-server, mobile
// clients) skip origin validation. The zero value matches nothing.
type Set struct {
	keys [][]byte
}

// NewSet builds a key set. Keys are trimmed and empty keys dropped.
func NewSet(keys []string) *Set {
	s := &Set{}
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		s.keys = append(s.keys, []byte(k))
	}
	return s
}

// Len returns the number of configured keys.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Match reports whether key is in the set. Every configured key is compared in
// constant time so response timing does not reveal partial matches.
func (s *Set) Match(key string) bool {
	if s == nil || key == "" {
		return false
	}
	candidate := []byte(key)
	matched := 0
	for _, k := range s.keys {
		matched |= subtle.ConstantTimeCompare(candidate, k)
	}
	return matched == 1
}

// FromRequest extracts the presented key from the X-API-Key header.
func FromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}

// Authorized reports whether the request presents a key from the set.
func (s *Set) Authorized(r *http.Request) bool {
	return s.Match(FromRequest(r))
}
