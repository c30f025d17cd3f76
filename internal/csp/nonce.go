// Package csp generates per-request nonces, emits the Content-Security-Policy header and
// stamps nonces onto server-rendered inline tags.
package csp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// NonceBytes is the nonce entropy. 18 bytes encode to 24 base64url characters with no padding.
const NonceBytes = 18

type contextKey struct{}

// NewNonce returns a fresh random nonce matching [A-Za-z0-9_-]+.
func NewNonce() (string, error) {
	b := make([]byte, NonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate csp nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidNonce reports whether s is non-empty and uses only base64url characters.
func ValidNonce(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// WithNonce stores the request nonce in ctx.
func WithNonce(ctx context.Context, nonce string) context.Context {
	return context.WithValue(ctx, contextKey{}, nonce)
}

// NonceFromContext returns the request nonce, or "" when none was generated.
func NonceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	n, _ := ctx.Value(contextKey{}).(string)
	return n
}
