package csrf

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyBytes is the length of the gorilla/csrf cookie authentication key.
const KeyBytes = 32

var keyInfo = []byte("gatekeeper/csrf-cookie/v1")

// DeriveKey derives the cookie signing key from the session secret with HKDF-SHA256.
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("derive csrf key: empty secret")
	}
	key := make([]byte, KeyBytes)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, keyInfo), key); err != nil {
		return nil, fmt.Errorf("derive csrf key: %w", err)
	}
	return key, nil
}

// randomKey is used outside production when no secret is configured. Tokens do not survive
// a restart.
func randomKey() ([]byte, error) {
	key := make([]byte, KeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate csrf key: %w", err)
	}
	return key, nil
}
