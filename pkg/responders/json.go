// Package responders writes JSON success responses for handlers mounted behind the gateway.
// Errors go through internal/errors so they share one envelope.
package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes an application/json response with status code and payload.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

// NoStore writes payload like JSON and forbids caching. Use it for anything identity or
// token bearing.
func NoStore(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Cache-Control", "no-store")
	JSON(w, status, payload)
}
