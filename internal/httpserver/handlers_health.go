package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/staffdesk/gatekeeper/internal/logger"
	"github.com/staffdesk/gatekeeper/internal/session"
	"github.com/staffdesk/gatekeeper/pkg/responders"
)

// health reports liveness and which security features are active. It never lists origins,
// networks or keys, only counts.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	now := time.Now()
	status := "ok"

	storeStatus := "memory"
	if h.store != nil {
		storeStatus = "ok"
		if err := h.store.Ping(ctx); err != nil {
			// Stores fail over to memory, so the process still serves traffic.
			log := logger.FromContext(r.Context())
			log.Warn().Err(err).Msg("health.store_unreachable")
			storeStatus = "unreachable"
			status = "degraded"
		}
	}

	responders.NoStore(w, http.StatusOK, map[string]any{
		"status":      status,
		"uptime":      now.Sub(serverStartTime).String(),
		"timestamp":   now.UTC(),
		"environment": h.cfg.Environment,
		"security": map[string]any{
			"csrf":              h.cfg.CSRF.Enabled,
			"csp":               true,
			"rateLimit":         h.cfg.RateLimit.Enabled,
			"globalRateLimit":   h.cfg.RateLimit.Enabled && h.cfg.RateLimit.GlobalEnabled,
			"blocklist":         h.cfg.Blocklist.Enabled,
			"allowedOrigins":    h.origins,
			"internalNetworks":  h.internal,
			"productionCookies": h.cfg.IsProduction(),
			"tls":               h.cfg.Server.TLSCertFile != "",
			"mtls":              h.cfg.Server.TLSClientCAFile != "",
			"sharedStore":       storeStatus,
		},
	})
}

// whoami echoes the identity attached by the session middleware.
func (h *handlers) whoami(w http.ResponseWriter, r *http.Request) {
	id := session.FromContext(r.Context())
	resp := map[string]any{"authenticated": id.Authenticated()}
	if id.Authenticated() {
		resp["userId"] = id.UserID
	}
	responders.NoStore(w, http.StatusOK, resp)
}

// echo returns the body exactly as the business handlers would see it after sanitization.
func (h *handlers) echo(w http.ResponseWriter, r *http.Request) {
	var body any
	if r.ContentLength != 0 {
		if err := decodeJSON(r.Body, &body); err != nil {
			writeBadRequest(w, "Request body is not valid JSON")
			return
		}
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"received": body,
		"userId":   session.UserID(r.Context()),
	})
}
