package httpserver

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/staffdesk/gatekeeper/internal/audit"
	apierrors "github.com/staffdesk/gatekeeper/internal/errors"
	"github.com/staffdesk/gatekeeper/internal/logger"
	"github.com/staffdesk/gatekeeper/internal/metrics"
)

// adminAuth protects /metrics and the blocklist admin routes with a bearer key.
// Requests must carry "Authorization: Bearer {key}".
func adminAuth(apiKey string, recorder audit.Recorder, m *metrics.Metrics) func(http.Handler) http.Handler {
	expected := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
				ev := audit.FromRequest(r, audit.EventAdminUnauthorized, string(apierrors.ErrCodeUnauthorized))
				if token != "" {
					ev = ev.With("presented_key", logger.RedactKey(token))
				}
				audit.Emit(r.Context(), recorder, ev)
				m.ObserveRejection(metrics.StageAdmin, string(apierrors.ErrCodeUnauthorized))
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				apierrors.WriteError(w, apierrors.ErrCodeUnauthorized, "Invalid or missing admin API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
