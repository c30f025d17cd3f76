package csp

import (
	"net/http"

	apierrors "github.com/staffdesk/gatekeeper/internal/errors"
	"github.com/staffdesk/gatekeeper/internal/logger"
	"github.com/staffdesk/gatekeeper/internal/metrics"
)

// Middleware generates a nonce for every request, stores it in the context and sets the
// policy header before the handler writes anything. The policy is validated once here so a
// misconfiguration fails at startup instead of per request.
func Middleware(p Policy, m *metrics.Metrics) (func(http.Handler) http.Handler, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	header := p.HeaderName()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nonce, err := NewNonce()
			var value string
			if err == nil {
				value, err = p.Build(nonce)
			}
			if err != nil {
				log := logger.FromContext(r.Context())
				log.Error().Err(err).Msg("csp.nonce_failed")
				m.ObserveRejection(metrics.StageHeaders, string(apierrors.ErrCodeInternalError))
				apierrors.WriteError(w, apierrors.ErrCodeInternalError, "Internal server error")
				return
			}

			w.Header().Set(header, value)
			next.ServeHTTP(w, r.WithContext(WithNonce(r.Context(), nonce)))
		})
	}, nil
}
