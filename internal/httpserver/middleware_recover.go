package httpserver

import (
	"net/http"
	"runtime/debug"

	apierrors "github.com/staffdesk/gatekeeper/internal/errors"
	"github.com/staffdesk/gatekeeper/internal/logger"
)

// recoverer turns a panic into a logged 500. The stack goes to the log, never to the client.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			log := logger.FromContext(r.Context())
			log.Error().
				Interface("panic", rvr).
				Bytes("stack", debug.Stack()).
				Msg("httpserver.panic_recovered")
			apierrors.WriteError(w, apierrors.ErrCodeInternalError, "Internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}
