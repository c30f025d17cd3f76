package httpserver

import (
	"net/http"

	apierrors "github.com/staffdesk/gatekeeper/internal/errors"
)

func notFound(w http.ResponseWriter, r *http.Request) {
	apierrors.WriteError(w, apierrors.ErrCodeNotFound, "Route not found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	apierrors.WriteError(w, apierrors.ErrCodeMethodNotAllowed, "Method not allowed")
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	apierrors.WriteError(w, apierrors.ErrCodeInvalidJSON, msg)
}
