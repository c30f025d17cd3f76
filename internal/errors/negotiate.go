package errors

import (
	"mime"
	"net/http"
	"strings"
)

// WantsHTML reports whether a rejection should be rendered as an HTML page instead of JSON.
// Only regular browser navigations and form posts qualify: XHR/fetch callers and JSON
// submissions always receive JSON.
func WantsHTML(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return false
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt == "application/json" {
			return false
		}
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if mt == "text/html" || mt == "application/xhtml+xml" {
			return true
		}
	}
	return false
}
