package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// TimestampFormat is the ISO8601 layout used for the `timestamp` field.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// ErrorResponse is the standardized error format returned to clients.
// It never carries allow-lists, secrets or stack traces.
type ErrorResponse struct {
	Error      string    `json:"error"`                // Short status text, e.g. "Forbidden"
	Message    string    `json:"message"`              // Human-readable error message
	Code       ErrorCode `json:"code"`                 // Machine-readable error code
	Timestamp  string    `json:"timestamp"`            // ISO8601, UTC
	RetryAfter int       `json:"retryAfter,omitempty"` // Seconds, 429 only
	LimitType  string    `json:"limitType,omitempty"`  // IP, USER or BURST, 429 only
}

// now is swapped in tests.
var now = time.Now

// NewErrorResponse creates a standardized error response.
func NewErrorResponse(code ErrorCode, message string) ErrorResponse {
	return ErrorResponse{
		Error:     http.StatusText(code.HTTPStatus()),
		Message:   message,
		Code:      code,
		Timestamp: now().UTC().Format(TimestampFormat),
	}
}

// WriteJSON writes the error response as JSON to the HTTP response writer.
// A positive RetryAfter is mirrored into the Retry-After header.
func (e ErrorResponse) WriteJSON(w http.ResponseWriter) {
	status := e.Code.HTTPStatus()
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	if e.RetryAfter > 0 {
		h.Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e)
}

// WriteError is a convenience function to write an error response in one call.
func WriteError(w http.ResponseWriter, code ErrorCode, message string) {
	NewErrorResponse(code, message).WriteJSON(w)
}

// WriteRateLimited writes a 429 response carrying retry guidance and the tripped ceiling.
func WriteRateLimited(w http.ResponseWriter, code ErrorCode, message string, retryAfter time.Duration, limitType string) {
	resp := NewErrorResponse(code, message)
	resp.RetryAfter = RetryAfterSeconds(retryAfter)
	resp.LimitType = limitType
	resp.WriteJSON(w)
}

// RetryAfterSeconds rounds a wait up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
