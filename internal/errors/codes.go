package errors

import (
	"net/http"
	"strings"
)

// ErrorCode represents a machine-readable error identifier returned in the `code` field.
// Codes are stable: clients and dashboards key on them.
type ErrorCode string

// Origin validation
const (
	ErrCodeOriginNotAllowed ErrorCode = "ORIGIN_NOT_ALLOWED"
	ErrCodeOriginRequired   ErrorCode = "ORIGIN_REQUIRED"
)

// CSRF guard
const (
	ErrCodeCSRFTokenMissing ErrorCode = "CSRF_TOKEN_MISSING"
	ErrCodeCSRFTokenInvalid ErrorCode = "CSRF_TOKEN_INVALID"
)

// Rate limiting. Per-policy codes are built with RateLimitCode.
const (
	ErrCodeRateLimitGlobal ErrorCode = "RATE_LIMIT_GLOBAL"

	rateLimitPrefix = "RATE_LIMIT_"
)

// Blocklist and request body validation
const (
	ErrCodeIPBlocked            ErrorCode = "IP_BLOCKED"
	ErrCodeMaliciousPayload     ErrorCode = "MALICIOUS_PAYLOAD"
	ErrCodePayloadTooLarge      ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrCodeUnsupportedMediaType ErrorCode = "UNSUPPORTED_MEDIA_TYPE"
	ErrCodeInvalidJSON          ErrorCode = "INVALID_JSON"
)

// Access and routing
const (
	ErrCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"
)

// Internal/System Errors
const (
	ErrCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// RateLimitCode builds the RATE_LIMIT_<TYPE>_<POLICY> code for a tripped ceiling,
// e.g. RateLimitCode("ip", "login") == "RATE_LIMIT_IP_LOGIN".
func RateLimitCode(limitType, policy string) ErrorCode {
	return ErrorCode(rateLimitPrefix + strings.ToUpper(limitType) + "_" + strings.ToUpper(policy))
}

// IsRateLimit reports whether the code is one of the rate limiting codes.
func (e ErrorCode) IsRateLimit() bool {
	return strings.HasPrefix(string(e), rateLimitPrefix)
}

// IsRetryable returns whether an error code represents a retryable error.
// Throttling and transient failures are retryable; policy rejections are not.
func (e ErrorCode) IsRetryable() bool {
	if e.IsRateLimit() {
		return true
	}
	switch e {
	case ErrCodeInternalError, ErrCodeServiceUnavailable:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	if e.IsRateLimit() {
		return http.StatusTooManyRequests
	}

	switch e {
	case ErrCodeInvalidJSON:
		return http.StatusBadRequest

	case ErrCodeUnauthorized:
		return http.StatusUnauthorized

	// 403 Forbidden - every security policy rejection
	case ErrCodeOriginNotAllowed,
		ErrCodeOriginRequired,
		ErrCodeCSRFTokenMissing,
		ErrCodeCSRFTokenInvalid,
		ErrCodeIPBlocked,
		ErrCodeMaliciousPayload:
		return http.StatusForbidden

	case ErrCodeNotFound:
		return http.StatusNotFound

	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed

	case ErrCodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge

	case ErrCodeUnsupportedMediaType:
		return http.StatusUnsupportedMediaType

	case ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
