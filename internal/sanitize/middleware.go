package sanitize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/staffdesk/gatekeeper/internal/audit"
	"github.com/staffdesk/gatekeeper/internal/csrf"
	apierrors "github.com/staffdesk/gatekeeper/internal/errors"
	"github.com/staffdesk/gatekeeper/internal/logger"
	"github.com/staffdesk/gatekeeper/internal/metrics"
	"github.com/staffdesk/gatekeeper/internal/netclass"
)

// DefaultMaxBodyBytes is the body ceiling when none is configured.
const DefaultMaxBodyBytes = 1 << 20

// Blocker blocks an IP. Implemented by *blocklist.Blocklist.
type Blocker interface {
	Block(ctx context.Context, ip, reason string) error
}

// Config configures the sanitizer.
type Config struct {
	MaxBodyBytes     int64
	StripHTML        bool
	AllowMarkupPaths []string // prefixes where attack signatures are stripped instead of blocked
	Blocker          Blocker
	Recorder         audit.Recorder
	Metrics          *metrics.Metrics
}

// Sanitizer is the request body middleware.
type Sanitizer struct {
	maxBytes    int64
	cleaner     *Cleaner
	allowMarkup []string
	blocker     Blocker
	recorder    audit.Recorder
	metrics     *metrics.Metrics
}

// New creates a sanitizer.
func New(cfg Config) *Sanitizer {
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return &Sanitizer{
		maxBytes:    maxBytes,
		cleaner:     NewCleaner(cfg.StripHTML),
		allowMarkup: cfg.AllowMarkupPaths,
		blocker:     cfg.Blocker,
		recorder:    audit.OrLog(cfg.Recorder),
		metrics:     cfg.Metrics,
	}
}

// Middleware validates and cleans bodies of POST, PUT, PATCH and DELETE requests. Requests
// without a body pass unchanged.
func (s *Sanitizer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMutating(r.Method) || r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > s.maxBytes {
			s.reject(w, apierrors.ErrCodePayloadTooLarge, "Request body too large")
			return
		}

		raw, err := io.ReadAll(io.LimitReader(r.Body, s.maxBytes+1))
		_ = r.Body.Close()
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Warn().Err(err).Msg("sanitize.read_failed")
			s.reject(w, apierrors.ErrCodeInvalidJSON, "Request body could not be read")
			return
		}
		if int64(len(raw)) > s.maxBytes {
			s.reject(w, apierrors.ErrCodePayloadTooLarge, "Request body too large")
			return
		}
		if len(raw) == 0 {
			r.Body = http.NoBody
			next.ServeHTTP(w, r)
			return
		}

		if !isJSON(r.Header.Get("Content-Type")) {
			s.reject(w, apierrors.ErrCodeUnsupportedMediaType, "Content-Type must be application/json")
			return
		}

		body, err := decode(raw)
		if err != nil {
			s.reject(w, apierrors.ErrCodeInvalidJSON, "Request body is not valid JSON")
			return
		}

		ctx := r.Context()
		if obj, ok := body.(map[string]any); ok {
			if tok, ok := obj[csrf.FieldName].(string); ok && tok != "" {
				ctx = csrf.WithSubmittedToken(ctx, tok)
			}
		}

		cleaned, changed, attack := s.cleaner.Value(body)
		if attack && !s.markupAllowed(r.URL.Path) {
			s.malicious(w, r)
			return
		}

		if changed > 0 {
			s.metrics.ObserveSanitized(changed)
			if raw, err = encode(cleaned); err != nil {
				log := logger.FromContext(ctx)
				log.Error().Err(err).Msg("sanitize.encode_failed")
				apierrors.WriteError(w, apierrors.ErrCodeInternalError, "Internal server error")
				return
			}
			log := logger.FromContext(ctx)
			log.Debug().Int("values", changed).Msg("sanitize.values_cleaned")
		}

		r = r.WithContext(ctx)
		r.Body = io.NopCloser(bytes.NewReader(raw))
		r.ContentLength = int64(len(raw))
		r.Header.Set("Content-Length", strconv.Itoa(len(raw)))
		next.ServeHTTP(w, r)
	})
}

func (s *Sanitizer) malicious(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := netclass.ClientIP(r)
	if s.blocker != nil {
		if err := s.blocker.Block(ctx, ip, "malicious payload on "+r.URL.Path); err != nil {
			log := logger.FromContext(ctx)
			log.Error().Err(err).Str("ip", ip).Msg("sanitize.block_failed")
		}
	}
	audit.Emit(ctx, s.recorder, audit.FromRequest(r, audit.EventMaliciousPayload, string(apierrors.ErrCodeMaliciousPayload)))
	s.reject(w, apierrors.ErrCodeMaliciousPayload, "Request rejected")
}

func (s *Sanitizer) reject(w http.ResponseWriter, code apierrors.ErrorCode, msg string) {
	s.metrics.ObserveRejection(metrics.StageSanitize, string(code))
	apierrors.WriteError(w, code, msg)
}

func (s *Sanitizer) markupAllowed(path string) bool {
	for _, p := range s.allowMarkup {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || (strings.HasPrefix(mt, "application/") && strings.HasSuffix(mt, "+json"))
}

// decode parses exactly one JSON value, keeping numbers as json.Number.
func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
