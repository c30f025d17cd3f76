// Package audit records security events (rejections, blocklist changes) for incident
// investigation. Every event is logged; durable sinks are optional.
package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/staffdesk/gatekeeper/internal/logger"
	"github.com/staffdesk/gatekeeper/internal/netclass"
	"github.com/staffdesk/gatekeeper/internal/session"
)

// EventType names a security event in component.event form.
type EventType string

const (
	EventOriginRejected    EventType = "origin.rejected"
	EventCSRFRejected      EventType = "csrf.rejected"
	EventRateLimited       EventType = "ratelimit.exceeded"
	EventBlockedRequest    EventType = "blocklist.rejected"
	EventIPBlocked         EventType = "blocklist.added"
	EventIPUnblocked       EventType = "blocklist.removed"
	EventBlocklistReset    EventType = "blocklist.reset"
	EventMaliciousPayload  EventType = "sanitize.malicious_payload"
	EventAdminUnauthorized EventType = "admin.unauthorized"
)

// Event is one security-relevant occurrence.
type Event struct {
	ID        string            `json:"id" bson:"_id"`
	Type      EventType         `json:"type" bson:"type"`
	Code      string            `json:"code,omitempty" bson:"code,omitempty"`
	RequestID string            `json:"requestId,omitempty" bson:"request_id,omitempty"`
	IP        string            `json:"ip,omitempty" bson:"ip,omitempty"`
	Method    string            `json:"method,omitempty" bson:"method,omitempty"`
	Path      string            `json:"path,omitempty" bson:"path,omitempty"`
	UserAgent string            `json:"userAgent,omitempty" bson:"user_agent,omitempty"`
	Referer   string            `json:"referer,omitempty" bson:"referer,omitempty"`
	Origin    string            `json:"origin,omitempty" bson:"origin,omitempty"`
	UserID    string            `json:"userId,omitempty" bson:"user_id,omitempty"`
	Detail    map[string]string `json:"detail,omitempty" bson:"detail,omitempty"`
	Time      time.Time         `json:"time" bson:"time"`
}

// FromRequest builds an event carrying the request's correlation fields.
func FromRequest(r *http.Request, typ EventType, code string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Code:      code,
		RequestID: logger.GetRequestID(r.Context()),
		IP:        netclass.ClientIP(r),
		Method:    r.Method,
		Path:      r.URL.Path,
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
		Origin:    r.Header.Get("Origin"),
		UserID:    session.UserID(r.Context()),
		Time:      time.Now().UTC(),
	}
}

// NewEvent builds an event that is not tied to a single request, such as an operator
// action or a block issued from a background path. The request ID is taken from ctx when set.
func NewEvent(ctx context.Context, typ EventType, code string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Code:      code,
		RequestID: logger.GetRequestID(ctx),
		UserID:    session.UserID(ctx),
		Time:      time.Now().UTC(),
	}
}

// With returns a copy of e with an extra detail entry.
func (e Event) With(key, value string) Event {
	detail := make(map[string]string, len(e.Detail)+1)
	for k, v := range e.Detail {
		detail[k] = v
	}
	detail[key] = value
	e.Detail = detail
	return e
}

// Recorder persists security events. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, ev Event) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Nop discards events.
var Nop Recorder = RecorderFunc(func(context.Context, Event) error { return nil })
