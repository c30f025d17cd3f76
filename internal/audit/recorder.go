package audit

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/staffdesk/gatekeeper/internal/logger"
)

// LogRecorder writes every event as a structured warning. The request-scoped logger is used
// when the context carries one, so request_id and path stay attached.
type LogRecorder struct {
	base zerolog.Logger
}

// NewLogRecorder creates a recorder that logs through base when the context has no logger.
func NewLogRecorder(base zerolog.Logger) *LogRecorder {
	return &LogRecorder{base: base}
}

// Record logs the event at warn level.
func (l *LogRecorder) Record(ctx context.Context, ev Event) error {
	log := l.base
	if ctx != nil && logger.GetRequestID(ctx) != "" {
		log = logger.FromContext(ctx)
	}

	e := log.Warn().
		Str("event_id", ev.ID).
		Str("code", ev.Code).
		Str("ip", ev.IP).
		Str("method", ev.Method).
		Str("url", ev.Path).
		Str("user_agent", ev.UserAgent).
		Str("referer", ev.Referer).
		Str("origin", ev.Origin).
		Time("timestamp", ev.Time)
	if ev.RequestID != "" {
		e = e.Str("request_id", ev.RequestID)
	}
	if ev.UserID != "" {
		e = e.Str("user_id", ev.UserID)
	}
	if len(ev.Detail) > 0 {
		d := zerolog.Dict()
		for k, v := range ev.Detail {
			d = d.Str(k, v)
		}
		e = e.Dict("detail", d)
	}
	e.Msg(string(ev.Type))
	return nil
}

// Multi fans an event out to every recorder and joins their errors.
type Multi []Recorder

// Record calls every recorder, even after a failure.
func (m Multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OrLog returns r, or a LogRecorder backed by the request logger when r is nil.
func OrLog(r Recorder) Recorder {
	if r == nil {
		return NewLogRecorder(zerolog.Nop())
	}
	return r
}

// Emit records ev. A recording failure is logged, not returned.
func Emit(ctx context.Context, r Recorder, ev Event) {
	if r == nil {
		return
	}
	if err := r.Record(ctx, ev); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).
			Str("event_type", string(ev.Type)).
			Msg("audit.record_failed")
	}
}
