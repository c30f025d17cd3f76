package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/staffdesk/gatekeeper/internal/metrics"
)

// ErrQueueFull is returned when an event is dropped because the queue is at capacity.
var ErrQueueFull = errors.New("audit queue full")

// ErrClosed is returned for events recorded after Close.
var ErrClosed = errors.New("audit recorder closed")

// AsyncRecorder moves durable writes off the request path. Events go into a bounded queue
// drained by one worker; when the queue is full the event is dropped and counted, so a slow
// sink can never stall request handling.
type AsyncRecorder struct {
	next    Recorder
	queue   chan Event
	log     zerolog.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncRecorder starts the worker. Call Close to drain and stop it.
func NewAsyncRecorder(next Recorder, size int, log zerolog.Logger, m *metrics.Metrics) *AsyncRecorder {
	if size <= 0 {
		size = 1024
	}
	a := &AsyncRecorder{
		next:    next,
		queue:   make(chan Event, size),
		log:     log,
		metrics: m,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Record enqueues the event without blocking.
func (a *AsyncRecorder) Record(_ context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- ev:
		return nil
	default:
		a.metrics.ObserveAuditDropped()
		return ErrQueueFull
	}
}

func (a *AsyncRecorder) run() {
	defer close(a.done)
	for ev := range a.queue {
		// Request contexts are gone by now; each write gets its own deadline.
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Record(ctx, ev); err != nil {
			a.metrics.ObserveAuditDropped()
			a.log.Error().
				Err(err).
				Str("event_id", ev.ID).
				Str("event_type", string(ev.Type)).
				Msg("audit.write_failed")
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued events to be written.
func (a *AsyncRecorder) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return nil
}
