package lifecycle

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Manager closes registered resources in reverse registration order with error aggregation.
// Used by cmd/server and pkg/gatekeeper to release Redis clients, database pools and
// background workers on shutdown.
type Manager struct {
	mu        sync.Mutex
	log       zerolog.Logger
	resources []resource
	closed    bool
}

type resource struct {
	name   string
	closer io.Closer
}

// NewManager creates a new resource lifecycle manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log}
}

// Register adds a resource to be closed when the manager is closed.
// Resources are closed in reverse order of registration (LIFO).
func (m *Manager) Register(name string, closer io.Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = append(m.resources, resource{name: name, closer: closer})
}

// RegisterFunc wraps a cleanup function as a Closer for convenience.
func (m *Manager) RegisterFunc(name string, fn func() error) {
	m.Register(name, closerFunc(fn))
}

// Close closes all registered resources in reverse order and returns every error joined.
// All cleanup attempts are made even if some fail. Subsequent calls are no-ops.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for i := len(m.resources) - 1; i >= 0; i-- {
		res := m.resources[i]
		start := time.Now()
		if err := res.closer.Close(); err != nil {
			m.log.Error().
				Err(err).
				Str("resource", res.name).
				Msg("lifecycle.close_resource_failed")
			errs = append(errs, err)
			continue
		}
		m.log.Debug().
			Str("resource", res.name).
			Dur("duration", time.Since(start)).
			Msg("lifecycle.resource_closed")
	}
	m.resources = nil

	return errors.Join(errs...)
}

// closerFunc adapts a function to the io.Closer interface.
type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}
