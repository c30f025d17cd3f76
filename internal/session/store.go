package session

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// Session is a server-side session record. The cookie carries only ID.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store persists sessions.
type Store interface {
	// Get returns the live session for id, or ErrNotFound.
	Get(ctx context.Context, id string) (Session, error)

	// Save inserts or replaces a session until its ExpiresAt.
	Save(ctx context.Context, s Session) error

	// Delete removes a session. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory Store with LRU eviction and periodic expiry.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]*list.Element
	lru         *list.List
	maxSize     int
	now         func() time.Time
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

// NewMemoryStore creates a store holding at most maxSize sessions. When full, the least
// recently used session is evicted.
func NewMemoryStore(maxSize int) *MemoryStore {
	return newMemoryStore(maxSize, time.Now, 5*time.Minute)
}

func newMemoryStore(maxSize int, now func() time.Time, cleanupEvery time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	s := &MemoryStore{
		entries:     make(map[string]*list.Element),
		lru:         list.New(),
		maxSize:     maxSize,
		now:         now,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go s.cleanup(cleanupEvery)

	return s
}

// Get returns the live session for id.
func (s *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	sess := el.Value.(Session)
	if !now.Before(sess.ExpiresAt) {
		s.removeElement(el)
		return Session{}, ErrNotFound
	}

	s.lru.MoveToFront(el)
	return sess, nil
}

// Save inserts or replaces a session.
func (s *MemoryStore) Save(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[sess.ID]; ok {
		el.Value = sess
		s.lru.MoveToFront(el)
		return nil
	}

	// Evict before adding so the store never exceeds maxSize.
	if s.lru.Len() >= s.maxSize {
		if back := s.lru.Back(); back != nil {
			s.removeElement(back)
		}
	}

	s.entries[sess.ID] = s.lru.PushFront(sess)
	return nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[id]; ok {
		s.removeElement(el)
	}
	return nil
}

// Len returns the number of stored sessions, expired ones included until swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// removeElement drops an entry (caller must hold lock).
func (s *MemoryStore) removeElement(el *list.Element) {
	s.lru.Remove(el)
	delete(s.entries, el.Value.(Session).ID)
}

// cleanup periodically removes expired sessions.
func (s *MemoryStore) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for el := s.lru.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(Session).ExpiresAt) {
			s.removeElement(el)
		}
		el = prev
	}
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
	})
	return nil
}
