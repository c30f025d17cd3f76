// Package blocklist rejects every request from IPs caught submitting attack payloads.
package blocklist

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is one blocked IP.
type Entry struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason,omitempty"`
	BlockedAt time.Time `json:"blockedAt"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"` // zero: until unblocked or reset
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store persists blocked IPs. Implementations must be safe for concurrent use.
type Store interface {
	// Block adds ip. A zero ttl blocks until Unblock or Reset.
	Block(ctx context.Context, e Entry, ttl time.Duration) error
	IsBlocked(ctx context.Context, ip string) (bool, error)
	// Unblock removes ip and reports whether it was blocked.
	Unblock(ctx context.Context, ip string) (bool, error)
	List(ctx context.Context) ([]Entry, error)
	// Reset removes every entry and returns how many were removed.
	Reset(ctx context.Context) (int, error)
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry), now: time.Now}
}

// Block implements Store.
func (s *MemoryStore) Block(_ context.Context, e Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ttl > 0 {
		e.ExpiresAt = e.BlockedAt.Add(ttl)
	}
	s.entries[e.IP] = e
	return nil
}

// IsBlocked implements Store.
func (s *MemoryStore) IsBlocked(_ context.Context, ip string) (bool, error) {
	s.mu.RLock()
	e, ok := s.entries[ip]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if e.expired(s.now()) {
		s.mu.Lock()
		if cur, ok := s.entries[ip]; ok && cur.expired(s.now()) {
			delete(s.entries, ip)
		}
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Unblock implements Store.
func (s *MemoryStore) Unblock(_ context.Context, ip string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ip]
	delete(s.entries, ip)
	return ok && !e.expired(s.now()), nil
}

// List implements Store. Entries are ordered by block time.
func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.expired(now) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[string]Entry)
	return n, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].BlockedAt.Equal(entries[j].BlockedAt) {
			return entries[i].BlockedAt.Before(entries[j].BlockedAt)
		}
		return entries[i].IP < entries[j].IP
	})
}
