package lease

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	owner     string
	expiresAt time.Time
}

// MemoryStore is an in-process lease table for tests and single-node runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Acquire(_ context.Context, hash, owner string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[hash]; ok && s.now().Before(e.expiresAt) {
		return e.owner, ErrHeld
	}
	s.entries[hash] = memEntry{owner: owner, expiresAt: s.now().Add(ttl)}
	return owner, nil
}

func (s *MemoryStore) Renew(_ context.Context, hash, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[hash]
	if !ok || e.owner != owner || !s.now().Before(e.expiresAt) {
		return ErrNotOwner
	}
	e.expiresAt = s.now().Add(ttl)
	s.entries[hash] = e
	return nil
}

func (s *MemoryStore) Release(_ context.Context, hash, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[hash]
	if !ok || e.owner != owner {
		return ErrNotOwner
	}
	delete(s.entries, hash)
	return nil
}

func (s *MemoryStore) Owner(_ context.Context, hash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[hash]
	if !ok || !s.now().Before(e.expiresAt) {
		return "", nil
	}
	return e.owner, nil
}

// SetClock overrides the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}
