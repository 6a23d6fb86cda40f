package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// MemoryIndex is an in-process cache index for tests and single-node runs.
type MemoryIndex struct {
	mu      sync.Mutex
	entries map[string]speech.CacheEntry
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]speech.CacheEntry)}
}

func (m *MemoryIndex) Get(_ context.Context, hash string) (speech.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[hash]
	if !ok {
		return speech.CacheEntry{}, ErrMiss
	}
	return entry, nil
}

func (m *MemoryIndex) PutIfAbsent(_ context.Context, entry speech.CacheEntry) (speech.CacheEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[entry.Hash]; ok {
		return existing, false, nil
	}
	m.entries[entry.Hash] = entry
	return entry, true, nil
}

func (m *MemoryIndex) Delete(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, hash)
	return nil
}

func (m *MemoryIndex) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	for _, e := range m.entries {
		s.Count++
		s.TotalSize += e.Size
	}
	return s, nil
}

func (m *MemoryIndex) ListExpired(_ context.Context, now time.Time, limit int) ([]speech.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []speech.CacheEntry
	for _, e := range m.entries {
		if !e.Expired(now) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
