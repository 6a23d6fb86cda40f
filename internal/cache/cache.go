// Package cache is the content-addressed artifact cache: a write-once index
// (hash → entry) plus a blob store holding the audio bytes. It is the ground
// truth for "has this already been synthesized".
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// ErrMiss is returned by Get when no usable entry exists for the hash.
var ErrMiss = errors.New("cache miss")

// Stats is the cache-level aggregate for the monitor.
type Stats struct {
	Count     int64 `json:"count"`
	TotalSize int64 `json:"total_size"`
}

// Index is the write-once entry table. PutIfAbsent must be atomic: when two
// workers race the same hash, exactly one insert wins and both observe the
// winning entry.
type Index interface {
	Get(ctx context.Context, hash string) (speech.CacheEntry, error) // ErrMiss
	PutIfAbsent(ctx context.Context, entry speech.CacheEntry) (speech.CacheEntry, bool, error)
	Delete(ctx context.Context, hash string) error
	Stats(ctx context.Context) (Stats, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]speech.CacheEntry, error)
}

// Store combines the index with blob storage.
type Store struct {
	index Index
	blobs BlobStore
	ttl   time.Duration // 0 = entries never expire
}

func NewStore(index Index, blobs BlobStore, ttl time.Duration) *Store {
	return &Store{index: index, blobs: blobs, ttl: ttl}
}

// Get returns the entry for hash if it exists and its blob is still present.
// An index hit whose blob has gone missing is treated as a miss: the stale
// entry is evicted so the next submission resynthesizes.
func (s *Store) Get(ctx context.Context, hash string) (speech.CacheEntry, error) {
	entry, err := s.index.Get(ctx, hash)
	if err != nil {
		return speech.CacheEntry{}, err
	}

	ok, err := s.blobs.Exists(ctx, entry.Ref)
	if err != nil {
		return speech.CacheEntry{}, fmt.Errorf("check blob %s: %w", entry.Ref, err)
	}
	if !ok {
		slog.Warn("cache entry lost its blob, evicting", "hash", hash, "ref", entry.Ref)
		if err := s.index.Delete(ctx, hash); err != nil {
			return speech.CacheEntry{}, fmt.Errorf("evict stale entry %s: %w", hash, err)
		}
		return speech.CacheEntry{}, ErrMiss
	}
	return entry, nil
}

// Put stores the artifact under hash. The write is idempotent: if an entry
// already exists the new blob is discarded and the existing entry returned,
// so racing duplicate jobs can never overwrite one another.
func (s *Store) Put(ctx context.Context, hash string, artifact speech.Artifact) (speech.CacheEntry, error) {
	ref, err := s.blobs.Upload(ctx, hash, artifact.Audio, artifact.ContentType)
	if err != nil {
		return speech.CacheEntry{}, fmt.Errorf("upload blob %s: %w", hash, err)
	}

	now := time.Now().UTC()
	entry := speech.CacheEntry{
		Hash:        hash,
		Ref:         ref,
		ContentType: artifact.ContentType,
		Size:        int64(len(artifact.Audio)),
		Provider:    artifact.Provider,
		CreatedAt:   now,
	}
	if s.ttl > 0 {
		entry.ExpiresAt = now.Add(s.ttl)
	}

	existing, inserted, err := s.index.PutIfAbsent(ctx, entry)
	if err != nil {
		return speech.CacheEntry{}, fmt.Errorf("index put %s: %w", hash, err)
	}
	if !inserted && existing.Ref != ref {
		// Lost the race; drop our duplicate blob and serve the winner.
		if err := s.blobs.Delete(ctx, ref); err != nil {
			slog.Warn("failed to drop duplicate blob", "ref", ref, "error", err)
		}
	}
	return existing, nil
}

// Open streams the stored audio for an entry reference.
func (s *Store) Open(ctx context.Context, ref string) ([]byte, error) {
	return s.blobs.Download(ctx, ref)
}

// Stats reports entry count and total stored bytes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	return s.index.Stats(ctx)
}

// SweepExpired removes entries past their expiry along with their blobs.
// This is the retention policy's entry point, not part of the synthesis path.
func (s *Store) SweepExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.index.ListExpired(ctx, time.Now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	removed := 0
	for _, entry := range expired {
		if err := s.blobs.Delete(ctx, entry.Ref); err != nil {
			slog.Warn("failed to delete expired blob", "ref", entry.Ref, "error", err)
			continue
		}
		if err := s.index.Delete(ctx, entry.Hash); err != nil {
			return removed, fmt.Errorf("delete expired entry %s: %w", entry.Hash, err)
		}
		removed++
	}
	return removed, nil
}
