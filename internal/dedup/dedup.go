// Package dedup decides, for each incoming synthesis request, whether to
// serve a cached artifact, attach the caller to an in-flight job for the
// same content hash, or enqueue a new job. The lease acquisition is the one
// synchronization point guaranteeing at most one live job per hash.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/cache"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/jobstore"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/lease"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/queue"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// Kind discriminates the three resolution outcomes.
type Kind string

const (
	KindCacheHit Kind = "cache_hit"
	KindAttached Kind = "attached"
	KindNewJob   Kind = "new_job"
)

// Resolution is the outcome of resolving one request.
type Resolution struct {
	Kind  Kind
	Entry speech.CacheEntry // set for KindCacheHit
	JobID string            // set for KindAttached and KindNewJob
}

// Deduplicator owns the cache-check → lease-acquire → enqueue sequence.
type Deduplicator struct {
	cache       *cache.Store
	leases      lease.Store
	jobs        jobstore.Store
	queues      queue.Manager
	leaseTTL    time.Duration
	maxAttempts int
}

func New(c *cache.Store, leases lease.Store, jobs jobstore.Store, queues queue.Manager, leaseTTL time.Duration, maxAttempts int) *Deduplicator {
	return &Deduplicator{
		cache:       c,
		leases:      leases,
		jobs:        jobs,
		queues:      queues,
		leaseTTL:    leaseTTL,
		maxAttempts: maxAttempts,
	}
}

// Resolve maps a request onto a cached artifact, an existing job, or a
// freshly enqueued one. The cache check comes first because it is the
// cheapest path; the lease acquire is an atomic test-and-set, so two
// concurrent submissions of the same hash can never both enqueue.
func (d *Deduplicator) Resolve(ctx context.Context, req speech.Request) (Resolution, error) {
	norm := req.Normalized()
	if !speech.ValidLane(norm.Lane) {
		return Resolution{}, fmt.Errorf("invalid lane %q", norm.Lane)
	}
	hash := norm.ContentHash()

	entry, err := d.cache.Get(ctx, hash)
	if err == nil {
		return Resolution{Kind: KindCacheHit, Entry: entry}, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		return Resolution{}, fmt.Errorf("cache lookup: %w", err)
	}

	jobID := uuid.NewString()

	// The holder can expire between the failed SETNX and the owner read;
	// one more try covers that narrow window.
	var owner string
	for range 2 {
		owner, err = d.leases.Acquire(ctx, hash, jobID, d.leaseTTL)
		if err == nil {
			break
		}
		if !errors.Is(err, lease.ErrHeld) {
			return Resolution{}, fmt.Errorf("lease acquire: %w", err)
		}
		if owner != "" {
			return Resolution{Kind: KindAttached, JobID: owner}, nil
		}
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("lease acquire: %w", err)
	}

	// The job keeps the text, voice and style exactly as submitted; the
	// normalized form exists only for hashing. Providers must receive the
	// caller's casing (voice IDs are case-sensitive, and synthesized prosody
	// follows the written capitalization).
	submitted := req
	submitted.Speed = norm.Speed
	submitted.Lane = norm.Lane

	now := time.Now().UTC()
	job := speech.Job{
		ID:          jobID,
		Hash:        hash,
		Request:     submitted,
		Lane:        norm.Lane,
		Status:      speech.StatusQueued,
		MaxAttempts: d.maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := d.jobs.Create(ctx, job); err != nil {
		d.releaseLease(ctx, hash, jobID)
		return Resolution{}, fmt.Errorf("create job: %w", err)
	}
	if err := d.queues.Enqueue(ctx, job.Lane, job.ID); err != nil {
		d.releaseLease(ctx, hash, jobID)
		return Resolution{}, fmt.Errorf("enqueue job: %w", err)
	}

	slog.Info("job enqueued", "job_id", jobID, "hash", hash, "lane", job.Lane)
	return Resolution{Kind: KindNewJob, JobID: jobID}, nil
}

func (d *Deduplicator) releaseLease(ctx context.Context, hash, owner string) {
	if err := d.leases.Release(ctx, hash, owner); err != nil && !errors.Is(err, lease.ErrNotOwner) {
		slog.Warn("failed to release lease after enqueue error", "hash", hash, "error", err)
	}
}
