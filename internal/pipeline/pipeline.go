// Package pipeline wires the deduplicator, queue, job store, cache and
// monitor into the submission surface the chat backend talks to.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/cache"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/dedup"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/jobstore"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/queue"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// ErrNotCancellable is returned when cancelling a job already in a terminal
// state.
var ErrNotCancellable = errors.New("job is already terminal")

// ErrNotDeadLettered is returned when requeueing a job that is not in the
// dead-letter lane.
var ErrNotDeadLettered = errors.New("job is not dead-lettered")

// SubmitResult is what a caller gets back: either an immediate cache hit or
// a job ID to poll.
type SubmitResult struct {
	CacheHit bool              `json:"cache_hit"`
	Entry    speech.CacheEntry `json:"entry,omitempty"`
	JobID    string            `json:"job_id,omitempty"`
	Attached bool              `json:"attached,omitempty"` // true when joined to an existing job
}

// StatusResult is one job-status poll. The artifact reference is present
// once the job succeeded.
type StatusResult struct {
	JobID       string           `json:"job_id"`
	Status      speech.JobStatus `json:"status"`
	Attempts    int              `json:"attempts"`
	LastError   string           `json:"last_error,omitempty"`
	ArtifactRef string           `json:"artifact_ref,omitempty"`
}

// Pipeline is the submission and inspection surface over the stores.
type Pipeline struct {
	dedup  *dedup.Deduplicator
	jobs   jobstore.Store
	queues queue.Manager
	cache  *cache.Store
}

func New(d *dedup.Deduplicator, jobs jobstore.Store, queues queue.Manager, cacheStore *cache.Store) *Pipeline {
	return &Pipeline{dedup: d, jobs: jobs, queues: queues, cache: cacheStore}
}

// Submit resolves the request through the deduplicator. The synchronous path
// returns the cached entry; otherwise the caller polls the returned job ID.
func (p *Pipeline) Submit(ctx context.Context, req speech.Request) (SubmitResult, error) {
	res, err := p.dedup.Resolve(ctx, req)
	if err != nil {
		return SubmitResult{}, err
	}

	switch res.Kind {
	case dedup.KindCacheHit:
		return SubmitResult{CacheHit: true, Entry: res.Entry}, nil
	case dedup.KindAttached:
		return SubmitResult{JobID: res.JobID, Attached: true}, nil
	default:
		return SubmitResult{JobID: res.JobID}, nil
	}
}

// Status reports the externally visible job state. A caller is never left
// unresolved: every job ends in succeeded, failed, cancelled or dead_letter.
func (p *Pipeline) Status(ctx context.Context, jobID string) (StatusResult, error) {
	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return StatusResult{}, err
	}
	return StatusResult{
		JobID:       job.ID,
		Status:      job.Status.External(),
		Attempts:    job.Attempts,
		LastError:   job.LastError,
		ArtifactRef: job.ArtifactRef,
	}, nil
}

// Artifact streams the stored audio for a succeeded job.
func (p *Pipeline) Artifact(ctx context.Context, jobID string) ([]byte, string, error) {
	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	if job.Status != speech.StatusSucceeded || job.ArtifactRef == "" {
		return nil, "", fmt.Errorf("job %s has no artifact (status %s)", jobID, job.Status)
	}

	entry, err := p.cache.Get(ctx, job.Hash)
	if err != nil {
		return nil, "", fmt.Errorf("artifact entry: %w", err)
	}
	data, err := p.cache.Open(ctx, entry.Ref)
	if err != nil {
		return nil, "", fmt.Errorf("open artifact: %w", err)
	}
	return data, entry.ContentType, nil
}

// Cancel marks a job cancelled. A queued job dies at claim time; an
// in-flight job is allowed to finish but its result is discarded.
func (p *Pipeline) Cancel(ctx context.Context, jobID string) error {
	_, err := p.jobs.Update(ctx, jobID, func(j *speech.Job) error {
		if j.Status.Terminal() {
			return ErrNotCancellable
		}
		j.CancelRequested = true
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("job cancel requested", "job_id", jobID)
	return nil
}

// ListDeadLetter returns dead-lettered jobs for operator inspection.
func (p *Pipeline) ListDeadLetter(ctx context.Context, limit int) ([]speech.Job, error) {
	return p.jobs.ListByStatus(ctx, speech.StatusDeadLetter, limit)
}

// RequeueDeadLetter puts a dead-lettered job back on its original lane with
// a fresh attempt budget. The content hash is never blacklisted; an operator
// can retry as often as they like.
func (p *Pipeline) RequeueDeadLetter(ctx context.Context, jobID string) error {
	job, err := p.jobs.Update(ctx, jobID, func(j *speech.Job) error {
		if j.Status != speech.StatusDeadLetter {
			return ErrNotDeadLettered
		}
		if err := j.Transition(speech.StatusQueued); err != nil {
			return err
		}
		j.Attempts = 0
		j.LastError = ""
		j.ClaimedBy = ""
		j.CancelRequested = false
		return nil
	})
	if err != nil {
		return err
	}

	if err := p.queues.RemoveFromDeadLetter(ctx, jobID); err != nil {
		return err
	}
	if err := p.queues.Enqueue(ctx, job.Lane, job.ID); err != nil {
		return fmt.Errorf("requeue dead-lettered job: %w", err)
	}
	slog.Info("dead-lettered job requeued", "job_id", jobID, "lane", job.Lane)
	return nil
}

// CacheStats exposes the cache aggregate for the admin surface.
func (p *Pipeline) CacheStats(ctx context.Context) (cache.Stats, error) {
	return p.cache.Stats(ctx)
}
