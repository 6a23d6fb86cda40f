// Package worker runs the per-lane pools that drain the queue, drive the
// provider fallback chain and persist outcomes. All cross-worker
// coordination goes through the queue, the lease table and the job store;
// workers never talk to each other.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/cache"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/config"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/jobstore"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/lease"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/monitor"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/queue"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/tts"
)

// StatsPublisher shares the pool's recorder stats with other processes.
type StatsPublisher interface {
	Publish(ctx context.Context, stats monitor.RecorderStats) error
}

// Pool owns the worker goroutines for all three work lanes plus the janitor
// that reclaims jobs from dead workers.
type Pool struct {
	queues     queue.Manager
	jobs       jobstore.Store
	leases     lease.Store
	cache      *cache.Store
	chain      *tts.Chain
	recorder   *monitor.Recorder
	heartbeats monitor.HeartbeatStore
	publisher  StatsPublisher
	cfg        config.PipelineConfig

	wg sync.WaitGroup
}

func NewPool(
	queues queue.Manager,
	jobs jobstore.Store,
	leases lease.Store,
	cacheStore *cache.Store,
	chain *tts.Chain,
	recorder *monitor.Recorder,
	heartbeats monitor.HeartbeatStore,
	publisher StatsPublisher,
	cfg config.PipelineConfig,
) *Pool {
	return &Pool{
		queues:     queues,
		jobs:       jobs,
		leases:     leases,
		cache:      cacheStore,
		chain:      chain,
		recorder:   recorder,
		heartbeats: heartbeats,
		publisher:  publisher,
		cfg:        cfg,
	}
}

type workerState struct {
	name  string
	lanes []speech.Lane

	mu          sync.Mutex
	currentJob  string
	currentHash string
}

func (w *workerState) setJob(id string) {
	w.mu.Lock()
	w.currentJob = id
	w.currentHash = ""
	w.mu.Unlock()
}

func (w *workerState) setHash(hash string) {
	w.mu.Lock()
	w.currentHash = hash
	w.mu.Unlock()
}

func (w *workerState) current() (jobID, hash string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentJob, w.currentHash
}

func (w *workerState) record() speech.WorkerRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return speech.WorkerRecord{
		Name:       w.name,
		Lanes:      w.lanes,
		CurrentJob: w.currentJob,
		LastBeat:   time.Now().UTC(),
	}
}

// Start launches all workers, the janitor and the stats publisher, then
// returns. Workers stop when ctx is cancelled; Wait blocks until the pool
// has fully drained.
func (p *Pool) Start(ctx context.Context) {
	// Higher-priority workers also drain the lanes below them so spare
	// capacity is never idle while batch work waits; the dequeue order
	// keeps strict high > standard > batch priority either way.
	p.spawn(ctx, p.cfg.HighWorkers, "high", speech.WorkLanes)
	p.spawn(ctx, p.cfg.StandardWorkers, "standard", []speech.Lane{speech.LaneStandard, speech.LaneBatch})
	p.spawn(ctx, p.cfg.BatchWorkers, "batch", []speech.Lane{speech.LaneBatch})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.janitorLoop(ctx)
	}()

	if p.publisher != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.publishLoop(ctx)
		}()
	}
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) spawn(ctx context.Context, n int, tier string, lanes []speech.Lane) {
	for i := 0; i < n; i++ {
		w := &workerState{
			name:  fmt.Sprintf("%s-%s", tier, uuid.NewString()[:8]),
			lanes: lanes,
		}
		p.wg.Add(2)
		go func() {
			defer p.wg.Done()
			p.heartbeatLoop(ctx, w)
		}()
		go func() {
			defer p.wg.Done()
			p.workLoop(ctx, w)
		}()
	}
}

func (p *Pool) workLoop(ctx context.Context, w *workerState) {
	slog.Info("worker started", "worker", w.name, "lanes", w.lanes)
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped", "worker", w.name)
			return
		default:
		}

		jobID, err := p.queues.Dequeue(ctx, w.lanes...)
		if errors.Is(err, queue.ErrEmpty) {
			sleep(ctx, p.cfg.PollInterval)
			continue
		}
		if err != nil {
			slog.Error("dequeue failed", "worker", w.name, "error", err)
			sleep(ctx, p.cfg.PollInterval)
			continue
		}

		w.setJob(jobID)
		p.process(ctx, w, jobID)
		w.setJob("")
	}
}

// process runs one job attempt end to end.
func (p *Pool) process(ctx context.Context, w *workerState, jobID string) {
	job, err := p.jobs.Get(ctx, jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		slog.Warn("dequeued unknown job", "job_id", jobID)
		return
	}
	if err != nil {
		slog.Error("load job failed", "job_id", jobID, "error", err)
		return
	}

	// A cancel that landed while the job sat in the queue terminates it
	// here, before any provider is called.
	if job.CancelRequested {
		p.finishCancelled(ctx, job)
		return
	}

	job, err = p.jobs.Update(ctx, jobID, func(j *speech.Job) error {
		// The queue carries only IDs, so a promoted retry arrives here
		// still marked retry_scheduled; walk it through queued first.
		if j.Status == speech.StatusRetryScheduled {
			if err := j.Transition(speech.StatusQueued); err != nil {
				return err
			}
		}
		if err := j.Transition(speech.StatusInProgress); err != nil {
			return err
		}
		j.ClaimedBy = w.name
		return nil
	})
	if err != nil {
		slog.Warn("claim failed", "job_id", jobID, "worker", w.name, "error", err)
		return
	}

	// Take over the dedup lease for the duration of the attempt. The lease
	// may have expired while the job waited; re-acquiring keeps the hash
	// covered either way. The heartbeat loop keeps renewing it until the
	// attempt ends, since a full chain pass can outlast a single TTL.
	if err := p.leases.Renew(ctx, job.Hash, job.ID, p.cfg.LeaseTTL); errors.Is(err, lease.ErrNotOwner) {
		if _, err := p.leases.Acquire(ctx, job.Hash, job.ID, p.cfg.LeaseTTL); err != nil && !errors.Is(err, lease.ErrHeld) {
			slog.Warn("lease reacquire failed", "job_id", job.ID, "error", err)
		}
	}
	w.setHash(job.Hash)

	start := time.Now()
	artifact, synthErr := p.chain.Synthesize(ctx, job.Request)
	took := time.Since(start)

	// From here the finish paths own the lease (release on success, extend
	// over the backoff on retry); stop the heartbeat renewals first so they
	// cannot clip a longer extension back down to one TTL.
	w.setHash("")

	if synthErr != nil && ctx.Err() != nil {
		// Shutdown mid-attempt: put the job back without charging an
		// attempt; the lease will lapse on its own.
		p.requeue(context.WithoutCancel(ctx), job, "worker shutting down")
		return
	}

	p.recorder.ObserveJob(took, synthErr)

	if synthErr == nil {
		p.finishSucceeded(ctx, job, artifact)
		return
	}
	p.finishFailedAttempt(ctx, job, synthErr)
}

func (p *Pool) finishSucceeded(ctx context.Context, job speech.Job, artifact *speech.Artifact) {
	// Re-read for a cancel that arrived mid-synthesis; the result is
	// discarded rather than delivered.
	fresh, err := p.jobs.Get(ctx, job.ID)
	if err == nil && fresh.CancelRequested {
		p.finishCancelled(ctx, fresh)
		return
	}

	entry, err := p.cache.Put(ctx, job.Hash, *artifact)
	if err != nil {
		slog.Error("cache write failed", "job_id", job.ID, "error", err)
		p.finishFailedAttempt(ctx, job, fmt.Errorf("cache write: %w", err))
		return
	}

	_, err = p.jobs.Update(ctx, job.ID, func(j *speech.Job) error {
		if err := j.Transition(speech.StatusSucceeded); err != nil {
			return err
		}
		j.Attempts++
		j.ArtifactRef = entry.Ref
		j.LastError = ""
		return nil
	})
	if err != nil {
		slog.Error("mark succeeded failed", "job_id", job.ID, "error", err)
		return
	}

	p.releaseLease(ctx, job)
	slog.Info("job succeeded",
		"job_id", job.ID,
		"provider", artifact.Provider,
		"ref", entry.Ref,
		"attempts", job.Attempts+1,
	)
}

func (p *Pool) finishFailedAttempt(ctx context.Context, job speech.Job, synthErr error) {
	attempts := job.Attempts + 1

	if attempts >= job.MaxAttempts {
		if err := p.queues.SendToDeadLetter(ctx, job.ID); err != nil {
			slog.Error("dead-letter enqueue failed", "job_id", job.ID, "error", err)
		}
		_, err := p.jobs.Update(ctx, job.ID, func(j *speech.Job) error {
			if err := j.Transition(speech.StatusDeadLetter); err != nil {
				return err
			}
			j.Attempts = attempts
			j.LastError = synthErr.Error()
			return nil
		})
		if err != nil {
			slog.Error("mark dead-letter failed", "job_id", job.ID, "error", err)
		}
		p.releaseLease(ctx, job)
		slog.Error("job dead-lettered", "job_id", job.ID, "attempts", attempts, "error", synthErr)
		return
	}

	delay := Backoff(p.cfg.BackoffBase, p.cfg.BackoffCap, attempts)
	if err := p.queues.ScheduleRetry(ctx, job.Lane, job.ID, delay); err != nil {
		slog.Error("schedule retry failed", "job_id", job.ID, "error", err)
		return
	}
	_, err := p.jobs.Update(ctx, job.ID, func(j *speech.Job) error {
		if err := j.Transition(speech.StatusRetryScheduled); err != nil {
			return err
		}
		j.Attempts = attempts
		j.LastError = synthErr.Error()
		j.ClaimedBy = ""
		return nil
	})
	if err != nil {
		slog.Error("mark retry failed", "job_id", job.ID, "error", err)
	}

	// The lease has to outlive the backoff so concurrent submissions keep
	// attaching to this job instead of spawning a duplicate.
	if err := p.leases.Renew(ctx, job.Hash, job.ID, delay+p.cfg.LeaseTTL); err != nil && !errors.Is(err, lease.ErrNotOwner) {
		slog.Warn("lease renew for retry failed", "job_id", job.ID, "error", err)
	}

	slog.Warn("job attempt failed, retry scheduled",
		"job_id", job.ID,
		"attempt", attempts,
		"max_attempts", job.MaxAttempts,
		"delay", delay,
		"error", synthErr,
	)
}

func (p *Pool) finishCancelled(ctx context.Context, job speech.Job) {
	_, err := p.jobs.Update(ctx, job.ID, func(j *speech.Job) error {
		return j.Transition(speech.StatusCancelled)
	})
	if err != nil {
		slog.Error("mark cancelled failed", "job_id", job.ID, "error", err)
		return
	}
	p.releaseLease(ctx, job)
	slog.Info("job cancelled", "job_id", job.ID)
}

func (p *Pool) requeue(ctx context.Context, job speech.Job, reason string) {
	_, err := p.jobs.Update(ctx, job.ID, func(j *speech.Job) error {
		if err := j.Transition(speech.StatusQueued); err != nil {
			return err
		}
		j.ClaimedBy = ""
		return nil
	})
	if err != nil {
		slog.Error("requeue transition failed", "job_id", job.ID, "error", err)
		return
	}
	if err := p.queues.Enqueue(ctx, job.Lane, job.ID); err != nil {
		slog.Error("requeue enqueue failed", "job_id", job.ID, "error", err)
		return
	}
	slog.Info("job requeued", "job_id", job.ID, "reason", reason)
}

func (p *Pool) releaseLease(ctx context.Context, job speech.Job) {
	if err := p.leases.Release(ctx, job.Hash, job.ID); err != nil && !errors.Is(err, lease.ErrNotOwner) {
		slog.Warn("lease release failed", "job_id", job.ID, "error", err)
	}
}

func (p *Pool) heartbeatLoop(ctx context.Context, w *workerState) {
	ticker := time.NewTicker(p.cfg.HeartbeatEvery)
	defer ticker.Stop()

	beat := func() {
		if err := p.heartbeats.Beat(context.WithoutCancel(ctx), w.record(), p.cfg.StaleAfter); err != nil {
			slog.Warn("heartbeat failed", "worker", w.name, "error", err)
		}
		// Each beat also extends the dedup lease of the job in flight, so
		// an attempt longer than one TTL is not mistaken for a dead worker.
		if jobID, hash := w.current(); hash != "" {
			if err := p.leases.Renew(context.WithoutCancel(ctx), hash, jobID, p.cfg.LeaseTTL); err != nil && !errors.Is(err, lease.ErrNotOwner) {
				slog.Warn("lease renew from heartbeat failed", "worker", w.name, "job_id", jobID, "error", err)
			}
		}
	}
	beat()

	for {
		select {
		case <-ctx.Done():
			if err := p.heartbeats.Remove(context.WithoutCancel(ctx), w.name); err != nil {
				slog.Warn("heartbeat remove failed", "worker", w.name, "error", err)
			}
			return
		case <-ticker.C:
			beat()
		}
	}
}

// janitorLoop reclaims in-progress jobs whose dedup lease expired, which is
// what happens when the claiming worker dies and stops renewing. The
// reclaimed attempt is not charged to the job.
func (p *Pool) janitorLoop(ctx context.Context) {
	interval := p.cfg.StaleAfter / 2
	if interval <= 0 {
		interval = p.cfg.HeartbeatEvery
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reclaimStale(ctx)
		}
	}
}

func (p *Pool) reclaimStale(ctx context.Context) {
	stuck, err := p.jobs.ListByStatus(ctx, speech.StatusInProgress, 100)
	if err != nil {
		slog.Error("janitor list failed", "error", err)
		return
	}

	for _, job := range stuck {
		owner, err := p.leases.Owner(ctx, job.Hash)
		if err != nil {
			slog.Error("janitor lease check failed", "job_id", job.ID, "error", err)
			continue
		}
		if owner == job.ID {
			continue // claimant is alive and renewing
		}

		if owner == "" {
			if _, err := p.leases.Acquire(ctx, job.Hash, job.ID, p.cfg.LeaseTTL); err != nil && !errors.Is(err, lease.ErrHeld) {
				slog.Warn("janitor lease reacquire failed", "job_id", job.ID, "error", err)
			}
		} else {
			slog.Warn("stale job's hash re-leased elsewhere", "job_id", job.ID, "owner", owner)
		}

		slog.Warn("reclaiming job from dead worker", "job_id", job.ID, "claimed_by", job.ClaimedBy)
		p.requeue(ctx, job, "lease expired")
	}
}

func (p *Pool) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HeartbeatEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publisher.Publish(ctx, p.recorder.Stats()); err != nil {
				slog.Warn("stats publish failed", "error", err)
			}
		}
	}
}

// Backoff returns the exponential retry delay for the given attempt number
// (1-based), capped.
func Backoff(base, ceil time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceil {
			return ceil
		}
	}
	if d > ceil {
		return ceil
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
