package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/cache"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/config"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/jobstore"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/lease"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/monitor"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/queue"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/tts"
)

// fakeProvider fails its first failBefore calls, then succeeds. failBefore of
// -1 means it never succeeds. A non-zero delay makes every call take that
// long before returning.
type fakeProvider struct {
	mu         sync.Mutex
	failBefore int
	delay      time.Duration
	calls      int
	processed  []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Synthesize(ctx context.Context, req speech.Request) (*speech.Artifact, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failBefore < 0 || f.calls <= f.failBefore {
		return nil, errors.New("synthesis unavailable")
	}
	f.processed = append(f.processed, req.Text)
	return &speech.Artifact{Audio: []byte("audio:" + req.Text), ContentType: "audio/mpeg"}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.processed...)
}

type poolFixture struct {
	queues   *queue.Memory
	jobs     *jobstore.Memory
	leases   *lease.MemoryStore
	cache    *cache.Store
	provider *fakeProvider
	pool     *Pool
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		HighWorkers:     1,
		StandardWorkers: 1,
		BatchWorkers:    1,
		MaxAttempts:     3,
		BackoffBase:     5 * time.Millisecond,
		BackoffCap:      20 * time.Millisecond,
		LeaseTTL:        time.Minute,
		HeartbeatEvery:  10 * time.Millisecond,
		StaleAfter:      40 * time.Millisecond,
		PollInterval:    5 * time.Millisecond,
	}
}

func newPoolFixture(t *testing.T, provider *fakeProvider, cfg config.PipelineConfig) *poolFixture {
	t.Helper()
	blobs, err := cache.NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)

	f := &poolFixture{
		queues:   queue.NewMemory(),
		jobs:     jobstore.NewMemory(),
		leases:   lease.NewMemoryStore(),
		cache:    cache.NewStore(cache.NewMemoryIndex(), blobs, 0),
		provider: provider,
	}
	chain := tts.NewChain(time.Second, nil, provider)
	f.pool = NewPool(f.queues, f.jobs, f.leases, f.cache, chain, monitor.NewRecorder(), monitor.NewMemoryHeartbeats(), nil, cfg)
	return f
}

func (f *poolFixture) submit(t *testing.T, text string, lane speech.Lane) speech.Job {
	t.Helper()
	ctx := context.Background()
	req := speech.Request{Text: text, Voice: "alloy", Lane: lane}.Normalized()
	now := time.Now().UTC()
	job := speech.Job{
		ID:          "job-" + text,
		Hash:        req.ContentHash(),
		Request:     req,
		Lane:        lane,
		Status:      speech.StatusQueued,
		MaxAttempts: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, f.jobs.Create(ctx, job))
	require.NoError(t, f.queues.Enqueue(ctx, lane, job.ID))
	return job
}

func (f *poolFixture) run(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f.pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		f.pool.Wait()
	})
	return cancel
}

func jobStatus(t *testing.T, f *poolFixture, id string) speech.JobStatus {
	t.Helper()
	job, err := f.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return job.Status
}

func TestPoolProcessesJobToSuccess(t *testing.T) {
	f := newPoolFixture(t, &fakeProvider{}, testConfig())
	job := f.submit(t, "dzień dobry", speech.LaneStandard)
	f.run(t)

	require.Eventually(t, func() bool {
		return jobStatus(t, f, job.ID) == speech.StatusSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	done, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, done.Attempts)
	assert.NotEmpty(t, done.ArtifactRef)

	entry, err := f.cache.Get(context.Background(), job.Hash)
	require.NoError(t, err)
	assert.Equal(t, done.ArtifactRef, entry.Ref)

	// The dedup lease is released once the artifact is cached.
	owner, err := f.leases.Owner(context.Background(), job.Hash)
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestPoolRetriesThenSucceeds(t *testing.T) {
	provider := &fakeProvider{failBefore: 2}
	f := newPoolFixture(t, provider, testConfig())
	job := f.submit(t, "spróbuj ponownie", speech.LaneHigh)
	f.run(t)

	require.Eventually(t, func() bool {
		return jobStatus(t, f, job.ID) == speech.StatusSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	done, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, done.Attempts)
	assert.Empty(t, done.LastError)
}

func TestPoolDeadLettersAfterMaxAttempts(t *testing.T) {
	provider := &fakeProvider{failBefore: -1}
	f := newPoolFixture(t, provider, testConfig())
	job := f.submit(t, "beznadziejne", speech.LaneStandard)
	f.run(t)

	require.Eventually(t, func() bool {
		return jobStatus(t, f, job.ID) == speech.StatusDeadLetter
	}, 2*time.Second, 5*time.Millisecond)

	done, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, done.Attempts)
	assert.NotEmpty(t, done.LastError)
	assert.Equal(t, 3, provider.callCount())

	depths, err := f.queues.Depths(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths[speech.LaneDead])
}

func TestPoolDrainsHighBeforeBatch(t *testing.T) {
	// A single worker makes the processing order deterministic.
	cfg := testConfig()
	cfg.HighWorkers = 1
	cfg.StandardWorkers = 0
	cfg.BatchWorkers = 0

	provider := &fakeProvider{}
	f := newPoolFixture(t, provider, cfg)
	f.submit(t, "batch one", speech.LaneBatch)
	f.submit(t, "batch two", speech.LaneBatch)
	f.submit(t, "urgent", speech.LaneHigh)
	f.run(t)

	require.Eventually(t, func() bool {
		return len(provider.order()) == 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"urgent", "batch one", "batch two"}, provider.order())
}

func TestPoolSkipsCancelledJobAtClaim(t *testing.T) {
	provider := &fakeProvider{}
	f := newPoolFixture(t, provider, testConfig())
	job := f.submit(t, "anulowane", speech.LaneStandard)

	_, err := f.jobs.Update(context.Background(), job.ID, func(j *speech.Job) error {
		j.CancelRequested = true
		return nil
	})
	require.NoError(t, err)

	f.run(t)

	require.Eventually(t, func() bool {
		return jobStatus(t, f, job.ID) == speech.StatusCancelled
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, provider.callCount())
}

func TestJanitorReclaimsJobWithExpiredLease(t *testing.T) {
	provider := &fakeProvider{}
	f := newPoolFixture(t, provider, testConfig())

	// A job left in_progress by a dead worker: no queue entry, no lease.
	req := speech.Request{Text: "osierocone", Voice: "alloy"}.Normalized()
	now := time.Now().UTC()
	job := speech.Job{
		ID:          "job-orphan",
		Hash:        req.ContentHash(),
		Request:     req,
		Lane:        speech.LaneStandard,
		Status:      speech.StatusInProgress,
		ClaimedBy:   "standard-deadbeef",
		MaxAttempts: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, f.jobs.Create(context.Background(), job))

	f.run(t)

	require.Eventually(t, func() bool {
		return jobStatus(t, f, job.ID) == speech.StatusSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	// The reclaimed attempt is not charged; only the successful retry counts.
	done, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, done.Attempts)
}

func TestHeartbeatKeepsLeaseAliveDuringSlowSynthesis(t *testing.T) {
	// Synthesis runs several lease TTLs long; the heartbeat renewals must
	// keep the janitor from treating the worker as dead and requeueing the
	// job into a second, concurrent attempt.
	cfg := testConfig()
	cfg.LeaseTTL = 30 * time.Millisecond
	cfg.HeartbeatEvery = 5 * time.Millisecond
	cfg.StaleAfter = 20 * time.Millisecond

	provider := &fakeProvider{delay: 150 * time.Millisecond}
	f := newPoolFixture(t, provider, cfg)
	job := f.submit(t, "długi monolog", speech.LaneStandard)
	f.run(t)

	require.Eventually(t, func() bool {
		return jobStatus(t, f, job.ID) == speech.StatusSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	done, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, done.Attempts)
	assert.Equal(t, 1, provider.callCount())
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	base := 2 * time.Second
	ceil := 2 * time.Minute

	assert.Equal(t, 2*time.Second, Backoff(base, ceil, 1))
	assert.Equal(t, 4*time.Second, Backoff(base, ceil, 2))
	assert.Equal(t, 8*time.Second, Backoff(base, ceil, 3))
	assert.Equal(t, 2*time.Minute, Backoff(base, ceil, 10))
}
