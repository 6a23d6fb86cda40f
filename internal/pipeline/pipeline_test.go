package pipeline

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
	"github.com/Zubastic120993/polish-tutor-sub002/internal/dedup"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/jobstore"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/lease"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/monitor"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/queue"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/tts"
	"github.com/Zubastic120993/polish-tutor-sub002/internal/worker"
)

// scriptedProvider answers with a fixed error or with audio derived from the
// request text.
type scriptedProvider struct {
	mu    sync.Mutex
	name  string
	err   error
	calls int
}

func (s *scriptedProvider) Name() string { return s.name }

func (s *scriptedProvider) Synthesize(_ context.Context, req speech.Request) (*speech.Artifact, error) {
	s.mu.Lock()
	s.calls++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &speech.Artifact{Audio: []byte(s.name + ":" + req.Text), ContentType: "audio/mpeg"}, nil
}

func (s *scriptedProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stack struct {
	pipeline *Pipeline
	jobs     *jobstore.Memory
	queues   *queue.Memory
	cache    *cache.Store
	recorder *monitor.Recorder
	pool     *worker.Pool
}

func newStack(t *testing.T, providers ...tts.Provider) *stack {
	t.Helper()
	blobs, err := cache.NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)

	s := &stack{
		jobs:     jobstore.NewMemory(),
		queues:   queue.NewMemory(),
		cache:    cache.NewStore(cache.NewMemoryIndex(), blobs, 0),
		recorder: monitor.NewRecorder(),
	}
	leases := lease.NewMemoryStore()
	cfg := config.PipelineConfig{
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

	chain := tts.NewChain(time.Second, s.recorder, providers...)
	d := dedup.New(s.cache, leases, s.jobs, s.queues, cfg.LeaseTTL, cfg.MaxAttempts)
	s.pipeline = New(d, s.jobs, s.queues, s.cache)
	s.pool = worker.NewPool(s.queues, s.jobs, leases, s.cache, chain, s.recorder, monitor.NewMemoryHeartbeats(), nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	s.pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		s.pool.Wait()
	})
	return s
}

func (s *stack) waitForStatus(t *testing.T, jobID string, want speech.JobStatus) StatusResult {
	t.Helper()
	var last StatusResult
	require.Eventually(t, func() bool {
		res, err := s.pipeline.Status(context.Background(), jobID)
		if err != nil {
			return false
		}
		last = res
		return res.Status == want
	}, 2*time.Second, 5*time.Millisecond, "job %s never reached %s (last: %+v)", jobID, want, last)
	return last
}

func TestDuplicateSubmissionsShareOneSynthesis(t *testing.T) {
	provider := &scriptedProvider{name: "openai"}
	s := newStack(t, provider)
	ctx := context.Background()

	first, err := s.pipeline.Submit(ctx, speech.Request{Text: "Dzień dobry!", Voice: "alloy"})
	require.NoError(t, err)
	require.False(t, first.CacheHit)

	status := s.waitForStatus(t, first.JobID, speech.StatusSucceeded)
	require.NotEmpty(t, status.ArtifactRef)

	// A second submission of the same content is an immediate cache hit.
	second, err := s.pipeline.Submit(ctx, speech.Request{Text: "  dzień   DOBRY! ", Voice: "ALLOY"})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, status.ArtifactRef, second.Entry.Ref)

	// One provider call total: synthesis happened exactly once.
	assert.Equal(t, 1, provider.callCount())

	audio, contentType, err := s.pipeline.Artifact(ctx, first.JobID)
	require.NoError(t, err)
	assert.Equal(t, []byte("openai:Dzień dobry!"), audio)
	assert.Equal(t, "audio/mpeg", contentType)
}

func TestFallbackServesResultWhenPrimaryIsDown(t *testing.T) {
	primary := &scriptedProvider{name: "openai", err: errors.New("502 from upstream")}
	backup := &scriptedProvider{name: "piper"}
	s := newStack(t, primary, backup)
	ctx := context.Background()

	res, err := s.pipeline.Submit(ctx, speech.Request{Text: "zapasowy głos", Voice: "alloy", Lane: speech.LaneHigh})
	require.NoError(t, err)

	status := s.waitForStatus(t, res.JobID, speech.StatusSucceeded)
	// The fallback succeeded on the first attempt; no retry was consumed.
	assert.Equal(t, 1, status.Attempts)

	audio, _, err := s.pipeline.Artifact(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, []byte("piper:zapasowy głos"), audio)

	// The monitor shows the primary's failure and the backup's success.
	stats := s.recorder.Stats()
	assert.Equal(t, int64(1), stats.Providers["openai"].Failures)
	assert.Zero(t, stats.Providers["piper"].Failures)
	assert.Zero(t, stats.ErrorRate)
}

func TestExhaustedChainEndsInDeadLetter(t *testing.T) {
	a := &scriptedProvider{name: "openai", err: errors.New("down")}
	b := &scriptedProvider{name: "piper", err: errors.New("also down")}
	s := newStack(t, a, b)
	ctx := context.Background()

	res, err := s.pipeline.Submit(ctx, speech.Request{Text: "nic nie działa", Voice: "alloy"})
	require.NoError(t, err)

	status := s.waitForStatus(t, res.JobID, speech.StatusDeadLetter)
	assert.Equal(t, 3, status.Attempts)
	assert.NotEmpty(t, status.LastError)

	// Every attempt walked the full chain.
	assert.Equal(t, 3, a.callCount())
	assert.Equal(t, 3, b.callCount())

	dead, err := s.pipeline.ListDeadLetter(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, res.JobID, dead[0].ID)
}

func TestRequeueDeadLetterGetsFreshAttempts(t *testing.T) {
	flaky := &scriptedProvider{name: "openai", err: errors.New("outage")}
	s := newStack(t, flaky)
	ctx := context.Background()

	res, err := s.pipeline.Submit(ctx, speech.Request{Text: "po awarii", Voice: "alloy"})
	require.NoError(t, err)
	s.waitForStatus(t, res.JobID, speech.StatusDeadLetter)

	// Upstream recovers; the operator requeues the job.
	flaky.mu.Lock()
	flaky.err = nil
	flaky.mu.Unlock()

	require.NoError(t, s.pipeline.RequeueDeadLetter(ctx, res.JobID))

	status := s.waitForStatus(t, res.JobID, speech.StatusSucceeded)
	assert.Equal(t, 1, status.Attempts)
	assert.NotEmpty(t, status.ArtifactRef)
}

func TestRequeueRejectsNonDeadLetteredJob(t *testing.T) {
	provider := &scriptedProvider{name: "openai"}
	s := newStack(t, provider)
	ctx := context.Background()

	res, err := s.pipeline.Submit(ctx, speech.Request{Text: "zdrowe zadanie", Voice: "alloy"})
	require.NoError(t, err)
	s.waitForStatus(t, res.JobID, speech.StatusSucceeded)

	err = s.pipeline.RequeueDeadLetter(ctx, res.JobID)
	assert.ErrorIs(t, err, ErrNotDeadLettered)
}

func TestCancelTerminalJobFails(t *testing.T) {
	provider := &scriptedProvider{name: "openai"}
	s := newStack(t, provider)
	ctx := context.Background()

	res, err := s.pipeline.Submit(ctx, speech.Request{Text: "już gotowe", Voice: "alloy"})
	require.NoError(t, err)
	s.waitForStatus(t, res.JobID, speech.StatusSucceeded)

	err = s.pipeline.Cancel(ctx, res.JobID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestStatusUnknownJob(t *testing.T) {
	s := newStack(t, &scriptedProvider{name: "openai"})
	_, err := s.pipeline.Status(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
}

func TestStatusMasksRetryScheduled(t *testing.T) {
	// With a long backoff the job sits in retry_scheduled; callers see queued.
	provider := &scriptedProvider{name: "openai", err: errors.New("first call fails")}
	blobs, err := cache.NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)

	jobs := jobstore.NewMemory()
	queues := queue.NewMemory()
	cacheStore := cache.NewStore(cache.NewMemoryIndex(), blobs, 0)
	leases := lease.NewMemoryStore()
	cfg := config.PipelineConfig{
		HighWorkers:     1,
		StandardWorkers: 0,
		BatchWorkers:    0,
		MaxAttempts:     3,
		BackoffBase:     time.Hour,
		BackoffCap:      time.Hour,
		LeaseTTL:        time.Minute,
		HeartbeatEvery:  10 * time.Millisecond,
		StaleAfter:      time.Minute,
		PollInterval:    5 * time.Millisecond,
	}
	recorder := monitor.NewRecorder()
	chain := tts.NewChain(time.Second, recorder, provider)
	d := dedup.New(cacheStore, leases, jobs, queues, cfg.LeaseTTL, cfg.MaxAttempts)
	p := New(d, jobs, queues, cacheStore)
	pool := worker.NewPool(queues, jobs, leases, cacheStore, chain, recorder, monitor.NewMemoryHeartbeats(), nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Wait()
	})

	res, err := p.Submit(context.Background(), speech.Request{Text: "czekam", Voice: "alloy"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := jobs.Get(context.Background(), res.JobID)
		return err == nil && job.Status == speech.StatusRetryScheduled
	}, 2*time.Second, 5*time.Millisecond)

	status, err := p.Status(context.Background(), res.JobID)
	require.NoError(t, err)
	assert.Equal(t, speech.StatusQueued, status.Status)
	assert.Equal(t, 1, status.Attempts)
}
