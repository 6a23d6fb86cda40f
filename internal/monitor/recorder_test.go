package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecorderPercentiles(t *testing.T) {
	r := NewRecorder()
	for i := 1; i <= 100; i++ {
		r.ObserveJob(time.Duration(i)*time.Millisecond, nil)
	}

	stats := r.Stats()
	assert.Equal(t, int64(100), stats.JobsCompleted)
	assert.Equal(t, 50*time.Millisecond, stats.LatencyP50)
	assert.Equal(t, 95*time.Millisecond, stats.LatencyP95)
	assert.Zero(t, stats.ErrorRate)
}

func TestRecorderErrorRate(t *testing.T) {
	r := NewRecorder()
	failed := errors.New("synthesis failed")
	for i := 0; i < 8; i++ {
		r.ObserveJob(time.Millisecond, nil)
	}
	for i := 0; i < 2; i++ {
		r.ObserveJob(time.Millisecond, failed)
	}

	stats := r.Stats()
	assert.Equal(t, int64(8), stats.JobsCompleted)
	assert.Equal(t, int64(2), stats.JobsFailed)
	assert.InDelta(t, 0.2, stats.ErrorRate, 1e-9)
}

func TestRecorderWindowRollsOver(t *testing.T) {
	r := NewRecorder()
	failed := errors.New("old failure")

	// Fill the window with failures, then push them all out with successes.
	for i := 0; i < sampleWindow; i++ {
		r.ObserveJob(time.Millisecond, failed)
	}
	for i := 0; i < sampleWindow; i++ {
		r.ObserveJob(time.Millisecond, nil)
	}

	stats := r.Stats()
	assert.Zero(t, stats.ErrorRate)
	// Lifetime counters are not windowed.
	assert.Equal(t, int64(sampleWindow), stats.JobsFailed)
	assert.Equal(t, int64(sampleWindow), stats.JobsCompleted)
}

func TestRecorderProviderStats(t *testing.T) {
	r := NewRecorder()
	r.ObserveProvider("openai", time.Second, errors.New("429"))
	r.ObserveProvider("openai", time.Second, nil)
	r.ObserveProvider("piper", time.Second, nil)

	stats := r.Stats()
	openai := stats.Providers["openai"]
	assert.Equal(t, int64(2), openai.Calls)
	assert.Equal(t, int64(1), openai.Failures)
	assert.InDelta(t, 0.5, openai.ErrorRate, 1e-9)

	piper := stats.Providers["piper"]
	assert.Equal(t, int64(1), piper.Calls)
	assert.Zero(t, piper.Failures)
}

func TestRecorderEmptyStats(t *testing.T) {
	stats := NewRecorder().Stats()
	assert.Zero(t, stats.ErrorRate)
	assert.Zero(t, stats.LatencyP50)
	assert.Empty(t, stats.Providers)
}
