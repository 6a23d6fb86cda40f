package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycleToSuccess(t *testing.T) {
	job := Job{Status: StatusQueued}

	require.NoError(t, job.Transition(StatusInProgress))
	require.NoError(t, job.Transition(StatusSucceeded))
	assert.True(t, job.Status.Terminal())
}

func TestJobLifecycleThroughRetry(t *testing.T) {
	job := Job{Status: StatusQueued}

	require.NoError(t, job.Transition(StatusInProgress))
	require.NoError(t, job.Transition(StatusRetryScheduled))
	require.NoError(t, job.Transition(StatusQueued))
	require.NoError(t, job.Transition(StatusInProgress))
	require.NoError(t, job.Transition(StatusDeadLetter))
}

func TestJobRejectsInvalidTransition(t *testing.T) {
	job := Job{Status: StatusQueued}
	assert.Error(t, job.Transition(StatusSucceeded))

	done := Job{Status: StatusSucceeded}
	assert.Error(t, done.Transition(StatusQueued))
}

func TestDeadLetterAllowsOperatorRequeue(t *testing.T) {
	job := Job{Status: StatusDeadLetter}
	require.NoError(t, job.Transition(StatusQueued))
}

func TestReclaimTransition(t *testing.T) {
	// A job whose worker died goes straight back to queued.
	job := Job{Status: StatusInProgress}
	require.NoError(t, job.Transition(StatusQueued))
}

func TestExternalStatusMasksRetryScheduled(t *testing.T) {
	assert.Equal(t, StatusQueued, StatusRetryScheduled.External())
	assert.Equal(t, StatusSucceeded, StatusSucceeded.External())
}
