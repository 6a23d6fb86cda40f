package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

func TestDequeueIsFIFOWithinLane(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, speech.LaneStandard, "a"))
	require.NoError(t, q.Enqueue(ctx, speech.LaneStandard, "b"))
	require.NoError(t, q.Enqueue(ctx, speech.LaneStandard, "c"))

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx, speech.WorkLanes...)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := q.Dequeue(ctx, speech.WorkLanes...)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestHighLaneDrainsBeforeBatch(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	// Batch jobs enqueued first must not starve a later high job.
	require.NoError(t, q.Enqueue(ctx, speech.LaneBatch, "batch-1"))
	require.NoError(t, q.Enqueue(ctx, speech.LaneBatch, "batch-2"))
	require.NoError(t, q.Enqueue(ctx, speech.LaneHigh, "high-1"))
	require.NoError(t, q.Enqueue(ctx, speech.LaneStandard, "std-1"))

	var order []string
	for {
		id, err := q.Dequeue(ctx, speech.WorkLanes...)
		if err != nil {
			break
		}
		order = append(order, id)
	}
	assert.Equal(t, []string{"high-1", "std-1", "batch-1", "batch-2"}, order)
}

func TestRetryBecomesVisibleAfterDelay(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	now := time.Now()
	q.SetClock(func() time.Time { return now })

	require.NoError(t, q.ScheduleRetry(ctx, speech.LaneHigh, "job-1", 30*time.Second))

	_, err := q.Dequeue(ctx, speech.WorkLanes...)
	require.ErrorIs(t, err, ErrEmpty)

	q.SetClock(func() time.Time { return now.Add(time.Minute) })

	got, err := q.Dequeue(ctx, speech.WorkLanes...)
	require.NoError(t, err)
	// Promoted back into its original lane at that lane's priority.
	assert.Equal(t, "job-1", got)
}

func TestDeadLetterDepthAndRemoval(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	require.NoError(t, q.SendToDeadLetter(ctx, "doomed"))

	depths, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths[speech.LaneDead])

	// Dead-lettered jobs are never handed to workers.
	_, err = q.Dequeue(ctx, speech.WorkLanes...)
	assert.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, q.RemoveFromDeadLetter(ctx, "doomed"))
	depths, err = q.Depths(ctx)
	require.NoError(t, err)
	assert.Zero(t, depths[speech.LaneDead])
}

func TestDepthsCoverAllLanes(t *testing.T) {
	q := NewMemory()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, speech.LaneHigh, "a"))
	require.NoError(t, q.ScheduleRetry(ctx, speech.LaneStandard, "b", time.Hour))

	depths, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths[speech.LaneHigh])
	assert.Equal(t, int64(1), depths[speech.LaneRetry])
	assert.Zero(t, depths[speech.LaneBatch])
}
