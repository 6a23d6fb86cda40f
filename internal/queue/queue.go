// Package queue implements the five-lane job queue: three work lanes drained
// in strict priority order, a delayed-visibility retry lane, and a terminal
// dead-letter lane. The queue carries job IDs only; job state lives in the
// job store.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// ErrEmpty is returned by Dequeue when no job is eligible in any given lane.
var ErrEmpty = errors.New("queue empty")

// Manager is the lane store shared by submitters and workers. Dequeue is the
// atomic claim point: a job ID is handed to exactly one caller.
type Manager interface {
	// Enqueue appends jobID to the tail of lane. FIFO within the lane.
	Enqueue(ctx context.Context, lane speech.Lane, jobID string) error
	// Dequeue pops the first eligible job ID, trying lanes in the order
	// given. Due retry-lane jobs are promoted back to their original lane
	// before the scan. Returns ErrEmpty when nothing is eligible.
	Dequeue(ctx context.Context, lanes ...speech.Lane) (string, error)
	// ScheduleRetry parks jobID in the retry lane; it becomes visible in
	// its original lane only after delay elapses.
	ScheduleRetry(ctx context.Context, lane speech.Lane, jobID string, delay time.Duration) error
	// SendToDeadLetter moves jobID to the terminal dead-letter lane.
	SendToDeadLetter(ctx context.Context, jobID string) error
	// RemoveFromDeadLetter takes jobID back out, for operator requeue.
	RemoveFromDeadLetter(ctx context.Context, jobID string) error
	// Depths reports the current depth of every lane.
	Depths(ctx context.Context) (map[speech.Lane]int64, error)
}
