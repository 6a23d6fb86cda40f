package speech

import (
	"fmt"
	"time"
)

// Lane is a priority-segregated sub-queue.
type Lane string

const (
	LaneHigh     Lane = "high"
	LaneStandard Lane = "standard"
	LaneBatch    Lane = "batch"
	LaneRetry    Lane = "retry"
	LaneDead     Lane = "dead_letter"
)

// WorkLanes are the lanes workers drain, in strict priority order.
var WorkLanes = []Lane{LaneHigh, LaneStandard, LaneBatch}

// ValidLane reports whether l is a lane callers may submit into.
func ValidLane(l Lane) bool {
	return l == LaneHigh || l == LaneStandard || l == LaneBatch
}

// JobStatus is the state of a job in its lifecycle.
type JobStatus string

const (
	StatusQueued         JobStatus = "queued"
	StatusInProgress     JobStatus = "in_progress"
	StatusRetryScheduled JobStatus = "retry_scheduled"
	StatusSucceeded      JobStatus = "succeeded"
	StatusFailed         JobStatus = "failed"
	StatusDeadLetter     JobStatus = "dead_letter"
	StatusCancelled      JobStatus = "cancelled"
)

// Terminal reports whether s is a final state.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusDeadLetter, StatusCancelled:
		return true
	}
	return false
}

// External maps internal states onto the statuses exposed to pollers.
// A retry-scheduled job is still queued from the caller's point of view.
func (s JobStatus) External() JobStatus {
	if s == StatusRetryScheduled {
		return StatusQueued
	}
	return s
}

// Job is one pending or in-flight synthesis request.
type Job struct {
	ID          string    `json:"id"`
	Hash        string    `json:"hash"`
	Request     Request   `json:"request"`
	Lane        Lane      `json:"lane"`
	Status      JobStatus `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	ClaimedBy   string    `json:"claimed_by,omitempty"`
	ArtifactRef string    `json:"artifact_ref,omitempty"`

	// CancelRequested marks a job the caller gave up on. A queued job is
	// cancelled at claim time; an in-flight job finishes but its result
	// is discarded.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var transitions = map[JobStatus][]JobStatus{
	StatusQueued:         {StatusInProgress, StatusCancelled},
	StatusInProgress:     {StatusSucceeded, StatusRetryScheduled, StatusDeadLetter, StatusFailed, StatusCancelled, StatusQueued},
	StatusRetryScheduled: {StatusQueued, StatusCancelled},
	StatusDeadLetter:     {StatusQueued}, // operator requeue
}

// CanTransition validates a status change against the job state machine.
// in_progress → queued is the reclaim path for jobs whose worker died.
func CanTransition(from, to JobStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition applies a validated status change and stamps the update time.
func (j *Job) Transition(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("invalid job transition: %s -> %s", j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// WorkerRecord is one worker's liveness entry, refreshed on each heartbeat.
type WorkerRecord struct {
	Name       string    `json:"name"`
	Lanes      []Lane    `json:"lanes"`
	CurrentJob string    `json:"current_job,omitempty"`
	LastBeat   time.Time `json:"last_beat"`
}
