// Package jobstore persists job records: status, attempt count, claimant and
// eventual artifact reference. The queue only carries IDs; this store is
// what status polling reads.
package jobstore

import (
	"context"
	"errors"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// ErrNotFound is returned when no job exists for the given ID.
var ErrNotFound = errors.New("job not found")

// Store holds job records. Update applies fn under the store's own
// concurrency control, so status transitions are never lost between a read
// and a write.
type Store interface {
	Create(ctx context.Context, job speech.Job) error
	Get(ctx context.Context, id string) (speech.Job, error)
	Update(ctx context.Context, id string, fn func(*speech.Job) error) (speech.Job, error)
	ListByStatus(ctx context.Context, status speech.JobStatus, limit int) ([]speech.Job, error)
}
