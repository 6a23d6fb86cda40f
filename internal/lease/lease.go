// Package lease implements the dedup-lease table: a time-bounded claim on a
// content hash that prevents two jobs from synthesizing the same audio
// concurrently. Acquisition must be an atomic test-and-set against the shared
// store; check-then-act sequences reintroduce the duplicate-synthesis race.
package lease

import (
	"context"
	"errors"
	"time"
)

// ErrHeld is returned by Acquire when another owner already holds the hash.
var ErrHeld = errors.New("lease already held")

// ErrNotOwner is returned by Renew/Release when the caller no longer owns
// the lease (it expired and may have been re-acquired).
var ErrNotOwner = errors.New("lease not owned by caller")

// Store is the shared lease table. Owner is the job ID the lease protects;
// the TTL bounds how long a crashed holder can block a hash.
type Store interface {
	// Acquire atomically claims hash for owner. On contention it returns
	// ErrHeld along with the current owner's ID.
	Acquire(ctx context.Context, hash, owner string, ttl time.Duration) (currentOwner string, err error)
	// Renew extends the TTL, failing with ErrNotOwner unless owner still
	// holds the lease.
	Renew(ctx context.Context, hash, owner string, ttl time.Duration) error
	// Release drops the lease if owner still holds it. Releasing an expired
	// or re-acquired lease is a no-op error (ErrNotOwner).
	Release(ctx context.Context, hash, owner string) error
	// Owner returns the current holder, or "" if the hash is unleased.
	Owner(ctx context.Context, hash string) (string, error)
}
