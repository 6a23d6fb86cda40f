package lease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireIsExclusive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	owner, err := s.Acquire(ctx, "h1", "job-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "job-a", owner)

	owner, err = s.Acquire(ctx, "h1", "job-b", time.Minute)
	require.ErrorIs(t, err, ErrHeld)
	assert.Equal(t, "job-a", owner)
}

func TestExpiredLeaseIsReacquirable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	_, err := s.Acquire(ctx, "h1", "job-a", time.Minute)
	require.NoError(t, err)

	s.SetClock(func() time.Time { return now.Add(2 * time.Minute) })

	owner, err := s.Acquire(ctx, "h1", "job-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "job-b", owner)
}

func TestRenewExtendsOnlyForOwner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.SetClock(func() time.Time { return now })

	_, err := s.Acquire(ctx, "h1", "job-a", time.Minute)
	require.NoError(t, err)

	require.ErrorIs(t, s.Renew(ctx, "h1", "job-b", time.Minute), ErrNotOwner)

	s.SetClock(func() time.Time { return now.Add(50 * time.Second) })
	require.NoError(t, s.Renew(ctx, "h1", "job-a", time.Minute))

	// Renewed past the original expiry.
	s.SetClock(func() time.Time { return now.Add(100 * time.Second) })
	owner, err := s.Owner(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "job-a", owner)
}

func TestReleaseRequiresOwnership(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Acquire(ctx, "h1", "job-a", time.Minute)
	require.NoError(t, err)

	require.ErrorIs(t, s.Release(ctx, "h1", "job-b"), ErrNotOwner)
	require.NoError(t, s.Release(ctx, "h1", "job-a"))

	owner, err := s.Owner(ctx, "h1")
	require.NoError(t, err)
	assert.Empty(t, owner)
}
