package queue

import (
	"context"
	"sync"
	"time"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

type retryEntry struct {
	jobID   string
	lane    speech.Lane
	readyAt time.Time
}

// Memory is an in-process queue manager for tests and single-node runs.
type Memory struct {
	mu    sync.Mutex
	lanes map[speech.Lane][]string
	retry []retryEntry
	dead  []string
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		lanes: make(map[speech.Lane][]string),
		now:   time.Now,
	}
}

func (m *Memory) Enqueue(_ context.Context, lane speech.Lane, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lanes[lane] = append(m.lanes[lane], jobID)
	return nil
}

func (m *Memory) Dequeue(_ context.Context, lanes ...speech.Lane) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.promoteDue()

	for _, lane := range lanes {
		q := m.lanes[lane]
		if len(q) == 0 {
			continue
		}
		jobID := q[0]
		m.lanes[lane] = q[1:]
		return jobID, nil
	}
	return "", ErrEmpty
}

func (m *Memory) ScheduleRetry(_ context.Context, lane speech.Lane, jobID string, delay time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retry = append(m.retry, retryEntry{jobID: jobID, lane: lane, readyAt: m.now().Add(delay)})
	return nil
}

func (m *Memory) SendToDeadLetter(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = append(m.dead, jobID)
	return nil
}

func (m *Memory) RemoveFromDeadLetter(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.dead {
		if id == jobID {
			m.dead = append(m.dead[:i], m.dead[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) Depths(_ context.Context) (map[speech.Lane]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	depths := map[speech.Lane]int64{
		speech.LaneRetry: int64(len(m.retry)),
		speech.LaneDead:  int64(len(m.dead)),
	}
	for _, lane := range speech.WorkLanes {
		depths[lane] = int64(len(m.lanes[lane]))
	}
	return depths, nil
}

// promoteDue moves retry entries whose delay elapsed back to their original
// lane, preserving schedule order. Caller holds the lock.
func (m *Memory) promoteDue() {
	now := m.now()
	remaining := m.retry[:0]
	for _, e := range m.retry {
		if now.Before(e.readyAt) {
			remaining = append(remaining, e)
			continue
		}
		m.lanes[e.lane] = append(m.lanes[e.lane], e.jobID)
	}
	m.retry = remaining
}

// SetClock overrides the time source. Test hook.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}
