package jobstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/Zubastic120993/polish-tutor-sub002/internal/speech"
)

// Memory is an in-process job store for tests and single-node runs.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]speech.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]speech.Job)}
}

func (m *Memory) Create(_ context.Context, job speech.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (speech.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return speech.Job{}, ErrNotFound
	}
	return job, nil
}

func (m *Memory) Update(_ context.Context, id string, fn func(*speech.Job) error) (speech.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return speech.Job{}, ErrNotFound
	}
	if err := fn(&job); err != nil {
		return speech.Job{}, err
	}
	m.jobs[id] = job
	return job, nil
}

func (m *Memory) ListByStatus(_ context.Context, status speech.JobStatus, limit int) ([]speech.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []speech.Job
	for _, job := range m.jobs {
		if job.Status != status {
			continue
		}
		out = append(out, job)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
