package jobsched

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryBackend implements the Backend interface using in-memory storage.
// It uses a single mutex for thread-safety and is suitable for testing.
type InMemoryBackend struct {
	mu     sync.RWMutex
	jobs   map[int]*JobStatus
	closed bool
}

// NewInMemoryBackend creates a new in-memory backend.
func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		jobs: make(map[int]*JobStatus),
	}
}

// Close closes the backend and prevents further operations.
func (b *InMemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return nil
}

// LoadJobs returns copies of all stored jobs ordered by job ID.
func (b *InMemoryBackend) LoadJobs(ctx context.Context) ([]*JobStatus, error) {
	if _, err := normalizeContext(ctx); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.ensureOpenLocked(); err != nil {
		return nil, err
	}

	result := make([]*JobStatus, 0, len(b.jobs))
	for _, js := range b.jobs {
		result = append(result, cloneStatus(js))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].JobID() < result[j].JobID() })
	return result, nil
}

// SaveJob stores a copy of job.
func (b *InMemoryBackend) SaveJob(ctx context.Context, job *JobStatus) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}
	if job == nil || job.Job == nil {
		return fmt.Errorf("job is nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpenLocked(); err != nil {
		return err
	}
	b.jobs[job.JobID()] = cloneStatus(job)
	return nil
}

// DeleteJob removes the job with the given ID.
func (b *InMemoryBackend) DeleteJob(ctx context.Context, jobID int) error {
	if _, err := normalizeContext(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpenLocked(); err != nil {
		return err
	}
	delete(b.jobs, jobID)
	return nil
}

func (b *InMemoryBackend) ensureOpenLocked() error {
	if b.closed {
		return fmt.Errorf("backend %w", ErrClosed)
	}
	return nil
}
