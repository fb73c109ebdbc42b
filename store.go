package jobsched

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// JobStore holds the live job set: at most one JobStatus per job ID.
// All access goes through Update or View, which hold the store's single
// lock for the duration of the callback. Persisted jobs are written through
// to the backend.
type JobStore struct {
	mu      sync.Mutex
	jobs    map[int]*JobStatus
	backend Backend
	logger  *slog.Logger
	closed  bool
}

// OpenJobStore creates a store backed by backend and loads the jobs it
// already holds. A nil backend keeps everything in memory.
func OpenJobStore(ctx context.Context, backend Backend, logger *slog.Logger) (*JobStore, error) {
	if backend == nil {
		backend = NewInMemoryBackend()
	}
	s := &JobStore{
		jobs:    make(map[int]*JobStatus),
		backend: backend,
		logger:  orDiscard(logger),
	}

	loaded, err := backend.LoadJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted jobs: %w", err)
	}
	for _, js := range loaded {
		s.jobs[js.JobID()] = js
	}
	s.logger.Debug("OpenJobStore: loaded persisted jobs", "count", len(loaded))
	return s, nil
}

// Update runs fn with write access to the store.
func (s *JobStore) Update(ctx context.Context, fn func(txn *StoreTxn) error) error {
	return s.run(ctx, true, fn)
}

// View runs fn with read-only access to the store.
func (s *JobStore) View(ctx context.Context, fn func(txn *StoreTxn) error) error {
	return s.run(ctx, false, fn)
}

func (s *JobStore) run(ctx context.Context, writable bool, fn func(txn *StoreTxn) error) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("job store %w", ErrClosed)
	}
	return fn(&StoreTxn{store: s, ctx: ctx, writable: writable})
}

// Len returns the number of live jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Close closes the store and its backend.
func (s *JobStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}

// StoreTxn is the view of the store handed to Update and View callbacks.
// It must not be retained after the callback returns.
type StoreTxn struct {
	store    *JobStore
	ctx      context.Context
	writable bool
}

// Get returns the live status for jobID, or nil.
func (t *StoreTxn) Get(jobID int) *JobStatus {
	return t.store.jobs[jobID]
}

// Add inserts js, replacing any status with the same job ID.
func (t *StoreTxn) Add(js *JobStatus) {
	t.mustWrite()
	s := t.store
	s.jobs[js.JobID()] = js
	if !js.IsPersisted() {
		return
	}
	if err := s.backend.SaveJob(t.ctx, js); err != nil {
		s.logger.Error("JobStore: failed to persist job", "jobID", js.JobID(), "error", err)
	}
}

// Remove deletes js from the store. Nil or unknown statuses are ignored.
func (t *StoreTxn) Remove(js *JobStatus) {
	t.mustWrite()
	if js == nil {
		return
	}
	s := t.store
	if cur, ok := s.jobs[js.JobID()]; !ok || cur != js {
		return
	}
	delete(s.jobs, js.JobID())
	if !js.IsPersisted() {
		return
	}
	if err := s.backend.DeleteJob(t.ctx, js.JobID()); err != nil {
		s.logger.Error("JobStore: failed to delete persisted job", "jobID", js.JobID(), "error", err)
	}
}

// Jobs returns a snapshot of the live statuses ordered by job ID.
func (t *StoreTxn) Jobs() []*JobStatus {
	result := make([]*JobStatus, 0, len(t.store.jobs))
	for _, js := range t.store.jobs {
		result = append(result, js)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].JobID() < result[j].JobID() })
	return result
}

func (t *StoreTxn) mustWrite() {
	if !t.writable {
		panic("jobsched: write in a read-only store transaction")
	}
}
