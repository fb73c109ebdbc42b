package jobsched

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerBackend implements the Backend interface using BadgerDB.
// It needs no CGO and is the default durable backend.
type BadgerBackend struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerBackend creates a new BadgerDB backend.
// The database directory will be created if it doesn't exist.
// dbPath is the path to the BadgerDB database directory.
// logger is the logger instance for logging backend operations.
// Note: BadgerDB uses its own logger interface, so its internal logging is disabled.
func NewBadgerBackend(dbPath string, logger *slog.Logger) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerBackend{
		db:     db,
		logger: orDiscard(logger),
	}, nil
}

// Close closes the database connection
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// retryUpdate retries a BadgerDB update operation on transaction conflicts.
func (b *BadgerBackend) retryUpdate(ctx context.Context, fn func(txn *badger.Txn) error) error {
	const maxRetries = 50
	const retryDelay = 1 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			time.Sleep(retryDelay)
		}

		err := b.db.Update(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("transaction conflict after %d retries: %w", maxRetries, lastErr)
}

const keyPrefixJob = "job:"

// jobKey returns the key for a job
func jobKey(jobID int) []byte {
	return []byte(keyPrefixJob + strconv.Itoa(jobID))
}

// LoadJobs returns all stored jobs ordered by job ID.
func (b *BadgerBackend) LoadJobs(ctx context.Context) ([]*JobStatus, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, err
	}

	var result []*JobStatus
	err = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixJob)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var rec jobRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				b.logger.Error("LoadJobs: skipping unreadable record", "key", string(item.Key()), "error", err)
				continue
			}
			result = append(result, rec.toStatus())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].JobID() < result[j].JobID() })
	b.logger.Debug("LoadJobs", "count", len(result))
	return result, nil
}

// SaveJob stores job under its job ID.
func (b *BadgerBackend) SaveJob(ctx context.Context, job *JobStatus) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	if job == nil || job.Job == nil {
		return fmt.Errorf("job is nil")
	}

	data, err := json.Marshal(recordFromStatus(job))
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	b.logger.Debug("SaveJob", "jobID", job.JobID(), "numFailures", job.NumFailures)
	return b.retryUpdate(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(jobKey(job.JobID()), data); err != nil {
			return fmt.Errorf("failed to store job: %w", err)
		}
		return nil
	})
}

// DeleteJob removes the record for jobID.
func (b *BadgerBackend) DeleteJob(ctx context.Context, jobID int) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}

	b.logger.Debug("DeleteJob", "jobID", jobID)
	return b.retryUpdate(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(jobKey(jobID)); err != nil {
			return fmt.Errorf("failed to delete job: %w", err)
		}
		return nil
	})
}
