//go:build sqlite
// +build sqlite

package jobsched

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend implements the Backend interface using SQLite.
// It provides ACID transactions and is suitable for single-server deployments.
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteBackend creates a new SQLite backend.
// The database file will be created if it doesn't exist.
// dbPath is the path to the SQLite database file.
func NewSQLiteBackend(dbPath string, logger *slog.Logger) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	backend := &SQLiteBackend{db: db, logger: orDiscard(logger)}
	if err := backend.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return backend, nil
}

// Close closes the database connection
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// initSchema initializes the database schema
func (b *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY,
		service TEXT NOT NULL,
		extras BLOB,
		requires_connectivity INTEGER NOT NULL DEFAULT 0,
		requires_unmetered INTEGER NOT NULL DEFAULT 0,
		requires_charging INTEGER NOT NULL DEFAULT 0,
		requires_idle INTEGER NOT NULL DEFAULT 0,
		min_latency INTEGER NOT NULL DEFAULT 0,
		override_deadline INTEGER NOT NULL DEFAULT 0,
		period INTEGER NOT NULL DEFAULT 0,
		backoff_policy INTEGER NOT NULL DEFAULT 0,
		initial_backoff INTEGER NOT NULL DEFAULT 0,
		earliest_run_time INTEGER,
		latest_run_time INTEGER,
		num_failures INTEGER NOT NULL DEFAULT 0
	);
	`

	_, err := b.db.Exec(schema)
	return err
}

// LoadJobs returns all stored jobs ordered by job ID.
func (b *SQLiteBackend) LoadJobs(ctx context.Context) ([]*JobStatus, error) {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT id, service, extras, requires_connectivity, requires_unmetered, requires_charging,
			requires_idle, min_latency, override_deadline, period, backoff_policy, initial_backoff,
			earliest_run_time, latest_run_time, num_failures
		FROM jobs ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var result []*JobStatus
	for rows.Next() {
		var rec jobRecord
		var earliest, latest sql.NullInt64
		if err := rows.Scan(
			&rec.ID, &rec.Service, &rec.Extras,
			&rec.RequiresConnectivity, &rec.RequiresUnmetered, &rec.RequiresCharging, &rec.RequiresIdle,
			&rec.MinLatency, &rec.OverrideDeadline, &rec.Period, &rec.BackoffPolicy, &rec.InitialBackoff,
			&earliest, &latest, &rec.NumFailures,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		if earliest.Valid {
			t := time.UnixMilli(earliest.Int64)
			rec.EarliestRunTime = &t
		}
		if latest.Valid {
			t := time.UnixMilli(latest.Int64)
			rec.LatestRunTime = &t
		}
		result = append(result, rec.toStatus())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	b.logger.Debug("LoadJobs", "count", len(result))
	return result, nil
}

// SaveJob stores job, replacing any existing row with the same ID.
func (b *SQLiteBackend) SaveJob(ctx context.Context, job *JobStatus) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}
	if job == nil || job.Job == nil {
		return fmt.Errorf("job is nil")
	}

	rec := recordFromStatus(job)
	var earliest, latest sql.NullInt64
	if rec.EarliestRunTime != nil {
		earliest = sql.NullInt64{Int64: rec.EarliestRunTime.UnixMilli(), Valid: true}
	}
	if rec.LatestRunTime != nil {
		latest = sql.NullInt64{Int64: rec.LatestRunTime.UnixMilli(), Valid: true}
	}

	b.logger.Debug("SaveJob", "jobID", rec.ID, "numFailures", rec.NumFailures)
	_, err = b.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO jobs (id, service, extras, requires_connectivity, requires_unmetered,
			requires_charging, requires_idle, min_latency, override_deadline, period, backoff_policy,
			initial_backoff, earliest_run_time, latest_run_time, num_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Service, rec.Extras, rec.RequiresConnectivity, rec.RequiresUnmetered,
		rec.RequiresCharging, rec.RequiresIdle, int64(rec.MinLatency), int64(rec.OverrideDeadline),
		int64(rec.Period), int(rec.BackoffPolicy), int64(rec.InitialBackoff), earliest, latest, rec.NumFailures)
	if err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}

// DeleteJob removes the row for jobID.
func (b *SQLiteBackend) DeleteJob(ctx context.Context, jobID int) error {
	var err error
	if ctx, err = normalizeContext(ctx); err != nil {
		return err
	}

	b.logger.Debug("DeleteJob", "jobID", jobID)
	if _, err := b.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}
