package jobsched

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidJob is returned for job definitions that cannot be scheduled.
	ErrInvalidJob = errors.New("invalid job")

	// ErrRescheduleIdle is the fatal error raised when an idle-constrained job
	// is rescheduled. There is no backoff policy for idle jobs.
	ErrRescheduleIdle = fmt.Errorf("rescheduling idle jobs: %w", errors.ErrUnsupported)

	// ErrClosed is returned by operations on a closed dispatcher or store.
	ErrClosed = errors.New("closed")

	// ErrRetry marks a job run that failed and should be rescheduled with
	// backoff. Job services wrap or return it.
	ErrRetry = errors.New("job needs reschedule")

	// ErrUnknownService is reported when a job names a service that was never registered.
	ErrUnknownService = errors.New("unknown job service")
)
