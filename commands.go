package jobsched

import (
	"context"
	"sync"
)

type commandKind int

const (
	cmdSchedule commandKind = iota
	cmdReschedule
	cmdCancel
	cmdCancelAll
	cmdRunReadyJobs
	cmdDeviceRestart
	cmdRunCycleFinished
	cmdBarrier
)

func (k commandKind) String() string {
	switch k {
	case cmdSchedule:
		return "schedule"
	case cmdReschedule:
		return "reschedule"
	case cmdCancel:
		return "cancel"
	case cmdCancelAll:
		return "cancel_all"
	case cmdRunReadyJobs:
		return "run_ready_jobs"
	case cmdDeviceRestart:
		return "device_restart"
	case cmdRunCycleFinished:
		return "run_cycle_finished"
	case cmdBarrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// command is one unit of work for the dispatcher loop.
type command struct {
	kind           commandKind
	job            *JobInfo      // cmdSchedule
	jobID          int           // cmdReschedule, cmdCancel
	releaseTrigger bool          // cmdRunReadyJobs
	done           chan struct{} // cmdBarrier
}

// commandQueue is an unbounded FIFO with a single consumer. Producers never
// block, so timer and signal callbacks can submit from any goroutine.
type commandQueue struct {
	mu     sync.Mutex
	items  []command
	notify chan struct{}
	closed bool
}

func newCommandQueue() *commandQueue {
	return &commandQueue{notify: make(chan struct{}, 1)}
}

// push appends cmd. It returns false once the queue is closed.
func (q *commandQueue) push(cmd command) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, cmd)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// pop blocks until a command is available or ctx is done.
func (q *commandQueue) pop(ctx context.Context) (command, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			cmd := q.items[0]
			q.items[0] = command{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return cmd, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return command{}, false
		}

		select {
		case <-ctx.Done():
			return command{}, false
		case <-q.notify:
		}
	}
}

// close rejects further pushes and returns the commands left unhandled.
func (q *commandQueue) close() []command {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	rest := q.items
	q.items = nil
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return rest
}

func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
