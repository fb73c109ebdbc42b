package jobsched

import (
	"log/slog"
	"sync"
	"time"
)

// TimerSource arms and disarms the "job became eligible" trigger of a job.
type TimerSource interface {
	Arm(js *JobStatus)
	Disarm(jobID int)
}

// ClockTimers is a TimerSource backed by one runtime timer per job. When a
// timer fires it calls the trigger function, which enqueues a RunReadyJobs
// command.
type ClockTimers struct {
	mu      sync.Mutex
	timers  map[int]*time.Timer
	trigger func()
	now     func() time.Time
	logger  *slog.Logger
}

// NewClockTimers creates timers that call trigger when a job becomes eligible.
func NewClockTimers(trigger func(), logger *slog.Logger) *ClockTimers {
	return &ClockTimers{
		timers:  make(map[int]*time.Timer),
		trigger: trigger,
		now:     time.Now,
		logger:  orDiscard(logger),
	}
}

// Arm replaces any timer for the job with one that fires at its earliest
// run time (immediately when that has passed) and, for jobs with a
// deadline, once more at the deadline.
func (c *ClockTimers) Arm(js *JobStatus) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armLocked(js.JobID(), nextWakeup(js, now), js.LatestRunTime)
}

func (c *ClockTimers) armLocked(id int, at, deadline time.Time) {
	if t, exists := c.timers[id]; exists {
		t.Stop()
		delete(c.timers, id)
	}

	delay := max(at.Sub(c.now()), 0)
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if c.timers[id] != t {
			c.mu.Unlock()
			return
		}
		delete(c.timers, id)
		if deadline.After(at) {
			c.armLocked(id, deadline, time.Time{})
		}
		c.mu.Unlock()
		c.logger.Debug("ClockTimers: fired", "jobID", id)
		c.trigger()
	})
	c.timers[id] = t
	c.logger.Debug("ClockTimers: armed", "jobID", id, "delay", delay)
}

// Disarm stops the job's timer. Unknown job IDs are ignored.
func (c *ClockTimers) Disarm(jobID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[jobID]; ok {
		t.Stop()
		delete(c.timers, jobID)
		c.logger.Debug("ClockTimers: disarmed", "jobID", jobID)
	}
}

// Armed returns the number of pending timers.
func (c *ClockTimers) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Stop disarms every timer.
func (c *ClockTimers) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

// nextWakeup picks when a timer for js should fire. A job that is already
// past its earliest run time gets an immediate ready check.
func nextWakeup(js *JobStatus, now time.Time) time.Time {
	if js.EarliestRunTime.After(now) {
		return js.EarliestRunTime
	}
	return now
}
