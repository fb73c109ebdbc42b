// Package jobsched provides a background job scheduling coordinator: the
// control plane of a deferred-execution scheduler.
//
// The library supports:
//   - A serialized command dispatcher (schedule, reschedule with backoff,
//     cancel, cancel-all, run ready jobs, device restart, run cycle finished)
//   - Constraint-gated jobs (connectivity, unmetered network, charging, idle)
//   - Durable job storage for persisted jobs (in-memory, BadgerDB, SQLite)
//   - Timer and signal listeners that are enabled only while a live job needs them
//   - A sleep-prevention lock held exactly while started jobs are outstanding
//
// Example usage:
//
//	sched, _ := jobsched.NewScheduler(jobsched.LoadConfig(), logger)
//	sched.RegisterService("sync", jobsched.JobServiceFunc(doSync))
//	go sched.Start(ctx)
//
//	sched.Schedule(&jobsched.JobInfo{
//	    ID:                   1,
//	    Service:              "sync",
//	    RequiresConnectivity: true,
//	    Persisted:            true,
//	    MinLatency:           time.Minute,
//	})
package jobsched

import (
	"fmt"
	"time"
)

// BackoffPolicy selects how the retry delay grows with each failure.
type BackoffPolicy int

const (
	// BackoffExponential doubles the delay after each failure. This is the default.
	BackoffExponential BackoffPolicy = iota
	// BackoffLinear grows the delay by InitialBackoff after each failure.
	BackoffLinear
)

func (p BackoffPolicy) String() string {
	switch p {
	case BackoffLinear:
		return "linear"
	case BackoffExponential:
		return "exponential"
	default:
		return fmt.Sprintf("BackoffPolicy(%d)", int(p))
	}
}

const (
	// DefaultInitialBackoff is used when JobInfo.InitialBackoff is zero.
	DefaultInitialBackoff = 30 * time.Second
	// MaxBackoff caps every computed retry delay.
	MaxBackoff = 5 * time.Hour
)

// JobInfo is the caller-supplied, immutable definition of a job.
type JobInfo struct {
	ID      int    // Unique, caller-chosen job identifier
	Service string // Name of the registered JobService that runs the job
	Extras  []byte // Opaque payload handed to the service

	RequiresConnectivity bool // Any network connection
	RequiresUnmetered    bool // An unmetered network connection
	RequiresCharging     bool // Device on external power
	RequiresIdle         bool // Device idle
	Persisted            bool // Survives a device restart

	MinLatency       time.Duration // Earliest run offset from scheduling time
	OverrideDeadline time.Duration // Latest run offset (0 means no deadline)
	Period           time.Duration // Re-run interval for periodic jobs (0 means one-shot)

	BackoffPolicy  BackoffPolicy
	InitialBackoff time.Duration
}

// Validate reports whether the definition can be scheduled.
func (j *JobInfo) Validate() error {
	if j == nil {
		return fmt.Errorf("%w: job is nil", ErrInvalidJob)
	}
	if j.Service == "" {
		return fmt.Errorf("%w: job %d has no service", ErrInvalidJob, j.ID)
	}
	if j.MinLatency < 0 || j.OverrideDeadline < 0 || j.Period < 0 || j.InitialBackoff < 0 {
		return fmt.Errorf("%w: job %d has a negative duration", ErrInvalidJob, j.ID)
	}
	if j.Period > 0 && (j.MinLatency > 0 || j.OverrideDeadline > 0) {
		return fmt.Errorf("%w: periodic job %d cannot set a latency or deadline", ErrInvalidJob, j.ID)
	}
	if j.OverrideDeadline > 0 && j.OverrideDeadline < j.MinLatency {
		return fmt.Errorf("%w: job %d deadline is before its minimum latency", ErrInvalidJob, j.ID)
	}
	if j.BackoffPolicy != BackoffLinear && j.BackoffPolicy != BackoffExponential {
		return fmt.Errorf("%w: job %d has unknown backoff policy %s", ErrInvalidJob, j.ID, j.BackoffPolicy)
	}
	return nil
}

// EffectiveInitialBackoff returns InitialBackoff, or DefaultInitialBackoff when unset.
func (j *JobInfo) EffectiveInitialBackoff() time.Duration {
	if j.InitialBackoff == 0 {
		return DefaultInitialBackoff
	}
	return j.InitialBackoff
}

func (j *JobInfo) clone() *JobInfo {
	c := *j
	if j.Extras != nil {
		c.Extras = append([]byte(nil), j.Extras...)
	}
	return &c
}

// Conditions is a snapshot of the device state that job constraints are checked against.
type Conditions struct {
	Connected bool
	Unmetered bool
	Charging  bool
	Idle      bool
}

// JobStatus is the store-owned runtime state of a scheduled job.
// It must only be read or mutated inside a JobStore transaction.
type JobStatus struct {
	Job *JobInfo

	EarliestRunTime time.Time // Zero means eligible immediately
	LatestRunTime   time.Time // Zero means no deadline
	NumFailures     int       // Times the job was rescheduled after a failure

	// Constraint satisfaction, refreshed before every ready check.
	connectivitySatisfied bool
	unmeteredSatisfied    bool
	chargingSatisfied     bool
	idleSatisfied         bool
}

// NewJobStatus builds a fresh status for info scheduled at now.
func NewJobStatus(info *JobInfo, now time.Time) *JobStatus {
	js := &JobStatus{Job: info.clone()}
	switch {
	case info.Period > 0:
		js.EarliestRunTime = now.Add(info.Period)
	case info.MinLatency > 0:
		js.EarliestRunTime = now.Add(info.MinLatency)
	}
	if info.OverrideDeadline > 0 {
		js.LatestRunTime = now.Add(info.OverrideDeadline)
	}
	return js
}

// newRescheduledStatus copies prev with a new earliest run time, no
// deadline and the given failure count.
func newRescheduledStatus(prev *JobStatus, earliest time.Time, numFailures int) *JobStatus {
	return &JobStatus{
		Job:             prev.Job,
		EarliestRunTime: earliest,
		NumFailures:     numFailures,
	}
}

// JobID returns the id of the wrapped job.
func (js *JobStatus) JobID() int { return js.Job.ID }

func (js *JobStatus) HasConnectivityConstraint() bool { return js.Job.RequiresConnectivity }
func (js *JobStatus) HasUnmeteredConstraint() bool    { return js.Job.RequiresUnmetered }
func (js *JobStatus) HasChargingConstraint() bool     { return js.Job.RequiresCharging }
func (js *JobStatus) HasIdleConstraint() bool         { return js.Job.RequiresIdle }
func (js *JobStatus) IsPersisted() bool               { return js.Job.Persisted }

// HasDeadline reports whether the job has a latest run time.
func (js *JobStatus) HasDeadline() bool { return !js.LatestRunTime.IsZero() }

// ApplyConditions records which of the job's constraints c satisfies.
func (js *JobStatus) ApplyConditions(c Conditions) {
	js.connectivitySatisfied = c.Connected
	js.unmeteredSatisfied = c.Connected && c.Unmetered
	js.chargingSatisfied = c.Charging
	js.idleSatisfied = c.Idle
}

// IsReady reports whether the job may run at now. A passed deadline makes
// the job ready regardless of its constraints.
func (js *JobStatus) IsReady(now time.Time) bool {
	if js.HasDeadline() && !now.Before(js.LatestRunTime) {
		return true
	}
	if now.Before(js.EarliestRunTime) {
		return false
	}
	return js.constraintsSatisfied()
}

func (js *JobStatus) constraintsSatisfied() bool {
	if js.Job.RequiresConnectivity && !js.connectivitySatisfied {
		return false
	}
	if js.Job.RequiresUnmetered && !js.unmeteredSatisfied {
		return false
	}
	if js.Job.RequiresCharging && !js.chargingSatisfied {
		return false
	}
	if js.Job.RequiresIdle && !js.idleSatisfied {
		return false
	}
	return true
}

// RequiredListeners returns the listener kinds this job keeps active.
func (js *JobStatus) RequiredListeners() ListenerSet {
	var set ListenerSet
	if js.HasConnectivityConstraint() || js.HasUnmeteredConstraint() {
		set = set.With(ListenerNetwork)
	}
	if js.HasChargingConstraint() {
		set = set.With(ListenerPower)
	}
	if js.IsPersisted() {
		set = set.With(ListenerBoot)
	}
	return set
}

// ListenerKind identifies a constraint signal source.
type ListenerKind int

const (
	ListenerNetwork ListenerKind = iota
	ListenerPower
	ListenerBoot
)

// AllListenerKinds lists every kind in a stable order.
var AllListenerKinds = []ListenerKind{ListenerNetwork, ListenerPower, ListenerBoot}

func (k ListenerKind) String() string {
	switch k {
	case ListenerNetwork:
		return "network"
	case ListenerPower:
		return "power"
	case ListenerBoot:
		return "boot"
	default:
		return fmt.Sprintf("ListenerKind(%d)", int(k))
	}
}

// ListenerSet is a small bit set of listener kinds.
type ListenerSet uint8

func (s ListenerSet) With(k ListenerKind) ListenerSet { return s | 1<<uint(k) }
func (s ListenerSet) Has(k ListenerKind) bool         { return s&(1<<uint(k)) != 0 }

// Union returns the kinds present in s or o.
func (s ListenerSet) Union(o ListenerSet) ListenerSet { return s | o }

// Full reports whether every kind is present.
func (s ListenerSet) Full() bool {
	for _, k := range AllListenerKinds {
		if !s.Has(k) {
			return false
		}
	}
	return true
}
