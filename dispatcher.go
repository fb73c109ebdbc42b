package jobsched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Executor runs jobs on behalf of the dispatcher. Start and Stop are fire
// and forget; the executor reports the end of a run cycle by submitting
// OnRunCycleFinished.
type Executor interface {
	Start(ctx context.Context, jobID int)
	Stop(jobID int)
	StopAll()
	// RecheckConstraints samples the conditions job constraints are checked against.
	RecheckConstraints(ctx context.Context) Conditions
}

// Dispatcher serializes job-lifecycle commands. Every submission enqueues
// exactly one command; a single goroutine (Run) handles them one at a time
// in arrival order. Only command handlers touch the job store.
type Dispatcher struct {
	store     *JobStore
	timers    TimerSource
	listeners ListenerControl
	executor  Executor
	wakeLock  *WakeLockGuard
	triggers  *triggerHolds
	now       func() time.Time
	logger    *slog.Logger

	queue   *commandQueue
	mu      sync.Mutex
	running bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClock overrides the time source used for eligibility and backoff.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithTriggerWakeLock sets the lock held by wakeful triggers between
// TriggerWakeful and the handling of their RunReadyJobs command.
func WithTriggerWakeLock(lock WakeLock) DispatcherOption {
	return func(d *Dispatcher) { d.triggers = newTriggerHolds(lock, d.logger) }
}

// NewDispatcher creates a dispatcher over its collaborators. The wake lock
// guard is owned by the dispatcher from here on.
func NewDispatcher(store *JobStore, timers TimerSource, listeners ListenerControl, executor Executor, wakeLock *WakeLockGuard, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	logger = orDiscard(logger)
	if wakeLock == nil {
		wakeLock = NewWakeLockGuard(nil, logger)
	}
	d := &Dispatcher{
		store:     store,
		timers:    timers,
		listeners: listeners,
		executor:  executor,
		wakeLock:  wakeLock,
		now:       time.Now,
		logger:    logger,
		queue:     newCommandQueue(),
	}
	d.triggers = newTriggerHolds(nil, logger)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Schedule replaces any job with the same ID by job and activates it.
func (d *Dispatcher) Schedule(job *JobInfo) error {
	if err := job.Validate(); err != nil {
		return err
	}
	return d.submit(command{kind: cmdSchedule, job: job.clone()})
}

// Reschedule re-queues a failed job with backoff.
func (d *Dispatcher) Reschedule(jobID int) error {
	return d.submit(command{kind: cmdReschedule, jobID: jobID})
}

// Cancel disarms, stops and removes a job.
func (d *Dispatcher) Cancel(jobID int) error {
	return d.submit(command{kind: cmdCancel, jobID: jobID})
}

// CancelAll cancels every live job.
func (d *Dispatcher) CancelAll() error {
	return d.submit(command{kind: cmdCancelAll})
}

// RunReadyJobs starts every job that is ready. When releaseWakeLockAfter is
// set, the command drops one trigger hold taken by TriggerWakeful.
func (d *Dispatcher) RunReadyJobs(releaseWakeLockAfter bool) error {
	return d.submit(command{kind: cmdRunReadyJobs, releaseTrigger: releaseWakeLockAfter})
}

// TriggerWakeful keeps the host awake until a RunReadyJobs command has been
// handled. Timers and signal listeners use it.
func (d *Dispatcher) TriggerWakeful() {
	d.triggers.acquire()
	if err := d.RunReadyJobs(true); err != nil {
		d.triggers.release()
	}
}

// OnDeviceRestart re-activates every persisted job.
func (d *Dispatcher) OnDeviceRestart() error {
	return d.submit(command{kind: cmdDeviceRestart})
}

// OnRunCycleFinished turns off listeners no live job needs and releases the
// wake lock. The executor calls it once per run cycle.
func (d *Dispatcher) OnRunCycleFinished() error {
	return d.submit(command{kind: cmdRunCycleFinished})
}

// Sync waits until every command submitted before it has been handled.
func (d *Dispatcher) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := d.submit(command{kind: cmdBarrier, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WakeLockHeld reports whether the dispatcher currently holds the wake lock.
func (d *Dispatcher) WakeLockHeld() bool { return d.wakeLock.Held() }

// Store returns the job store the dispatcher mutates.
func (d *Dispatcher) Store() *JobStore { return d.store }

func (d *Dispatcher) submit(cmd command) error {
	if !d.queue.push(cmd) {
		return fmt.Errorf("dispatcher %w", ErrClosed)
	}
	d.logger.Debug("Dispatcher: command submitted", "command", cmd.kind, "jobID", cmd.jobID)
	return nil
}

// Close stops accepting commands. Run returns after the command in flight.
func (d *Dispatcher) Close() {
	for _, cmd := range d.queue.close() {
		d.dropCommand(cmd)
	}
}

// Run handles commands until ctx is done, Close is called, or a handler
// hits a programming error. Such errors are returned and end the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher is already running")
	}
	d.running = true
	d.mu.Unlock()

	d.logger.Debug("Dispatcher: run loop started")
	defer d.logger.Debug("Dispatcher: run loop stopped")

	for {
		cmd, ok := d.queue.pop(ctx)
		if !ok {
			d.Close()
			return ctx.Err()
		}
		if err := d.handle(ctx, cmd); err != nil {
			d.logger.Error("Dispatcher: fatal command error", "command", cmd.kind, "jobID", cmd.jobID, "error", err)
			d.Close()
			return err
		}
	}
}

func (d *Dispatcher) dropCommand(cmd command) {
	switch {
	case cmd.kind == cmdBarrier:
		close(cmd.done)
	case cmd.kind == cmdRunReadyJobs && cmd.releaseTrigger:
		d.triggers.release()
	}
}

// handle runs one command to completion. Each kind is handled on its own;
// no handler falls through into another.
func (d *Dispatcher) handle(ctx context.Context, cmd command) error {
	d.logger.Debug("Dispatcher: handling command", "command", cmd.kind, "jobID", cmd.jobID)
	var err error
	switch cmd.kind {
	case cmdSchedule:
		err = d.handleSchedule(ctx, cmd.job)
	case cmdReschedule:
		err = d.handleReschedule(ctx, cmd.jobID)
	case cmdCancel:
		err = d.handleCancel(ctx, cmd.jobID)
	case cmdCancelAll:
		err = d.handleCancelAll(ctx)
	case cmdRunReadyJobs:
		err = d.handleRunReadyJobs(ctx)
		if cmd.releaseTrigger {
			d.triggers.release()
		}
	case cmdDeviceRestart:
		err = d.handleDeviceRestart(ctx)
	case cmdRunCycleFinished:
		err = d.handleRunCycleFinished(ctx)
	case cmdBarrier:
		close(cmd.done)
	default:
		err = fmt.Errorf("unknown command kind %d", cmd.kind)
	}

	if err != nil && !errors.Is(err, ErrRescheduleIdle) {
		// Store failures are not programming errors: log and keep serving.
		d.logger.Error("Dispatcher: command failed", "command", cmd.kind, "jobID", cmd.jobID, "error", err)
		return nil
	}
	return err
}

func (d *Dispatcher) handleSchedule(ctx context.Context, job *JobInfo) error {
	js := NewJobStatus(job, d.now())
	if err := d.store.Update(ctx, func(txn *StoreTxn) error {
		txn.Remove(txn.Get(job.ID))
		txn.Add(js)
		return nil
	}); err != nil {
		return err
	}
	d.activate(js)
	return nil
}

func (d *Dispatcher) handleReschedule(ctx context.Context, jobID int) error {
	var fatal error
	var next *JobStatus
	err := d.store.Update(ctx, func(txn *StoreTxn) error {
		prev := txn.Get(jobID)
		if prev == nil {
			d.logger.Debug("Dispatcher: reschedule of unknown job ignored", "jobID", jobID)
			return nil
		}
		if prev.HasIdleConstraint() {
			fatal = fmt.Errorf("job %d: %w", jobID, ErrRescheduleIdle)
			return nil
		}

		info := prev.Job
		delay := Backoff(info.EffectiveInitialBackoff(), prev.NumFailures, info.BackoffPolicy)
		next = newRescheduledStatus(prev, d.now().Add(delay), prev.NumFailures+1)
		txn.Remove(prev)
		txn.Add(next)
		d.logger.Debug("Dispatcher: job rescheduled", "jobID", jobID, "delay", delay, "numFailures", next.NumFailures)
		return nil
	})
	if fatal != nil {
		return fatal
	}
	if err != nil {
		return err
	}
	if next != nil {
		d.timers.Arm(next)
	}
	return nil
}

func (d *Dispatcher) handleCancel(ctx context.Context, jobID int) error {
	d.timers.Disarm(jobID)
	d.executor.Stop(jobID)
	return d.store.Update(ctx, func(txn *StoreTxn) error {
		txn.Remove(txn.Get(jobID))
		return nil
	})
}

func (d *Dispatcher) handleCancelAll(ctx context.Context) error {
	var removed []int
	err := d.store.Update(ctx, func(txn *StoreTxn) error {
		for _, js := range txn.Jobs() {
			removed = append(removed, js.JobID())
			txn.Remove(js)
		}
		return nil
	})
	for _, id := range removed {
		d.timers.Disarm(id)
	}
	d.executor.StopAll()
	return err
}

func (d *Dispatcher) handleRunReadyJobs(ctx context.Context) error {
	cond := d.executor.RecheckConstraints(ctx)
	now := d.now()

	var ready []int
	err := d.store.Update(ctx, func(txn *StoreTxn) error {
		for _, js := range txn.Jobs() {
			js.ApplyConditions(cond)
			if js.IsReady(now) {
				ready = append(ready, js.JobID())
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.logger.Debug("Dispatcher: ready jobs collected", "count", len(ready), "jobIDs", ready)
	if len(ready) == 0 {
		return nil
	}
	d.wakeLock.Acquire()
	for _, id := range ready {
		d.executor.Start(ctx, id)
	}
	return nil
}

func (d *Dispatcher) handleDeviceRestart(ctx context.Context) error {
	var persisted []*JobStatus
	if err := d.store.View(ctx, func(txn *StoreTxn) error {
		for _, js := range txn.Jobs() {
			if js.IsPersisted() {
				persisted = append(persisted, js)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	for _, js := range persisted {
		d.activate(js)
	}
	return nil
}

func (d *Dispatcher) handleRunCycleFinished(ctx context.Context) error {
	demand, err := d.listenerDemand(ctx)
	if err == nil {
		for _, kind := range AllListenerKinds {
			if !demand.Has(kind) {
				d.listeners.Disable(kind)
			}
		}
	}
	// Release even when the store is unreadable so the host can sleep.
	d.wakeLock.Release()
	return err
}

// listenerDemand returns the union of listener kinds the live jobs need.
func (d *Dispatcher) listenerDemand(ctx context.Context) (ListenerSet, error) {
	var demand ListenerSet
	err := d.store.View(ctx, func(txn *StoreTxn) error {
		for _, js := range txn.Jobs() {
			demand = demand.Union(js.RequiredListeners())
			if demand.Full() {
				break
			}
		}
		return nil
	})
	return demand, err
}

// activate arms the job's timer and enables the listeners it needs. It is
// called outside store transactions: enabling a listener may block on I/O.
func (d *Dispatcher) activate(js *JobStatus) {
	d.timers.Arm(js)
	need := js.RequiredListeners()
	for _, kind := range AllListenerKinds {
		if need.Has(kind) {
			d.listeners.Enable(kind)
		}
	}
}
