package jobsched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// JobParameters is what a JobService receives for one run.
type JobParameters struct {
	JobID       int
	Extras      []byte
	NumFailures int
}

// JobService performs the work of a job. Returning nil completes the job
// (periodic jobs are scheduled again). Returning an error wrapping ErrRetry
// reschedules it with backoff; any other error drops it.
type JobService interface {
	RunJob(ctx context.Context, params JobParameters) error
}

// JobServiceFunc adapts a function to JobService.
type JobServiceFunc func(ctx context.Context, params JobParameters) error

func (f JobServiceFunc) RunJob(ctx context.Context, params JobParameters) error {
	return f(ctx, params)
}

// ConditionProbe samples the device conditions job constraints depend on.
type ConditionProbe interface {
	Conditions(ctx context.Context) Conditions
}

// Submitter is the part of the dispatcher the runner reports back to.
type Submitter interface {
	Schedule(job *JobInfo) error
	Reschedule(jobID int) error
	Cancel(jobID int) error
	OnRunCycleFinished() error
}

type runningJob struct {
	status  *JobStatus
	cancel  context.CancelFunc
	stopped bool
}

// Runner is the Executor that runs jobs with registered JobServices, each
// in its own goroutine. When the last in-flight job of a run cycle ends it
// submits exactly one OnRunCycleFinished.
type Runner struct {
	store  *JobStore
	probe  ConditionProbe
	logger *slog.Logger

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	submit   Submitter
	services map[string]JobService
	running  map[int]*runningJob
	finished map[int]*JobStatus // statuses whose outcome command is still queued
	inflight int
}

// NewRunner creates a runner that reads jobs from store. A nil probe
// reports every condition as satisfied.
func NewRunner(store *JobStore, probe ConditionProbe, logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:      store,
		probe:      probe,
		logger:     orDiscard(logger),
		baseCtx:    ctx,
		cancelBase: cancel,
		services:   make(map[string]JobService),
		running:    make(map[int]*runningJob),
		finished:   make(map[int]*JobStatus),
	}
}

// Bind sets where job outcomes are reported. It must be called before the
// first Start.
func (r *Runner) Bind(s Submitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submit = s
}

// RegisterService makes svc available to jobs whose Service is name.
func (r *Runner) RegisterService(name string, svc JobService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = svc
}

// Start runs the job in the background. Jobs that are already running, or
// whose previous run's outcome has not been applied yet, are ignored.
func (r *Runner) Start(ctx context.Context, jobID int) {
	var js *JobStatus
	if err := r.store.View(ctx, func(txn *StoreTxn) error {
		js = txn.Get(jobID)
		return nil
	}); err != nil {
		r.logger.Error("Runner: failed to read job", "jobID", jobID, "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.running[jobID]; ok {
		r.logger.Debug("Runner: job already running", "jobID", jobID)
		return
	}
	if js != nil && r.finished[jobID] == js {
		r.logger.Debug("Runner: job outcome pending, not restarting", "jobID", jobID)
		return
	}
	delete(r.finished, jobID)

	r.inflight++
	r.wg.Add(1)

	if js == nil {
		// Cancelled between the ready snapshot and now.
		go r.finish(jobID, nil, nil)
		return
	}

	svc, ok := r.services[js.Job.Service]
	if !ok {
		err := fmt.Errorf("%w: %q", ErrUnknownService, js.Job.Service)
		go r.finish(jobID, nil, err)
		return
	}

	runCtx, cancel := context.WithCancel(r.baseCtx)
	rj := &runningJob{status: js, cancel: cancel}
	r.running[jobID] = rj
	params := JobParameters{
		JobID:       jobID,
		Extras:      js.Job.Extras,
		NumFailures: js.NumFailures,
	}
	r.logger.Debug("Runner: starting job", "jobID", jobID, "service", js.Job.Service, "numFailures", js.NumFailures)

	go func() {
		err := svc.RunJob(runCtx, params)
		cancel()
		r.finish(jobID, rj, err)
	}()
}

// finish records the end of one run and reports its outcome.
func (r *Runner) finish(jobID int, rj *runningJob, runErr error) {
	defer r.wg.Done()

	r.mu.Lock()
	stopped := false
	var info *JobInfo
	if rj != nil {
		delete(r.running, jobID)
		stopped = rj.stopped
		info = rj.status.Job
		if !stopped {
			r.finished[jobID] = rj.status
		}
	}
	r.inflight--
	last := r.inflight == 0
	submit := r.submit
	r.mu.Unlock()

	if submit == nil {
		r.logger.Error("Runner: no dispatcher bound, dropping outcome", "jobID", jobID)
		return
	}

	switch {
	case rj == nil && runErr == nil:
		// Nothing ran.
	case stopped:
		r.logger.Debug("Runner: job stopped", "jobID", jobID)
	case runErr == nil:
		r.logger.Debug("Runner: job completed", "jobID", jobID)
		if info.Period > 0 {
			r.report(jobID, submit.Schedule(info))
		} else {
			r.report(jobID, submit.Cancel(jobID))
		}
	case errors.Is(runErr, ErrRetry):
		r.logger.Debug("Runner: job failed, rescheduling", "jobID", jobID, "error", runErr)
		r.report(jobID, submit.Reschedule(jobID))
	default:
		r.logger.Error("Runner: job failed, dropping", "jobID", jobID, "error", runErr)
		r.report(jobID, submit.Cancel(jobID))
	}

	if last {
		r.report(jobID, submit.OnRunCycleFinished())
	}
}

func (r *Runner) report(jobID int, err error) {
	if err != nil {
		r.logger.Error("Runner: failed to submit job outcome", "jobID", jobID, "error", err)
	}
}

// Stop cancels the job's context if it is running.
func (r *Runner) Stop(jobID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.finished, jobID)
	if rj, ok := r.running[jobID]; ok {
		rj.stopped = true
		rj.cancel()
		r.logger.Debug("Runner: stop requested", "jobID", jobID)
	}
}

// StopAll cancels every running job.
func (r *Runner) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.finished)
	for id, rj := range r.running {
		rj.stopped = true
		rj.cancel()
		r.logger.Debug("Runner: stop requested", "jobID", id)
	}
}

// RecheckConstraints samples the probe.
func (r *Runner) RecheckConstraints(ctx context.Context) Conditions {
	if r.probe == nil {
		return Conditions{Connected: true, Unmetered: true, Charging: true, Idle: true}
	}
	return r.probe.Conditions(ctx)
}

// Running returns the number of jobs currently executing.
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Close stops every job and waits for their goroutines to exit.
func (r *Runner) Close() {
	r.StopAll()
	r.cancelBase()
	r.wg.Wait()
}
