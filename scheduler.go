package jobsched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// Scheduler wires the dispatcher to a durable store, clock timers, system
// signal listeners, a wake lock and a Runner.
type Scheduler struct {
	cfg    *Config
	logger *slog.Logger

	store      *JobStore
	timers     *ClockTimers
	listeners  *SignalListeners
	runner     *Runner
	dispatcher *Dispatcher

	ctx     context.Context
	cancel  context.CancelFunc
	closers []func() error
}

// NewScheduler builds a scheduler from cfg. Persisted jobs found in the
// backend are restored when Start is called.
func NewScheduler(cfg *Config, logger *slog.Logger) (*Scheduler, error) {
	if cfg == nil {
		cfg = LoadConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger = orDiscard(logger)

	s := &Scheduler{cfg: cfg, logger: logger}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	backend, err := openBackend(cfg, logger)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.store, err = OpenJobStore(s.ctx, backend, logger)
	if err != nil {
		_ = backend.Close()
		s.cancel()
		return nil, err
	}
	s.closers = append(s.closers, s.store.Close)

	guardLock, triggerLock, err := s.wakeLocks()
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	probe := SystemProbe{
		Network: NetworkProbe{
			Address:           cfg.NetworkProbeAddr,
			Timeout:           cfg.NetworkProbeTimeout,
			MeteredInterfaces: cfg.MeteredInterfaces,
		},
		Power:    PowerProbe{SupplyPath: cfg.PowerSupplyPath},
		IdleLoad: cfg.IdleLoad,
	}

	var d *Dispatcher
	s.timers = NewClockTimers(func() { d.TriggerWakeful() }, logger)
	sources := map[ListenerKind]SignalSource{
		ListenerNetwork: NewNetworkSource(probe.Network, cfg.PollInterval, logger),
		ListenerPower:   NewPowerSource(probe.Power, cfg.PollInterval, logger),
	}
	if cfg.DataDir != "" {
		sources[ListenerBoot] = &BootSource{MarkerPath: filepath.Join(cfg.DataDir, "boot_id"), Logger: logger}
	}
	s.listeners = NewSignalListeners(s.ctx, sources, cfg.NotifyInterval, func(kind ListenerKind) {
		if kind == ListenerBoot {
			_ = d.OnDeviceRestart()
			return
		}
		d.TriggerWakeful()
	}, logger)

	s.runner = NewRunner(s.store, probe, logger)
	d = NewDispatcher(s.store, s.timers, s.listeners, s.runner,
		NewWakeLockGuard(guardLock, logger), logger,
		WithTriggerWakeLock(triggerLock))
	s.runner.Bind(d)
	s.dispatcher = d

	return s, nil
}

func openBackend(cfg *Config, logger *slog.Logger) (Backend, error) {
	if cfg.Backend == BackendMemory {
		return NewInMemoryBackend(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	switch cfg.Backend {
	case BackendBadger:
		return NewBadgerBackend(filepath.Join(cfg.DataDir, "badger"), logger)
	case BackendSQLite:
		return openSQLiteBackend(filepath.Join(cfg.DataDir, "jobs.db"), logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// wakeLocks returns separate locks for the run-cycle guard and for wakeful
// triggers, so releasing one never drops the other.
func (s *Scheduler) wakeLocks() (WakeLock, WakeLock, error) {
	if !s.cfg.InhibitSleep {
		return NopWakeLock{}, NopWakeLock{}, nil
	}
	guard, err := NewInhibitorWakeLock("jobsched", "running scheduled jobs")
	if err != nil {
		return nil, nil, err
	}
	s.closers = append(s.closers, guard.Close)
	trigger, err := NewInhibitorWakeLock("jobsched", "checking job readiness")
	if err != nil {
		return nil, nil, err
	}
	s.closers = append(s.closers, trigger.Close)
	return guard, trigger, nil
}

// Start restores persisted jobs and runs the dispatcher until ctx is done
// or a fatal dispatcher error occurs.
func (s *Scheduler) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.dispatcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.timers.Stop()
		s.listeners.StopAll()
		return nil
	})

	if n := s.store.Len(); n > 0 {
		s.logger.Info("restoring persisted jobs", "count", n)
		if err := s.dispatcher.OnDeviceRestart(); err != nil {
			s.logger.Error("failed to submit restore", "error", err)
		}
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// RegisterService makes svc available to jobs whose Service is name.
func (s *Scheduler) RegisterService(name string, svc JobService) {
	s.runner.RegisterService(name, svc)
}

// Schedule submits job, replacing any job with the same ID.
func (s *Scheduler) Schedule(job *JobInfo) error { return s.dispatcher.Schedule(job) }

// Cancel submits a cancellation of the job.
func (s *Scheduler) Cancel(jobID int) error { return s.dispatcher.Cancel(jobID) }

// CancelAll submits a cancellation of every job.
func (s *Scheduler) CancelAll() error { return s.dispatcher.CancelAll() }

// Dispatcher returns the underlying dispatcher.
func (s *Scheduler) Dispatcher() *Dispatcher { return s.dispatcher }

// Pending returns the definitions of all live jobs ordered by ID.
func (s *Scheduler) Pending(ctx context.Context) ([]*JobInfo, error) {
	var jobs []*JobInfo
	err := s.store.View(ctx, func(txn *StoreTxn) error {
		for _, js := range txn.Jobs() {
			jobs = append(jobs, js.Job.clone())
		}
		return nil
	})
	return jobs, err
}

// Close stops running jobs and closes the store and wake locks.
func (s *Scheduler) Close() error {
	s.cancel()
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	if s.runner != nil {
		s.runner.Close()
	}
	if s.timers != nil {
		s.timers.Stop()
	}
	if s.listeners != nil {
		s.listeners.StopAll()
	}

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
