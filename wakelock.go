package jobsched

import (
	"log/slog"
	"sync"
)

// WakeLock is a sleep-prevention primitive. Implementations need not be
// reference counted: callers pair every Acquire with exactly one Release.
type WakeLock interface {
	Acquire() error
	Release() error
}

// NopWakeLock is a WakeLock that does nothing. Use it where the host never sleeps.
type NopWakeLock struct{}

func (NopWakeLock) Acquire() error { return nil }
func (NopWakeLock) Release() error { return nil }

// WakeLockGuard keeps one WakeLock either held or not held. The dispatcher
// owns the guard: it acquires when it starts jobs and releases when the run
// cycle finishes.
type WakeLockGuard struct {
	mu     sync.Mutex
	lock   WakeLock
	held   bool
	logger *slog.Logger
}

// NewWakeLockGuard wraps lock. A nil lock behaves like NopWakeLock.
func NewWakeLockGuard(lock WakeLock, logger *slog.Logger) *WakeLockGuard {
	if lock == nil {
		lock = NopWakeLock{}
	}
	return &WakeLockGuard{lock: lock, logger: orDiscard(logger)}
}

// Acquire takes the lock unless it is already held.
func (g *WakeLockGuard) Acquire() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return
	}
	if err := g.lock.Acquire(); err != nil {
		// The cycle still runs; it just may be interrupted by sleep.
		g.logger.Error("WakeLockGuard: acquire failed", "error", err)
	}
	g.held = true
	g.logger.Debug("WakeLockGuard: acquired")
}

// Release drops the lock. Releasing a lock that is not held is a no-op.
func (g *WakeLockGuard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		return
	}
	g.held = false
	if err := g.lock.Release(); err != nil {
		g.logger.Error("WakeLockGuard: release failed", "error", err)
	}
	g.logger.Debug("WakeLockGuard: released")
}

// Held reports whether the lock is currently held.
func (g *WakeLockGuard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// triggerHolds is a reference-counted hold on a WakeLock taken by timer and
// signal triggers while their RunReadyJobs command waits in the queue.
type triggerHolds struct {
	mu     sync.Mutex
	lock   WakeLock
	count  int
	logger *slog.Logger
}

func newTriggerHolds(lock WakeLock, logger *slog.Logger) *triggerHolds {
	if lock == nil {
		lock = NopWakeLock{}
	}
	return &triggerHolds{lock: lock, logger: orDiscard(logger)}
}

func (h *triggerHolds) acquire() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	if h.count > 1 {
		return
	}
	if err := h.lock.Acquire(); err != nil {
		h.logger.Error("trigger wake lock: acquire failed", "error", err)
	}
}

func (h *triggerHolds) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return
	}
	h.count--
	if h.count > 0 {
		return
	}
	if err := h.lock.Release(); err != nil {
		h.logger.Error("trigger wake lock: release failed", "error", err)
	}
}

func (h *triggerHolds) outstanding() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}
