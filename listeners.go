package jobsched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ListenerControl turns constraint signal listeners on and off.
// Both operations are idempotent.
type ListenerControl interface {
	Enable(kind ListenerKind)
	Disable(kind ListenerKind)
}

// SignalSource watches one system condition and calls notify when it
// changes. Start must return once the source is running; the source stops
// when ctx is cancelled or Stop is called. notify receives a context that
// is cancelled when the source stops.
type SignalSource interface {
	Start(ctx context.Context, notify func(ctx context.Context)) error
	Stop()
}

// SignalListeners is a ListenerControl that runs a SignalSource for every
// enabled kind. Notifications from a source are paced to at most one per
// minInterval so a flapping signal cannot flood the dispatcher queue.
type SignalListeners struct {
	mu       sync.Mutex
	ctx      context.Context
	sources  map[ListenerKind]SignalSource
	enabled  map[ListenerKind]bool
	throttle map[ListenerKind]*rate.Limiter
	notify   func(kind ListenerKind)
	logger   *slog.Logger
}

// NewSignalListeners creates listeners for the given sources. notify is
// called with the kind of the source that reported a change. Kinds without
// a source can still be enabled; they just never notify.
func NewSignalListeners(ctx context.Context, sources map[ListenerKind]SignalSource, minInterval time.Duration, notify func(kind ListenerKind), logger *slog.Logger) *SignalListeners {
	l := &SignalListeners{
		ctx:      ctx,
		sources:  make(map[ListenerKind]SignalSource, len(sources)),
		enabled:  make(map[ListenerKind]bool),
		throttle: make(map[ListenerKind]*rate.Limiter),
		notify:   notify,
		logger:   orDiscard(logger),
	}
	for kind, src := range sources {
		l.sources[kind] = src
		l.throttle[kind] = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return l
}

// Enable starts the source for kind if it is not running yet.
func (l *SignalListeners) Enable(kind ListenerKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.enabled[kind] {
		return
	}
	l.enabled[kind] = true

	src, ok := l.sources[kind]
	if !ok {
		l.logger.Debug("SignalListeners: enabled kind without source", "kind", kind)
		return
	}
	throttle := l.throttle[kind]
	if err := src.Start(l.ctx, func(ctx context.Context) {
		if err := throttle.Wait(ctx); err != nil {
			return
		}
		l.notify(kind)
	}); err != nil {
		l.logger.Error("SignalListeners: failed to start source", "kind", kind, "error", err)
		l.enabled[kind] = false
		return
	}
	l.logger.Debug("SignalListeners: enabled", "kind", kind)
}

// Disable stops the source for kind if it is running.
func (l *SignalListeners) Disable(kind ListenerKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled[kind] {
		return
	}
	l.enabled[kind] = false
	if src, ok := l.sources[kind]; ok {
		src.Stop()
	}
	l.logger.Debug("SignalListeners: disabled", "kind", kind)
}

// Enabled reports whether kind is currently enabled.
func (l *SignalListeners) Enabled(kind ListenerKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled[kind]
}

// StopAll disables every kind.
func (l *SignalListeners) StopAll() {
	for _, kind := range AllListenerKinds {
		l.Disable(kind)
	}
}
