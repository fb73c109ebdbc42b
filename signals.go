package jobsched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// pollSource is a SignalSource that samples a condition on a fixed interval
// and notifies whenever the sampled value changes.
type pollSource[T comparable] struct {
	name     string
	interval time.Duration
	sample   func(ctx context.Context) T
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *pollSource[T]) Start(ctx context.Context, notify func(context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	if p.interval <= 0 {
		return fmt.Errorf("%s source: poll interval must be > 0", p.name)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	last := p.sample(ctx)

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cur := p.sample(ctx)
				if cur == last {
					continue
				}
				p.logger.Debug("signal changed", "source", p.name, "from", last, "to", cur)
				last = cur
				notify(ctx)
			}
		}
	}(p.done)
	return nil
}

func (p *pollSource[T]) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// NetworkProbe reports connectivity by dialing a TCP address.
type NetworkProbe struct {
	Address string        // host:port to dial, e.g. "1.1.1.1:53"
	Timeout time.Duration // dial timeout
	// MeteredInterfaces lists interface name prefixes (e.g. "wwan", "ppp")
	// whose presence marks the connection as metered.
	MeteredInterfaces []string
}

// Check dials the probe address. An empty address counts as connected.
func (n NetworkProbe) Check(ctx context.Context) (connected, unmetered bool) {
	if n.Address == "" {
		return true, !n.meteredUp()
	}
	d := net.Dialer{Timeout: n.Timeout}
	conn, err := d.DialContext(ctx, "tcp", n.Address)
	if err != nil {
		return false, false
	}
	_ = conn.Close()
	return true, !n.meteredUp()
}

func (n NetworkProbe) meteredUp() bool {
	if len(n.MeteredInterfaces) == 0 {
		return false
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		for _, prefix := range n.MeteredInterfaces {
			if strings.HasPrefix(iface.Name, prefix) {
				return true
			}
		}
	}
	return false
}

type networkState struct{ connected, unmetered bool }

// NewNetworkSource polls probe every interval.
func NewNetworkSource(probe NetworkProbe, interval time.Duration, logger *slog.Logger) SignalSource {
	return &pollSource[networkState]{
		name:     "network",
		interval: interval,
		logger:   orDiscard(logger),
		sample: func(ctx context.Context) networkState {
			c, u := probe.Check(ctx)
			return networkState{connected: c, unmetered: u}
		},
	}
}

// PowerProbe reports whether the host runs on external power.
type PowerProbe struct {
	// SupplyPath is the power_supply class directory, "/sys/class/power_supply" by default.
	SupplyPath string
}

// Charging reports true when a mains supply is online, or when the host
// exposes no power supplies at all (servers, containers).
func (p PowerProbe) Charging() bool {
	dir := p.SupplyPath
	if dir == "" {
		dir = defaultPowerSupplyPath
	}
	return readPowerOnline(dir)
}

// NewPowerSource polls probe every interval.
func NewPowerSource(probe PowerProbe, interval time.Duration, logger *slog.Logger) SignalSource {
	return &pollSource[bool]{
		name:     "power",
		interval: interval,
		logger:   orDiscard(logger),
		sample:   func(context.Context) bool { return probe.Charging() },
	}
}

// BootSource detects a device restart by comparing the kernel boot ID with
// the one recorded in MarkerPath. It checks once, when started.
type BootSource struct {
	MarkerPath string
	Logger     *slog.Logger
}

func (b *BootSource) Start(ctx context.Context, notify func(context.Context)) error {
	logger := orDiscard(b.Logger)
	current, err := readBootID()
	if err != nil {
		if errors.Is(err, errBootIDUnsupported) {
			return nil
		}
		return fmt.Errorf("failed to read boot id: %w", err)
	}

	previous, err := os.ReadFile(b.MarkerPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		previous = nil
	case err != nil:
		return fmt.Errorf("failed to read boot marker: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(b.MarkerPath), 0o755); err != nil {
		return fmt.Errorf("failed to create boot marker dir: %w", err)
	}
	if err := os.WriteFile(b.MarkerPath, []byte(current), 0o644); err != nil {
		return fmt.Errorf("failed to write boot marker: %w", err)
	}

	if len(previous) > 0 && strings.TrimSpace(string(previous)) != current {
		logger.Info("device restart detected", "previousBootID", strings.TrimSpace(string(previous)), "bootID", current)
		go notify(ctx)
	}
	return nil
}

func (b *BootSource) Stop() {}

// SystemProbe produces Conditions from the host's network, power and load.
type SystemProbe struct {
	Network NetworkProbe
	Power   PowerProbe
	// IdleLoad is the one-minute load average below which the host counts
	// as idle. Zero disables idle detection (never idle).
	IdleLoad float64
}

// Conditions samples every probe once.
func (s SystemProbe) Conditions(ctx context.Context) Conditions {
	connected, unmetered := s.Network.Check(ctx)
	c := Conditions{
		Connected: connected,
		Unmetered: unmetered,
		Charging:  s.Power.Charging(),
	}
	if s.IdleLoad > 0 {
		if load, err := readLoadAvg(); err == nil {
			c.Idle = load < s.IdleLoad
		}
	}
	return c
}
