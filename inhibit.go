package jobsched

import (
	"fmt"
	"os"
	"sync"

	"github.com/coreos/go-systemd/v22/login1"
)

// InhibitorWakeLock prevents system sleep by holding a systemd-logind
// "sleep" inhibitor lock. The lock lives as long as the returned file
// descriptor stays open.
type InhibitorWakeLock struct {
	mu   sync.Mutex
	conn *login1.Conn
	who  string
	why  string
	fd   *os.File
}

// NewInhibitorWakeLock connects to logind over the system bus.
func NewInhibitorWakeLock(who, why string) (*InhibitorWakeLock, error) {
	conn, err := login1.New()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to logind: %w", err)
	}
	return &InhibitorWakeLock{conn: conn, who: who, why: why}, nil
}

// Acquire takes the inhibitor lock unless this instance already holds one.
func (l *InhibitorWakeLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fd != nil {
		return nil
	}
	fd, err := l.conn.Inhibit("sleep", l.who, l.why, "block")
	if err != nil {
		return fmt.Errorf("failed to take sleep inhibitor: %w", err)
	}
	l.fd = fd
	return nil
}

// Release closes the inhibitor descriptor.
func (l *InhibitorWakeLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fd == nil {
		return nil
	}
	err := l.fd.Close()
	l.fd = nil
	return err
}

// Close releases any held lock and the bus connection.
func (l *InhibitorWakeLock) Close() error {
	err := l.Release()
	l.conn.Close()
	return err
}
