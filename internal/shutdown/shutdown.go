// Package shutdown coordinates signal handling and ordered release of
// resources when the probe stops.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/wflatency/internal/logging"
)

// Func releases one resource
type Func func(context.Context) error

type entry struct {
	name string
	fn   Func
}

// Manager handles graceful shutdown
type Manager struct {
	mu      sync.Mutex
	entries []entry
	timeout time.Duration
	logger  *logging.Logger
	done    bool
}

// New creates a new shutdown manager
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{timeout: timeout, logger: logger}
}

// Register adds a shutdown function. Functions run in reverse order (LIFO).
func (m *Manager) Register(name string, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry{name: name, fn: fn})
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM
func (m *Manager) NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		if parent.Err() == nil {
			m.logger.Info("Received shutdown signal")
		}
	}()
	return ctx, stop
}

// Shutdown runs every registered function once, most recent first, and
// returns how many of them failed.
func (m *Manager) Shutdown() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return 0
	}
	m.done = true

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	failed := 0
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if err := e.fn(ctx); err != nil {
			failed++
			m.logger.Warn("Shutdown step failed", logging.Fields{"step": e.name, "error": err})
			continue
		}
		m.logger.Debug("Shutdown step complete", logging.Fields{"step": e.name})
	}
	return failed
}

// StopHTTPServer creates a shutdown function for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) Func {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop HTTP server: %w", err)
		}
		return nil
	}
}

// CloseResource creates a shutdown function for io.Closer
func CloseResource(closer interface{ Close() error }) Func {
	return func(ctx context.Context) error {
		return closer.Close()
	}
}
