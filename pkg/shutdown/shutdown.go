package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/autofi/pkg/logging"
)

// Manager runs registered shutdown functions in reverse order (LIFO)
type Manager struct {
	funcs   []namedFunc
	mu      sync.Mutex
	timeout time.Duration
	logger  *logging.Logger
	once    sync.Once
}

type namedFunc struct {
	name string
	fn   func(context.Context) error
}

// New creates a new shutdown manager
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	return &Manager{timeout: timeout, logger: logger}
}

// Register adds a shutdown function. Functions run in reverse order.
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, namedFunc{name: name, fn: fn})
}

// WaitForSignal blocks until SIGINT/SIGTERM or ctx is done
func (m *Manager) WaitForSignal(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.logger.Info("received signal, shutting down", logging.Fields{"signal": sig.String()})
	case <-ctx.Done():
		m.logger.Info("context done, shutting down")
	}
}

// Shutdown executes all registered functions once, within the timeout.
// Errors are logged and the first one is returned.
func (m *Manager) Shutdown() error {
	var firstErr error
	m.once.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		for i := len(m.funcs) - 1; i >= 0; i-- {
			f := m.funcs[i]
			if err := f.fn(ctx); err != nil {
				m.logger.Error("shutdown step failed", logging.Fields{"step": f.name, "error": err})
				if firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", f.name, err)
				}
				continue
			}
			m.logger.Info("shutdown step complete", logging.Fields{"step": f.name})
		}
	})
	return firstErr
}

// StopHTTPServer creates a shutdown function for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}
}

// CloseResource creates a shutdown function for io.Closer
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return closer.Close()
	}
}
