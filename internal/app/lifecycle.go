package app

import (
	"context"
	"sync"
	"time"

	"github.com/InvestigateHealth/connectsync/internal/domain"
	"github.com/InvestigateHealth/connectsync/pkg/log"
)

// ShutdownTimeout is the maximum time to wait for graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// State represents the lifecycle state of the engine.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// Lifecycle manages the engine's start/stop state machine and tracks
// background workers for bounded shutdown.
type Lifecycle struct {
	mu     sync.RWMutex
	state  State
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger log.Logger
}

// NewLifecycle creates a lifecycle manager in StateStopped.
func NewLifecycle(logger log.Logger) *Lifecycle {
	return &Lifecycle{state: StateStopped, logger: logger}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo attempts a state transition, returning an error when the
// step is not legal from the current state.
func (l *Lifecycle) TransitionTo(newState State, reason string) error {
	l.mu.Lock()
	oldState := l.state

	valid := false
	switch oldState {
	case StateStopped, StateCrashed:
		valid = newState == StateStarting
	case StateStarting:
		valid = newState == StateRunning || newState == StateStopping || newState == StateCrashed
	case StateRunning:
		valid = newState == StateStopping || newState == StateCrashed
	case StateStopping:
		valid = newState == StateStopped || newState == StateCrashed
	}
	if !valid {
		l.mu.Unlock()
		if oldState == StateStopped || oldState == StateCrashed {
			return domain.ErrNotRunning
		}
		return domain.ErrAlreadyRunning
	}

	l.state = newState
	l.mu.Unlock()

	l.logger.Info("lifecycle transition",
		log.String("from", oldState.String()),
		log.String("to", newState.String()),
		log.String("reason", reason),
	)
	return nil
}

// CanStart reports whether Start() may be called.
func (l *Lifecycle) CanStart() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateStopped || l.state == StateCrashed
}

// CanStop reports whether Stop() may be called.
func (l *Lifecycle) CanStop() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateRunning || l.state == StateStarting
}

// SetCancel stores the cancel function used for graceful shutdown.
func (l *Lifecycle) SetCancel(cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancel = cancel
}

// Cancel triggers graceful shutdown.
func (l *Lifecycle) Cancel() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// AddWorker registers a background goroutine.
func (l *Lifecycle) AddWorker() { l.wg.Add(1) }

// WorkerDone marks a background goroutine as finished.
func (l *Lifecycle) WorkerDone() { l.wg.Done() }

// WaitWithTimeout waits for all workers with a timeout, returning
// ErrShutdownTimeout if it expires.
func (l *Lifecycle) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		l.logger.Warn("shutdown timeout, forcing exit", log.Duration("timeout", timeout))
		return domain.ErrShutdownTimeout
	}
}
