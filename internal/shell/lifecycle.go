package shell

import (
	"fmt"
	"sync"

	"github.com/freema/askshell/internal/apperror"
)

// State is the scheduler lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// validTransitions defines valid lifecycle transitions.
var validTransitions = map[State][]State{
	StateIdle:     {StateRunning, StateDraining},
	StateRunning:  {StateDraining},
	StateDraining: {StateStopped},
	StateStopped:  {},
}

// ValidateTransition checks if the transition from current to next state is valid.
func ValidateTransition(current, next State) error {
	allowed, ok := validTransitions[current]
	if !ok {
		return &apperror.AppError{
			Err:     apperror.ErrInvalidTransition,
			Message: fmt.Sprintf("unknown state: %s", current),
			Status:  409,
		}
	}

	for _, s := range allowed {
		if s == next {
			return nil
		}
	}

	return &apperror.AppError{
		Err:     apperror.ErrInvalidTransition,
		Message: fmt.Sprintf("invalid transition: %s → %s", current, next),
		Status:  409,
	}
}

// AcceptsRuns reports whether new runs may be started in s.
func (s State) AcceptsRuns() bool {
	return s == StateIdle || s == StateRunning
}

type lifecycle struct {
	mu      sync.Mutex
	state   State
	stopped chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{state: StateIdle, stopped: make(chan struct{})}
}

func (l *lifecycle) current() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) transition(next State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == next {
		return nil
	}
	if err := ValidateTransition(l.state, next); err != nil {
		return err
	}
	l.state = next
	if next == StateStopped {
		close(l.stopped)
	}
	return nil
}
