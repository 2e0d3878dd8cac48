package shell

import (
	"errors"
	"testing"

	"github.com/freema/askshell/internal/apperror"
)

func TestLifecycleTransitions(t *testing.T) {
	valid := []struct {
		from, to State
	}{
		{StateIdle, StateRunning},
		{StateIdle, StateDraining},
		{StateRunning, StateDraining},
		{StateDraining, StateStopped},
	}
	for _, tt := range valid {
		if err := ValidateTransition(tt.from, tt.to); err != nil {
			t.Errorf("expected valid transition %s → %s, got error: %v", tt.from, tt.to, err)
		}
	}

	invalid := []struct {
		from, to State
	}{
		{StateIdle, StateStopped},
		{StateRunning, StateIdle},
		{StateRunning, StateStopped},
		{StateDraining, StateRunning},
		{StateStopped, StateRunning},
		{StateStopped, StateIdle},
	}
	for _, tt := range invalid {
		err := ValidateTransition(tt.from, tt.to)
		if !errors.Is(err, apperror.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition for %s → %s, got: %v", tt.from, tt.to, err)
		}
	}
}

func TestAcceptsRuns(t *testing.T) {
	for _, s := range []State{StateIdle, StateRunning} {
		if !s.AcceptsRuns() {
			t.Errorf("%s should accept runs", s)
		}
	}
	for _, s := range []State{StateDraining, StateStopped} {
		if s.AcceptsRuns() {
			t.Errorf("%s should not accept runs", s)
		}
	}
}
