package shell

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/freema/askshell/internal/apperror"
)

func TestNewRunPoolReservation(t *testing.T) {
	small := newTestScheduler(t, 8)
	if _, err := NewRunPool(small, RunPoolOptions{}); !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("expected reservation error on a small pool, got %v", err)
	}

	large := newTestScheduler(t, 40)
	p, err := NewRunPool(large, RunPoolOptions{})
	if err != nil {
		t.Fatalf("NewRunPool: %v", err)
	}
	if p.maxRuns != 5 {
		t.Errorf("expected 5 run slots left for the pool, got %d", p.maxRuns)
	}
}

func TestRunPoolLimitsInFlight(t *testing.T) {
	s := newTestScheduler(t, 40)
	p, err := NewRunPool(s, RunPoolOptions{MaxConcurrentSubmits: 2, SleepTime: 5 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	var peak atomic.Int32
	var runs []*Run
	for i := 0; i < 6; i++ {
		run, err := p.Submit(context.Background(), NewConfig("sleep 0.1"))
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		runs = append(runs, run)
		if n := int32(p.InFlight()); n > peak.Load() {
			peak.Store(n)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Fatalf("expected at most 2 in flight, saw %d", got)
	}
	for _, run := range runs {
		if run.IsRunning() || run.Err() != nil {
			t.Errorf("run %s not finished cleanly: %v", run, run.Err())
		}
	}
}

func TestRunPoolCloseTimeout(t *testing.T) {
	s := newTestScheduler(t, 40)
	p, err := NewRunPool(s, RunPoolOptions{MaxConcurrentSubmits: 1, ExitWaitTimeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	run, err := p.Submit(context.Background(), NewConfig("sleep 30"))
	if err != nil {
		t.Fatal(err)
	}
	defer Kill(context.Background(), run, KillOptions{Immediate: true})

	if err := p.Close(); !errors.Is(err, apperror.ErrIncomplete) {
		t.Fatalf("expected incomplete error from Close, got %v", err)
	}
}
