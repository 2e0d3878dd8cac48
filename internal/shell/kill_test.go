package shell

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/freema/askshell/internal/apperror"
)

func TestKillSleepingProcess(t *testing.T) {
	s := newTestScheduler(t, 8)
	run, err := s.Start(context.Background(), NewConfig("sleep 30", WithAttempts(3)))
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	Kill(context.Background(), run, KillOptions{Reason: "test", AbortTimeout: 2 * time.Second})

	if err := run.Wait(context.Background(), 5*time.Second); !errors.Is(err, apperror.ErrExecution) {
		t.Fatalf("expected killed run to fail with execution error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("kill took too long: %s", elapsed)
	}
	if !run.Killed() || run.Attempt() != 1 {
		t.Errorf("killed run must not retry: killed=%v attempt=%d", run.Killed(), run.Attempt())
	}
}

func TestKillEscalatesToSIGTERM(t *testing.T) {
	s := newTestScheduler(t, 8)
	run, err := s.Start(context.Background(), NewConfig("trap '' INT; echo ready; sleep 30"))
	if err != nil {
		t.Fatal(err)
	}
	waitForStdout(t, run, "ready")

	abort := 300 * time.Millisecond
	start := time.Now()
	Kill(context.Background(), run, KillOptions{AbortTimeout: abort})
	elapsed := time.Since(start)

	if err := run.Wait(context.Background(), 5*time.Second); err == nil {
		t.Fatal("expected killed run to fail")
	}
	if elapsed < abort {
		t.Errorf("expected kill to wait the abort timeout before escalating, took %s", elapsed)
	}
	if elapsed > abort+3*time.Second {
		t.Errorf("kill exceeded its bound: %s", elapsed)
	}
}

func TestKillImmediateSkipsInterrupt(t *testing.T) {
	s := newTestScheduler(t, 8)
	run, err := s.Start(context.Background(), NewConfig("trap '' INT; echo ready; sleep 30"))
	if err != nil {
		t.Fatal(err)
	}
	waitForStdout(t, run, "ready")

	start := time.Now()
	Kill(context.Background(), run, KillOptions{Immediate: true, AbortTimeout: 5 * time.Second})
	elapsed := time.Since(start)

	if err := run.Wait(context.Background(), 5*time.Second); !errors.Is(err, apperror.ErrExecution) {
		t.Fatalf("expected execution error, got %v", err)
	}
	if elapsed > time.Second {
		t.Errorf("immediate kill should not wait for the abort timeout, took %s", elapsed)
	}
	if code, _ := run.ExitCode(); code != -int(syscall.SIGTERM) {
		t.Errorf("expected exit code %d, got %d", -int(syscall.SIGTERM), code)
	}
}

func TestKillKeepsOutputBeforeKill(t *testing.T) {
	s := newTestScheduler(t, 8)
	run, err := s.Start(context.Background(), NewConfig("echo before; sleep 30; echo after"))
	if err != nil {
		t.Fatal(err)
	}
	waitForStdout(t, run, "before")
	time.Sleep(200 * time.Millisecond)

	Kill(context.Background(), run, KillOptions{Reason: "test"})
	if err := run.Wait(context.Background(), 5*time.Second); err == nil {
		t.Fatal("expected killed run to fail")
	}
	if got := run.Stdout(); got != "before" {
		t.Fatalf("expected only output printed before the kill, got %q", got)
	}
}

func TestKillCompletedRunIsNoop(t *testing.T) {
	s := newTestScheduler(t, 8)
	run, err := s.RunAndWait(context.Background(), NewConfig("true"), 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	Kill(context.Background(), run, KillOptions{})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("kill of a finished run should return at once")
	}
	if run.Err() != nil {
		t.Fatalf("outcome changed after kill: %v", run.Err())
	}
}

func TestKillAll(t *testing.T) {
	s := newTestScheduler(t, 16)
	var runs []*Run
	for i := 0; i < 3; i++ {
		run, err := s.Start(context.Background(), NewConfig("sleep 30"))
		if err != nil {
			t.Fatal(err)
		}
		runs = append(runs, run)
	}

	s.KillAll(context.Background(), KillOptions{Reason: "test"})

	for _, run := range runs {
		if err := run.Wait(context.Background(), 5*time.Second); err == nil {
			t.Errorf("expected %s to fail after kill", run)
		}
	}
	if n := s.CurrentRunCount(); n != 0 {
		t.Fatalf("expected empty registry, %d runs left", n)
	}
}
