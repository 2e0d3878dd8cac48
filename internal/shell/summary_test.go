package shell

import (
	"context"
	"testing"
	"time"
)

func TestSummary(t *testing.T) {
	s := newTestScheduler(t, 8)

	run, err := s.RunAndWait(context.Background(), NewConfig("echo a; echo b >&2; exit 3"), 5*time.Second)
	if err == nil {
		t.Fatal("expected execution error")
	}

	sum := run.Summary()
	if sum.Status != StatusFailed {
		t.Errorf("expected failed status, got %q", sum.Status)
	}
	if sum.ExitCode == nil || *sum.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %v", sum.ExitCode)
	}
	if sum.StdoutTail != "a" || sum.StderrTail != "b" {
		t.Errorf("unexpected tails: %q / %q", sum.StdoutTail, sum.StderrTail)
	}
	if sum.Error == "" || sum.FinishedAt.IsZero() {
		t.Errorf("expected error and finish time, got %+v", sum)
	}
}

func TestTail(t *testing.T) {
	lines := []string{"1", "2", "3", "4"}
	if got := tail(lines, 2); got != "3\n4" {
		t.Errorf("tail = %q", got)
	}
	if got := tail(lines, 10); got != "1\n2\n3\n4" {
		t.Errorf("tail = %q", got)
	}
}
