package shell

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/freema/askshell/internal/apperror"
)

func TestRunAndWaitEcho(t *testing.T) {
	s := newTestScheduler(t, 8)
	run, err := s.RunAndWait(context.Background(), NewConfig("echo hello"), 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Stdout() != "hello" {
		t.Errorf("expected stdout hello, got %q", run.Stdout())
	}
	if run.Stderr() != "" {
		t.Errorf("expected empty stderr, got %q", run.Stderr())
	}
	if code, ok := run.ExitCode(); !ok || code != 0 {
		t.Errorf("expected exit code 0, got %d (%v)", code, ok)
	}

	stdoutLog, _ := run.LogPaths()
	data, err := os.ReadFile(stdoutLog)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("unexpected log file content %q", data)
	}
}

func TestRunAndWaitStderr(t *testing.T) {
	s := newTestScheduler(t, 8)
	run, err := s.RunAndWait(context.Background(), NewConfig("echo hello >&2"), 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Stderr() != "hello" || run.Stdout() != "" {
		t.Errorf("expected output on stderr only, stdout=%q stderr=%q", run.Stdout(), run.Stderr())
	}
}

func TestStartReturnsBeforeCompletion(t *testing.T) {
	s := newTestScheduler(t, 8)
	run, err := s.Start(context.Background(), NewConfig("sleep 0.3; echo done"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !run.IsRunning() {
		t.Fatal("expected run to still be running after Start")
	}
	if err := s.Wait(context.Background(), run, 10*time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if run.Stdout() != "done" {
		t.Errorf("expected done, got %q", run.Stdout())
	}
}

func TestStartRejectsUserInput(t *testing.T) {
	s := newTestScheduler(t, 8)
	_, err := s.Start(context.Background(), NewConfig("cat", WithUserInput()))
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUnknownBinary(t *testing.T) {
	s := newTestScheduler(t, 8)
	run, err := s.RunAndWait(context.Background(), NewConfig("unknown-binary-qwerty --version"), 10*time.Second)
	if !errors.Is(err, apperror.ErrBinaryNotFound) {
		t.Fatalf("expected ErrBinaryNotFound, got %v", err)
	}
	if !errors.Is(err, apperror.ErrLaunch) {
		t.Fatalf("expected missing binary to be a launch error, got %v", err)
	}
	if run != nil {
		t.Fatalf("expected no run for a missing binary, got %s", run)
	}
	if got := apperror.HTTPStatus(err); got != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", got)
	}
}

func TestNonZeroExit(t *testing.T) {
	s := newTestScheduler(t, 8)

	_, err := s.RunAndWait(context.Background(), NewConfig("exit 1"), 10*time.Second)
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %v", err)
	}
	if runErr.Kind != KindExecution || runErr.ExitCode != 1 || !errors.Is(err, apperror.ErrExecution) {
		t.Errorf("unexpected run error: kind=%s exit=%d", runErr.Kind, runErr.ExitCode)
	}

	run, err := s.RunAndWait(context.Background(), NewConfig("exit 1", WithAllowNonZeroExit()), 10*time.Second)
	if err != nil {
		t.Fatalf("expected tolerated exit, got %v", err)
	}
	if code, _ := run.ExitCode(); code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}

func TestCustomEnv(t *testing.T) {
	s := newTestScheduler(t, 8)
	run, err := s.RunAndWait(context.Background(), NewConfig("echo $MY_VAR", WithEnv("MY_VAR", "custom")), 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Stdout() != "custom" {
		t.Errorf("expected custom, got %q", run.Stdout())
	}
}

func TestRetryExhaustion(t *testing.T) {
	s := newTestScheduler(t, 8)
	dir := t.TempDir()

	run, err := s.RunAndWait(context.Background(),
		NewConfig("echo try; exit 1", WithAttempts(3), WithRunOutputDir(dir)), 10*time.Second)
	if !errors.Is(err, apperror.ErrExecution) {
		t.Fatalf("expected execution error, got %v", err)
	}
	if run.Attempt() != 3 {
		t.Errorf("expected 3 attempts, got %d", run.Attempt())
	}
	if got := run.StdoutLines(); len(got) != 3 {
		t.Errorf("expected output of all attempts accumulated, got %q", got)
	}
	for _, name := range []string{"echo.stdout.log", "echo_2.stdout.log", "echo_3.stderr.log"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected log file %s: %v", name, err)
		}
	}
}

func TestShouldRetryFalse(t *testing.T) {
	s := newTestScheduler(t, 8)
	calls := 0
	run, err := s.RunAndWait(context.Background(), NewConfig("exit 1",
		WithAttempts(3),
		WithShouldRetry(func(*Run) bool { calls++; return false }),
	), 10*time.Second)
	if err == nil {
		t.Fatal("expected failure")
	}
	if run.Attempt() != 1 || calls != 1 {
		t.Errorf("expected a single attempt, got attempt=%d calls=%d", run.Attempt(), calls)
	}
}

func TestShouldRetrySeesOutput(t *testing.T) {
	s := newTestScheduler(t, 8)
	dir := t.TempDir()
	script := "test -f marker || { touch marker; echo transient; exit 1; }; echo ok"

	run, err := s.RunAndWait(context.Background(), NewConfig(script,
		WithCwd(dir),
		WithAttempts(3),
		WithShouldRetry(func(r *Run) bool { return strings.Contains(r.Stdout(), "transient") }),
	), 10*time.Second)
	if err != nil {
		t.Fatalf("expected success on retry, got %v", err)
	}
	if run.Attempt() != 2 {
		t.Errorf("expected success on attempt 2, got %d", run.Attempt())
	}
	if run.Stdout() != "transient\nok" {
		t.Errorf("unexpected accumulated stdout %q", run.Stdout())
	}
}

func TestRetriesUntilThirdAttemptSucceeds(t *testing.T) {
	s := newTestScheduler(t, 8)
	dir := t.TempDir()
	script := `n=$(cat count 2>/dev/null || echo 0); n=$((n+1)); echo $n > count; echo attempt-$n; [ $n -ge 3 ]`

	var retries []int
	h := HandlerFunc(func(_ *Run, ev Event) bool {
		if r, ok := ev.(RetryAttempt); ok {
			retries = append(retries, r.Attempt)
		}
		return false
	})
	run, err := s.RunAndWait(context.Background(), NewConfig(script,
		WithCwd(dir),
		WithAttempts(3),
		WithHandlers(h),
	), 10*time.Second)
	if err != nil {
		t.Fatalf("expected success on attempt 3, got %v", err)
	}
	if run.Attempt() != 3 {
		t.Errorf("expected 3 attempts, got %d", run.Attempt())
	}
	if got := run.Stdout(); got != "attempt-1\nattempt-2\nattempt-3" {
		t.Errorf("expected one marker per attempt, got %q", got)
	}
	if !slices.Equal(retries, []int{2, 3}) {
		t.Errorf("expected retry events for attempts 2 and 3, got %v", retries)
	}
}

func TestIdempotentCompletion(t *testing.T) {
	s := newTestScheduler(t, 8)
	run, first := s.RunAndWait(context.Background(), NewConfig("exit 2"), 10*time.Second)
	if first == nil {
		t.Fatal("expected error")
	}
	for i := 0; i < 3; i++ {
		if err := run.Wait(context.Background(), 0); err != first {
			t.Fatalf("wait %d returned a different outcome: %v", i, err)
		}
	}
}

func TestOnDoneAfterCompletion(t *testing.T) {
	s := newTestScheduler(t, 8)
	run, err := s.RunAndWait(context.Background(), NewConfig("true"), 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	called := false
	run.OnDone(func() { called = true })
	if !called {
		t.Fatal("OnDone on a completed run should call immediately")
	}
}

func TestWaitTimeoutIsIncomplete(t *testing.T) {
	s := newTestScheduler(t, 8)
	run, err := s.Start(context.Background(), NewConfig("sleep 30"))
	if err != nil {
		t.Fatal(err)
	}
	defer Kill(context.Background(), run, KillOptions{Immediate: true})

	err = run.Wait(context.Background(), 100*time.Millisecond)
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr.Kind != KindIncomplete {
		t.Fatalf("expected incomplete error, got %v", err)
	}
	if !run.IsRunning() {
		t.Fatal("timeout must not stop the run")
	}
}

func TestEventOrder(t *testing.T) {
	s := newTestScheduler(t, 8)
	rec := &recorder{}
	_, err := s.RunAndWait(context.Background(), NewConfig("echo a; echo b >&2", WithHandlers(rec)), 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	names := rec.names()
	if names[0] != "run_before" || names[len(names)-1] != "run_after" {
		t.Fatalf("unexpected event order %v", names)
	}
	for _, want := range []string{"process_started", "stream_started", "output_line"} {
		if !slices.Contains(names, want) {
			t.Errorf("missing %s in %v", want, names)
		}
	}
}

func TestLineIntegrityAcrossStreams(t *testing.T) {
	s := newTestScheduler(t, 8)
	script := `i=1; while [ $i -le 500 ]; do echo out-$i; echo err-$i >&2; i=$((i+1)); done`
	run, err := s.RunAndWait(context.Background(), NewConfig(script), 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	var wantOut, wantErr []string
	for i := 1; i <= 500; i++ {
		wantOut = append(wantOut, fmt.Sprintf("out-%d", i))
		wantErr = append(wantErr, fmt.Sprintf("err-%d", i))
	}
	if got := run.StdoutLines(); !slices.Equal(got, wantOut) {
		t.Errorf("stdout lines lost, split or reordered: got %d lines", len(got))
	}
	if got := run.StderrLines(); !slices.Equal(got, wantErr) {
		t.Errorf("stderr lines lost, split or reordered: got %d lines", len(got))
	}
}

func TestANSIContentDecodesLogOnly(t *testing.T) {
	s := newTestScheduler(t, 8)
	run, err := s.RunAndWait(context.Background(),
		NewConfig(`printf '\033[31mred\033[0m\n'`, WithANSIContent(true)), 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got := run.Stdout(); got != "\x1b[31mred\x1b[0m" {
		t.Errorf("expected raw line in output, got %q", got)
	}
	stdoutLog, _ := run.LogPaths()
	data, err := os.ReadFile(stdoutLog)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "red\n" {
		t.Errorf("expected decoded log, got %q", data)
	}
}

func TestHandlerRemovedAfterTrue(t *testing.T) {
	s := newTestScheduler(t, 8)
	calls := 0
	h := HandlerFunc(func(_ *Run, ev Event) bool {
		calls++
		return true
	})
	if _, err := s.RunAndWait(context.Background(), NewConfig("echo x", WithHandlers(h)), 10*time.Second); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected handler to be called once, got %d", calls)
	}
}

func TestRunString(t *testing.T) {
	s := newTestScheduler(t, 8)
	run, _ := s.RunAndWait(context.Background(), NewConfig("exit 1", WithAttempts(2), WithPrintPrefix("pfx")), 10*time.Second)
	if got := run.String(); got != "Run( pfx exit_code=1 attempt=2/2 )" {
		t.Fatalf("unexpected String() %q", got)
	}
}
