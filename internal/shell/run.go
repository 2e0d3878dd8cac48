package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/freema/askshell/internal/apperror"
	"github.com/freema/askshell/internal/metrics"
)

// Run is one logical execution of a Config, across all of its attempts.
type Run struct {
	ID        string
	CreatedAt time.Time
	// TraceID is the trace the run was submitted under, if any.
	TraceID string

	cfg   *resolved
	queue *EventQueue
	log   *slog.Logger

	// dispatchMu serializes handler invocation and output-callback replay.
	dispatchMu sync.Mutex

	mu         sync.RWMutex
	handlers   []*handlerEntry
	attempt    int
	outputDir  string
	proc       *os.Process
	exited     chan struct{}
	exitCode   int
	hasExit    bool
	killed     bool
	stdoutPath string
	stderrPath string
	streams    int
	stdout     []string
	stderr     []string
	finishedAt time.Time
	callbacks  []func()

	startOnce sync.Once
	started   chan struct{}
	startErr  error

	done chan struct{}
	err  error
}

func newRun(cfg *resolved, traceID string) *Run {
	id := uuid.New().String()
	log := slog.With("run_id", id, "prefix", cfg.PrintPrefix)
	if traceID != "" {
		log = log.With("trace_id", traceID)
	}
	return &Run{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		TraceID:   traceID,
		cfg:       cfg,
		queue:     NewEventQueue(),
		log:       log,
		handlers:  wrapHandlers(cfg.Handlers),
		attempt:   1,
		started:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Config returns the resolved configuration of the run.
func (r *Run) Config() Config {
	return r.cfg.Config.With()
}

// Attempt returns the current attempt number, starting at 1.
func (r *Run) Attempt() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attempt
}

// OutputDir returns the directory the log files are written to.
func (r *Run) OutputDir() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outputDir
}

// LogPaths returns the log files of the current attempt.
func (r *Run) LogPaths() (stdout, stderr string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stdoutPath, r.stderrPath
}

// PID returns the pid of the current attempt's process, or 0.
func (r *Run) PID() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.proc == nil {
		return 0
	}
	return r.proc.Pid
}

// ExitCode returns the exit code of the last finished attempt. Processes
// ended by a signal report the negated signal number.
func (r *Run) ExitCode() (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exitCode, r.hasExit
}

// CleanComplete reports whether the last attempt exited with 0.
func (r *Run) CleanComplete() bool {
	code, ok := r.ExitCode()
	return ok && code == 0
}

// IsRunning reports whether the run has not reached a terminal state.
func (r *Run) IsRunning() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Done returns a channel closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err returns the terminal outcome, or nil while running or on success.
func (r *Run) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// FinishedAt returns when the run completed, or the zero time.
func (r *Run) FinishedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finishedAt
}

// Wait blocks until the run completes, ctx is done, or timeout elapses
// (zero means no timeout). A timeout yields a KindIncomplete error and
// leaves the process running. Every call after completion returns the same
// outcome.
func (r *Run) Wait(ctx context.Context, timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-r.done:
		return r.err
	case <-timer:
		return newRunError(KindIncomplete, r, fmt.Errorf("not complete after %s", timeout))
	case <-ctx.Done():
		return newRunError(KindIncomplete, r, context.Cause(ctx))
	}
}

// WaitNoRaise waits like Wait but discards the outcome.
func (r *Run) WaitNoRaise(timeout time.Duration) *Run {
	_ = r.Wait(context.Background(), timeout)
	return r
}

// WaitStarted blocks until both output streams of the first attempt are
// being read, the run fails before that point, or timeout elapses.
func (r *Run) WaitStarted(ctx context.Context, timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-r.started:
		return r.startErr
	case <-timer:
		return newRunError(KindIncomplete, r, fmt.Errorf("not started after %s", timeout))
	case <-ctx.Done():
		return newRunError(KindIncomplete, r, context.Cause(ctx))
	}
}

// OnDone registers fn to run exactly once after completion. If the run has
// already completed, fn runs immediately on the caller's goroutine.
func (r *Run) OnDone(fn func()) {
	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		fn()
		return
	default:
	}
	r.callbacks = append(r.callbacks, fn)
	r.mu.Unlock()
}

// Stdout returns stdout of all attempts, trimmed.
func (r *Run) Stdout() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return strings.TrimSpace(strings.Join(r.stdout, "\n"))
}

// Stderr returns stderr of all attempts, trimmed.
func (r *Run) Stderr() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return strings.TrimSpace(strings.Join(r.stderr, "\n"))
}

// StdoutLines returns a snapshot of every stdout line read so far.
func (r *Run) StdoutLines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.stdout)
}

// StderrLines returns a snapshot of every stderr line read so far.
func (r *Run) StderrLines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.stderr)
}

func (r *Run) String() string {
	parts := []string{"Run(", r.cfg.PrintPrefix}
	if r.IsRunning() {
		parts = append(parts, "running")
	} else if code, ok := r.ExitCode(); ok {
		parts = append(parts, fmt.Sprintf("exit_code=%d", code))
	} else {
		parts = append(parts, "exit_code=none")
	}
	if attempt := r.Attempt(); attempt > 1 {
		parts = append(parts, fmt.Sprintf("attempt=%d/%d", attempt, r.cfg.Attempts))
	}
	return strings.Join(parts, " ") + " )"
}

// handlerEntry gives each registered handler an identity, since
// HandlerFunc values cannot be compared.
type handlerEntry struct {
	h Handler
}

func wrapHandlers(hs []Handler) []*handlerEntry {
	out := make([]*handlerEntry, 0, len(hs))
	for _, h := range hs {
		out = append(out, &handlerEntry{h: h})
	}
	return out
}

// AddHandler attaches h for subsequent events and returns a func that
// detaches it.
func (r *Run) AddHandler(h Handler) (remove func()) {
	entry := &handlerEntry{h: h}
	r.mu.Lock()
	r.handlers = append(r.handlers, entry)
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.removeHandlerLocked(entry)
		r.mu.Unlock()
	}
}

// dispatch applies ev to the run state, then offers it to every handler.
// Handlers returning true are removed. Handler panics are logged.
func (r *Run) dispatch(ev Event) {
	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()

	r.mu.Lock()
	r.apply(ev)
	handlers := slices.Clone(r.handlers)
	r.mu.Unlock()

	var finished []*handlerEntry
	for _, entry := range handlers {
		if r.safeHandle(entry.h, ev) {
			finished = append(finished, entry)
		}
	}
	if len(finished) > 0 {
		r.mu.Lock()
		for _, entry := range finished {
			r.removeHandlerLocked(entry)
		}
		r.mu.Unlock()
	}

	r.checkStarted()
}

func (r *Run) safeHandle(h Handler, ev Event) (done bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("event handler panicked", "event", EventName(ev), "panic", fmt.Sprint(rec))
			done = false
		}
	}()
	return h.Handle(r, ev)
}

func (r *Run) removeHandlerLocked(entry *handlerEntry) {
	for i, existing := range r.handlers {
		if existing == entry {
			r.handlers = slices.Delete(r.handlers, i, i+1)
			return
		}
	}
}

// apply updates state for ev. Caller holds mu.
func (r *Run) apply(ev Event) {
	switch e := ev.(type) {
	case StreamStarted:
		if e.IsStdout {
			r.stdoutPath = e.LogPath
			r.streams |= 1
		} else {
			r.stderrPath = e.LogPath
			r.streams |= 2
		}
	case OutputLine:
		if e.IsStdout {
			r.stdout = append(r.stdout, e.Text)
		} else {
			r.stderr = append(r.stderr, e.Text)
		}
		metrics.OutputLines.WithLabelValues(streamName(e.IsStdout)).Inc()
	case RetryAttempt:
		r.stdoutPath, r.stderrPath, r.streams = "", "", 0
	case StreamReadError:
		r.log.Error("error reading stream", "stream", streamName(e.IsStdout), "error", e.Err)
	}
}

func (r *Run) checkStarted() {
	r.mu.RLock()
	both := r.streams == 3
	r.mu.RUnlock()
	if both {
		r.markStarted(nil)
	}
}

func (r *Run) markStarted(err error) {
	r.startOnce.Do(func() {
		r.startErr = err
		close(r.started)
	})
}

// push enqueues ev for the consumer. Events after close are dropped.
func (r *Run) push(ev Event) {
	if err := r.queue.Push(ev); err != nil && !errors.Is(err, apperror.ErrQueueClosed) {
		r.log.Warn("failed to queue event", "event", EventName(ev), "error", err)
	}
}

func (r *Run) setAttempt(n int) {
	r.mu.Lock()
	r.attempt = n
	r.mu.Unlock()
}

func (r *Run) setOutputDir(dir string) {
	r.mu.Lock()
	r.outputDir = dir
	r.mu.Unlock()
}

// setProcess records the live process of an attempt and returns the channel
// the launcher closes once it has been reaped.
func (r *Run) setProcess(p *os.Process) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proc = p
	r.exited = make(chan struct{})
	return r.exited
}

func (r *Run) setExit(code int, exited chan struct{}) {
	r.mu.Lock()
	r.exitCode = code
	r.hasExit = true
	r.mu.Unlock()
	close(exited)
}

func (r *Run) process() (*os.Process, chan struct{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.proc, r.exited
}

func (r *Run) markKilled() {
	r.mu.Lock()
	r.killed = true
	r.mu.Unlock()
}

// Killed reports whether a kill was issued against the run.
func (r *Run) Killed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.killed
}

// complete resolves the run. A launch error always fails the run; a
// non-zero exit fails it unless AllowNonZeroExit is set.
func (r *Run) complete(launchErr error) {
	r.mu.Lock()
	select {
	case <-r.done:
		r.mu.Unlock()
		r.log.Warn("run already complete")
		return
	default:
	}
	code, hasExit := r.exitCode, r.hasExit
	r.mu.Unlock()

	var outcome error
	switch {
	case launchErr != nil:
		outcome = newRunError(KindLaunch, r, launchErr)
	case hasExit && code == 0:
	case r.cfg.AllowNonZeroExit:
	default:
		outcome = newRunError(KindExecution, r, nil)
	}

	r.markStarted(outcome)

	r.mu.Lock()
	r.err = outcome
	r.finishedAt = time.Now().UTC()
	callbacks := r.callbacks
	r.callbacks = nil
	close(r.done)
	r.mu.Unlock()

	for _, fn := range callbacks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Warn("done callback panicked", "panic", fmt.Sprint(rec))
				}
			}()
			fn()
		}()
	}
}
