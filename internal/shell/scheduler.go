package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/freema/askshell/internal/apperror"
	"github.com/freema/askshell/internal/runlogs"
	"github.com/freema/askshell/internal/tracing"
)

// Defaults for Options.
const (
	DefaultWorkers       = 50
	DefaultThreadsPerRun = 4
	DefaultPoolFullWait  = time.Second
	DefaultAbortTimeout  = 3 * time.Second
	DefaultInterpreter   = "/bin/sh"

	// workersPerRun is what one run holds at once: the attempt loop, the
	// event consumer and both stream readers.
	workersPerRun = 4
)

// Options configures a Scheduler.
type Options struct {
	Workers       int           // pool size
	ThreadsPerRun int           // pool workers one run occupies
	PoolFullWait  time.Duration // sleep between admission checks
	AbortTimeout  time.Duration // grace period between SIGINT and SIGTERM
	Interpreter   string

	// LogDirs allocates a directory per run when the Config has no
	// RunOutputDir.
	LogDirs *runlogs.Manager

	// Handlers are attached to every run after the Config's own handlers.
	Handlers []Handler

	// Character mode wiring.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultOptions returns options with every default applied.
func DefaultOptions() Options {
	return Options{}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.ThreadsPerRun <= 0 {
		o.ThreadsPerRun = DefaultThreadsPerRun
	}
	o.ThreadsPerRun = max(o.ThreadsPerRun, workersPerRun)
	o.Workers = max(o.Workers, o.ThreadsPerRun)
	if o.PoolFullWait <= 0 {
		o.PoolFullWait = DefaultPoolFullWait
	}
	if o.AbortTimeout <= 0 {
		o.AbortTimeout = DefaultAbortTimeout
	}
	if o.Interpreter == "" {
		o.Interpreter = DefaultInterpreter
	}
	if o.LogDirs == nil {
		o.LogDirs = runlogs.NewManager(filepath.Join(os.TempDir(), "askshell", "run_logs"), true)
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

// MaxRunCountForWorkers is how many runs fit into a pool of the given size.
func MaxRunCountForWorkers(workers, threadsPerRun int) int {
	if threadsPerRun <= 0 {
		threadsPerRun = DefaultThreadsPerRun
	}
	return max(1, workers/threadsPerRun)
}

// Scheduler owns the worker pool, the run registry and the lifecycle that
// every run shares.
type Scheduler struct {
	opts      Options
	pool      *WorkerPool
	registry  *Registry
	lifecycle *lifecycle
	admission *semaphore.Weighted
	maxRuns   int

	mu      sync.Mutex
	tracked map[string]*Run

	stopOnce sync.Once
}

// NewScheduler starts a scheduler with its own worker pool.
func NewScheduler(opts Options) *Scheduler {
	opts = opts.withDefaults()
	maxRuns := MaxRunCountForWorkers(opts.Workers, opts.ThreadsPerRun)
	slog.Debug("scheduler created",
		"workers", opts.Workers,
		"threads_per_run", opts.ThreadsPerRun,
		"max_runs", maxRuns,
	)
	return &Scheduler{
		opts:      opts,
		pool:      NewWorkerPool(opts.Workers),
		registry:  NewRegistry(),
		lifecycle: newLifecycle(),
		admission: semaphore.NewWeighted(int64(maxRuns)),
		maxRuns:   maxRuns,
		tracked:   make(map[string]*Run),
	}
}

// Options returns the effective options.
func (s *Scheduler) Options() Options { return s.opts }

// Pool returns the shared worker pool.
func (s *Scheduler) Pool() *WorkerPool { return s.pool }

// Registry returns the registry of runs with a live attempt.
func (s *Scheduler) Registry() *Registry { return s.registry }

// State returns the lifecycle state.
func (s *Scheduler) State() State { return s.lifecycle.current() }

// MaxRunCount is the number of runs that may execute at once.
func (s *Scheduler) MaxRunCount() int { return s.maxRuns }

// CurrentRunCount is the number of runs with a live attempt.
func (s *Scheduler) CurrentRunCount() int { return s.registry.Len() }

// Lookup returns a run that has been started and not yet completed.
func (s *Scheduler) Lookup(id string) (*Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.tracked[id]
	return run, ok
}

// ActiveRuns returns every started run that has not completed.
func (s *Scheduler) ActiveRuns() []*Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Run, 0, len(s.tracked))
	for _, run := range s.tracked {
		out = append(out, run)
	}
	slices.SortFunc(out, func(a, b *Run) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// Start queues cfg and returns once both output streams of the first
// attempt are being read, or cfg.StartTimeout elapses. Character-mode
// configs must use RunAndWait.
func (s *Scheduler) Start(ctx context.Context, cfg Config) (*Run, error) {
	if cfg.UserInput {
		return nil, apperror.Validation("user input is only supported by RunAndWait")
	}
	run, err := s.submit(ctx, cfg)
	if err != nil {
		return run, err
	}
	if err := s.wait(ctx, run, cfg.StartTimeout, run.WaitStarted); err != nil {
		return run, err
	}
	return run, nil
}

// RunAndWait queues cfg and blocks until the run completes or timeout
// elapses (zero means no timeout).
func (s *Scheduler) RunAndWait(ctx context.Context, cfg Config, timeout time.Duration) (*Run, error) {
	run, err := s.submit(ctx, cfg)
	if err != nil {
		return run, err
	}
	return run, s.Wait(ctx, run, timeout)
}

// Wait waits for run like Run.Wait. An interrupt observed while waiting
// stops every run and the pool before returning.
func (s *Scheduler) Wait(ctx context.Context, run *Run, timeout time.Duration) error {
	return s.wait(ctx, run, timeout, run.Wait)
}

func (s *Scheduler) wait(ctx context.Context, run *Run, timeout time.Duration, fn func(context.Context, time.Duration) error) error {
	err := fn(ctx, timeout)
	if err != nil {
		s.stopIfInterrupted(ctx, fmt.Sprintf("interrupt when waiting for %s", run))
	}
	return err
}

// stopIfInterrupted stops every run and the pool when ctx ended because of
// an interrupt.
func (s *Scheduler) stopIfInterrupted(ctx context.Context, reason string) {
	if Interrupted(ctx) {
		s.StopRunsAndPool(reason, false)
	}
}

func (s *Scheduler) submit(ctx context.Context, cfg Config) (*Run, error) {
	if !s.State().AcceptsRuns() {
		return nil, apperror.Unavailable("scheduler is %s", s.State())
	}
	if len(s.opts.Handlers) > 0 {
		cfg = cfg.With(WithHandlers(s.opts.Handlers...))
	}
	rc, err := cfg.resolve()
	if err != nil {
		return nil, err
	}

	if err := s.admission.Acquire(ctx, 1); err != nil {
		s.stopIfInterrupted(ctx, "interrupt when waiting for a free run slot")
		return nil, fmt.Errorf("waiting for a free run slot: %w", context.Cause(ctx))
	}
	if err := s.lifecycle.transition(StateRunning); err != nil {
		s.admission.Release(1)
		return nil, apperror.Unavailable("scheduler is %s", s.State())
	}

	run := newRun(rc, tracing.TraceIDFromContext(ctx))
	s.mu.Lock()
	s.tracked[run.ID] = run
	s.mu.Unlock()
	run.OnDone(func() {
		s.mu.Lock()
		delete(s.tracked, run.ID)
		s.mu.Unlock()
		s.admission.Release(1)
	})

	execCtx := context.WithoutCancel(ctx)
	if err := s.pool.Submit(func() { s.execute(execCtx, run) }); err != nil {
		run.queue.Close()
		run.complete(err)
		return run, run.Err()
	}
	return run, nil
}

// WaitIfManyRuns blocks while more than maxCount runs are executing.
// onSleep, when set, is called before every sleep with the current count.
func (s *Scheduler) WaitIfManyRuns(ctx context.Context, maxCount int, sleep time.Duration, onSleep func(current int)) error {
	if sleep <= 0 {
		sleep = s.opts.PoolFullWait
	}
	for {
		current := s.CurrentRunCount()
		if current <= maxCount {
			return nil
		}
		if onSleep != nil {
			onSleep(current)
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			s.stopIfInterrupted(ctx, "interrupt when waiting for runs to finish")
			return context.Cause(ctx)
		}
	}
}

// RunFailure pairs a run with the error it ended in.
type RunFailure struct {
	Run *Run
	Err error
}

// WaitOnOKErrors waits for every run up to timeout and splits them into
// successes and failures. Runs still going at the deadline are killed
// immediately, or reported as incomplete when skipKillTimeouts is set.
func (s *Scheduler) WaitOnOKErrors(ctx context.Context, timeout time.Duration, skipKillTimeouts bool, runs ...*Run) ([]*Run, []RunFailure) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
waitLoop:
	for _, run := range runs {
		select {
		case <-run.Done():
		case <-waitCtx.Done():
			break waitLoop
		}
	}
	s.stopIfInterrupted(ctx, "interrupt when waiting for runs")

	var oks []*Run
	var failures []RunFailure

	var pending []*Run
	for _, run := range runs {
		if run.IsRunning() {
			pending = append(pending, run)
		}
	}
	if len(pending) > 0 {
		if skipKillTimeouts {
			for _, run := range pending {
				failures = append(failures, RunFailure{Run: run, Err: newRunError(KindIncomplete, run, errors.New("wait timed out"))})
			}
			runs = slices.DeleteFunc(slices.Clone(runs), func(run *Run) bool {
				return slices.Contains(pending, run)
			})
		} else {
			for _, run := range pending {
				Kill(context.Background(), run, KillOptions{Immediate: true, Reason: "timeout", AbortTimeout: s.opts.AbortTimeout})
			}
		}
	}

	for _, run := range runs {
		if err := run.Wait(context.Background(), time.Second); err != nil {
			failures = append(failures, RunFailure{Run: run, Err: err})
		} else {
			oks = append(oks, run)
		}
	}
	return oks, failures
}

// StopRunsAndPool kills every registered run and stops the pool, waiting
// for in-flight tasks. It is safe to call more than once.
func (s *Scheduler) StopRunsAndPool(reason string, immediate bool) {
	s.stopOnce.Do(func() {
		if err := s.lifecycle.transition(StateDraining); err != nil {
			slog.Warn("scheduler drain transition failed", "error", err)
		}
		if s.registry.Len() > 0 {
			slog.Warn("stopping runs and pool", "reason", reason, "runs", s.registry.Len())
			s.KillAll(context.Background(), KillOptions{Immediate: immediate, Reason: reason, AbortTimeout: s.opts.AbortTimeout})
		}
		s.pool.Stop(true)
		if err := s.lifecycle.transition(StateStopped); err != nil {
			slog.Warn("scheduler stop transition failed", "error", err)
		}
		slog.Debug("scheduler stopped", "reason", reason)
	})
	<-s.lifecycle.stopped
}

// Shutdown stops the scheduler; call it on process exit.
func (s *Scheduler) Shutdown() {
	s.StopRunsAndPool("shutdown", false)
}

var (
	defaultMu        sync.Mutex
	defaultScheduler *Scheduler
)

// Default returns the process-wide scheduler, creating it on first use or
// after the previous one stopped.
func Default() *Scheduler {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultScheduler == nil || defaultScheduler.State() == StateStopped {
		defaultScheduler = NewScheduler(DefaultOptions())
	}
	return defaultScheduler
}

// SetDefault replaces the process-wide scheduler.
func SetDefault(s *Scheduler) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultScheduler = s
}

// Start runs cfg on the default scheduler.
func Start(ctx context.Context, cfg Config) (*Run, error) {
	return Default().Start(ctx, cfg)
}

// RunAndWait runs cfg on the default scheduler and waits for it.
func RunAndWait(ctx context.Context, cfg Config, timeout time.Duration) (*Run, error) {
	return Default().RunAndWait(ctx, cfg, timeout)
}
