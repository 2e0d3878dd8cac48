package shell

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/freema/askshell/internal/apperror"
	"github.com/freema/askshell/internal/metrics"
	"github.com/freema/askshell/internal/tracing"
)

// barrier is queued behind pending events; the consumer closes it once
// everything before it has been dispatched.
type barrier struct {
	done chan struct{}
}

func (barrier) event() {}

// execute drives every attempt of run on a pool worker and always resolves
// the run, whatever happens.
func (s *Scheduler) execute(ctx context.Context, run *Run) {
	cfg := run.cfg
	ctx, span := tracing.Tracer().Start(ctx, "run.execute",
		tracing.WithRunAttributes(run.ID, cfg.PrintPrefix, cfg.Attempts),
	)
	defer span.End()
	startTime := time.Now()

	var launchErr error
	var consumerDone <-chan struct{}
	defer func() {
		if rec := recover(); rec != nil {
			launchErr = fmt.Errorf("run panicked: %v\n%s", rec, debug.Stack())
			run.log.Error("run panicked", "panic", fmt.Sprint(rec))
		}
		run.push(RunAfter{Err: launchErr})
		run.queue.Close()
		if consumerDone != nil {
			<-consumerDone
		}
		run.complete(launchErr)
		s.observe(run, span, time.Since(startTime))
	}()

	// RunBefore may block, e.g. on admission handlers.
	run.dispatch(RunBefore{})

	var err error
	consumerDone, err = s.pool.Go(func() { s.consume(run) })
	if err != nil {
		launchErr = fmt.Errorf("starting event consumer: %w", err)
		return
	}

	outputDir := cfg.RunOutputDir
	if outputDir == "" {
		if outputDir, err = s.opts.LogDirs.NextDir(cfg.input.name()); err != nil {
			launchErr = err
			return
		}
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		launchErr = fmt.Errorf("creating output dir: %w", err)
		return
	}
	run.setOutputDir(outputDir)

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if attempt > 1 {
			run.setAttempt(attempt)
			run.push(RetryAttempt{Attempt: attempt})
			metrics.RetriesTotal.Inc()
			run.log.Warn("retrying run", "attempt", attempt, "attempts", cfg.Attempts)
		}
		if run.Killed() {
			launchErr = fmt.Errorf("run killed before attempt %d", attempt)
			break
		}
		if !s.State().AcceptsRuns() {
			launchErr = fmt.Errorf("attempt %d: %w", attempt, apperror.ErrPoolStopped)
			break
		}

		if err := s.attempt(ctx, run, outputDir, cfg.RunLogStem(attempt)); err != nil {
			launchErr = err
			break
		}
		if run.CleanComplete() || cfg.AllowNonZeroExit || run.Killed() || attempt == cfg.Attempts {
			break
		}
		s.flush(run)
		if !s.shouldRetry(run) {
			break
		}
	}
}

// attempt launches the process once, keeping run registered while it lives.
func (s *Scheduler) attempt(ctx context.Context, run *Run, outputDir, stem string) error {
	_, span := tracing.Tracer().Start(ctx, "run.attempt",
		tracing.WithAttemptAttributes(run.ID, run.Attempt(), stem),
	)
	defer span.End()

	metrics.AttemptsTotal.Inc()
	s.registry.add(run)
	defer s.registry.remove(run)

	if err := s.launch(run, outputDir, stem); err != nil {
		run.log.Warn("attempt failed to launch", "attempt", run.Attempt(), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if code, ok := run.ExitCode(); ok {
		span.SetAttributes(attribute.Int("run.exit_code", code))
	}
	return nil
}

func (s *Scheduler) consume(run *Run) {
	for ev := range run.queue.All() {
		if b, ok := ev.(barrier); ok {
			close(b.done)
			continue
		}
		run.dispatch(ev)
	}
}

// flush waits until every event queued so far has been dispatched, so
// ShouldRetry sees all output of the finished attempt.
func (s *Scheduler) flush(run *Run) {
	b := barrier{done: make(chan struct{})}
	if err := run.queue.Push(b); err != nil {
		return
	}
	<-b.done
}

func (s *Scheduler) shouldRetry(run *Run) (retry bool) {
	defer func() {
		if rec := recover(); rec != nil {
			run.log.Warn("retry predicate panicked, not retrying", "panic", fmt.Sprint(rec))
			retry = false
		}
	}()
	return run.cfg.ShouldRetry(run)
}

func (s *Scheduler) observe(run *Run, span trace.Span, elapsed time.Duration) {
	status := "ok"
	if err := run.Err(); err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if code, ok := run.ExitCode(); ok {
		span.SetAttributes(attribute.Int("run.exit_code", code))
	}
	metrics.RunsTotal.WithLabelValues(status).Inc()
	metrics.RunDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	run.log.Info("run finished", "status", status, "attempts", run.Attempt(), "duration", elapsed.Round(time.Millisecond))
}
