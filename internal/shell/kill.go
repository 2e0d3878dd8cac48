package shell

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/freema/askshell/internal/metrics"
)

// KillOptions controls how a run's process group is terminated.
type KillOptions struct {
	// Immediate sends SIGTERM straight away instead of SIGINT first.
	Immediate    bool
	Reason       string
	AbortTimeout time.Duration

	skipRetry bool
}

// Kill signals the process group of run's live attempt and waits for it to
// exit, escalating from SIGINT to SIGTERM after AbortTimeout. Further
// attempts of run are cancelled. It returns once the run has had a chance
// to resolve.
func Kill(ctx context.Context, run *Run, opts KillOptions) {
	if opts.AbortTimeout <= 0 {
		opts.AbortTimeout = DefaultAbortTimeout
	}
	log := run.log.With("reason", opts.Reason)

	if run.IsRunning() {
		run.markKilled()
	}
	proc, exited := run.process()
	if proc == nil || isClosed(exited) {
		log.Info("killing run already completed")
		return
	}
	defer run.WaitNoRaise(time.Second)

	log.Warn("killing starting", "pid", proc.Pid, "immediate", opts.Immediate)
	pgid, err := unix.Getpgid(proc.Pid)
	if err != nil {
		log.Warn("unable to resolve process group", "pid", proc.Pid, "error", err)
		return
	}

	sig := unix.SIGINT
	if opts.Immediate {
		sig = unix.SIGTERM
	}
	if !signalGroup(pgid, sig, log) {
		return
	}

	timer := time.NewTimer(opts.AbortTimeout)
	defer timer.Stop()
	select {
	case <-exited:
		log.Info("killing completed")
		return
	case <-timer.C:
	case <-ctx.Done():
	}

	log.Warn("killing timeout, forcing a kill", "abort_timeout", opts.AbortTimeout)
	signalGroup(pgid, unix.SIGTERM, log)
	select {
	case <-exited:
	case <-time.After(time.Second):
	}
}

// KillAll kills every registered run concurrently. Runs still registered
// afterwards, for example because they started a new attempt, get one more
// immediate pass.
func (s *Scheduler) KillAll(ctx context.Context, opts KillOptions) {
	if opts.AbortTimeout <= 0 {
		opts.AbortTimeout = s.opts.AbortTimeout
	}

	var g errgroup.Group
	for _, run := range s.registry.Snapshot() {
		g.Go(func() error {
			Kill(ctx, run, opts)
			return nil
		})
	}
	_ = g.Wait()

	if left := s.registry.Len(); left > 0 && !opts.skipRetry {
		slog.Warn("runs left after killing, trying again", "runs", left, "reason", opts.Reason)
		s.KillAll(ctx, KillOptions{
			Immediate:    true,
			Reason:       "try-again kill all: " + opts.Reason,
			AbortTimeout: opts.AbortTimeout,
			skipRetry:    true,
		})
	}
}

// KillAll kills every run of the default scheduler.
func KillAll(ctx context.Context, opts KillOptions) {
	Default().KillAll(ctx, opts)
}

func signalGroup(pgid int, sig unix.Signal, log *slog.Logger) bool {
	if err := unix.Kill(-pgid, sig); err != nil {
		log.Warn("signalling process group failed", "pgid", pgid, "signal", unix.SignalName(sig), "error", err)
		return false
	}
	metrics.KillsTotal.WithLabelValues(unix.SignalName(sig)).Inc()
	return true
}

func isClosed(ch chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
