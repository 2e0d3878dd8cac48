package shell

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/freema/askshell/internal/apperror"
)

// RunPoolOptions configures a RunPool.
type RunPoolOptions struct {
	MaxConcurrentSubmits int           // default 4
	ThreadsPerSubmit     int           // default ThreadsPerRun+1
	SleepTime            time.Duration // default the scheduler's PoolFullWait
	ExitWaitTimeout      time.Duration // zero waits forever in Close
}

// RunPool bounds how many runs one caller has in flight while leaving the
// rest of the scheduler's capacity to others.
type RunPool struct {
	s        *Scheduler
	opts     RunPoolOptions
	sem      *semaphore.Weighted
	maxRuns  int
	wg       sync.WaitGroup
	mu       sync.Mutex
	inFlight int
}

// NewRunPool reserves capacity for a RunPool on s. It fails when the
// reservation would take every run slot.
func NewRunPool(s *Scheduler, opts RunPoolOptions) (*RunPool, error) {
	if opts.MaxConcurrentSubmits <= 0 {
		opts.MaxConcurrentSubmits = 4
	}
	if opts.ThreadsPerSubmit <= 0 {
		opts.ThreadsPerSubmit = s.opts.ThreadsPerRun + 1
	}
	if opts.SleepTime <= 0 {
		opts.SleepTime = s.opts.PoolFullWait
	}

	used := opts.MaxConcurrentSubmits * opts.ThreadsPerSubmit / s.opts.ThreadsPerRun
	maxRuns := s.MaxRunCount()
	if used >= maxRuns {
		return nil, apperror.Validation(
			"run pool needs %d run slots but only %d are available, lower MaxConcurrentSubmits or raise the worker count",
			used, maxRuns,
		)
	}

	return &RunPool{
		s:       s,
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrentSubmits)),
		maxRuns: maxRuns - used,
	}, nil
}

// Submit waits for a free submit slot and for the scheduler to have spare
// capacity, then starts cfg. The slot is released when the run completes.
func (p *RunPool) Submit(ctx context.Context, cfg Config) (*Run, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for run pool slot: %w", context.Cause(ctx))
	}
	err := p.s.WaitIfManyRuns(ctx, p.maxRuns, p.opts.SleepTime, func(current int) {
		slog.Info("run pool waiting for runs to finish", "current", current, "max", p.maxRuns)
	})
	if err != nil {
		p.sem.Release(1)
		return nil, fmt.Errorf("waiting for capacity: %w", err)
	}

	cfg = cfg.With(func(c *Config) { c.UserInput = false })
	run, err := p.s.submit(ctx, cfg)
	if run == nil {
		p.sem.Release(1)
		return nil, err
	}

	p.mu.Lock()
	p.inFlight++
	p.mu.Unlock()
	p.wg.Add(1)
	run.OnDone(func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
		p.sem.Release(1)
		p.wg.Done()
	})
	return run, err
}

// InFlight returns the number of submitted runs not yet complete.
func (p *RunPool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Close waits for every submitted run to complete, bounded by
// ExitWaitTimeout when set.
func (p *RunPool) Close() error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if p.opts.ExitWaitTimeout <= 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(p.opts.ExitWaitTimeout):
		return fmt.Errorf("%w: %d runs still in flight after %s", apperror.ErrIncomplete, p.InFlight(), p.opts.ExitWaitTimeout)
	}
}
