package shell

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/freema/askshell/internal/apperror"
	"github.com/freema/askshell/internal/metrics"
)

// WorkerPool runs submitted tasks on a fixed set of goroutines.
type WorkerPool struct {
	size    int
	tasks   *Queue[func()]
	wg      sync.WaitGroup
	busy    atomic.Int32
	stopped atomic.Bool
}

// NewWorkerPool starts size workers.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	p := &WorkerPool{size: size, tasks: NewQueue[func()]()}

	slog.Debug("starting worker pool", "workers", size)
	metrics.PoolWorkersTotal.Set(float64(size))
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit queues fn for execution. It fails with ErrPoolStopped after Stop.
func (p *WorkerPool) Submit(fn func()) error {
	if p.stopped.Load() {
		return apperror.ErrPoolStopped
	}
	if err := p.tasks.Push(fn); err != nil {
		return apperror.ErrPoolStopped
	}
	metrics.PoolQueueDepth.Inc()
	return nil
}

// Go submits fn and returns a channel closed once fn has returned.
func (p *WorkerPool) Go(fn func()) (<-chan struct{}, error) {
	done := make(chan struct{})
	err := p.Submit(func() {
		defer close(done)
		fn()
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}

// Stop refuses new tasks; queued tasks still run. With wait set, Stop
// returns after every worker has exited.
func (p *WorkerPool) Stop(wait bool) {
	if p.stopped.CompareAndSwap(false, true) {
		slog.Debug("stopping worker pool", "queued", p.tasks.Len(), "busy", p.busy.Load())
		p.tasks.Close()
	}
	if wait {
		p.wg.Wait()
	}
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int {
	return p.size
}

// Busy returns the number of workers currently running a task.
func (p *WorkerPool) Busy() int {
	return int(p.busy.Load())
}

// Queued returns the number of tasks waiting for a worker.
func (p *WorkerPool) Queued() int {
	return p.tasks.Len()
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks.All() {
		metrics.PoolQueueDepth.Dec()
		p.run(id, task)
	}
}

func (p *WorkerPool) run(id int, task func()) {
	p.busy.Add(1)
	metrics.PoolWorkersBusy.Inc()
	defer func() {
		p.busy.Add(-1)
		metrics.PoolWorkersBusy.Dec()
		if r := recover(); r != nil {
			slog.Error("worker task panicked",
				"worker", id,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	task()
}
