package shell

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/freema/askshell/internal/apperror"
)

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Stop(true)

	var live, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		err := p.Submit(func() {
			defer wg.Done()
			n := live.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			live.Add(-1)
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent tasks, saw %d", got)
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Stop(true)

	_ = p.Submit(func() { panic("boom") })
	done, err := p.Go(func() {})
	if err != nil {
		t.Fatalf("Go: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

func TestWorkerPoolStop(t *testing.T) {
	p := NewWorkerPool(1)

	ran := make(chan struct{})
	_ = p.Submit(func() { close(ran) })
	p.Stop(true)

	select {
	case <-ran:
	default:
		t.Fatal("queued task should run before Stop returns")
	}
	if err := p.Submit(func() {}); !errors.Is(err, apperror.ErrPoolStopped) {
		t.Fatalf("expected ErrPoolStopped, got %v", err)
	}
	if p.Size() != 1 || p.Busy() != 0 {
		t.Fatalf("unexpected pool stats: size=%d busy=%d", p.Size(), p.Busy())
	}
}
