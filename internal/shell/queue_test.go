package shell

import (
	"errors"
	"sync"
	"testing"

	"github.com/freema/askshell/internal/apperror"
)

func TestQueueOrderAndClose(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 3; i++ {
		if err := q.Push(i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	q.Close()
	q.Close()

	if err := q.Push(99); !errors.Is(err, apperror.ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed after close, got %v", err)
	}

	var got []int
	for v := range q.All() {
		got = append(got, v)
	}
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("expected buffered items drained in order, got %v", got)
	}
	if _, ok := q.Receive(); ok {
		t.Fatal("expected ok=false on closed empty queue")
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewEventQueue()
	const producers, perProducer = 4, 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(stdout bool) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = q.Push(OutputLine{IsStdout: stdout, Text: "x"})
			}
		}(p%2 == 0)
	}
	go func() {
		wg.Wait()
		q.Close()
	}()

	count := 0
	for range q.All() {
		count++
	}
	if count != producers*perProducer {
		t.Fatalf("expected %d events, got %d", producers*perProducer, count)
	}
}

func TestQueueReceiveBlocksUntilPush(t *testing.T) {
	q := NewQueue[string]()
	got := make(chan string)
	go func() {
		v, _ := q.Receive()
		got <- v
	}()
	_ = q.Push("hello")
	if v := <-got; v != "hello" {
		t.Fatalf("expected hello, got %q", v)
	}
}
