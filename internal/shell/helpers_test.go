package shell

import (
	"bytes"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/freema/askshell/internal/runlogs"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	s := NewScheduler(Options{
		Workers:      workers,
		PoolFullWait: 10 * time.Millisecond,
		AbortTimeout: time.Second,
		LogDirs:      runlogs.NewManager(t.TempDir(), true),
		Stdout:       &syncBuffer{},
		Stderr:       &syncBuffer{},
	})
	t.Cleanup(s.Shutdown)
	return s
}

// recorder collects event names in dispatch order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Handle(_ *Run, ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, EventName(ev))
	return false
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// waitForStdout polls until run has printed line on stdout.
func waitForStdout(t *testing.T, run *Run, line string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if slices.Contains(run.StdoutLines(), line) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q on stdout of %s", line, run)
}
