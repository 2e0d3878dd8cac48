package shell

import (
	"sync"

	"github.com/freema/askshell/internal/metrics"
)

// Registry holds runs whose attempt is currently executing. It exists for
// bulk teardown.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Run
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Run)}
}

func (r *Registry) add(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; !ok {
		metrics.RunsInProgress.Inc()
	}
	r.runs[run.ID] = run
}

func (r *Registry) remove(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; ok {
		metrics.RunsInProgress.Dec()
		delete(r.runs, run.ID)
	}
}

// Len returns the number of registered runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// Snapshot returns the registered runs at this instant.
func (r *Registry) Snapshot() []*Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	return out
}

// Get returns a registered run by id.
func (r *Registry) Get(id string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	return run, ok
}
