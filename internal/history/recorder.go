package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/freema/askshell/internal/shell"
)

// Recorder saves a run's summary when it starts and when it completes.
// It implements shell.Handler.
type Recorder struct {
	store *Store
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// Handle records RunBefore and removes itself once completion is scheduled.
func (r *Recorder) Handle(run *shell.Run, ev shell.Event) bool {
	if _, ok := ev.(shell.RunBefore); !ok {
		return false
	}
	r.save(run)
	run.OnDone(func() { r.save(run) })
	return true
}

func (r *Recorder) save(run *shell.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.Save(ctx, run.Summary()); err != nil {
		slog.Warn("recording run history failed", "run_id", run.ID, "error", err)
	}
}
