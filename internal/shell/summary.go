package shell

import (
	"strings"
	"time"
)

// Run status values reported by Summary.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusKilled    = "killed"
)

// tailLines bounds the output kept in a Summary.
const tailLines = 20

// Summary is a serializable snapshot of a run.
type Summary struct {
	ID         string    `json:"id"`
	ShellInput string    `json:"shell_input"`
	Cwd        string    `json:"cwd,omitempty"`
	Prefix     string    `json:"prefix"`
	Attempt    int       `json:"attempt"`
	Attempts   int       `json:"attempts"`
	Status     string    `json:"status"`
	PID        int       `json:"pid,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	OutputDir  string    `json:"output_dir,omitempty"`
	StdoutTail string    `json:"stdout_tail,omitempty"`
	StderrTail string    `json:"stderr_tail,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Status returns the coarse state of the run.
func (r *Run) Status() string {
	switch {
	case r.IsRunning():
		return StatusRunning
	case r.Err() == nil:
		return StatusCompleted
	case r.Killed():
		return StatusKilled
	default:
		return StatusFailed
	}
}

// Summary snapshots the run. Output is truncated to the last lines of
// each stream.
func (r *Run) Summary() Summary {
	s := Summary{
		ID:         r.ID,
		ShellInput: r.cfg.ShellInput,
		Cwd:        r.cfg.Cwd,
		Prefix:     r.cfg.PrintPrefix,
		Attempt:    r.Attempt(),
		Attempts:   r.cfg.Attempts,
		Status:     r.Status(),
		PID:        r.PID(),
		OutputDir:  r.OutputDir(),
		StdoutTail: tail(r.StdoutLines(), tailLines),
		StderrTail: tail(r.StderrLines(), tailLines),
		TraceID:    r.TraceID,
		CreatedAt:  r.CreatedAt,
		FinishedAt: r.FinishedAt(),
	}
	if code, ok := r.ExitCode(); ok {
		s.ExitCode = &code
	}
	if err := r.Err(); err != nil {
		s.Error = firstLine(err.Error())
	}
	return s
}

func tail(lines []string, n int) string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
