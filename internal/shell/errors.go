package shell

import (
	"fmt"
	"strings"

	"github.com/freema/askshell/internal/apperror"
)

// ErrorKind classifies a failed run.
type ErrorKind int

const (
	// KindLaunch means the process could not be started.
	KindLaunch ErrorKind = iota + 1
	// KindExecution means the process exited non-zero and that was not tolerated.
	KindExecution
	// KindIncomplete means a wait timed out before the run finished.
	KindIncomplete
)

func (k ErrorKind) String() string {
	switch k {
	case KindLaunch:
		return "launch"
	case KindExecution:
		return "execution"
	case KindIncomplete:
		return "incomplete"
	}
	return "unknown"
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindLaunch:
		return apperror.ErrLaunch
	case KindExecution:
		return apperror.ErrExecution
	default:
		return apperror.ErrIncomplete
	}
}

// RunError carries a snapshot of the run it failed on. It matches
// apperror.ErrLaunch, ErrExecution or ErrIncomplete with errors.Is, and the
// underlying cause when there is one.
type RunError struct {
	Kind     ErrorKind
	Run      *Run
	ExitCode int // -1 when the process never exited
	Stdout   string
	Stderr   string
	Cause    error
}

func newRunError(kind ErrorKind, run *Run, cause error) *RunError {
	code, ok := run.ExitCode()
	if !ok {
		code = -1
	}
	return &RunError{
		Kind:     kind,
		Run:      run,
		ExitCode: code,
		Stdout:   run.Stdout(),
		Stderr:   run.Stderr(),
		Cause:    cause,
	}
}

func (e *RunError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", e.Kind.sentinel(), e.Run)
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	if e.Kind == KindIncomplete {
		return sb.String()
	}
	fmt.Fprintf(&sb, "\nexit code: %d", e.ExitCode)
	if tail := lastLines("STDOUT", e.Stdout, 10) + lastLines("STDERR", e.Stderr, 10); tail != "" {
		sb.WriteString("\nlines:")
		sb.WriteString(tail)
	}
	return sb.String()
}

func (e *RunError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind.sentinel(), e.Cause}
	}
	return []error{e.Kind.sentinel()}
}

func lastLines(header, text string, n int) string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return "\n" + header + "\n" + strings.Join(lines, "\n")
}
