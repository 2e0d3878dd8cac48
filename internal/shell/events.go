package shell

import "os"

// Event is one step in a run's lifecycle. The set of implementations is closed.
type Event interface {
	event()
}

// RunBefore is dispatched before the first attempt is launched.
type RunBefore struct{}

// ProcessStarted reports that the interpreter process for an attempt is live.
type ProcessStarted struct {
	PID     int
	Process *os.Process
}

// StreamStarted reports that a reader opened its log file and began reading.
type StreamStarted struct {
	IsStdout bool
	LogPath  string
}

// OutputLine is one line of process output, without the trailing newline.
type OutputLine struct {
	IsStdout bool
	Text     string
}

// StreamReadError reports a reader failure other than the stream closing.
type StreamReadError struct {
	IsStdout bool
	Err      error
}

// RetryAttempt announces attempt number Attempt (always > 1).
type RetryAttempt struct {
	Attempt int
}

// RunAfter is the last event of a run. Err is the launch error, if any.
type RunAfter struct {
	Err error
}

func (RunBefore) event()       {}
func (ProcessStarted) event()  {}
func (StreamStarted) event()   {}
func (OutputLine) event()      {}
func (StreamReadError) event() {}
func (RetryAttempt) event()    {}
func (RunAfter) event()        {}

// EventName returns a stable snake_case name for the event kind.
func EventName(ev Event) string {
	switch ev.(type) {
	case RunBefore:
		return "run_before"
	case ProcessStarted:
		return "process_started"
	case StreamStarted:
		return "stream_started"
	case OutputLine:
		return "output_line"
	case StreamReadError:
		return "stream_read_error"
	case RetryAttempt:
		return "retry_attempt"
	case RunAfter:
		return "run_after"
	}
	return "unknown"
}

// Handler observes run events. Returning true removes the handler from the run.
type Handler interface {
	Handle(run *Run, ev Event) bool
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(run *Run, ev Event) bool

// Handle calls f.
func (f HandlerFunc) Handle(run *Run, ev Event) bool {
	return f(run, ev)
}

func streamName(isStdout bool) string {
	if isStdout {
		return "stdout"
	}
	return "stderr"
}
