package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/freema/askshell/internal/redisclient"
	"github.com/freema/askshell/internal/shell"
)

// Event is the JSON envelope published for every run event.
type Event struct {
	Type  string          `json:"type"`  // run, process, output, result
	Event string          `json:"event"` // event name
	RunID string          `json:"run_id"`
	Data  json.RawMessage `json:"data"`
	TS    string          `json:"ts"` // RFC 3339 timestamp
}

// Sink stores and fans out encoded events.
type Sink interface {
	Append(ctx context.Context, runID, msg string) error
	Done(ctx context.Context, runID, msg string) error
}

// Publisher forwards run events to a Sink. It implements shell.Handler.
type Publisher struct {
	sink    Sink
	timeout time.Duration
}

// NewPublisher creates a publisher backed by Redis Pub/Sub and a history list.
func NewPublisher(rdb *redisclient.Client, historyTTL time.Duration) *Publisher {
	return NewPublisherWithSink(&RedisSink{redis: rdb, historyTTL: historyTTL})
}

// NewPublisherWithSink creates a publisher writing to sink.
func NewPublisherWithSink(sink Sink) *Publisher {
	return &Publisher{sink: sink, timeout: 2 * time.Second}
}

// Handle publishes ev and, on RunBefore, arranges for the completion
// message once the run is terminal.
func (p *Publisher) Handle(run *shell.Run, ev shell.Event) bool {
	if _, ok := ev.(shell.RunBefore); ok {
		run.OnDone(func() { p.done(run) })
	}

	evt, err := Encode(run.ID, ev)
	if err != nil {
		slog.Warn("encoding stream event failed", "run_id", run.ID, "error", err)
		return false
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.sink.Append(ctx, run.ID, string(data)); err != nil {
		slog.Warn("publishing stream event failed", "run_id", run.ID, "event", evt.Event, "error", err)
	}
	return false
}

func (p *Publisher) done(run *shell.Run) {
	data, err := json.Marshal(run.Summary())
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.sink.Done(ctx, run.ID, string(data)); err != nil {
		slog.Warn("publishing run completion failed", "run_id", run.ID, "error", err)
	}
}

// Encode converts a shell event into its published envelope.
func Encode(runID string, ev shell.Event) (Event, error) {
	var (
		typ  string
		data any
	)
	switch e := ev.(type) {
	case shell.RunBefore:
		typ, data = "run", struct{}{}
	case shell.RetryAttempt:
		typ, data = "run", map[string]int{"attempt": e.Attempt}
	case shell.ProcessStarted:
		typ, data = "process", map[string]int{"pid": e.PID}
	case shell.StreamStarted:
		typ, data = "output", map[string]string{"stream": streamName(e.IsStdout), "log_path": e.LogPath}
	case shell.OutputLine:
		typ, data = "output", map[string]string{"stream": streamName(e.IsStdout), "text": e.Text}
	case shell.StreamReadError:
		typ, data = "output", map[string]string{"stream": streamName(e.IsStdout), "error": e.Err.Error()}
	case shell.RunAfter:
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		typ, data = "result", map[string]string{"error": msg}
	default:
		typ, data = "run", struct{}{}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:  typ,
		Event: shell.EventName(ev),
		RunID: runID,
		Data:  raw,
		TS:    time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func streamName(isStdout bool) string {
	if isStdout {
		return "stdout"
	}
	return "stderr"
}
