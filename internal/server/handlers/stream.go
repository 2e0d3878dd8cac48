package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/freema/askshell/internal/logger"
	"github.com/freema/askshell/internal/redisclient"
	"github.com/freema/askshell/internal/shell"
	"github.com/freema/askshell/internal/stream"
	"github.com/freema/askshell/internal/submit"
)

const (
	streamMaxDuration = 30 * time.Minute
	streamKeepalive   = 15 * time.Second
)

// StreamHandler serves run events as Server-Sent Events.
type StreamHandler struct {
	service *submit.Service
	redis   *redisclient.Client
}

// NewStreamHandler creates a new stream handler. Without Redis, only runs
// of this process can be followed and no history is replayed.
func NewStreamHandler(service *submit.Service, redis *redisclient.Client) *StreamHandler {
	return &StreamHandler{service: service, redis: redis}
}

// Stream handles GET /api/v1/runs/{runID}/stream.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	sum, err := h.service.Get(r.Context(), runID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sse := &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}

	if h.redis != nil {
		h.streamRedis(r.Context(), sse, sum)
		return
	}
	h.streamLocal(r.Context(), sse, sum)
}

// streamRedis replays the run history, then follows Pub/Sub until done.
func (h *StreamHandler) streamRedis(ctx context.Context, sse *sseWriter, sum shell.Summary) {
	isTerminal := sum.Status != shell.StatusRunning

	// Subscribe before reading history so no event falls in between.
	streamKey := h.redis.RunKey(sum.ID, "stream")
	doneKey := h.redis.RunKey(sum.ID, "done")

	var msgCh <-chan *redis.Message
	if !isTerminal {
		pubsub := h.redis.Unwrap().Subscribe(ctx, streamKey, doneKey)
		defer pubsub.Close()
		msgCh = pubsub.Channel()
	}

	sse.event("connected", map[string]string{"run_id": sum.ID, "status": sum.Status})

	historyKey := h.redis.RunKey(sum.ID, "history")
	history, err := h.redis.Unwrap().LRange(ctx, historyKey, 0, -1).Result()
	if err == nil {
		for _, msg := range history {
			sse.data(msg)
		}
	}

	if isTerminal {
		sse.event("done", sum)
		return
	}

	h.follow(ctx, sse, sum.ID, func(ctx context.Context) (string, bool, bool) {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return "", false, false
			}
			return msg.Payload, msg.Channel == doneKey, true
		case <-ctx.Done():
			return "", false, false
		}
	})
}

// streamLocal attaches a handler to a live run of this process.
func (h *StreamHandler) streamLocal(ctx context.Context, sse *sseWriter, sum shell.Summary) {
	sse.event("connected", map[string]string{"run_id": sum.ID, "status": sum.Status})

	run, ok := h.service.Lookup(sum.ID)
	if !ok {
		sse.event("done", sum)
		return
	}

	log := logger.FromContext(ctx)
	events := make(chan string, 256)
	remove := run.AddHandler(shell.HandlerFunc(func(run *shell.Run, ev shell.Event) bool {
		evt, err := stream.Encode(run.ID, ev)
		if err != nil {
			return false
		}
		data, _ := json.Marshal(evt)
		select {
		case events <- string(data):
		default:
			log.Debug("SSE client too slow, dropping event", "run_id", run.ID)
		}
		return false
	}))
	defer remove()

	done := make(chan string, 1)
	run.OnDone(func() {
		data, _ := json.Marshal(run.Summary())
		done <- string(data)
	})

	// Events queued before completion are relayed ahead of the done message.
	var final string
	h.follow(ctx, sse, sum.ID, func(ctx context.Context) (string, bool, bool) {
		if final == "" {
			select {
			case <-ctx.Done():
				return "", false, false
			case msg := <-events:
				return msg, false, true
			case final = <-done:
			}
		}
		select {
		case msg := <-events:
			return msg, false, true
		default:
			return final, true, true
		}
	})
}

// follow relays messages until the done message, a disconnect, or the
// stream deadline. next blocks until a message is available and reports
// ok=false once its source is gone or ctx is done.
func (h *StreamHandler) follow(ctx context.Context, sse *sseWriter, runID string, next func(ctx context.Context) (msg string, done, ok bool)) {
	type message struct {
		payload  string
		done, ok bool
	}
	msgs := make(chan message)
	nextCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		for {
			payload, done, ok := next(nextCtx)
			select {
			case msgs <- message{payload, done, ok}:
			case <-nextCtx.Done():
				return
			}
			if done || !ok {
				return
			}
		}
	}()

	deadline := time.NewTimer(streamMaxDuration)
	defer deadline.Stop()
	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()

	log := logger.FromContext(ctx)
	log.Debug("SSE stream started", "run_id", runID)
	for {
		_ = sse.rc.SetWriteDeadline(time.Now().Add(30 * time.Second))

		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected", "run_id", runID)
			return
		case <-deadline.C:
			sse.event("timeout", map[string]string{"message": "stream closed after " + streamMaxDuration.String()})
			return
		case <-keepalive.C:
			sse.comment("keepalive")
		case m := <-msgs:
			if !m.ok {
				return
			}
			if m.done {
				sse.raw("done", m.payload)
				return
			}
			sse.data(m.payload)
		}
	}
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// event writes a named SSE event with JSON data.
func (s *sseWriter) event(name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.raw(name, string(data))
}

func (s *sseWriter) raw(name, data string) {
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data)
	s.flusher.Flush()
}

func (s *sseWriter) data(data string) {
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.flusher.Flush()
}

func (s *sseWriter) comment(text string) {
	fmt.Fprintf(s.w, ": %s\n\n", text)
	s.flusher.Flush()
}
