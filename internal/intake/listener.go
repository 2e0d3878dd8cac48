package intake

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freema/askshell/internal/redisclient"
	"github.com/freema/askshell/internal/shell"
	"github.com/freema/askshell/internal/submit"
)

// Submitter starts validated requests.
type Submitter interface {
	Submit(ctx context.Context, req submit.Request) (*shell.Run, error)
}

// Result is written back under input:result:<correlation_id>.
type Result struct {
	RunID  string `json:"run_id,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Listener consumes run requests from a Redis list.
type Listener struct {
	redis     *redisclient.Client
	submitter Submitter
	inputKey  string
	resultTTL time.Duration
}

// NewListener creates a Redis input listener popping from inputKey.
func NewListener(redis *redisclient.Client, submitter Submitter, inputKey string, resultTTL time.Duration) *Listener {
	if resultTTL <= 0 {
		resultTTL = 5 * time.Minute
	}
	return &Listener{
		redis:     redis,
		submitter: submitter,
		inputKey:  inputKey,
		resultTTL: resultTTL,
	}
}

// Start pops requests until ctx is done.
func (l *Listener) Start(ctx context.Context) {
	inputKey := l.redis.Key(l.inputKey)
	slog.Info("redis input listener started", "key", inputKey)

	for {
		result, err := l.redis.Unwrap().BLPop(ctx, 5*time.Second, inputKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // timeout
			}
			if ctx.Err() != nil {
				slog.Info("redis input listener shutting down")
				return
			}
			slog.Error("redis input pop failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		l.handlePayload(ctx, result[1])
	}
}

func (l *Listener) handlePayload(ctx context.Context, raw string) {
	req, res := l.process(ctx, raw)
	if req.CorrelationID == "" {
		return
	}
	data, _ := json.Marshal(res)
	resultKey := l.redis.Key("input", "result", req.CorrelationID)
	if err := l.redis.Unwrap().Set(ctx, resultKey, string(data), l.resultTTL).Err(); err != nil {
		slog.Warn("writing intake result failed", "correlation_id", req.CorrelationID, "error", err)
	}
}

// process decodes and submits one payload.
func (l *Listener) process(ctx context.Context, raw string) (submit.Request, Result) {
	var req submit.Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		slog.Error("invalid redis input payload", "error", err, "payload", truncateLog(raw))
		return req, Result{Status: "rejected", Error: "invalid JSON payload"}
	}

	run, err := l.submitter.Submit(ctx, req)
	if err != nil {
		slog.Error("failed to submit run from redis input", "error", err, "correlation_id", req.CorrelationID)
		res := Result{Status: "rejected", Error: err.Error()}
		if run != nil {
			res.RunID = run.ID
		}
		return req, res
	}

	slog.Info("run submitted from redis input", "run_id", run.ID, "correlation_id", req.CorrelationID)
	return req, Result{RunID: run.ID, Status: run.Status()}
}

func truncateLog(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
