package stream

import (
	"context"
	"time"

	"github.com/freema/askshell/internal/redisclient"
)

// RedisSink publishes to run:<id>:stream and keeps a replayable
// run:<id>:history list. Completion goes to run:<id>:done.
type RedisSink struct {
	redis      *redisclient.Client
	historyTTL time.Duration
}

// Append publishes msg and appends it to the run history.
func (s *RedisSink) Append(ctx context.Context, runID, msg string) error {
	pipe := s.redis.Unwrap().Pipeline()
	pipe.Publish(ctx, s.redis.RunKey(runID, "stream"), msg)
	pipe.RPush(ctx, s.redis.RunKey(runID, "history"), msg)
	_, err := pipe.Exec(ctx)
	return err
}

// Done publishes the completion message, stores it for late subscribers and
// starts the history TTL.
func (s *RedisSink) Done(ctx context.Context, runID, msg string) error {
	historyKey := s.redis.RunKey(runID, "history")
	resultKey := s.redis.RunKey(runID, "result")

	pipe := s.redis.Unwrap().Pipeline()
	pipe.Publish(ctx, s.redis.RunKey(runID, "done"), msg)
	pipe.Set(ctx, resultKey, msg, s.historyTTL)
	if s.historyTTL > 0 {
		pipe.Expire(ctx, historyKey, s.historyTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}
