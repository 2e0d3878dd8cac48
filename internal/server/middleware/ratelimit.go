package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freema/askshell/internal/redisclient"
)

// RateLimiter implements Redis-based sliding window rate limiting of run
// submissions per bearer token.
type RateLimiter struct {
	redis  *redisclient.Client
	scope  string
	limit  int
	window time.Duration
}

// NewRateLimiter creates a rate limiter allowing limit requests per window
// in scope.
func NewRateLimiter(rdb *redisclient.Client, scope string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redis:  rdb,
		scope:  scope,
		limit:  limit,
		window: window,
	}
}

// Middleware returns an HTTP middleware that enforces the limit. Redis
// failures let the request through.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := extractClientID(r)
			if clientID == "" {
				next.ServeHTTP(w, r)
				return
			}

			remaining, err := rl.take(r.Context(), clientID, time.Now())
			if err != nil {
				slog.Warn("rate limit check failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			if remaining < 0 {
				retryAfter := int((rl.window / time.Duration(rl.limit)).Seconds()) + 1
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "rate_limit_exceeded",
					"message": fmt.Sprintf("rate limit exceeded, retry after %ds", retryAfter),
				})
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// take records a request and returns how many remain in the window, or a
// negative value once the limit is exceeded.
func (rl *RateLimiter) take(ctx context.Context, clientID string, now time.Time) (int, error) {
	key := rl.redis.Key("ratelimit", rl.scope, hashToken(clientID))

	nowMs := now.UnixMilli()
	windowStart := nowMs - rl.window.Milliseconds()

	pipe := rl.redis.Unwrap().TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: strconv.FormatInt(now.UnixNano(), 10)})
	pipe.Expire(ctx, key, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	return rl.limit - int(countCmd.Val()) - 1, nil
}

func extractClientID(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return token
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:8])
}
