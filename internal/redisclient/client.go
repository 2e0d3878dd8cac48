package redisclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps go-redis with a key prefix shared by every askshell surface.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New creates a Redis client from a URL string (redis://...).
// A non-empty password overrides the one embedded in the URL.
func New(url, password string, db int, prefix string) (*Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	if password != "" {
		opt.Password = password
	}
	if db != 0 {
		opt.DB = db
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.DialTimeout = 5 * time.Second
	// BLPOP in the intake listener blocks longer than a normal read.
	opt.ReadTimeout = 10 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond

	return FromRedis(redis.NewClient(opt), prefix), nil
}

// FromRedis wraps an existing go-redis client.
func FromRedis(rdb *redis.Client, prefix string) *Client {
	return &Client{rdb: rdb, prefix: prefix}
}

// Ping checks Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close shuts down the Redis connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Unwrap returns the underlying go-redis client for direct access.
func (c *Client) Unwrap() *redis.Client {
	return c.rdb
}

// Key returns a prefixed Redis key built from colon-joined parts.
func (c *Client) Key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}

// RunKey returns the key for one facet of a run, e.g. run:<id>:stream.
func (c *Client) RunKey(runID, facet string) string {
	return c.Key("run", runID, facet)
}
