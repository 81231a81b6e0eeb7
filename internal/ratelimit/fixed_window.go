package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Returns {count, remaining ttl in ms} for the current window key.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {count, redis.call("PTTL", KEYS[1])}
`)

// Config configures a Redis-backed fixed-window limiter.
type Config struct {
	Addr     string
	Password string
	Prefix   string
	Limit    int
	Window   time.Duration
	// FailOpen admits requests when Redis is unreachable instead of rejecting them.
	FailOpen bool
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// FixedWindowLimiter counts requests per key in Redis, one counter per window.
type FixedWindowLimiter struct {
	cfg    Config
	client *redis.Client
}

// NewFixedWindowLimiter validates cfg and opens the Redis pool.
func NewFixedWindowLimiter(cfg Config) (*FixedWindowLimiter, error) {
	if cfg.Limit <= 0 || cfg.Window < time.Millisecond {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	if cfg.Prefix = strings.TrimSpace(cfg.Prefix); cfg.Prefix == "" {
		cfg.Prefix = "webhookchat:ratelimit"
	}
	return &FixedWindowLimiter{
		cfg:    cfg,
		client: redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password}),
	}, nil
}

// Allow consumes one unit of key's quota. A nil limiter admits everything.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) Decision {
	if l == nil {
		return Decision{Allowed: true}
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "unknown"
	}
	windowMs := l.cfg.Window.Milliseconds()
	slot := time.Now().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.cfg.Prefix, key, slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	vals, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64Slice()
	if err != nil || len(vals) != 2 {
		slog.Warn("rate limiter unavailable", "key", key, "fail_open", l.cfg.FailOpen, "err", err)
		return Decision{Allowed: l.cfg.FailOpen, RetryAfter: l.cfg.Window}
	}
	count, ttl := vals[0], time.Duration(vals[1])*time.Millisecond
	if ttl <= 0 {
		ttl = l.cfg.Window
	}
	if count > int64(l.cfg.Limit) {
		return Decision{RetryAfter: ttl}
	}
	return Decision{Allowed: true, Remaining: l.cfg.Limit - int(count)}
}

// Close releases the Redis connection pool.
func (l *FixedWindowLimiter) Close() error {
	if l == nil {
		return nil
	}
	return l.client.Close()
}
