package ratelimit

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed fixed_window.lua
var fixedWindowSource string

var fixedWindowScript = redis.NewScript(fixedWindowSource)

// RedisStore keeps counters in Redis so that several gateway replicas share
// one budget per key. Check-and-increment and expiry run in a single Lua
// script, which Redis executes atomically.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore pings the server and preloads the script.
func NewRedisStore(ctx context.Context, client *redis.Client, prefix string) (*RedisStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	if err := fixedWindowScript.Load(ctx, client).Err(); err != nil {
		return nil, fmt.Errorf("failed to load rate limit script: %w", err)
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) key(k Key) string {
	if s.prefix == "" {
		return string(k)
	}
	return s.prefix + ":" + string(k)
}

func (s *RedisStore) run(ctx context.Context, key Key, limit int, window time.Duration, mode string, now time.Time) (WindowCounter, bool, error) {
	windowMS := window.Milliseconds()
	if windowMS <= 0 {
		windowMS = 1
	}

	res, err := fixedWindowScript.Run(ctx, s.client, []string{s.key(key)}, limit, windowMS, mode).Int64Slice()
	if err != nil {
		return WindowCounter{}, false, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(res) != 3 {
		return WindowCounter{}, false, errors.New("invalid rate limit script response")
	}

	ttl := time.Duration(res[2]) * time.Millisecond
	return WindowCounter{
		Count:       int(res[1]),
		WindowStart: now.Add(ttl - window),
		Window:      window,
	}, res[0] == 1, nil
}

func (s *RedisStore) Take(ctx context.Context, key Key, limit int, window time.Duration, now time.Time) (WindowCounter, bool, error) {
	return s.run(ctx, key, limit, window, "take", now)
}

func (s *RedisStore) Peek(ctx context.Context, key Key, window time.Duration, now time.Time) (WindowCounter, error) {
	c, _, err := s.run(ctx, key, 0, window, "peek", now)
	return c, err
}

func (s *RedisStore) Add(ctx context.Context, key Key, window time.Duration, now time.Time) (WindowCounter, error) {
	c, _, err := s.run(ctx, key, 0, window, "add", now)
	return c, err
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
