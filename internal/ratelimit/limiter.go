// Package ratelimit provides fixed-window rate limiting for HTTP requests.
// Counters live in a Store (in-memory or Redis) that performs the
// check-and-increment for a key atomically. The HTTP middleware sets the
// standard rate limit response headers and writes a 429 body on rejection.
package ratelimit

import (
	"context"
	"math"
	"time"
)

// Key identifies the bucket a request counts against: "<scope>:<id>".
type Key string

// NewKey builds a scoped key.
func NewKey(scope, id string) Key {
	return Key(scope + ":" + id)
}

// WindowCounter is the state of one key in its current window.
type WindowCounter struct {
	Count       int
	WindowStart time.Time
	Window      time.Duration
	Limit       int
}

// ResetAt returns the end of the window.
func (c WindowCounter) ResetAt() time.Time {
	return c.WindowStart.Add(c.Window)
}

// Store owns window counters. Implementations must serialize updates per key
// and must be safe for concurrent use.
type Store interface {
	// Take counts one request against key unless the current window already
	// holds limit requests. A missing or expired counter starts a new window
	// at now.
	Take(ctx context.Context, key Key, limit int, window time.Duration, now time.Time) (WindowCounter, bool, error)

	// Peek returns the current counter without changing it.
	Peek(ctx context.Context, key Key, window time.Duration, now time.Time) (WindowCounter, error)

	// Add counts one request unconditionally.
	Add(ctx context.Context, key Key, window time.Duration, now time.Time) (WindowCounter, error)

	// Close stops background goroutines and releases resources.
	Close() error
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed           bool
	Limit             int
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int // set only when !Allowed
}

// Limiter applies fixed-window limits on top of a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

type LimiterOption func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		l.now = now
	}
}

func NewLimiter(store Store, opts ...LimiterOption) *Limiter {
	l := &Limiter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit counts a request against key and reports whether it is allowed.
// A rejected request is not counted.
func (l *Limiter) Admit(ctx context.Context, key Key, limit int, window time.Duration) (Decision, error) {
	now := l.now()
	c, ok, err := l.store.Take(ctx, key, limit, window, now)
	if err != nil {
		return Decision{}, err
	}
	c.Limit = limit
	return decide(c, ok, now), nil
}

// Check reports whether a request would be allowed without counting it.
func (l *Limiter) Check(ctx context.Context, key Key, limit int, window time.Duration) (Decision, error) {
	now := l.now()
	c, err := l.store.Peek(ctx, key, window, now)
	if err != nil {
		return Decision{}, err
	}
	c.Limit = limit
	return decide(c, c.Count < limit, now), nil
}

// Count records a request that was admitted by Check.
func (l *Limiter) Count(ctx context.Context, key Key, window time.Duration) error {
	_, err := l.store.Add(ctx, key, window, l.now())
	return err
}

func (l *Limiter) Close() error {
	return l.store.Close()
}

func decide(c WindowCounter, allowed bool, now time.Time) Decision {
	d := Decision{
		Allowed:   allowed,
		Limit:     c.Limit,
		Remaining: max(0, c.Limit-c.Count),
		ResetAt:   c.ResetAt(),
	}
	if !allowed {
		d.RetryAfterSeconds = retryAfterSeconds(d.ResetAt, now, c.Window)
	}
	return d
}

// retryAfterSeconds rounds the time left in the window up to whole seconds,
// clamped to [1, window in seconds].
func retryAfterSeconds(resetAt, now time.Time, window time.Duration) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	ceiling := max(1, int(math.Ceil(window.Seconds())))
	return min(max(secs, 1), ceiling)
}
