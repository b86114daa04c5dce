package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(t *testing.T, clock *testClock) *Limiter {
	t.Helper()
	store := newMemoryStore(time.Hour, clock.Now)
	t.Cleanup(func() { store.Close() })
	return NewLimiter(store, WithClock(clock.Now))
}

func TestLimiter_FiveAllowedSixthRejected(t *testing.T) {
	clock := newTestClock()
	l := newTestLimiter(t, clock)
	key := NewKey("rate", "u1")
	window := 60000 * time.Millisecond

	for i := 1; i <= 5; i++ {
		d, err := l.Admit(context.Background(), key, 5, window)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d", i)
		assert.Equal(t, 5-i, d.Remaining)
		assert.Equal(t, 0, d.RetryAfterSeconds)
	}

	d, err := l.Admit(context.Background(), key, 5, window)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.GreaterOrEqual(t, d.RetryAfterSeconds, 1)
	assert.LessOrEqual(t, d.RetryAfterSeconds, 60)
}

func TestLimiter_NewWindowAfterExpiry(t *testing.T) {
	clock := newTestClock()
	l := newTestLimiter(t, clock)
	key := NewKey("login", "ip:10.0.0.1")

	for i := 0; i < 3; i++ {
		d, err := l.Admit(context.Background(), key, 3, time.Minute)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	clock.Advance(59 * time.Second)
	d, err := l.Admit(context.Background(), key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 1, d.RetryAfterSeconds)

	clock.Advance(time.Second)
	d, err = l.Admit(context.Background(), key, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
	assert.Equal(t, clock.Now().Add(time.Minute), d.ResetAt)
}

func TestLimiter_RejectedCallsAreNotCounted(t *testing.T) {
	clock := newTestClock()
	l := newTestLimiter(t, clock)
	key := NewKey("rate", "u2")

	_, err := l.Admit(context.Background(), key, 1, time.Minute)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		d, err := l.Admit(context.Background(), key, 1, time.Minute)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	}

	d, err := l.Check(context.Background(), key, 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Remaining)
	assert.False(t, d.Allowed)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	clock := newTestClock()
	l := newTestLimiter(t, clock)

	d, err := l.Admit(context.Background(), NewKey("rate", "u1"), 1, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = l.Admit(context.Background(), NewKey("rate", "u2"), 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Admit(context.Background(), NewKey("login", "u1"), 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_CheckAndCount(t *testing.T) {
	clock := newTestClock()
	l := newTestLimiter(t, clock)
	key := NewKey("login", "ip:10.0.0.9")

	d, err := l.Check(context.Background(), key, 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)

	require.NoError(t, l.Count(context.Background(), key, time.Minute))
	require.NoError(t, l.Count(context.Background(), key, time.Minute))

	d, err = l.Check(context.Background(), key, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 60, d.RetryAfterSeconds)
}

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		resetAt time.Time
		window  time.Duration
		want    int
	}{
		{"rounds up", now.Add(1500 * time.Millisecond), time.Minute, 2},
		{"never below one", now, time.Minute, 1},
		{"already past", now.Add(-time.Second), time.Minute, 1},
		{"never above window", now.Add(2 * time.Minute), time.Minute, 60},
		{"sub-second window", now.Add(300 * time.Millisecond), 500 * time.Millisecond, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryAfterSeconds(tt.resetAt, now, tt.window))
		})
	}
}
