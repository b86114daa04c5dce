package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("downstream failed")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnBreakerEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) count(t EventType) int {
	n := 0
	for _, et := range r.types() {
		if et == t {
			n++
		}
	}
	return n
}

func succeed(context.Context) error { return nil }
func fail(context.Context) error    { return errDownstream }

func newTestRegistry(t *testing.T, clock *fakeClock, rec *eventRecorder) *Registry {
	t.Helper()
	opts := []RegistryOption{WithClock(clock.Now)}
	if rec != nil {
		opts = append(opts, WithObserver(rec))
	}
	return NewRegistry(DefaultOptions(), opts...)
}

func tripBreaker(t *testing.T, b *Breaker) {
	t.Helper()
	for i := 0; i < b.Options().VolumeThreshold; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	require.Equal(t, StateOpen, b.State())
}

func TestBreaker_InventoryScenario(t *testing.T) {
	clock := newFakeClock()
	rec := &eventRecorder{}
	reg := newTestRegistry(t, clock, rec)
	b := reg.Get("inventory")

	for i := 0; i < 6; i++ {
		require.NoError(t, b.Execute(context.Background(), succeed))
	}
	for i := 0; i < 2; i++ {
		require.ErrorIs(t, b.Execute(context.Background(), fail), errDownstream)
	}

	snap := b.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 8, snap.Counts.Requests)
	assert.InDelta(t, 25.0, snap.Counts.ErrorPercentage(), 0.001)

	for i := 0; i < 5; i++ {
		require.ErrorIs(t, b.Execute(context.Background(), fail), errDownstream)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, 1, rec.count(EventOpen))

	var calls int32
	err := b.Execute(context.Background(), func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	require.Error(t, err)
	assert.True(t, IsOpen(err))
	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	assert.True(t, oe.IsBreakerOpen())
	assert.Equal(t, "inventory", oe.Service)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, rec.count(EventReject))
}

func TestBreaker_ThresholdIsStrict(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, clock, nil)
	b := reg.Get("orders")

	// 4 of 8 is exactly 50%, which does not exceed the threshold.
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Execute(context.Background(), succeed))
	}
	for i := 0; i < 4; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_BelowVolumeNeverTrips(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, clock, nil)
	b := reg.Get("orders")

	for i := 0; i < 7; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	assert.Equal(t, StateClosed, b.State())

	_ = b.Execute(context.Background(), fail)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_RollingWindowForgetsOldCalls(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, clock, nil)
	b := reg.Get("orders")

	for i := 0; i < 7; i++ {
		_ = b.Execute(context.Background(), fail)
	}
	clock.Advance(11 * time.Second)

	assert.Equal(t, 0, b.Snapshot().Counts.Requests)
	_ = b.Execute(context.Background(), fail)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenAdmitsExactlyOneTrial(t *testing.T) {
	clock := newFakeClock()
	rec := &eventRecorder{}
	reg := newTestRegistry(t, clock, rec)
	b := reg.Get("payment")
	tripBreaker(t, b)

	// Still open before the reset timeout.
	clock.Advance(29 * time.Second)
	assert.True(t, IsOpen(b.Execute(context.Background(), succeed)))

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	started := make(chan struct{})
	release := make(chan struct{})
	trialDone := make(chan error, 1)
	go func() {
		trialDone <- b.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var calls int32
	err := b.Execute(context.Background(), func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsOpen(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	close(release)
	require.NoError(t, <-trialDone)

	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Execute(context.Background(), succeed))
	assert.Equal(t, 0, b.Snapshot().Counts.Errors())
	assert.Equal(t, 1, rec.count(EventHalfOpen))
	assert.Equal(t, 1, rec.count(EventClose))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	rec := &eventRecorder{}
	reg := newTestRegistry(t, clock, rec)
	b := reg.Get("payment")
	tripBreaker(t, b)

	clock.Advance(30 * time.Second)
	require.ErrorIs(t, b.Execute(context.Background(), fail), errDownstream)
	assert.Equal(t, StateOpen, b.State())

	var calls int32
	err := b.Execute(context.Background(), func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	assert.True(t, IsOpen(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Equal(t, 2, rec.count(EventOpen))
}

func TestBreaker_Timeout(t *testing.T) {
	rec := &eventRecorder{}
	opts := DefaultOptions()
	opts.Timeout = 20 * time.Millisecond
	b := New("slow", opts, rec)

	start := time.Now()
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.False(t, IsOpen(err))

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 20*time.Millisecond, te.After)
	assert.True(t, te.Timeout())
	assert.Contains(t, te.Error(), "timed out after 20ms")

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, rec.count(EventTimeout))
	assert.Equal(t, 1, b.Snapshot().Counts.Timeouts)
}

func TestBreaker_TimeoutReleasesCallerWhenActionIgnoresContext(t *testing.T) {
	opts := DefaultOptions()
	opts.Timeout = 20 * time.Millisecond
	b := New("stuck", opts)

	block := make(chan struct{})
	defer close(block)

	err := b.Execute(context.Background(), func(context.Context) error {
		<-block
		return nil
	})
	assert.True(t, IsTimeout(err))
}

func TestBreaker_CallerCancellationIsNotCounted(t *testing.T) {
	b := New("orders", DefaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Execute(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, b.Snapshot().Counts.Requests)
}

func TestBreaker_ErrorFilter(t *testing.T) {
	errClient := errors.New("client error")
	opts := DefaultOptions()
	opts.ErrorFilter = func(err error) bool { return errors.Is(err, errClient) }
	b := New("catalog", opts)

	for i := 0; i < 10; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return errClient })
		assert.ErrorIs(t, err, errClient)
	}

	snap := b.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 10, snap.Counts.Successes)
}

func TestBreaker_PanicBecomesFailure(t *testing.T) {
	b := New("orders", DefaultOptions())

	err := b.Execute(context.Background(), func(context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, 1, b.Snapshot().Counts.Failures)
}

func TestDo(t *testing.T) {
	b := New("inventory", DefaultOptions())

	n, err := Do(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = Do(context.Background(), b, func(context.Context) (string, error) { return "", errDownstream })
	assert.ErrorIs(t, err, errDownstream)
}

func TestRegistry_OneBreakerPerService(t *testing.T) {
	reg := NewRegistry(DefaultOptions())

	var wg sync.WaitGroup
	got := make([]*Breaker, 50)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = reg.Get("inventory")
		}(i)
	}
	wg.Wait()

	for _, b := range got {
		assert.Same(t, got[0], b)
	}
	assert.NotSame(t, got[0], reg.Get("orders"))
}

func TestRegistry_ServicesAreIndependent(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, clock, nil)
	tripBreaker(t, reg.Get("payment"))

	assert.NoError(t, reg.Call(context.Background(), "inventory", succeed))
	assert.Equal(t, 1, reg.OpenCount())
}

func TestRegistry_Overrides(t *testing.T) {
	defaults, overrides, err := OptionsFromConfig(models.BreakerConfig{
		Timeout:                  5 * time.Second,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             30 * time.Second,
		RollingWindow:            10 * time.Second,
		RollingBuckets:           10,
		VolumeThreshold:          8,
		HalfOpenMaxCalls:         1,
		Overrides: map[string]models.BreakerOverride{
			"payment": {Timeout: 10 * time.Second, VolumeThreshold: 2, RollingWindow: 30 * time.Second, HalfOpenMaxCalls: 2},
		},
	})
	require.NoError(t, err)
	require.NoError(t, defaults.Validate())

	reg := NewRegistry(defaults, WithOverrides(overrides))
	assert.Equal(t, 10*time.Second, reg.Get("payment").Options().Timeout)
	assert.Equal(t, 2, reg.Get("payment").Options().VolumeThreshold)
	assert.Equal(t, 50.0, reg.Get("payment").Options().ErrorThresholdPercentage)
	assert.Equal(t, 30*time.Second, reg.Get("payment").Options().RollingWindow)
	assert.Equal(t, 2, reg.Get("payment").Options().HalfOpenMaxCalls)
	assert.Equal(t, 5*time.Second, reg.Get("inventory").Options().Timeout)
	assert.Equal(t, 1, reg.Get("inventory").Options().HalfOpenMaxCalls)
}

func TestOptionsFromConfig_RejectsInvalidOverride(t *testing.T) {
	base := models.BreakerConfig{
		Timeout:                  5 * time.Second,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             30 * time.Second,
		RollingWindow:            10 * time.Second,
		RollingBuckets:           10,
		VolumeThreshold:          8,
		HalfOpenMaxCalls:         1,
	}

	tests := []struct {
		name     string
		override models.BreakerOverride
	}{
		{"threshold above 100", models.BreakerOverride{ErrorThresholdPercentage: 150}},
		{"negative timeout", models.BreakerOverride{Timeout: -time.Second}},
		{"negative half open calls", models.BreakerOverride{HalfOpenMaxCalls: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.Overrides = map[string]models.BreakerOverride{"payment": tt.override}

			_, _, err := OptionsFromConfig(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "payment")
		})
	}

	bad := base
	bad.HalfOpenMaxCalls = 0
	_, _, err := OptionsFromConfig(bad)
	assert.Error(t, err)
}

func TestRegistry_Snapshot(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, clock, nil)
	_ = reg.Call(context.Background(), "orders", succeed)
	tripBreaker(t, reg.Get("inventory"))

	snaps := reg.Snapshot()
	require.Len(t, snaps, 2)
	assert.Equal(t, "inventory", snaps[0].Service)
	assert.Equal(t, StateOpen, snaps[0].State)
	assert.Equal(t, "orders", snaps[1].Service)
	assert.Equal(t, 1, snaps[1].Counts.Successes)
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	bad := DefaultOptions()
	bad.HalfOpenMaxCalls = 0
	assert.Error(t, bad.Validate())

	bad = DefaultOptions()
	bad.ErrorThresholdPercentage = 0
	assert.Error(t, bad.Validate())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
}
