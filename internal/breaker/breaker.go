// Package breaker implements per-service circuit breakers with a rolling
// error-rate window, a bounded half-open probe and observable events.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Breaker guards calls to one downstream service. All bookkeeping is
// serialized by the breaker's own mutex; the wrapped action runs unlocked.
type Breaker struct {
	service   string
	opts      Options
	now       func() time.Time
	observers []Observer

	mu         sync.Mutex
	state      State
	generation uint64
	openedAt   time.Time
	lastChange time.Time
	trials     int
	window     *rollingWindow
}

// New creates a CLOSED breaker. Most callers should obtain breakers from a
// Registry instead.
func New(service string, opts Options, observers ...Observer) *Breaker {
	return newBreaker(service, opts, time.Now, observers)
}

func newBreaker(service string, opts Options, now func() time.Time, observers []Observer) *Breaker {
	return &Breaker{
		service:    service,
		opts:       opts,
		now:        now,
		observers:  observers,
		state:      StateClosed,
		lastChange: now(),
		window:     newRollingWindow(opts.RollingWindow, opts.RollingBuckets),
	}
}

func (b *Breaker) Service() string { return b.service }

func (b *Breaker) Options() Options { return b.opts }

// State returns the current state, moving OPEN to HALF_OPEN first when the
// reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	ev := b.refresh(b.now())
	state := b.state
	b.mu.Unlock()

	b.emit(ev)
	return state
}

// Execute runs fn under the breaker. fn is not invoked when the breaker
// rejects the call. Errors returned by fn are propagated unchanged.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}

	start := b.now()
	err = b.run(ctx, fn)
	b.complete(ctx, gen, b.now().Sub(start), err)
	return err
}

// Do runs fn under b and returns its value.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	// A timed-out action may still finish later; the channel keeps its late
	// result away from the caller.
	res := make(chan T, 1)
	err := b.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		res <- v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return <-res, nil
}

func (b *Breaker) admit() (uint64, error) {
	now := b.now()

	b.mu.Lock()
	events := []*Event{b.refresh(now)}

	switch b.state {
	case StateOpen:
		b.window.record(now, outcomeReject)
		events = append(events, b.event(EventReject, b.state, b.state, now, 0, nil))
		state := b.state
		b.mu.Unlock()
		b.emit(events...)
		return 0, &OpenError{Service: b.service, State: state}

	case StateHalfOpen:
		if b.trials >= b.opts.HalfOpenMaxCalls {
			b.window.record(now, outcomeReject)
			events = append(events, b.event(EventReject, b.state, b.state, now, 0, nil))
			b.mu.Unlock()
			b.emit(events...)
			return 0, &OpenError{Service: b.service, State: StateHalfOpen}
		}
		b.trials++
	}

	gen := b.generation
	b.mu.Unlock()
	b.emit(events...)
	return gen, nil
}

func (b *Breaker) run(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("call to %s panicked: %v", b.service, r)
			}
		}()
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{Service: b.service, After: b.opts.Timeout}
		}
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TimeoutError{Service: b.service, After: b.opts.Timeout}
	}
}

func (b *Breaker) classify(ctx context.Context, err error) (outcome, EventType, bool) {
	switch {
	case err == nil:
		return outcomeSuccess, EventSuccess, true
	case IsTimeout(err):
		return outcomeTimeout, EventTimeout, true
	case ctx.Err() != nil:
		// The caller went away; that says nothing about the downstream.
		return 0, "", false
	case b.opts.ErrorFilter != nil && b.opts.ErrorFilter(err):
		return outcomeSuccess, EventSuccess, true
	default:
		return outcomeFailure, EventFailure, true
	}
}

func (b *Breaker) complete(ctx context.Context, gen uint64, latency time.Duration, err error) {
	o, evType, counted := b.classify(ctx, err)
	now := b.now()

	b.mu.Lock()
	events := []*Event{b.refresh(now)}

	if gen != b.generation {
		// Admitted under an earlier state; report it but keep it out of the
		// current accounting.
		if counted {
			events = append(events, b.event(evType, b.state, b.state, now, latency, err))
		}
		b.mu.Unlock()
		b.emit(events...)
		return
	}

	if b.state == StateHalfOpen {
		b.trials--
	}
	if !counted {
		b.mu.Unlock()
		b.emit(events...)
		return
	}

	b.window.record(now, o)
	events = append(events, b.event(evType, b.state, b.state, now, latency, err))

	switch b.state {
	case StateClosed:
		if o != outcomeSuccess {
			c := b.window.counts(now)
			if c.Requests >= b.opts.VolumeThreshold && c.ErrorPercentage() > b.opts.ErrorThresholdPercentage {
				events = append(events, b.setState(StateOpen, now))
			}
		}
	case StateHalfOpen:
		if o == outcomeSuccess {
			events = append(events, b.setState(StateClosed, now))
		} else {
			events = append(events, b.setState(StateOpen, now))
		}
	}

	b.mu.Unlock()
	b.emit(events...)
}

// refresh performs the lazy OPEN -> HALF_OPEN transition. Callers hold b.mu.
func (b *Breaker) refresh(now time.Time) *Event {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.opts.ResetTimeout {
		return b.setState(StateHalfOpen, now)
	}
	return nil
}

// setState moves to a new state and returns the transition event. Callers
// hold b.mu.
func (b *Breaker) setState(to State, now time.Time) *Event {
	from := b.state
	b.state = to
	b.generation++
	b.lastChange = now
	b.trials = 0

	var evType EventType
	switch to {
	case StateOpen:
		b.openedAt = now
		evType = EventOpen
	case StateHalfOpen:
		evType = EventHalfOpen
	case StateClosed:
		b.window.reset()
		evType = EventClose
	}
	return b.event(evType, from, to, now, 0, nil)
}

func (b *Breaker) event(t EventType, from, to State, now time.Time, latency time.Duration, err error) *Event {
	return &Event{
		Service: b.service,
		Type:    t,
		From:    from,
		To:      to,
		Latency: latency,
		Err:     err,
		At:      now,
	}
}

func (b *Breaker) emit(events ...*Event) {
	for _, ev := range events {
		if ev == nil {
			continue
		}
		for _, o := range b.observers {
			o.OnBreakerEvent(*ev)
		}
	}
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Service         string
	State           State
	LastStateChange time.Time
	Counts          Counts
}

func (b *Breaker) Snapshot() Snapshot {
	now := b.now()

	b.mu.Lock()
	ev := b.refresh(now)
	s := Snapshot{
		Service:         b.service,
		State:           b.state,
		LastStateChange: b.lastChange,
		Counts:          b.window.counts(now),
	}
	b.mu.Unlock()

	b.emit(ev)
	return s
}
