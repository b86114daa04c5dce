package breaker

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Registry owns exactly one breaker per service name for its lifetime.
// Breakers are created lazily on first use.
type Registry struct {
	defaults  Options
	overrides map[string]Options
	observers []Observer
	now       func() time.Time

	breakers sync.Map // service name -> *Breaker
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithObserver adds an observer to every breaker created by the registry.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) {
		r.observers = append(r.observers, o)
	}
}

// WithOverride uses opts instead of the defaults for one service.
func WithOverride(service string, opts Options) RegistryOption {
	return func(r *Registry) {
		r.overrides[service] = opts
	}
}

// WithOverrides is WithOverride for a whole map.
func WithOverrides(overrides map[string]Options) RegistryOption {
	return func(r *Registry) {
		for service, opts := range overrides {
			r.overrides[service] = opts
		}
	}
}

// WithClock replaces time.Now. Used by tests to step through reset timeouts.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

func NewRegistry(defaults Options, opts ...RegistryOption) *Registry {
	r := &Registry{
		defaults:  defaults,
		overrides: make(map[string]Options),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for service, creating it on first use.
func (r *Registry) Get(service string) *Breaker {
	if b, ok := r.breakers.Load(service); ok {
		return b.(*Breaker)
	}

	opts, ok := r.overrides[service]
	if !ok {
		opts = r.defaults
	}
	b := newBreaker(service, opts, r.now, r.observers)
	actual, _ := r.breakers.LoadOrStore(service, b)
	return actual.(*Breaker)
}

// Call runs fn under the breaker for service.
func (r *Registry) Call(ctx context.Context, service string, fn func(context.Context) error) error {
	return r.Get(service).Execute(ctx, fn)
}

// Snapshot returns the state of every breaker created so far, ordered by
// service name.
func (r *Registry) Snapshot() []Snapshot {
	var out []Snapshot
	r.breakers.Range(func(_, v any) bool {
		out = append(out, v.(*Breaker).Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// OpenCount returns how many breakers are currently not CLOSED.
func (r *Registry) OpenCount() int {
	n := 0
	r.breakers.Range(func(_, v any) bool {
		if v.(*Breaker).State() != StateClosed {
			n++
		}
		return true
	})
	return n
}
