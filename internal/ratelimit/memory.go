package ratelimit

import (
	"context"
	"sync"
	"time"
)

// entry holds one key's window. Its mutex serializes every update for the
// key; dead marks an entry the janitor has removed from the map.
type entry struct {
	mu     sync.Mutex
	count  int
	start  time.Time
	window time.Duration
	dead   bool
}

func (e *entry) roll(now time.Time, window time.Duration) {
	if e.start.IsZero() || !now.Before(e.start.Add(e.window)) {
		e.count = 0
		e.start = now
	}
	e.window = window
}

func (e *entry) counter() WindowCounter {
	return WindowCounter{Count: e.count, WindowStart: e.start, Window: e.window}
}

// MemoryStore keeps counters in process memory. There is no global lock:
// keys live in a sync.Map and each key has its own mutex. A background
// goroutine evicts windows that have ended.
type MemoryStore struct {
	entries         sync.Map // Key -> *entry
	cleanupInterval time.Duration
	now             func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore creates a store and starts its cleanup goroutine.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return newMemoryStore(cleanupInterval, time.Now)
}

func newMemoryStore(cleanupInterval time.Duration, now func() time.Time) *MemoryStore {
	m := &MemoryStore{
		cleanupInterval: cleanupInterval,
		now:             now,
		done:            make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// locked runs fn with key's entry locked, retrying if the janitor evicted
// the entry between lookup and lock.
func (m *MemoryStore) locked(key Key, fn func(e *entry)) {
	for {
		v, _ := m.entries.LoadOrStore(key, &entry{})
		e := v.(*entry)
		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		fn(e)
		e.mu.Unlock()
		return
	}
}

func (m *MemoryStore) Take(_ context.Context, key Key, limit int, window time.Duration, now time.Time) (WindowCounter, bool, error) {
	var (
		c  WindowCounter
		ok bool
	)
	m.locked(key, func(e *entry) {
		e.roll(now, window)
		if e.count < limit {
			e.count++
			ok = true
		}
		c = e.counter()
	})
	return c, ok, nil
}

func (m *MemoryStore) Peek(_ context.Context, key Key, window time.Duration, now time.Time) (WindowCounter, error) {
	v, found := m.entries.Load(key)
	if !found {
		return WindowCounter{WindowStart: now, Window: window}, nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || !now.Before(e.start.Add(e.window)) {
		return WindowCounter{WindowStart: now, Window: window}, nil
	}
	return e.counter(), nil
}

func (m *MemoryStore) Add(_ context.Context, key Key, window time.Duration, now time.Time) (WindowCounter, error) {
	var c WindowCounter
	m.locked(key, func(e *entry) {
		e.roll(now, window)
		e.count++
		c = e.counter()
	})
	return c, nil
}

// Close stops the background cleanup goroutine.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// cleanup periodically evicts expired windows.
func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *MemoryStore) evictExpired() {
	now := m.now()
	m.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !now.Before(e.start.Add(e.window)) {
			e.dead = true
			m.entries.Delete(k)
		}
		e.mu.Unlock()
		return true
	})
}

// Len returns the number of tracked keys.
func (m *MemoryStore) Len() int {
	n := 0
	m.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
