package storage

import (
	"context"
	"sync"

	"gateway/internal/models"
)

// DefaultMemoryCapacity is used when Config.Capacity is unset.
const DefaultMemoryCapacity = 10000

// MemoryStorage keeps the most recent events in a fixed-size ring. It is
// the default backend: fast, bounded, and lost on restart.
type MemoryStorage struct {
	mu     sync.RWMutex
	events []*models.AuditEvent
	next   int // ring write position
	full   bool
	closed bool
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	capacity := config.Capacity
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStorage{
		events: make([]*models.AuditEvent, capacity),
	}, nil
}

// SaveEvent stores a copy of ev, evicting the oldest event when full.
func (m *MemoryStorage) SaveEvent(ctx context.Context, ev *models.AuditEvent) error {
	if ev == nil || ev.ID == "" || ev.Type == "" {
		return ErrInvalidEvent
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	evCopy := *ev
	m.events[m.next] = &evCopy
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Events walks the ring from newest to oldest.
func (m *MemoryStorage) Events(ctx context.Context, filter models.EventFilter) ([]*models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	n := m.next
	if m.full {
		n = len(m.events)
	}
	limit := listLimit(filter)

	result := make([]*models.AuditEvent, 0)
	for i := 0; i < n && len(result) < limit; i++ {
		idx := (m.next - 1 - i + len(m.events)) % len(m.events)
		ev := m.events[idx]
		if !filter.Matches(ev) {
			continue
		}
		evCopy := *ev
		result = append(result, &evCopy)
	}
	return result, nil
}

// Len returns the number of retained events.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.full {
		return len(m.events)
	}
	return m.next
}

func (m *MemoryStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close releases the retained events.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.events = nil
	return nil
}
