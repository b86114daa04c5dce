package storage

import (
	"context"
	"time"

	"gateway/internal/models"
)

// Storage persists the gateway's audit trail. Implementations must be safe
// for concurrent use.
type Storage interface {
	// SaveEvent appends an event. Events are immutable once saved.
	SaveEvent(ctx context.Context, ev *models.AuditEvent) error

	// Events returns matching events, newest first, bounded by filter.Limit
	// (or DefaultListLimit when unset).
	Events(ctx context.Context, filter models.EventFilter) ([]*models.AuditEvent, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// DefaultListLimit caps listings that do not set a limit.
const DefaultListLimit = 100

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (memory, sqlite, postgres)
	Type string

	// ConnectionString is used for database backends
	ConnectionString string

	// MaxOpenConns bounds the connection pool of database backends
	MaxOpenConns int

	// ConnMaxLifetime recycles pooled connections
	ConnMaxLifetime time.Duration

	// Capacity bounds the memory backend; the oldest events are evicted first
	Capacity int
}

func listLimit(f models.EventFilter) int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}
