package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gateway/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	target      TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	client_ip   TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	route       TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	occurred_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_occurred_at ON audit_events (occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events (type);`

// SQLiteStorage stores audit events in a single SQLite file. Timestamps are
// kept as Unix nanoseconds so that ordering is numeric.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database and ensures the schema exists.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer at a time, and every connection to
	// ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func (ss *SQLiteStorage) SaveEvent(ctx context.Context, ev *models.AuditEvent) error {
	if ev == nil || ev.ID == "" || ev.Type == "" {
		return ErrInvalidEvent
	}

	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, type, target, subject, client_ip, user_agent, route, detail, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.Target, ev.Subject, ev.ClientIP, ev.UserAgent, ev.Route, ev.Detail,
		ev.OccurredAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert audit event %s: %w", ev.ID, err)
	}
	return nil
}

func (ss *SQLiteStorage) Events(ctx context.Context, filter models.EventFilter) ([]*models.AuditEvent, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Target != "" {
		where = append(where, "target = ?")
		args = append(args, filter.Target)
	}
	if !filter.Since.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, filter.Since.UTC().UnixNano())
	}

	query := `SELECT id, type, target, subject, client_ip, user_agent, route, detail, occurred_at FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC LIMIT ?"
	args = append(args, listLimit(filter))

	rows, err := ss.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		var (
			ev         models.AuditEvent
			eventType  string
			occurredAt int64
		)
		if err := rows.Scan(&ev.ID, &eventType, &ev.Target, &ev.Subject, &ev.ClientIP,
			&ev.UserAgent, &ev.Route, &ev.Detail, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		ev.Type = models.AuditEventType(eventType)
		ev.OccurredAt = time.Unix(0, occurredAt).UTC()
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}
