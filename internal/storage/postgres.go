package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gateway/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	target      TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	client_ip   TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	route       TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_occurred_at ON audit_events (occurred_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events (type);`

// PostgresStorage implements the Storage interface using a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a new PostgreSQL storage instance and ensures
// the schema exists.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

func (ps *PostgresStorage) SaveEvent(ctx context.Context, ev *models.AuditEvent) error {
	if ev == nil || ev.ID == "" || ev.Type == "" {
		return ErrInvalidEvent
	}

	_, err := ps.pool.Exec(ctx,
		`INSERT INTO audit_events (id, type, target, subject, client_ip, user_agent, route, detail, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, string(ev.Type), ev.Target, ev.Subject, ev.ClientIP, ev.UserAgent, ev.Route, ev.Detail,
		ev.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert audit event %s: %w", ev.ID, err)
	}
	return nil
}

func (ps *PostgresStorage) Events(ctx context.Context, filter models.EventFilter) ([]*models.AuditEvent, error) {
	var where []string
	args := pgx.NamedArgs{}
	if filter.Type != "" {
		where = append(where, "type = @type")
		args["type"] = string(filter.Type)
	}
	if filter.Target != "" {
		where = append(where, "target = @target")
		args["target"] = filter.Target
	}
	if !filter.Since.IsZero() {
		where = append(where, "occurred_at >= @since")
		args["since"] = filter.Since.UTC()
	}
	args["limit"] = listLimit(filter)

	query := `SELECT id, type, target, subject, client_ip, user_agent, route, detail, occurred_at FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY occurred_at DESC LIMIT @limit"

	rows, err := ps.pool.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.AuditEvent, error) {
		var (
			ev        models.AuditEvent
			eventType string
		)
		err := row.Scan(&ev.ID, &eventType, &ev.Target, &ev.Subject, &ev.ClientIP,
			&ev.UserAgent, &ev.Route, &ev.Detail, &ev.OccurredAt)
		ev.Type = models.AuditEventType(eventType)
		ev.OccurredAt = ev.OccurredAt.UTC()
		return &ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit events: %w", err)
	}
	return events, nil
}

func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}
