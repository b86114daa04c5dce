package storage

import (
	"context"
	"testing"
	"time"

	"gateway/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(eventType models.AuditEventType, target string, at time.Time) *models.AuditEvent {
	ev := models.NewAuditEvent(eventType, target)
	ev.OccurredAt = at.UTC()
	return ev
}

// runStorageSuite exercises the behaviour every backend shares.
func runStorageSuite(t *testing.T, s Storage) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Keep runs against a shared database apart.
	target := "svc-" + uuid.NewString()[:8]

	events := []*models.AuditEvent{
		newEvent(models.AuditBreakerOpened, target, base),
		newEvent(models.AuditRateLimited, target, base.Add(time.Second)),
		newEvent(models.AuditBreakerHalfOpen, target, base.Add(2*time.Second)),
		newEvent(models.AuditBreakerClosed, target, base.Add(3*time.Second)),
	}
	events[1].Subject = "u1"
	events[1].ClientIP = "10.0.0.1"
	events[1].UserAgent = "curl/8"
	events[1].Route = "/api/v1/orders"
	events[1].Detail = "limit 5"

	for _, ev := range events {
		require.NoError(t, s.SaveEvent(ctx, ev))
	}

	t.Run("newest first", func(t *testing.T) {
		got, err := s.Events(ctx, models.EventFilter{Target: target})
		require.NoError(t, err)
		require.Len(t, got, 4)
		assert.Equal(t, events[3].ID, got[0].ID)
		assert.Equal(t, events[0].ID, got[3].ID)
	})

	t.Run("fields round trip", func(t *testing.T) {
		got, err := s.Events(ctx, models.EventFilter{Target: target, Type: models.AuditRateLimited})
		require.NoError(t, err)
		require.Len(t, got, 1)
		ev := got[0]
		assert.Equal(t, events[1].ID, ev.ID)
		assert.Equal(t, "u1", ev.Subject)
		assert.Equal(t, "10.0.0.1", ev.ClientIP)
		assert.Equal(t, "curl/8", ev.UserAgent)
		assert.Equal(t, "/api/v1/orders", ev.Route)
		assert.Equal(t, "limit 5", ev.Detail)
		assert.True(t, events[1].OccurredAt.Equal(ev.OccurredAt))
	})

	t.Run("since and limit", func(t *testing.T) {
		got, err := s.Events(ctx, models.EventFilter{Target: target, Since: base.Add(2 * time.Second)})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = s.Events(ctx, models.EventFilter{Target: target, Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, events[3].ID, got[0].ID)
	})

	t.Run("no match is empty not nil", func(t *testing.T) {
		got, err := s.Events(ctx, models.EventFilter{Target: target + "-none"})
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("invalid event", func(t *testing.T) {
		assert.ErrorIs(t, s.SaveEvent(ctx, &models.AuditEvent{}), ErrInvalidEvent)
		assert.ErrorIs(t, s.SaveEvent(ctx, nil), ErrInvalidEvent)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}
