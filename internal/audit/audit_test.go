package audit_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-project/aegis/internal/audit"
	"github.com/aegis-project/aegis/pkg/models"
)

type capturingArchiver struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (a *capturingArchiver) Archive(_ context.Context, event *models.SecurityEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *capturingArchiver) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

func record(log *audit.Log, eventType models.EventType, opts ...func(*models.SecurityEvent)) {
	event := &models.SecurityEvent{Type: eventType, Result: models.ResultSuccess}
	for _, opt := range opts {
		opt(event)
	}
	log.Record(context.Background(), event)
}

func TestRecord(t *testing.T) {
	t.Run("fills ID, timestamp and severity", func(t *testing.T) {
		log := audit.NewLog()
		record(log, models.EventLogin)

		events := log.Recent(1)
		require.Len(t, events, 1)
		assert.NotEmpty(t, events[0].ID)
		assert.False(t, events[0].Timestamp.IsZero())
		assert.Equal(t, models.SeverityInfo, events[0].Severity)
	})

	t.Run("preserves explicit fields", func(t *testing.T) {
		log := audit.NewLog()
		ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		log.Record(context.Background(), &models.SecurityEvent{
			ID:        "fixed",
			Type:      models.EventLogin,
			Severity:  models.SeverityHigh,
			Timestamp: ts,
		})

		events := log.Recent(1)
		require.Len(t, events, 1)
		assert.Equal(t, "fixed", events[0].ID)
		assert.Equal(t, ts, events[0].Timestamp)
		assert.Equal(t, models.SeverityHigh, events[0].Severity)
	})

	t.Run("trims oldest events at capacity", func(t *testing.T) {
		log := audit.NewLog(audit.WithCapacity(5))
		for i := 0; i < 8; i++ {
			log.Record(context.Background(), &models.SecurityEvent{
				Type:   models.EventLogin,
				UserID: fmt.Sprintf("user-%d", i),
			})
		}

		assert.Equal(t, 5, log.Len())
		events := log.Query(audit.QueryParams{})
		require.Len(t, events, 5)
		assert.Equal(t, "user-3", events[0].UserID)
		assert.Equal(t, "user-7", events[4].UserID)
	})
}

func TestRecent(t *testing.T) {
	log := audit.NewLog()
	for i := 0; i < 5; i++ {
		log.Record(context.Background(), &models.SecurityEvent{
			Type:   models.EventLogin,
			UserID: fmt.Sprintf("user-%d", i),
		})
	}

	t.Run("newest first", func(t *testing.T) {
		events := log.Recent(3)
		require.Len(t, events, 3)
		assert.Equal(t, "user-4", events[0].UserID)
		assert.Equal(t, "user-2", events[2].UserID)
	})

	t.Run("zero or oversized n returns everything", func(t *testing.T) {
		assert.Len(t, log.Recent(0), 5)
		assert.Len(t, log.Recent(100), 5)
	})
}

func TestQuery(t *testing.T) {
	log := audit.NewLog()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		eventType := models.EventLogin
		result := models.ResultSuccess
		if i%2 == 1 {
			eventType = models.EventAccessDenied
			result = models.ResultBlocked
		}
		log.Record(context.Background(), &models.SecurityEvent{
			Type:      eventType,
			UserID:    "alice",
			Result:    result,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	t.Run("filter by type", func(t *testing.T) {
		events := log.Query(audit.QueryParams{Type: models.EventAccessDenied})
		assert.Len(t, events, 3)
	})

	t.Run("filter by result", func(t *testing.T) {
		events := log.Query(audit.QueryParams{Result: models.ResultBlocked})
		assert.Len(t, events, 3)
	})

	t.Run("filter by time range", func(t *testing.T) {
		events := log.Query(audit.QueryParams{
			Since: base.Add(2 * time.Minute),
			Until: base.Add(4 * time.Minute),
		})
		assert.Len(t, events, 3)
	})

	t.Run("oldest first with pagination", func(t *testing.T) {
		events := log.Query(audit.QueryParams{Limit: 2, Offset: 1})
		require.Len(t, events, 2)
		assert.True(t, events[0].Timestamp.Before(events[1].Timestamp))
		assert.Equal(t, base.Add(time.Minute), events[0].Timestamp)
	})

	t.Run("offset past the end returns nothing", func(t *testing.T) {
		assert.Empty(t, log.Query(audit.QueryParams{Offset: 100}))
	})

	t.Run("no matching user", func(t *testing.T) {
		assert.Empty(t, log.Query(audit.QueryParams{UserID: "bob"}))
	})
}

func TestGetStats(t *testing.T) {
	log := audit.NewLog()
	base := time.Now().UTC()

	log.Record(context.Background(), &models.SecurityEvent{
		Type: models.EventLogin, Result: models.ResultSuccess, Timestamp: base,
	})
	log.Record(context.Background(), &models.SecurityEvent{
		Type: models.EventLogin, Result: models.ResultFailure, Timestamp: base,
	})
	log.Record(context.Background(), &models.SecurityEvent{
		Type: models.EventAccessDenied, Result: models.ResultBlocked, Severity: models.SeverityMedium, Timestamp: base,
	})
	// Outside the window.
	log.Record(context.Background(), &models.SecurityEvent{
		Type: models.EventLogin, Result: models.ResultFailure, Timestamp: base.Add(-2 * time.Hour),
	})

	stats := log.GetStats(base.Add(-time.Hour))
	assert.Equal(t, int64(3), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.FailureCount)
	assert.Equal(t, int64(1), stats.BlockedCount)
	assert.Equal(t, int64(2), stats.EventsByType[models.EventLogin])
	assert.Equal(t, int64(1), stats.BySeverity[models.SeverityMedium])
}

func TestArchiver(t *testing.T) {
	archiver := &capturingArchiver{}
	log := audit.NewLog(audit.WithArchiver(archiver))

	record(log, models.EventLogin)
	record(log, models.EventLogout)

	// Archiving is asynchronous.
	require.Eventually(t, func() bool {
		return archiver.len() == 2
	}, time.Second, 10*time.Millisecond)
}
