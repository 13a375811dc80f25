// Package audit implements the append-only bounded security event log.
package audit

import (
	"context"
	"time"

	"github.com/aegis-project/aegis/pkg/models"
)

// Archiver persists events beyond the in-memory ring, e.g. to PostgreSQL.
// Archiving is best-effort and must never block or fail an append.
type Archiver interface {
	// Archive persists a single event.
	Archive(ctx context.Context, event *models.SecurityEvent) error
}

// QueryParams defines event query parameters.
type QueryParams struct {
	Type   models.EventType
	UserID string
	Result models.EventResult
	Since  time.Time
	Until  time.Time
	Limit  int
	Offset int
}

// Recorder is the write side of the log, consumed by the other core
// components so they can emit events without importing the full log.
type Recorder interface {
	// Record appends a security event.
	Record(ctx context.Context, event *models.SecurityEvent)
}
