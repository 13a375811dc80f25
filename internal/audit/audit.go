package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-project/aegis/pkg/models"
)

// DefaultCapacity bounds the ring when no capacity is configured. It is far
// larger than the threat scanner's window so trimming cannot outrun a scan.
const DefaultCapacity = 10000

// Log is an append-only, bounded, in-memory event store. Once the capacity
// is reached the oldest events are trimmed.
type Log struct {
	mu       sync.RWMutex
	events   []*models.SecurityEvent
	capacity int
	archiver Archiver
}

// Option configures a Log.
type Option func(*Log)

// WithCapacity overrides the ring capacity.
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithArchiver attaches a durable sink invoked asynchronously per event.
func WithArchiver(a Archiver) Option {
	return func(l *Log) { l.archiver = a }
}

// NewLog creates a new event log.
func NewLog(opts ...Option) *Log {
	l := &Log{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an event, filling in ID and timestamp when absent.
func (l *Log) Record(ctx context.Context, event *models.SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = models.SeverityInfo
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	if len(l.events) > l.capacity {
		trimmed := make([]*models.SecurityEvent, l.capacity)
		copy(trimmed, l.events[len(l.events)-l.capacity:])
		l.events = trimmed
	}
	l.mu.Unlock()

	// Archive off the append path - a slow or failing sink must not block
	// security-relevant operations.
	if l.archiver != nil {
		go func() {
			_ = l.archiver.Archive(context.WithoutCancel(ctx), event)
		}()
	}
}

// Recent returns up to n most recent events, newest first.
func (l *Log) Recent(n int) []*models.SecurityEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.events) {
		n = len(l.events)
	}
	out := make([]*models.SecurityEvent, n)
	for i := 0; i < n; i++ {
		out[i] = l.events[len(l.events)-1-i]
	}
	return out
}

// Query returns events matching the criteria, oldest first.
func (l *Log) Query(params QueryParams) []*models.SecurityEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []*models.SecurityEvent
	for _, e := range l.events {
		if params.Type != "" && e.Type != params.Type {
			continue
		}
		if params.UserID != "" && e.UserID != params.UserID {
			continue
		}
		if params.Result != "" && e.Result != params.Result {
			continue
		}
		if !params.Since.IsZero() && e.Timestamp.Before(params.Since) {
			continue
		}
		if !params.Until.IsZero() && e.Timestamp.After(params.Until) {
			continue
		}
		results = append(results, e)
	}

	if params.Offset > 0 {
		if params.Offset >= len(results) {
			return nil
		}
		results = results[params.Offset:]
	}
	if params.Limit > 0 && len(results) > params.Limit {
		results = results[:params.Limit]
	}
	return results
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Stats summarizes retained events since the given time.
type Stats struct {
	TotalEvents  int64                          `json:"total_events"`
	FailureCount int64                          `json:"failure_count"`
	BlockedCount int64                          `json:"blocked_count"`
	EventsByType map[models.EventType]int64     `json:"events_by_type"`
	BySeverity   map[models.EventSeverity]int64 `json:"by_severity"`
}

// GetStats computes summary statistics over events at or after since.
func (l *Log) GetStats(since time.Time) *Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &Stats{
		EventsByType: make(map[models.EventType]int64),
		BySeverity:   make(map[models.EventSeverity]int64),
	}
	for _, e := range l.events {
		if e.Timestamp.Before(since) {
			continue
		}
		stats.TotalEvents++
		switch e.Result {
		case models.ResultFailure:
			stats.FailureCount++
		case models.ResultBlocked:
			stats.BlockedCount++
		}
		stats.EventsByType[e.Type]++
		stats.BySeverity[e.Severity]++
	}
	return stats
}
