// Package monitor runs the background loops of Aegis: expired session
// cleanup, threat scanning over the recent audit trail, periodic metrics
// recomputation and key rotation.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aegis-project/aegis/internal/audit"
	"github.com/aegis-project/aegis/internal/crypto"
	"github.com/aegis-project/aegis/internal/identity"
	"github.com/aegis-project/aegis/pkg/models"
)

// Config holds monitor loop tunables.
type Config struct {
	CleanupInterval time.Duration
	ScanInterval    time.Duration
	MetricsInterval time.Duration

	// Brute-force detection: more than BruteForceThreshold failed logins
	// within BruteForceWindow, over the last BruteForceEvents events.
	BruteForceWindow    time.Duration
	BruteForceEvents    int
	BruteForceThreshold int

	// Keys older than KeyRotationAge are rotated during the metrics pass.
	KeyRotationAge time.Duration
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		CleanupInterval:     5 * time.Minute,
		ScanInterval:        time.Minute,
		MetricsInterval:     30 * time.Second,
		BruteForceWindow:    5 * time.Minute,
		BruteForceEvents:    100,
		BruteForceThreshold: 10,
		KeyRotationAge:      30 * 24 * time.Hour,
	}
}

// Monitor owns the background goroutines. Start is idempotent; Stop blocks
// until every loop has exited.
type Monitor struct {
	identity *identity.Manager
	crypto   *crypto.Provider
	events   *audit.Log
	logger   *slog.Logger
	cfg      Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	metricsMu sync.RWMutex
	metrics   models.SecurityMetrics

	now func() time.Time
}

// New creates a monitor over the given components.
func New(im *identity.Manager, cp *crypto.Provider, events *audit.Log, logger *slog.Logger, cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = def.MetricsInterval
	}
	if cfg.BruteForceWindow <= 0 {
		cfg.BruteForceWindow = def.BruteForceWindow
	}
	if cfg.BruteForceEvents <= 0 {
		cfg.BruteForceEvents = def.BruteForceEvents
	}
	if cfg.BruteForceThreshold <= 0 {
		cfg.BruteForceThreshold = def.BruteForceThreshold
	}
	if cfg.KeyRotationAge <= 0 {
		cfg.KeyRotationAge = def.KeyRotationAge
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		identity: im,
		crypto:   cp,
		events:   events,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start launches the background loops. Calling Start on a running monitor
// is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.running = true

	m.wg.Add(3)
	go m.loop(ctx, m.cfg.CleanupInterval, m.cleanupSessions)
	go m.loop(ctx, m.cfg.ScanInterval, m.scanThreats)
	go m.loop(ctx, m.cfg.MetricsInterval, m.refreshMetrics)

	m.logger.Info("security monitoring started",
		"cleanup_interval", m.cfg.CleanupInterval,
		"scan_interval", m.cfg.ScanInterval,
		"metrics_interval", m.cfg.MetricsInterval)
}

// Stop cancels the loops and waits for them to exit. Safe to call more than
// once and on a monitor that was never started.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("security monitoring stopped")
}

// Running reports whether the loops are active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Metrics returns the most recent metrics snapshot.
func (m *Monitor) Metrics() models.SecurityMetrics {
	m.metricsMu.RLock()
	defer m.metricsMu.RUnlock()
	return m.metrics
}

// Refresh recomputes metrics on demand, outside the ticker cadence.
func (m *Monitor) Refresh(ctx context.Context) models.SecurityMetrics {
	m.refreshMetrics(ctx)
	return m.Metrics()
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (m *Monitor) cleanupSessions(ctx context.Context) {
	if n := m.identity.SweepExpired(ctx); n > 0 {
		m.logger.Info("expired sessions cleaned up", "count", n)
	}
}

// scanThreats inspects the recent audit trail for brute-force patterns. At
// most one threat.detected event is recorded per scan pass.
func (m *Monitor) scanThreats(ctx context.Context) {
	recent := m.events.Recent(m.cfg.BruteForceEvents)
	cutoff := m.now().Add(-m.cfg.BruteForceWindow)

	failed := 0
	for _, e := range recent {
		if e.Type == models.EventLogin && e.Result == models.ResultFailure && e.Timestamp.After(cutoff) {
			failed++
		}
	}

	if failed <= m.cfg.BruteForceThreshold {
		return
	}

	m.events.Record(ctx, &models.SecurityEvent{
		Type:     models.EventThreatDetected,
		Severity: models.SeverityHigh,
		Result:   models.ResultFailure,
		Details: map[string]any{
			"threat_type":   "brute_force",
			"failed_logins": failed,
			"window":        m.cfg.BruteForceWindow.String(),
		},
	})
	m.logger.Warn("threat detected", "threat_type", "brute_force", "failed_logins", failed)
}

func (m *Monitor) refreshMetrics(ctx context.Context) {
	m.rotateStaleKeys(ctx)

	now := m.now()
	stats := m.events.GetStats(now.Add(-24 * time.Hour))

	metrics := models.SecurityMetrics{
		TotalUsers:      m.identity.CountUsers(ctx),
		ActiveSessions:  m.identity.CountActiveSessions(ctx),
		FailedLogins:    stats.FailureCount,
		BlockedAttempts: stats.BlockedCount,
		ThreatsDetected: stats.EventsByType[models.EventThreatDetected],
		ComputedAt:      now,
	}
	metrics.ComplianceScore = complianceScore(stats)
	metrics.RiskScore = riskScore(stats)
	metrics.RiskLevel = riskLevel(metrics.RiskScore)

	m.metricsMu.Lock()
	m.metrics = metrics
	m.metricsMu.Unlock()
}

func (m *Monitor) rotateStaleKeys(ctx context.Context) {
	rotated, err := m.crypto.RotateStale(m.cfg.KeyRotationAge, m.now())
	if err != nil {
		m.logger.Error("key rotation failed", "error", err)
		return
	}
	for _, id := range rotated {
		m.events.Record(ctx, &models.SecurityEvent{
			Type:     models.EventKeyRotate,
			Severity: models.SeverityInfo,
			Result:   models.ResultSuccess,
			Details:  map[string]any{"key_id": id, "reason": "age"},
		})
		m.logger.Info("encryption key rotated", "key_id", id)
	}
}

// complianceScore starts from 100 and deducts for failures, blocked
// operations and detected threats, floored at zero.
func complianceScore(stats *audit.Stats) float64 {
	score := 100.0
	score -= float64(stats.FailureCount) * 0.5
	score -= float64(stats.BlockedCount) * 1.0
	score -= float64(stats.EventsByType[models.EventThreatDetected]) * 5.0
	if score < 0 {
		return 0
	}
	return score
}

// riskScore weighs recent failures, blocks and threats, capped at 100.
func riskScore(stats *audit.Stats) float64 {
	score := float64(stats.FailureCount)*1.0 +
		float64(stats.BlockedCount)*2.0 +
		float64(stats.EventsByType[models.EventThreatDetected])*10.0
	if score > 100 {
		return 100
	}
	return score
}

func riskLevel(score float64) models.RiskLevel {
	switch {
	case score >= 75:
		return models.RiskCritical
	case score >= 50:
		return models.RiskHigh
	case score >= 25:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}
