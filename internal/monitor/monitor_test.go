package monitor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-project/aegis/internal/audit"
	"github.com/aegis-project/aegis/internal/crypto"
	"github.com/aegis-project/aegis/internal/identity"
	"github.com/aegis-project/aegis/internal/policy"
	"github.com/aegis-project/aegis/pkg/models"
)

type harness struct {
	monitor *Monitor
	log     *audit.Log
	crypto  *crypto.Provider
	clock   time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	cp, err := crypto.NewProvider(crypto.Config{})
	require.NoError(t, err)
	log := audit.NewLog()
	im := identity.NewManager(
		identity.NewMemoryUserStore(),
		identity.NewMemorySessionStore(),
		cp,
		policy.NewEngine(log),
		log,
		identity.Config{},
	)

	// Keys created by the provider carry wall-clock timestamps, so the
	// injected clock starts at real time and only moves forward.
	h := &harness{
		log:    log,
		crypto: cp,
		clock:  time.Now().UTC(),
	}
	h.monitor = New(im, cp, log, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	h.monitor.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) failedLogin(at time.Time) {
	h.log.Record(context.Background(), &models.SecurityEvent{
		Type:      models.EventLogin,
		Result:    models.ResultFailure,
		Timestamp: at,
	})
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, Config{})

	t.Run("stop before start is a no-op", func(t *testing.T) {
		h.monitor.Stop()
		assert.False(t, h.monitor.Running())
	})

	t.Run("start and stop", func(t *testing.T) {
		h.monitor.Start(context.Background())
		assert.True(t, h.monitor.Running())

		// Idempotent while running.
		h.monitor.Start(context.Background())
		assert.True(t, h.monitor.Running())

		h.monitor.Stop()
		assert.False(t, h.monitor.Running())
		h.monitor.Stop()
	})

	t.Run("restart after stop", func(t *testing.T) {
		h.monitor.Start(context.Background())
		assert.True(t, h.monitor.Running())
		h.monitor.Stop()
	})
}

func TestScanThreats(t *testing.T) {
	ctx := context.Background()

	t.Run("below threshold records nothing", func(t *testing.T) {
		h := newHarness(t, Config{})
		for i := 0; i < 10; i++ {
			h.failedLogin(h.clock.Add(-time.Minute))
		}

		h.monitor.scanThreats(ctx)
		assert.Empty(t, h.log.Query(audit.QueryParams{Type: models.EventThreatDetected}))
	})

	t.Run("burst of failures records one threat per pass", func(t *testing.T) {
		h := newHarness(t, Config{})
		for i := 0; i < 11; i++ {
			h.failedLogin(h.clock.Add(-time.Minute))
		}

		h.monitor.scanThreats(ctx)
		threats := h.log.Query(audit.QueryParams{Type: models.EventThreatDetected})
		require.Len(t, threats, 1)
		assert.Equal(t, models.SeverityHigh, threats[0].Severity)
		assert.Equal(t, "brute_force", threats[0].Details["threat_type"])
		assert.Equal(t, 11, threats[0].Details["failed_logins"])

		// The same burst triggers again on the next pass while in window.
		h.monitor.scanThreats(ctx)
		assert.Len(t, h.log.Query(audit.QueryParams{Type: models.EventThreatDetected}), 2)
	})

	t.Run("failures outside the window are ignored", func(t *testing.T) {
		h := newHarness(t, Config{})
		for i := 0; i < 20; i++ {
			h.failedLogin(h.clock.Add(-10 * time.Minute))
		}

		h.monitor.scanThreats(ctx)
		assert.Empty(t, h.log.Query(audit.QueryParams{Type: models.EventThreatDetected}))
	})

	t.Run("only the most recent events are scanned", func(t *testing.T) {
		h := newHarness(t, Config{BruteForceEvents: 20})
		for i := 0; i < 15; i++ {
			h.failedLogin(h.clock.Add(-time.Minute))
		}
		// Push the failures outside the scan horizon.
		for i := 0; i < 20; i++ {
			h.log.Record(ctx, &models.SecurityEvent{
				Type:      models.EventLogin,
				Result:    models.ResultSuccess,
				Timestamp: h.clock,
			})
		}

		h.monitor.scanThreats(ctx)
		assert.Empty(t, h.log.Query(audit.QueryParams{Type: models.EventThreatDetected}))
	})
}

func TestRefreshMetrics(t *testing.T) {
	ctx := context.Background()

	t.Run("aggregates the last day of events", func(t *testing.T) {
		h := newHarness(t, Config{})
		for i := 0; i < 4; i++ {
			h.failedLogin(h.clock.Add(-time.Hour))
		}
		h.log.Record(ctx, &models.SecurityEvent{
			Type: models.EventAccessDenied, Result: models.ResultBlocked, Timestamp: h.clock.Add(-time.Hour),
		})
		// Outside the 24h window.
		h.failedLogin(h.clock.Add(-25 * time.Hour))

		metrics := h.monitor.Refresh(ctx)
		assert.Equal(t, int64(4), metrics.FailedLogins)
		assert.Equal(t, int64(1), metrics.BlockedAttempts)
		assert.Equal(t, h.clock, metrics.ComputedAt)
		// 100 - 4*0.5 - 1*1.0
		assert.InDelta(t, 97.0, metrics.ComplianceScore, 0.001)
		// 4*1 + 1*2
		assert.InDelta(t, 6.0, metrics.RiskScore, 0.001)
		assert.Equal(t, models.RiskLow, metrics.RiskLevel)
	})

	t.Run("threats drive risk level up", func(t *testing.T) {
		h := newHarness(t, Config{})
		for i := 0; i < 6; i++ {
			h.log.Record(ctx, &models.SecurityEvent{
				Type: models.EventThreatDetected, Result: models.ResultFailure, Timestamp: h.clock.Add(-time.Hour),
			})
		}

		metrics := h.monitor.Refresh(ctx)
		assert.Equal(t, int64(6), metrics.ThreatsDetected)
		// 6 failures + 6 threats: 6*1 + 6*10 = 66
		assert.InDelta(t, 66.0, metrics.RiskScore, 0.001)
		assert.Equal(t, models.RiskHigh, metrics.RiskLevel)
	})

	t.Run("rotates stale keys with events", func(t *testing.T) {
		h := newHarness(t, Config{KeyRotationAge: 24 * time.Hour})

		h.monitor.refreshMetrics(ctx)
		assert.Empty(t, h.log.Query(audit.QueryParams{Type: models.EventKeyRotate}))

		h.clock = h.clock.Add(48 * time.Hour)
		h.monitor.refreshMetrics(ctx)

		rotations := h.log.Query(audit.QueryParams{Type: models.EventKeyRotate})
		require.Len(t, rotations, 2)
		assert.Equal(t, "age", rotations[0].Details["reason"])

		master, err := h.crypto.Key(crypto.MasterKeyID)
		require.NoError(t, err)
		assert.Equal(t, h.clock, master.RotatedAt)
	})
}

func TestScoreBounds(t *testing.T) {
	t.Run("compliance floors at zero", func(t *testing.T) {
		stats := &audit.Stats{
			FailureCount: 300,
			EventsByType: map[models.EventType]int64{},
		}
		assert.Equal(t, 0.0, complianceScore(stats))
	})

	t.Run("risk caps at one hundred", func(t *testing.T) {
		stats := &audit.Stats{
			FailureCount: 50,
			BlockedCount: 50,
			EventsByType: map[models.EventType]int64{models.EventThreatDetected: 10},
		}
		assert.Equal(t, 100.0, riskScore(stats))
	})

	t.Run("risk level buckets", func(t *testing.T) {
		assert.Equal(t, models.RiskLow, riskLevel(24))
		assert.Equal(t, models.RiskMedium, riskLevel(25))
		assert.Equal(t, models.RiskHigh, riskLevel(50))
		assert.Equal(t, models.RiskCritical, riskLevel(75))
	})
}
