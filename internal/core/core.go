// Package core wires the Aegis components together and exposes the
// top-level security operations: user and session lifecycle, permission
// checks, crypto primitives, policy management and monitoring control.
package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/aegis-project/aegis/internal/access"
	"github.com/aegis-project/aegis/internal/audit"
	"github.com/aegis-project/aegis/internal/config"
	"github.com/aegis-project/aegis/internal/crypto"
	"github.com/aegis-project/aegis/internal/identity"
	"github.com/aegis-project/aegis/internal/monitor"
	"github.com/aegis-project/aegis/internal/policy"
	"github.com/aegis-project/aegis/pkg/models"
)

// Options overrides component construction. Zero-value fields fall back to
// in-memory defaults.
type Options struct {
	UserStore    identity.UserStore
	SessionStore identity.SessionStore
	Archiver     audit.Archiver
	Logger       *slog.Logger
}

// Core is the Aegis security facade.
type Core struct {
	crypto   *crypto.Provider
	events   *audit.Log
	policies *policy.Engine
	identity *identity.Manager
	access   *access.Evaluator
	monitor  *monitor.Monitor
	logger   *slog.Logger
}

// New assembles a core from configuration.
func New(cfg *config.Config, opts Options) (*Core, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	auditOpts := []audit.Option{audit.WithCapacity(cfg.Security.AuditCapacity)}
	if opts.Archiver != nil {
		auditOpts = append(auditOpts, audit.WithArchiver(opts.Archiver))
	}
	events := audit.NewLog(auditOpts...)

	provider, err := crypto.NewProvider(crypto.Config{KDFIterations: cfg.Security.KDFIterations})
	if err != nil {
		return nil, err
	}

	policies := policy.NewEngine(events)

	users := opts.UserStore
	if users == nil {
		users = identity.NewMemoryUserStore()
	}
	sessions := opts.SessionStore
	if sessions == nil {
		sessions = identity.NewMemorySessionStore()
	}
	idm := identity.NewManager(users, sessions, provider, policies, events, identity.Config{
		MaxFailedAttempts: cfg.Security.MaxFailedAttempts,
		LockoutDuration:   cfg.Security.LockoutDuration,
		SessionTimeout:    cfg.Security.SessionTimeout,
		MinPasswordLength: cfg.Security.MinPasswordLength,
	})

	evaluator := access.NewEvaluator(idm, events)

	mon := monitor.New(idm, provider, events, logger, monitor.Config{
		CleanupInterval:     cfg.Monitor.SessionCleanupInterval,
		ScanInterval:        cfg.Monitor.ThreatScanInterval,
		MetricsInterval:     cfg.Monitor.MetricsInterval,
		BruteForceWindow:    cfg.Monitor.ThreatScanWindow,
		BruteForceEvents:    cfg.Monitor.ThreatScanEvents,
		BruteForceThreshold: cfg.Monitor.BruteForceThreshold,
		KeyRotationAge:      cfg.Security.KeyRotationAge,
	})

	return &Core{
		crypto:   provider,
		events:   events,
		policies: policies,
		identity: idm,
		access:   evaluator,
		monitor:  mon,
		logger:   logger,
	}, nil
}

// CreateUser registers a new user under the active password policy.
func (c *Core) CreateUser(ctx context.Context, username, email, password string, roles []string) (*models.User, error) {
	return c.identity.CreateUser(ctx, username, email, password, roles)
}

// GetUser returns a user by ID.
func (c *Core) GetUser(ctx context.Context, id string) (*models.User, error) {
	return c.identity.GetUser(ctx, id)
}

// Authenticate verifies credentials and returns a new session.
func (c *Core) Authenticate(ctx context.Context, username, password string, attempt identity.LoginAttempt) (*models.Session, error) {
	return c.identity.Authenticate(ctx, username, password, attempt)
}

// ValidateSession resolves and refreshes a session by token.
func (c *Core) ValidateSession(ctx context.Context, token string) (*models.Session, error) {
	return c.identity.ValidateSession(ctx, token)
}

// InvalidateSession deactivates a session by ID.
func (c *Core) InvalidateSession(ctx context.Context, sessionID string) error {
	return c.identity.InvalidateSession(ctx, sessionID)
}

// EnableMFA enables multi-factor authentication for a user and returns the
// shared secret.
func (c *Core) EnableMFA(ctx context.Context, userID string) (string, error) {
	return c.identity.EnableMFA(ctx, userID)
}

// GrantPermission grants a user a direct permission string.
func (c *Core) GrantPermission(ctx context.Context, userID, permission string) error {
	return c.identity.GrantPermission(ctx, userID, permission)
}

// CheckPermission resolves whether the user may perform action on resource.
// A denial is recorded and returned as (false, nil), not an error.
func (c *Core) CheckPermission(ctx context.Context, userID, resource, action string, req access.Request) (bool, error) {
	return c.access.Check(ctx, userID, resource, action, req)
}

// SetAccessControl stores or replaces the ACL entry for a resource pattern.
func (c *Core) SetAccessControl(resource string, entry models.AccessControlEntry) error {
	return c.access.SetEntry(resource, entry)
}

// AccessControlEntries lists stored ACL entries in insertion order.
func (c *Core) AccessControlEntries() []models.AccessControlEntry {
	return c.access.Entries()
}

// Encrypt encrypts data with the named key, defaulting to the master key.
func (c *Core) Encrypt(data []byte, keyID string) (*crypto.Ciphertext, error) {
	if keyID == "" {
		keyID = crypto.MasterKeyID
	}
	return c.crypto.Encrypt(data, keyID)
}

// Decrypt decrypts a ciphertext with the named key, defaulting to the
// master key.
func (c *Core) Decrypt(ct *crypto.Ciphertext, keyID string) ([]byte, error) {
	if keyID == "" {
		keyID = crypto.MasterKeyID
	}
	return c.crypto.Decrypt(ct, keyID)
}

// Sign computes an HMAC signature with the named key, defaulting to the
// signing key.
func (c *Core) Sign(data []byte, keyID string) ([]byte, error) {
	if keyID == "" {
		keyID = crypto.SigningKeyID
	}
	return c.crypto.Sign(data, keyID)
}

// VerifySignature checks an HMAC signature with the named key, defaulting
// to the signing key.
func (c *Core) VerifySignature(data, signature []byte, keyID string) (bool, error) {
	if keyID == "" {
		keyID = crypto.SigningKeyID
	}
	return c.crypto.VerifySignature(data, signature, keyID)
}

// RotateKeys rotates every active key in place and records the rotations.
func (c *Core) RotateKeys(ctx context.Context) ([]string, error) {
	rotated, err := c.crypto.RotateAll(time.Now())
	if err != nil {
		return nil, err
	}
	for _, id := range rotated {
		c.events.Record(ctx, &models.SecurityEvent{
			Type:    models.EventKeyRotate,
			Result:  models.ResultSuccess,
			Details: map[string]any{"key_id": id, "reason": "manual"},
		})
	}
	return rotated, nil
}

// Keys lists the managed encryption keys without key material.
func (c *Core) Keys() []*models.EncryptionKey {
	return c.crypto.Keys()
}

// CreatePolicy validates and stores a new security policy.
func (c *Core) CreatePolicy(ctx context.Context, req policy.CreateRequest) (*models.SecurityPolicy, error) {
	return c.policies.Create(ctx, req)
}

// GetPolicy returns a policy by ID.
func (c *Core) GetPolicy(id string) (*models.SecurityPolicy, error) {
	return c.policies.Get(id)
}

// ListPolicies returns all stored policies.
func (c *Core) ListPolicies() []*models.SecurityPolicy {
	return c.policies.List()
}

// EvaluatePolicy evaluates a policy against the given context.
func (c *Core) EvaluatePolicy(ctx context.Context, policyID string, in policy.Context) (bool, error) {
	return c.policies.Evaluate(ctx, policyID, in)
}

// StartMonitoring launches the background loops. Idempotent.
func (c *Core) StartMonitoring(ctx context.Context) {
	c.monitor.Start(ctx)
}

// StopMonitoring stops the background loops and waits for them to exit.
func (c *Core) StopMonitoring() {
	c.monitor.Stop()
}

// MonitoringActive reports whether the background loops are running.
func (c *Core) MonitoringActive() bool {
	return c.monitor.Running()
}

// Status returns the operator-facing security summary.
func (c *Core) Status(ctx context.Context) models.SecurityStatus {
	metrics := c.monitor.Metrics()
	if metrics.ComputedAt.IsZero() {
		metrics = c.monitor.Refresh(ctx)
	}
	return models.SecurityStatus{
		Metrics:          metrics,
		ActiveUsers:      c.identity.CountUsers(ctx),
		ActiveSessions:   c.identity.CountActiveSessions(ctx),
		RecentEventCount: c.events.Len(),
		ThreatLevel:      metrics.RiskLevel,
	}
}

// Events returns up to limit recent audit events, newest first.
func (c *Core) Events(limit int) []*models.SecurityEvent {
	return c.events.Recent(limit)
}

// QueryEvents returns audit events matching the criteria, oldest first.
func (c *Core) QueryEvents(params audit.QueryParams) []*models.SecurityEvent {
	return c.events.Query(params)
}

// AuditStats summarizes retained audit events since the given time.
func (c *Core) AuditStats(since time.Time) *audit.Stats {
	return c.events.GetStats(since)
}
