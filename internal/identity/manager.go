// Package identity provides user, credential and session management for
// Aegis: account creation under the password policy, the login state
// machine with lockout, the MFA gate and session lifecycle.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-project/aegis/internal/audit"
	"github.com/aegis-project/aegis/internal/crypto"
	"github.com/aegis-project/aegis/internal/policy"
	"github.com/aegis-project/aegis/pkg/errors"
	"github.com/aegis-project/aegis/pkg/models"
)

// Config holds identity manager tunables.
type Config struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	SessionTimeout    time.Duration
	MinPasswordLength int
}

// DefaultConfig returns the default identity configuration.
func DefaultConfig() Config {
	return Config{
		MaxFailedAttempts: 5,
		LockoutDuration:   15 * time.Minute,
		SessionTimeout:    time.Hour,
		MinPasswordLength: 8,
	}
}

// LoginAttempt carries the request metadata of an authentication attempt.
type LoginAttempt struct {
	IPAddress string
	UserAgent string
	MFAToken  string
}

// Manager owns user records and sessions.
type Manager struct {
	users    UserStore
	sessions SessionStore
	crypto   *crypto.Provider
	policies *policy.Engine
	audit    audit.Recorder
	cfg      Config

	// userLocks serializes read-modify-write cycles per username so failed
	// attempt counters and lock transitions cannot race.
	lockMu    sync.Mutex
	userLocks map[string]*sync.Mutex

	// now is overridable for tests.
	now func() time.Time
}

// NewManager creates an identity manager.
func NewManager(users UserStore, sessions SessionStore, cp *crypto.Provider, pe *policy.Engine, recorder audit.Recorder, cfg Config) *Manager {
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = DefaultConfig().MaxFailedAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = DefaultConfig().LockoutDuration
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultConfig().SessionTimeout
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = DefaultConfig().MinPasswordLength
	}

	return &Manager{
		users:     users,
		sessions:  sessions,
		crypto:    cp,
		policies:  pe,
		audit:     recorder,
		cfg:       cfg,
		userLocks: make(map[string]*sync.Mutex),
		now:       time.Now,
	}
}

// CreateUser validates the password against the active password policy,
// hashes it and stores the new user.
func (m *Manager) CreateUser(ctx context.Context, username, email, password string, roles []string) (*models.User, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", errors.ErrInvalidInput)
	}

	if err := m.ValidatePassword(ctx, username, password); err != nil {
		return nil, err
	}

	hash, err := m.crypto.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if roles == nil {
		roles = []string{"user"}
	}
	now := m.now()
	user := &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		Roles:        roles,
		Permissions:  []string{},
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := m.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	m.record(ctx, &models.SecurityEvent{
		Type:    models.EventUserCreate,
		UserID:  user.ID,
		Result:  models.ResultSuccess,
		Details: map[string]any{"username": username, "roles": strings.Join(roles, ",")},
	})

	return user, nil
}

// ValidatePassword checks a candidate password against the active password
// policy, falling back to the configured minimum length. Violations under
// blocking enforcement surface ErrWeakPassword before any hashing occurs.
func (m *Manager) ValidatePassword(ctx context.Context, username, password string) error {
	req := m.policies.PasswordRequirements(policy.PasswordPolicyName, m.cfg.MinPasswordLength)

	var reasons []string
	if len(password) < req.MinLength {
		reasons = append(reasons, fmt.Sprintf("shorter than %d characters", req.MinLength))
	}
	if req.RequireUpper && !strings.ContainsFunc(password, isUpper) {
		reasons = append(reasons, "missing uppercase")
	}
	if req.RequireLower && !strings.ContainsFunc(password, isLower) {
		reasons = append(reasons, "missing lowercase")
	}
	if req.RequireDigit && !strings.ContainsFunc(password, isDigit) {
		reasons = append(reasons, "missing digit")
	}
	if req.RequireSpecial && !strings.ContainsFunc(password, isSpecial) {
		reasons = append(reasons, "missing special character")
	}
	if len(reasons) == 0 {
		return nil
	}

	result := models.ResultFailure
	if req.Enforcement == models.EnforcementBlocking {
		result = models.ResultBlocked
	}
	m.record(ctx, &models.SecurityEvent{
		Type:     models.EventPolicyViolation,
		Severity: models.SeverityMedium,
		Result:   result,
		Details: map[string]any{
			"username": username,
			"reason":   "weak_password: " + strings.Join(reasons, ", "),
		},
	})

	if req.Enforcement == models.EnforcementBlocking {
		return fmt.Errorf("%w: %s", errors.ErrWeakPassword, strings.Join(reasons, ", "))
	}
	return nil
}

// Authenticate runs the login state machine for one attempt. Bad
// credentials, unknown users and MFA failures all surface the same
// ErrAuthenticationFailed; a locked account surfaces ErrAccountLocked.
func (m *Manager) Authenticate(ctx context.Context, username, password string, attempt LoginAttempt) (*models.Session, error) {
	unlock := m.lockUser(username)
	defer unlock()

	now := m.now()

	user, err := m.users.GetByUsername(ctx, username)
	if err != nil {
		m.recordLogin(ctx, "", attempt, models.ResultFailure, "user_not_found")
		return nil, errors.ErrAuthenticationFailed
	}

	// Lockout auto-unlock is lazy: checked here instead of a timer.
	if user.Locked {
		if now.Sub(user.LockedAt) < m.cfg.LockoutDuration {
			m.recordLogin(ctx, user.ID, attempt, models.ResultBlocked, "account_locked")
			return nil, errors.ErrAccountLocked
		}
		user.Locked = false
		user.FailedAttempts = 0
		user.UpdatedAt = now
		if err := m.users.Update(ctx, user); err != nil {
			return nil, fmt.Errorf("unlock user: %w", err)
		}
	}

	if !m.crypto.VerifyPassword(password, user.PasswordHash) {
		user.FailedAttempts++
		reason := "invalid_credentials"
		if user.FailedAttempts >= m.cfg.MaxFailedAttempts {
			user.Locked = true
			user.LockedAt = now
			reason = "account_locked_threshold"
		}
		user.UpdatedAt = now
		if err := m.users.Update(ctx, user); err != nil {
			return nil, fmt.Errorf("record failed attempt: %w", err)
		}
		m.recordLogin(ctx, user.ID, attempt, models.ResultFailure, reason)
		return nil, errors.ErrAuthenticationFailed
	}

	// The MFA gate never touches the failed attempt counter.
	if user.MFAEnabled {
		if !verifyMFACode(user.MFASecret, attempt.MFAToken, now) {
			m.recordLogin(ctx, user.ID, attempt, models.ResultFailure, "mfa_failed")
			return nil, errors.ErrAuthenticationFailed
		}
	}

	session, err := m.createSession(ctx, user, attempt, now)
	if err != nil {
		return nil, err
	}

	user.FailedAttempts = 0
	user.LastLogin = now
	user.UpdatedAt = now
	if err := m.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}

	m.record(ctx, &models.SecurityEvent{
		Type:      models.EventLogin,
		UserID:    user.ID,
		SessionID: session.ID,
		Result:    models.ResultSuccess,
		Details:   map[string]any{"ip_address": attempt.IPAddress, "user_agent": attempt.UserAgent},
	})

	return session, nil
}

// ValidateSession resolves a session by token. Absent, inactive or expired
// sessions surface ErrSessionInvalid; expired sessions are invalidated.
func (m *Manager) ValidateSession(ctx context.Context, token string) (*models.Session, error) {
	session, err := m.sessions.GetByToken(ctx, token)
	if err != nil {
		return nil, errors.ErrSessionInvalid
	}
	now := m.now()

	if !session.Active {
		return nil, errors.ErrSessionInvalid
	}
	if session.ExpiresAt.Before(now) {
		session.Active = false
		_ = m.sessions.Update(ctx, session)
		m.record(ctx, &models.SecurityEvent{
			Type:      models.EventSessionExpired,
			UserID:    session.UserID,
			SessionID: session.ID,
			Result:    models.ResultFailure,
			Details:   map[string]any{"reason": "expired"},
		})
		return nil, errors.ErrSessionInvalid
	}

	session.LastActivity = now
	if err := m.sessions.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session activity: %w", err)
	}
	return session, nil
}

// InvalidateSession deactivates a session. Once invalidated a session never
// becomes active again. Idempotent on missing or already-invalid sessions.
func (m *Manager) InvalidateSession(ctx context.Context, sessionID string) error {
	session, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil
	}
	if !session.Active {
		return nil
	}

	session.Active = false
	if err := m.sessions.Update(ctx, session); err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}

	m.record(ctx, &models.SecurityEvent{
		Type:      models.EventLogout,
		UserID:    session.UserID,
		SessionID: session.ID,
		Result:    models.ResultSuccess,
	})
	return nil
}

// SweepExpired evicts expired and inactive sessions and returns the number
// removed.
func (m *Manager) SweepExpired(ctx context.Context) int {
	sessions, err := m.sessions.List(ctx)
	if err != nil {
		return 0
	}
	now := m.now()

	removed := 0
	for _, session := range sessions {
		expired := session.ExpiresAt.Before(now)
		if !expired && session.Active {
			continue
		}
		if err := m.sessions.Delete(ctx, session.ID); err != nil {
			continue
		}
		removed++
		if expired && session.Active {
			m.record(ctx, &models.SecurityEvent{
				Type:      models.EventSessionExpired,
				UserID:    session.UserID,
				SessionID: session.ID,
				Result:    models.ResultFailure,
				Details:   map[string]any{"reason": "swept"},
			})
		}
	}
	return removed
}

// EnableMFA enables MFA for a user and returns the generated secret.
func (m *Manager) EnableMFA(ctx context.Context, userID string) (string, error) {
	user, err := m.users.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}

	secret, err := generateMFASecret()
	if err != nil {
		return "", err
	}
	user.MFASecret = secret
	user.MFAEnabled = true
	user.UpdatedAt = m.now()

	if err := m.users.Update(ctx, user); err != nil {
		return "", fmt.Errorf("update user MFA: %w", err)
	}
	return secret, nil
}

// GetUser returns a user by ID. It implements access.UserDirectory.
func (m *Manager) GetUser(ctx context.Context, id string) (*models.User, error) {
	return m.users.Get(ctx, id)
}

// GetUserByUsername returns a user by username.
func (m *Manager) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return m.users.GetByUsername(ctx, username)
}

// GrantPermission appends a direct permission string to a user.
func (m *Manager) GrantPermission(ctx context.Context, userID, permission string) error {
	unlockByID, err := m.lockUserID(ctx, userID)
	if err != nil {
		return err
	}
	defer unlockByID()

	user, err := m.users.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	for _, p := range user.Permissions {
		if p == permission {
			return nil
		}
	}
	user.Permissions = append(user.Permissions, permission)
	user.UpdatedAt = m.now()
	return m.users.Update(ctx, user)
}

// CountUsers returns the total number of users.
func (m *Manager) CountUsers(ctx context.Context) int64 {
	n, err := m.users.Count(ctx)
	if err != nil {
		return 0
	}
	return n
}

// CountActiveSessions returns the number of active sessions.
func (m *Manager) CountActiveSessions(ctx context.Context) int64 {
	n, err := m.sessions.CountActive(ctx)
	if err != nil {
		return 0
	}
	return n
}

func (m *Manager) createSession(ctx context.Context, user *models.User, attempt LoginAttempt, now time.Time) (*models.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	refresh, err := generateToken()
	if err != nil {
		return nil, err
	}

	permissions := make([]string, len(user.Permissions))
	copy(permissions, user.Permissions)

	session := &models.Session{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		Token:        token,
		RefreshToken: refresh,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.cfg.SessionTimeout),
		LastActivity: now,
		Active:       true,
		Permissions:  permissions,
		IPAddress:    attempt.IPAddress,
		UserAgent:    attempt.UserAgent,
	}

	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// lockUser acquires the per-username mutex and returns its unlock func.
func (m *Manager) lockUser(username string) func() {
	m.lockMu.Lock()
	lock, ok := m.userLocks[username]
	if !ok {
		lock = &sync.Mutex{}
		m.userLocks[username] = lock
	}
	m.lockMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (m *Manager) lockUserID(ctx context.Context, userID string) (func(), error) {
	user, err := m.users.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return m.lockUser(user.Username), nil
}

func (m *Manager) recordLogin(ctx context.Context, userID string, attempt LoginAttempt, result models.EventResult, reason string) {
	severity := models.SeverityLow
	if result == models.ResultBlocked {
		severity = models.SeverityMedium
	}
	m.record(ctx, &models.SecurityEvent{
		Type:     models.EventLogin,
		Severity: severity,
		UserID:   userID,
		Result:   result,
		Details: map[string]any{
			"reason":     reason,
			"ip_address": attempt.IPAddress,
			"user_agent": attempt.UserAgent,
		},
	})
}

func (m *Manager) record(ctx context.Context, event *models.SecurityEvent) {
	if m.audit != nil {
		m.audit.Record(ctx, event)
	}
}

// generateToken returns a 256-bit cryptographically random token.
func generateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
func isLower(r rune) bool { return r >= 'a' && r <= 'z' }
func isDigit(r rune) bool { return r >= '0' && r <= '9' }
func isSpecial(r rune) bool {
	return !isUpper(r) && !isLower(r) && !isDigit(r)
}
