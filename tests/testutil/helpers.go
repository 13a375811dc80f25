// Package testutil provides test utilities and helpers.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aegis-project/aegis/pkg/models"
)

// =============================================================================
// Test Fixtures
// =============================================================================

// TestUser creates a test user with the given roles.
func TestUser(username string, roles ...string) *models.User {
	if len(roles) == 0 {
		roles = []string{"user"}
	}
	now := time.Now()
	return &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        username + "@example.com",
		Roles:        roles,
		Permissions:  []string{},
		PasswordHash: "00:00",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// TestSession creates an active session for a user.
func TestSession(userID string, ttl time.Duration) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		Token:        uuid.New().String() + uuid.New().String(),
		RefreshToken: uuid.New().String() + uuid.New().String(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastActivity: now,
		Active:       true,
		Permissions:  []string{},
	}
}

// TestPolicy creates a blocking policy with the given rules.
func TestPolicy(name string, rules ...models.PolicyRule) *models.SecurityPolicy {
	return &models.SecurityPolicy{
		ID:          uuid.New().String(),
		Name:        name,
		Rules:       rules,
		Enforcement: models.EnforcementBlocking,
		Active:      true,
		CreatedAt:   time.Now(),
	}
}

// TestAccessEntry creates an ACL entry bound to the given roles.
func TestAccessEntry(resource string, roles ...string) models.AccessControlEntry {
	return models.AccessControlEntry{
		Resource:    resource,
		Permissions: []string{"read"},
		Roles:       roles,
		CreatedAt:   time.Now(),
	}
}

// TestEvent creates a security event of the given type.
func TestEvent(eventType models.EventType, userID string, result models.EventResult) *models.SecurityEvent {
	return &models.SecurityEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Severity:  models.SeverityInfo,
		UserID:    userID,
		Result:    result,
		Timestamp: time.Now().UTC(),
		Details:   map[string]any{},
	}
}

// =============================================================================
// Assertion Helpers
// =============================================================================

// RequireEventually retries an assertion until it passes or times out.
func RequireEventually(t *testing.T, condition func() bool, timeout, interval time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(interval)
	}
	require.Fail(t, msg)
}

// RequireNoErrorWithin retries a function until it succeeds without error.
func RequireNoErrorWithin(t *testing.T, fn func() error, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if err := fn(); err == nil {
			return
		} else {
			lastErr = err
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.NoError(t, lastErr)
}

// =============================================================================
// Context Helpers
// =============================================================================

// TestContext creates a context with a test timeout.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout creates a context with a custom timeout.
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
