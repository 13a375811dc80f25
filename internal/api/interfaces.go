// Package api exposes the Aegis security operations over HTTP.
package api

import (
	"context"
	"time"

	"github.com/aegis-project/aegis/internal/access"
	"github.com/aegis-project/aegis/internal/audit"
	"github.com/aegis-project/aegis/internal/crypto"
	"github.com/aegis-project/aegis/internal/identity"
	"github.com/aegis-project/aegis/internal/policy"
	"github.com/aegis-project/aegis/pkg/models"
)

// SecurityService is the core surface the HTTP handlers depend on.
type SecurityService interface {
	CreateUser(ctx context.Context, username, email, password string, roles []string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	EnableMFA(ctx context.Context, userID string) (string, error)
	GrantPermission(ctx context.Context, userID, permission string) error

	Authenticate(ctx context.Context, username, password string, attempt identity.LoginAttempt) (*models.Session, error)
	ValidateSession(ctx context.Context, token string) (*models.Session, error)
	InvalidateSession(ctx context.Context, sessionID string) error

	CheckPermission(ctx context.Context, userID, resource, action string, req access.Request) (bool, error)
	SetAccessControl(resource string, entry models.AccessControlEntry) error
	AccessControlEntries() []models.AccessControlEntry

	Encrypt(data []byte, keyID string) (*crypto.Ciphertext, error)
	Decrypt(ct *crypto.Ciphertext, keyID string) ([]byte, error)
	Sign(data []byte, keyID string) ([]byte, error)
	VerifySignature(data, signature []byte, keyID string) (bool, error)
	RotateKeys(ctx context.Context) ([]string, error)
	Keys() []*models.EncryptionKey

	CreatePolicy(ctx context.Context, req policy.CreateRequest) (*models.SecurityPolicy, error)
	GetPolicy(id string) (*models.SecurityPolicy, error)
	ListPolicies() []*models.SecurityPolicy
	EvaluatePolicy(ctx context.Context, policyID string, in policy.Context) (bool, error)

	StartMonitoring(ctx context.Context)
	StopMonitoring()
	MonitoringActive() bool
	Status(ctx context.Context) models.SecurityStatus

	Events(limit int) []*models.SecurityEvent
	QueryEvents(params audit.QueryParams) []*models.SecurityEvent
	AuditStats(since time.Time) *audit.Stats
}

// SessionValidator resolves bearer tokens to sessions for the auth
// middleware.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*models.Session, error)
}

// RateLimiter limits request rates per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	GetRemaining(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}
