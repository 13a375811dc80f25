// Package models defines the core domain types for Aegis.
package models

import (
	"time"
)

// User represents a managed principal with credentials and role bindings.
type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	Roles          []string  `json:"roles"`
	Permissions    []string  `json:"permissions"`
	PasswordHash   string    `json:"-"`
	MFAEnabled     bool      `json:"mfa_enabled"`
	MFASecret      string    `json:"-"`
	FailedAttempts int       `json:"failed_attempts"`
	Locked         bool      `json:"locked"`
	LockedAt       time.Time `json:"locked_at,omitempty"`
	LastLogin      time.Time `json:"last_login,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasRole reports whether the user holds the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Session represents an authenticated session. Permissions are snapshotted
// at creation time so later user mutations do not widen an existing session.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
	Active       bool      `json:"active"`
	Permissions  []string  `json:"permissions"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
}

// PolicyEnforcement controls whether a failing policy blocks the guarded
// operation or is merely recorded.
type PolicyEnforcement string

const (
	EnforcementAdvisory PolicyEnforcement = "advisory"
	EnforcementBlocking PolicyEnforcement = "blocking"
)

// RuleKind identifies the predicate a policy rule evaluates.
type RuleKind string

const (
	RuleMinLength        RuleKind = "min_length"
	RuleCharacterClasses RuleKind = "character_classes"
	RulePatternMatch     RuleKind = "pattern_match"
	RuleAttributeEquals  RuleKind = "attribute_equals"
	RuleTimeWindow       RuleKind = "time_window"
	RuleRoleMembership   RuleKind = "role_membership"
)

// PolicyRule is one ordered rule inside a security policy. Kind selects the
// predicate; only the fields relevant to that kind are consulted.
type PolicyRule struct {
	ID   string   `json:"id"`
	Kind RuleKind `json:"kind"`

	// min_length / character_classes
	MinLength      int  `json:"min_length,omitempty"`
	RequireUpper   bool `json:"require_upper,omitempty"`
	RequireLower   bool `json:"require_lower,omitempty"`
	RequireDigit   bool `json:"require_digit,omitempty"`
	RequireSpecial bool `json:"require_special,omitempty"`

	// pattern_match (anchored glob over the context resource)
	Pattern string `json:"pattern,omitempty"`

	// attribute_equals
	Attribute string `json:"attribute,omitempty"`
	Value     string `json:"value,omitempty"`

	// time_window (hours in the evaluation clock's location, [Start, End))
	StartHour int `json:"start_hour,omitempty"`
	EndHour   int `json:"end_hour,omitempty"`

	// role_membership
	Role string `json:"role,omitempty"`
}

// SecurityPolicy is a named, ordered rule set. The rule list is immutable
// after creation.
type SecurityPolicy struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Level       string            `json:"level"`
	Rules       []PolicyRule      `json:"rules"`
	Enforcement PolicyEnforcement `json:"enforcement"`
	Active      bool              `json:"active"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ConditionKind identifies the predicate an ACL condition evaluates.
type ConditionKind string

const (
	ConditionTimeWindow ConditionKind = "time_window"
	ConditionLocation   ConditionKind = "location"
	ConditionDevice     ConditionKind = "device"
	ConditionNetwork    ConditionKind = "network"
	ConditionAttribute  ConditionKind = "attribute"
)

// AccessCondition is an additional predicate on an ACL entry. All conditions
// on an entry must hold for the entry to grant access.
type AccessCondition struct {
	Kind ConditionKind `json:"kind"`

	// time_window (hours, [Start, End))
	StartHour int `json:"start_hour,omitempty"`
	EndHour   int `json:"end_hour,omitempty"`

	// location / device (allow-lists)
	Allowed []string `json:"allowed,omitempty"`

	// network (CIDR allow-list)
	CIDRs []string `json:"cidrs,omitempty"`

	// attribute equality over the request attributes
	Attribute string `json:"attribute,omitempty"`
	Value     string `json:"value,omitempty"`
}

// AccessControlEntry binds a resource glob pattern to permitted actions,
// eligible roles and extra conditions.
type AccessControlEntry struct {
	Resource    string            `json:"resource"`
	Permissions []string          `json:"permissions"`
	Roles       []string          `json:"roles"`
	Conditions  []AccessCondition `json:"conditions,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// KeyUsage indicates what an encryption key is used for.
type KeyUsage string

const (
	KeyUsageEncryption KeyUsage = "encryption"
	KeyUsageSigning    KeyUsage = "signing"
)

// EncryptionKey holds symmetric key material. The ID is stable across
// rotation so dependents are unaffected when key bytes are replaced.
type EncryptionKey struct {
	ID        string    `json:"id"`
	Algorithm string    `json:"algorithm"`
	KeySize   int       `json:"key_size"`
	Key       []byte    `json:"-"`
	Usage     KeyUsage  `json:"usage"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	RotatedAt time.Time `json:"rotated_at,omitempty"`
}

// EventType classifies a security event.
type EventType string

const (
	EventLogin           EventType = "login"
	EventLogout          EventType = "logout"
	EventUserCreate      EventType = "user.create"
	EventSessionExpired  EventType = "session.expired"
	EventAccessDenied    EventType = "access.denied"
	EventAccessGranted   EventType = "access.granted"
	EventPolicyCreate    EventType = "policy.create"
	EventPolicyViolation EventType = "policy.violation"
	EventKeyRotate       EventType = "key.rotate"
	EventThreatDetected  EventType = "threat.detected"
)

// EventSeverity grades a security event.
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityLow      EventSeverity = "low"
	SeverityMedium   EventSeverity = "medium"
	SeverityHigh     EventSeverity = "high"
	SeverityCritical EventSeverity = "critical"
)

// EventResult is the outcome of an audited operation.
type EventResult string

const (
	ResultSuccess EventResult = "success"
	ResultFailure EventResult = "failure"
	ResultBlocked EventResult = "blocked"
)

// SecurityEvent is an append-only audit record.
type SecurityEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Severity  EventSeverity  `json:"severity"`
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	Action    string         `json:"action,omitempty"`
	Result    EventResult    `json:"result"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// RiskLevel buckets a numeric risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// SecurityMetrics is a derived snapshot recomputed by the monitor. It is
// never the authoritative source of truth.
type SecurityMetrics struct {
	TotalUsers      int64     `json:"total_users"`
	ActiveSessions  int64     `json:"active_sessions"`
	FailedLogins    int64     `json:"failed_logins"`
	BlockedAttempts int64     `json:"blocked_attempts"`
	ThreatsDetected int64     `json:"threats_detected"`
	ComplianceScore float64   `json:"compliance_score"`
	RiskScore       float64   `json:"risk_score"`
	RiskLevel       RiskLevel `json:"risk_level"`
	ComputedAt      time.Time `json:"computed_at"`
}

// SecurityStatus is the operator-facing summary returned by the core.
type SecurityStatus struct {
	Metrics          SecurityMetrics `json:"metrics"`
	ActiveUsers      int64           `json:"active_users"`
	ActiveSessions   int64           `json:"active_sessions"`
	RecentEventCount int             `json:"recent_event_count"`
	ThreatLevel      RiskLevel       `json:"threat_level"`
}

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// HealthResponse represents the overall system health.
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version"`
	Components map[string]ComponentHealth `json:"components"`
}
