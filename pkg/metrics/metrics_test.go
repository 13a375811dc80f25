package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-project/aegis/pkg/models"
)

func TestGetRegistry(t *testing.T) {
	reg := GetRegistry()
	require.NotNil(t, reg)

	// Should return same instance
	reg2 := GetRegistry()
	assert.Same(t, reg, reg2)
}

func TestNewServiceMetrics(t *testing.T) {
	ResetRegistry()
	m := NewServiceMetrics("test-service", "1.0.0")
	require.NotNil(t, m)
	assert.Equal(t, "test-service", m.ServiceName)
	assert.NotNil(t, m.RequestsTotal)
	assert.NotNil(t, m.RequestDuration)
	assert.NotNil(t, m.ActiveRequests)
	assert.NotNil(t, m.ServiceInfo)
	assert.NotNil(t, m.AuthAttempts)
	assert.NotNil(t, m.ErrorsTotal)
}

func TestServiceMetrics_Usage(t *testing.T) {
	ResetRegistry()
	m := NewServiceMetrics("test", "1.0")

	// Use the metrics directly
	m.RequestsTotal.WithLabelValues("GET", "/test", "200").Inc()
	m.RequestDuration.WithLabelValues("GET", "/test").Observe(0.1)
	// Should not panic
}

func TestHashID(t *testing.T) {
	hash1 := HashID("user-123")
	hash2 := HashID("user-123")
	hash3 := HashID("user-456")

	assert.Equal(t, hash1, hash2)
	assert.NotEqual(t, hash1, hash3)
	assert.Len(t, hash1, 16) // 8 bytes hex encoded
	assert.Equal(t, "unknown", HashID(""))
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/api/v1/users/abc123", "/api/v1/users/{user_id}"},
		{"/api/v1/users/user-789/permissions", "/api/v1/users/{user_id}/permissions"},
		{"/api/v1/policies/pol-123", "/api/v1/policies/{policy_id}"},
		{"/api/v1/crypto/keys/rotate", "/api/v1/crypto/keys/{key_id}"},
		{"/api/v1/audit/recent", "/api/v1/audit/recent"},
		{"/health", "/health"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := SanitizePath(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestSanitizePath_SessionToken(t *testing.T) {
	path := "/api/v1/sessions/3f7c9a1d2e4b6f8a0c1d2e3f4a5b6c7d"
	result := SanitizePath(path)
	assert.NotContains(t, result, "3f7c9a1d")
}

func TestHandler(t *testing.T) {
	ResetRegistry()
	handler := Handler()
	require.NotNil(t, handler)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestNewIdentityMetrics(t *testing.T) {
	ResetRegistry()
	m := NewIdentityMetrics()
	require.NotNil(t, m)
	assert.NotNil(t, m.LoginsTotal)
	assert.NotNil(t, m.LockoutsTotal)
	assert.NotNil(t, m.UsersTotal)
	assert.NotNil(t, m.SessionsActive)
}

func TestNewPolicyMetrics(t *testing.T) {
	ResetRegistry()
	m := NewPolicyMetrics()
	require.NotNil(t, m)
	assert.NotNil(t, m.EvaluationsTotal)
	assert.NotNil(t, m.ViolationsTotal)
}

func TestNewAuditMetrics(t *testing.T) {
	ResetRegistry()
	m := NewAuditMetrics()
	require.NotNil(t, m)
	assert.NotNil(t, m.EventsTotal)
	assert.NotNil(t, m.RetainedCount)
}

func TestNewKeyMetrics(t *testing.T) {
	ResetRegistry()
	m := NewKeyMetrics()
	require.NotNil(t, m)
	assert.NotNil(t, m.OperationsTotal)
	assert.NotNil(t, m.RotationsTotal)
	assert.NotNil(t, m.ActiveKeys)
}

func TestPostureMetricsUpdate(t *testing.T) {
	ResetRegistry()
	m := NewPostureMetrics()
	require.NotNil(t, m)

	m.Update(models.SecurityMetrics{
		ComplianceScore: 97.5,
		RiskScore:       12,
		FailedLogins:    4,
		BlockedAttempts: 1,
		ThreatsDetected: 0,
	})
	// Should not panic
}

func TestNewDatabaseMetrics(t *testing.T) {
	ResetRegistry()
	m := NewDatabaseMetrics()
	require.NotNil(t, m)
	assert.NotNil(t, m.QueriesTotal)
	assert.NotNil(t, m.ConnectionsActive)
}
