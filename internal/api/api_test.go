package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-project/aegis/internal/api"
	"github.com/aegis-project/aegis/internal/config"
	"github.com/aegis-project/aegis/internal/core"
	"github.com/aegis-project/aegis/pkg/models"
)

const testPassword = "Sufficiently-Strong-1"

type testServer struct {
	server *httptest.Server
	core   *core.Core
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg, err := config.Load("")
	require.NoError(t, err)
	c, err := core.New(cfg, core.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)

	router := api.NewRouter(&api.RouterConfig{
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		RateLimiter:      api.NewInMemoryRateLimiter(1000, time.Minute),
		MiddlewareConfig: api.DefaultMiddlewareConfig(),
	}, c)

	ts := &testServer{server: httptest.NewServer(router), core: c}
	t.Cleanup(ts.server.Close)
	return ts
}

// loginAs creates the user directly on the core and logs in over HTTP.
func (ts *testServer) loginAs(t *testing.T, username string, roles []string) *models.User {
	t.Helper()

	user, err := ts.core.CreateUser(context.Background(), username, username+"@example.com", testPassword, roles)
	require.NoError(t, err)

	resp := ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": username,
		"password": testPassword,
	})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var session models.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&session))
	ts.token = session.Token
	return user
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.server.URL+path, reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}

	resp, err := ts.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health", "/ready", "/live"} {
		resp := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		_ = resp.Body.Close()
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	t.Run("unauthenticated request rejected", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/status", nil)
		body := decode[api.ErrorResponse](t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "AUTH_REQUIRED", body.Error.Code)
	})

	t.Run("malformed bearer header rejected", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.server.URL+"/api/v1/status", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Basic abc123")

		resp, err := ts.server.Client().Do(req)
		require.NoError(t, err)
		body := decode[api.ErrorResponse](t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "INVALID_AUTH_HEADER", body.Error.Code)
	})

	t.Run("stale token rejected", func(t *testing.T) {
		ts.token = "0000000000000000000000000000000000000000000000000000000000000000"
		defer func() { ts.token = "" }()

		resp := ts.do(t, http.MethodGet, "/api/v1/status", nil)
		body := decode[api.ErrorResponse](t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "SESSION_INVALID", body.Error.Code)
	})
}

func TestLoginFlow(t *testing.T) {
	ts := newTestServer(t)

	t.Run("bad credentials", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
			"username": "nobody", "password": "wrong",
		})
		body := decode[api.ErrorResponse](t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "AUTHENTICATION_FAILED", body.Error.Code)
	})

	t.Run("login, session, logout", func(t *testing.T) {
		user := ts.loginAs(t, "alice", nil)

		resp := ts.do(t, http.MethodGet, "/api/v1/auth/session", nil)
		session := decode[models.Session](t, resp)
		assert.Equal(t, user.ID, session.UserID)

		resp = ts.do(t, http.MethodPost, "/api/v1/auth/logout", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()

		// The invalidated token no longer authenticates.
		resp = ts.do(t, http.MethodGet, "/api/v1/auth/session", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		_ = resp.Body.Close()
		ts.token = ""
	})
}

func TestUserEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.loginAs(t, "admin", []string{"admin"})

	t.Run("create and fetch", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/users", api.CreateUserRequest{
			Username: "bob", Password: testPassword, Roles: []string{"operator"},
		})
		created := decode[models.User](t, resp)
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Empty(t, created.PasswordHash)

		resp = ts.do(t, http.MethodGet, "/api/v1/users/"+created.ID, nil)
		fetched := decode[models.User](t, resp)
		assert.Equal(t, "bob", fetched.Username)
	})

	t.Run("weak password rejected", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/users", api.CreateUserRequest{
			Username: "carol", Password: "short",
		})
		body := decode[api.ErrorResponse](t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "WEAK_PASSWORD", body.Error.Code)
	})

	t.Run("duplicate username conflicts", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/users", api.CreateUserRequest{
			Username: "bob", Password: testPassword,
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("unknown user 404", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/users/missing", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("enable MFA returns secret", func(t *testing.T) {
		user, err := ts.core.CreateUser(context.Background(), "dave", "", testPassword, nil)
		require.NoError(t, err)

		resp := ts.do(t, http.MethodPost, "/api/v1/users/"+user.ID+"/mfa", nil)
		body := decode[map[string]string](t, resp)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, body["secret"], 40)
	})
}

func TestAccessEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.loginAs(t, "admin", []string{"admin"})

	user, err := ts.core.CreateUser(context.Background(), "erin", "", testPassword, []string{"analyst"})
	require.NoError(t, err)

	resp := ts.do(t, http.MethodPut, "/api/v1/access/entries", api.SetEntryRequest{
		Resource:    "/reports/*",
		Permissions: []string{"read"},
		Roles:       []string{"analyst"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/api/v1/access/entries", nil)
	entries := decode[[]models.AccessControlEntry](t, resp)
	require.Len(t, entries, 1)

	resp = ts.do(t, http.MethodPost, "/api/v1/access/check", api.CheckAccessRequest{
		UserID: user.ID, Resource: "/reports/q3", Action: "read",
	})
	result := decode[map[string]bool](t, resp)
	assert.True(t, result["allowed"])

	resp = ts.do(t, http.MethodPost, "/api/v1/access/check", api.CheckAccessRequest{
		UserID: user.ID, Resource: "/reports/q3", Action: "delete",
	})
	result = decode[map[string]bool](t, resp)
	assert.False(t, result["allowed"])
}

func TestCryptoEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.loginAs(t, "admin", []string{"admin"})

	t.Run("encrypt decrypt round trip", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/crypto/encrypt", api.EncryptRequest{
			Data: []byte("secret payload"),
		})
		ct := decode[map[string][]byte](t, resp)
		require.NotEmpty(t, ct["data"])

		resp = ts.do(t, http.MethodPost, "/api/v1/crypto/decrypt", api.DecryptRequest{
			Data: ct["data"], IV: ct["iv"],
		})
		plain := decode[map[string][]byte](t, resp)
		assert.Equal(t, []byte("secret payload"), plain["data"])
	})

	t.Run("sign verify round trip", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/crypto/sign", api.SignRequest{Data: []byte("msg")})
		signed := decode[map[string][]byte](t, resp)
		require.NotEmpty(t, signed["signature"])

		resp = ts.do(t, http.MethodPost, "/api/v1/crypto/verify", api.VerifyRequest{
			Data: []byte("msg"), Signature: signed["signature"],
		})
		result := decode[map[string]bool](t, resp)
		assert.True(t, result["valid"])
	})

	t.Run("unknown key 404", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/crypto/encrypt", api.EncryptRequest{
			Data: []byte("x"), KeyID: "missing",
		})
		body := decode[api.ErrorResponse](t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "KEY_NOT_FOUND", body.Error.Code)
	})

	t.Run("rotate and list keys", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/crypto/keys/rotate", nil)
		rotated := decode[map[string][]string](t, resp)
		assert.Len(t, rotated["rotated"], 2)

		resp = ts.do(t, http.MethodGet, "/api/v1/crypto/keys", nil)
		keys := decode[[]models.EncryptionKey](t, resp)
		assert.Len(t, keys, 2)
	})
}

func TestPolicyEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.loginAs(t, "admin", []string{"admin"})

	resp := ts.do(t, http.MethodPost, "/api/v1/policies", api.CreatePolicyRequest{
		Name:        "Naming",
		Rules:       []models.PolicyRule{{Kind: models.RulePatternMatch, Pattern: "/srv/*"}},
		Enforcement: models.EnforcementBlocking,
		Active:      true,
	})
	created := decode[models.SecurityPolicy](t, resp)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/v1/policies/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/api/v1/policies/evaluate", api.EvaluatePolicyRequest{
		PolicyID: created.ID, Resource: "/srv/db",
	})
	result := decode[map[string]bool](t, resp)
	assert.True(t, result["passed"])

	resp = ts.do(t, http.MethodPost, "/api/v1/policies/evaluate", api.EvaluatePolicyRequest{
		PolicyID: created.ID, Resource: "/etc/passwd",
	})
	result = decode[map[string]bool](t, resp)
	assert.False(t, result["passed"])

	t.Run("invalid rule rejected", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/policies", api.CreatePolicyRequest{
			Name:  "Broken",
			Rules: []models.PolicyRule{{Kind: "regex"}},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	})
}

func TestAuditEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.loginAs(t, "admin", []string{"admin"})

	t.Run("recent includes the login", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/audit/recent?limit=5", nil)
		events := decode[[]models.SecurityEvent](t, resp)
		require.NotEmpty(t, events)
	})

	t.Run("query filters by type", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/audit?type=login", nil)
		body := decode[map[string]json.RawMessage](t, resp)
		var count int
		require.NoError(t, json.Unmarshal(body["count"], &count))
		assert.GreaterOrEqual(t, count, 1)
	})

	t.Run("bad since timestamp rejected", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/audit?since=yesterday", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	})

	t.Run("stats", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/audit/stats", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	})
}

func TestStatusAndMonitor(t *testing.T) {
	ts := newTestServer(t)
	ts.loginAs(t, "admin", []string{"admin"})

	resp := ts.do(t, http.MethodGet, "/api/v1/status", nil)
	status := decode[models.SecurityStatus](t, resp)
	assert.Equal(t, int64(1), status.ActiveUsers)

	resp = ts.do(t, http.MethodPost, "/api/v1/monitor/start", nil)
	result := decode[map[string]bool](t, resp)
	assert.True(t, result["monitoring"])

	resp = ts.do(t, http.MethodPost, "/api/v1/monitor/stop", nil)
	result = decode[map[string]bool](t, resp)
	assert.False(t, result["monitoring"])
}

func TestRateLimiting(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	c, err := core.New(cfg, core.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)

	router := api.NewRouter(&api.RouterConfig{
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		RateLimiter:      api.NewInMemoryRateLimiter(3, time.Minute),
		MiddlewareConfig: api.DefaultMiddlewareConfig(),
	}, c)

	ts := &testServer{server: httptest.NewServer(router), core: c}
	t.Cleanup(ts.server.Close)
	ts.loginAs(t, "admin", nil)

	var limited bool
	for i := 0; i < 5; i++ {
		resp := ts.do(t, http.MethodGet, "/api/v1/status", nil)
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			assert.NotEmpty(t, resp.Header.Get("Retry-After"))
		}
		_ = resp.Body.Close()
	}
	assert.True(t, limited)
}
