package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-project/aegis/pkg/client"
	"github.com/aegis-project/aegis/pkg/models"
)

func TestLoginStoresToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			require.Equal(t, http.MethodPost, r.Method)
			var req client.LoginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "alice", req.Username)
			_ = json.NewEncoder(w).Encode(models.Session{ID: "sess-1", Token: "tok-123"})
		case "/api/v1/auth/session":
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(models.Session{ID: "sess-1"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := client.New(client.Config{BaseURL: srv.URL})

	session, err := c.Login(context.Background(), client.LoginRequest{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", session.ID)

	// Subsequent requests carry the session token.
	_, err = c.Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(client.ErrorResponse{
			Error: client.ErrorDetail{Code: "CONFLICT", Message: "username already exists"},
		})
	}))
	defer srv.Close()

	c := client.New(client.Config{BaseURL: srv.URL})

	_, err := c.CreateUser(context.Background(), client.CreateUserRequest{Username: "alice", Password: "pw"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")
	assert.Contains(t, err.Error(), "username already exists")
	assert.Contains(t, err.Error(), "409")
}

func TestErrorWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	c := client.New(client.Config{BaseURL: srv.URL})

	_, err := c.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream unavailable")
}

func TestCheckAccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/access/check", r.URL.Path)
		var req client.CheckAccessRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		allowed := req.Resource == "/reports/q3" && req.Action == "read"
		_ = json.NewEncoder(w).Encode(map[string]bool{"allowed": allowed})
	}))
	defer srv.Close()

	c := client.New(client.Config{BaseURL: srv.URL, Token: "tok"})

	ok, err := c.CheckAccess(context.Background(), client.CheckAccessRequest{
		UserID: "user-1", Resource: "/reports/q3", Action: "read",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.CheckAccess(context.Background(), client.CheckAccessRequest{
		UserID: "user-1", Resource: "/reports/q3", Action: "write",
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRotateKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/crypto/keys/rotate", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(map[string][]string{"rotated": {"master", "signing"}})
	}))
	defer srv.Close()

	c := client.New(client.Config{BaseURL: srv.URL, Token: "tok"})

	rotated, err := c.RotateKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"master", "signing"}, rotated)
}

func TestLogoutClearsToken(t *testing.T) {
	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := client.New(client.Config{BaseURL: srv.URL, Token: "tok"})

	require.NoError(t, c.Logout(context.Background()))
	require.NoError(t, c.StartMonitoring(context.Background()))

	require.Len(t, auths, 2)
	assert.Equal(t, "Bearer tok", auths[0])
	assert.Empty(t, auths[1])
}
