// Package client provides an HTTP client for the Aegis API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aegis-project/aegis/pkg/models"
	"github.com/aegis-project/aegis/pkg/telemetry"
)

// Client is the Aegis API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// New creates a new Aegis API client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		token: cfg.Token,
	}
}

// SetToken sets the session token used for authenticated requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// request makes an HTTP request to the API.
func (c *Client) request(ctx context.Context, method, path string, body, result any) error {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("build URL: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	telemetry.InjectContext(ctx, req)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return fmt.Errorf("API error (%d) %s: %s", resp.StatusCode, errResp.Error.Code, errResp.Error.Message)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// User API

// CreateUserRequest represents a user creation request.
type CreateUserRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email,omitempty"`
	Password string   `json:"password"`
	Roles    []string `json:"roles,omitempty"`
}

// CreateUser creates a new user.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	var result models.User
	if err := c.request(ctx, http.MethodPost, "/api/v1/users", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetUser retrieves a user by ID.
func (c *Client) GetUser(ctx context.Context, id string) (*models.User, error) {
	var result models.User
	if err := c.request(ctx, http.MethodGet, "/api/v1/users/"+id, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// EnableMFA enables MFA for a user and returns the shared secret.
func (c *Client) EnableMFA(ctx context.Context, userID string) (string, error) {
	var result struct {
		Secret string `json:"secret"`
	}
	if err := c.request(ctx, http.MethodPost, "/api/v1/users/"+userID+"/mfa", nil, &result); err != nil {
		return "", err
	}
	return result.Secret, nil
}

// GrantPermission grants a direct permission to a user.
func (c *Client) GrantPermission(ctx context.Context, userID, permission string) error {
	body := map[string]string{"permission": permission}
	return c.request(ctx, http.MethodPost, "/api/v1/users/"+userID+"/permissions", body, nil)
}

// Auth API

// LoginRequest represents a login request.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	MFAToken string `json:"mfa_token,omitempty"`
}

// Login authenticates and stores the returned session token on the client.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*models.Session, error) {
	var result models.Session
	if err := c.request(ctx, http.MethodPost, "/api/v1/auth/login", req, &result); err != nil {
		return nil, err
	}
	c.token = result.Token
	return &result, nil
}

// Logout invalidates the current session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.request(ctx, http.MethodPost, "/api/v1/auth/logout", nil, nil); err != nil {
		return err
	}
	c.token = ""
	return nil
}

// Session returns the current session.
func (c *Client) Session(ctx context.Context) (*models.Session, error) {
	var result models.Session
	if err := c.request(ctx, http.MethodGet, "/api/v1/auth/session", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Access API

// CheckAccessRequest represents a permission check request.
type CheckAccessRequest struct {
	UserID     string            `json:"user_id"`
	Resource   string            `json:"resource"`
	Action     string            `json:"action"`
	Location   string            `json:"location,omitempty"`
	Device     string            `json:"device,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// CheckAccess resolves a permission check.
func (c *Client) CheckAccess(ctx context.Context, req CheckAccessRequest) (bool, error) {
	var result struct {
		Allowed bool `json:"allowed"`
	}
	if err := c.request(ctx, http.MethodPost, "/api/v1/access/check", req, &result); err != nil {
		return false, err
	}
	return result.Allowed, nil
}

// SetAccessEntryRequest represents an ACL entry upsert.
type SetAccessEntryRequest struct {
	Resource    string                   `json:"resource"`
	Permissions []string                 `json:"permissions"`
	Roles       []string                 `json:"roles"`
	Conditions  []models.AccessCondition `json:"conditions,omitempty"`
}

// SetAccessEntry stores or replaces an ACL entry.
func (c *Client) SetAccessEntry(ctx context.Context, req SetAccessEntryRequest) error {
	return c.request(ctx, http.MethodPut, "/api/v1/access/entries", req, nil)
}

// ListAccessEntries lists stored ACL entries.
func (c *Client) ListAccessEntries(ctx context.Context) ([]models.AccessControlEntry, error) {
	var result []models.AccessControlEntry
	if err := c.request(ctx, http.MethodGet, "/api/v1/access/entries", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Policy API

// CreatePolicyRequest represents a policy creation request.
type CreatePolicyRequest struct {
	Name        string                   `json:"name"`
	Level       string                   `json:"level,omitempty"`
	Rules       []models.PolicyRule      `json:"rules"`
	Enforcement models.PolicyEnforcement `json:"enforcement"`
	Active      bool                     `json:"active"`
}

// CreatePolicy creates a new security policy.
func (c *Client) CreatePolicy(ctx context.Context, req CreatePolicyRequest) (*models.SecurityPolicy, error) {
	var result models.SecurityPolicy
	if err := c.request(ctx, http.MethodPost, "/api/v1/policies", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPolicy retrieves a policy by ID.
func (c *Client) GetPolicy(ctx context.Context, id string) (*models.SecurityPolicy, error) {
	var result models.SecurityPolicy
	if err := c.request(ctx, http.MethodGet, "/api/v1/policies/"+id, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPolicies lists stored policies.
func (c *Client) ListPolicies(ctx context.Context) ([]*models.SecurityPolicy, error) {
	var result []*models.SecurityPolicy
	if err := c.request(ctx, http.MethodGet, "/api/v1/policies", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Status and audit API

// Status returns the security status summary.
func (c *Client) Status(ctx context.Context) (*models.SecurityStatus, error) {
	var result models.SecurityStatus
	if err := c.request(ctx, http.MethodGet, "/api/v1/status", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RecentEvents returns up to limit recent audit events.
func (c *Client) RecentEvents(ctx context.Context, limit int) ([]*models.SecurityEvent, error) {
	var result []*models.SecurityEvent
	path := fmt.Sprintf("/api/v1/audit/recent?limit=%d", limit)
	if err := c.request(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// StartMonitoring starts the background monitoring loops.
func (c *Client) StartMonitoring(ctx context.Context) error {
	return c.request(ctx, http.MethodPost, "/api/v1/monitor/start", nil, nil)
}

// StopMonitoring stops the background monitoring loops.
func (c *Client) StopMonitoring(ctx context.Context) error {
	return c.request(ctx, http.MethodPost, "/api/v1/monitor/stop", nil, nil)
}

// RotateKeys rotates all encryption keys.
func (c *Client) RotateKeys(ctx context.Context) ([]string, error) {
	var result struct {
		Rotated []string `json:"rotated"`
	}
	if err := c.request(ctx, http.MethodPost, "/api/v1/crypto/keys/rotate", nil, &result); err != nil {
		return nil, err
	}
	return result.Rotated, nil
}
