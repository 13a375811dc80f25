package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aegis-project/aegis/internal/access"
	"github.com/aegis-project/aegis/internal/audit"
	"github.com/aegis-project/aegis/internal/crypto"
	"github.com/aegis-project/aegis/internal/identity"
	"github.com/aegis-project/aegis/internal/policy"
	apierrors "github.com/aegis-project/aegis/pkg/errors"
	"github.com/aegis-project/aegis/pkg/models"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON reads and validates JSON request body.
func readJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		return err
	}
	defer func() { _ = r.Body.Close() }()
	return json.Unmarshal(body, v)
}

// handleError writes the error response matching the error type.
func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apierrors.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, apierrors.ErrAuthenticationFailed):
		writeJSONError(w, http.StatusUnauthorized, "AUTHENTICATION_FAILED", "authentication failed")
	case errors.Is(err, apierrors.ErrAccountLocked):
		writeJSONError(w, http.StatusForbidden, "ACCOUNT_LOCKED", "account is locked")
	case errors.Is(err, apierrors.ErrSessionInvalid):
		writeJSONError(w, http.StatusUnauthorized, "SESSION_INVALID", "session is invalid or expired")
	case errors.Is(err, apierrors.ErrPermissionDenied):
		writeJSONError(w, http.StatusForbidden, "PERMISSION_DENIED", err.Error())
	case errors.Is(err, apierrors.ErrWeakPassword):
		writeJSONError(w, http.StatusBadRequest, "WEAK_PASSWORD", err.Error())
	case errors.Is(err, apierrors.ErrInvalidInput):
		writeJSONError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, apierrors.ErrConflict):
		writeJSONError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, apierrors.ErrPolicyViolation):
		writeJSONError(w, http.StatusForbidden, "POLICY_VIOLATION", err.Error())
	case errors.Is(err, apierrors.ErrKeyNotFound):
		writeJSONError(w, http.StatusNotFound, "KEY_NOT_FOUND", err.Error())
	case errors.Is(err, apierrors.ErrDecryptionFailed):
		writeJSONError(w, http.StatusBadRequest, "DECRYPTION_FAILED", "decryption failed")
	default:
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// getPaginationParams extracts limit and offset from query params.
func getPaginationParams(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return
}

// UserHandler handles user API requests.
type UserHandler struct {
	service SecurityService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(service SecurityService) *UserHandler {
	return &UserHandler{service: service}
}

// CreateUserRequest represents a user creation request.
type CreateUserRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

// Create handles POST /api/v1/users.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := readJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if req.Username == "" {
		writeJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "username is required")
		return
	}

	user, err := h.service.CreateUser(r.Context(), req.Username, req.Email, req.Password, req.Roles)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Get handles GET /api/v1/users/{id}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// EnableMFA handles POST /api/v1/users/{id}/mfa.
func (h *UserHandler) EnableMFA(w http.ResponseWriter, r *http.Request) {
	secret, err := h.service.EnableMFA(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

// GrantPermissionRequest represents a direct permission grant.
type GrantPermissionRequest struct {
	Permission string `json:"permission"`
}

// GrantPermission handles POST /api/v1/users/{id}/permissions.
func (h *UserHandler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	var req GrantPermissionRequest
	if err := readJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if req.Permission == "" {
		writeJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "permission is required")
		return
	}

	if err := h.service.GrantPermission(r.Context(), chi.URLParam(r, "id"), req.Permission); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "granted"})
}

// AuthHandler handles authentication API requests.
type AuthHandler struct {
	service SecurityService
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(service SecurityService) *AuthHandler {
	return &AuthHandler{service: service}
}

// LoginRequest represents a login request.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	MFAToken string `json:"mfa_token,omitempty"`
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := readJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	session, err := h.service.Authenticate(r.Context(), req.Username, req.Password, identity.LoginAttempt{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		MFAToken:  req.MFAToken,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session, ok := r.Context().Value(ContextKeySession).(*models.Session)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "SESSION_INVALID", "no active session")
		return
	}
	if err := h.service.InvalidateSession(r.Context(), session.ID); err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Session handles GET /api/v1/auth/session.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	session, ok := r.Context().Value(ContextKeySession).(*models.Session)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "SESSION_INVALID", "no active session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// AccessHandler handles access control API requests.
type AccessHandler struct {
	service SecurityService
}

// NewAccessHandler creates a new access handler.
func NewAccessHandler(service SecurityService) *AccessHandler {
	return &AccessHandler{service: service}
}

// CheckAccessRequest represents a permission check request.
type CheckAccessRequest struct {
	UserID     string            `json:"user_id"`
	Resource   string            `json:"resource"`
	Action     string            `json:"action"`
	Location   string            `json:"location,omitempty"`
	Device     string            `json:"device,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Check handles POST /api/v1/access/check.
func (h *AccessHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckAccessRequest
	if err := readJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	allowed, err := h.service.CheckPermission(r.Context(), req.UserID, req.Resource, req.Action, access.Request{
		Time:       time.Now(),
		IPAddress:  r.RemoteAddr,
		Location:   req.Location,
		Device:     req.Device,
		Attributes: req.Attributes,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

// SetEntryRequest represents an ACL entry upsert.
type SetEntryRequest struct {
	Resource    string                   `json:"resource"`
	Permissions []string                 `json:"permissions"`
	Roles       []string                 `json:"roles"`
	Conditions  []models.AccessCondition `json:"conditions,omitempty"`
}

// SetEntry handles PUT /api/v1/access/entries.
func (h *AccessHandler) SetEntry(w http.ResponseWriter, r *http.Request) {
	var req SetEntryRequest
	if err := readJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if req.Resource == "" {
		writeJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "resource is required")
		return
	}

	err := h.service.SetAccessControl(req.Resource, models.AccessControlEntry{
		Permissions: req.Permissions,
		Roles:       req.Roles,
		Conditions:  req.Conditions,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

// ListEntries handles GET /api/v1/access/entries.
func (h *AccessHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.AccessControlEntries())
}

// CryptoHandler handles crypto API requests.
type CryptoHandler struct {
	service SecurityService
}

// NewCryptoHandler creates a new crypto handler.
func NewCryptoHandler(service SecurityService) *CryptoHandler {
	return &CryptoHandler{service: service}
}

// EncryptRequest represents an encryption request.
type EncryptRequest struct {
	Data  []byte `json:"data"`
	KeyID string `json:"key_id,omitempty"`
}

// Encrypt handles POST /api/v1/crypto/encrypt.
func (h *CryptoHandler) Encrypt(w http.ResponseWriter, r *http.Request) {
	var req EncryptRequest
	if err := readJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	ct, err := h.service.Encrypt(req.Data, req.KeyID)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ct)
}

// DecryptRequest represents a decryption request.
type DecryptRequest struct {
	Data  []byte `json:"data"`
	IV    []byte `json:"iv"`
	KeyID string `json:"key_id,omitempty"`
}

// Decrypt handles POST /api/v1/crypto/decrypt.
func (h *CryptoHandler) Decrypt(w http.ResponseWriter, r *http.Request) {
	var req DecryptRequest
	if err := readJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	plaintext, err := h.service.Decrypt(&crypto.Ciphertext{Data: req.Data, IV: req.IV}, req.KeyID)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]byte{"data": plaintext})
}

// SignRequest represents a signing request.
type SignRequest struct {
	Data  []byte `json:"data"`
	KeyID string `json:"key_id,omitempty"`
}

// Sign handles POST /api/v1/crypto/sign.
func (h *CryptoHandler) Sign(w http.ResponseWriter, r *http.Request) {
	var req SignRequest
	if err := readJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	signature, err := h.service.Sign(req.Data, req.KeyID)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]byte{"signature": signature})
}

// VerifyRequest represents a signature verification request.
type VerifyRequest struct {
	Data      []byte `json:"data"`
	Signature []byte `json:"signature"`
	KeyID     string `json:"key_id,omitempty"`
}

// Verify handles POST /api/v1/crypto/verify.
func (h *CryptoHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := readJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	valid, err := h.service.VerifySignature(req.Data, req.Signature, req.KeyID)
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

// RotateKeys handles POST /api/v1/crypto/keys/rotate.
func (h *CryptoHandler) RotateKeys(w http.ResponseWriter, r *http.Request) {
	rotated, err := h.service.RotateKeys(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rotated": rotated})
}

// ListKeys handles GET /api/v1/crypto/keys.
func (h *CryptoHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Keys())
}

// PolicyHandler handles policy API requests.
type PolicyHandler struct {
	service SecurityService
}

// NewPolicyHandler creates a new policy handler.
func NewPolicyHandler(service SecurityService) *PolicyHandler {
	return &PolicyHandler{service: service}
}

// CreatePolicyRequest represents a policy creation request.
type CreatePolicyRequest struct {
	Name        string                   `json:"name"`
	Level       string                   `json:"level"`
	Rules       []models.PolicyRule      `json:"rules"`
	Enforcement models.PolicyEnforcement `json:"enforcement"`
	Active      bool                     `json:"active"`
}

// Create handles POST /api/v1/policies.
func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if err := readJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	pol, err := h.service.CreatePolicy(r.Context(), policy.CreateRequest{
		Name:        req.Name,
		Level:       req.Level,
		Rules:       req.Rules,
		Enforcement: req.Enforcement,
		Active:      req.Active,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pol)
}

// Get handles GET /api/v1/policies/{id}.
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	pol, err := h.service.GetPolicy(chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pol)
}

// List handles GET /api/v1/policies.
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.ListPolicies())
}

// EvaluatePolicyRequest represents a policy evaluation request.
type EvaluatePolicyRequest struct {
	PolicyID   string            `json:"policy_id"`
	Password   string            `json:"password,omitempty"`
	Resource   string            `json:"resource,omitempty"`
	Action     string            `json:"action,omitempty"`
	Roles      []string          `json:"roles,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Evaluate handles POST /api/v1/policies/evaluate.
func (h *PolicyHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluatePolicyRequest
	if err := readJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	passed, err := h.service.EvaluatePolicy(r.Context(), req.PolicyID, policy.Context{
		Password:   req.Password,
		Resource:   req.Resource,
		Action:     req.Action,
		Roles:      req.Roles,
		Attributes: req.Attributes,
		Time:       time.Now(),
	})
	if err != nil {
		handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"passed": passed})
}

// AuditHandler handles audit API requests.
type AuditHandler struct {
	service SecurityService
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(service SecurityService) *AuditHandler {
	return &AuditHandler{service: service}
}

// Query handles GET /api/v1/audit.
func (h *AuditHandler) Query(w http.ResponseWriter, r *http.Request) {
	limit, offset := getPaginationParams(r)
	params := audit.QueryParams{
		Type:   models.EventType(r.URL.Query().Get("type")),
		UserID: r.URL.Query().Get("user_id"),
		Result: models.EventResult(r.URL.Query().Get("result")),
		Limit:  limit,
		Offset: offset,
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid since timestamp")
			return
		}
		params.Since = t
	}

	events := h.service.QueryEvents(params)
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// Recent handles GET /api/v1/audit/recent.
func (h *AuditHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, _ := getPaginationParams(r)
	writeJSON(w, http.StatusOK, h.service.Events(limit))
}

// GetStats handles GET /api/v1/audit/stats.
func (h *AuditHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid since timestamp")
			return
		}
		since = t
	}
	writeJSON(w, http.StatusOK, h.service.AuditStats(since))
}

// MonitorHandler handles monitoring API requests.
type MonitorHandler struct {
	service SecurityService
}

// NewMonitorHandler creates a new monitor handler.
func NewMonitorHandler(service SecurityService) *MonitorHandler {
	return &MonitorHandler{service: service}
}

// Status handles GET /api/v1/status.
func (h *MonitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status(r.Context()))
}

// Start handles POST /api/v1/monitor/start.
func (h *MonitorHandler) Start(w http.ResponseWriter, r *http.Request) {
	// The loops must outlive this request.
	h.service.StartMonitoring(context.Background())
	writeJSON(w, http.StatusOK, map[string]bool{"monitoring": true})
}

// Stop handles POST /api/v1/monitor/stop.
func (h *MonitorHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.service.StopMonitoring()
	writeJSON(w, http.StatusOK, map[string]bool{"monitoring": false})
}
