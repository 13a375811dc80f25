// Package errors defines custom error types for Aegis.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error cases.
var (
	ErrNotFound             = errors.New("resource not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrConflict             = errors.New("resource conflict")
	ErrInternalError        = errors.New("internal error")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAccountLocked        = errors.New("account locked")
	ErrSessionInvalid       = errors.New("session invalid or expired")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrKeyNotFound          = errors.New("encryption key not found")
	ErrDecryptionFailed     = errors.New("decryption failed")
	ErrWeakPassword         = errors.New("password does not meet policy requirements")
	ErrPolicyInvalid        = errors.New("invalid policy")
	ErrPolicyViolation      = errors.New("policy violation")
	ErrMonitorRunning       = errors.New("monitor already running")
)

// ValidationError represents a validation error with field-specific details.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// CryptoError represents an error from a cryptographic operation.
type CryptoError struct {
	Operation string
	Cause     error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto operation '%s' failed: %v", e.Operation, e.Cause)
}

func (e *CryptoError) Unwrap() error {
	return e.Cause
}

// NewCryptoError creates a new crypto error.
func NewCryptoError(operation string, cause error) *CryptoError {
	return &CryptoError{Operation: operation, Cause: cause}
}

// PolicyError represents a policy evaluation failure.
type PolicyError struct {
	PolicyID string
	RuleID   string
	Reason   string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy '%s' rule '%s' failed: %s", e.PolicyID, e.RuleID, e.Reason)
}

// NewPolicyError creates a new policy error.
func NewPolicyError(policyID, ruleID, reason string) *PolicyError {
	return &PolicyError{PolicyID: policyID, RuleID: ruleID, Reason: reason}
}
