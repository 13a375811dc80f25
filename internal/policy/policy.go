// Package policy implements the rule-based security policy engine.
package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-project/aegis/internal/audit"
	"github.com/aegis-project/aegis/pkg/errors"
	"github.com/aegis-project/aegis/pkg/models"
)

// PasswordPolicyName is the conventional name of the policy the identity
// manager consults for password requirements.
const PasswordPolicyName = "Password Policy"

// CreateRequest describes a policy to create.
type CreateRequest struct {
	Name        string
	Level       string
	Rules       []models.PolicyRule
	Enforcement models.PolicyEnforcement
	Active      bool
}

// Context is the request context a policy is evaluated against.
type Context struct {
	Password   string
	Resource   string
	Action     string
	Roles      []string
	Attributes map[string]string
	Time       time.Time
}

// Engine stores named policies and evaluates their ordered rule sets.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*models.SecurityPolicy
	byName   map[string]string
	audit    audit.Recorder
}

// NewEngine creates a policy engine that reports violations to the recorder.
func NewEngine(recorder audit.Recorder) *Engine {
	return &Engine{
		policies: make(map[string]*models.SecurityPolicy),
		byName:   make(map[string]string),
		audit:    recorder,
	}
}

// Create validates and stores a policy with a generated ID. The rule list is
// immutable after creation.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*models.SecurityPolicy, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: policy name is required", errors.ErrInvalidInput)
	}
	switch req.Enforcement {
	case models.EnforcementAdvisory, models.EnforcementBlocking:
	case "":
		req.Enforcement = models.EnforcementAdvisory
	default:
		return nil, fmt.Errorf("%w: unknown enforcement %q", errors.ErrPolicyInvalid, req.Enforcement)
	}

	rules := make([]models.PolicyRule, len(req.Rules))
	for i, rule := range req.Rules {
		if rule.ID == "" {
			rule.ID = uuid.New().String()
		}
		if err := validateRule(rule); err != nil {
			return nil, err
		}
		rules[i] = rule
	}

	pol := &models.SecurityPolicy{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Level:       req.Level,
		Rules:       rules,
		Enforcement: req.Enforcement,
		Active:      req.Active,
		CreatedAt:   time.Now(),
	}

	e.mu.Lock()
	e.policies[pol.ID] = pol
	e.byName[pol.Name] = pol.ID
	e.mu.Unlock()

	if e.audit != nil {
		e.audit.Record(ctx, &models.SecurityEvent{
			Type:     models.EventPolicyCreate,
			Severity: models.SeverityInfo,
			Result:   models.ResultSuccess,
			Details: map[string]any{
				"policy_id":   pol.ID,
				"policy_name": pol.Name,
				"enforcement": string(pol.Enforcement),
				"rule_count":  len(pol.Rules),
			},
		})
	}

	return pol, nil
}

// Get retrieves a policy by ID.
func (e *Engine) Get(id string) (*models.SecurityPolicy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pol, ok := e.policies[id]
	if !ok {
		return nil, fmt.Errorf("policy %q: %w", id, errors.ErrNotFound)
	}
	return pol, nil
}

// GetByName retrieves a policy by its unique name.
func (e *Engine) GetByName(name string) (*models.SecurityPolicy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	id, ok := e.byName[name]
	if !ok {
		return nil, fmt.Errorf("policy %q: %w", name, errors.ErrNotFound)
	}
	return e.policies[id], nil
}

// List returns all stored policies.
func (e *Engine) List() []*models.SecurityPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*models.SecurityPolicy, 0, len(e.policies))
	for _, p := range e.policies {
		out = append(out, p)
	}
	return out
}

// Evaluate runs every rule of the policy, in order, against the context.
// All rules are evaluated and each failure is recorded; the result is false
// only when the policy is blocking and at least one rule failed. Inactive
// policies always evaluate to true.
func (e *Engine) Evaluate(ctx context.Context, policyID string, in Context) (bool, error) {
	pol, err := e.Get(policyID)
	if err != nil {
		return false, err
	}
	if !pol.Active {
		return true, nil
	}
	if in.Time.IsZero() {
		in.Time = time.Now()
	}

	passed := true
	for _, rule := range pol.Rules {
		ok, reason := evalRule(rule, in)
		if ok {
			continue
		}
		e.recordViolation(ctx, pol, rule, reason)
		if pol.Enforcement == models.EnforcementBlocking {
			passed = false
		}
	}
	return passed, nil
}

// PasswordRequirements describes the password rules extracted from a policy.
type PasswordRequirements struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
	Enforcement    models.PolicyEnforcement
}

// PasswordRequirements extracts password constraints from the active policy
// with the given name. Absent a configured policy the fallback minimum
// length applies.
func (e *Engine) PasswordRequirements(name string, fallbackMinLength int) PasswordRequirements {
	req := PasswordRequirements{
		MinLength:   fallbackMinLength,
		Enforcement: models.EnforcementBlocking,
	}

	pol, err := e.GetByName(name)
	if err != nil || !pol.Active {
		return req
	}

	req.Enforcement = pol.Enforcement
	for _, rule := range pol.Rules {
		switch rule.Kind {
		case models.RuleMinLength:
			if rule.MinLength > 0 {
				req.MinLength = rule.MinLength
			}
		case models.RuleCharacterClasses:
			req.RequireUpper = req.RequireUpper || rule.RequireUpper
			req.RequireLower = req.RequireLower || rule.RequireLower
			req.RequireDigit = req.RequireDigit || rule.RequireDigit
			req.RequireSpecial = req.RequireSpecial || rule.RequireSpecial
			if rule.MinLength > req.MinLength {
				req.MinLength = rule.MinLength
			}
		}
	}
	return req
}

func (e *Engine) recordViolation(ctx context.Context, pol *models.SecurityPolicy, rule models.PolicyRule, reason string) {
	if e.audit == nil {
		return
	}
	result := models.ResultFailure
	if pol.Enforcement == models.EnforcementBlocking {
		result = models.ResultBlocked
	}
	e.audit.Record(ctx, &models.SecurityEvent{
		Type:     models.EventPolicyViolation,
		Severity: models.SeverityMedium,
		Result:   result,
		Details: map[string]any{
			"policy_id":   pol.ID,
			"policy_name": pol.Name,
			"rule_id":     rule.ID,
			"rule_kind":   string(rule.Kind),
			"reason":      reason,
			"enforcement": string(pol.Enforcement),
		},
	})
}
