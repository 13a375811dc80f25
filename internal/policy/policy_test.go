package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-project/aegis/internal/audit"
	"github.com/aegis-project/aegis/internal/policy"
	"github.com/aegis-project/aegis/pkg/errors"
	"github.com/aegis-project/aegis/pkg/models"
)

func newEngine(t *testing.T) (*policy.Engine, *audit.Log) {
	t.Helper()
	log := audit.NewLog()
	return policy.NewEngine(log), log
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns IDs and defaults enforcement to advisory", func(t *testing.T) {
		engine, log := newEngine(t)

		pol, err := engine.Create(ctx, policy.CreateRequest{
			Name:   "Resource Naming",
			Rules:  []models.PolicyRule{{Kind: models.RulePatternMatch, Pattern: "/api/*"}},
			Active: true,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, pol.ID)
		assert.NotEmpty(t, pol.Rules[0].ID)
		assert.Equal(t, models.EnforcementAdvisory, pol.Enforcement)

		events := log.Recent(1)
		require.Len(t, events, 1)
		assert.Equal(t, models.EventPolicyCreate, events[0].Type)
	})

	t.Run("rejects empty name", func(t *testing.T) {
		engine, _ := newEngine(t)
		_, err := engine.Create(ctx, policy.CreateRequest{})
		assert.ErrorIs(t, err, errors.ErrInvalidInput)
	})

	t.Run("rejects unknown enforcement", func(t *testing.T) {
		engine, _ := newEngine(t)
		_, err := engine.Create(ctx, policy.CreateRequest{
			Name:        "bad",
			Enforcement: "mandatory",
		})
		assert.ErrorIs(t, err, errors.ErrPolicyInvalid)
	})

	t.Run("rejects malformed rules", func(t *testing.T) {
		engine, _ := newEngine(t)

		cases := []struct {
			name string
			rule models.PolicyRule
		}{
			{"zero min length", models.PolicyRule{Kind: models.RuleMinLength}},
			{"no character classes", models.PolicyRule{Kind: models.RuleCharacterClasses}},
			{"empty pattern", models.PolicyRule{Kind: models.RulePatternMatch}},
			{"missing attribute", models.PolicyRule{Kind: models.RuleAttributeEquals, Value: "x"}},
			{"hour out of range", models.PolicyRule{Kind: models.RuleTimeWindow, StartHour: 25}},
			{"missing role", models.PolicyRule{Kind: models.RuleRoleMembership}},
			{"unknown kind", models.PolicyRule{Kind: "regex"}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := engine.Create(ctx, policy.CreateRequest{
					Name:  "p-" + tc.name,
					Rules: []models.PolicyRule{tc.rule},
				})
				assert.ErrorIs(t, err, errors.ErrPolicyInvalid)
			})
		}
	})
}

func TestGetAndList(t *testing.T) {
	ctx := context.Background()
	engine, _ := newEngine(t)

	pol, err := engine.Create(ctx, policy.CreateRequest{Name: "Lookup", Active: true})
	require.NoError(t, err)

	t.Run("by ID", func(t *testing.T) {
		got, err := engine.Get(pol.ID)
		require.NoError(t, err)
		assert.Equal(t, "Lookup", got.Name)

		_, err = engine.Get("missing")
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("by name", func(t *testing.T) {
		got, err := engine.GetByName("Lookup")
		require.NoError(t, err)
		assert.Equal(t, pol.ID, got.ID)

		_, err = engine.GetByName("missing")
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("list", func(t *testing.T) {
		assert.Len(t, engine.List(), 1)
	})
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()

	passwordRules := []models.PolicyRule{
		{Kind: models.RuleMinLength, MinLength: 12},
		{Kind: models.RuleCharacterClasses, RequireUpper: true, RequireDigit: true},
	}

	t.Run("blocking policy fails on violation", func(t *testing.T) {
		engine, log := newEngine(t)
		pol, err := engine.Create(ctx, policy.CreateRequest{
			Name:        "Blocking",
			Rules:       passwordRules,
			Enforcement: models.EnforcementBlocking,
			Active:      true,
		})
		require.NoError(t, err)

		ok, err := engine.Evaluate(ctx, pol.ID, policy.Context{Password: "short"})
		require.NoError(t, err)
		assert.False(t, ok)

		// Both rules failed, both violations recorded as blocked.
		events := log.Query(audit.QueryParams{Type: models.EventPolicyViolation})
		require.Len(t, events, 2)
		for _, ev := range events {
			assert.Equal(t, models.ResultBlocked, ev.Result)
		}
	})

	t.Run("advisory policy passes but records violations", func(t *testing.T) {
		engine, log := newEngine(t)
		pol, err := engine.Create(ctx, policy.CreateRequest{
			Name:        "Advisory",
			Rules:       passwordRules,
			Enforcement: models.EnforcementAdvisory,
			Active:      true,
		})
		require.NoError(t, err)

		ok, err := engine.Evaluate(ctx, pol.ID, policy.Context{Password: "short"})
		require.NoError(t, err)
		assert.True(t, ok)

		events := log.Query(audit.QueryParams{Type: models.EventPolicyViolation})
		require.NotEmpty(t, events)
		assert.Equal(t, models.ResultFailure, events[0].Result)
	})

	t.Run("inactive policy always passes", func(t *testing.T) {
		engine, log := newEngine(t)
		pol, err := engine.Create(ctx, policy.CreateRequest{
			Name:        "Inactive",
			Rules:       passwordRules,
			Enforcement: models.EnforcementBlocking,
			Active:      false,
		})
		require.NoError(t, err)

		ok, err := engine.Evaluate(ctx, pol.ID, policy.Context{Password: "short"})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, log.Query(audit.QueryParams{Type: models.EventPolicyViolation}))
	})

	t.Run("compliant context passes", func(t *testing.T) {
		engine, _ := newEngine(t)
		pol, err := engine.Create(ctx, policy.CreateRequest{
			Name:        "Compliant",
			Rules:       passwordRules,
			Enforcement: models.EnforcementBlocking,
			Active:      true,
		})
		require.NoError(t, err)

		ok, err := engine.Evaluate(ctx, pol.ID, policy.Context{Password: "Str0ngEnoughPass"})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("unknown policy errors", func(t *testing.T) {
		engine, _ := newEngine(t)
		_, err := engine.Evaluate(ctx, "missing", policy.Context{})
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})
}

func TestEvaluateRuleKinds(t *testing.T) {
	ctx := context.Background()

	evaluate := func(t *testing.T, rule models.PolicyRule, in policy.Context) bool {
		t.Helper()
		engine, _ := newEngine(t)
		pol, err := engine.Create(ctx, policy.CreateRequest{
			Name:        "single-rule",
			Rules:       []models.PolicyRule{rule},
			Enforcement: models.EnforcementBlocking,
			Active:      true,
		})
		require.NoError(t, err)
		ok, err := engine.Evaluate(ctx, pol.ID, in)
		require.NoError(t, err)
		return ok
	}

	t.Run("pattern match glob", func(t *testing.T) {
		rule := models.PolicyRule{Kind: models.RulePatternMatch, Pattern: "/api/*/config"}
		assert.True(t, evaluate(t, rule, policy.Context{Resource: "/api/v1/config"}))
		assert.False(t, evaluate(t, rule, policy.Context{Resource: "/api/v1/users"}))
		// The glob is anchored at both ends.
		assert.False(t, evaluate(t, rule, policy.Context{Resource: "x/api/v1/config"}))
	})

	t.Run("attribute equals", func(t *testing.T) {
		rule := models.PolicyRule{Kind: models.RuleAttributeEquals, Attribute: "department", Value: "ops"}
		assert.True(t, evaluate(t, rule, policy.Context{Attributes: map[string]string{"department": "ops"}}))
		assert.False(t, evaluate(t, rule, policy.Context{Attributes: map[string]string{"department": "sales"}}))
		assert.False(t, evaluate(t, rule, policy.Context{}))
	})

	t.Run("time window", func(t *testing.T) {
		at := func(hour int) time.Time {
			return time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
		}
		rule := models.PolicyRule{Kind: models.RuleTimeWindow, StartHour: 9, EndHour: 17}
		assert.True(t, evaluate(t, rule, policy.Context{Time: at(9)}))
		assert.True(t, evaluate(t, rule, policy.Context{Time: at(16)}))
		assert.False(t, evaluate(t, rule, policy.Context{Time: at(17)}))
		assert.False(t, evaluate(t, rule, policy.Context{Time: at(3)}))
	})

	t.Run("time window wrapping midnight", func(t *testing.T) {
		at := func(hour int) time.Time {
			return time.Date(2026, 3, 10, hour, 0, 0, 0, time.UTC)
		}
		rule := models.PolicyRule{Kind: models.RuleTimeWindow, StartHour: 22, EndHour: 6}
		assert.True(t, evaluate(t, rule, policy.Context{Time: at(23)}))
		assert.True(t, evaluate(t, rule, policy.Context{Time: at(2)}))
		assert.False(t, evaluate(t, rule, policy.Context{Time: at(12)}))
	})

	t.Run("role membership", func(t *testing.T) {
		rule := models.PolicyRule{Kind: models.RuleRoleMembership, Role: "admin"}
		assert.True(t, evaluate(t, rule, policy.Context{Roles: []string{"user", "admin"}}))
		assert.False(t, evaluate(t, rule, policy.Context{Roles: []string{"user"}}))
	})
}

func TestPasswordRequirements(t *testing.T) {
	ctx := context.Background()

	t.Run("fallback when no policy exists", func(t *testing.T) {
		engine, _ := newEngine(t)
		req := engine.PasswordRequirements(policy.PasswordPolicyName, 8)
		assert.Equal(t, 8, req.MinLength)
		assert.Equal(t, models.EnforcementBlocking, req.Enforcement)
		assert.False(t, req.RequireUpper)
	})

	t.Run("extracts configured requirements", func(t *testing.T) {
		engine, _ := newEngine(t)
		_, err := engine.Create(ctx, policy.CreateRequest{
			Name: policy.PasswordPolicyName,
			Rules: []models.PolicyRule{
				{Kind: models.RuleMinLength, MinLength: 14},
				{Kind: models.RuleCharacterClasses, RequireUpper: true, RequireSpecial: true},
			},
			Enforcement: models.EnforcementAdvisory,
			Active:      true,
		})
		require.NoError(t, err)

		req := engine.PasswordRequirements(policy.PasswordPolicyName, 8)
		assert.Equal(t, 14, req.MinLength)
		assert.True(t, req.RequireUpper)
		assert.True(t, req.RequireSpecial)
		assert.False(t, req.RequireDigit)
		assert.Equal(t, models.EnforcementAdvisory, req.Enforcement)
	})

	t.Run("inactive policy falls back", func(t *testing.T) {
		engine, _ := newEngine(t)
		_, err := engine.Create(ctx, policy.CreateRequest{
			Name:   policy.PasswordPolicyName,
			Rules:  []models.PolicyRule{{Kind: models.RuleMinLength, MinLength: 20}},
			Active: false,
		})
		require.NoError(t, err)

		req := engine.PasswordRequirements(policy.PasswordPolicyName, 8)
		assert.Equal(t, 8, req.MinLength)
	})
}
