package policy

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/aegis-project/aegis/pkg/errors"
	"github.com/aegis-project/aegis/pkg/models"
)

// validateRule rejects rules whose kind is unknown or whose parameters
// cannot be evaluated, so malformed policies fail at creation rather than
// at evaluation time.
func validateRule(rule models.PolicyRule) error {
	switch rule.Kind {
	case models.RuleMinLength:
		if rule.MinLength <= 0 {
			return fmt.Errorf("%w: rule %s requires a positive min_length", errors.ErrPolicyInvalid, rule.ID)
		}
	case models.RuleCharacterClasses:
		if !rule.RequireUpper && !rule.RequireLower && !rule.RequireDigit && !rule.RequireSpecial {
			return fmt.Errorf("%w: rule %s requires at least one character class", errors.ErrPolicyInvalid, rule.ID)
		}
	case models.RulePatternMatch:
		if _, err := compileGlob(rule.Pattern); err != nil {
			return fmt.Errorf("%w: rule %s pattern: %v", errors.ErrPolicyInvalid, rule.ID, err)
		}
	case models.RuleAttributeEquals:
		if rule.Attribute == "" {
			return fmt.Errorf("%w: rule %s requires an attribute name", errors.ErrPolicyInvalid, rule.ID)
		}
	case models.RuleTimeWindow:
		if rule.StartHour < 0 || rule.StartHour > 23 || rule.EndHour < 0 || rule.EndHour > 24 {
			return fmt.Errorf("%w: rule %s has an out-of-range hour", errors.ErrPolicyInvalid, rule.ID)
		}
	case models.RuleRoleMembership:
		if rule.Role == "" {
			return fmt.Errorf("%w: rule %s requires a role", errors.ErrPolicyInvalid, rule.ID)
		}
	default:
		return fmt.Errorf("%w: unknown rule kind %q", errors.ErrPolicyInvalid, rule.Kind)
	}
	return nil
}

// evalRule dispatches on the rule kind and returns whether the rule holds
// plus a short reason when it does not.
func evalRule(rule models.PolicyRule, in Context) (bool, string) {
	switch rule.Kind {
	case models.RuleMinLength:
		if len(in.Password) < rule.MinLength {
			return false, fmt.Sprintf("password shorter than %d characters", rule.MinLength)
		}
		return true, ""

	case models.RuleCharacterClasses:
		return evalCharacterClasses(rule, in.Password)

	case models.RulePatternMatch:
		re, err := compileGlob(rule.Pattern)
		if err != nil {
			return false, "invalid pattern"
		}
		if !re.MatchString(in.Resource) {
			return false, fmt.Sprintf("resource %q does not match %q", in.Resource, rule.Pattern)
		}
		return true, ""

	case models.RuleAttributeEquals:
		if in.Attributes[rule.Attribute] != rule.Value {
			return false, fmt.Sprintf("attribute %q mismatch", rule.Attribute)
		}
		return true, ""

	case models.RuleTimeWindow:
		if !hourInWindow(in.Time.Hour(), rule.StartHour, rule.EndHour) {
			return false, fmt.Sprintf("time outside window %02d:00-%02d:00", rule.StartHour, rule.EndHour)
		}
		return true, ""

	case models.RuleRoleMembership:
		for _, r := range in.Roles {
			if r == rule.Role {
				return true, ""
			}
		}
		return false, fmt.Sprintf("missing role %q", rule.Role)
	}

	// Unknown kinds are rejected at creation; treat defensively as failing.
	return false, fmt.Sprintf("unknown rule kind %q", rule.Kind)
}

func evalCharacterClasses(rule models.PolicyRule, password string) (bool, string) {
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	var missing []string
	if rule.RequireUpper && !hasUpper {
		missing = append(missing, "uppercase")
	}
	if rule.RequireLower && !hasLower {
		missing = append(missing, "lowercase")
	}
	if rule.RequireDigit && !hasDigit {
		missing = append(missing, "digit")
	}
	if rule.RequireSpecial && !hasSpecial {
		missing = append(missing, "special")
	}
	if len(missing) > 0 {
		return false, "password missing " + strings.Join(missing, ", ")
	}
	return true, ""
}

// hourInWindow reports whether hour falls inside [start, end). Windows that
// wrap midnight (start > end) are supported.
func hourInWindow(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// compileGlob translates an anchored glob pattern ('*' and '?') into a
// regular expression.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
