package access

import (
	"fmt"
	"net/netip"

	"github.com/aegis-project/aegis/pkg/errors"
	"github.com/aegis-project/aegis/pkg/models"
)

// validateCondition rejects conditions whose kind is unknown or whose
// parameters cannot be evaluated.
func validateCondition(cond models.AccessCondition) error {
	switch cond.Kind {
	case models.ConditionTimeWindow:
		if cond.StartHour < 0 || cond.StartHour > 23 || cond.EndHour < 0 || cond.EndHour > 24 {
			return fmt.Errorf("%w: time window condition has an out-of-range hour", errors.ErrInvalidInput)
		}
	case models.ConditionLocation, models.ConditionDevice:
		if len(cond.Allowed) == 0 {
			return fmt.Errorf("%w: %s condition requires an allow-list", errors.ErrInvalidInput, cond.Kind)
		}
	case models.ConditionNetwork:
		if len(cond.CIDRs) == 0 {
			return fmt.Errorf("%w: network condition requires at least one CIDR", errors.ErrInvalidInput)
		}
		for _, c := range cond.CIDRs {
			if _, err := netip.ParsePrefix(c); err != nil {
				return fmt.Errorf("%w: network condition CIDR %q: %v", errors.ErrInvalidInput, c, err)
			}
		}
	case models.ConditionAttribute:
		if cond.Attribute == "" {
			return fmt.Errorf("%w: attribute condition requires an attribute name", errors.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown condition kind %q", errors.ErrInvalidInput, cond.Kind)
	}
	return nil
}

// evalCondition evaluates a single condition against the user and request.
// Conditions on an entry are conjunctive; callers stop on the first failure.
func evalCondition(cond models.AccessCondition, user *models.User, req Request) (bool, string) {
	switch cond.Kind {
	case models.ConditionTimeWindow:
		if !hourInWindow(req.Time.Hour(), cond.StartHour, cond.EndHour) {
			return false, "outside_time_window"
		}
		return true, ""

	case models.ConditionLocation:
		if !contains(cond.Allowed, req.Location) {
			return false, "location_not_allowed"
		}
		return true, ""

	case models.ConditionDevice:
		if !contains(cond.Allowed, req.Device) {
			return false, "device_not_allowed"
		}
		return true, ""

	case models.ConditionNetwork:
		addr, err := netip.ParseAddr(req.IPAddress)
		if err != nil {
			return false, "unparseable_address"
		}
		for _, c := range cond.CIDRs {
			prefix, err := netip.ParsePrefix(c)
			if err != nil {
				continue
			}
			if prefix.Contains(addr) {
				return true, ""
			}
		}
		return false, "network_not_allowed"

	case models.ConditionAttribute:
		if req.Attributes[cond.Attribute] != cond.Value {
			return false, "attribute_mismatch"
		}
		return true, ""
	}

	return false, "unknown_condition"
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

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
