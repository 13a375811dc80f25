// Package access resolves whether a principal may perform an action on a
// resource through direct permissions, role-bound ACL entries and
// contextual conditions.
package access

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aegis-project/aegis/internal/audit"
	"github.com/aegis-project/aegis/pkg/errors"
	"github.com/aegis-project/aegis/pkg/models"
)

// UserDirectory resolves principals for permission checks.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Request carries the contextual attributes ACL conditions evaluate against.
type Request struct {
	Time       time.Time
	IPAddress  string
	Location   string
	Device     string
	Attributes map[string]string
}

type compiledEntry struct {
	entry   models.AccessControlEntry
	pattern *regexp.Regexp
}

// Evaluator stores ACL entries keyed by resource pattern and answers
// permission checks.
type Evaluator struct {
	mu      sync.RWMutex
	entries map[string]*compiledEntry
	order   []string
	users   UserDirectory
	audit   audit.Recorder
}

// NewEvaluator creates an evaluator backed by the given user directory.
func NewEvaluator(users UserDirectory, recorder audit.Recorder) *Evaluator {
	return &Evaluator{
		entries: make(map[string]*compiledEntry),
		users:   users,
		audit:   recorder,
	}
}

// SetEntry stores or replaces the ACL entry for a resource pattern. The
// pattern must compile; last write wins per resource string.
func (e *Evaluator) SetEntry(resource string, entry models.AccessControlEntry) error {
	re, err := compileGlob(resource)
	if err != nil {
		return fmt.Errorf("%w: resource pattern %q: %v", errors.ErrInvalidInput, resource, err)
	}
	for _, cond := range entry.Conditions {
		if err := validateCondition(cond); err != nil {
			return err
		}
	}

	entry.Resource = resource
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	e.mu.Lock()
	if _, exists := e.entries[resource]; !exists {
		e.order = append(e.order, resource)
	}
	e.entries[resource] = &compiledEntry{entry: entry, pattern: re}
	e.mu.Unlock()
	return nil
}

// Entries returns the stored ACL entries in insertion order.
func (e *Evaluator) Entries() []models.AccessControlEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.AccessControlEntry, 0, len(e.order))
	for _, res := range e.order {
		out = append(out, e.entries[res].entry)
	}
	return out
}

// Check resolves a permission request. First match wins: direct user
// permissions, then role-bound entries in insertion order. A denial always
// records an access.denied event.
func (e *Evaluator) Check(ctx context.Context, userID, resource, action string, req Request) (bool, error) {
	user, err := e.users.GetUser(ctx, userID)
	if err != nil {
		e.deny(ctx, userID, resource, action, "user_not_found")
		return false, nil
	}
	if req.Time.IsZero() {
		req.Time = time.Now()
	}

	// Direct permissions take precedence over any ACL entry.
	direct := resource + ":" + action
	for _, perm := range user.Permissions {
		if perm == "*" || perm == direct {
			return true, nil
		}
	}

	entry := e.firstMatch(user, resource)
	if entry == nil {
		e.deny(ctx, userID, resource, action, "no_matching_entry")
		return false, nil
	}

	if !actionAllowed(entry.entry.Permissions, action) {
		e.deny(ctx, userID, resource, action, "action_not_permitted")
		return false, nil
	}

	for _, cond := range entry.entry.Conditions {
		ok, reason := evalCondition(cond, user, req)
		if !ok {
			e.deny(ctx, userID, resource, action, reason)
			return false, nil
		}
	}

	return true, nil
}

// firstMatch returns the first stored entry whose roles intersect the
// user's roles and whose pattern matches the resource.
func (e *Evaluator) firstMatch(user *models.User, resource string) *compiledEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, res := range e.order {
		ce := e.entries[res]
		if !ce.pattern.MatchString(resource) {
			continue
		}
		for _, role := range ce.entry.Roles {
			if user.HasRole(role) {
				return ce
			}
		}
	}
	return nil
}

func (e *Evaluator) deny(ctx context.Context, userID, resource, action, reason string) {
	if e.audit == nil {
		return
	}
	e.audit.Record(ctx, &models.SecurityEvent{
		Type:     models.EventAccessDenied,
		Severity: models.SeverityMedium,
		UserID:   userID,
		Resource: resource,
		Action:   action,
		Result:   models.ResultBlocked,
		Details:  map[string]any{"reason": reason},
	})
}

func actionAllowed(permissions []string, action string) bool {
	for _, p := range permissions {
		if p == "*" || p == action {
			return true
		}
	}
	return false
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
