package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/aegis-project/aegis/internal/audit"
	"github.com/aegis-project/aegis/pkg/errors"
	"github.com/aegis-project/aegis/pkg/models"
)

// UserRepository implements identity.UserStore over PostgreSQL.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, email, roles, permissions, password_hash,
	mfa_enabled, mfa_secret, failed_attempts, locked, locked_at, last_login,
	created_at, updated_at`

// Create persists a new user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		user.ID, user.Username, user.Email,
		pq.Array(user.Roles), pq.Array(user.Permissions), user.PasswordHash,
		user.MFAEnabled, user.MFASecret, user.FailedAttempts, user.Locked,
		nullTime(user.LockedAt), nullTime(user.LastLogin),
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("username %q: %w", user.Username, errors.ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, id string) (*models.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByUsername retrieves a user by username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// Update updates an existing user.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = $2, roles = $3, permissions = $4,
			password_hash = $5, mfa_enabled = $6, mfa_secret = $7,
			failed_attempts = $8, locked = $9, locked_at = $10,
			last_login = $11, updated_at = $12
		 WHERE id = $1`,
		user.ID, user.Email, pq.Array(user.Roles), pq.Array(user.Permissions),
		user.PasswordHash, user.MFAEnabled, user.MFASecret,
		user.FailedAttempts, user.Locked, nullTime(user.LockedAt),
		nullTime(user.LastLogin), user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// List returns all users.
func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*models.User
	for rows.Next() {
		user, err := r.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// Count returns the total number of users.
func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *UserRepository) scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var lockedAt, lastLogin sql.NullTime
	var mfaSecret sql.NullString

	err := row.Scan(
		&user.ID, &user.Username, &user.Email,
		pq.Array(&user.Roles), pq.Array(&user.Permissions), &user.PasswordHash,
		&user.MFAEnabled, &mfaSecret, &user.FailedAttempts, &user.Locked,
		&lockedAt, &lastLogin, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	user.MFASecret = mfaSecret.String
	if lockedAt.Valid {
		user.LockedAt = lockedAt.Time
	}
	if lastLogin.Valid {
		user.LastLogin = lastLogin.Time
	}
	return user, nil
}

// SessionRepository implements identity.SessionStore over PostgreSQL.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, user_id, token, refresh_token, created_at,
	expires_at, last_activity, active, permissions, ip_address, user_agent`

// Create persists a new session.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		session.ID, session.UserID, session.Token, session.RefreshToken,
		session.CreatedAt, session.ExpiresAt, session.LastActivity,
		session.Active, pq.Array(session.Permissions),
		session.IPAddress, session.UserAgent,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session token collision: %w", errors.ErrConflict)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (r *SessionRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	return r.scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// GetByToken retrieves a session by token.
func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	return r.scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE token = $1`, token))
}

// Update updates an existing session.
func (r *SessionRepository) Update(ctx context.Context, session *models.Session) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = $2, last_activity = $3, active = $4
		 WHERE id = $1`,
		session.ID, session.ExpiresAt, session.LastActivity, session.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// Delete removes a session.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// List returns all sessions.
func (r *SessionRepository) List(ctx context.Context) ([]*models.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		session, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// CountActive returns the number of active sessions.
func (r *SessionRepository) CountActive(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE active AND expires_at > NOW()`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

func (r *SessionRepository) scanSession(row rowScanner) (*models.Session, error) {
	session := &models.Session{}
	var ipAddress, userAgent sql.NullString

	err := row.Scan(
		&session.ID, &session.UserID, &session.Token, &session.RefreshToken,
		&session.CreatedAt, &session.ExpiresAt, &session.LastActivity,
		&session.Active, pq.Array(&session.Permissions),
		&ipAddress, &userAgent,
	)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	session.IPAddress = ipAddress.String
	session.UserAgent = userAgent.String
	return session, nil
}

// AuditArchiver implements audit.Archiver, durably persisting events that
// the bounded in-memory ring will eventually trim.
type AuditArchiver struct {
	db *DB
}

// NewAuditArchiver creates a new audit archiver.
func NewAuditArchiver(db *DB) *AuditArchiver {
	return &AuditArchiver{db: db}
}

// Archive persists a security event.
func (a *AuditArchiver) Archive(ctx context.Context, event *models.SecurityEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal event details: %w", err)
	}

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO security_events
			(id, event_type, severity, user_id, session_id, resource, action, result, timestamp, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.Type, event.Severity, event.UserID, event.SessionID,
		event.Resource, event.Action, event.Result, event.Timestamp, details,
	)
	if err != nil {
		return fmt.Errorf("failed to archive event: %w", err)
	}
	return nil
}

// Query returns archived events matching the criteria, oldest first.
func (a *AuditArchiver) Query(ctx context.Context, params audit.QueryParams) ([]*models.SecurityEvent, error) {
	query := `SELECT id, event_type, severity, user_id, session_id, resource,
		action, result, timestamp, details FROM security_events WHERE 1=1`
	var args []any

	if params.Type != "" {
		args = append(args, params.Type)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if params.UserID != "" {
		args = append(args, params.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if params.Result != "" {
		args = append(args, params.Result)
		query += fmt.Sprintf(" AND result = $%d", len(args))
	}
	if !params.Since.IsZero() {
		args = append(args, params.Since)
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if !params.Until.IsZero() {
		args = append(args, params.Until)
		query += fmt.Sprintf(" AND timestamp <= $%d", len(args))
	}
	query += " ORDER BY timestamp"
	if params.Limit > 0 {
		args = append(args, params.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if params.Offset > 0 {
		args = append(args, params.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*models.SecurityEvent
	for rows.Next() {
		event := &models.SecurityEvent{}
		var details []byte
		err := rows.Scan(
			&event.ID, &event.Type, &event.Severity, &event.UserID,
			&event.SessionID, &event.Resource, &event.Action, &event.Result,
			&event.Timestamp, &details,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event details: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == "23505"
}
