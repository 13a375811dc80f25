package postgres

import (
	"context"
	"fmt"
)

// Migration represents a database migration.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns all database migrations in order.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `CREATE TABLE IF NOT EXISTS users (
				id UUID PRIMARY KEY,
				username VARCHAR(255) NOT NULL UNIQUE,
				email VARCHAR(255),
				roles TEXT[] NOT NULL DEFAULT '{}',
				permissions TEXT[] NOT NULL DEFAULT '{}',
				password_hash TEXT NOT NULL,
				mfa_enabled BOOLEAN NOT NULL DEFAULT FALSE,
				mfa_secret TEXT,
				failed_attempts INT NOT NULL DEFAULT 0,
				locked BOOLEAN NOT NULL DEFAULT FALSE,
				locked_at TIMESTAMP,
				last_login TIMESTAMP,
				created_at TIMESTAMP NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP NOT NULL DEFAULT NOW()
			)`,
		},
		{
			Version:     2,
			Description: "Create sessions table",
			SQL: `CREATE TABLE IF NOT EXISTS sessions (
				id UUID PRIMARY KEY,
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				token VARCHAR(128) NOT NULL UNIQUE,
				refresh_token VARCHAR(128) NOT NULL,
				created_at TIMESTAMP NOT NULL,
				expires_at TIMESTAMP NOT NULL,
				last_activity TIMESTAMP NOT NULL,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				permissions TEXT[] NOT NULL DEFAULT '{}',
				ip_address VARCHAR(64),
				user_agent TEXT
			)`,
		},
		{
			Version:     3,
			Description: "Create security_events table",
			SQL: `CREATE TABLE IF NOT EXISTS security_events (
				id UUID PRIMARY KEY,
				event_type VARCHAR(50) NOT NULL,
				severity VARCHAR(20) NOT NULL,
				user_id VARCHAR(64),
				session_id VARCHAR(64),
				resource VARCHAR(512),
				action VARCHAR(128),
				result VARCHAR(20) NOT NULL,
				timestamp TIMESTAMP NOT NULL,
				details JSONB
			)`,
		},
		{
			Version:     4,
			Description: "Create security_events indexes",
			SQL: `CREATE INDEX IF NOT EXISTS idx_security_events_timestamp ON security_events(timestamp);
				  CREATE INDEX IF NOT EXISTS idx_security_events_event_type ON security_events(event_type);
				  CREATE INDEX IF NOT EXISTS idx_security_events_user ON security_events(user_id);
				  CREATE INDEX IF NOT EXISTS idx_security_events_result ON security_events(result)`,
		},
		{
			Version:     5,
			Description: "Create sessions indexes",
			SQL: `CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
				  CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
		},
		{
			Version:     6,
			Description: "Create migrations tracking table",
			SQL: `CREATE TABLE IF NOT EXISTS schema_migrations (
				version INT PRIMARY KEY,
				applied_at TIMESTAMP NOT NULL DEFAULT NOW()
			)`,
		},
	}
}

// CurrentVersion returns the highest applied schema version.
func (d *DB) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := d.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get current schema version: %w", err)
	}
	return version, nil
}
