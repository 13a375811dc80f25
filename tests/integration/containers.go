// Package integration provides integration test infrastructure.
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgImage    = "postgres:16-alpine"
	pgDatabase = "aegis_test"
	pgUser     = "aegis"
	pgPassword = "aegis_test_password"
)

// PostgresContainer is a running throwaway Postgres instance.
type PostgresContainer struct {
	Container testcontainers.Container
	dsn       string
}

// ConnectionString returns the DSN for the containerized database.
func (p *PostgresContainer) ConnectionString() string {
	return p.dsn
}

// WithPostgres starts a Postgres container, runs fn against it, and
// tears the container down when the test finishes.
func WithPostgres(t *testing.T, fn func(t *testing.T, pg *PostgresContainer)) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(pgImage),
		postgres.WithDatabase(pgDatabase),
		postgres.WithUsername(pgUser),
		postgres.WithPassword(pgPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "resolve postgres connection string")

	fn(t, &PostgresContainer{Container: container, dsn: dsn})
}
