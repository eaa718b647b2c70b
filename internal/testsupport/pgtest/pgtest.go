//go:build integration

// Package pgtest starts a throwaway Postgres with the study log schema for integration tests.
package pgtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"example.com/studylog/db/postgres/migrations"
)

const (
	database = "studylog"
	startup  = time.Minute
)

// Start runs a Postgres container, applies every migration in order and returns a pool.
// The container and the pool are released when the test ends.
func Start(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	// Postgres logs readiness twice: once for the init run, once for the real server.
	ready := wait.ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(startup)

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase(database),
		postgrescontainer.WithUsername(database),
		postgrescontainer.WithPassword(database),
		testcontainers.WithWaitStrategy(ready),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Ping(ctx))

	Migrate(t, ctx, pool)
	return pool
}

// Migrate applies the embedded up migrations to pool.
func Migrate(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()

	scripts, err := migrations.Up()
	require.NoError(t, err)
	require.NotEmpty(t, scripts, "no migrations embedded")
	for i, script := range scripts {
		_, err := pool.Exec(ctx, script)
		require.NoErrorf(t, err, "migration %d", i+1)
	}
}
