package store

import (
	"context"
	"testing"
	"time"

	"prompt-master/internal/db"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestGormStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testusername"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	t.Setenv("DATABASE_URL", connString)

	conn, err := db.Open(db.PoolConfig{MaxOpenConns: 16})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))

	runContract(t, func(t *testing.T) Store {
		require.NoError(t, conn.Exec("TRUNCATE events, round_submissions, participants, games RESTART IDENTITY CASCADE").Error)
		return NewGorm(conn)
	})
}
