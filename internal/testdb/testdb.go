// Package testdb provides a shared PostgreSQL test harness: a testcontainer
// by default, or an external CI database when CI_DATABASE_URL is set.
// Mirrors the teacher's test/database and test/util packages.
package testdb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/agentmesh/coordinator/pkg/config"
	"github.com/agentmesh/coordinator/pkg/database"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewClient creates a test database client, cleaned up automatically when
// the test ends. In CI (CI_DATABASE_URL set) it connects to an external
// PostgreSQL service; otherwise it spins up a testcontainer.
func NewClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	dbCfg := config.DatabaseConfig{
		User:            "test",
		Password:        "test",
		Database:        "test",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
		AcquireTimeout:  5 * time.Second,
	}

	if ciURL := os.Getenv("CI_DATABASE_URL"); ciURL != "" {
		t.Log("using external PostgreSQL from CI_DATABASE_URL")
		// CI_DATABASE_URL is a full DSN; host/port are baked in, so the
		// config struct above is only used for pool tuning.
		client, err := database.NewClientFromDSN(ctx, ciURL, dbCfg)
		require.NoError(t, err)
		t.Cleanup(client.Close)
		return client
	}

	t.Log("using testcontainers for PostgreSQL")
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbCfg.Database),
		postgres.WithUsername(dbCfg.User),
		postgres.WithPassword(dbCfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := database.NewClientFromDSN(ctx, connStr, dbCfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}
