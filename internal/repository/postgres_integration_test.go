//go:build integration

package repository

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"portfolio-cms/internal/config"
	"portfolio-cms/internal/schema"
	"portfolio-cms/internal/store"
)

var (
	pgOnce sync.Once
	pgCfg  config.DatabaseConfig
	pgErr  error
)

func init() {
	extraBackends["postgres"] = postgresBackend
}

// startPostgres runs one container shared by every test in the package.
func startPostgres(ctx context.Context) (config.DatabaseConfig, error) {
	pgOnce.Do(func() {
		c, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("portfolio"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			pgErr = err
			return
		}
		host, err := c.Host(ctx)
		if err != nil {
			pgErr = err
			return
		}
		port, err := c.MappedPort(ctx, "5432/tcp")
		if err != nil {
			pgErr = err
			return
		}
		pgCfg = config.DatabaseConfig{
			Driver:   "postgres",
			Host:     host,
			Port:     port.Int(),
			User:     "test",
			Password: "test",
			Name:     "portfolio",
			PoolSize: 4,
		}
	})
	return pgCfg, pgErr
}

func postgresBackend(t *testing.T) Repository {
	t.Helper()
	if exec.Command("docker", "info").Run() != nil {
		t.Skip("Docker is not available, skipping postgres backend")
	}
	ctx := context.Background()
	cfg, err := startPostgres(ctx)
	require.NoError(t, err)

	s, err := store.New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = s.DB.ExecContext(ctx, "DROP SCHEMA public CASCADE; CREATE SCHEMA public")
	require.NoError(t, err)
	reg := schema.Default()
	require.NoError(t, store.NewMigrator(s).MigrateAll(ctx, reg))
	return NewSQL(s, reg)
}
