// Package database wires the coordinator to PostgreSQL: a pooled pgx
// connection, embedded schema migrations, and health reporting. pkg/lock
// pins individual *pgxpool.Conn values out of this pool for the lifetime of
// an advisory lock; pkg/store runs its CRUD SQL through the pool directly.
package database

import (
	stdsql "database/sql"
	"context"
	"fmt"

	"github.com/agentmesh/coordinator/pkg/config"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver, used only for migrations
)

// Client wraps a pgx connection pool and exposes the subset of operations
// the rest of the coordinator needs: pooled queries/execs, and connection
// pinning for advisory locks.
type Client struct {
	Pool *pgxpool.Pool
}

// NewClient opens a pooled connection to PostgreSQL, verifies connectivity,
// and applies any pending schema migrations.
func NewClient(ctx context.Context, cfg config.DatabaseConfig) (*Client, error) {
	return newClient(ctx, cfg.DSN(), cfg)
}

// NewClientFromDSN is like NewClient but takes a ready-made DSN/connection
// string (e.g. one produced by a testcontainer), used by internal/testdb.
func NewClientFromDSN(ctx context.Context, dsn string, cfg config.DatabaseConfig) (*Client, error) {
	return newClient(ctx, dsn, cfg)
}

func newClient(ctx context.Context, dsn string, cfg config.DatabaseConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// golang-migrate drives migrations over database/sql, so open a short-lived
	// *sql.DB on the same DSN purely for that purpose; it's closed immediately
	// after and never touches the pgxpool used at runtime.
	migrationDB, err := stdsql.Open("pgx", dsn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer func() { _ = migrationDB.Close() }()

	if err := runMigrations(ctx, migrationDB, cfg.Database); err != nil {
		pool.Close()
		return nil, err
	}

	return &Client{Pool: pool}, nil
}

// Close releases all pooled connections.
func (c *Client) Close() {
	c.Pool.Close()
}
