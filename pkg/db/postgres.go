package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds database connection pool settings.
// Sensible defaults are applied by DefaultConfig().
type Config struct {
	URI             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns production-ready pool settings.
// Override individual fields as needed.
func DefaultConfig(uri string) Config {
	return Config{
		URI:             uri,
		MaxConns:        10,
		MinConns:        2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Connect creates a PostgreSQL connection pool using the provided config
// and verifies connectivity with a ping.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URI: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// Executor is satisfied by *pgxpool.Pool and by pgxmock pools.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schema creates the workflows table. Nodes and edges are stored as jsonb
// documents so the canvas can evolve node config without migrations.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
		id          uuid PRIMARY KEY,
		name        text NOT NULL DEFAULT '',
		nodes       jsonb NOT NULL DEFAULT '[]'::jsonb,
		edges       jsonb NOT NULL DEFAULT '[]'::jsonb,
		created_at  timestamptz NOT NULL DEFAULT now(),
		modified_at timestamptz NOT NULL DEFAULT now(),
		deleted_at  timestamptz
	)`,
	`CREATE INDEX IF NOT EXISTS workflows_live_idx ON workflows (id) WHERE deleted_at IS NULL`,
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, db Executor) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
