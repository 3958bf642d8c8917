package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig is the resolved connection descriptor the pool is built from.
// Callers construct it explicitly (typically from the config package); the
// storage layer never reads files or environment variables itself.
type PoolConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	Schema       string
	PoolSize     int
	PoolOverflow int
}

// Pool is a schema-scoped Postgres connection pool. Every connection it
// hands out has its search_path pinned to the configured schema.
type Pool struct {
	inner  *pgxpool.Pool
	schema string
}

// closeGraceAttempts bounds how long Close waits for checked-out
// connections before disposing the pool.
const closeGraceAttempts = 5

// NewPool opens a connection pool for the given descriptor and verifies it
// with a ping. Acquisition failures after this point propagate to callers;
// retry is a store-layer concern.
func NewPool(ctx context.Context, cfg PoolConfig) (*Pool, error) {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 15
	}
	if cfg.PoolOverflow <= 0 {
		cfg.PoolOverflow = 3
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database)
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.PoolSize + cfg.PoolOverflow)
	poolCfg.ConnConfig.RuntimeParams["search_path"] = cfg.Schema + ",public"

	inner, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := inner.Ping(ctx); err != nil {
		inner.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	slog.Info("postgres pool initialized",
		"host", cfg.Host,
		"database", cfg.Database,
		"schema", cfg.Schema,
		"max_conns", poolCfg.MaxConns,
	)
	return &Pool{inner: inner, schema: cfg.Schema}, nil
}

// Acquire borrows a connection from the pool.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := p.inner.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return conn, nil
}

// Schema returns the schema the pool is scoped to.
func (p *Pool) Schema() string { return p.schema }

// Ping round-trips the server to verify connectivity.
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.inner.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// TableName returns the fully-qualified name for a table in the pool's
// schema.
func (p *Pool) TableName(table string) string {
	return p.schema + "." + table
}

// Close releases all pooled resources. It waits a bounded grace period for
// in-flight checkouts, warns about stragglers, and then disposes the pool.
func (p *Pool) Close() {
	slog.Info("stopping postgres pool")
	for attempt := 1; attempt <= closeGraceAttempts; attempt++ {
		acquired := p.inner.Stat().AcquiredConns()
		if acquired == 0 {
			break
		}
		slog.Info("waiting for connections to release",
			"acquired", acquired,
			"attempt", attempt,
			"max_attempts", closeGraceAttempts,
		)
		time.Sleep(time.Second)
	}
	if remaining := p.inner.Stat().AcquiredConns(); remaining > 0 {
		slog.Warn("connections still checked out after grace period", "remaining", remaining)
	}
	p.inner.Close()
	slog.Info("postgres pool stopped")
}
