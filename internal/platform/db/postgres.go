package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Option tunes the pool configuration parsed from the DSN.
type Option func(*pgxpool.Config)

// WithApplicationName tags connections so pg_stat_activity shows which binary
// holds them. A name already present in the DSN wins.
func WithApplicationName(name string) Option {
	return func(cfg *pgxpool.Config) {
		if name == "" {
			return
		}
		if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; ok {
			return
		}
		cfg.ConnConfig.RuntimeParams["application_name"] = name
	}
}

// WithMaxConns caps the pool size. Non-positive values keep the pgx default.
func WithMaxConns(n int32) Option {
	return func(cfg *pgxpool.Config) {
		if n > 0 {
			cfg.MaxConns = n
		}
	}
}

func parseConfig(dsn string, opts ...Option) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/db: parse config: %w", err)
	}
	config.MaxConnIdleTime = 5 * time.Minute
	for _, opt := range opts {
		opt(config)
	}
	return config, nil
}

// New creates a PostgreSQL connection pool and checks it with a ping.
func New(ctx context.Context, dsn string, opts ...Option) (*pgxpool.Pool, error) {
	config, err := parseConfig(dsn, opts...)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("platform/db: new pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("platform/db: ping: %w", err)
	}

	return pool, nil
}
