package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/odyssey-erp/odyssey-accounts/internal/platform/db/migrations"
)

// gooseUp is a seam for tests.
var gooseUp = func(ctx context.Context, provider *goose.Provider) error {
	_, err := provider.Up(ctx)
	return err
}

func newProvider(conn *sql.DB) (*goose.Provider, error) {
	provider, err := goose.NewProvider(goose.DialectPostgres, conn, migrations.FS)
	if err != nil {
		return nil, fmt.Errorf("platform/db: migration provider: %w", err)
	}
	return provider, nil
}

// Migrate applies all pending migrations using the pool's connection config.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	conn := stdlib.OpenDBFromPool(pool)
	defer conn.Close()

	provider, err := newProvider(conn)
	if err != nil {
		return err
	}
	if err := gooseUp(ctx, provider); err != nil {
		return fmt.Errorf("platform/db: migrate up: %w", err)
	}
	return nil
}

// MigrationStatus writes one line per known migration to out.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, out io.Writer) error {
	conn := stdlib.OpenDBFromPool(pool)
	defer conn.Close()

	provider, err := newProvider(conn)
	if err != nil {
		return err
	}
	statuses, err := provider.Status(ctx)
	if err != nil {
		return fmt.Errorf("platform/db: migration status: %w", err)
	}
	for _, st := range statuses {
		applied := "pending"
		if st.State == goose.StateApplied {
			applied = "applied " + st.AppliedAt.Format("2006-01-02 15:04:05")
		}
		if _, err := fmt.Fprintf(out, "%05d %-32s %s\n", st.Source.Version, st.Source.Path, applied); err != nil {
			return err
		}
	}
	return nil
}
