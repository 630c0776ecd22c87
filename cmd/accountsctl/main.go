package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-accounts/cmd/accountsctl/cli"
	"github.com/odyssey-erp/odyssey-accounts/internal/app"
	"github.com/odyssey-erp/odyssey-accounts/internal/platform/db"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "accountsctl",
		Short:         "Operational helpers for the accounts service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newJobsCommand())
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withPool loads configuration and opens the database for one command run.
func withPool(ctx context.Context, fn func(*pgxpool.Pool) error) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.WithApplicationName("accountsctl"), db.WithMaxConns(2))
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(pool)
}

// withJobs loads configuration and connects the queue helpers for one command run.
func withJobs(fn func(*cli.JobsCLI) error) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer jobsCLI.Close()
	return fn(jobsCLI)
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			return withPool(ctx, func(pool *pgxpool.Pool) error {
				if err := db.Migrate(ctx, pool); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			return withPool(ctx, func(pool *pgxpool.Pool) error {
				return db.MigrationStatus(ctx, pool, cmd.OutOrStdout())
			})
		},
	})
	return cmd
}

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show default queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(func(c *cli.JobsCLI) error {
				stats, err := c.InspectQueue(commandContext(cmd))
				if err != nil {
					return err
				}
				return cli.WriteStats(cmd.OutOrStdout(), stats)
			})
		},
	})

	var scheduledSize int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(func(c *cli.JobsCLI) error {
				tasks, err := c.ListScheduled(commandContext(cmd), scheduledSize)
				if err != nil {
					return err
				}
				for _, task := range tasks {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", task.ID, task.Type, task.NextProcessAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	scheduled.Flags().IntVar(&scheduledSize, "size", 10, "Number of tasks to list")
	cmd.AddCommand(scheduled)

	var grace time.Duration
	purge := &cobra.Command{
		Use:   "purge-sessions",
		Short: "Enqueue an immediate purge of expired login sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(func(c *cli.JobsCLI) error {
				info, err := c.TriggerPurge(commandContext(cmd), grace)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (%s)\n", info.Type, info.ID)
				return nil
			})
		},
	}
	purge.Flags().DurationVar(&grace, "grace", 24*time.Hour, "Keep sessions that expired less than this long ago")
	cmd.AddCommand(purge)

	cmd.AddCommand(&cobra.Command{
		Use:   "test-email <to>",
		Short: "Queue a delivery check email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(func(c *cli.JobsCLI) error {
				info, err := c.SendTestEmail(commandContext(cmd), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (%s)\n", info.Type, info.ID)
				return nil
			})
		},
	})
	return cmd
}
