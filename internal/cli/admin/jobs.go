package admin

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumenfeed/lumenfeed/internal/config"
	"github.com/lumenfeed/lumenfeed/internal/database"
	"github.com/lumenfeed/lumenfeed/internal/pagination"
	"github.com/lumenfeed/lumenfeed/internal/repository"
)

// JobsCmd returns the jobs command group for queue administration.
func JobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and repair queued jobs",
	}

	cmd.AddCommand(jobsFailedCmd())
	cmd.AddCommand(jobsRequeueCmd())

	return cmd
}

func jobsFailedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List jobs that exhausted their retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			repo, cleanup, err := jobRepo(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			limit, _ := cmd.Flags().GetInt("limit")
			cursorToken, _ := cmd.Flags().GetString("cursor")

			cursor, err := pagination.DecodeCursor(cursorToken)
			if err != nil {
				return fmt.Errorf("invalid cursor: %w", err)
			}

			jobs, next, err := repo.ListFailed(ctx, cursor, limit)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}

			out := struct {
				Jobs       any    `json:"jobs"`
				NextCursor string `json:"next_cursor,omitempty"`
			}{Jobs: jobs, NextCursor: next}
			return printJSON(out)
		},
	}

	cmd.Flags().Int("limit", 20, "Maximum number of jobs to return")
	cmd.Flags().String("cursor", "", "Pagination cursor from a previous page")

	return cmd
}

func jobsRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <job-id>",
		Short: "Reset a failed job for another round of attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			repo, cleanup, err := jobRepo(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := repo.Requeue(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to requeue job %s: %w", args[0], err)
			}

			fmt.Printf("job %s requeued\n", args[0])
			return nil
		},
	}
}

func jobRepo(ctx context.Context) (*repository.JobRepository, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return repository.NewJobRepository(pool), pool.Close, nil
}
