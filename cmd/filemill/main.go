// Command filemill is the ops CLI: schema migration, orphan sweeping, and
// queue inspection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hollis-dev/filemill/internal/config"
	"github.com/hollis-dev/filemill/internal/database"
	"github.com/hollis-dev/filemill/internal/files"
	"github.com/hollis-dev/filemill/internal/logging"
	"github.com/hollis-dev/filemill/internal/queue"
	"github.com/hollis-dev/filemill/internal/repository"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "filemill: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "filemill",
		Short:        "filemill operations CLI",
		Long:         "filemill manages the file-processing pipeline: run migrations, requeue orphaned uploads, and inspect queue depth.",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newMigrateCmd(),
		newSweepCmd(),
		newStatsCmd(),
	)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the files/jobs schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()
			if err := database.EnsureSchema(ctx, pool); err != nil {
				return err
			}
			fmt.Println("schema up to date")
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	var maxAge string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Re-enqueue jobs stuck in queued (orphaned uploads)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			age := cfg.SweepAge
			if maxAge != "" {
				parsed, err := time.ParseDuration(maxAge)
				if err != nil {
					return fmt.Errorf("parse --max-age: %w", err)
				}
				age = parsed
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()
			store := repository.NewPostgresStore(pool)

			queueClient := queue.NewClient(asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, queue.RetryPolicy{
				MaxAttempts: cfg.MaxAttempts,
				BaseDelay:   cfg.RetryBase,
			}, cfg.TaskTimeout)
			defer queueClient.Close()

			svc := files.NewService(store, queueClient, logger)
			n, err := svc.RequeueStale(ctx, age)
			if err != nil {
				return err
			}
			logger.Info("sweep finished", zap.Int("requeued", n))
			fmt.Printf("requeued %d stale jobs\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&maxAge, "max-age", "", "override how long a job may sit queued before requeue (e.g. 30m)")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth and task states",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			inspector := asynq.NewInspector(asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			defer inspector.Close()

			info, err := inspector.GetQueueInfo("default")
			if err != nil {
				return fmt.Errorf("inspect queue: %w", err)
			}
			fmt.Printf("queue=%s size=%d pending=%d active=%d retry=%d archived=%d completed=%d\n",
				info.Queue, info.Size, info.Pending, info.Active, info.Retry, info.Archived, info.Completed)
			return nil
		},
	}
}
