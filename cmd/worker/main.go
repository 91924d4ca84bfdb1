package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/hollis-dev/filemill/internal/blobstore"
	"github.com/hollis-dev/filemill/internal/config"
	"github.com/hollis-dev/filemill/internal/database"
	"github.com/hollis-dev/filemill/internal/logging"
	"github.com/hollis-dev/filemill/internal/queue"
	"github.com/hollis-dev/filemill/internal/repository"
	"github.com/hollis-dev/filemill/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}
	store := repository.NewPostgresStore(pool)

	blobs, err := blobstore.New(cfg)
	if err != nil {
		logger.Fatal("init storage", zap.Error(err))
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		logger.Fatal("ensure bucket", zap.Error(err))
	}

	if err := queue.Ping(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err != nil {
		logger.Fatal("queue unreachable", zap.Error(err))
	}

	policy := queue.RetryPolicy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.RetryBase}
	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.Concurrency,
		RetryDelayFunc: func(retried int, _ error, _ *asynq.Task) time.Duration {
			return policy.Delay(retried)
		},
		ErrorHandler: worker.ErrorHandler(logger),
	})

	processor := worker.NewProcessor(store, blobs, logger, cfg.ProcessingDelay)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info("worker starting",
		zap.Int("concurrency", cfg.Concurrency),
		zap.Int("maxAttempts", cfg.MaxAttempts))
	if err := server.Run(processor.Handler()); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}
