package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bivex/iap-bridge/internal/config"
	"github.com/bivex/iap-bridge/internal/database"
	"github.com/bivex/iap-bridge/internal/logging"
	"github.com/bivex/iap-bridge/internal/worker"
	"github.com/bivex/iap-bridge/verify"
	"github.com/bivex/iap-bridge/verify/apple"
	"github.com/bivex/iap-bridge/verify/google"
	"github.com/bivex/iap-bridge/verify/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting revalidation worker")

	ctx := context.Background()
	dbPool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to create database pool", zap.Error(err))
	}
	defer dbPool.Close()

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("failed to parse redis url", zap.Error(err))
	}
	opts.PoolSize = cfg.Redis.PoolSize
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to ping redis", zap.Error(err))
	}

	googleCreds, err := loadGoogleCredentials(cfg.Google.ServiceAccountJSON)
	if err != nil {
		logger.Fatal("failed to load google service account", zap.Error(err))
	}

	store := postgres.New(dbPool)
	appleVerifier := apple.New(cfg.Apple.SharedSecret, cfg.Apple.BundleID, logging.WithComponent(logger, "apple"))
	googleVerifier := google.New(googleCreds, cfg.Google.PackageName, cfg.Google.SubscriptionSKUs, logging.WithComponent(logger, "google"))
	svc := verify.NewService(logging.WithComponent(logger, "verify"), store, nil, appleVerifier, googleVerifier)

	client := asynq.NewClientFromRedisClient(redisClient)
	defer client.Close()

	taskHandlers := worker.NewHandlers(svc, store, client, logger,
		cfg.Worker.RevalidateWindow, cfg.Worker.RevalidateBatch)

	server := asynq.NewServerFromRedisClient(redisClient, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			"default": 3,
			"low":     1,
		},
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return time.Duration(1<<uint(n)) * time.Second
		},
	})

	mux := asynq.NewServeMux()
	worker.RegisterHandlers(mux, taskHandlers)

	if err := server.Start(mux); err != nil {
		logger.Fatal("failed to start worker", zap.Error(err))
	}

	scheduler := asynq.NewSchedulerFromRedisClient(redisClient, nil)
	worker.RegisterScheduledTasks(scheduler, logger)

	if err := scheduler.Start(); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")

	scheduler.Shutdown()
	server.Shutdown()

	logger.Info("worker exited")
}

// loadGoogleCredentials accepts inline JSON or a file path.
func loadGoogleCredentials(value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	if strings.HasPrefix(strings.TrimSpace(value), "{") {
		return []byte(value), nil
	}
	return os.ReadFile(value)
}
