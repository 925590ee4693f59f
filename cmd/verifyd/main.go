package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bivex/iap-bridge/internal/config"
	"github.com/bivex/iap-bridge/internal/database"
	"github.com/bivex/iap-bridge/internal/httpapi/handlers"
	"github.com/bivex/iap-bridge/internal/httpapi/middleware"
	"github.com/bivex/iap-bridge/internal/logging"
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

	logger.Info("starting receipt verification server",
		zap.Int("port", cfg.Server.Port),
		zap.String("environment", cfg.Environment),
	)

	ctx := context.Background()
	dbPool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to create database pool", zap.Error(err))
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}

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
	cache := verify.NewResultCache(redisClient, logging.WithComponent(logger, "verify-cache"))
	appleVerifier := apple.New(cfg.Apple.SharedSecret, cfg.Apple.BundleID, logging.WithComponent(logger, "apple"))
	googleVerifier := google.New(googleCreds, cfg.Google.PackageName, cfg.Google.SubscriptionSKUs, logging.WithComponent(logger, "google"))
	svc := verify.NewService(logging.WithComponent(logger, "verify"), store, cache, appleVerifier, googleVerifier)

	jwtMiddleware := middleware.NewJWTMiddleware(cfg.JWT.Secret, redisClient, cfg.JWT.AccessTTL, cfg.JWT.Issuer, logger)
	rateLimiter := middleware.NewRateLimiter(redisClient, true, logger) // fail open
	iapHandler := handlers.NewIAPHandler(svc, logger)

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		logging.RequestMiddleware(logger),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	v1.Use(jwtMiddleware.Authenticate())
	{
		v1.POST("/iap/verify",
			rateLimiter.Middleware(middleware.ByUserID, middleware.VerifyConfig),
			iapHandler.VerifyReceipt,
		)
		v1.GET("/subscriptions",
			rateLimiter.Middleware(middleware.ByUserID, middleware.PollingConfig),
			iapHandler.GetSubscriptions,
		)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
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
