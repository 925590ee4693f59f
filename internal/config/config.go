// Package config loads the verification service configuration from the
// environment, with an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all service configuration.
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Apple       AppleConfig
	Google      GoogleConfig
	Worker      WorkerConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds the Postgres pool configuration.
type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MinConnections int
	MaxLifetime    time.Duration
	MaxIdleTime    time.Duration
	HealthCheck    time.Duration
}

// RedisConfig holds the Redis connection configuration.
type RedisConfig struct {
	URL      string
	PoolSize int
}

// JWTConfig holds the bearer-token configuration.
type JWTConfig struct {
	Secret    string
	AccessTTL time.Duration
	Issuer    string
}

// AppleConfig holds the App Store verification backend configuration.
type AppleConfig struct {
	SharedSecret string
	BundleID     string
}

// GoogleConfig holds the Play Developer API configuration.
type GoogleConfig struct {
	ServiceAccountJSON string // path or inline JSON
	PackageName        string
	SubscriptionSKUs   []string
}

// WorkerConfig holds the revalidation worker configuration.
type WorkerConfig struct {
	RevalidateInterval time.Duration
	RevalidateWindow   time.Duration
	RevalidateBatch    int
	Concurrency        int
}

// Load reads configuration from environment variables, falling back to
// a .env file when present.
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// The .env file is optional; env vars carry production config.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		Environment: viper.GetString("environment"),
		Server: ServerConfig{
			Port:            viper.GetInt("server_port"),
			ReadTimeout:     viper.GetDuration("server_read_timeout"),
			WriteTimeout:    viper.GetDuration("server_write_timeout"),
			ShutdownTimeout: viper.GetDuration("server_shutdown_timeout"),
		},
		Database: DatabaseConfig{
			URL:            viper.GetString("database_url"),
			MaxConnections: viper.GetInt("database_max_connections"),
			MinConnections: viper.GetInt("database_min_connections"),
			MaxLifetime:    viper.GetDuration("database_max_lifetime"),
			MaxIdleTime:    viper.GetDuration("database_max_idle_time"),
			HealthCheck:    viper.GetDuration("database_health_check"),
		},
		Redis: RedisConfig{
			URL:      viper.GetString("redis_url"),
			PoolSize: viper.GetInt("redis_pool_size"),
		},
		JWT: JWTConfig{
			Secret:    viper.GetString("jwt_secret"),
			AccessTTL: viper.GetDuration("jwt_access_ttl"),
			Issuer:    viper.GetString("jwt_issuer"),
		},
		Apple: AppleConfig{
			SharedSecret: viper.GetString("apple_shared_secret"),
			BundleID:     viper.GetString("apple_bundle_id"),
		},
		Google: GoogleConfig{
			ServiceAccountJSON: viper.GetString("google_service_account_json"),
			PackageName:        viper.GetString("google_package_name"),
			SubscriptionSKUs:   viper.GetStringSlice("google_subscription_skus"),
		},
		Worker: WorkerConfig{
			RevalidateInterval: viper.GetDuration("worker_revalidate_interval"),
			RevalidateWindow:   viper.GetDuration("worker_revalidate_window"),
			RevalidateBatch:    viper.GetInt("worker_revalidate_batch"),
			Concurrency:        viper.GetInt("worker_concurrency"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("environment", "production")

	viper.SetDefault("server_port", 8080)
	viper.SetDefault("server_read_timeout", 10*time.Second)
	viper.SetDefault("server_write_timeout", 10*time.Second)
	viper.SetDefault("server_shutdown_timeout", 30*time.Second)

	viper.SetDefault("database_max_connections", 25)
	viper.SetDefault("database_min_connections", 5)
	viper.SetDefault("database_max_lifetime", time.Hour)
	viper.SetDefault("database_max_idle_time", 30*time.Minute)
	viper.SetDefault("database_health_check", 30*time.Second)

	viper.SetDefault("redis_pool_size", 10)

	viper.SetDefault("jwt_access_ttl", 15*time.Minute)
	viper.SetDefault("jwt_issuer", "iap-bridge")

	viper.SetDefault("worker_revalidate_interval", time.Hour)
	viper.SetDefault("worker_revalidate_window", 24*time.Hour)
	viper.SetDefault("worker_revalidate_batch", 100)
	viper.SetDefault("worker_concurrency", 10)
}

func validate(cfg *Config) error {
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	return nil
}
