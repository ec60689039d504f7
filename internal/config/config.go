// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the upload service. It is loaded once
// at process start and never mutated afterwards.
type Config struct {
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"app_debug"`
	Listen   string `mapstructure:"listen"`
	LogLevel string `mapstructure:"log_level"`

	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`

	S3Endpoint       string `mapstructure:"s3_endpoint"`
	S3PublicEndpoint string `mapstructure:"s3_public_endpoint"`
	S3AccessKeyID    string `mapstructure:"s3_access_key_id"`
	S3SecretKey      string `mapstructure:"s3_secret_access_key"`
	S3Bucket         string `mapstructure:"s3_bucket"`
	S3Region         string `mapstructure:"s3_region"`

	JWTSecret    string `mapstructure:"jwt_secret"`
	JWTAlgorithm string `mapstructure:"jwt_algorithm"`

	UploadPresignTTLSeconds   int `mapstructure:"upload_presign_ttl_seconds"`
	DownloadPresignTTLSeconds int `mapstructure:"download_presign_ttl_seconds"`
}

// UploadPresignTTL returns the presign TTL for PUT URLs as a duration.
func (c *Config) UploadPresignTTL() time.Duration {
	return time.Duration(c.UploadPresignTTLSeconds) * time.Second
}

// DownloadPresignTTL returns the presign TTL for GET URLs as a duration.
func (c *Config) DownloadPresignTTL() time.Duration {
	return time.Duration(c.DownloadPresignTTLSeconds) * time.Second
}

// IsProd reports whether the service is running in the production
// environment (gates cookie Secure attribute, etc).
func (c *Config) IsProd() bool {
	return c.Env == "prod" || c.Env == "production"
}

// Load reads configuration from environment variables, applying the
// defaults from the spec where a variable is unset.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	for _, key := range []string{
		"env", "app_debug", "listen", "log_level",
		"database_url", "redis_url",
		"s3_endpoint", "s3_public_endpoint", "s3_access_key_id", "s3_secret_access_key", "s3_bucket", "s3_region",
		"jwt_secret", "jwt_algorithm",
		"upload_presign_ttl_seconds", "download_presign_ttl_seconds",
	} {
		_ = v.BindEnv(key, envName(key))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// envName maps a mapstructure key to its upper-cased environment variable
// name, matching the names listed in spec.md §6 exactly.
func envName(key string) string {
	return strings.ToUpper(key)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("app_debug", false)
	v.SetDefault("listen", ":8000")
	v.SetDefault("log_level", "info")

	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_bucket", "uploads")

	v.SetDefault("jwt_algorithm", "HS256")

	v.SetDefault("upload_presign_ttl_seconds", 900)
	v.SetDefault("download_presign_ttl_seconds", 300)
}

func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required")
	}
	if cfg.S3Endpoint == "" {
		return fmt.Errorf("S3_ENDPOINT is required")
	}
	if cfg.S3PublicEndpoint == "" {
		cfg.S3PublicEndpoint = cfg.S3Endpoint
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.UploadPresignTTLSeconds <= 0 {
		cfg.UploadPresignTTLSeconds = 900
	}
	if cfg.DownloadPresignTTLSeconds <= 0 {
		cfg.DownloadPresignTTLSeconds = 300
	}
	return nil
}
