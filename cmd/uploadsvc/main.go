package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/go-redis/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shivaxm/uploadsvc/internal/auditlog"
	"github.com/shivaxm/uploadsvc/internal/authn"
	"github.com/shivaxm/uploadsvc/internal/blobstore"
	"github.com/shivaxm/uploadsvc/internal/config"
	"github.com/shivaxm/uploadsvc/internal/demo"
	"github.com/shivaxm/uploadsvc/internal/metrics"
	"github.com/shivaxm/uploadsvc/internal/quota"
	"github.com/shivaxm/uploadsvc/internal/ratelimit"
	"github.com/shivaxm/uploadsvc/internal/scanqueue"
	"github.com/shivaxm/uploadsvc/internal/server"
	"github.com/shivaxm/uploadsvc/internal/store"
	"github.com/shivaxm/uploadsvc/internal/upload"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
)

func main() {
	var dataDir string

	rootCmd := &cobra.Command{
		Use:     "uploadsvc",
		Short:   "uploadsvc - secure file upload lifecycle service",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(dataDir)
		},
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "scan-queue-dir", "./data/scanqueue", "durable scan queue data directory")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(dataDir string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := setupLogging(cfg.LogLevel)
	logger.WithFields(logrus.Fields{"version": version, "commit": commit, "env": cfg.Env}).Info("starting uploadsvc")

	st, err := store.NewSQLiteStore(cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	blobs := blobstore.New(cfg.S3Endpoint, cfg.S3PublicEndpoint, cfg.S3Region, cfg.S3AccessKeyID, cfg.S3SecretKey, cfg.S3Bucket, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := blobs.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	scanQueue, err := scanqueue.Open(dataDir, logger)
	if err != nil {
		return fmt.Errorf("open scan queue: %w", err)
	}
	defer scanQueue.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	limiter := ratelimit.New(redisClient)

	authManager, err := authn.New(st, cfg.JWTSecret, cfg.JWTAlgorithm)
	if err != nil {
		return fmt.Errorf("init auth manager: %w", err)
	}
	demoManager := demo.New(st, cfg.JWTSecret)
	quotaEnforcer := quota.New(st)
	audit := auditlog.New(st, logger)
	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)

	coordinator := upload.New(upload.Config{
		Store:       st,
		Blobs:       blobs,
		Quota:       quotaEnforcer,
		Audit:       audit,
		Metrics:     reg,
		ScanQueue:   scanQueue,
		Logger:      logger,
		Bucket:      cfg.S3Bucket,
		UploadTTL:   cfg.UploadPresignTTL(),
		DownloadTTL: cfg.DownloadPresignTTL(),
	})

	srv := server.New(server.Config{
		Authn:       authManager,
		Demo:        demoManager,
		Limiter:     limiter,
		Coordinator: coordinator,
		Metrics:     reg,
		Logger:      logger,
		Listen:      cfg.Listen,
		IsProd:      cfg.IsProd(),
	})

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logger.Info("received shutdown signal")
		cancel()
	}()

	go coordinator.RunScanWorker(ctx, 2*time.Second)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("uploadsvc stopped")
	return nil
}

func setupLogging(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})

	switch level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}
