package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/bead-check/internal/auth"
	"github.com/example/bead-check/internal/config"
	"github.com/example/bead-check/internal/detector"
	"github.com/example/bead-check/internal/grpcclient"
	"github.com/example/bead-check/internal/handlers"
	"github.com/example/bead-check/internal/ingest"
	"github.com/example/bead-check/internal/logging"
	"github.com/example/bead-check/internal/onnxdetector"
	"github.com/example/bead-check/internal/repository"
	"github.com/example/bead-check/internal/usecase"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	det, closer, err := initDetector(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to load detector", zap.String("backend", cfg.DetectorBackend), zap.Error(err))
	}
	defer closer.Close()

	children := initChildResolver(ctx, cfg, logger)

	store, err := ingest.NewStore(cfg.UploadDir, logger, ingest.WithMaxPixels(cfg.MaxImagePixels))
	if err != nil {
		logger.Fatal("failed to prepare upload directory", zap.String("dir", cfg.UploadDir), zap.Error(err))
	}

	uc := usecase.NewVerificationUseCase(store, det, children, logger)

	r := handlers.NewEngine(logger)
	r.MaxMultipartMemory = cfg.MaxUploadSize
	handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience), cfg.MaxUploadSize)

	listener, err := net.Listen("tcp", cfg.ServerAddress())
	if err != nil {
		logger.Fatal("failed to bind", zap.String("addr", cfg.ServerAddress()), zap.Error(err))
	}
	server := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("bead-check listening", zap.String("addr", listener.Addr().String()), zap.String("backend", cfg.DetectorBackend))
	if err := runServer(sigCtx, server, listener, cfg.ShutdownTimeout, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
	}
}

// initDetector loads the configured backend before the server accepts any
// request. The returned closer releases the session or connection.
func initDetector(ctx context.Context, cfg *config.Config, logger *zap.Logger) (detector.Detector, io.Closer, error) {
	switch cfg.DetectorBackend {
	case config.BackendGRPC:
		det, conn, err := grpcclient.DialDetector(ctx, cfg.DetectorAddr, cfg.Labels, logger)
		if err != nil {
			return nil, nil, err
		}
		return det, conn, nil
	default:
		det, err := onnxdetector.New(onnxdetector.Config{
			ModelPath:     cfg.ModelPath,
			SharedLibPath: cfg.OnnxLib,
			InputSize:     cfg.InputSize,
			Labels:        cfg.Labels,
			ConfThreshold: cfg.ConfThreshold,
			IoUThreshold:  cfg.IoUThreshold,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return det, det, nil
	}
}

// initChildResolver returns nil when no database is configured; requests
// are then analysed without an ownership check.
func initChildResolver(ctx context.Context, cfg *config.Config, logger *zap.Logger) usecase.OwnershipChecker {
	if cfg.DatabaseDSN == "" {
		if cfg.RedisAddr != "" {
			logger.Warn("REDIS_ADDR ignored without DATABASE_DSN")
		}
		logger.Info("child ownership check disabled")
		return nil
	}

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)
	repo := repository.NewChildRepository(db, logger)

	var cache usecase.Cache
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		cache = usecase.NewRedisCache(initRedis(redisCtx, cfg.RedisAddr, logger))
	}

	return usecase.NewChildResolver(repo, cache, logger)
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

// runServer serves on listener until the server fails or ctx is cancelled.
// Cancellation stops accepting connections and waits up to shutdownTimeout
// for in-flight analyses; their uploads are removed before the response is
// written, so a clean return leaves the upload directory empty.
func runServer(ctx context.Context, server *http.Server, listener net.Listener, shutdownTimeout time.Duration, logger *zap.Logger) error {
	served := make(chan error, 1)
	go func() {
		served <- server.Serve(listener)
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", listener.Addr(), err)
	case <-ctx.Done():
	}

	logger.Info("draining in-flight requests", zap.Duration("timeout", shutdownTimeout))
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("server stopped")
	return nil
}
