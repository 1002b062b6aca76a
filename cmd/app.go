package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/fpid/internal/config"
	"github.com/example/fpid/internal/extractor"
	"github.com/example/fpid/internal/extractorrpc"
	"github.com/example/fpid/internal/imagestore"
	"github.com/example/fpid/internal/registry"
	"github.com/example/fpid/internal/repository"
	"github.com/example/fpid/internal/usecase"
)

// app holds the wired dependencies shared by the commands.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	uc      *usecase.IdentificationUseCase
	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	matchCfg, err := cfg.Match.Matcher()
	if err != nil {
		return err
	}

	db, err := initDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	repo := repository.NewIdentificationRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return fmt.Errorf("auto migrate identification logs: %w", err)
	}

	images, err := initImages(ctx, cfg)
	if err != nil {
		return err
	}

	reg, err := initRegistry(ctx, cfg.Registry, db, logger)
	if err != nil {
		return err
	}

	cache, err := a.initCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}

	ex, err := a.initExtractor(ctx, cfg.Extractor)
	if err != nil {
		return err
	}

	a.uc = usecase.NewIdentificationUseCase(usecase.Dependencies{
		Registry:  registry.WithImageCleanup(reg, images, logger),
		Images:    images,
		Extractor: ex,
		Repo:      repo,
		Cache:     cache,
	}, usecase.Settings{
		Match:       matchCfg,
		MinFeatures: cfg.Match.MinFeatures,
		TempDir:     cfg.Images.TempDir,
		CacheTTL:    cfg.Redis.TTL,
	}, logger)
	return nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, zapLogger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		if dir := filepath.Dir(cfg.DSN); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Error("failed to connect to database", zap.String("driver", cfg.Driver), zap.Error(err))
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		zapLogger.Error("database ping failed", zap.String("driver", cfg.Driver), zap.Error(err))
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

func initImages(ctx context.Context, cfg config.Config) (imagestore.Store, error) {
	if cfg.Images.Backend == config.ImagesMinIO {
		store, err := imagestore.NewMinIO(ctx, imagestore.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			Prefix:    cfg.MinIO.Prefix,
			Region:    cfg.MinIO.Region,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("open minio image store: %w", err)
		}
		return store, nil
	}
	store, err := imagestore.NewLocal(cfg.Images.Dir)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func initRegistry(ctx context.Context, cfg config.RegistryConfig, db *gorm.DB, logger *zap.Logger) (registry.Registry, error) {
	if cfg.Backend == config.RegistryDB {
		reg := registry.NewGormRegistry(db, logger)
		if err := reg.AutoMigrate(ctx); err != nil {
			return nil, fmt.Errorf("auto migrate identities: %w", err)
		}
		return reg, nil
	}
	return registry.NewFileRegistry(cfg.Path, logger), nil
}

func (a *app) initCache(ctx context.Context, cfg config.RedisConfig) (usecase.Cache, error) {
	if cfg.Addr == "" {
		a.logger.Info("redis not configured, result cache disabled")
		return usecase.NopCache{}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		a.logger.Error("redis connection failed", zap.String("addr", cfg.Addr), zap.Error(err))
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return usecase.NewRedisCache(client), nil
}

func (a *app) initExtractor(ctx context.Context, cfg config.ExtractorConfig) (extractor.Extractor, error) {
	if cfg.Backend == config.ExtractorGRPC {
		client, conn, err := extractorrpc.DialExtractor(ctx, cfg.Addr, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		return client, nil
	}
	return newNativeExtractor(cfg, a.logger), nil
}

func newNativeExtractor(cfg config.ExtractorConfig, logger *zap.Logger) *extractor.Native {
	return extractor.NewNative(logger, extractor.WithMaxKeypoints(cfg.MaxKeypoints))
}
