package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"modelhub_back/assets"
	"modelhub_back/cache"
	"modelhub_back/config"
	"modelhub_back/database"
	"modelhub_back/events"
	"modelhub_back/logging"
	"modelhub_back/storage"
)

// app holds every process-scoped resource. It is built once per command and released
// with close.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	db      *database.Handle
	redis   *redis.Client
	uploads *storage.Uploads
	hub     *events.Hub
	service *assets.Service
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, newLogger(cfg))
}

func newLogger(cfg *config.Config) *logrus.Logger {
	return logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.db, err = database.Open(database.Config{
		Driver:       cfg.DatabaseDriver,
		DSN:          cfg.DatabaseDSN,
		MaxOpenConns: cfg.DatabaseMaxOpenConns,
		MaxIdleConns: cfg.DatabaseMaxIdleConns,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	if err = assets.AutoMigrate(a.db.DB()); err != nil {
		return nil, fmt.Errorf("migrate tables: %w", err)
	}

	a.redis, err = cache.Open(ctx, cache.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.WithError(err).Warn("list cache disabled")
		a.redis, err = nil, nil
	}

	var mirror *storage.Mirror
	switch {
	case cfg.MinioConfigured():
		mirror, err = storage.NewMirror(ctx, storage.MirrorConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
	case cfg.MinioEndpoint != "":
		logger.WithField("endpoint", cfg.MinioEndpoint).Warn("object mirror disabled: MINIO_ACCESS_KEY, MINIO_SECRET_KEY and MINIO_BUCKET are required")
	}

	a.uploads, err = storage.NewUploads(cfg.UploadsDir, cfg.UploadsPrefix, logger,
		storage.WithMaxBytes(cfg.UploadMaxBytes),
		storage.WithMirror(mirror),
	)
	if err != nil {
		return nil, err
	}

	a.hub = events.NewHub(logger, cfg.AllowedOrigins())

	a.service, err = assets.NewService(assets.Options{
		DB:           a.db.DB(),
		Store:        a.db,
		Files:        a.uploads,
		Events:       a.hub,
		Redis:        a.redis,
		OrphanPolicy: cfg.MaterialOrphanPolicy,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"driver":        a.db.Driver(),
		"uploads_dir":   a.uploads.Dir(),
		"orphan_policy": cfg.MaterialOrphanPolicy,
		"list_cache":    a.redis != nil,
		"mirror":        mirror != nil,
	}).Info("resources ready")
	return a, nil
}

func (a *app) close() {
	if a == nil {
		return
	}
	a.hub.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).Warn("close redis client")
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Warn("close database")
	}
}
