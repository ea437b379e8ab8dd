package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config describes how the backing store is reached.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	Logger       *logrus.Logger
	// NowFunc overrides the clock used for created_at columns. Defaults to UTC now.
	NowFunc func() time.Time
}

// Handle owns the process-wide store connection. It is acquired once at startup and
// released with Close on shutdown.
type Handle struct {
	db     *gorm.DB
	driver string
}

// Open connects to the configured store and applies the pool settings.
func Open(cfg Config) (*Handle, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("database: DATABASE_DSN is required")
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = inferDriverFromDSN(dsn)
		if driver == "" {
			return nil, errors.New("database: DATABASE_DRIVER is required when DSN does not contain a scheme")
		}
	}

	dialector, normalized, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}

	nowFunc := cfg.NowFunc
	if nowFunc == nil {
		nowFunc = func() time.Time { return time.Now().UTC() }
	}

	gormCfg := &gorm.Config{
		NowFunc:        nowFunc,
		TranslateError: true,
		Logger:         newGormLogger(cfg.Logger),
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", normalized, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Handle{db: db, driver: normalized}, nil
}

// DB returns the gorm handle. Callers must not close it directly.
func (h *Handle) DB() *gorm.DB {
	if h == nil {
		return nil
	}
	return h.db
}

// Driver reports the normalized driver name.
func (h *Handle) Driver() string {
	if h == nil {
		return ""
	}
	return h.driver
}

// Ping checks connectivity with the store.
func (h *Handle) Ping(ctx context.Context) error {
	if h == nil || h.db == nil {
		return errors.New("database: not initialized")
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool. Safe to call more than once.
func (h *Handle) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	h.db = nil
	return sqlDB.Close()
}

func dialectorFor(driver, dsn string) (gorm.Dialector, string, error) {
	switch driver {
	case "postgres", "postgresql", "pg":
		return postgres.Open(dsn), "postgres", nil
	case "mysql":
		return mysql.Open(strings.TrimPrefix(dsn, "mysql://")), "mysql", nil
	case "sqlite", "sqlite3":
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("database: unsupported driver %q", driver)
	}
}

func inferDriverFromDSN(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "mysql://"), strings.Contains(lower, "://mysql"):
		return "mysql"
	case strings.HasPrefix(lower, "sqlite://"), strings.HasPrefix(lower, "file:"),
		strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"):
		return "sqlite"
	default:
		return ""
	}
}

func newGormLogger(log *logrus.Logger) gormlogger.Interface {
	if log == nil {
		return gormlogger.Default.LogMode(gormlogger.Silent)
	}
	level := gormlogger.Warn
	if log.IsLevelEnabled(logrus.DebugLevel) {
		level = gormlogger.Info
	}
	return gormlogger.New(log, gormlogger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}
