package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Orphan policies applied to Materials when their parent Model is deleted.
const (
	OrphanPolicyRetain  = "retain"
	OrphanPolicyCascade = "cascade"
)

type Config struct {
	Port   string `mapstructure:"PORT"`
	AppEnv string `mapstructure:"APP_ENV"`

	DatabaseDSN          string `mapstructure:"DATABASE_DSN"`
	DatabaseDriver       string `mapstructure:"DATABASE_DRIVER"`
	DatabaseMaxOpenConns int    `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	DatabaseMaxIdleConns int    `mapstructure:"DATABASE_MAX_IDLE_CONNS"`

	UploadsDir     string `mapstructure:"UPLOADS_DIR"`
	UploadsPrefix  string `mapstructure:"UPLOADS_PREFIX"`
	UploadMaxBytes int64  `mapstructure:"UPLOAD_MAX_BYTES"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	MinioEndpoint  string `mapstructure:"MINIO_ENDPOINT"`
	MinioAccessKey string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey string `mapstructure:"MINIO_SECRET_KEY"`
	MinioBucket    string `mapstructure:"MINIO_BUCKET"`
	MinioUseSSL    bool   `mapstructure:"MINIO_USE_SSL"`

	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFormat     string `mapstructure:"LOG_FORMAT"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS"`

	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	MaterialOrphanPolicy string        `mapstructure:"MATERIAL_ORPHAN_POLICY"`
	SweepInterval        time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepGrace           time.Duration `mapstructure:"SWEEP_GRACE"`
	ShutdownTimeout      time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

var defaults = map[string]any{
	"PORT":                    "3001",
	"APP_ENV":                 "development",
	"DATABASE_DSN":            "",
	"DATABASE_DRIVER":         "",
	"DATABASE_MAX_OPEN_CONNS": 25,
	"DATABASE_MAX_IDLE_CONNS": 5,
	"UPLOADS_DIR":             "./uploads",
	"UPLOADS_PREFIX":          "/uploads",
	"UPLOAD_MAX_BYTES":        int64(512 << 20),
	"REDIS_ADDR":              "",
	"REDIS_PASSWORD":          "",
	"REDIS_DB":                0,
	"MINIO_ENDPOINT":          "",
	"MINIO_ACCESS_KEY":        "",
	"MINIO_SECRET_KEY":        "",
	"MINIO_BUCKET":            "",
	"MINIO_USE_SSL":           false,
	"LOG_LEVEL":               "info",
	"LOG_FORMAT":              "text",
	"LOG_FILE":                "",
	"LOG_MAX_SIZE_MB":         100,
	"LOG_MAX_BACKUPS":         5,
	"LOG_MAX_AGE_DAYS":        30,
	"CORS_ALLOWED_ORIGINS":    "*",
	"MATERIAL_ORPHAN_POLICY":  OrphanPolicyRetain,
	"SWEEP_INTERVAL":          time.Duration(0),
	"SWEEP_GRACE":             24 * time.Hour,
	"SHUTDOWN_TIMEOUT":        15 * time.Second,
}

// LoadDotEnv loads .env.<APP_ENV> and then .env from dir. Variables already present in
// the process environment win over both files.
func LoadDotEnv(dir string) {
	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "development"
	}
	for _, name := range []string{".env." + env, ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path)
	}
}

// Load resolves the configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.DatabaseDSN = strings.TrimSpace(c.DatabaseDSN)
	if c.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is required")
	}

	c.Port = strings.TrimSpace(c.Port)
	if c.Port == "" {
		c.Port = "3001"
	}

	prefix := "/" + strings.Trim(strings.TrimSpace(c.UploadsPrefix), "/")
	if prefix == "/" {
		return errors.New("config: UPLOADS_PREFIX cannot be the root path")
	}
	c.UploadsPrefix = prefix

	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("config: UPLOAD_MAX_BYTES must be positive, got %d", c.UploadMaxBytes)
	}

	policy := strings.ToLower(strings.TrimSpace(c.MaterialOrphanPolicy))
	switch policy {
	case OrphanPolicyRetain, OrphanPolicyCascade:
		c.MaterialOrphanPolicy = policy
	default:
		return fmt.Errorf("config: MATERIAL_ORPHAN_POLICY must be %q or %q, got %q",
			OrphanPolicyRetain, OrphanPolicyCascade, c.MaterialOrphanPolicy)
	}

	if c.SweepInterval < 0 || c.SweepGrace < 0 {
		return errors.New("config: sweep durations cannot be negative")
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	return nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS into its entries.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, part := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// MinioConfigured reports whether every MINIO_* value needed for the mirror is set.
func (c *Config) MinioConfigured() bool {
	return c.MinioEndpoint != "" && c.MinioAccessKey != "" && c.MinioSecretKey != "" && c.MinioBucket != ""
}
