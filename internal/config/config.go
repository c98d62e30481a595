package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/wb-go/wbf/retry"

	"github.com/Lunanaall/thumbnailer/internal/model"
)

// DefaultPath is where the optional YAML config file is looked up.
const DefaultPath = "./config/config.yml"

// DefaultTable is the metadata table. The bundled migrations, including the
// lease columns, only know this name.
const DefaultTable = "Image Metadata"

// Config holds the main configuration for the application.
type Config struct {
	Database  Database  `mapstructure:"database"`
	Storage   Storage   `mapstructure:"storage"`
	Thumbnail Thumbnail `mapstructure:"thumbnail"`
	Pipeline  Pipeline  `mapstructure:"pipeline"`
	Lease     Lease     `mapstructure:"lease"`
	Redis     Redis     `mapstructure:"redis"`
	Retry     Retry     `mapstructure:"retry"`
}

// Database holds connection parameters for the metadata store.
type Database struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"` // disable / require / verify-full ...
	Table   string `mapstructure:"table"` // lease.backend=db requires DefaultTable

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Storage holds configuration for the object store.
type Storage struct {
	Driver              string `mapstructure:"driver"` // minio or s3
	Endpoint            string `mapstructure:"endpoint"`
	Region              string `mapstructure:"region"`
	AccessKey           string `mapstructure:"access_key"`
	SecretKey           string `mapstructure:"secret_key"`
	UseSSL              bool   `mapstructure:"use_ssl"`
	PublicBaseURL       string `mapstructure:"public_base_url"`
	OriginalsContainer  string `mapstructure:"originals_container"`
	ThumbnailsContainer string `mapstructure:"thumbnails_container"`
}

// Thumbnail controls preview generation.
type Thumbnail struct {
	MaxEdge   int    `mapstructure:"max_edge"`
	Quality   int    `mapstructure:"quality"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Pipeline controls the batch run.
type Pipeline struct {
	Workers       int    `mapstructure:"workers"`
	PendingPolicy string `mapstructure:"pending_policy"`
}

// Lease selects how candidates are claimed before processing.
type Lease struct {
	Backend string        `mapstructure:"backend"` // none, db or redis
	TTL     time.Duration `mapstructure:"ttl"`
}

// Redis holds connection settings for the redis lease backend.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Retry defines the policy for acquiring external resources at startup.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Lease backends.
const (
	LeaseNone  = "none"
	LeaseDB    = "db"
	LeaseRedis = "redis"
)

// DSN returns the PostgreSQL DSN string for the metadata store.
func (d Database) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Pass),
		Host:     net.JoinHostPort(d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": {d.SSLMode}}.Encode(),
	}
	return u.String()
}

// Strategy converts the policy into a wbf retry strategy.
func (r Retry) Strategy() retry.Strategy {
	return retry.Strategy{
		Attempts: r.Attempts,
		Delay:    r.Delay,
		Backoff:  r.Backoff,
	}
}

// Policy returns the parsed pending policy. Call Validate first.
func (p Pipeline) Policy() model.PendingPolicy {
	return model.PendingPolicy(p.PendingPolicy)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.pass", "")
	v.SetDefault("database.name", "images")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.table", DefaultTable)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("storage.driver", "minio")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.originals_container", "originals")
	v.SetDefault("storage.thumbnails_container", "thumbnails")

	v.SetDefault("thumbnail.max_edge", 150)
	v.SetDefault("thumbnail.quality", 85)
	v.SetDefault("thumbnail.key_prefix", "thumb_")

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.pending_policy", string(model.PendingEmpty))

	v.SetDefault("lease.backend", LeaseNone)
	v.SetDefault("lease.ttl", 10*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "thumbnailer:lease")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 500*time.Millisecond)
	v.SetDefault("retry.backoff", 2.0)
}

// bindEnv binds the recognised environment variables to config keys.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"database.host":     "DB_HOST",
		"database.port":     "DB_PORT",
		"database.user":     "DB_USER",
		"database.pass":     "DB_PASSWORD",
		"database.name":     "DB_NAME",
		"database.ssl_mode": "DB_SSLMODE",
		"database.table":    "DB_TABLE",

		"storage.driver":               "STORAGE_DRIVER",
		"storage.endpoint":             "STORAGE_ENDPOINT",
		"storage.region":               "STORAGE_REGION",
		"storage.access_key":           "STORAGE_ACCESS_KEY",
		"storage.secret_key":           "STORAGE_SECRET_KEY",
		"storage.use_ssl":              "STORAGE_USE_SSL",
		"storage.public_base_url":      "STORAGE_PUBLIC_BASE_URL",
		"storage.originals_container":  "ORIGINALS_CONTAINER",
		"storage.thumbnails_container": "THUMBNAILS_CONTAINER",

		"thumbnail.max_edge":   "THUMB_MAX_EDGE",
		"thumbnail.quality":    "THUMB_QUALITY",
		"thumbnail.key_prefix": "THUMB_KEY_PREFIX",

		"pipeline.workers":        "PIPELINE_WORKERS",
		"pipeline.pending_policy": "PIPELINE_PENDING_POLICY",

		"lease.backend": "LEASE_BACKEND",
		"lease.ttl":     "LEASE_TTL",

		"redis.addr":     "REDIS_ADDR",
		"redis.password": "REDIS_PASSWORD",
		"redis.db":       "REDIS_DB",
		"redis.prefix":   "REDIS_PREFIX",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file in the working directory and the environment, in
// increasing order of precedence. A missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "minio", "s3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Storage.OriginalsContainer == "" || c.Storage.ThumbnailsContainer == "" {
		errs = append(errs, errors.New("storage: container names must not be empty"))
	}

	if c.Thumbnail.MaxEdge < 1 {
		errs = append(errs, fmt.Errorf("thumbnail.max_edge: must be positive, got %d", c.Thumbnail.MaxEdge))
	}
	if c.Thumbnail.Quality < 1 || c.Thumbnail.Quality > 100 {
		errs = append(errs, fmt.Errorf("thumbnail.quality: must be in 1..100, got %d", c.Thumbnail.Quality))
	}

	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers: must be at least 1, got %d", c.Pipeline.Workers))
	}
	if _, err := model.ParsePendingPolicy(c.Pipeline.PendingPolicy); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.pending_policy: %w", err))
	}

	switch c.Lease.Backend {
	case LeaseNone, LeaseDB, LeaseRedis:
	default:
		errs = append(errs, fmt.Errorf("lease.backend: unknown backend %q", c.Lease.Backend))
	}
	if c.Lease.Backend != LeaseNone && c.Lease.TTL <= 0 {
		errs = append(errs, fmt.Errorf("lease.ttl: must be positive, got %s", c.Lease.TTL))
	}
	if c.Lease.Backend == LeaseDB && c.Database.Table != DefaultTable {
		errs = append(errs, fmt.Errorf("lease.backend: db leases need the migrated %q table, got %q", DefaultTable, c.Database.Table))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
