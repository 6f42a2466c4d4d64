package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/lease"
	"github.com/tendant/simple-media/pkg/simplemedia/repo/memory"
	repopg "github.com/tendant/simple-media/pkg/simplemedia/repo/postgres"
	memorystorage "github.com/tendant/simple-media/pkg/simplemedia/storage/memory"
	miniostorage "github.com/tendant/simple-media/pkg/simplemedia/storage/minio"
	s3storage "github.com/tendant/simple-media/pkg/simplemedia/storage/s3"
	"github.com/tendant/simple-media/pkg/simplemedia/transcode"
)

// Option applies configuration on top of what was read from file and environment.
type Option func(*Config) error

// Config is the full runtime configuration of the service
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Upload   UploadConfig   `yaml:"upload"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Redis    RedisConfig    `yaml:"redis"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	Port        string `yaml:"port" env:"PORT" env-default:"8080"`
	Environment string `yaml:"environment" env:"ENVIRONMENT" env-default:"development"`
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
}

type DatabaseConfig struct {
	// URL selects postgres when set; empty keeps items in memory
	URL    string `yaml:"url" env:"DATABASE_URL"`
	Schema string `yaml:"schema" env:"DB_SCHEMA"`
}

type StorageConfig struct {
	Backend                string `yaml:"backend" env:"STORAGE_BACKEND" env-default:"memory"` // s3, minio, memory
	Bucket                 string `yaml:"bucket" env:"STORAGE_BUCKET" env-default:"simple-media"`
	Region                 string `yaml:"region" env:"STORAGE_REGION" env-default:"us-east-1"`
	Endpoint               string `yaml:"endpoint" env:"STORAGE_ENDPOINT"`
	AccessKeyID            string `yaml:"access_key_id" env:"STORAGE_ACCESS_KEY_ID"`
	SecretAccessKey        string `yaml:"secret_access_key" env:"STORAGE_SECRET_ACCESS_KEY"`
	UsePathStyle           bool   `yaml:"use_path_style" env:"STORAGE_USE_PATH_STYLE" env-default:"false"`
	UseSSL                 bool   `yaml:"use_ssl" env:"STORAGE_USE_SSL" env-default:"true"`
	PublicBaseURL          string `yaml:"public_base_url" env:"STORAGE_PUBLIC_BASE_URL"`
	CreateBucketIfNotExist bool   `yaml:"create_bucket_if_not_exist" env:"STORAGE_CREATE_BUCKET" env-default:"false"`
	EnableSSE              bool   `yaml:"enable_sse" env:"STORAGE_ENABLE_SSE" env-default:"false"`
	SSEAlgorithm           string `yaml:"sse_algorithm" env:"STORAGE_SSE_ALGORITHM" env-default:"AES256"`
	SSEKMSKeyID            string `yaml:"sse_kms_key_id" env:"STORAGE_SSE_KMS_KEY_ID"`
}

type UploadConfig struct {
	ChunkSize     int64         `yaml:"chunk_size" env:"UPLOAD_CHUNK_SIZE" env-default:"5242880"`
	MaxSize       int64         `yaml:"max_size" env:"UPLOAD_MAX_SIZE" env-default:"500000000"`
	PresignExpiry time.Duration `yaml:"presign_expiry" env:"UPLOAD_PRESIGN_EXPIRY" env-default:"10m"`
}

type PipelineConfig struct {
	Workers       int           `yaml:"workers" env:"PIPELINE_WORKERS" env-default:"5"`
	QueueCapacity int           `yaml:"queue_capacity" env:"PIPELINE_QUEUE_CAPACITY" env-default:"60"`
	BatchSize     int           `yaml:"batch_size" env:"PIPELINE_BATCH_SIZE" env-default:"20"`
	PollInterval  time.Duration `yaml:"poll_interval" env:"PIPELINE_POLL_INTERVAL" env-default:"10m"`
	InitialDelay  time.Duration `yaml:"initial_delay" env:"PIPELINE_INITIAL_DELAY" env-default:"10s"`
	WorkerPause   time.Duration `yaml:"worker_pause" env:"PIPELINE_WORKER_PAUSE" env-default:"1s"`
	StagingRoot   string        `yaml:"staging_root" env:"PIPELINE_STAGING_ROOT" env-default:"/tmp/simple-media"`
	FFmpegPath    string        `yaml:"ffmpeg_path" env:"FFMPEG_PATH" env-default:"ffmpeg"`
	// Categories restricts the scan; empty means every category
	Categories []string `yaml:"categories" env:"PIPELINE_CATEGORIES" env-separator:","`
}

type RedisConfig struct {
	// URL enables the scheduler lease when set
	URL      string        `yaml:"url" env:"REDIS_URL"`
	LeaseKey string        `yaml:"lease_key" env:"REDIS_LEASE_KEY" env-default:"simple-media:scheduler:lease"`
	LeaseTTL time.Duration `yaml:"lease_ttl" env:"REDIS_LEASE_TTL" env-default:"25m"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"METRICS_ENABLED" env-default:"true"`
}

// Load reads the configuration from path (or CONFIG_PATH when path is empty)
// and the environment, applies opts and validates the result.
func Load(path string, opts ...Option) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("port is required")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case "memory":
	case "s3", "minio":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage bucket is required for %s", c.Storage.Backend)
		}
		if c.Storage.Backend == "minio" && c.Storage.Endpoint == "" {
			return errors.New("storage endpoint is required for minio")
		}
	default:
		return fmt.Errorf("storage backend must be 's3', 'minio' or 'memory', got: %s", c.Storage.Backend)
	}

	if c.Upload.ChunkSize <= 0 {
		return errors.New("upload chunk size must be positive")
	}
	if c.Upload.MaxSize <= 0 {
		return errors.New("upload max size must be positive")
	}
	if c.Upload.PresignExpiry <= 0 {
		return errors.New("upload presign expiry must be positive")
	}

	if c.Pipeline.Workers <= 0 {
		return errors.New("pipeline workers must be positive")
	}
	if c.Pipeline.QueueCapacity <= 0 {
		return errors.New("pipeline queue capacity must be positive")
	}
	if c.Pipeline.BatchSize <= 0 {
		return errors.New("pipeline batch size must be positive")
	}
	if c.Pipeline.PollInterval <= 0 {
		return errors.New("pipeline poll interval must be positive")
	}
	if c.Pipeline.StagingRoot == "" {
		return errors.New("pipeline staging root is required")
	}
	if _, err := c.Categories(); err != nil {
		return err
	}

	if c.Redis.URL != "" && c.Redis.LeaseTTL <= c.Pipeline.PollInterval {
		return fmt.Errorf("redis lease ttl (%s) must exceed the poll interval (%s)", c.Redis.LeaseTTL, c.Pipeline.PollInterval)
	}
	return nil
}

// LogLevel parses the configured slog level
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Server.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", c.Server.LogLevel, err)
	}
	return level, nil
}

// Categories returns the categories the scheduler scans
func (c *Config) Categories() ([]simplemedia.Category, error) {
	if len(c.Pipeline.Categories) == 0 {
		return simplemedia.AllCategories(), nil
	}
	out := make([]simplemedia.Category, 0, len(c.Pipeline.Categories))
	for _, s := range c.Pipeline.Categories {
		category, err := simplemedia.ParseCategory(s)
		if err != nil {
			return nil, err
		}
		out = append(out, category)
	}
	return out, nil
}

// TranscodeSettings returns the encoder settings
func (c *Config) TranscodeSettings() transcode.Settings {
	settings := transcode.DefaultSettings()
	if c.Pipeline.FFmpegPath != "" {
		settings.FFmpegPath = c.Pipeline.FFmpegPath
	}
	return settings
}

// BuildRepository creates the metadata store. The returned func releases
// the connection pool.
func (c *Config) BuildRepository(ctx context.Context) (simplemedia.Repository, func(), error) {
	if c.Database.URL == "" {
		return memory.New(), func() {}, nil
	}

	cfg, err := pgxpool.ParseConfig(c.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema := c.Database.Schema; schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return repopg.NewWithPool(pool), pool.Close, nil
}

// BuildObjectStore creates the object store selected by Storage.Backend
func (c *Config) BuildObjectStore(ctx context.Context) (simplemedia.ObjectStore, error) {
	s := c.Storage
	switch s.Backend {
	case "memory":
		return memorystorage.New(s.Bucket, s.PublicBaseURL), nil

	case "s3":
		store, err := s3storage.New(ctx, s3storage.Config{
			Region:                 s.Region,
			Bucket:                 s.Bucket,
			AccessKeyID:            s.AccessKeyID,
			SecretAccessKey:        s.SecretAccessKey,
			Endpoint:               s.Endpoint,
			UsePathStyle:           s.UsePathStyle,
			PublicBaseURL:          s.PublicBaseURL,
			EnableSSE:              s.EnableSSE,
			SSEAlgorithm:           s.SSEAlgorithm,
			SSEKMSKeyID:            s.SSEKMSKeyID,
			CreateBucketIfNotExist: s.CreateBucketIfNotExist,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 store: %w", err)
		}
		return store, nil

	case "minio":
		store, err := miniostorage.New(ctx, miniostorage.Config{
			Endpoint:               s.Endpoint,
			AccessKeyID:            s.AccessKeyID,
			SecretAccessKey:        s.SecretAccessKey,
			UseSSL:                 s.UseSSL,
			Region:                 s.Region,
			Bucket:                 s.Bucket,
			PublicBaseURL:          s.PublicBaseURL,
			CreateBucketIfNotExist: s.CreateBucketIfNotExist,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", s.Backend)
	}
}

// BuildLease creates the scheduler lease. Without REDIS_URL every replica
// schedules.
func (c *Config) BuildLease() (lease.Lease, func(), error) {
	if c.Redis.URL == "" {
		return lease.Noop{}, func() {}, nil
	}
	opts, err := redis.ParseURL(c.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	return lease.NewRedis(client, c.Redis.LeaseKey, c.Redis.LeaseTTL), func() { _ = client.Close() }, nil
}
