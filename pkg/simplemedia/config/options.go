package config

import (
	"fmt"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *Config) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Server.Port = port
		return nil
	}
}

// WithLogLevel sets the slog level name (debug, info, warn, error)
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.Server.LogLevel = level
		return nil
	}
}

// WithDatabaseURL selects postgres at url; an empty url selects memory
func WithDatabaseURL(url string) Option {
	return func(c *Config) error {
		c.Database.URL = url
		return nil
	}
}

// WithMemoryStorage keeps objects in process
func WithMemoryStorage(bucket string) Option {
	return func(c *Config) error {
		if bucket == "" {
			return fmt.Errorf("bucket cannot be empty")
		}
		c.Storage.Backend = "memory"
		c.Storage.Bucket = bucket
		return nil
	}
}

// WithStorageBackend selects the object store backend
func WithStorageBackend(backend string) Option {
	return func(c *Config) error {
		switch backend {
		case "s3", "minio", "memory":
			c.Storage.Backend = backend
			return nil
		default:
			return fmt.Errorf("storage backend must be 's3', 'minio' or 'memory', got: %s", backend)
		}
	}
}

// WithWorkers sets the number of transform workers
func WithWorkers(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("workers must be positive, got: %d", n)
		}
		c.Pipeline.Workers = n
		return nil
	}
}

// WithStagingRoot sets the local staging directory
func WithStagingRoot(dir string) Option {
	return func(c *Config) error {
		if dir == "" {
			return fmt.Errorf("staging root cannot be empty")
		}
		c.Pipeline.StagingRoot = dir
		return nil
	}
}

// WithCategories restricts the scheduler to the named categories
func WithCategories(categories ...string) Option {
	return func(c *Config) error {
		c.Pipeline.Categories = categories
		return nil
	}
}

// WithRedisURL enables the Redis scheduler lease
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.Redis.URL = url
		return nil
	}
}
