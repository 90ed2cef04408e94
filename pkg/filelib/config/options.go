package config

import (
	"fmt"
	"time"

	"github.com/tendant/simple-filelib/pkg/filelib/versionprovider/imagethumb"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		if dbType != "memory" && dbType != "postgres" {
			return fmt.Errorf("database type must be 'memory' or 'postgres', got: %s", dbType)
		}
		if dbType == "postgres" && url == "" {
			return fmt.Errorf("database URL is required for postgres")
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithMemoryStorage adds an in-memory storage backend.
// If name is empty, defaults to "memory"
func WithMemoryStorage(name string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "memory"
		}
		c.addStorageBackend(StorageBackendConfig{
			Name:   name,
			Type:   "memory",
			Config: map[string]interface{}{},
		})
		return nil
	}
}

// WithFilesystemStorage adds a filesystem storage backend.
// If name is empty, defaults to "fs"
func WithFilesystemStorage(name, baseDir string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "fs"
		}
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.addStorageBackend(StorageBackendConfig{
			Name: name,
			Type: "fs",
			Config: map[string]interface{}{
				"base_dir": baseDir,
			},
		})
		return nil
	}
}

// WithS3Storage adds an S3 storage backend.
// If name is empty, defaults to "s3"
func WithS3Storage(name, bucket, region string) Option {
	return func(c *ServerConfig) error {
		if name == "" {
			name = "s3"
		}
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if region == "" {
			region = "us-east-1"
		}
		c.addStorageBackend(StorageBackendConfig{
			Name: name,
			Type: "s3",
			Config: map[string]interface{}{
				"bucket": bucket,
				"region": region,
			},
		})
		return nil
	}
}

// WithS3Credentials sets static credentials on an S3 backend added before.
func WithS3Credentials(name, accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		backend, err := c.storageBackend(name, "s3")
		if err != nil {
			return err
		}
		backend.Config["access_key_id"] = accessKeyID
		backend.Config["secret_access_key"] = secretAccessKey
		return nil
	}
}

// WithS3Endpoint points an S3 backend at an S3-compatible service.
func WithS3Endpoint(name, endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		backend, err := c.storageBackend(name, "s3")
		if err != nil {
			return err
		}
		backend.Config["endpoint"] = endpoint
		backend.Config["use_path_style"] = usePathStyle
		return nil
	}
}

// WithKeyLayout sets the object key layout ("flat" or "sharded")
func WithKeyLayout(layout string) Option {
	return func(c *ServerConfig) error {
		c.KeyLayout = layout
		return nil
	}
}

// WithMemoryCache caches files and resources in process memory.
func WithMemoryCache() Option {
	return func(c *ServerConfig) error {
		c.CacheType = "memory"
		return nil
	}
}

// WithNATSCache caches files and resources in a JetStream KV bucket.
func WithNATSCache(url, bucket string, ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		if url == "" {
			return fmt.Errorf("NATS URL cannot be empty")
		}
		c.CacheType = "nats"
		c.CacheURL = url
		if bucket != "" {
			c.CacheBucket = bucket
		}
		c.CacheTTL = ttl
		return nil
	}
}

// WithEventsNATS publishes lifecycle events to a NATS server.
func WithEventsNATS(url, subjectPrefix string) Option {
	return func(c *ServerConfig) error {
		c.EventsNATSURL = url
		if subjectPrefix != "" {
			c.EventSubjectPrefix = subjectPrefix
		}
		return nil
	}
}

// WithThumbnails registers a thumbnail provider for profiles, or for every
// profile when none are given.
func WithThumbnails(mode string, boxes map[string]imagethumb.Box, profiles ...string) Option {
	return func(c *ServerConfig) error {
		if len(boxes) == 0 {
			return fmt.Errorf("at least one thumbnail size is required")
		}
		c.Thumbnails = boxes
		c.ThumbnailMode = mode
		c.ThumbnailProfiles = profiles
		return nil
	}
}

// WithJWT requires an HS256 token signed with secret to render files of
// profiles, or of every profile when none are given.
func WithJWT(secret string, profiles ...string) Option {
	return func(c *ServerConfig) error {
		if secret == "" {
			return fmt.Errorf("JWT secret cannot be empty")
		}
		c.JWTSecret = secret
		c.ProtectedProfiles = profiles
		return nil
	}
}

// WithEventLogging enables or disables event logging
func WithEventLogging(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableEventLogging = enabled
		return nil
	}
}

// WithMetrics enables or disables Prometheus metrics
func WithMetrics(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableMetrics = enabled
		return nil
	}
}

// addStorageBackend upserts backend. The implicit default memory backend is
// replaced by the first backend added explicitly.
func (c *ServerConfig) addStorageBackend(backend StorageBackendConfig) {
	if c.implicitStorage {
		c.StorageBackends = nil
		c.implicitStorage = false
	}
	c.StorageBackends = upsertStorageBackend(c.StorageBackends, backend)
}

func (c *ServerConfig) storageBackend(name, typ string) (*StorageBackendConfig, error) {
	if name == "" {
		name = typ
	}
	for i := range c.StorageBackends {
		if c.StorageBackends[i].Name == name && c.StorageBackends[i].Type == typ {
			return &c.StorageBackends[i], nil
		}
	}
	return nil, fmt.Errorf("%s storage backend '%s' not configured", typ, name)
}
