// Package config assembles a library and its plugins from declarative
// server configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-filelib/pkg/filelib"
	"github.com/tendant/simple-filelib/pkg/filelib/authorization"
	"github.com/tendant/simple-filelib/pkg/filelib/cache"
	cachememory "github.com/tendant/simple-filelib/pkg/filelib/cache/memory"
	"github.com/tendant/simple-filelib/pkg/filelib/cache/natskv"
	"github.com/tendant/simple-filelib/pkg/filelib/events/natsbridge"
	"github.com/tendant/simple-filelib/pkg/filelib/library"
	"github.com/tendant/simple-filelib/pkg/filelib/metrics"
	repomemory "github.com/tendant/simple-filelib/pkg/filelib/repo/memory"
	repopg "github.com/tendant/simple-filelib/pkg/filelib/repo/postgres"
	"github.com/tendant/simple-filelib/pkg/filelib/storage"
	fsstorage "github.com/tendant/simple-filelib/pkg/filelib/storage/fs"
	memorystorage "github.com/tendant/simple-filelib/pkg/filelib/storage/memory"
	"github.com/tendant/simple-filelib/pkg/filelib/storage/objectkey"
	s3storage "github.com/tendant/simple-filelib/pkg/filelib/storage/s3"
	"github.com/tendant/simple-filelib/pkg/filelib/versionprovider"
	"github.com/tendant/simple-filelib/pkg/filelib/versionprovider/imagethumb"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

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

func defaults() ServerConfig {
	return ServerConfig{
		Port:         "8080",
		Environment:  "development",
		DatabaseType: "memory",
		DBSchema:     "filelib",
		KeyLayout:    "flat",
		StorageBackends: []StorageBackendConfig{
			{
				Name:   "memory",
				Type:   "memory",
				Config: map[string]interface{}{},
			},
		},
		implicitStorage:    true,
		CacheType:          "none",
		CachePrefix:        "filelib.",
		CacheBucket:        "filelib",
		EventSubjectPrefix: natsbridge.DefaultSubjectPrefix,
		ThumbnailMode:      "lazy",
		EnableEventLogging: true,
	}
}

// ServerConfig represents server configuration for the filelib service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres schema to use (default: filelib)

	// Storage configuration. Every backend receives every write; reads go
	// to one of them.
	StorageBackends []StorageBackendConfig
	KeyLayout       string // "flat", "sharded"
	implicitStorage bool

	// Cache configuration
	CacheType   string // "none", "memory", "nats"
	CacheURL    string
	CacheBucket string
	CachePrefix string
	CacheTTL    time.Duration

	// Lifecycle events are published to NATS when set
	EventsNATSURL      string
	EventSubjectPrefix string

	// Thumbnail provider. No provider is registered without boxes.
	Thumbnails        map[string]imagethumb.Box
	ThumbnailMode     string // "eager", "lazy"
	ThumbnailProfiles []string

	// Renders require a verified token when a secret is set
	JWTSecret         string
	ProtectedProfiles []string
	ProfileClaim      string

	// Server options
	EnableEventLogging bool
	EnableMetrics      bool
}

// StorageBackendConfig represents configuration for a storage backend
type StorageBackendConfig struct {
	Name   string
	Type   string // "memory", "fs", "s3"
	Config map[string]interface{}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}

	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	if len(c.StorageBackends) == 0 {
		return errors.New("at least one storage backend is required")
	}
	seen := make(map[string]bool, len(c.StorageBackends))
	for _, backend := range c.StorageBackends {
		if seen[backend.Name] {
			return fmt.Errorf("duplicate storage backend name '%s'", backend.Name)
		}
		seen[backend.Name] = true
	}

	if c.KeyLayout != "flat" && c.KeyLayout != "sharded" {
		return fmt.Errorf("key layout must be 'flat' or 'sharded', got: %s", c.KeyLayout)
	}

	switch c.CacheType {
	case "none", "memory":
	case "nats":
		if c.CacheURL == "" {
			return errors.New("cache_url is required when using the nats cache")
		}
	default:
		return fmt.Errorf("cache type must be 'none', 'memory' or 'nats', got: %s", c.CacheType)
	}

	if _, err := c.thumbnailMode(); err != nil {
		return err
	}

	return nil
}

// Runtime is a built library with the collaborators a server needs.
type Runtime struct {
	Library   *library.Library
	Metrics   *metrics.Metrics  // nil unless metrics are enabled
	TokenAuth *jwtauth.JWTAuth // nil unless a JWT secret is set

	closers []func()
}

// Close releases pools and connections in reverse order of creation.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// Migrate creates the database schema when the repository, or the one
// behind the cache, supports it.
func (r *Runtime) Migrate(ctx context.Context) error {
	repo := r.Library.Repository()
	for {
		switch v := repo.(type) {
		case interface{ Migrate(context.Context) error }:
			return v.Migrate(ctx)
		case interface{ Unwrap() filelib.Repository }:
			repo = v.Unwrap()
		default:
			return nil
		}
	}
}

// BuildLibrary creates the library and registers the configured plugins.
// Prometheus collectors are registered with reg when metrics are enabled;
// a nil reg uses prometheus.DefaultRegisterer.
func (c *ServerConfig) BuildLibrary(ctx context.Context, logger *slog.Logger, reg prometheus.Registerer) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	if c.EnableMetrics {
		rt.Metrics = metrics.New("filelib")
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if err := rt.Metrics.Register(reg); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	repo, err := c.buildRepository(ctx, rt)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}

	store, err := c.buildStorage(ctx, logger, rt.Metrics)
	if err != nil {
		rt.Close()
		return nil, err
	}

	options := []library.Option{
		library.WithRepository(repo),
		library.WithStorage(store),
		library.WithLogger(logger),
	}

	entityCache, err := c.buildCache(ctx, rt)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to build cache: %w", err)
	}
	if entityCache != nil {
		options = append(options, library.WithCache(entityCache))
	}

	lib, err := library.New(ctx, options...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Library = lib

	if err := c.registerPlugins(ctx, rt, logger); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (c *ServerConfig) registerPlugins(ctx context.Context, rt *Runtime, logger *slog.Logger) error {
	lib := rt.Library

	if c.EnableEventLogging {
		lib.Dispatcher().AddSubscriber(filelib.NewLoggingSubscriber(logger))
	}

	for _, name := range c.profileNames() {
		if _, err := lib.Profiles().Profile(name); err == nil {
			continue
		}
		if err := lib.AddProfile(ctx, filelib.NewProfile(name)); err != nil {
			return fmt.Errorf("failed to add profile %s: %w", name, err)
		}
	}

	if len(c.Thumbnails) > 0 {
		mode, _ := c.thumbnailMode()
		producer, err := imagethumb.New(c.Thumbnails)
		if err != nil {
			return fmt.Errorf("failed to create thumbnail producer: %w", err)
		}
		provider := versionprovider.New(
			producer,
			versionprovider.WithMode(mode),
			versionprovider.WithLogger(logger),
		)
		if err := lib.AddNamedPlugin(ctx, "thumbnails", provider, c.ThumbnailProfiles...); err != nil {
			return fmt.Errorf("failed to add thumbnail provider: %w", err)
		}
	}

	if c.JWTSecret != "" {
		rt.TokenAuth = jwtauth.New("HS256", []byte(c.JWTSecret), nil)
		var opts []authorization.Option
		if c.ProfileClaim != "" {
			opts = append(opts, authorization.WithProfileClaim(c.ProfileClaim))
		}
		if err := lib.AddNamedPlugin(ctx, "authorization", authorization.New(opts...), c.ProtectedProfiles...); err != nil {
			return fmt.Errorf("failed to add authorization: %w", err)
		}
	}

	if rt.Metrics != nil {
		if err := lib.AddNamedPlugin(ctx, "metrics", rt.Metrics); err != nil {
			return fmt.Errorf("failed to add metrics: %w", err)
		}
	}

	if c.EventsNATSURL != "" {
		conn, err := natsbridge.Connect(c.EventsNATSURL, "filelib-events")
		if err != nil {
			return err
		}
		rt.closers = append(rt.closers, conn.Close)
		bridge := natsbridge.New(conn, natsbridge.WithSubjectPrefix(c.EventSubjectPrefix))
		if err := lib.AddNamedPlugin(ctx, "events", bridge); err != nil {
			return fmt.Errorf("failed to add event bridge: %w", err)
		}
	}
	return nil
}

// profileNames lists the profiles referenced by plugin configuration.
func (c *ServerConfig) profileNames() []string {
	set := make(map[string]struct{})
	for _, name := range c.ThumbnailProfiles {
		set[name] = struct{}{}
	}
	for _, name := range c.ProtectedProfiles {
		set[name] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *ServerConfig) thumbnailMode() (versionprovider.Mode, error) {
	switch c.ThumbnailMode {
	case "", "lazy":
		return versionprovider.Lazy, nil
	case "eager":
		return versionprovider.Eager, nil
	default:
		return 0, fmt.Errorf("thumbnail mode must be 'eager' or 'lazy', got: %s", c.ThumbnailMode)
	}
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, rt *Runtime) (filelib.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return repomemory.New(), nil
	case "postgres":
		if c.DatabaseURL == "" {
			return nil, errors.New("database_url is required for postgres")
		}
		cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		schema := c.DBSchema
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if schema == "" {
				return nil
			}
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", schema))
			return err
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		return repopg.NewWithPool(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// PingPostgres verifies connectivity to Postgres and optionally sets search_path for the session.
func PingPostgres(ctx context.Context, databaseURL, schema string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", schema))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorage creates one adapter per backend. More than one adapter is
// wrapped in a storage.Multi.
func (c *ServerConfig) buildStorage(ctx context.Context, logger *slog.Logger, observer storage.Observer) (filelib.StorageAdapter, error) {
	var keys objectkey.Generator = objectkey.NewFlatGenerator()
	if c.KeyLayout == "sharded" {
		keys = objectkey.NewShardedGenerator()
	}

	adapters := make([]filelib.StorageAdapter, 0, len(c.StorageBackends))
	for _, backendConfig := range c.StorageBackends {
		backend, err := c.buildStorageBackend(ctx, backendConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build storage backend %s: %w", backendConfig.Name, err)
		}
		var adapter filelib.StorageAdapter = storage.NewAdapter(backendConfig.Name, backend,
			storage.WithKeyGenerator(keys),
			storage.WithLogger(logger),
		)
		if observer != nil {
			adapter = storage.Instrument(backendConfig.Name, adapter, observer)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 1 {
		return adapters[0], nil
	}
	return storage.NewMulti(adapters...)
}

// buildStorageBackend creates a Backend based on the backend configuration
func (c *ServerConfig) buildStorageBackend(ctx context.Context, config StorageBackendConfig) (storage.Backend, error) {
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir: getString(config.Config, "base_dir", "./data/storage"),
		})

	case "s3":
		return s3storage.New(ctx, s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			MaxRetries:             getInt(config.Config, "max_retries", 3),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

func (c *ServerConfig) buildCache(ctx context.Context, rt *Runtime) (*cache.Cache, error) {
	switch c.CacheType {
	case "memory":
		return cache.New(cachememory.New(), cache.WithPrefix(c.CachePrefix)), nil
	case "nats":
		conn, err := nats.Connect(c.CacheURL,
			nats.Name("filelib-cache"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("connect to nats %s: %w", c.CacheURL, err)
		}
		rt.closers = append(rt.closers, conn.Close)
		js, err := jetstream.New(conn)
		if err != nil {
			return nil, fmt.Errorf("jetstream: %w", err)
		}
		adapter, err := natskv.Open(ctx, js, c.CacheBucket, c.CacheTTL)
		if err != nil {
			return nil, err
		}
		return cache.New(adapter, cache.WithPrefix(c.CachePrefix)), nil
	default:
		return nil, nil
	}
}

func getString(config map[string]interface{}, key string, defaultValue string) string {
	if value, exists := config[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

func getBool(config map[string]interface{}, key string, defaultValue bool) bool {
	if value, exists := config[key]; exists {
		if b, ok := value.(bool); ok {
			return b
		}
		if str, ok := value.(string); ok {
			if b, err := strconv.ParseBool(str); err == nil {
				return b
			}
		}
	}
	return defaultValue
}

func getInt(config map[string]interface{}, key string, defaultValue int) int {
	if value, exists := config[key]; exists {
		if i, ok := value.(int); ok {
			return i
		}
		if str, ok := value.(string); ok {
			if i, err := strconv.Atoi(str); err == nil {
				return i
			}
		}
		if f, ok := value.(float64); ok {
			return int(f)
		}
	}
	return defaultValue
}
