package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"
	"github.com/tendant/simple-filelib/pkg/filelib/api"
	"github.com/tendant/simple-filelib/pkg/filelib/config"
)

type Config struct {
	EnvPrefix     string `env:"FILELIB_ENV_PREFIX" env-default:"FILELIB_"`
	ApiKeySHA256  string `env:"API_KEY_SHA256"`
	MaxUploadSize int64  `env:"MAX_UPLOAD_SIZE" env-default:"33554432"`
	UploadTempDir string `env:"UPLOAD_TEMP_DIR"`
	Migrate       bool   `env:"MIGRATE" env-default:"false"`
}

func main() {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}

	serverConfig, err := config.Load(config.WithEnv(cfg.EnvPrefix))
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	logger := slog.Default()

	if serverConfig.DatabaseType == "postgres" {
		if err := config.PingPostgres(ctx, serverConfig.DatabaseURL, serverConfig.DBSchema); err != nil {
			slog.Error("Failed to connect to database", "err", err)
			os.Exit(1)
		}
	}

	rt, err := serverConfig.BuildLibrary(ctx, logger, prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("Failed to build library", "err", err)
		os.Exit(1)
	}
	defer rt.Close()

	if cfg.Migrate {
		if err := rt.Migrate(ctx); err != nil {
			slog.Error("Failed to migrate database", "err", err)
			os.Exit(1)
		}
	}

	opts := []api.HandlerOption{
		api.WithLogger(logger),
		api.WithMaxUploadSize(cfg.MaxUploadSize),
		api.WithTempDir(cfg.UploadTempDir),
	}
	if rt.TokenAuth != nil {
		opts = append(opts, api.WithTokenAuth(rt.TokenAuth))
	}
	filesHandler := api.NewFilesHandler(rt.Library, opts...)

	server := app.DefaultApp()

	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	if rt.Metrics != nil {
		server.R.Handle("/metrics", promhttp.Handler())
	}

	server.R.Route("/api/v1", func(r chi.Router) {
		r.Use(api.RequestIDMiddleware)
		r.Use(api.RecoveryMiddleware(logger))
		r.Use(api.LoggingMiddleware(logger))
		if cfg.ApiKeySHA256 != "" {
			apiKeyMiddleware, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
				APIKeys: map[string]string{"key1": cfg.ApiKeySHA256},
			})
			if err != nil {
				slog.Error("Failed initialize API Key middleware", "err", err)
				os.Exit(1)
			}
			r.Use(apiKeyMiddleware)
		}
		r.Mount("/files", filesHandler.Routes())
	})

	slog.Info("filelib server starting",
		"environment", serverConfig.Environment,
		"storage_backends", len(serverConfig.StorageBackends),
		"database", serverConfig.DatabaseType,
		"cache", serverConfig.CacheType,
	)
	server.Run()
}
