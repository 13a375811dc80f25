// Package main implements the Aegis security daemon.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aegis-project/aegis/internal/api"
	"github.com/aegis-project/aegis/internal/config"
	"github.com/aegis-project/aegis/internal/core"
	"github.com/aegis-project/aegis/pkg/metrics"
	"github.com/aegis-project/aegis/pkg/postgres"
	"github.com/aegis-project/aegis/pkg/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load(os.Getenv("AEGIS_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg.Service = "aegisd"

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting aegisd", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	tracer, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Service,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	// Optional durable stores; the core defaults to in-memory without them.
	opts := core.Options{Logger: logger}
	if cfg.Database.Enabled {
		pgc := postgres.DefaultConfig()
		pgc.Host = cfg.Database.Host
		pgc.Port = cfg.Database.Port
		pgc.User = cfg.Database.Username
		pgc.Password = cfg.Database.Password
		pgc.Database = cfg.Database.Database
		pgc.SSLMode = cfg.Database.SSLMode
		if cfg.Database.MaxOpenConns > 0 {
			pgc.MaxOpenConns = cfg.Database.MaxOpenConns
		}
		if cfg.Database.MaxIdleConns > 0 {
			pgc.MaxIdleConns = cfg.Database.MaxIdleConns
		}
		db, err := postgres.New(ctx, pgc)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		if err := db.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		opts.UserStore = postgres.NewUserRepository(db)
		opts.SessionStore = postgres.NewSessionRepository(db)
		opts.Archiver = postgres.NewAuditArchiver(db)
		logger.Info("database enabled", "host", cfg.Database.Host)
	}

	securityCore, err := core.New(cfg, opts)
	if err != nil {
		logger.Error("failed to initialize security core", "error", err)
		os.Exit(1)
	}

	securityCore.StartMonitoring(ctx)
	defer securityCore.StopMonitoring()

	serviceMetrics := metrics.NewServiceMetrics("aegisd", version)

	extra := []func(http.Handler) http.Handler{metrics.Middleware(serviceMetrics)}
	if cfg.Telemetry.Enabled {
		extra = append(extra, telemetry.Middleware(cfg.Service, metrics.SanitizePath))
	}

	router := api.NewRouter(&api.RouterConfig{
		Logger:           logger,
		RateLimiter:      api.NewInMemoryRateLimiter(100, time.Minute),
		MiddlewareConfig: api.DefaultMiddlewareConfig(),
		MetricsHandler:   metrics.Handler(),
		ExtraMiddleware:  extra,
	}, securityCore)

	server, err := api.NewServer(router, &api.ServerConfig{
		Addr:            cfg.Server.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: 30 * time.Second,
		Logger:          logger,
		TLSEnabled:      cfg.Server.TLSEnabled,
		TLSCertFile:     cfg.Server.TLSCertFile,
		TLSKeyFile:      cfg.Server.TLSKeyFile,
	})
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := server.Start(ctx); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
