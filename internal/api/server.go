package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger

	TLSEnabled  bool
	TLSCertFile string
	TLSKeyFile  string
}

// DefaultServerConfig returns a sensible default configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Logger:          slog.Default(),
	}
}

// Server runs the ops API with graceful shutdown. Start blocks; call
// Shutdown from another goroutine to stop it.
type Server struct {
	httpServer *http.Server
	cfg        *ServerConfig
	logger     *slog.Logger

	started  atomic.Bool
	stopping atomic.Bool
}

// NewServer wraps the router in a configured HTTP server.
func NewServer(router chi.Router, cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TLSEnabled && (cfg.TLSCertFile == "" || cfg.TLSKeyFile == "") {
		return nil, fmt.Errorf("tls enabled but certificate or key file missing")
	}

	var tlsConfig *tls.Config
	if cfg.TLSEnabled {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
			TLSConfig:    tlsConfig,
			ErrorLog:     slog.NewLogLogger(cfg.Logger.Handler(), slog.LevelError),
		},
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// Start listens and serves until the server is shut down or fails.
func (s *Server) Start(ctx context.Context) error {
	if s.started.Swap(true) {
		return fmt.Errorf("server already started")
	}

	s.logger.InfoContext(ctx, "starting HTTP server", "addr", s.cfg.Addr, "tls", s.cfg.TLSEnabled)

	var err error
	if s.cfg.TLSEnabled {
		err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener. Safe to
// call more than once; only the first call does the work.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.started.Load() || s.stopping.Swap(true) {
		return nil
	}

	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	s.logger.InfoContext(ctx, "shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.InfoContext(ctx, "HTTP server stopped")
	return nil
}
