package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aegis-project/aegis/pkg/models"
)

// Version reported by the health endpoint.
const Version = "1.0.0"

// RouterConfig holds router configuration.
type RouterConfig struct {
	Logger           *slog.Logger
	RateLimiter      RateLimiter
	MiddlewareConfig *MiddlewareConfig

	// MetricsHandler, when set, is mounted at /metrics.
	MetricsHandler http.Handler

	// ExtraMiddleware is appended to the middleware chain before routes
	// are registered. chi rejects middleware added after routing.
	ExtraMiddleware []func(http.Handler) http.Handler
}

// DefaultRouterConfig returns a default router configuration.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		Logger:           slog.Default(),
		RateLimiter:      NewInMemoryRateLimiter(100, time.Minute),
		MiddlewareConfig: DefaultMiddlewareConfig(),
	}
}

// NewRouter creates a chi router with the middleware stack and all routes.
func NewRouter(config *RouterConfig, service SecurityService) chi.Router {
	if config == nil {
		config = DefaultRouterConfig()
	}
	if config.MiddlewareConfig == nil {
		config.MiddlewareConfig = DefaultMiddlewareConfig()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RecoveryMiddleware(config.Logger))
	r.Use(LoggingMiddleware(config.Logger))
	r.Use(middleware.RealIP)
	r.Use(ContentTypeMiddleware)

	r.Use(SessionAuthMiddleware(service, config.MiddlewareConfig))
	if config.RateLimiter == nil && config.MiddlewareConfig.RateLimit > 0 {
		config.RateLimiter = NewInMemoryRateLimiter(
			config.MiddlewareConfig.RateLimit, config.MiddlewareConfig.RateLimitWindow)
	}
	if config.RateLimiter != nil {
		r.Use(RateLimitMiddleware(config.RateLimiter, config.MiddlewareConfig))
	}
	for _, mw := range config.ExtraMiddleware {
		r.Use(mw)
	}

	registerHealthRoutes(r)
	if config.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", config.MetricsHandler)
	}

	registerUserRoutes(r, service)
	registerAuthRoutes(r, service)
	registerAccessRoutes(r, service)
	registerCryptoRoutes(r, service)
	registerPolicyRoutes(r, service)
	registerAuditRoutes(r, service)
	registerMonitorRoutes(r, service)

	return r
}

// registerHealthRoutes registers health check endpoints.
func registerHealthRoutes(r chi.Router) {
	r.Get("/health", handleHealth)
	r.Get("/ready", handleReady)
	r.Get("/live", handleLive)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:  models.HealthStatusHealthy,
		Version: Version,
	})
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func registerUserRoutes(r chi.Router, service SecurityService) {
	handler := NewUserHandler(service)
	r.Route("/api/v1/users", func(r chi.Router) {
		r.Post("/", handler.Create)
		r.Get("/{id}", handler.Get)
		r.Post("/{id}/mfa", handler.EnableMFA)
		r.Post("/{id}/permissions", handler.GrantPermission)
	})
}

func registerAuthRoutes(r chi.Router, service SecurityService) {
	handler := NewAuthHandler(service)
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/login", handler.Login)
		r.Post("/logout", handler.Logout)
		r.Get("/session", handler.Session)
	})
}

func registerAccessRoutes(r chi.Router, service SecurityService) {
	handler := NewAccessHandler(service)
	r.Route("/api/v1/access", func(r chi.Router) {
		r.Post("/check", handler.Check)
		r.Put("/entries", handler.SetEntry)
		r.Get("/entries", handler.ListEntries)
	})
}

func registerCryptoRoutes(r chi.Router, service SecurityService) {
	handler := NewCryptoHandler(service)
	r.Route("/api/v1/crypto", func(r chi.Router) {
		r.Post("/encrypt", handler.Encrypt)
		r.Post("/decrypt", handler.Decrypt)
		r.Post("/sign", handler.Sign)
		r.Post("/verify", handler.Verify)
		r.Get("/keys", handler.ListKeys)
		r.Post("/keys/rotate", handler.RotateKeys)
	})
}

func registerPolicyRoutes(r chi.Router, service SecurityService) {
	handler := NewPolicyHandler(service)
	r.Route("/api/v1/policies", func(r chi.Router) {
		r.Post("/", handler.Create)
		r.Get("/", handler.List)
		r.Post("/evaluate", handler.Evaluate)
		r.Get("/{id}", handler.Get)
	})
}

func registerAuditRoutes(r chi.Router, service SecurityService) {
	handler := NewAuditHandler(service)
	r.Route("/api/v1/audit", func(r chi.Router) {
		r.Get("/", handler.Query)
		r.Get("/recent", handler.Recent)
		r.Get("/stats", handler.GetStats)
	})
}

func registerMonitorRoutes(r chi.Router, service SecurityService) {
	handler := NewMonitorHandler(service)
	r.Get("/api/v1/status", handler.Status)
	r.Route("/api/v1/monitor", func(r chi.Router) {
		r.Post("/start", handler.Start)
		r.Post("/stop", handler.Stop)
	})
}
