package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/fanzone-auth/internal/config"
	"github.com/hongminglow/fanzone-auth/internal/http/handlers"
	"github.com/hongminglow/fanzone-auth/internal/metrics"
	"github.com/hongminglow/fanzone-auth/internal/middleware"
	"github.com/hongminglow/fanzone-auth/internal/service"
)

// Server wraps an http.Server with configured routes.
type Server struct {
	inner *http.Server
}

// NewRouter builds the middleware chain and mounts every route.
func NewRouter(cfg config.Config, svc *service.AuthService, store handlers.Pinger, l *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(l))
	r.Use(middleware.Logging(l))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Metrics)

	trusted, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		l.Warn("forwarding headers will be ignored", slog.String("error", err.Error()))
	}
	limit := middleware.RateLimit(cfg.LoginRatePerSecond, cfg.LoginRateBurst, trusted, l)

	handlers.NewHealthHandler(time.Now(), store, l).Register(r)
	handlers.NewAuthHandler(svc, l).Register(r, limit)
	handlers.NewAdminHandler(svc, l).Register(r)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	return r
}

// New wires up middleware, routes, and returns a ready server.
func New(cfg config.Config, svc *service.AuthService, store handlers.Pinger, l *slog.Logger) *Server {
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           NewRouter(cfg, svc, store, l),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          slog.NewLogLogger(l.Handler(), slog.LevelWarn),
	}

	return &Server{inner: httpServer}
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
