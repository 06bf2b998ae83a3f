// Package server composes the gateway pipeline: security headers, request
// id propagation, metrics, panic recovery, rate limiting, the OAuth2 and
// token endpoints, and the service-mesh proxy routes, with centralized
// error rendering.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/meshgate/meshgate/internal/config"
	apperrors "github.com/meshgate/meshgate/internal/errors"
	"github.com/meshgate/meshgate/internal/mesh"
	"github.com/meshgate/meshgate/internal/oauth2"
	"github.com/meshgate/meshgate/internal/observability"
	"github.com/meshgate/meshgate/internal/ratelimit"
	servermw "github.com/meshgate/meshgate/internal/server/middleware"
	"github.com/meshgate/meshgate/internal/token"
)

// Dependencies are the gateway components the server composes. Any of them
// may be nil; the corresponding routes or middleware are then omitted and
// the gateway degrades per component policy.
type Dependencies struct {
	Limiter *ratelimit.Limiter
	Tokens  *token.Provider
	OAuth2  *oauth2.Provider
	Mesh    *mesh.Integration

	// LoadTracker feeds the limiter's load signal from in-flight request
	// concurrency. Its Track middleware is mounted ahead of the limiter.
	LoadTracker *ratelimit.LoadTracker
}

// Server represents the gateway HTTP server.
type Server struct {
	cfg     *config.Config
	deps    Dependencies
	router  *chi.Mux
	server  *http.Server
	metrics *observability.Metrics
	logger  *zap.Logger
}

// New creates a gateway server instance and wires the request pipeline.
func New(cfg *config.Config, deps Dependencies, metrics *observability.Metrics, logger *zap.Logger) *Server {
	apperrors.SetProductionMode(cfg.Runtime.Production())

	r := chi.NewRouter()

	// Pipeline order: correlation and headers first, then measurement,
	// then recovery, then authentication and rate limiting.
	r.Use(chimw.RealIP)
	r.Use(servermw.RequestID)
	r.Use(servermw.SecurityHeaders)
	if len(cfg.CORS.AllowedOrigins) > 0 {
		r.Use(servermw.CORS(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders))
	}
	r.Use(servermw.RequestMetrics(metrics, logger))
	r.Use(servermw.Recovery(metrics, logger, cfg.Runtime.Production()))

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		router:  r,
		metrics: metrics,
		logger:  logger,
	}

	if deps.LoadTracker != nil {
		r.Use(deps.LoadTracker.Track)
	}
	if deps.Tokens != nil || deps.OAuth2 != nil {
		r.Use(s.principal)
	}
	if deps.Limiter != nil {
		r.Use(deps.Limiter.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewNotFoundError(""))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewMethodNotAllowedError(""))
	})

	s.registerRoutes()

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	if s.logger != nil {
		s.logger.Info("Starting HTTP server",
			zap.String("addr", addr),
			zap.String("mode", s.cfg.Runtime.Mode))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Info("Shutting down HTTP server")
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ready reports whether the gateway may serve service-proxy traffic. When
// a discovery URL is configured the registry must have been populated,
// either by discovery or by static registration.
func (s *Server) ready() bool {
	if s.deps.Mesh == nil || s.cfg.Mesh.DiscoveryURL == "" {
		return true
	}
	return s.deps.Mesh.Ready()
}
