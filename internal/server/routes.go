package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/meshgate/meshgate/internal/errors"
	"github.com/meshgate/meshgate/internal/oauth2"
	"github.com/meshgate/meshgate/internal/server/handlers"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	health := handlers.NewHealth(s.cfg.Runtime.Mode, s.ready)
	s.router.Get("/health", health.HealthHandler)
	s.router.Get("/health/live", health.LivenessHandler)
	s.router.Get("/health/ready", health.ReadinessHandler)

	s.router.Get("/version", handlers.VersionHandler)

	if s.cfg.Metrics.Enabled {
		s.router.Get("/metrics", s.metrics.Handler().ServeHTTP)
	}

	if s.deps.OAuth2 != nil {
		oauth2.NewHandler(s.deps.OAuth2).Register(s.router)
	}

	if s.deps.Tokens != nil {
		s.router.Post("/auth/refresh", s.refreshToken)
		s.router.Post("/auth/revoke", s.revokeToken)
	}

	if s.deps.Mesh != nil {
		s.router.Get("/services", s.servicesStatus)
		s.router.Handle("/services/{serviceID}/*", http.HandlerFunc(s.serviceProxy))
	}
}

// servicesStatus handles GET /services: a live health check of every
// registered service.
func (s *Server) servicesStatus(w http.ResponseWriter, r *http.Request) {
	statuses := s.deps.Mesh.GetServicesStatus(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"services": statuses,
		"count":    len(statuses),
	})
}

// serviceProxy dispatches /services/{serviceID}/* to the backend through
// its circuit breaker.
func (s *Server) serviceProxy(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		apperrors.RespondWithError(w, r,
			apperrors.NewServiceUnavailableError("service registry is not populated yet"))
		return
	}

	proxy, err := s.deps.Mesh.CreateServiceProxy(chi.URLParam(r, "serviceID"))
	if err != nil {
		apperrors.RespondWithError(w, r, err)
		return
	}

	proxy.ServeHTTP(w, r)
}
