package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is the aggregate health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
}

// ProbeResponse is an individual liveness/readiness probe response.
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health serves the health and probe endpoints.
type Health struct {
	// Environment is the runtime mode reported to callers.
	Environment string

	// Ready reports whether the gateway may serve proxy traffic. Nil
	// means always ready.
	Ready func() bool
}

// NewHealth creates the health handler set.
func NewHealth(environment string, ready func() bool) *Health {
	return &Health{Environment: environment, Ready: ready}
}

// HealthHandler handles GET /health.
func (h *Health) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		Environment: h.Environment,
	})
}

// LivenessHandler handles GET /health/live. The process is alive as long
// as it can answer at all.
func (h *Health) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProbeResponse{Status: "alive", Timestamp: time.Now().UTC()})
}

// ReadinessHandler handles GET /health/ready. The gateway is not ready
// until its service registry is populated, from static configuration or a
// successful discovery run.
func (h *Health) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil && !h.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, ProbeResponse{Status: "not ready", Timestamp: time.Now().UTC()})
		return
	}
	writeJSON(w, http.StatusOK, ProbeResponse{Status: "ready", Timestamp: time.Now().UTC()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
