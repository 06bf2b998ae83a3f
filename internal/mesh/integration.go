// Package mesh integrates the gateway with the service mesh: a service
// registry with one circuit breaker per service, discovery, health checks,
// mesh-flavor tracing headers, and the breaker-wrapped dispatch path used by
// the service proxies.
package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/meshgate/meshgate/internal/errors"
	"github.com/meshgate/meshgate/internal/observability"
	"github.com/meshgate/meshgate/internal/server/middleware"
)

// Config contains the mesh integration settings.
type Config struct {
	Flavor       Flavor
	LocalService string
	DiscoveryURL string

	CallTimeout   time.Duration
	HealthTimeout time.Duration

	FailureThreshold int
	Cooldown         time.Duration
}

// CallOptions shape one dispatched backend call.
type CallOptions struct {
	Method string
	Body   io.Reader
	Header http.Header
}

// ServiceStatus is one entry of the aggregated services health map.
type ServiceStatus struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Health  string `json:"health"`
}

// Integration is the service mesh integration layer.
type Integration struct {
	cfg      Config
	registry *registry
	client   *http.Client
	metrics  *observability.Metrics
	logger   *zap.Logger

	rr atomic.Uint64
}

// NewIntegration creates the integration layer. The HTTP client enforces no
// timeout itself; every dispatch derives a bounded per-call context.
func NewIntegration(cfg Config, metrics *observability.Metrics, logger *zap.Logger) *Integration {
	return &Integration{
		cfg:      cfg,
		registry: newRegistry(),
		client:   &http.Client{},
		metrics:  metrics,
		logger:   logger,
	}
}

// RegisterService adds or replaces a service descriptor. The descriptor and
// its circuit breaker are created in the same atomic step.
func (i *Integration) RegisterService(desc ServiceDescriptor) error {
	err := i.registry.register(desc, func() *CircuitBreaker {
		cb := NewCircuitBreaker(i.cfg.FailureThreshold, i.cfg.Cooldown)
		if i.metrics != nil {
			serviceID := desc.ID
			cb.onStateChange = func(state BreakerState) {
				i.metrics.BreakerState.WithLabelValues(serviceID).Set(float64(state))
			}
			i.metrics.BreakerState.WithLabelValues(serviceID).Set(float64(StateClosed))
		}
		return cb
	})
	if err != nil {
		return err
	}

	if i.logger != nil {
		i.logger.Info("service registered",
			zap.String("service", desc.ID),
			zap.Strings("endpoints", desc.Endpoints))
	}
	return nil
}

// DiscoverServices fetches service descriptors from the discovery endpoint
// and registers each one. Any failure propagates; callers must not serve
// proxy traffic on the assumption that discovery populated the registry.
func (i *Integration) DiscoverServices(ctx context.Context) error {
	if i.cfg.DiscoveryURL == "" {
		return apperrors.NewDiscoveryFailedError("no discovery URL configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.cfg.DiscoveryURL, nil)
	if err != nil {
		return apperrors.WrapDiscoveryFailed(ctx, err, "building discovery request failed")
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return apperrors.WrapDiscoveryFailed(ctx, err, "discovery endpoint unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return apperrors.WrapDiscoveryFailed(ctx,
			fmt.Errorf("discovery returned status %d", resp.StatusCode),
			"discovery endpoint returned an error")
	}

	var descriptors []ServiceDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&descriptors); err != nil {
		return apperrors.WrapDiscoveryFailed(ctx, err, "decoding discovery response failed")
	}

	for _, desc := range descriptors {
		if err := i.RegisterService(desc); err != nil {
			return apperrors.WrapDiscoveryFailed(ctx, err, "registering discovered service failed")
		}
	}

	if i.logger != nil {
		i.logger.Info("service discovery completed", zap.Int("services", len(descriptors)))
	}
	return nil
}

// Ready reports whether the registry holds at least one service, from
// static registration or a successful discovery run.
func (i *Integration) Ready() bool {
	return i.registry.size() > 0
}

// Services returns all registered descriptors.
func (i *Integration) Services() []ServiceDescriptor {
	return i.registry.list()
}

// CallService dispatches one request to a registered service through its
// circuit breaker. An unknown service id fails immediately without touching
// the network and without recording call metrics. Every other attempt,
// short-circuited ones included, records a call counter and a duration
// observation.
func (i *Integration) CallService(ctx context.Context, serviceID, path string, opts CallOptions) (*http.Response, error) {
	desc, breaker, ok := i.registry.lookup(serviceID)
	if !ok {
		return nil, apperrors.NewServiceNotFoundError("unknown service: " + serviceID)
	}

	start := time.Now()
	resp, err := i.dispatch(ctx, desc, breaker, path, opts)

	status := "success"
	if err != nil {
		status = "error"
	}
	if i.metrics != nil {
		i.metrics.MeshCalls.WithLabelValues(serviceID, status).Inc()
		i.metrics.MeshCallDuration.WithLabelValues(serviceID).Observe(time.Since(start).Seconds())
	}

	return resp, err
}

func (i *Integration) dispatch(ctx context.Context, desc ServiceDescriptor, breaker *CircuitBreaker, path string, opts CallOptions) (*http.Response, error) {
	if !breaker.Allow() {
		return nil, apperrors.NewServiceUnavailableError("circuit open for service " + desc.ID)
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	callCtx := ctx
	if i.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, i.cfg.CallTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(callCtx, method, i.pickEndpoint(desc)+path, opts.Body)
	if err != nil {
		breaker.Failure()
		return nil, apperrors.WrapServiceUnavailable(ctx, err, "building backend request failed")
	}

	for key, values := range opts.Header {
		req.Header[key] = values
	}
	addTracingHeaders(req.Header, i.cfg.Flavor, i.cfg.LocalService, middleware.GetRequestID(ctx))

	resp, err := i.client.Do(req)
	if err != nil {
		breaker.Failure()
		if i.logger != nil {
			i.logger.Warn("backend call failed",
				zap.String("service", desc.ID),
				zap.String("path", path),
				zap.Error(err))
		}
		return nil, apperrors.WrapServiceUnavailable(ctx, err, "backend call failed for service "+desc.ID)
	}

	breaker.Success()
	return resp, nil
}

// pickEndpoint round-robins across the descriptor's endpoints.
func (i *Integration) pickEndpoint(desc ServiceDescriptor) string {
	endpoint := desc.Endpoints[i.rr.Add(1)%uint64(len(desc.Endpoints))]
	return strings.TrimSuffix(endpoint, "/")
}

// IsServiceHealthy performs a live GET against the service's health path.
// Any 2xx response is healthy; anything else, transport failures included,
// is not. The error return is only for unknown service ids.
func (i *Integration) IsServiceHealthy(ctx context.Context, serviceID string) (bool, error) {
	desc, _, ok := i.registry.lookup(serviceID)
	if !ok {
		return false, apperrors.NewServiceNotFoundError("unknown service: " + serviceID)
	}

	healthCtx := ctx
	if i.cfg.HealthTimeout > 0 {
		var cancel context.CancelFunc
		healthCtx, cancel = context.WithTimeout(ctx, i.cfg.HealthTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(healthCtx, http.MethodGet, i.pickEndpoint(desc)+desc.HealthPath, nil)
	if err != nil {
		return false, nil
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return false, nil
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// GetServicesStatus runs a live health check against every registered
// service concurrently and aggregates the results by service id.
func (i *Integration) GetServicesStatus(ctx context.Context) map[string]ServiceStatus {
	descriptors := i.registry.list()

	var mu sync.Mutex
	statuses := make(map[string]ServiceStatus, len(descriptors))

	g, gctx := errgroup.WithContext(ctx)
	for _, desc := range descriptors {
		g.Go(func() error {
			healthy, _ := i.IsServiceHealthy(gctx, desc.ID)
			health := "unhealthy"
			if healthy {
				health = "healthy"
			}

			mu.Lock()
			statuses[desc.ID] = ServiceStatus{Name: desc.Name, Version: desc.Version, Health: health}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return statuses
}

// CreateServiceProxy returns a handler that forwards requests to one
// registered service. Constructing a proxy for an unknown id fails
// eagerly instead of on first request.
func (i *Integration) CreateServiceProxy(serviceID string) (http.Handler, error) {
	if _, _, ok := i.registry.lookup(serviceID); !ok {
		return nil, apperrors.NewServiceNotFoundError("unknown service: " + serviceID)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := "/" + strings.TrimPrefix(chi.URLParam(r, "*"), "/")
		if r.URL.RawQuery != "" {
			path += "?" + r.URL.RawQuery
		}

		resp, err := i.CallService(r.Context(), serviceID, path, CallOptions{
			Method: r.Method,
			Body:   r.Body,
			Header: proxyHeaders(r.Header),
		})
		if err != nil {
			apperrors.RespondWithError(w, r, err)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		for key, values := range resp.Header {
			w.Header()[key] = values
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	}), nil
}

// proxyHeaders copies the inbound headers, dropping hop-by-hop ones.
func proxyHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for key, values := range h {
		switch http.CanonicalHeaderKey(key) {
		case "Connection", "Keep-Alive", "Proxy-Connection", "Te", "Trailer", "Transfer-Encoding", "Upgrade":
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	return out
}
