package mesh

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/meshgate/meshgate/internal/errors"
	"github.com/meshgate/meshgate/internal/observability"
)

func testIntegration(t *testing.T) *Integration {
	t.Helper()
	return NewIntegration(Config{
		Flavor:           FlavorIstio,
		LocalService:     "meshgate",
		CallTimeout:      5 * time.Second,
		HealthTimeout:    time.Second,
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}, observability.NewMetrics(), nil)
}

func registerBackend(t *testing.T, i *Integration, id, endpoint string) {
	t.Helper()
	require.NoError(t, i.RegisterService(ServiceDescriptor{
		ID:         id,
		Name:       id,
		Endpoints:  []string{endpoint},
		HealthPath: "/health",
	}))
}

func TestRegisterServiceValidation(t *testing.T) {
	i := testIntegration(t)

	err := i.RegisterService(ServiceDescriptor{Endpoints: []string{"http://a"}})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput), "id is required")

	err = i.RegisterService(ServiceDescriptor{ID: "svc"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput), "endpoints are required")
}

func TestCallServiceUnknownIDFailsFast(t *testing.T) {
	i := testIntegration(t)

	_, err := i.CallService(context.Background(), "ghost", "/anything", CallOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeServiceNotFound))

	assert.Equal(t, 0, testutil.CollectAndCount(i.metrics.MeshCallDuration),
		"unknown service must not record a duration observation")
}

func TestCallServiceForwardsAndRecordsSuccess(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/items", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer backend.Close()

	i := testIntegration(t)
	registerBackend(t, i, "catalog", backend.URL)

	resp, err := i.CallService(context.Background(), "catalog", "/api/items", CallOptions{})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(i.metrics.MeshCalls.WithLabelValues("catalog", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(i.metrics.MeshCallDuration))
}

func TestCallServiceInjectsIstioTracingHeaders(t *testing.T) {
	var seen http.Header
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	i := testIntegration(t)
	registerBackend(t, i, "catalog", backend.URL)

	resp, err := i.CallService(context.Background(), "catalog", "/", CallOptions{})
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.NotEmpty(t, seen.Get("x-request-id"))
	assert.Len(t, seen.Get("x-b3-traceid"), 32)
	assert.Len(t, seen.Get("x-b3-spanid"), 16)
	assert.Equal(t, "1", seen.Get("x-envoy-attempt-count"))
	assert.Empty(t, seen.Get("l5d-dst-service"))
}

func TestCallServiceInjectsLinkerdTracingHeaders(t *testing.T) {
	var seen http.Header
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	i := NewIntegration(Config{
		Flavor:           FlavorLinkerd,
		LocalService:     "meshgate",
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}, observability.NewMetrics(), nil)
	registerBackend(t, i, "catalog", backend.URL)

	resp, err := i.CallService(context.Background(), "catalog", "/", CallOptions{})
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "meshgate", seen.Get("l5d-dst-service"))
	assert.Empty(t, seen.Get("x-envoy-attempt-count"))
}

func TestRepeatedFailuresShortCircuit(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	i := testIntegration(t)
	registerBackend(t, i, "orders", backend.URL)
	backend.Close()

	ctx := context.Background()
	for range 3 {
		_, err := i.CallService(ctx, "orders", "/", CallOptions{})
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeServiceUnavailable))
	}

	_, breaker, ok := i.registry.lookup("orders")
	require.True(t, ok)
	assert.Equal(t, StateOpen, breaker.State())

	// The fourth attempt is short-circuited but still counted.
	_, err := i.CallService(ctx, "orders", "/", CallOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeServiceUnavailable))

	assert.Equal(t, 4.0, testutil.ToFloat64(i.metrics.MeshCalls.WithLabelValues("orders", "error")),
		"every attempt increments the error counter, short-circuited ones included")
}

func TestIsServiceHealthy(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	i := testIntegration(t)
	registerBackend(t, i, "good", healthy.URL)
	registerBackend(t, i, "bad", failing.URL)
	registerBackend(t, i, "gone", "http://127.0.0.1:1")

	ctx := context.Background()

	ok, err := i.IsServiceHealthy(ctx, "good")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = i.IsServiceHealthy(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, ok, "non-2xx is unhealthy")

	ok, err = i.IsServiceHealthy(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok, "transport failure is unhealthy")

	_, err = i.IsServiceHealthy(ctx, "ghost")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeServiceNotFound))
}

func TestGetServicesStatusRunsLiveChecks(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	i := testIntegration(t)
	registerBackend(t, i, "user-service", backend.URL)
	registerBackend(t, i, "gone", "http://127.0.0.1:1")

	statuses := i.GetServicesStatus(context.Background())
	require.Len(t, statuses, 2)
	assert.Equal(t, "healthy", statuses["user-service"].Health)
	assert.Equal(t, "unhealthy", statuses["gone"].Health)
}

func TestDiscoverServicesRegistersDescriptors(t *testing.T) {
	discovery := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]ServiceDescriptor{
			{ID: "users", Name: "User Service", Endpoints: []string{"http://users:8080"}, HealthPath: "/health"},
			{ID: "orders", Name: "Order Service", Endpoints: []string{"http://orders:8080"}, HealthPath: "/health"},
		})
	}))
	defer discovery.Close()

	i := NewIntegration(Config{
		DiscoveryURL:     discovery.URL,
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}, observability.NewMetrics(), nil)

	require.False(t, i.Ready())
	require.NoError(t, i.DiscoverServices(context.Background()))
	assert.True(t, i.Ready())
	assert.Len(t, i.Services(), 2)
}

func TestDiscoverServicesPropagatesFailure(t *testing.T) {
	i := NewIntegration(Config{
		DiscoveryURL:     "http://127.0.0.1:1/services",
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}, observability.NewMetrics(), nil)

	err := i.DiscoverServices(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeDiscoveryFailed))
	assert.False(t, i.Ready())
}

func TestCreateServiceProxyUnknownIDFailsEagerly(t *testing.T) {
	i := testIntegration(t)

	_, err := i.CreateServiceProxy("ghost")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeServiceNotFound))
}

func TestServiceProxyForwardsRequest(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/users/42", r.URL.Path)
		assert.Equal(t, "verbose=1", r.URL.RawQuery)
		w.Header().Set("X-Backend", "user-service")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	defer backend.Close()

	i := testIntegration(t)
	registerBackend(t, i, "users", backend.URL)

	proxy, err := i.CreateServiceProxy("users")
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Handle("/services/users/*", proxy)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/services/users/api/users/42?verbose=1", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "user-service", rec.Header().Get("X-Backend"))

	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "created", string(body))
}
