package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusFromCode(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{CodeRateLimitExceeded, http.StatusTooManyRequests},
		{CodeStoreUnavailable, http.StatusServiceUnavailable},
		{CodeServiceUnavailable, http.StatusServiceUnavailable},
		{CodeDiscoveryFailed, http.StatusServiceUnavailable},
		{CodeTokenExpired, http.StatusUnauthorized},
		{CodeTokenRevoked, http.StatusUnauthorized},
		{CodeTokenInvalid, http.StatusUnauthorized},
		{CodeClientAuthFailed, http.StatusUnauthorized},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeAuthCodeInvalid, http.StatusBadRequest},
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeServiceNotFound, http.StatusNotFound},
		{CodeNotFound, http.StatusNotFound},
		{CodeMethodNotAllowed, http.StatusMethodNotAllowed},
		{CodeInternal, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatusFromCode(tt.code), tt.code)
	}
}

func TestCodeOfAndIsCode(t *testing.T) {
	err := NewTokenExpiredError("token expired at 12:00")
	assert.Equal(t, CodeTokenExpired, CodeOf(err))
	assert.True(t, IsCode(err, CodeTokenExpired))
	assert.False(t, IsCode(err, CodeTokenRevoked))

	plain := errors.New("plain failure")
	assert.Equal(t, CodeInternal, CodeOf(plain))
	assert.Equal(t, "", CodeOf(nil))
}

func TestEnsureEnvelopePassesThrough(t *testing.T) {
	original := NewServiceNotFoundError("no such service")
	assert.Same(t, original, EnsureEnvelope(original))

	wrapped := EnsureEnvelope(errors.New("raw"))
	assert.Equal(t, CodeInternal, wrapped.Code)
	assert.Equal(t, "raw", wrapped.Message)
}

func TestRespondWithErrorWritesFlatBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/services/ghost", nil)

	RespondWithError(rec, req, NewServiceNotFoundError("service ghost is not registered"))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Service not found", body.Error)
	assert.Equal(t, "service ghost is not registered", body.Message)
	assert.NotEmpty(t, body.RequestID)
}

func TestProductionModeSanitizesServerErrors(t *testing.T) {
	SetProductionMode(true)
	defer SetProductionMode(false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	RespondWithError(rec, req, NewInternalError("redis connection refused at 10.0.0.5"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "An internal error occurred", body.Message)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestProductionModeKeepsClientErrorMessages(t *testing.T) {
	SetProductionMode(true)
	defer SetProductionMode(false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", nil)
	RespondWithError(rec, req, NewAuthCodeInvalidError("authorization code expired or already used"))

	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "authorization code expired or already used", body.Message)
}

func TestWrapAttachesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	env := WrapStoreUnavailable(ctx, cause, "shared store unreachable")

	assert.Equal(t, CodeStoreUnavailable, env.Code)
	assert.Equal(t, "dial tcp: connection refused", env.Context["wrapped_error"])
	assert.NotEmpty(t, env.CorrelationID)
}
