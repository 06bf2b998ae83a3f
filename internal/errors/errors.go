// Package errors provides the gateway's error taxonomy on top of gofulmen
// error envelopes, plus the centralized HTTP error responder. Every error
// that reaches a caller is rendered as the stable JSON shape
// {error, message, request_id} so integrations can branch on the error
// string and status code alone.
package errors

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meshgate/meshgate/internal/observability"
	"github.com/meshgate/meshgate/internal/server/middleware"
)

// Gateway error codes. These are the values carried in ErrorEnvelope.Code
// and mapped to HTTP statuses by HTTPStatusFromCode.
const (
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenRevoked       = "TOKEN_REVOKED"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeClientAuthFailed   = "CLIENT_AUTH_FAILED"
	CodeAuthCodeInvalid    = "AUTH_CODE_INVALID"
	CodeServiceNotFound    = "SERVICE_NOT_FOUND"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeDiscoveryFailed    = "DISCOVERY_FAILED"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInternal           = "INTERNAL_ERROR"
)

// Error creation helpers for the gateway taxonomy.

func NewRateLimitExceededError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeRateLimitExceeded, message)
}

func NewStoreUnavailableError(message string) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(CodeStoreUnavailable, message)
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

func NewTokenExpiredError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeTokenExpired, message)
}

func NewTokenRevokedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeTokenRevoked, message)
}

func NewTokenInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeTokenInvalid, message)
}

func NewClientAuthFailedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeClientAuthFailed, message)
}

func NewAuthCodeInvalidError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeAuthCodeInvalid, message)
}

func NewServiceNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeServiceNotFound, message)
}

func NewServiceUnavailableError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeServiceUnavailable, message)
}

func NewDiscoveryFailedError(message string) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(CodeDiscoveryFailed, message)
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

func NewInvalidInputError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeInvalidInput, message)
}

func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeNotFound, message)
}

func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeMethodNotAllowed, message)
}

func NewUnauthorizedError(message string) *errors.ErrorEnvelope {
	return errors.NewErrorEnvelope(CodeUnauthorized, message)
}

func NewInternalError(message string) *errors.ErrorEnvelope {
	env := errors.NewErrorEnvelope(CodeInternal, message)
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

// Wrap helpers attach the original error and request correlation to an envelope.

func WrapStoreUnavailable(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, err, NewStoreUnavailableError(message))
}

func WrapServiceUnavailable(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, err, NewServiceUnavailableError(message))
}

func WrapDiscoveryFailed(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, err, NewDiscoveryFailedError(message))
}

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, err, NewInternalError(message))
}

func wrap(ctx context.Context, err error, envelope *errors.ErrorEnvelope) *errors.ErrorEnvelope {
	envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	if err != nil {
		if updated, ctxErr := envelope.WithContext(map[string]interface{}{
			"wrapped_error": err.Error(),
		}); ctxErr == nil {
			envelope = updated
		}
	}
	return envelope
}

// extractCorrelationID gets the request ID from context, falling back to a
// fresh UUID so error envelopes are always correlatable.
func extractCorrelationID(ctx context.Context) string {
	if ctx != nil {
		if requestID := middleware.GetRequestID(ctx); requestID != "" {
			return requestID
		}
	}
	return uuid.New().String()
}

// EnsureEnvelope normalizes any error into an ErrorEnvelope.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	if err == nil {
		env := errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		env, _ = env.WithSeverity(errors.SeverityCritical)
		return env
	}

	if envelope, ok := err.(*errors.ErrorEnvelope); ok && envelope != nil {
		return envelope
	}

	env := errors.NewErrorEnvelope(CodeInternal, err.Error())
	env, _ = env.WithSeverity(errors.SeverityHigh)
	return env
}

// CodeOf returns the gateway error code for err, or CodeInternal for
// errors that are not envelopes.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if envelope, ok := err.(*errors.ErrorEnvelope); ok && envelope != nil {
		return envelope.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given gateway error code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// HTTPStatusFromCode resolves the HTTP status corresponding to an error code.
func HTTPStatusFromCode(code string) int {
	switch code {
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeStoreUnavailable, CodeServiceUnavailable, CodeDiscoveryFailed:
		return http.StatusServiceUnavailable
	case CodeTokenExpired, CodeTokenRevoked, CodeTokenInvalid, CodeClientAuthFailed, CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeAuthCodeInvalid, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeServiceNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// titleForCode is the short, stable string carried in the "error" field.
func titleForCode(code string) string {
	switch code {
	case CodeRateLimitExceeded:
		return "Rate limit exceeded"
	case CodeStoreUnavailable:
		return "Store unavailable"
	case CodeTokenExpired:
		return "Token expired"
	case CodeTokenRevoked:
		return "Token revoked"
	case CodeTokenInvalid:
		return "Token invalid"
	case CodeClientAuthFailed:
		return "Client authentication failed"
	case CodeAuthCodeInvalid:
		return "Authorization code invalid"
	case CodeServiceNotFound:
		return "Service not found"
	case CodeServiceUnavailable:
		return "Service unavailable"
	case CodeDiscoveryFailed:
		return "Service discovery failed"
	case CodeInvalidInput:
		return "Invalid input"
	case CodeNotFound:
		return "Resource not found"
	case CodeMethodNotAllowed:
		return "Method not allowed"
	case CodeUnauthorized:
		return "Unauthorized"
	default:
		return "Internal server error"
	}
}

// productionMode controls error message sanitization. When enabled, 5xx
// responses never carry internal error text.
var productionMode bool

// SetProductionMode toggles sanitization of server error messages. Called
// once at startup from config.
func SetProductionMode(enabled bool) {
	productionMode = enabled
}

// ProductionMode reports the current sanitization setting.
func ProductionMode() bool {
	return productionMode
}

const genericServerErrorMessage = "An internal error occurred"

// HTTPErrorResponse is the JSON body written for every error response.
type HTTPErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// RespondWithError normalizes the supplied error and writes a JSON response.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope finalizes the provided envelope, logging it and writing
// the flat error body.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil || envelope == nil {
		return
	}

	if envelope.CorrelationID == "" {
		var ctx context.Context
		if r != nil {
			ctx = r.Context()
		}
		envelope = envelope.WithCorrelationID(extractCorrelationID(ctx))
	}

	statusCode := HTTPStatusFromCode(envelope.Code)

	message := envelope.Message
	if productionMode && statusCode >= http.StatusInternalServerError {
		message = genericServerErrorMessage
	}

	response := HTTPErrorResponse{
		Error:     titleForCode(envelope.Code),
		Message:   message,
		RequestID: envelope.CorrelationID,
	}

	logHTTPError(envelope, statusCode)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

func logHTTPError(envelope *errors.ErrorEnvelope, statusCode int) {
	if observability.ServerLogger == nil || envelope == nil {
		return
	}

	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", statusCode),
	}

	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}

	if envelope.CorrelationID != "" {
		fields = append(fields, zap.String("request_id", envelope.CorrelationID))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		observability.ServerLogger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		observability.ServerLogger.Warn(envelope.Message, fields...)
	default:
		observability.ServerLogger.Info(envelope.Message, fields...)
	}
}
