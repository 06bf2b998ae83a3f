package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/meshgate/meshgate/internal/observability"
)

// errorBody mirrors the gateway's standard error response shape. Defined
// locally to keep this package free of a dependency on the errors package
// (which itself depends on GetRequestID here).
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Recovery returns a middleware that recovers from handler panics, logs
// them with the request ID, and renders a 500 response. In production mode
// the panic text is never surfaced to the caller.
func Recovery(m *observability.Metrics, logger *zap.Logger, production bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					requestID := GetRequestID(r.Context())

					if logger != nil {
						logger.Error("recovered from handler panic",
							zap.Any("panic", rec),
							zap.String("request_id", requestID),
							zap.String("path", r.URL.Path),
							zap.ByteString("stack", debug.Stack()),
						)
					}

					if m != nil {
						m.Panics.Inc()
					}

					message := fmt.Sprintf("panic: %v", rec)
					if production {
						message = "An internal error occurred"
					}

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(errorBody{
						Error:     "Internal server error",
						Message:   message,
						RequestID: requestID,
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
