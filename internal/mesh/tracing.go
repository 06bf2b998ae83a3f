package mesh

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/google/uuid"
)

// Flavor selects which mesh sidecar header conventions outbound calls
// follow.
type Flavor string

const (
	FlavorIstio   Flavor = "istio"
	FlavorLinkerd Flavor = "linkerd"
)

// headerInjector adds flavor-specific headers to an outbound request.
type headerInjector func(h http.Header, localService string)

// flavorInjectors is the strategy table keyed by mesh flavor. Both flavors
// share the base request-id and B3 headers; these add the rest.
var flavorInjectors = map[Flavor]headerInjector{
	FlavorIstio: func(h http.Header, _ string) {
		h.Set("x-envoy-attempt-count", "1")
	},
	FlavorLinkerd: func(h http.Header, localService string) {
		h.Set("l5d-dst-service", localService)
	},
}

// addTracingHeaders sets the request-id and B3 trace/span headers common to
// all flavors, then dispatches to the flavor strategy.
func addTracingHeaders(h http.Header, flavor Flavor, localService, requestID string) {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	h.Set("x-request-id", requestID)
	h.Set("x-b3-traceid", randomHex(16))
	h.Set("x-b3-spanid", randomHex(8))

	if inject, ok := flavorInjectors[flavor]; ok {
		inject(h, localService)
	}
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
