package mesh

import (
	"sort"
	"sync"

	apperrors "github.com/meshgate/meshgate/internal/errors"
)

// ServiceDescriptor describes one registered backend service.
type ServiceDescriptor struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Version    string   `json:"version,omitempty"`
	Endpoints  []string `json:"endpoints"`
	HealthPath string   `json:"health_path,omitempty"`
}

// registry holds the service descriptors and their circuit breakers. A
// descriptor and its breaker are always created under the same lock, so a
// service is never observable half-registered.
type registry struct {
	mu       sync.RWMutex
	services map[string]ServiceDescriptor
	breakers map[string]*CircuitBreaker
}

func newRegistry() *registry {
	return &registry{
		services: make(map[string]ServiceDescriptor),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// register stores the descriptor and ensures a breaker exists for it.
// Re-registration replaces the descriptor but keeps the breaker, so a
// discovery refresh does not erase accumulated failure state.
func (r *registry) register(desc ServiceDescriptor, newBreaker func() *CircuitBreaker) error {
	if desc.ID == "" {
		return apperrors.NewInvalidInputError("service descriptor requires an id")
	}
	if len(desc.Endpoints) == 0 {
		return apperrors.NewInvalidInputError("service descriptor requires at least one endpoint")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.services[desc.ID] = desc
	if _, ok := r.breakers[desc.ID]; !ok {
		r.breakers[desc.ID] = newBreaker()
	}
	return nil
}

// lookup returns the descriptor and breaker for a service id.
func (r *registry) lookup(serviceID string) (ServiceDescriptor, *CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.services[serviceID]
	if !ok {
		return ServiceDescriptor{}, nil, false
	}
	return desc, r.breakers[serviceID], true
}

// list returns all descriptors sorted by id.
func (r *registry) list() []ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceDescriptor, 0, len(r.services))
	for _, desc := range r.services {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}
