// Package registry maintains the soft state of downstream services: the
// capability index, per-service health, and the deterministic selection
// policy used for routing.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"servis/internal/config"
	"servis/internal/domain"
	"servis/internal/errors"
	"servis/internal/logging"
	"servis/internal/observability"
)

const latencyWindow = 32

type entry struct {
	desc *domain.ServiceDescriptor

	softFails     int
	softWindow    time.Time
	hardFails     int
	hardWindow    time.Time
	goodStreak    int
	unhealthyFrom time.Time
	probeFails    int

	latencies []time.Duration // ring of recent invocation latencies
	latencyAt int

	invocations uint64
	failures    uint64
	lastLatency time.Duration
}

// Registry is the single-process authoritative service directory.
type Registry struct {
	mu       sync.Mutex
	services map[string]*entry

	config  config.RegistryConfig
	logger  *logging.Logger
	metrics *observability.MetricsCollector
	now     func() time.Time
}

// New creates an empty registry.
func New(cfg config.RegistryConfig, logger *logging.Logger, metrics *observability.MetricsCollector) *Registry {
	return &Registry{
		services: make(map[string]*entry),
		config:   cfg,
		logger:   logging.OrNop(logger),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Register adds a service. A duplicate name with the same endpoint is a
// conflict; the same name at a different endpoint replaces atomically.
func (r *Registry) Register(desc *domain.ServiceDescriptor) error {
	if desc == nil || desc.Name == "" {
		return errors.NewPermanent(fmt.Errorf("service descriptor requires a name"), "")
	}
	if desc.MaxConcurrency <= 0 {
		desc.MaxConcurrency = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.services[desc.Name]; ok {
		if existing.desc.Endpoint() == desc.Endpoint() && existing.desc.Transport == desc.Transport {
			return fmt.Errorf("service %s: %w", desc.Name, errors.ErrAlreadyExists)
		}
		r.logger.Info("replacing service registration",
			"service", desc.Name, "endpoint", desc.Endpoint())
	}

	clone := desc.Clone()
	clone.Health = domain.HealthUnknown
	clone.InFlight = 0
	clone.LastSeen = r.now()
	r.services[desc.Name] = &entry{desc: clone}
	r.logger.Info("service registered",
		"service", clone.Name, "transport", string(clone.Transport), "capabilities", clone.Capabilities)
	return nil
}

// Unregister removes a service by name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name]; !ok {
		return fmt.Errorf("service %s: %w", name, errors.ErrNotFound)
	}
	delete(r.services, name)
	r.logger.Info("service unregistered", "service", name)
	return nil
}

// List returns a snapshot of every known service.
func (r *Registry) List() []*domain.ServiceDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.ServiceDescriptor, 0, len(r.services))
	for _, e := range r.services {
		out = append(out, e.desc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindByCapability returns healthy and degraded services advertising the
// capability, sorted by (health rank, in-flight, name).
func (r *Registry) FindByCapability(capability string) []*domain.ServiceDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.ServiceDescriptor
	for _, e := range r.services {
		if !e.desc.HasCapability(capability) {
			continue
		}
		switch e.desc.Health {
		case domain.HealthHealthy, domain.HealthDegraded:
			out = append(out, e.desc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Health.Rank() != b.Health.Rank() {
			return a.Health.Rank() < b.Health.Rank()
		}
		if a.InFlight != b.InFlight {
			return a.InFlight < b.InFlight
		}
		return a.Name < b.Name
	})
	return out
}

// Acquire picks the eligible service minimizing (in-flight, name) for the
// capability and reserves one concurrency slot. Callers must Release the
// returned service exactly once.
func (r *Registry) Acquire(capability string) (*domain.ServiceDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *entry
	for _, e := range r.services {
		if !e.desc.HasCapability(capability) {
			continue
		}
		switch e.desc.Health {
		case domain.HealthHealthy, domain.HealthDegraded:
		default:
			continue
		}
		if e.desc.InFlight >= e.desc.MaxConcurrency {
			continue
		}
		if best == nil ||
			e.desc.InFlight < best.desc.InFlight ||
			(e.desc.InFlight == best.desc.InFlight && e.desc.Name < best.desc.Name) {
			best = e
		}
	}
	if best == nil {
		return nil, errors.New(errors.KindNoService,
			fmt.Sprintf("no eligible service for capability %q", capability))
	}
	best.desc.InFlight++
	return best.desc.Clone(), nil
}

// Release returns one concurrency slot for the named service.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.services[name]; ok && e.desc.InFlight > 0 {
		e.desc.InFlight--
	}
}

// InFlight reports the current in-flight count for a service; -1 when the
// service is unknown.
func (r *Registry) InFlight(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.services[name]; ok {
		return e.desc.InFlight
	}
	return -1
}

// ServiceStats is the analytics snapshot for one service.
type ServiceStats struct {
	Name        string               `json:"name"`
	Health      domain.HealthStatus  `json:"health"`
	Invocations uint64               `json:"invocations"`
	Failures    uint64               `json:"failures"`
	LastLatency time.Duration        `json:"-"`
	LatencyMs   int64                `json:"last_latency_ms"`
	LastSeen    time.Time            `json:"last_seen"`
	InFlight    int                  `json:"in_flight"`
}

// Stats returns per-service analytics, sorted by name.
func (r *Registry) Stats() []ServiceStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ServiceStats, 0, len(r.services))
	for _, e := range r.services {
		out = append(out, ServiceStats{
			Name:        e.desc.Name,
			Health:      e.desc.Health,
			Invocations: e.invocations,
			Failures:    e.failures,
			LastLatency: e.lastLatency,
			LatencyMs:   e.lastLatency.Milliseconds(),
			LastSeen:    e.desc.LastSeen,
			InFlight:    e.desc.InFlight,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// threshold returns the degradation latency threshold for a service, based
// on its first advertised capability.
func (r *Registry) threshold(desc *domain.ServiceDescriptor) time.Duration {
	capability := ""
	if len(desc.Capabilities) > 0 {
		capability = desc.Capabilities[0]
	}
	return r.config.LatencyThreshold(capability)
}
