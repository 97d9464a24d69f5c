package domain

import (
	"fmt"
	"time"
)

// ServiceDescriptor describes one downstream service known to the registry.
// Name is unique within the registry; Health and InFlight are owned by the
// registry and callers must treat snapshots as read-only.
type ServiceDescriptor struct {
	Name           string       `json:"name"`
	Host           string       `json:"host"`
	Port           int          `json:"port"`
	Transport      TransportTag `json:"transport"`
	Capabilities   []string     `json:"capabilities"`
	Health         HealthStatus `json:"health"`
	LastSeen       time.Time    `json:"last_seen"`
	InFlight       int          `json:"in_flight"`
	MaxConcurrency int          `json:"max_concurrency"`
}

// HasCapability reports whether the service advertises the given capability.
func (d *ServiceDescriptor) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Endpoint returns the host:port address of the service.
func (d *ServiceDescriptor) Endpoint() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// Clone returns a copy safe to hand out as a snapshot.
func (d *ServiceDescriptor) Clone() *ServiceDescriptor {
	if d == nil {
		return nil
	}
	out := *d
	out.Capabilities = append([]string(nil), d.Capabilities...)
	return &out
}
