package registry

import (
	"sort"
	"time"

	"servis/internal/domain"
)

// failureWindow bounds how long consecutive-failure streaks count toward a
// health transition.
const failureWindow = 30 * time.Second

// Outcome classifies an invocation result for health accounting.
type Outcome int

const (
	// OutcomeSuccess is a completed invocation.
	OutcomeSuccess Outcome = iota
	// OutcomeSoftFailure is a structured downstream error (5xx-equivalent).
	OutcomeSoftFailure
	// OutcomeHardFailure is a timeout or transport fault.
	OutcomeHardFailure
)

// RecordHeartbeat folds a probe result into the health state machine and
// refreshes last-seen.
func (r *Registry) RecordHeartbeat(name string, observed domain.HealthStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.services[name]
	if !ok {
		return
	}
	e.desc.LastSeen = r.now()
	e.probeFails = 0

	switch observed {
	case domain.HealthHealthy:
		switch e.desc.Health {
		case domain.HealthUnknown:
			r.transition(e, domain.HealthHealthy, "first successful probe")
		case domain.HealthUnhealthy:
			r.transition(e, domain.HealthDegraded, "successful probe")
		}
	case domain.HealthDegraded:
		if e.desc.Health == domain.HealthHealthy || e.desc.Health == domain.HealthUnknown {
			r.transition(e, domain.HealthDegraded, "probe reported degraded")
		}
	case domain.HealthUnhealthy:
		if e.desc.Health != domain.HealthUnhealthy {
			r.transition(e, domain.HealthUnhealthy, "probe reported unhealthy")
		}
	}
}

// RecordProbeFailure counts a failed probe. After the configured number of
// consecutive failures the service is removed.
func (r *Registry) RecordProbeFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.services[name]
	if !ok {
		return
	}
	e.probeFails++
	limit := r.config.HeartbeatFailureLimit
	if limit <= 0 {
		limit = 5
	}
	if e.probeFails >= limit {
		delete(r.services, name)
		r.logger.Warn("service removed after consecutive probe failures",
			"service", name, "failures", e.probeFails)
	}
}

// RecordInvocationResult folds one invocation outcome into the health state
// machine and analytics.
func (r *Registry) RecordInvocationResult(name string, outcome Outcome, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.services[name]
	if !ok {
		return
	}
	now := r.now()
	e.invocations++
	e.lastLatency = latency

	switch outcome {
	case OutcomeSuccess:
		e.desc.LastSeen = now
		e.softFails = 0
		e.hardFails = 0
		r.pushLatency(e, latency)

		threshold := r.threshold(e.desc)
		if latency < threshold {
			e.goodStreak++
		} else {
			e.goodStreak = 0
		}

		switch e.desc.Health {
		case domain.HealthUnknown:
			r.transition(e, domain.HealthHealthy, "first successful invocation")
		case domain.HealthDegraded:
			if e.goodStreak >= 3 {
				r.transition(e, domain.HealthHealthy, "recovered")
			}
		case domain.HealthHealthy:
			if p95 := percentile95(e.latencies); len(e.latencies) >= 4 && p95 > threshold {
				r.transition(e, domain.HealthDegraded, "p95 latency over threshold")
			}
		}

	case OutcomeSoftFailure:
		e.failures++
		e.goodStreak = 0
		if now.Sub(e.softWindow) > failureWindow {
			e.softFails = 0
		}
		if e.softFails == 0 {
			e.softWindow = now
		}
		e.softFails++
		if e.desc.Health == domain.HealthHealthy && e.softFails >= 2 {
			r.transition(e, domain.HealthDegraded, "consecutive soft failures")
		}

	case OutcomeHardFailure:
		e.failures++
		e.goodStreak = 0
		if now.Sub(e.hardWindow) > failureWindow {
			e.hardFails = 0
		}
		if e.hardFails == 0 {
			e.hardWindow = now
		}
		e.hardFails++
		switch e.desc.Health {
		case domain.HealthHealthy:
			// A hard failure is at least as bad as a soft one.
			if now.Sub(e.softWindow) > failureWindow {
				e.softFails = 0
			}
			if e.softFails == 0 {
				e.softWindow = now
			}
			e.softFails++
			if e.softFails >= 2 {
				r.transition(e, domain.HealthDegraded, "consecutive failures")
			}
		case domain.HealthDegraded:
			if e.hardFails >= 3 {
				r.transition(e, domain.HealthUnhealthy, "consecutive hard failures")
			}
		}
	}
}

// MarkUnhealthy forces a service unhealthy.
func (r *Registry) MarkUnhealthy(name, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.services[name]; ok && e.desc.Health != domain.HealthUnhealthy {
		r.transition(e, domain.HealthUnhealthy, reason)
	}
}

// MarkHealthy forces a service healthy.
func (r *Registry) MarkHealthy(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.services[name]; ok && e.desc.Health != domain.HealthHealthy {
		r.transition(e, domain.HealthHealthy, "marked healthy")
	}
}

// CheckLiveness demotes services with stale heartbeats and evicts services
// that have been unhealthy for the full eviction window. Called from the
// heartbeat loop.
func (r *Registry) CheckLiveness() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	interval := r.config.HeartbeatInterval()
	eviction := r.config.EvictionWindow()

	for name, e := range r.services {
		age := now.Sub(e.desc.LastSeen)
		switch {
		case age >= 5*interval:
			if e.desc.Health != domain.HealthUnhealthy {
				r.transition(e, domain.HealthUnhealthy, "missed heartbeats")
			}
		case age >= 3*interval:
			switch e.desc.Health {
			case domain.HealthHealthy, domain.HealthUnknown:
				r.transition(e, domain.HealthDegraded, "missed heartbeat")
			}
		}

		if e.desc.Health == domain.HealthUnhealthy && eviction > 0 &&
			!e.unhealthyFrom.IsZero() && now.Sub(e.unhealthyFrom) >= eviction {
			delete(r.services, name)
			r.logger.Warn("service evicted after unhealthy window", "service", name)
		}
	}
}

// transition moves a service to a new health state. Callers hold r.mu.
func (r *Registry) transition(e *entry, to domain.HealthStatus, reason string) {
	from := e.desc.Health
	if from == to {
		return
	}
	e.desc.Health = to
	if to == domain.HealthUnhealthy {
		e.unhealthyFrom = r.now()
	} else {
		e.unhealthyFrom = time.Time{}
	}
	// Failure streaks survive demotions so a run of hard failures can walk
	// the service down two levels; recoveries start from a clean slate.
	if to.Rank() < from.Rank() {
		e.goodStreak = 0
		e.hardFails = 0
		e.softFails = 0
	}
	r.logger.Info("service health transition",
		"service", e.desc.Name, "from", string(from), "to", string(to), "reason", reason)
}

func (r *Registry) pushLatency(e *entry, latency time.Duration) {
	if len(e.latencies) < latencyWindow {
		e.latencies = append(e.latencies, latency)
		return
	}
	e.latencies[e.latencyAt] = latency
	e.latencyAt = (e.latencyAt + 1) % latencyWindow
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted)*95 + 99) / 100
	if idx > 0 {
		idx--
	}
	return sorted[idx]
}
