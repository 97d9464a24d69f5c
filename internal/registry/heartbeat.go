package registry

import (
	"context"
	"sync"
	"time"

	"servis/internal/domain"
	"servis/internal/logging"
)

// HeartbeatRunner drives periodic health probes against every registered
// service and feeds the results into the registry's state machine.
type HeartbeatRunner struct {
	registry *Registry
	probers  map[domain.TransportTag]Prober
	logger   *logging.Logger
}

// NewHeartbeatRunner builds a runner. Services whose transport has no
// prober are skipped; their health only moves via invocation results.
func NewHeartbeatRunner(registry *Registry, probers map[domain.TransportTag]Prober, logger *logging.Logger) *HeartbeatRunner {
	return &HeartbeatRunner{
		registry: registry,
		probers:  probers,
		logger:   logging.OrNop(logger),
	}
}

// Run probes on the configured interval until ctx is cancelled.
func (h *HeartbeatRunner) Run(ctx context.Context) {
	interval := h.registry.config.HeartbeatInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.logger.Info("heartbeat loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat loop stopped")
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// Sweep probes every service once, concurrently, then applies liveness
// demotions and evictions.
func (h *HeartbeatRunner) Sweep(ctx context.Context) {
	services := h.registry.List()
	timeout := h.registry.config.ProbeTimeout()

	var wg sync.WaitGroup
	for _, desc := range services {
		prober, ok := h.probers[desc.Transport]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(desc *domain.ServiceDescriptor) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			status, err := prober.Probe(probeCtx, desc)
			if err != nil {
				h.logger.Debug("probe failed", "service", desc.Name, "error", err)
				h.registry.RecordProbeFailure(desc.Name)
				return
			}
			h.registry.RecordHeartbeat(desc.Name, status)
		}(desc)
	}
	wg.Wait()

	h.registry.CheckLiveness()
}
