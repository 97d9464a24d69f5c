package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"servis/internal/domain"
	"servis/internal/errors"
)

// Prober checks liveness of one service over its transport.
type Prober interface {
	Probe(ctx context.Context, desc *domain.ServiceDescriptor) (domain.HealthStatus, error)
}

// HTTPProber probes GET /health on the service endpoint. 200 maps to
// healthy, 503 to degraded, anything else to unhealthy.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber builds a prober with a dedicated client. The per-probe
// deadline comes from the caller's context.
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (p *HTTPProber) Probe(ctx context.Context, desc *domain.ServiceDescriptor) (domain.HealthStatus, error) {
	url := fmt.Sprintf("http://%s/health", desc.Endpoint())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.HealthUnknown, errors.NewPermanent(err, "build probe request")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return domain.HealthUnknown, errors.NewTransient(err, "probe "+desc.Name)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return domain.HealthHealthy, nil
	case http.StatusServiceUnavailable:
		return domain.HealthDegraded, nil
	default:
		return domain.HealthUnhealthy, nil
	}
}

// healthPayload is the retained MQTT health announcement published by a
// service on health/<name>.
type healthPayload struct {
	Status string `json:"status"`
}

// MQTTProber reads the retained health announcement for a service. A
// service that never published one counts as a failed probe.
type MQTTProber struct {
	client mqtt.Client
}

// NewMQTTProber wraps an already-connected MQTT client.
func NewMQTTProber(client mqtt.Client) *MQTTProber {
	return &MQTTProber{client: client}
}

func (p *MQTTProber) Probe(ctx context.Context, desc *domain.ServiceDescriptor) (domain.HealthStatus, error) {
	if p.client == nil || !p.client.IsConnectionOpen() {
		return domain.HealthUnknown, errors.NewTransient(fmt.Errorf("mqtt broker unavailable"), "probe "+desc.Name)
	}

	topic := "health/" + desc.Name
	ch := make(chan []byte, 1)
	token := p.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case ch <- msg.Payload():
		default:
		}
	})
	if !token.WaitTimeout(time.Second) || token.Error() != nil {
		return domain.HealthUnknown, errors.NewTransient(token.Error(), "subscribe "+topic)
	}
	defer p.client.Unsubscribe(topic)

	select {
	case payload := <-ch:
		var hp healthPayload
		if err := json.Unmarshal(payload, &hp); err != nil {
			return domain.HealthUnhealthy, nil
		}
		switch hp.Status {
		case "healthy", "ok":
			return domain.HealthHealthy, nil
		case "degraded":
			return domain.HealthDegraded, nil
		default:
			return domain.HealthUnhealthy, nil
		}
	case <-ctx.Done():
		return domain.HealthUnknown, errors.NewTransient(ctx.Err(), "probe "+desc.Name)
	}
}

// InprocProber probes handlers registered in the same process. A handler
// that is present is healthy; probing is a map lookup.
type InprocProber struct {
	mu    sync.RWMutex
	known map[string]struct{}
}

func NewInprocProber() *InprocProber {
	return &InprocProber{known: make(map[string]struct{})}
}

// Attach marks an in-process service as live.
func (p *InprocProber) Attach(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.known[name] = struct{}{}
}

// Detach marks an in-process service as gone.
func (p *InprocProber) Detach(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.known, name)
}

func (p *InprocProber) Probe(_ context.Context, desc *domain.ServiceDescriptor) (domain.HealthStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.known[desc.Name]; ok {
		return domain.HealthHealthy, nil
	}
	return domain.HealthUnknown, errors.NewTransient(fmt.Errorf("handler not attached"), "probe "+desc.Name)
}
