package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"servis/internal/logging"
)

// MetricsConfig configures the collector.
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// MetricsCollector manages orchestrator metrics. All record methods are
// nil-safe so call sites never need to check whether metrics are enabled.
type MetricsCollector struct {
	meter metric.Meter

	commands        metric.Int64Counter
	dispatchLatency metric.Float64Histogram
	queueDepth      metric.Int64UpDownCounter
	queueRejections metric.Int64Counter
	deliveryDiscard metric.Int64Counter
	sessionsActive  metric.Int64UpDownCounter
	invocations     metric.Int64Counter

	server *http.Server
	logger *logging.Logger
}

// NewMetricsCollector creates the collector. When disabled it returns an
// inert collector whose methods are no-ops.
func NewMetricsCollector(config MetricsConfig, logger *logging.Logger) (*MetricsCollector, error) {
	logger = logging.OrNop(logger)
	if !config.Enabled {
		return &MetricsCollector{logger: logger}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("servis")

	mc := &MetricsCollector{meter: meter, logger: logger}

	if mc.commands, err = meter.Int64Counter(
		"servis.commands.total",
		metric.WithDescription("Commands processed, by intent and result"),
		metric.WithUnit("{command}"),
	); err != nil {
		return nil, fmt.Errorf("create commands counter: %w", err)
	}
	if mc.dispatchLatency, err = meter.Float64Histogram(
		"servis.dispatch.latency",
		metric.WithDescription("End-to-end command dispatch latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create latency histogram: %w", err)
	}
	if mc.queueDepth, err = meter.Int64UpDownCounter(
		"servis.queue.depth",
		metric.WithDescription("Commands waiting in the priority queue"),
		metric.WithUnit("{command}"),
	); err != nil {
		return nil, fmt.Errorf("create queue depth counter: %w", err)
	}
	if mc.queueRejections, err = meter.Int64Counter(
		"servis.queue.rejections.total",
		metric.WithDescription("Submissions rejected or displaced on a full queue"),
		metric.WithUnit("{command}"),
	); err != nil {
		return nil, fmt.Errorf("create rejections counter: %w", err)
	}
	if mc.deliveryDiscard, err = meter.Int64Counter(
		"servis.dispatch.discards.total",
		metric.WithDescription("Results discarded from full adapter delivery buffers"),
		metric.WithUnit("{result}"),
	); err != nil {
		return nil, fmt.Errorf("create discard counter: %w", err)
	}
	if mc.sessionsActive, err = meter.Int64UpDownCounter(
		"servis.sessions.active",
		metric.WithDescription("Sessions currently cached"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, fmt.Errorf("create sessions counter: %w", err)
	}
	if mc.invocations, err = meter.Int64Counter(
		"servis.invocations.total",
		metric.WithDescription("Downstream invocations, by service and outcome"),
		metric.WithUnit("{invocation}"),
	); err != nil {
		return nil, fmt.Errorf("create invocations counter: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mc.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return mc, nil
}

// Start serves the Prometheus endpoint in the background.
func (m *MetricsCollector) Start() {
	if m == nil || m.server == nil {
		return
	}
	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Warn("metrics server stopped", "error", err)
		}
	}()
}

// Stop shuts the Prometheus endpoint down.
func (m *MetricsCollector) Stop(ctx context.Context) {
	if m == nil || m.server == nil {
		return
	}
	_ = m.server.Shutdown(ctx)
}

// RecordCommand counts one completed command.
func (m *MetricsCollector) RecordCommand(ctx context.Context, intent, result string, latency time.Duration) {
	if m == nil || m.commands == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("intent", intent),
		attribute.String("result", result),
	)
	m.commands.Add(ctx, 1, attrs)
	m.dispatchLatency.Record(ctx, latency.Seconds(), attrs)
}

// QueueDepthAdd tracks queue occupancy (+1 enqueue, -1 dequeue).
func (m *MetricsCollector) QueueDepthAdd(ctx context.Context, delta int64) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Add(ctx, delta)
}

// RecordRejection counts an overload rejection or displacement.
func (m *MetricsCollector) RecordRejection(ctx context.Context, reason string) {
	if m == nil || m.queueRejections == nil {
		return
	}
	m.queueRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordDiscard counts a result dropped from a full delivery buffer.
func (m *MetricsCollector) RecordDiscard(ctx context.Context, adapter string) {
	if m == nil || m.deliveryDiscard == nil {
		return
	}
	m.deliveryDiscard.Add(ctx, 1, metric.WithAttributes(attribute.String("adapter", adapter)))
}

// SessionsAdd tracks the cached session population.
func (m *MetricsCollector) SessionsAdd(ctx context.Context, delta int64) {
	if m == nil || m.sessionsActive == nil {
		return
	}
	m.sessionsActive.Add(ctx, delta)
}

// RecordInvocation counts one downstream invocation.
func (m *MetricsCollector) RecordInvocation(ctx context.Context, service, outcome string) {
	if m == nil || m.invocations == nil {
		return
	}
	m.invocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("outcome", outcome),
	))
}
