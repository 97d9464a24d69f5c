// Package app assembles the orchestrator: dependency wiring, ordered
// startup and shutdown, and supervision of background tasks.
package app

import (
	"fmt"
	"io"
	"os"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"servis/internal/channels/textchan"
	"servis/internal/channels/webchan"
	"servis/internal/config"
	"servis/internal/contextmgr"
	"servis/internal/dispatch"
	"servis/internal/domain"
	"servis/internal/invoke"
	"servis/internal/logging"
	"servis/internal/nlp"
	"servis/internal/observability"
	"servis/internal/persistence"
	"servis/internal/pipeline"
	"servis/internal/registry"
)

// Container holds every long-lived component of the orchestrator.
type Container struct {
	Config config.Config
	Logger *logging.Logger

	Store      persistence.Port
	Sessions   *contextmgr.Manager
	Classifier *nlp.Classifier
	Registry   *registry.Registry
	Heartbeat  *registry.HeartbeatRunner
	Invoker    *invoke.Dispatcher
	Inproc     *invoke.InprocInvoker
	Pipeline   *pipeline.Pipeline
	Bridge     *dispatch.Bridge
	Metrics    *observability.MetricsCollector

	mqttClient mqtt.Client
}

// Options tweaks container construction for different run modes.
type Options struct {
	// ConsoleInput attaches an interactive console adapter when non-nil.
	ConsoleInput io.Reader
	// ConsoleUser is the user id interactive submissions run under.
	ConsoleUser string
}

// Build wires the full component graph. Nothing is started yet; Run owns
// the lifecycle.
func Build(cfg config.Config, opts Options) (*Container, error) {
	logger := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stderr,
	})
	logging.SetDefault(logger)

	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{
		Enabled: cfg.Metrics.Enabled,
		Port:    cfg.Metrics.Port,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	store, err := persistence.NewFileStore(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("persistence: %w", err)
	}

	sessions, err := contextmgr.NewManager(store, contextmgr.Config{
		SessionTTL:      cfg.Session.TTL(),
		HistoryLimit:    cfg.Session.HistoryLimit,
		CleanupSlice:    cfg.Session.CleanupSlice(),
		CleanupInterval: cfg.Session.CleanupInterval(),
	}, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("context manager: %w", err)
	}

	classifier := nlp.New()
	reg := registry.New(cfg.Registry, logger, metrics)

	var mqttClient mqtt.Client
	if cfg.MQTT.BrokerURL != "" {
		mqttOpts := mqtt.NewClientOptions().
			AddBroker(cfg.MQTT.BrokerURL).
			SetClientID(cfg.MQTT.ClientID).
			SetAutoReconnect(true).
			SetConnectRetry(true)
		mqttClient = mqtt.NewClient(mqttOpts)
	}

	inproc := invoke.NewInprocInvoker()
	inprocProber := registry.NewInprocProber()

	transports := map[domain.TransportTag]invoke.Invoker{
		domain.TransportHTTP:   invoke.NewHTTPInvoker(),
		domain.TransportInproc: inproc,
	}
	probers := map[domain.TransportTag]registry.Prober{
		domain.TransportHTTP:   registry.NewHTTPProber(),
		domain.TransportInproc: inprocProber,
	}
	if mqttClient != nil {
		transports[domain.TransportMQTT] = invoke.NewMQTTInvoker(mqttClient)
		probers[domain.TransportMQTT] = registry.NewMQTTProber(mqttClient)
	}

	invoker := invoke.NewDispatcher(transports, reg, metrics, logger)
	heartbeat := registry.NewHeartbeatRunner(reg, probers, logger)

	pipe := pipeline.New(cfg.Pipeline, classifier, sessions, reg, invoker, metrics, logger)
	bridge := dispatch.NewBridge(cfg.Dispatch, pipe, sessions, metrics, logger)

	if cfg.Web.Enabled {
		web, err := webchan.New(cfg.Web, bridge, reg, logging.NewComponentLogger("web"))
		if err != nil {
			return nil, fmt.Errorf("web adapter: %w", err)
		}
		if err := bridge.RegisterAdapter(web); err != nil {
			return nil, err
		}
		// Mobile clients speak the web adapter's HTTP API.
		if err := bridge.RegisterAdapter(dispatch.AliasAdapter(domain.InterfaceMobile, web)); err != nil {
			return nil, err
		}
	}

	console := textchan.New(bridge, opts.ConsoleInput, os.Stdout, opts.ConsoleUser,
		logging.NewComponentLogger("console"))
	if err := bridge.RegisterAdapter(console); err != nil {
		return nil, err
	}

	return &Container{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Sessions:   sessions,
		Classifier: classifier,
		Registry:   reg,
		Heartbeat:  heartbeat,
		Invoker:    invoker,
		Inproc:     inproc,
		Pipeline:   pipe,
		Bridge:     bridge,
		Metrics:    metrics,
		mqttClient: mqttClient,
	}, nil
}
