package config

import (
	"fmt"
	"time"
)

// Config captures every user-configurable knob of the orchestrator.
// Precedence: defaults, then config file, then SERVIS_* environment
// variables, then CLI flag overrides.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	DataDir   string `yaml:"data_dir"`

	Session  SessionConfig  `yaml:"session"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Registry RegistryConfig `yaml:"registry"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Web      WebConfig      `yaml:"web"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// SessionConfig controls session lifetime and history.
type SessionConfig struct {
	TTLMinutes             int `yaml:"ttl_minutes"`
	CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds"`
	CleanupSliceMs         int `yaml:"cleanup_slice_ms"`
	HistoryLimit           int `yaml:"history_limit"`
}

// TTL returns the session inactivity window.
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

// CleanupInterval returns the cleanup task period.
func (s SessionConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalSeconds) * time.Second
}

// CleanupSlice returns the per-tick budget the cleanup scan may hold locks for.
func (s SessionConfig) CleanupSlice() time.Duration {
	return time.Duration(s.CleanupSliceMs) * time.Millisecond
}

// RetryConfig controls pipeline-level retry on transport/timeout failures.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseMs      int `yaml:"base_ms"`
	CapMs       int `yaml:"cap_ms"`
	JitterPct   int `yaml:"jitter_pct"`
}

// PipelineConfig controls the command queue and worker pool.
type PipelineConfig struct {
	QueueCapacity     int         `yaml:"queue_capacity"`
	WorkerCount       int         `yaml:"worker_count"`
	DefaultDeadlineMs int         `yaml:"default_deadline_ms"`
	PerServiceCapMs   int         `yaml:"per_service_cap_ms"`
	DrainGraceSeconds int         `yaml:"drain_grace_seconds"`
	Retry             RetryConfig `yaml:"retry"`
}

// DefaultDeadline returns the deadline applied to requests without one.
func (p PipelineConfig) DefaultDeadline() time.Duration {
	return time.Duration(p.DefaultDeadlineMs) * time.Millisecond
}

// PerServiceCap returns the per-attempt invocation ceiling.
func (p PipelineConfig) PerServiceCap() time.Duration {
	return time.Duration(p.PerServiceCapMs) * time.Millisecond
}

// DrainGrace returns the shutdown drain window.
func (p PipelineConfig) DrainGrace() time.Duration {
	return time.Duration(p.DrainGraceSeconds) * time.Second
}

// RegistryConfig controls service health checking and eviction.
type RegistryConfig struct {
	HeartbeatIntervalSeconds  int            `yaml:"heartbeat_interval_seconds"`
	ProbeTimeoutMs            int            `yaml:"probe_timeout_ms"`
	EvictionMinutes           int            `yaml:"eviction_minutes"`
	HeartbeatFailureLimit     int            `yaml:"heartbeat_failure_limit"`
	DefaultLatencyThresholdMs int            `yaml:"default_latency_threshold_ms"`
	LatencyThresholdMs        map[string]int `yaml:"latency_threshold_ms"` // per capability
}

// HeartbeatInterval returns the probe period.
func (r RegistryConfig) HeartbeatInterval() time.Duration {
	return time.Duration(r.HeartbeatIntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-probe deadline.
func (r RegistryConfig) ProbeTimeout() time.Duration {
	return time.Duration(r.ProbeTimeoutMs) * time.Millisecond
}

// EvictionWindow returns how long a service may stay unhealthy before removal.
func (r RegistryConfig) EvictionWindow() time.Duration {
	return time.Duration(r.EvictionMinutes) * time.Minute
}

// LatencyThreshold returns the degradation threshold for a capability.
func (r RegistryConfig) LatencyThreshold(capability string) time.Duration {
	if ms, ok := r.LatencyThresholdMs[capability]; ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return time.Duration(r.DefaultLatencyThresholdMs) * time.Millisecond
}

// DispatchConfig controls the adapter bridge.
type DispatchConfig struct {
	BufferSize         int     `yaml:"buffer_size"`
	UserRateLimitRPS   float64 `yaml:"user_rate_limit_rps"`
	UserRateLimitBurst int     `yaml:"user_rate_limit_burst"`
}

// WebConfig controls the HTTP/WebSocket front-end adapter.
type WebConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	EnableCORS bool   `yaml:"enable_cors"`
}

// MQTTConfig controls the MQTT transport used for invocation and probes.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Default returns the configuration with every spec default applied.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		DataDir:   "~/.servis",
		Session: SessionConfig{
			TTLMinutes:             30,
			CleanupIntervalSeconds: 60,
			CleanupSliceMs:         10,
			HistoryLimit:           50,
		},
		Pipeline: PipelineConfig{
			QueueCapacity:     1024,
			WorkerCount:       8,
			DefaultDeadlineMs: 10000,
			PerServiceCapMs:   5000,
			DrainGraceSeconds: 30,
			Retry: RetryConfig{
				MaxAttempts: 2,
				BaseMs:      100,
				CapMs:       2000,
				JitterPct:   20,
			},
		},
		Registry: RegistryConfig{
			HeartbeatIntervalSeconds:  30,
			ProbeTimeoutMs:            2000,
			EvictionMinutes:           10,
			HeartbeatFailureLimit:     5,
			DefaultLatencyThresholdMs: 1000,
		},
		Dispatch: DispatchConfig{
			BufferSize:         64,
			UserRateLimitRPS:   0, // disabled
			UserRateLimitBurst: 3,
		},
		Web: WebConfig{
			Enabled:    true,
			Host:       "127.0.0.1",
			Port:       8090,
			EnableCORS: true,
		},
		MQTT: MQTTConfig{
			ClientID: "servis-core",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9091,
		},
	}
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Session.TTLMinutes <= 0 {
		return fmt.Errorf("session.ttl_minutes must be positive, got %d", c.Session.TTLMinutes)
	}
	if c.Session.HistoryLimit <= 0 {
		return fmt.Errorf("session.history_limit must be positive, got %d", c.Session.HistoryLimit)
	}
	if c.Pipeline.QueueCapacity <= 0 {
		return fmt.Errorf("pipeline.queue_capacity must be positive, got %d", c.Pipeline.QueueCapacity)
	}
	if c.Pipeline.WorkerCount <= 0 {
		return fmt.Errorf("pipeline.worker_count must be positive, got %d", c.Pipeline.WorkerCount)
	}
	if c.Pipeline.DefaultDeadlineMs <= 0 {
		return fmt.Errorf("pipeline.default_deadline_ms must be positive, got %d", c.Pipeline.DefaultDeadlineMs)
	}
	if c.Pipeline.Retry.MaxAttempts < 0 {
		return fmt.Errorf("pipeline.retry.max_attempts must not be negative, got %d", c.Pipeline.Retry.MaxAttempts)
	}
	if c.Registry.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("registry.heartbeat_interval_seconds must be positive, got %d", c.Registry.HeartbeatIntervalSeconds)
	}
	if c.Dispatch.BufferSize <= 0 {
		return fmt.Errorf("dispatch.buffer_size must be positive, got %d", c.Dispatch.BufferSize)
	}
	if c.Web.Enabled && (c.Web.Port <= 0 || c.Web.Port > 65535) {
		return fmt.Errorf("web.port out of range: %d", c.Web.Port)
	}
	return nil
}
