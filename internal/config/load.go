package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Option customizes Load for tests.
type Option func(*loadOptions)

type loadOptions struct {
	path      string
	envLookup func(string) (string, bool)
	readFile  func(string) ([]byte, error)
	homeDir   func() (string, error)
}

// WithPath sets an explicit config file path. An empty path falls back to
// ~/.servis/config.yaml when it exists.
func WithPath(path string) Option {
	return func(o *loadOptions) { o.path = path }
}

// WithEnv replaces the environment lookup.
func WithEnv(lookup func(string) (string, bool)) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithFileReader replaces the file reader.
func WithFileReader(read func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = read }
}

// Load builds the effective configuration from defaults, the config file and
// the SERVIS_* environment.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{
		envLookup: os.LookupEnv,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := Default()

	if err := applyFile(&cfg, options); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg, options.envLookup)

	cfg.DataDir = expandHome(cfg.DataDir, options.homeDir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, options loadOptions) error {
	path := options.path
	explicit := path != ""
	if !explicit {
		home, err := options.homeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".servis", "config.yaml")
	}

	data, err := options.readFile(path)
	if err != nil {
		if explicit {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil // default location is optional
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv maps SERVIS_* variables onto the config. Only the commonly
// operated knobs have env aliases; the rest live in the file.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	setString("SERVIS_LOG_LEVEL", &cfg.LogLevel)
	setString("SERVIS_LOG_FORMAT", &cfg.LogFormat)
	setString("SERVIS_DATA_DIR", &cfg.DataDir)
	setInt("SERVIS_SESSION_TTL_MINUTES", &cfg.Session.TTLMinutes)
	setInt("SERVIS_SESSION_CLEANUP_INTERVAL_SECONDS", &cfg.Session.CleanupIntervalSeconds)
	setInt("SERVIS_PIPELINE_QUEUE_CAPACITY", &cfg.Pipeline.QueueCapacity)
	setInt("SERVIS_PIPELINE_WORKER_COUNT", &cfg.Pipeline.WorkerCount)
	setInt("SERVIS_PIPELINE_DEFAULT_DEADLINE_MS", &cfg.Pipeline.DefaultDeadlineMs)
	setInt("SERVIS_REGISTRY_HEARTBEAT_INTERVAL_SECONDS", &cfg.Registry.HeartbeatIntervalSeconds)
	setInt("SERVIS_REGISTRY_PROBE_TIMEOUT_MS", &cfg.Registry.ProbeTimeoutMs)
	setString("SERVIS_MQTT_BROKER_URL", &cfg.MQTT.BrokerURL)
	setBool("SERVIS_WEB_ENABLED", &cfg.Web.Enabled)
	setString("SERVIS_WEB_HOST", &cfg.Web.Host)
	setInt("SERVIS_WEB_PORT", &cfg.Web.Port)
	setBool("SERVIS_METRICS_ENABLED", &cfg.Metrics.Enabled)
	setInt("SERVIS_METRICS_PORT", &cfg.Metrics.Port)
}

func expandHome(path string, homeDir func() (string, error)) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := homeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
