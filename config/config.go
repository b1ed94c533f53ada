// Package config loads healthcheck settings from standard locations.
//
// Files are TOML or YAML, chosen by extension. Keys left out of a file keep
// their defaults:
//
//	[heartbeat]
//	interval_ms = 2000
//	ack_timeout_ms = 5000
//
//	[websocket]
//	url = "ws://localhost:8080/ws"
//
//	[log]
//	level = "debug"
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/healthcheck/bus"
	"github.com/vinayprograms/healthcheck/errors"
	"github.com/vinayprograms/healthcheck/heartbeat"
	"github.com/vinayprograms/healthcheck/logging"
	"github.com/vinayprograms/healthcheck/telemetry"
	"github.com/vinayprograms/healthcheck/transport"
)

// Config holds every section of a healthcheck config file.
type Config struct {
	Heartbeat HeartbeatConfig `toml:"heartbeat" yaml:"heartbeat"`
	WebSocket WebSocketConfig `toml:"websocket" yaml:"websocket"`
	NATS      NATSConfig      `toml:"nats" yaml:"nats"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics"`
}

// HeartbeatConfig holds probe timing in milliseconds.
type HeartbeatConfig struct {
	IntervalMS    int64 `toml:"interval_ms" yaml:"interval_ms"`
	AckTimeoutMS  int64 `toml:"ack_timeout_ms" yaml:"ack_timeout_ms"`
	BackoffBaseMS int64 `toml:"backoff_base_ms" yaml:"backoff_base_ms"`
	BackoffMaxMS  int64 `toml:"backoff_max_ms" yaml:"backoff_max_ms"`
}

// WebSocketConfig holds both ends of the WebSocket transport.
type WebSocketConfig struct {
	// URL is dialed by clients.
	URL string `toml:"url" yaml:"url"`

	// Listen and Path are served by responders.
	Listen string `toml:"listen" yaml:"listen"`
	Path   string `toml:"path" yaml:"path"`

	PingIntervalMS  int64 `toml:"ping_interval_ms" yaml:"ping_interval_ms"`
	WriteTimeoutMS  int64 `toml:"write_timeout_ms" yaml:"write_timeout_ms"`
	ReconnectWaitMS int64 `toml:"reconnect_wait_ms" yaml:"reconnect_wait_ms"`
}

// NATSConfig holds the bus connection and the event namespaces.
type NATSConfig struct {
	URL       string `toml:"url" yaml:"url"`
	Name      string `toml:"name" yaml:"name"`
	Namespace string `toml:"namespace" yaml:"namespace"`
	Peer      string `toml:"peer" yaml:"peer"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// TelemetryConfig holds tracing and sample export settings.
type TelemetryConfig struct {
	// Endpoint and Protocol configure OTLP tracing. Tracing is off when
	// Endpoint is empty.
	Endpoint    string  `toml:"endpoint" yaml:"endpoint"`
	Protocol    string  `toml:"protocol" yaml:"protocol"`
	Insecure    bool    `toml:"insecure" yaml:"insecure"`
	SampleRatio float64 `toml:"sample_ratio" yaml:"sample_ratio"`

	// Export selects the sample exporter: "file", "http" or "noop".
	Export         string `toml:"export" yaml:"export"`
	ExportEndpoint string `toml:"export_endpoint" yaml:"export_endpoint"`
}

// MetricsConfig holds the Prometheus endpoint.
type MetricsConfig struct {
	Listen    string `toml:"listen" yaml:"listen"`
	Namespace string `toml:"namespace" yaml:"namespace"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	hb := heartbeat.DefaultConfig()
	ws := transport.DefaultWebSocketConfig()
	return &Config{
		Heartbeat: HeartbeatConfig{
			IntervalMS:    hb.IntervalMillis(),
			AckTimeoutMS:  hb.AckTimeout.Milliseconds(),
			BackoffBaseMS: hb.BackoffBase.Milliseconds(),
			BackoffMaxMS:  hb.BackoffMax.Milliseconds(),
		},
		WebSocket: WebSocketConfig{
			URL:             "ws://localhost:8080/ws",
			Listen:          ":8080",
			Path:            "/ws",
			PingIntervalMS:  ws.PingInterval.Milliseconds(),
			WriteTimeoutMS:  ws.WriteTimeout.Milliseconds(),
			ReconnectWaitMS: ws.ReconnectWait.Milliseconds(),
		},
		NATS: NATSConfig{
			URL:       bus.DefaultNATSConfig().URL,
			Name:      "healthcheck",
			Namespace: "healthcheck",
		},
		Log: LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
			Export:   "noop",
		},
		Metrics: MetricsConfig{
			Listen:    ":9090",
			Namespace: "healthcheck",
		},
	}
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"healthcheck.toml", "healthcheck.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "healthcheck", "healthcheck.toml"))
	}

	return paths
}

// Load loads the first config file found in StandardPaths. With no file,
// it returns the defaults and an empty path.
func Load() (*Config, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadFile(path)
			return cfg, path, err
		}
	}
	return Default(), "", nil
}

// LoadFile loads a TOML (.toml) or YAML (.yaml, .yml) file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidConfig, "parsing "+path)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidConfig, "reading "+path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidConfig, "parsing "+path)
		}
	default:
		return nil, errors.InvalidConfig("unsupported config format", errors.WithMetadata("path", path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Heartbeat.Config().Validate(); err != nil {
		return err
	}
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		return errors.InvalidConfig("unknown log level", errors.WithMetadata("level", c.Log.Level))
	}
	switch c.Telemetry.Export {
	case "", "noop", "file", "http":
	default:
		return errors.InvalidConfig("unknown export protocol", errors.WithMetadata("export", c.Telemetry.Export))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.InvalidConfig("sample_ratio must be within [0, 1]")
	}
	if c.WebSocket.PingIntervalMS < 0 || c.WebSocket.WriteTimeoutMS < 0 || c.WebSocket.ReconnectWaitMS < 0 {
		return errors.InvalidConfig("websocket durations must not be negative")
	}
	return nil
}

// Config converts to heartbeat.Config.
func (h HeartbeatConfig) Config() heartbeat.Config {
	return heartbeat.Config{
		Interval:    ms(h.IntervalMS),
		AckTimeout:  ms(h.AckTimeoutMS),
		BackoffBase: ms(h.BackoffBaseMS),
		BackoffMax:  ms(h.BackoffMaxMS),
	}
}

// Options returns the heartbeat options for this section.
func (h HeartbeatConfig) Options() []heartbeat.Option {
	return []heartbeat.Option{heartbeat.WithConfig(h.Config())}
}

// Transport returns the WebSocket transport configuration.
func (w WebSocketConfig) Transport(log *logging.Logger) transport.WebSocketConfig {
	cfg := transport.DefaultWebSocketConfig()
	cfg.PingInterval = ms(w.PingIntervalMS)
	cfg.WriteTimeout = ms(w.WriteTimeoutMS)
	cfg.ReconnectWait = ms(w.ReconnectWaitMS)
	cfg.Logger = log
	return cfg
}

// Bus returns the NATS connection configuration.
func (n NATSConfig) Bus(log *logging.Logger) bus.NATSConfig {
	cfg := bus.DefaultNATSConfig()
	cfg.URL = n.URL
	cfg.Name = n.Name
	cfg.Logger = log
	return cfg
}

// Conn returns the event connection configuration.
func (n NATSConfig) Conn(log *logging.Logger) bus.ConnConfig {
	return bus.ConnConfig{
		Namespace: n.Namespace,
		Peer:      n.Peer,
		Logger:    log,
	}
}

// Logger returns a stdout logger at the configured level.
func (l LogConfig) Logger() *logging.Logger {
	log := logging.New()
	level, _ := logging.ParseLevel(l.Level)
	log.SetLevel(level)
	return log
}

// Provider returns the OTLP provider configuration.
func (t TelemetryConfig) Provider(serviceName string) telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName: serviceName,
		Endpoint:    t.Endpoint,
		Protocol:    t.Protocol,
		Insecure:    t.Insecure,
		SampleRatio: t.SampleRatio,
	}
}

// Exporter builds the configured sample exporter.
func (t TelemetryConfig) Exporter() (telemetry.Exporter, error) {
	return telemetry.NewExporter(t.Export, t.ExportEndpoint)
}

func ms(n int64) time.Duration {
	return time.Duration(n) * time.Millisecond
}
