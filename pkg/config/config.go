// Package config handles loading and validating the sniffer's YAML
// configuration: capture hubs, sensor bindings, the packet log path,
// event bus sizing, logging, metrics and the API server.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/commatea/modbus-sniffer/pkg/logger"
)

// Default config file search path, tried in order when no explicit
// path is given.
var configPaths = []string{
	"./config.yaml",
	"./config.yml",
	"./sniffer.yaml",
	"./sniffer.yml",
	"~/.config/modbus-sniffer/config.yaml",
	"/etc/modbus-sniffer/config.yaml",
}

// HubConfig describes one capture hub.
type HubConfig struct {
	Name           string `yaml:"name" validate:"required"`
	Mode           string `yaml:"mode" validate:"required,oneof=udp tcp"`
	Host           string `yaml:"host" validate:"required"`
	Port           int    `yaml:"port" validate:"required,min=1,max=65535"`
	MulticastGroup string `yaml:"multicast_group,omitempty"`
	Interface      string `yaml:"interface,omitempty"`
}

// SensorBinding maps one register observation to a named, scaled,
// optionally enumerated value (spec §6's configuration surface).
type SensorBinding struct {
	Name        string             `yaml:"name" validate:"required"`
	Hub         string             `yaml:"hub" validate:"required"`
	Register    uint16             `yaml:"register"`
	UnitID      *byte              `yaml:"unit_id,omitempty"`
	Scale       float64            `yaml:"scale" validate:"required"`
	Offset      float64            `yaml:"offset"`
	Precision   *int               `yaml:"precision,omitempty"`
	StateMap    map[uint16]string  `yaml:"state_map,omitempty"`
	Unit        string             `yaml:"unit,omitempty"`
	DeviceClass string             `yaml:"device_class,omitempty"`
	StateClass  string             `yaml:"state_class,omitempty"`
	Icon        string             `yaml:"icon,omitempty"`
	ForceUpdate bool               `yaml:"force_update,omitempty"`
}

// LoggingConfig configures pkg/logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
	Output string `yaml:"output" validate:"omitempty,oneof=stdout file"`
	File   string `yaml:"file,omitempty"`
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// APIConfig configures the REST and WS servers.
type APIConfig struct {
	RESTAddr string   `yaml:"rest_addr"`
	WSAddr   string   `yaml:"ws_addr"`
	Users    []string `yaml:"users" validate:"dive,required"` // login keys; pkg/api compares them as plain strings
}

// Config is the complete sniffer configuration.
type Config struct {
	Hubs              []HubConfig     `yaml:"hubs" validate:"required,min=1,dive"`
	SensorBindings    []SensorBinding `yaml:"sensor_bindings" validate:"dive"`
	PacketLogPath     string          `yaml:"packet_log_path" validate:"required"`
	AnomalyLedgerPath string          `yaml:"anomaly_ledger_path" validate:"required"`
	EventBusReplaySize int            `yaml:"event_bus_replay_size"`
	Logging           LoggingConfig   `yaml:"logging"`
	Metrics           MetricsConfig   `yaml:"metrics"`
	API               APIConfig       `yaml:"api"`
}

// Load reads path, or the first existing entry of configPaths when
// path is empty, falling back to DefaultConfig when nothing is found.
func Load(path string) (*Config, error) {
	if path != "" {
		return loadFile(path)
	}

	for _, p := range configPaths {
		if len(p) > 0 && p[0] == '~' {
			if home, err := os.UserHomeDir(); err == nil {
				p = filepath.Join(home, p[2:])
			}
		}
		if _, err := os.Stat(p); err == nil {
			return loadFile(p)
		}
	}

	return DefaultConfig(), nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.SensorBindings = dropInvalidBindings(cfg.SensorBindings)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", path, err)
	}
	return &cfg, nil
}

// dropInvalidBindings validates each SensorBinding individually and
// drops the ones that fail, logging a warning, so one malformed
// binding doesn't reject the entire file (spec §4.J).
func dropInvalidBindings(bindings []SensorBinding) []SensorBinding {
	validate := validator.New()
	out := make([]SensorBinding, 0, len(bindings))
	for _, b := range bindings {
		if err := validate.Struct(b); err != nil {
			logger.Global().Warn("config: dropping invalid sensor binding", "name", b.Name, "err", err)
			continue
		}
		out = append(out, b)
	}
	return out
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultConfig returns a minimal, locally-runnable configuration.
func DefaultConfig() *Config {
	return &Config{
		Hubs:               []HubConfig{{Name: "line1", Mode: "udp", Host: "0.0.0.0", Port: 5020}},
		PacketLogPath:      "./packets.csv",
		AnomalyLedgerPath:  "./anomalies.db",
		EventBusReplaySize: 2,
		Logging:            LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Metrics:            MetricsConfig{Enabled: true, Endpoint: "/metrics"},
		API:                APIConfig{RESTAddr: ":8080", WSAddr: ":8081"},
	}
}

// ScaledValue applies a SensorBinding's scale/offset/precision to a raw
// register value, and resolves a StateMap entry when present.
func (b SensorBinding) ScaledValue(raw uint16) (float64, string, bool) {
	if label, ok := b.StateMap[raw]; ok {
		return 0, label, true
	}
	v := float64(raw)*b.Scale + b.Offset
	if b.Precision != nil {
		scale := 1.0
		for i := 0; i < *b.Precision; i++ {
			scale *= 10
		}
		v = float64(int64(v*scale+0.5)) / scale
	}
	return v, "", false
}
