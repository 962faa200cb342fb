package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all bridge configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Device    DeviceConfig    `yaml:"device"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Mesh      MeshConfig      `yaml:"mesh"`
	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// DeviceConfig selects and times the BLE link.
type DeviceConfig struct {
	Name           string        `yaml:"name"` // advertised name or MAC; empty picks the first Meshtastic device
	Adapter        string        `yaml:"adapter"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CloseTimeout   time.Duration `yaml:"close_timeout"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	ConfigTimeout  time.Duration `yaml:"config_timeout"`
	AutoConnect    bool          `yaml:"auto_connect"`
}

// ReconnectConfig bounds automatic reconnection.
type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// MeshConfig tunes the event core.
type MeshConfig struct {
	AckTimeout         time.Duration `yaml:"ack_timeout"`
	TracerouteHopWait  time.Duration `yaml:"traceroute_hop_timeout"`
	EventQueue         int           `yaml:"event_queue"`
	BroadcastAllPerSec float64       `yaml:"broadcast_all_rate"` // DMs per second for broadcast-all
}

// StoreConfig holds the SQLite location and periodic jobs.
type StoreConfig struct {
	Path         string `yaml:"path"`
	NodeSync     string `yaml:"node_sync"` // cron spec, empty disables
	AckSweep     string `yaml:"ack_sweep"` // cron spec, empty disables
	HistoryLimit int    `yaml:"history_limit"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"` // "text" or "json"
	Journal bool   `yaml:"journal"`
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return "/etc/meshbridge/config.yaml"
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8000,
			CORSOrigins: []string{"*"},
		},
		Device: DeviceConfig{
			ConnectTimeout: 60 * time.Second,
			CloseTimeout:   5 * time.Second,
			ScanTimeout:    10 * time.Second,
			SettleDelay:    2 * time.Second,
			ConfigTimeout:  15 * time.Second,
			AutoConnect:    true,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: 5,
			BaseDelay:   2 * time.Second,
		},
		Mesh: MeshConfig{
			AckTimeout:         2 * time.Minute,
			TracerouteHopWait:  20 * time.Second,
			EventQueue:         1024,
			BroadcastAllPerSec: 0.5,
		},
		Store: StoreConfig{
			Path:         "/var/lib/meshbridge/meshbridge.db",
			NodeSync:     "@every 5m",
			AckSweep:     "@every 30s",
			HistoryLimit: 100,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "text",
			Journal: true,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults. A missing file at the default path is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && path == DefaultConfigPath() {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Store.Path = expandTilde(cfg.Store.Path)

	return cfg, nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("MESHBRIDGE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("MESHBRIDGE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MESHBRIDGE_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("MESHTASTIC_DEVICE"); v != "" {
		c.Device.Name = v
	}
	if v := os.Getenv("BLE_ADAPTER"); v != "" {
		c.Device.Adapter = v
	}
	if v := os.Getenv("MESHBRIDGE_DB"); v != "" {
		c.Store.Path = expandTilde(v)
	}
	if v := os.Getenv("MESHBRIDGE_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	for name, d := range map[string]time.Duration{
		"device.connect_timeout":      c.Device.ConnectTimeout,
		"device.close_timeout":        c.Device.CloseTimeout,
		"device.scan_timeout":         c.Device.ScanTimeout,
		"device.config_timeout":       c.Device.ConfigTimeout,
		"reconnect.base_delay":        c.Reconnect.BaseDelay,
		"mesh.ack_timeout":            c.Mesh.AckTimeout,
		"mesh.traceroute_hop_timeout": c.Mesh.TracerouteHopWait,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0, got %s", name, d)
		}
	}

	if c.Device.SettleDelay < 0 {
		return fmt.Errorf("device.settle_delay must not be negative, got %s", c.Device.SettleDelay)
	}

	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("reconnect.max_attempts must be >= 1, got %d", c.Reconnect.MaxAttempts)
	}

	if c.Mesh.EventQueue < 1 {
		return fmt.Errorf("mesh.event_queue must be >= 1, got %d", c.Mesh.EventQueue)
	}

	if c.Mesh.BroadcastAllPerSec <= 0 {
		return fmt.Errorf("mesh.broadcast_all_rate must be > 0, got %g", c.Mesh.BroadcastAllPerSec)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}

	for name, spec := range map[string]string{"store.node_sync": c.Store.NodeSync, "store.ack_sweep": c.Store.AckSweep} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: invalid schedule %q: %w", name, spec, err)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error, got %q", c.Log.Level)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
