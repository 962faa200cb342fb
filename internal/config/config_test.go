package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Device.CloseTimeout)
	assert.Equal(t, 2*time.Second, cfg.Device.SettleDelay)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 2*time.Minute, cfg.Mesh.AckTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	yamlContent := `
server:
  port: 9090
device:
  name: Meshtastic_1a2b
  adapter: hci1
  close_timeout: 3s
  auto_connect: false
reconnect:
  max_attempts: 8
  base_delay: 500ms
mesh:
  ack_timeout: 90s
store:
  path: /tmp/mesh.db
  node_sync: "*/10 * * * *"
log:
  level: debug
  format: json
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset fields keep defaults")
	assert.Equal(t, "Meshtastic_1a2b", cfg.Device.Name)
	assert.Equal(t, "hci1", cfg.Device.Adapter)
	assert.Equal(t, 3*time.Second, cfg.Device.CloseTimeout)
	assert.Equal(t, 60*time.Second, cfg.Device.ConnectTimeout)
	assert.False(t, cfg.Device.AutoConnect)
	assert.Equal(t, 8, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 90*time.Second, cfg.Mesh.AckTimeout)
	assert.Equal(t, "/tmp/mesh.db", cfg.Store.Path)
	assert.Equal(t, "*/10 * * * *", cfg.Store.NodeSync)
	assert.Equal(t, "@every 30s", cfg.Store.AckSweep)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [port"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parsing config file")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MESHBRIDGE_HOST", "127.0.0.1")
	t.Setenv("MESHBRIDGE_PORT", "8123")
	t.Setenv("MESHTASTIC_DEVICE", "AA:BB:CC:DD:EE:FF")
	t.Setenv("BLE_ADAPTER", "hci2")
	t.Setenv("MESHBRIDGE_DB", "/data/mesh.db")
	t.Setenv("MESHBRIDGE_LOG_LEVEL", "WARN")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, "127.0.0.1:8123", cfg.Server.Addr())
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Device.Name)
	assert.Equal(t, "hci2", cfg.Device.Adapter)
	assert.Equal(t, "/data/mesh.db", cfg.Store.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestApplyEnvBadPort(t *testing.T) {
	t.Setenv("MESHBRIDGE_PORT", "eighty")
	assert.ErrorContains(t, Default().ApplyEnv(), "MESHBRIDGE_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"zero close timeout", func(c *Config) { c.Device.CloseTimeout = 0 }, "device.close_timeout"},
		{"negative settle delay", func(c *Config) { c.Device.SettleDelay = -time.Second }, "device.settle_delay"},
		{"no reconnect attempts", func(c *Config) { c.Reconnect.MaxAttempts = 0 }, "reconnect.max_attempts"},
		{"empty queue", func(c *Config) { c.Mesh.EventQueue = 0 }, "mesh.event_queue"},
		{"zero broadcast rate", func(c *Config) { c.Mesh.BroadcastAllPerSec = 0 }, "mesh.broadcast_all_rate"},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"bad schedule", func(c *Config) { c.Store.NodeSync = "every tuesday" }, "store.node_sync"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestValidateEmptySchedulesDisableJobs(t *testing.T) {
	cfg := Default()
	cfg.Store.NodeSync = ""
	cfg.Store.AckSweep = ""
	assert.NoError(t, cfg.Validate())
}
