package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/internal/core/log"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30, cfg.Replication.TickRate)
	assert.Equal(t, 256, cfg.Replication.MaxClients)
	assert.True(t, cfg.WebSocket.Enabled)
	assert.Equal(t, 8080, cfg.WebSocket.Port)
	assert.False(t, cfg.QUIC.Enabled)
	assert.Equal(t, float32(1), cfg.Scene.TimeScale)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	t.Run("EmptyPathReturnsDefaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("OverlaysDefaults", func(t *testing.T) {
		path := writeConfigFile(t, `
replication:
  tick_rate: 60
  client_timeout: 5s
websocket:
  host: 127.0.0.1
  port: 0
quic:
  enabled: true
  port: 9443
resources:
  dirs: [assets, shared]
  auto_reload: true
log:
  level: debug
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, 60, cfg.Replication.TickRate)
		assert.Equal(t, 5*time.Second, cfg.Replication.ClientTimeout)
		assert.Equal(t, "127.0.0.1", cfg.WebSocket.Host)
		assert.Zero(t, cfg.WebSocket.Port)
		assert.True(t, cfg.QUIC.Enabled)
		assert.Equal(t, 9443, cfg.QUIC.Port)
		assert.Equal(t, []string{"assets", "shared"}, cfg.Resources.Dirs)
		assert.True(t, cfg.Resources.AutoReload)
		assert.Equal(t, "debug", cfg.Log.Level)

		// Keys the file does not mention keep their defaults.
		assert.Equal(t, 256, cfg.Replication.MaxClients)
		assert.Equal(t, 10*time.Second, cfg.Replication.HandshakeTimeout)
		assert.True(t, cfg.WebSocket.Enabled)
		assert.Equal(t, uint32(1<<20), cfg.WebSocket.MaxMessageSize)
		assert.Equal(t, 60, cfg.Scene.FixedUpdateRate)
	})

	t.Run("ExplicitZeroWins", func(t *testing.T) {
		path := writeConfigFile(t, `
scene:
  time_scale: 0
  fixed_update_rate: 0
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Zero(t, cfg.Scene.TimeScale)
		assert.Zero(t, cfg.Scene.FixedUpdateRate)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("MalformedYAML", func(t *testing.T) {
		path := writeConfigFile(t, "replication: [not a mapping")
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("InvalidAfterOverlay", func(t *testing.T) {
		path := writeConfigFile(t, "replication:\n  tick_rate: 0\n")
		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Run("ZeroTickRate", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Replication.TickRate = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("ZeroMaxClients", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Replication.MaxClients = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("ZeroHandshakeTimeout", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Replication.HandshakeTimeout = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("NoTransport", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.WebSocket.Enabled = false
		cfg.QUIC.Enabled = false
		assert.ErrorIs(t, cfg.Validate(), ErrNoTransportEnabled)
	})

	t.Run("UnknownLogLevel", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Log.Level = "chatty"
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in    string
		level log.Level
		ok    bool
	}{
		{"", log.LevelInfo, true},
		{"info", log.LevelInfo, true},
		{"debug", log.LevelDebug, true},
		{"DEBUG", log.LevelDebug, true},
		{"warn", log.LevelWarn, true},
		{"warning", log.LevelWarn, true},
		{"error", log.LevelError, true},
		{"silent", log.LevelSilent, true},
		{"none", log.LevelSilent, true},
		{"chatty", log.LevelInfo, false},
	}
	for _, tc := range cases {
		level, ok := ParseLogLevel(tc.in)
		assert.Equal(t, tc.level, level, "input %q", tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
	}
}

func TestTransportConfig_protocolConfig(t *testing.T) {
	t.Run("MapsOverrides", func(t *testing.T) {
		rc := ReplicationConfig{MaxClients: 8, HandshakeTimeout: 2 * time.Second}
		tc := TransportConfig{
			Host:           "127.0.0.1",
			Port:           9000,
			MaxMessageSize: 4096,
			SendQueueSize:  32,
			TLSEnabled:     true,
			CertFile:       "cert.pem",
			KeyFile:        "key.pem",
		}

		pc := tc.protocolConfig(rc)
		assert.Equal(t, "127.0.0.1", pc.Host)
		assert.Equal(t, 9000, pc.Port)
		assert.Equal(t, 8, pc.MaxConnections)
		assert.Equal(t, 2*time.Second, pc.HandshakeTimeout)
		assert.Equal(t, uint32(4096), pc.MaxMessageSize)
		assert.Equal(t, 32, pc.SendQueueSize)
		assert.True(t, pc.TLSEnabled)
		assert.Equal(t, "cert.pem", pc.CertFile)
		assert.Equal(t, "key.pem", pc.KeyFile)
	})

	t.Run("ZeroKeepsProtocolDefaults", func(t *testing.T) {
		pc := TransportConfig{Host: "0.0.0.0"}.protocolConfig(ReplicationConfig{MaxClients: 4})
		assert.Equal(t, uint32(1<<20), pc.MaxMessageSize)
		assert.Equal(t, 256, pc.SendQueueSize)
		assert.Equal(t, 10*time.Second, pc.HandshakeTimeout)
	})
}

func TestSceneConfig_sceneConfig(t *testing.T) {
	sc := SceneConfig{TimeScale: 0.5, FixedUpdateRate: 0, AsyncLoadBudget: time.Millisecond}
	cfg := sc.sceneConfig()
	assert.Equal(t, float32(0.5), cfg.TimeScale)
	assert.Zero(t, cfg.FixedUpdateRate)
	assert.Equal(t, time.Millisecond, cfg.AsyncLoadBudget)
}

func TestResourcesConfig_cacheConfig(t *testing.T) {
	t.Run("WorkersOverride", func(t *testing.T) {
		cfg := ResourcesConfig{Workers: 2, MemoryBudget: 1 << 16}.cacheConfig()
		assert.Equal(t, 2, cfg.Workers)
		assert.Equal(t, uint64(1<<16), cfg.DefaultBudget)
	})

	t.Run("ZeroWorkersKeepsDefault", func(t *testing.T) {
		cfg := ResourcesConfig{}.cacheConfig()
		assert.Positive(t, cfg.Workers)
		assert.Zero(t, cfg.DefaultBudget)
	})
}
