package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scenesync/scenesync/internal/core/log"
	"github.com/scenesync/scenesync/internal/core/protocol"
	"github.com/scenesync/scenesync/internal/core/scene"
	"github.com/scenesync/scenesync/internal/resource"
)

// Config is the full server configuration tree. LoadConfig overlays a YAML
// file on top of DefaultConfig, so files only carry the keys they change.
type Config struct {
	Replication ReplicationConfig `yaml:"replication"`
	WebSocket   TransportConfig   `yaml:"websocket"`
	QUIC        TransportConfig   `yaml:"quic"`
	Scene       SceneConfig       `yaml:"scene"`
	Resources   ResourcesConfig   `yaml:"resources"`
	Log         LogConfig         `yaml:"log"`
}

// ReplicationConfig tunes the update loop and client bookkeeping.
type ReplicationConfig struct {
	// TickRate is the replication frequency in frames per second.
	TickRate int `yaml:"tick_rate"`
	// MaxClients caps concurrent clients across all transports.
	MaxClients int `yaml:"max_clients"`
	// ClientTimeout disconnects clients whose acks stop arriving.
	ClientTimeout time.Duration `yaml:"client_timeout"`
	// HandshakeTimeout bounds the hello exchange after connecting.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// HealthCheckInterval is how often the health monitor runs.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// TransportConfig configures one listening transport.
type TransportConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	MaxMessageSize uint32 `yaml:"max_message_size"`
	SendQueueSize  int    `yaml:"send_queue_size"`
	TLSEnabled     bool   `yaml:"tls_enabled"`
	CertFile       string `yaml:"cert_file"`
	KeyFile        string `yaml:"key_file"`
}

// SceneConfig selects the startup scene and the tuning of the hosted scene.
type SceneConfig struct {
	// File is a resource name loaded into the scene on startup. Empty
	// starts from a bare root.
	File string `yaml:"file"`
	// TimeScale multiplies the simulation time step.
	TimeScale float32 `yaml:"time_scale"`
	// FixedUpdateRate is the fixed update frequency in Hz, zero disables
	// the fixed phases.
	FixedUpdateRate int `yaml:"fixed_update_rate"`
	// AsyncLoadBudget bounds async loading work per update.
	AsyncLoadBudget time.Duration `yaml:"async_load_budget"`
}

// ResourcesConfig configures the resource cache backing the scene.
type ResourcesConfig struct {
	// Dirs are searched in order; earlier directories win on name clashes.
	Dirs []string `yaml:"dirs"`
	// AutoReload watches the directories and reloads changed resources.
	AutoReload bool `yaml:"auto_reload"`
	// Workers bounds concurrent background loads.
	Workers int `yaml:"workers"`
	// MemoryBudget caps bytes kept per resource type, zero is unlimited.
	MemoryBudget uint64 `yaml:"memory_budget"`
}

// LogConfig selects the log verbosity: debug, info, warn, error or silent.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration the server runs with when no file
// overrides it: websocket on 8080, QUIC off, 30 frames per second.
func DefaultConfig() Config {
	return Config{
		Replication: ReplicationConfig{
			TickRate:            30,
			MaxClients:          256,
			ClientTimeout:       30 * time.Second,
			HandshakeTimeout:    10 * time.Second,
			HealthCheckInterval: 30 * time.Second,
		},
		WebSocket: TransportConfig{
			Enabled:        true,
			Host:           "0.0.0.0",
			Port:           8080,
			MaxMessageSize: 1 << 20,
			SendQueueSize:  256,
		},
		QUIC: TransportConfig{
			Host:           "0.0.0.0",
			Port:           8443,
			MaxMessageSize: 1 << 20,
			SendQueueSize:  256,
		},
		Scene: SceneConfig{
			TimeScale:       1,
			FixedUpdateRate: 60,
			AsyncLoadBudget: 5 * time.Millisecond,
		},
		Resources: ResourcesConfig{
			Workers: 4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults. An empty
// path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the parts of the configuration the server cannot run
// without.
func (c Config) Validate() error {
	if c.Replication.TickRate <= 0 {
		return fmt.Errorf("%w: tick rate must be positive", ErrInvalidConfig)
	}
	if c.Replication.MaxClients <= 0 {
		return fmt.Errorf("%w: max clients must be positive", ErrInvalidConfig)
	}
	if c.Replication.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: handshake timeout must be positive", ErrInvalidConfig)
	}
	if !c.WebSocket.Enabled && !c.QUIC.Enabled {
		return ErrNoTransportEnabled
	}
	if _, ok := ParseLogLevel(c.Log.Level); !ok {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Log.Level)
	}
	return nil
}

// ParseLogLevel maps a configuration string to a log level. The empty
// string means info.
func ParseLogLevel(s string) (log.Level, bool) {
	switch strings.ToLower(s) {
	case "", "info":
		return log.LevelInfo, true
	case "debug":
		return log.LevelDebug, true
	case "warn", "warning":
		return log.LevelWarn, true
	case "error":
		return log.LevelError, true
	case "silent", "none":
		return log.LevelSilent, true
	}
	return log.LevelInfo, false
}

// protocolConfig maps a transport section onto the protocol defaults.
func (tc TransportConfig) protocolConfig(rc ReplicationConfig) protocol.Config {
	pc := protocol.DefaultConfig()
	pc.Host = tc.Host
	pc.Port = tc.Port
	pc.MaxConnections = rc.MaxClients
	if rc.HandshakeTimeout > 0 {
		pc.HandshakeTimeout = rc.HandshakeTimeout
	}
	if tc.MaxMessageSize > 0 {
		pc.MaxMessageSize = tc.MaxMessageSize
	}
	if tc.SendQueueSize > 0 {
		pc.SendQueueSize = tc.SendQueueSize
	}
	pc.TLSEnabled = tc.TLSEnabled
	pc.CertFile = tc.CertFile
	pc.KeyFile = tc.KeyFile
	return pc
}

// sceneConfig maps the scene section onto the scene defaults. The defaults
// overlay already seeded these fields, so explicit zeros pass through.
func (sc SceneConfig) sceneConfig() scene.Config {
	cfg := scene.DefaultConfig()
	cfg.TimeScale = sc.TimeScale
	cfg.FixedUpdateRate = sc.FixedUpdateRate
	cfg.AsyncLoadBudget = sc.AsyncLoadBudget
	return cfg
}

// cacheConfig maps the resources section onto the cache defaults.
func (rc ResourcesConfig) cacheConfig() resource.Config {
	cfg := resource.DefaultConfig()
	if rc.Workers > 0 {
		cfg.Workers = rc.Workers
	}
	cfg.DefaultBudget = rc.MemoryBudget
	return cfg
}
