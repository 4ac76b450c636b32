package protocol

import (
	"net"
	"strconv"
	"time"
)

// Config holds transport configuration shared by all protocol implementations.
type Config struct {
	Host           string
	Port           int
	MaxConnections int

	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	KeepAliveInterval time.Duration
	IdleTimeout       time.Duration
	HandshakeTimeout  time.Duration

	MaxMessageSize   uint32
	SendQueueSize    int
	ReceiveQueueSize int
	BufferSize       int

	EnableCompression bool

	TLSEnabled bool
	CertFile   string
	KeyFile    string
}

// DefaultConfig returns a Config with sensible defaults for local use.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8080,
		MaxConnections:    1000,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		KeepAliveInterval: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		MaxMessageSize:    1024 * 1024, // 1MB
		SendQueueSize:     256,
		ReceiveQueueSize:  256,
		BufferSize:        4096,
		EnableCompression: false,
		TLSEnabled:        false,
	}
}

// Addr returns the host:port address the config points at.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
