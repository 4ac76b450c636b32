package protocol

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionID represents a unique identifier for a connection
type ConnectionID string

// ClientID represents a unique identifier for a client
type ClientID string

// ConnectionState represents the current state of a connection
type ConnectionState int

const (
	ConnectionStateConnecting ConnectionState = iota
	ConnectionStateConnected
	ConnectionStateDisconnecting
	ConnectionStateDisconnected
	ConnectionStateError
)

func (cs ConnectionState) String() string {
	switch cs {
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnecting:
		return "disconnecting"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateError:
		return "error"
	default:
		return "unknown"
	}
}

// TransportType defines the underlying transport protocol
type TransportType string

const (
	TransportWebSocket TransportType = "websocket"
	TransportQUIC      TransportType = "quic"
)

// ConnectionInfo contains metadata about a connection
type ConnectionInfo struct {
	ID            ConnectionID
	RemoteAddr    string
	LocalAddr     string
	Transport     TransportType
	ConnectedAt   time.Time
	LastActivity  time.Time
	BytesSent     uint64
	BytesReceived uint64
	State         ConnectionState
}

// GenerateConnectionID generates a unique connection ID
func GenerateConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

// GenerateClientID generates a unique client ID
func GenerateClientID() ClientID {
	return ClientID(uuid.NewString())
}
