package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Common protocol errors
var (
	// Connection errors
	ErrConnectionClosed      = errors.New("connection closed")
	ErrConnectionTimeout     = errors.New("connection timeout")
	ErrMaxConnectionsReached = errors.New("maximum connections reached")
	ErrSendQueueFull         = errors.New("send queue full")

	// Handshake errors
	ErrHandshakeFailed   = errors.New("handshake failed")
	ErrHandshakeTimeout  = errors.New("handshake timeout")
	ErrChecksumMismatch  = errors.New("scene checksum mismatch")
	ErrVersionMismatch   = errors.New("protocol version mismatch")
	ErrUnexpectedMessage = errors.New("unexpected message kind")

	// Message errors
	ErrInvalidMessage     = errors.New("invalid message")
	ErrMessageTooLarge    = errors.New("message too large")
	ErrUnknownMessageKind = errors.New("unknown message kind")
	ErrMalformedPayload   = errors.New("malformed message payload")

	// Transport errors
	ErrTransportClosed      = errors.New("transport closed")
	ErrListenerClosed       = errors.New("listener closed")
	ErrUnsupportedTransport = errors.New("unsupported transport type")
)

// ErrorCode represents a numeric error code for protocol errors
type ErrorCode int

const (
	// Connection error codes (1000-1999)
	ErrCodeConnectionFailed ErrorCode = 1000 + iota
	ErrCodeConnectionClosed
	ErrCodeConnectionTimeout
	ErrCodeMaxConnectionsReached
	ErrCodeSendQueueFull
)

const (
	// Handshake error codes (2000-2999)
	ErrCodeHandshakeFailed ErrorCode = 2000 + iota
	ErrCodeHandshakeTimeout
	ErrCodeChecksumMismatch
	ErrCodeVersionMismatch
	ErrCodeUnexpectedMessage
)

const (
	// Message error codes (3000-3999)
	ErrCodeInvalidMessage ErrorCode = 3000 + iota
	ErrCodeMessageTooLarge
	ErrCodeUnknownMessageKind
	ErrCodeMalformedPayload
)

const (
	// Transport error codes (7000-7999)
	ErrCodeTransportClosed ErrorCode = 7000 + iota
	ErrCodeListenerClosed
	ErrCodeUnsupportedTransport
)

const (
	// Generic error codes (9000+)
	ErrCodeInternal ErrorCode = 9000 + iota
	ErrCodeUnknown
)

// Error represents a protocol error with additional context
type Error struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Context   map[string]interface{}
	Timestamp int64
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error %d: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProtocolError creates a new protocol error
func NewProtocolError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Context:   make(map[string]interface{}),
		Timestamp: time.Now().Unix(),
	}
}

// WithContext adds context information to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsTemporary returns true if the error is temporary and the operation
// can be retried on the same connection
func IsTemporary(err error) bool {
	switch GetErrorCode(err) {
	case ErrCodeConnectionTimeout, ErrCodeHandshakeTimeout, ErrCodeSendQueueFull:
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error is fatal and the connection
// should be closed
func IsFatal(err error) bool {
	switch GetErrorCode(err) {
	case ErrCodeChecksumMismatch, ErrCodeVersionMismatch, ErrCodeMessageTooLarge,
		ErrCodeMalformedPayload, ErrCodeTransportClosed, ErrCodeMaxConnectionsReached:
		return true
	default:
		return false
	}
}

// errorCodeMap maps sentinel errors to their numeric codes
var errorCodeMap = map[error]ErrorCode{
	ErrConnectionClosed:      ErrCodeConnectionClosed,
	ErrConnectionTimeout:     ErrCodeConnectionTimeout,
	ErrMaxConnectionsReached: ErrCodeMaxConnectionsReached,
	ErrSendQueueFull:         ErrCodeSendQueueFull,
	ErrHandshakeFailed:       ErrCodeHandshakeFailed,
	ErrHandshakeTimeout:      ErrCodeHandshakeTimeout,
	ErrChecksumMismatch:      ErrCodeChecksumMismatch,
	ErrVersionMismatch:       ErrCodeVersionMismatch,
	ErrUnexpectedMessage:     ErrCodeUnexpectedMessage,
	ErrInvalidMessage:        ErrCodeInvalidMessage,
	ErrMessageTooLarge:       ErrCodeMessageTooLarge,
	ErrUnknownMessageKind:    ErrCodeUnknownMessageKind,
	ErrMalformedPayload:      ErrCodeMalformedPayload,
	ErrTransportClosed:       ErrCodeTransportClosed,
	ErrListenerClosed:        ErrCodeListenerClosed,
	ErrUnsupportedTransport:  ErrCodeUnsupportedTransport,
}

// GetErrorCode returns the numeric code for an error, unwrapping
// protocol errors and matching known sentinels
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeUnknown
	}

	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.Code
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return ErrCodeUnknown
}

// WrapError wraps an error with a protocol error carrying the matching code
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return NewProtocolError(GetErrorCode(err), message, err)
}
