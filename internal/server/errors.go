package server

import "errors"

var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerNotRunning     = errors.New("server is not running")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrNoTransportEnabled   = errors.New("no transport is enabled")
	ErrInvalidConfig        = errors.New("invalid server configuration")
	ErrClientExists         = errors.New("client id already connected")
)
