//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/scenesync/scenesync/internal/core/log"
	"github.com/scenesync/scenesync/internal/server"
)

func ProvideLogger() *log.Logger {
	wire.Build(log.Provide)
	return log.New(log.LevelInfo)
}

// ProvideServer assembles a replication server around the process logger.
func ProvideServer(cfg server.Config) (*server.Server, error) {
	wire.Build(
		log.Provide,
		wire.Bind(new(log.Log), new(*log.Logger)),
		server.New,
	)
	return server.New(cfg, log.Provide())
}
