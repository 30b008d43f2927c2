// Package node parses participant node flags and launches the node.
package node

import (
	"context"
	"flag"

	entrypoint "github.com/louisbranch/covenant/internal/platform/cmd"
	"github.com/louisbranch/covenant/internal/platform/discovery"
	server "github.com/louisbranch/covenant/internal/services/ledger/app"
)

// Config holds node command configuration.
type Config struct {
	Port int `env:"PORT"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Port: discovery.DefaultGRPCPort(discovery.ServiceNode)}
	if err := entrypoint.ParseServiceConfig(&cfg, entrypoint.ServiceNode); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The node gRPC server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the participant node.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceNode, func(ctx context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
