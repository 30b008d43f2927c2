// Package notary parses uniqueness authority flags and launches it.
package notary

import (
	"context"
	"flag"

	entrypoint "github.com/louisbranch/covenant/internal/platform/cmd"
	"github.com/louisbranch/covenant/internal/platform/discovery"
	server "github.com/louisbranch/covenant/internal/services/notary/app"
)

// Config holds notary command configuration.
type Config struct {
	Port int `env:"PORT"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Port: discovery.DefaultGRPCPort(discovery.ServiceNotary)}
	if err := entrypoint.ParseServiceConfig(&cfg, entrypoint.ServiceNotary); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The notary gRPC server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the uniqueness authority.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceNotary, func(ctx context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
