// Package server wires the notary runtime and gRPC lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"path/filepath"
	"strings"

	notaryv1 "github.com/louisbranch/covenant/api/notary/v1"
	"github.com/louisbranch/covenant/internal/platform/config"
	platformgrpc "github.com/louisbranch/covenant/internal/platform/grpc"
	"github.com/louisbranch/covenant/internal/services/ledger/identity"
	notaryservice "github.com/louisbranch/covenant/internal/services/notary/api/grpc/notary"
	"github.com/louisbranch/covenant/internal/services/notary/attestation"
	notarysqlite "github.com/louisbranch/covenant/internal/services/notary/storage/sqlite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// Config holds the notary runtime settings read from the environment.
type Config struct {
	DBPath     string `env:"DB_PATH"`
	Name       string `env:"NAME" envDefault:"notary"`
	PrivateKey string `env:"PRIVATE_KEY"`
}

// LoadConfig reads COVENANT_NOTARY_* variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnvWithPrefix(&cfg, config.EnvPrefix+"NOTARY_"); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "notary.db")
	}
	return cfg, nil
}

// Server hosts the notary gRPC API and storage lifecycle.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      *notarysqlite.Store
	name       string
}

// New creates a configured notary server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a notary server for addr configured from the
// environment.
func NewWithAddr(addr string) (*Server, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(addr, cfg)
}

// NewWithConfig creates a notary server for addr.
func NewWithConfig(addr string, cfg Config) (*Server, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, errors.New("notary name is required")
	}
	key, err := identity.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("notary private key: %w", err)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := notarysqlite.Open(context.Background(), cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("open notary sqlite store: %w", err)
	}

	grpcServer := grpc.NewServer(platformgrpc.DefaultServerOptions()...)
	signer := attestation.Signer{Issuer: name, Key: key}
	notaryv1.RegisterNotaryServiceServer(grpcServer, notaryservice.NewService(store, signer, log.Printf))
	healthServer := platformgrpc.RegisterHealth(grpcServer, notaryv1.NotaryService_ServiceName)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
		name:       name,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a notary server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the gRPC server until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("notary %s listening at %v", s.name, s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
		return serveResult(<-serveErr)
	case err := <-serveErr:
		return serveResult(err)
	}
}

// Close releases notary server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close notary store: %v", err)
		}
	}
}

func serveResult(err error) error {
	if err == nil || errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return fmt.Errorf("serve gRPC: %w", err)
}
