// Package server wires the participant node runtime and gRPC lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ledgerv1 "github.com/louisbranch/covenant/api/ledger/v1"
	notaryv1 "github.com/louisbranch/covenant/api/notary/v1"
	"github.com/louisbranch/covenant/internal/platform/config"
	"github.com/louisbranch/covenant/internal/platform/discovery"
	platformgrpc "github.com/louisbranch/covenant/internal/platform/grpc"
	"github.com/louisbranch/covenant/internal/platform/id"
	"github.com/louisbranch/covenant/internal/platform/timeouts"
	ledgerservice "github.com/louisbranch/covenant/internal/services/ledger/api/grpc/ledger"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/proposal"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/flow"
	"github.com/louisbranch/covenant/internal/services/ledger/identity"
	ledgersqlite "github.com/louisbranch/covenant/internal/services/ledger/storage/sqlite"
	"github.com/louisbranch/covenant/internal/services/notary/attestation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// Config holds the node runtime settings read from the environment.
type Config struct {
	DBPath     string `env:"DB_PATH"`
	PartyID    string `env:"PARTY_ID"`
	PrivateKey string `env:"PRIVATE_KEY"`

	NotaryAddr      string `env:"NOTARY_ADDR"`
	NotaryName      string `env:"NOTARY_NAME" envDefault:"notary"`
	NotaryPublicKey string `env:"NOTARY_PUBLIC_KEY"`

	// Peers map party ids to addresses and public keys: "p2=host:port,p3=...".
	PeerAddresses map[string]string `env:"PEER_ADDRESSES" envKeyValSeparator:"="`
	PeerKeys      map[string]string `env:"PEER_KEYS" envKeyValSeparator:"="`
	Observers     []string          `env:"OBSERVERS"`

	SignerTimeout         time.Duration `env:"SIGNER_TIMEOUT" envDefault:"10s"`
	NotarizeTimeout       time.Duration `env:"NOTARIZE_TIMEOUT" envDefault:"5s"`
	DeliveryTimeout       time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"5s"`
	AwaitFinality         time.Duration `env:"AWAIT_FINALITY" envDefault:"1m"`
	RedeliveryInterval    time.Duration `env:"REDELIVERY_INTERVAL" envDefault:"5s"`
	RedeliveryBaseDelay   time.Duration `env:"REDELIVERY_BASE_DELAY" envDefault:"1s"`
	RedeliveryMaxDelay    time.Duration `env:"REDELIVERY_MAX_DELAY" envDefault:"5m"`
	RedeliveryMaxAttempts int           `env:"REDELIVERY_MAX_ATTEMPTS" envDefault:"8"`
}

// LoadConfig reads COVENANT_NODE_* variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnvWithPrefix(&cfg, config.EnvPrefix+"NODE_"); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		party := strings.TrimSpace(cfg.PartyID)
		if party == "" {
			party = "node"
		}
		cfg.DBPath = filepath.Join("data", party+".db")
	}
	cfg.NotaryAddr = discovery.OrDefaultGRPCAddr(cfg.NotaryAddr, discovery.ServiceNotary)
	return cfg, nil
}

// Server hosts the ledger and session gRPC APIs, the node store and the
// redelivery loop.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      *ledgersqlite.Store
	transport  *ledgerservice.Transport
	notaryConn *grpc.ClientConn

	coordinator *flow.Coordinator
	redelivery  flow.Redeliverer
	interval    time.Duration
	party       record.PartyID
}

// New creates a configured node server listening on the provided port.
func New(port int) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port))
}

// NewWithAddr creates a node server for addr configured from the environment.
func NewWithAddr(addr string) (*Server, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	server, err := NewWithListener(listener, cfg)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	return server, nil
}

// NewWithListener creates a node server on an existing listener. dialOpts
// apply to peer and notary connections.
func NewWithListener(listener net.Listener, cfg Config, dialOpts ...grpc.DialOption) (*Server, error) {
	if listener == nil {
		return nil, errors.New("listener is required")
	}
	key, err := identity.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("node private key: %w", err)
	}
	self := identity.Self{ID: record.PartyID(strings.TrimSpace(cfg.PartyID)), PrivateKey: key}
	peers, err := identity.PeersFromConfig(cfg.PeerAddresses, cfg.PeerKeys)
	if err != nil {
		return nil, err
	}
	directory, err := identity.NewDirectory(self, peers)
	if err != nil {
		return nil, err
	}
	notaryKey, err := identity.ParsePublicKey(cfg.NotaryPublicKey)
	if err != nil {
		return nil, fmt.Errorf("notary public key: %w", err)
	}
	if strings.TrimSpace(cfg.NotaryAddr) == "" {
		return nil, errors.New("notary address is required")
	}
	observers := make([]record.PartyID, 0, len(cfg.Observers))
	for _, observer := range cfg.Observers {
		party := record.PartyID(strings.TrimSpace(observer))
		if _, err := directory.Peer(party); err != nil {
			return nil, fmt.Errorf("observer: %w", err)
		}
		observers = append(observers, party)
	}

	store, err := ledgersqlite.Open(context.Background(), cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger sqlite store: %w", err)
	}
	notaryConn, err := platformgrpc.NewLazyClient(cfg.NotaryAddr, dialOpts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("notary client: %w", err)
	}
	transport := ledgerservice.NewTransport(directory, dialOpts...)

	verifier := attestation.Verifier{Issuer: strings.TrimSpace(cfg.NotaryName), Key: notaryKey}
	locks := flow.NewLocks()
	finalizer := flow.Finalizer{
		Self:            self.ID,
		Store:           store,
		Transport:       transport,
		DeliveryTimeout: orDefault(cfg.DeliveryTimeout, timeouts.FinalityDelivery),
	}
	coordinator := &flow.Coordinator{
		Self: self,
		Builder: proposal.Builder{
			Self:    self.ID,
			Records: store,
			NewID:   id.NewID,
		},
		Collector: flow.Collector{
			Self:          self.ID,
			Transport:     transport,
			Keys:          directory,
			SignerTimeout: orDefault(cfg.SignerTimeout, timeouts.SignerSession),
		},
		Authority:       ledgerservice.NewNotaryClient(notaryConn),
		Attestation:     verifier,
		Finalizer:       finalizer,
		Outbox:          store,
		Locks:           locks,
		Observers:       observers,
		NotarizeTimeout: orDefault(cfg.NotarizeTimeout, timeouts.Notarize),
		Logf:            log.Printf,
	}
	responder := &flow.Responder{
		Self:          self,
		Keys:          directory,
		Store:         store,
		Locks:         locks,
		Attestation:   verifier,
		AwaitFinality: orDefault(cfg.AwaitFinality, timeouts.AwaitFinality),
		Logf:          log.Printf,
	}

	grpcServer := grpc.NewServer(platformgrpc.DefaultServerOptions()...)
	ledgerv1.RegisterLedgerServiceServer(grpcServer, ledgerservice.NewService(coordinator, store))
	ledgerv1.RegisterSessionServiceServer(grpcServer, ledgerservice.NewSessionServer(responder))
	healthServer := platformgrpc.RegisterHealth(grpcServer, ledgerv1.LedgerService_ServiceName, ledgerv1.SessionService_ServiceName)
	// Commands cannot finalize without the notary; sessions can still be served.
	platformgrpc.MarkNotServing(healthServer, ledgerv1.LedgerService_ServiceName)

	return &Server{
		listener:    listener,
		grpcServer:  grpcServer,
		health:      healthServer,
		store:       store,
		transport:   transport,
		notaryConn:  notaryConn,
		coordinator: coordinator,
		redelivery: flow.Redeliverer{
			Records:     store,
			Outbox:      store,
			Deliverer:   finalizer,
			MaxAttempts: cfg.RedeliveryMaxAttempts,
			BaseDelay:   cfg.RedeliveryBaseDelay,
			MaxDelay:    cfg.RedeliveryMaxDelay,
			Logf:        log.Printf,
		},
		interval: cfg.RedeliveryInterval,
		party:    self.ID,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a node server until context cancellation.
func Run(ctx context.Context, port int) error {
	server, err := New(port)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the gRPC server and the redelivery loop until context
// cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("node %s listening at %v", s.party, s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	loopCtx, stopLoop := context.WithCancel(ctx)
	var loop sync.WaitGroup
	loop.Go(func() {
		if err := platformgrpc.WaitForHealth(loopCtx, s.notaryConn, notaryv1.NotaryService_ServiceName, nil); err != nil {
			return
		}
		s.health.SetServingStatus(ledgerv1.LedgerService_ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
		log.Printf("notary reachable, ledger commands serving")
	})
	if s.interval > 0 {
		loop.Go(func() {
			if err := s.redelivery.Run(loopCtx, s.interval); err != nil {
				log.Printf("redelivery loop: %v", err)
			}
		})
	}
	defer func() {
		stopLoop()
		loop.Wait()
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.gracefulStop()
		return serveResult(<-serveErr)
	case err := <-serveErr:
		return serveResult(err)
	}
}

// gracefulStop drains in-flight calls, bounded by timeouts.Shutdown.
func (s *Server) gracefulStop() {
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeouts.Shutdown):
		s.grpcServer.Stop()
	}
}

// Close releases node server resources.
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
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			log.Printf("close peer connections: %v", err)
		}
	}
	if s.notaryConn != nil {
		_ = s.notaryConn.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close ledger store: %v", err)
		}
	}
}

func orDefault(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func serveResult(err error) error {
	if err == nil || errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return fmt.Errorf("serve gRPC: %w", err)
}
