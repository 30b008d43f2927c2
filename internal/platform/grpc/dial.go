package grpc

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DialError reports a client connection that could not be created.
type DialError struct {
	Addr string
	Err  error
}

// Error implements the error interface.
func (e *DialError) Error() string {
	if e == nil {
		return "gRPC dial error"
	}
	if e.Addr == "" {
		return fmt.Sprintf("gRPC dial: %v", e.Err)
	}
	return fmt.Sprintf("gRPC dial %s: %v", e.Addr, e.Err)
}

// Unwrap returns the underlying error.
func (e *DialError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LazyClientDialOptions returns dial options for connections that are created
// eagerly but connect on first use, as used for counterparty nodes that may
// be offline when this node starts. The OTel stats handler propagates trace
// context on every outbound call.
func LazyClientDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// DefaultServerOptions returns server options shared by every Covenant
// gRPC server.
func DefaultServerOptions() []gogrpc.ServerOption {
	return []gogrpc.ServerOption{
		gogrpc.StatsHandler(otelgrpc.NewServerHandler()),
	}
}

// NewLazyClient creates a client connection for addr without waiting for it
// to become ready. opts apply after the defaults.
func NewLazyClient(addr string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	if addr == "" {
		return nil, &DialError{Err: errors.New("address is required")}
	}
	conn, err := gogrpc.NewClient(addr, append(LazyClientDialOptions(), opts...)...)
	if err != nil {
		return nil, &DialError{Addr: addr, Err: err}
	}
	return conn, nil
}
