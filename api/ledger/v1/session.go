package ledgerv1

import (
	"context"

	platformgrpc "github.com/louisbranch/covenant/internal/platform/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// EnvelopeType tags a session message.
type EnvelopeType string

const (
	// EnvelopeTypePropose carries a draft signed by the proposer.
	EnvelopeTypePropose EnvelopeType = "PROPOSE"
	// EnvelopeTypeSignature carries a counterparty signature.
	EnvelopeTypeSignature EnvelopeType = "SIGNATURE"
	// EnvelopeTypeReject carries a counterparty rejection.
	EnvelopeTypeReject EnvelopeType = "REJECT"
	// EnvelopeTypeFinalize carries the notarized transaction.
	EnvelopeTypeFinalize EnvelopeType = "FINALIZE"
	// EnvelopeTypeAck confirms a FINALIZE was committed.
	EnvelopeTypeAck EnvelopeType = "ACK"
)

// Envelope is one message of a signing session.
type Envelope struct {
	Type          EnvelopeType `cbor:"type"`
	From          string       `cbor:"from"`
	TransactionID string       `cbor:"transaction_id"`
	// Transaction is the canonical encoding of the full transaction.
	Transaction []byte            `cbor:"transaction,omitempty"`
	Signature   []byte            `cbor:"signature,omitempty"`
	Code        string            `cbor:"code,omitempty"`
	Message     string            `cbor:"message,omitempty"`
	Metadata    map[string]string `cbor:"metadata,omitempty"`
}

// GetType returns the envelope type.
func (e *Envelope) GetType() EnvelopeType {
	if e == nil {
		return ""
	}
	return e.Type
}

// GetTransactionID returns the transaction id.
func (e *Envelope) GetTransactionID() string {
	if e == nil {
		return ""
	}
	return e.TransactionID
}

const (
	SessionService_ServiceName             = "covenant.ledger.v1.SessionService"
	SessionService_Exchange_FullMethodName = "/covenant.ledger.v1.SessionService/Exchange"
)

// SessionServiceClient opens signing sessions with a peer.
type SessionServiceClient interface {
	Exchange(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[Envelope, Envelope], error)
}

type sessionServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSessionServiceClient returns a SessionService stub over cc.
func NewSessionServiceClient(cc grpc.ClientConnInterface) SessionServiceClient {
	return &sessionServiceClient{cc: cc}
}

func (c *sessionServiceClient) Exchange(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[Envelope, Envelope], error) {
	stream, err := c.cc.NewStream(ctx, &SessionService_ServiceDesc.Streams[0], SessionService_Exchange_FullMethodName, platformgrpc.CallOptions(opts...)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[Envelope, Envelope]{ClientStream: stream}, nil
}

// SessionServiceServer answers signing sessions opened by peers.
type SessionServiceServer interface {
	Exchange(grpc.BidiStreamingServer[Envelope, Envelope]) error
}

// UnimplementedSessionServiceServer can be embedded for forward
// compatibility.
type UnimplementedSessionServiceServer struct{}

// Exchange reports the method as unimplemented.
func (UnimplementedSessionServiceServer) Exchange(grpc.BidiStreamingServer[Envelope, Envelope]) error {
	return status.Error(codes.Unimplemented, "method Exchange not implemented")
}

// RegisterSessionServiceServer registers srv on s.
func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&SessionService_ServiceDesc, srv)
}

func _SessionService_Exchange_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(SessionServiceServer).Exchange(&grpc.GenericServerStream[Envelope, Envelope]{ServerStream: stream})
}

// SessionService_ServiceDesc describes covenant.ledger.v1.SessionService.
var SessionService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionService_ServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Exchange",
			Handler:       _SessionService_Exchange_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "covenant/ledger/v1/session.cbor",
}
