// Package notaryv1 declares the covenant.notary.v1 wire contract spoken
// between participant nodes and the uniqueness authority.
package notaryv1

import (
	"context"

	platformgrpc "github.com/louisbranch/covenant/internal/platform/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Reference points at one exact record version.
type Reference struct {
	RecordID string `cbor:"record_id"`
	Version  string `cbor:"version"`
}

// NotarizeRequest asks the authority to consume inputs for a transaction.
type NotarizeRequest struct {
	TransactionID   string      `cbor:"transaction_id"`
	Inputs          []Reference `cbor:"inputs"`
	RequestingParty string      `cbor:"requesting_party"`
}

// NotarizeResponse carries either the authority signature or the conflict.
type NotarizeResponse struct {
	Signature                string     `cbor:"signature,omitempty"`
	ConflictingTransactionID string     `cbor:"conflicting_transaction_id,omitempty"`
	ConflictingInput         *Reference `cbor:"conflicting_input,omitempty"`
}

const (
	NotaryService_ServiceName             = "covenant.notary.v1.NotaryService"
	NotaryService_Notarize_FullMethodName = "/covenant.notary.v1.NotaryService/Notarize"
)

// NotaryServiceClient calls the uniqueness authority.
type NotaryServiceClient interface {
	Notarize(ctx context.Context, in *NotarizeRequest, opts ...grpc.CallOption) (*NotarizeResponse, error)
}

type notaryServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewNotaryServiceClient returns a NotaryService stub over cc.
func NewNotaryServiceClient(cc grpc.ClientConnInterface) NotaryServiceClient {
	return &notaryServiceClient{cc: cc}
}

func (c *notaryServiceClient) Notarize(ctx context.Context, in *NotarizeRequest, opts ...grpc.CallOption) (*NotarizeResponse, error) {
	return platformgrpc.Invoke[NotarizeResponse](ctx, c.cc, NotaryService_Notarize_FullMethodName, in, opts...)
}

// NotaryServiceServer is implemented by the uniqueness authority.
type NotaryServiceServer interface {
	Notarize(context.Context, *NotarizeRequest) (*NotarizeResponse, error)
}

// UnimplementedNotaryServiceServer can be embedded for forward compatibility.
type UnimplementedNotaryServiceServer struct{}

func (UnimplementedNotaryServiceServer) Notarize(context.Context, *NotarizeRequest) (*NotarizeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Notarize not implemented")
}

// RegisterNotaryServiceServer registers srv on s.
func RegisterNotaryServiceServer(s grpc.ServiceRegistrar, srv NotaryServiceServer) {
	s.RegisterService(&NotaryService_ServiceDesc, srv)
}

// NotaryService_ServiceDesc describes covenant.notary.v1.NotaryService.
var NotaryService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: NotaryService_ServiceName,
	HandlerType: (*NotaryServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Notarize", Handler: platformgrpc.UnaryHandler(NotaryService_Notarize_FullMethodName, NotaryServiceServer.Notarize)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "covenant/notary/v1/notary.cbor",
}
