package ledgerv1

import (
	"context"

	platformgrpc "github.com/louisbranch/covenant/internal/platform/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Payload is the user content of a record.
type Payload struct {
	Name    string `cbor:"name"`
	Age     int32  `cbor:"age"`
	Address string `cbor:"address"`
	Status  string `cbor:"status"`
}

// PayloadPatch changes only the fields that are set.
type PayloadPatch struct {
	Name    *string `cbor:"name,omitempty"`
	Age     *int32  `cbor:"age,omitempty"`
	Address *string `cbor:"address,omitempty"`
	Status  *string `cbor:"status,omitempty"`
}

// Record is one stored version of a record.
type Record struct {
	RecordID      string   `cbor:"record_id"`
	Version       string   `cbor:"version"`
	Participants  []string `cbor:"participants"`
	Payload       Payload  `cbor:"payload"`
	Deleted       bool     `cbor:"deleted"`
	Consumed      bool     `cbor:"consumed"`
	TransactionID string   `cbor:"transaction_id"`
}

// CreateRequest issues a new record.
type CreateRequest struct {
	// RecordID is optional; the node generates one when empty.
	RecordID     string   `cbor:"record_id,omitempty"`
	Payload      Payload  `cbor:"payload"`
	Participants []string `cbor:"participants"`
}

// UpdateRequest replaces or patches a record payload. Exactly one of Payload
// and Patch is set.
type UpdateRequest struct {
	RecordID        string        `cbor:"record_id"`
	Payload         *Payload      `cbor:"payload,omitempty"`
	Patch           *PayloadPatch `cbor:"patch,omitempty"`
	ExpectedVersion string        `cbor:"expected_version,omitempty"`
}

// DeleteRequest marks a record deleted.
type DeleteRequest struct {
	RecordID        string `cbor:"record_id"`
	ExpectedVersion string `cbor:"expected_version,omitempty"`
}

// MutationResponse reports a locally finalized transaction.
type MutationResponse struct {
	TransactionID string `cbor:"transaction_id"`
	Record        Record `cbor:"record"`
	// PendingParties lists recipients that will receive the transaction
	// through redelivery.
	PendingParties []string `cbor:"pending_parties,omitempty"`
}

// GetRecordRequest reads the latest version of a record.
type GetRecordRequest struct {
	RecordID string `cbor:"record_id"`
}

// GetRecordResponse carries the latest version.
type GetRecordResponse struct {
	Record Record `cbor:"record"`
}

// ListRecordsRequest pages through current record versions.
type ListRecordsRequest struct {
	PageSize       int32  `cbor:"page_size"`
	PageToken      string `cbor:"page_token"`
	IncludeDeleted bool   `cbor:"include_deleted"`
}

// ListRecordsResponse is one page of records.
type ListRecordsResponse struct {
	Records       []Record `cbor:"records"`
	NextPageToken string   `cbor:"next_page_token"`
}

// HistoryRequest reads every version of a record.
type HistoryRequest struct {
	RecordID string `cbor:"record_id"`
}

// HistoryResponse lists versions oldest first.
type HistoryResponse struct {
	Records []Record `cbor:"records"`
}

const (
	LedgerService_ServiceName                = "covenant.ledger.v1.LedgerService"
	LedgerService_Create_FullMethodName      = "/covenant.ledger.v1.LedgerService/Create"
	LedgerService_Update_FullMethodName      = "/covenant.ledger.v1.LedgerService/Update"
	LedgerService_Delete_FullMethodName      = "/covenant.ledger.v1.LedgerService/Delete"
	LedgerService_GetRecord_FullMethodName   = "/covenant.ledger.v1.LedgerService/GetRecord"
	LedgerService_ListRecords_FullMethodName = "/covenant.ledger.v1.LedgerService/ListRecords"
	LedgerService_History_FullMethodName     = "/covenant.ledger.v1.LedgerService/History"
)

// LedgerServiceClient is the command and query surface of a node.
type LedgerServiceClient interface {
	Create(ctx context.Context, in *CreateRequest, opts ...grpc.CallOption) (*MutationResponse, error)
	Update(ctx context.Context, in *UpdateRequest, opts ...grpc.CallOption) (*MutationResponse, error)
	Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*MutationResponse, error)
	GetRecord(ctx context.Context, in *GetRecordRequest, opts ...grpc.CallOption) (*GetRecordResponse, error)
	ListRecords(ctx context.Context, in *ListRecordsRequest, opts ...grpc.CallOption) (*ListRecordsResponse, error)
	History(ctx context.Context, in *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error)
}

type ledgerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewLedgerServiceClient returns a LedgerService stub over cc.
func NewLedgerServiceClient(cc grpc.ClientConnInterface) LedgerServiceClient {
	return &ledgerServiceClient{cc: cc}
}

func (c *ledgerServiceClient) Create(ctx context.Context, in *CreateRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return platformgrpc.Invoke[MutationResponse](ctx, c.cc, LedgerService_Create_FullMethodName, in, opts...)
}

func (c *ledgerServiceClient) Update(ctx context.Context, in *UpdateRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return platformgrpc.Invoke[MutationResponse](ctx, c.cc, LedgerService_Update_FullMethodName, in, opts...)
}

func (c *ledgerServiceClient) Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*MutationResponse, error) {
	return platformgrpc.Invoke[MutationResponse](ctx, c.cc, LedgerService_Delete_FullMethodName, in, opts...)
}

func (c *ledgerServiceClient) GetRecord(ctx context.Context, in *GetRecordRequest, opts ...grpc.CallOption) (*GetRecordResponse, error) {
	return platformgrpc.Invoke[GetRecordResponse](ctx, c.cc, LedgerService_GetRecord_FullMethodName, in, opts...)
}

func (c *ledgerServiceClient) ListRecords(ctx context.Context, in *ListRecordsRequest, opts ...grpc.CallOption) (*ListRecordsResponse, error) {
	return platformgrpc.Invoke[ListRecordsResponse](ctx, c.cc, LedgerService_ListRecords_FullMethodName, in, opts...)
}

func (c *ledgerServiceClient) History(ctx context.Context, in *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	return platformgrpc.Invoke[HistoryResponse](ctx, c.cc, LedgerService_History_FullMethodName, in, opts...)
}

// LedgerServiceServer is implemented by a node.
type LedgerServiceServer interface {
	Create(context.Context, *CreateRequest) (*MutationResponse, error)
	Update(context.Context, *UpdateRequest) (*MutationResponse, error)
	Delete(context.Context, *DeleteRequest) (*MutationResponse, error)
	GetRecord(context.Context, *GetRecordRequest) (*GetRecordResponse, error)
	ListRecords(context.Context, *ListRecordsRequest) (*ListRecordsResponse, error)
	History(context.Context, *HistoryRequest) (*HistoryResponse, error)
}

// UnimplementedLedgerServiceServer can be embedded for forward compatibility.
type UnimplementedLedgerServiceServer struct{}

func (UnimplementedLedgerServiceServer) Create(context.Context, *CreateRequest) (*MutationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Create not implemented")
}

func (UnimplementedLedgerServiceServer) Update(context.Context, *UpdateRequest) (*MutationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Update not implemented")
}

func (UnimplementedLedgerServiceServer) Delete(context.Context, *DeleteRequest) (*MutationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Delete not implemented")
}

func (UnimplementedLedgerServiceServer) GetRecord(context.Context, *GetRecordRequest) (*GetRecordResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetRecord not implemented")
}

func (UnimplementedLedgerServiceServer) ListRecords(context.Context, *ListRecordsRequest) (*ListRecordsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListRecords not implemented")
}

func (UnimplementedLedgerServiceServer) History(context.Context, *HistoryRequest) (*HistoryResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method History not implemented")
}

// RegisterLedgerServiceServer registers srv on s.
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerService_ServiceDesc, srv)
}

// LedgerService_ServiceDesc describes covenant.ledger.v1.LedgerService.
var LedgerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: LedgerService_ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Create", Handler: platformgrpc.UnaryHandler(LedgerService_Create_FullMethodName, LedgerServiceServer.Create)},
		{MethodName: "Update", Handler: platformgrpc.UnaryHandler(LedgerService_Update_FullMethodName, LedgerServiceServer.Update)},
		{MethodName: "Delete", Handler: platformgrpc.UnaryHandler(LedgerService_Delete_FullMethodName, LedgerServiceServer.Delete)},
		{MethodName: "GetRecord", Handler: platformgrpc.UnaryHandler(LedgerService_GetRecord_FullMethodName, LedgerServiceServer.GetRecord)},
		{MethodName: "ListRecords", Handler: platformgrpc.UnaryHandler(LedgerService_ListRecords_FullMethodName, LedgerServiceServer.ListRecords)},
		{MethodName: "History", Handler: platformgrpc.UnaryHandler(LedgerService_History_FullMethodName, LedgerServiceServer.History)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "covenant/ledger/v1/ledger.cbor",
}
