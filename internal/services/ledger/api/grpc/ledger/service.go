// Package ledger serves the node command surface and peer signing sessions
// over gRPC.
package ledger

import (
	"context"
	"errors"
	"strings"

	ledgerv1 "github.com/louisbranch/covenant/api/ledger/v1"
	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
	"github.com/louisbranch/covenant/internal/platform/grpc/pagination"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/covenant/internal/services/ledger/flow"
	"github.com/louisbranch/covenant/internal/services/ledger/storage"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultListRecordsPageSize = 10
	maxListRecordsPageSize     = 50
)

// Submitter drives an intent through the ledger protocol.
type Submitter interface {
	Submit(ctx context.Context, intent transaction.Intent) (flow.Outcome, error)
}

// Service exposes ledger.v1 gRPC operations.
type Service struct {
	ledgerv1.UnimplementedLedgerServiceServer
	submitter Submitter
	store     storage.RecordStore
}

// NewService creates a ledger service over the node coordinator and store.
func NewService(submitter Submitter, store storage.RecordStore) *Service {
	return &Service{submitter: submitter, store: store}
}

// Create issues a new record shared by the requested participants.
func (s *Service) Create(ctx context.Context, in *ledgerv1.CreateRequest) (*ledgerv1.MutationResponse, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "create request is required")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	intent := transaction.Create(payloadFromProto(in.Payload), partiesFromProto(in.Participants)...)
	intent.RecordID = strings.TrimSpace(in.RecordID)
	return s.submit(ctx, intent)
}

// Update replaces or patches the payload of a record.
func (s *Service) Update(ctx context.Context, in *ledgerv1.UpdateRequest) (*ledgerv1.MutationResponse, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "update request is required")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(in.RecordID)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "record id is required")
	}
	var intent transaction.Intent
	switch {
	case in.Payload != nil && in.Patch != nil:
		return nil, status.Error(codes.InvalidArgument, "payload and patch are mutually exclusive")
	case in.Payload != nil:
		intent = transaction.Update(id, payloadFromProto(*in.Payload))
	case in.Patch != nil:
		intent = transaction.Patch(id, patchFromProto(in.Patch))
	default:
		return nil, status.Error(codes.InvalidArgument, "payload or patch is required")
	}
	return s.submit(ctx, withExpected(intent, in.ExpectedVersion))
}

// Delete marks a record deleted.
func (s *Service) Delete(ctx context.Context, in *ledgerv1.DeleteRequest) (*ledgerv1.MutationResponse, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "delete request is required")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(in.RecordID)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "record id is required")
	}
	return s.submit(ctx, withExpected(transaction.Delete(id), in.ExpectedVersion))
}

// GetRecord returns the current version of a record.
func (s *Service) GetRecord(ctx context.Context, in *ledgerv1.GetRecordRequest) (*ledgerv1.GetRecordResponse, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "get record request is required")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(in.RecordID)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "record id is required")
	}
	stored, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, storeError(err, "get record")
	}
	return &ledgerv1.GetRecordResponse{Record: storedToProto(stored)}, nil
}

// ListRecords pages through current record versions.
func (s *Service) ListRecords(ctx context.Context, in *ledgerv1.ListRecordsRequest) (*ledgerv1.ListRecordsResponse, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "list records request is required")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	pageToken := strings.TrimSpace(in.PageToken)
	if _, err := pagination.DecodeCursor(pageToken); err != nil {
		return nil, status.Error(codes.InvalidArgument, "page token is invalid")
	}
	pageSize := pagination.ClampPageSize(in.PageSize, pagination.PageSizeConfig{
		Default: defaultListRecordsPageSize,
		Max:     maxListRecordsPageSize,
	})
	page, err := s.store.ListRecords(ctx, pageSize, pageToken, in.IncludeDeleted)
	if err != nil {
		return nil, storeError(err, "list records")
	}
	resp := &ledgerv1.ListRecordsResponse{
		Records:       make([]ledgerv1.Record, 0, len(page.Records)),
		NextPageToken: page.NextPageToken,
	}
	for _, stored := range page.Records {
		resp.Records = append(resp.Records, storedToProto(stored))
	}
	return resp, nil
}

// History returns every version of a record, oldest first.
func (s *Service) History(ctx context.Context, in *ledgerv1.HistoryRequest) (*ledgerv1.HistoryResponse, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "history request is required")
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(in.RecordID)
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "record id is required")
	}
	history, err := s.store.History(ctx, id)
	if err != nil {
		return nil, storeError(err, "record history")
	}
	resp := &ledgerv1.HistoryResponse{Records: make([]ledgerv1.Record, 0, len(history))}
	for _, stored := range history {
		resp.Records = append(resp.Records, storedToProto(stored))
	}
	return resp, nil
}

func (s *Service) ready() error {
	if s == nil || s.submitter == nil || s.store == nil {
		return status.Error(codes.Internal, "ledger service is not configured")
	}
	return nil
}

func (s *Service) submit(ctx context.Context, intent transaction.Intent) (*ledgerv1.MutationResponse, error) {
	outcome, err := s.submitter.Submit(ctx, intent)
	if err != nil {
		return nil, apperrors.ToGRPC(err)
	}
	tx := outcome.Transaction
	if len(tx.Body.Outputs) == 0 {
		return nil, status.Error(codes.Internal, "finalized transaction has no output")
	}
	refs, err := tx.OutputRefs()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "output reference: %v", err)
	}
	return &ledgerv1.MutationResponse{
		TransactionID:  tx.ID,
		Record:         recordToProto(refs[0], tx.Body.Outputs[0], false, tx.ID),
		PendingParties: partiesToProto(outcome.Pending),
	}, nil
}

func withExpected(intent transaction.Intent, version string) transaction.Intent {
	version = strings.TrimSpace(version)
	if version == "" {
		return intent
	}
	return intent.WithExpected(record.Reference{ID: intent.RecordID, Version: version})
}

func storeError(err error, op string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.ToGRPC(err)
	}
	return status.Errorf(codes.Internal, "%s: %v", op, err)
}
