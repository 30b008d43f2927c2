// Package notary serves the uniqueness authority over gRPC.
package notary

import (
	"context"
	"fmt"
	"strings"
	"time"

	notaryv1 "github.com/louisbranch/covenant/api/notary/v1"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/notary/storage"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TokenSigner issues authority signatures.
type TokenSigner interface {
	Sign(transactionID, requestingParty string, inputs []string) (string, error)
}

// Service exposes notary.v1 gRPC operations.
type Service struct {
	notaryv1.UnimplementedNotaryServiceServer
	store  storage.ConsumedInputStore
	signer TokenSigner
	clock  func() time.Time
	logf   func(string, ...any)
}

// NewService creates a notary service backed by consumed-input storage.
func NewService(store storage.ConsumedInputStore, signer TokenSigner, logf func(string, ...any)) *Service {
	return &Service{
		store:  store,
		signer: signer,
		clock:  time.Now,
		logf:   logf,
	}
}

// Notarize consumes the request inputs for its transaction and signs it, or
// reports the transaction that already consumed one of them.
func (s *Service) Notarize(ctx context.Context, in *notaryv1.NotarizeRequest) (*notaryv1.NotarizeResponse, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "notarize request is required")
	}
	if s == nil || s.store == nil || s.signer == nil {
		return nil, status.Error(codes.Internal, "notary is not configured")
	}
	txID := strings.TrimSpace(in.TransactionID)
	party := strings.TrimSpace(in.RequestingParty)
	if txID == "" {
		return nil, status.Error(codes.InvalidArgument, "transaction id is required")
	}
	if party == "" {
		return nil, status.Error(codes.InvalidArgument, "requesting party is required")
	}
	inputs := make([]record.Reference, 0, len(in.Inputs))
	rendered := make([]string, 0, len(in.Inputs))
	seen := make(map[record.Reference]bool, len(in.Inputs))
	for _, ref := range in.Inputs {
		input := record.Reference{ID: strings.TrimSpace(ref.RecordID), Version: strings.TrimSpace(ref.Version)}
		if input.ID == "" || input.Version == "" {
			return nil, status.Error(codes.InvalidArgument, "inputs need a record id and a version")
		}
		if seen[input] {
			return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("input %s is listed twice", input))
		}
		seen[input] = true
		inputs = append(inputs, input)
		rendered = append(rendered, input.String())
	}

	now := time.Now().UTC()
	if s.clock != nil {
		now = s.clock().UTC()
	}
	conflict, err := s.store.Consume(ctx, storage.Notarization{
		TransactionID:   txID,
		RequestingParty: party,
		Inputs:          inputs,
		NotarizedAt:     now,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "consume inputs: %v", err)
	}
	if conflict != nil {
		s.log("conflict: %s wants %s, consumed by %s", txID, conflict.Input, conflict.TransactionID)
		return &notaryv1.NotarizeResponse{
			ConflictingTransactionID: conflict.TransactionID,
			ConflictingInput:         &notaryv1.Reference{RecordID: conflict.Input.ID, Version: conflict.Input.Version},
		}, nil
	}

	token, err := s.signer.Sign(txID, party, rendered)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "sign transaction: %v", err)
	}
	s.log("notarized %s for %s (%d inputs)", txID, party, len(inputs))
	return &notaryv1.NotarizeResponse{Signature: token}, nil
}

func (s *Service) log(format string, args ...any) {
	if s.logf != nil {
		s.logf(format, args...)
	}
}
