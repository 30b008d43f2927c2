package ledger

import (
	"context"
	"errors"

	notaryv1 "github.com/louisbranch/covenant/api/notary/v1"
	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/covenant/internal/services/ledger/flow"
	"google.golang.org/grpc"
)

// NotaryClient implements flow.Authority over notary.v1.
type NotaryClient struct {
	client notaryv1.NotaryServiceClient
}

var _ flow.Authority = (*NotaryClient)(nil)

// NewNotaryClient returns an authority client over conn.
func NewNotaryClient(conn grpc.ClientConnInterface) *NotaryClient {
	return &NotaryClient{client: notaryv1.NewNotaryServiceClient(conn)}
}

// Notarize asks the notary to consume the inputs of tx.
func (c *NotaryClient) Notarize(ctx context.Context, tx transaction.Transaction, requester record.PartyID) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("notary client is not configured")
	}
	refs := tx.InputRefs()
	req := &notaryv1.NotarizeRequest{
		TransactionID:   tx.ID,
		RequestingParty: string(requester),
		Inputs:          make([]notaryv1.Reference, 0, len(refs)),
	}
	for _, ref := range refs {
		req.Inputs = append(req.Inputs, notaryv1.Reference{RecordID: ref.ID, Version: ref.Version})
	}

	resp, err := c.client.Notarize(ctx, req)
	if err != nil {
		return "", apperrors.FromGRPC(err)
	}
	if resp.ConflictingTransactionID != "" {
		var input record.Reference
		if resp.ConflictingInput != nil {
			input = record.Reference{ID: resp.ConflictingInput.RecordID, Version: resp.ConflictingInput.Version}
		}
		return "", flow.ConflictError(tx.ID, resp.ConflictingTransactionID, input)
	}
	if resp.Signature == "" {
		return "", apperrors.New(apperrors.CodeNotarySignatureInvalid, "notary returned no signature")
	}
	return resp.Signature, nil
}
