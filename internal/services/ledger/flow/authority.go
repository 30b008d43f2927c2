package flow

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/verify"
)

// Authority is the uniqueness authority as seen from a participant node.
// Notarize returns the authority signature, or an error coded
// NOTARY_CONFLICT when an input was already consumed by another transaction.
type Authority interface {
	Notarize(ctx context.Context, tx transaction.Transaction, requester record.PartyID) (string, error)
}

// ConflictError builds the NOTARY_CONFLICT error for a rejected notarization.
func ConflictError(txID, conflictingID string, input record.Reference) error {
	return apperrors.WithMetadata(
		apperrors.CodeNotaryConflict,
		fmt.Sprintf("input %s already consumed by %s", input, conflictingID),
		map[string]string{
			"TransactionID":            txID,
			"ConflictingTransactionID": conflictingID,
			"Input":                    input.String(),
		},
	)
}

// VerifyFinal checks that tx is a valid, fully signed and notarized
// transaction before a node commits it.
func VerifyFinal(tx transaction.Transaction, keys KeyResolver, authority AuthorityVerifier) error {
	if err := verify.Transaction(tx).Err(); err != nil {
		return err
	}
	for _, party := range tx.Body.RequiredSigners {
		key, err := keys.PublicKey(party)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeSignatureInvalid, fmt.Sprintf("no key for signer %s", party), err)
		}
		if err := tx.VerifySignature(party, key); err != nil {
			return apperrors.Wrap(apperrors.CodeSignatureInvalid, err.Error(), err)
		}
	}
	if authority == nil {
		return apperrors.New(apperrors.CodeNotarySignatureInvalid, "no authority verifier configured")
	}
	if _, err := authority.Verify(tx.AuthoritySignature, tx.ID, InputStrings(tx)); err != nil {
		return err
	}
	return nil
}
