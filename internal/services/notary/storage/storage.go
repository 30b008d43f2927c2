// Package storage defines the persistence contract of the uniqueness
// authority.
package storage

import (
	"context"
	"time"

	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
)

// Notarization is one accepted transaction.
type Notarization struct {
	TransactionID   string
	RequestingParty string
	Inputs          []record.Reference
	NotarizedAt     time.Time
}

// Conflict names the transaction that already consumed an input.
type Conflict struct {
	Input         record.Reference
	TransactionID string
}

// ConsumedInputStore records which transaction consumed each input version.
type ConsumedInputStore interface {
	// Consume marks every input of n as consumed by n.TransactionID, or none
	// of them. Re-consuming with the same transaction succeeds. When an input
	// belongs to another transaction the returned conflict is non-nil and
	// nothing is written.
	Consume(ctx context.Context, n Notarization) (*Conflict, error)
	// ConsumedBy returns the transaction that consumed input, or "" when the
	// input is unspent.
	ConsumedBy(ctx context.Context, input record.Reference) (string, error)
}
