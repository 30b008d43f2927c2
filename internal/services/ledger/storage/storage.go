package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/covenant/internal/platform/errors"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
)

var (
	// ErrNotFound indicates a requested record or transaction is missing.
	ErrNotFound = errors.New(errors.CodeNotFound, "record not found")
	// ErrInputConsumed indicates a commit that consumes a version another
	// committed transaction already consumed.
	ErrInputConsumed = errors.New(errors.CodeAlreadyConsumed, "input already consumed by another transaction")
)

// StoredRecord is one persisted version of a record.
type StoredRecord struct {
	Record        record.Record
	Ref           record.Reference
	Consumed      bool
	TransactionID string
	Seq           int64
}

// VersionedRecord is an output a commit inserts.
type VersionedRecord struct {
	Ref    record.Reference
	Record record.Record
}

// Commit is the atomic unit a node applies when a transaction finalizes.
type Commit struct {
	TransactionID string
	Consumed      []record.Reference
	Records       []VersionedRecord
	Transaction   transaction.Transaction
}

// CommitFor derives the commit for a finalized transaction.
func CommitFor(tx transaction.Transaction) (Commit, error) {
	refs, err := tx.OutputRefs()
	if err != nil {
		return Commit{}, fmt.Errorf("commit for %s: %w", tx.ID, err)
	}
	records := make([]VersionedRecord, 0, len(refs))
	for i, ref := range refs {
		records = append(records, VersionedRecord{Ref: ref, Record: tx.Body.Outputs[i]})
	}
	return Commit{
		TransactionID: tx.ID,
		Consumed:      tx.InputRefs(),
		Records:       records,
		Transaction:   tx,
	}, nil
}

// RecordPage describes a page of current record versions.
type RecordPage struct {
	Records       []StoredRecord
	NextPageToken string
}

// RecordStore persists record versions and the transactions that produced
// them.
type RecordStore interface {
	// GetRecord returns the current version of id: the unconsumed one, or the
	// most recent when every version is spent.
	GetRecord(ctx context.Context, id string) (StoredRecord, error)
	// Commit applies c atomically. Re-applying a committed transaction id is a
	// no-op that reports applied=false.
	Commit(ctx context.Context, c Commit) (applied bool, err error)
	HasTransaction(ctx context.Context, transactionID string) (bool, error)
	GetTransaction(ctx context.Context, transactionID string) (transaction.Transaction, error)
	// ListRecords pages through unconsumed versions in commit order.
	ListRecords(ctx context.Context, pageSize int, pageToken string, includeDeleted bool) (RecordPage, error)
	// History returns every version of id, oldest first.
	History(ctx context.Context, id string) ([]StoredRecord, error)
}

// DeliveryStatus is the state of one outbox delivery.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusDead      DeliveryStatus = "dead"
)

// Delivery is a pending finality notification for one party.
type Delivery struct {
	ID            string
	TransactionID string
	Party         record.PartyID
	Status        DeliveryStatus
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OutboxStore persists finality deliveries that could not be completed
// inline.
type OutboxStore interface {
	// EnqueueDelivery adds a pending delivery. A second enqueue for the same
	// transaction and party is ignored.
	EnqueueDelivery(ctx context.Context, delivery Delivery) error
	// DueDeliveries returns pending deliveries whose next attempt is due.
	DueDeliveries(ctx context.Context, now time.Time, limit int) ([]Delivery, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkRetry(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) error
	MarkDead(ctx context.Context, id string, lastError string, at time.Time) error
	GetDelivery(ctx context.Context, id string) (Delivery, error)
}
