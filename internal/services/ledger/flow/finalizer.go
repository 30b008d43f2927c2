package flow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
	"github.com/louisbranch/covenant/internal/platform/timeouts"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/covenant/internal/services/ledger/storage"
)

const defaultDeliveryTries = 3

// PropagationError reports parties that did not acknowledge a finalized
// transaction. The transaction itself is final; only delivery is pending.
type PropagationError struct {
	TransactionID string
	Parties       []record.PartyID
	Causes        map[record.PartyID]error
	err           *apperrors.Error
}

func newPropagationError(txID string, causes map[record.PartyID]error) *PropagationError {
	parties := make([]record.PartyID, 0, len(causes))
	names := make([]string, 0, len(causes))
	for party := range causes {
		parties = append(parties, party)
	}
	slices.Sort(parties)
	for _, party := range parties {
		names = append(names, string(party))
	}
	return &PropagationError{
		TransactionID: txID,
		Parties:       parties,
		Causes:        causes,
		err: apperrors.WithMetadata(
			apperrors.CodePropagationFailure,
			fmt.Sprintf("transaction %s not yet delivered to %s", txID, strings.Join(names, ", ")),
			map[string]string{"TransactionID": txID, "Parties": strings.Join(names, ",")},
		),
	}
}

func (e *PropagationError) Error() string {
	return e.err.Error()
}

// Unwrap exposes the coded domain error.
func (e *PropagationError) Unwrap() error {
	return e.err
}

// Finalizer commits a notarized transaction locally and hands it to every
// other party.
type Finalizer struct {
	Self      record.PartyID
	Store     storage.RecordStore
	Transport Transport
	// DeliveryTimeout bounds one FINALIZE/ACK exchange.
	DeliveryTimeout time.Duration
	// MaxTries bounds fresh-session delivery attempts per party.
	MaxTries uint
	// NewBackOff returns the retry schedule for fresh-session delivery.
	NewBackOff func() backoff.BackOff
}

// Finalize commits tx locally, then delivers it over the signer sessions and
// to observers concurrently. Delivery failures alone come back as a
// *PropagationError. A failed local commit is fatal, but the authority has
// already spent the inputs, so the transaction is still delivered before
// the commit error is returned.
func (f Finalizer) Finalize(ctx context.Context, tx transaction.Transaction, sessions []Session, observers []record.PartyID) error {
	if !tx.Final() {
		return errors.New("finalize requires a fully signed, notarized transaction")
	}
	commit, err := storage.CommitFor(tx)
	if err != nil {
		return err
	}
	var commitErr error
	if _, err := f.Store.Commit(ctx, commit); err != nil {
		commitErr = apperrors.Wrap(apperrors.CodeUnknown, fmt.Sprintf("commit %s locally: %v", tx.ID, err), err)
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed = make(map[record.PartyID]error)
	)
	fail := func(party record.PartyID, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed[party] = err
	}

	covered := map[record.PartyID]bool{f.Self: true}
	for _, sess := range sessions {
		covered[sess.Party()] = true
		wg.Go(func() {
			if err := f.exchange(ctx, sess, tx); err == nil {
				return
			}
			if err := f.Deliver(ctx, sess.Party(), tx); err != nil {
				fail(sess.Party(), err)
			}
		})
	}
	for _, party := range record.NormalizeParties(observers) {
		if covered[party] {
			continue
		}
		covered[party] = true
		wg.Go(func() {
			if err := f.Deliver(ctx, party, tx); err != nil {
				fail(party, err)
			}
		})
	}
	wg.Wait()

	var propagation error
	if len(failed) > 0 {
		propagation = newPropagationError(tx.ID, failed)
	}
	if commitErr != nil {
		return errors.Join(commitErr, propagation)
	}
	return propagation
}

// Deliver opens a fresh session to party and hands it the finalized
// transaction, retrying with exponential backoff.
func (f Finalizer) Deliver(ctx context.Context, party record.PartyID, tx transaction.Transaction) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		sess, err := f.Transport.Open(ctx, party)
		if err != nil {
			return struct{}{}, err
		}
		defer sess.Close()
		err = f.exchange(ctx, sess, tx)
		if apperrors.HasCode(err, apperrors.CodeCounterpartyRejected) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(f.newBackOff()),
		backoff.WithMaxTries(f.maxTries()),
	)
	return err
}

// exchange sends FINALIZE on sess and waits for the ACK.
func (f Finalizer) exchange(ctx context.Context, sess Session, tx transaction.Transaction) error {
	stepCtx, cancel := context.WithTimeout(ctx, f.timeout())
	defer cancel()

	final := tx
	if err := sess.Send(stepCtx, Message{Type: MessageFinalize, From: f.Self, TransactionID: tx.ID, Transaction: &final}); err != nil {
		return err
	}
	reply, err := sess.Recv(stepCtx)
	if err != nil {
		return err
	}
	switch {
	case reply.Type == MessageAck && reply.TransactionID == tx.ID:
		return nil
	case reply.Type == MessageReject:
		return rejectionError(sess.Party(), reply.Rejection)
	default:
		return fmt.Errorf("unexpected %s reply to finalize from %s", reply.Type, sess.Party())
	}
}

func (f Finalizer) timeout() time.Duration {
	if f.DeliveryTimeout <= 0 {
		return timeouts.FinalityDelivery
	}
	return f.DeliveryTimeout
}

func (f Finalizer) maxTries() uint {
	if f.MaxTries == 0 {
		return defaultDeliveryTries
	}
	return f.MaxTries
}

func (f Finalizer) newBackOff() backoff.BackOff {
	if f.NewBackOff != nil {
		return f.NewBackOff()
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	return policy
}
