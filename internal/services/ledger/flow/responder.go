package flow

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
	"github.com/louisbranch/covenant/internal/platform/timeouts"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/verify"
	"github.com/louisbranch/covenant/internal/services/ledger/identity"
	"github.com/louisbranch/covenant/internal/services/ledger/storage"
)

// Responder answers sessions opened by other nodes: it countersigns valid
// proposals and commits finalized transactions.
type Responder struct {
	Self        identity.Self
	Keys        KeyResolver
	Store       storage.RecordStore
	Locks       *Locks
	Attestation AuthorityVerifier
	// AwaitFinality bounds the wait for FINALIZE after countersigning.
	AwaitFinality time.Duration
	Logf          func(string, ...any)
}

// Serve handles one session until it completes. A session either starts
// with PROPOSE (countersign, then FINALIZE) or with FINALIZE alone
// (observers and redelivery).
func (r *Responder) Serve(ctx context.Context, sess Session) error {
	msg, err := sess.Recv(ctx)
	if err != nil {
		if errors.Is(err, ErrSessionClosed) {
			return nil
		}
		return err
	}
	switch msg.Type {
	case MessagePropose:
		return r.handleProposal(ctx, sess, msg)
	case MessageFinalize:
		return r.handleFinalize(ctx, sess, msg)
	default:
		err := apperrors.New(apperrors.CodeUnknown, fmt.Sprintf("unexpected %s message", msg.Type))
		return sess.Send(ctx, rejectMessage(r.Self.ID, msg.TransactionID, err))
	}
}

func (r *Responder) handleProposal(ctx context.Context, sess Session, msg Message) error {
	if msg.Transaction == nil {
		err := apperrors.New(apperrors.CodeValidationIDMismatch, "proposal carries no transaction")
		return sess.Send(ctx, rejectMessage(r.Self.ID, msg.TransactionID, err))
	}
	tx := *msg.Transaction
	if err := r.checkProposal(msg.From, tx); err != nil {
		r.logf("reject %s from %s: %v", tx.ID, msg.From, err)
		return sess.Send(ctx, rejectMessage(r.Self.ID, tx.ID, err))
	}

	ids := recordIDs(tx)
	if !r.Locks.TryAcquire(tx.ID, ids...) {
		for _, id := range ids {
			if holder, ok := r.Locks.Holder(id); ok && holder != tx.ID {
				r.logf("proposal %s refused: record %s held by %s", tx.ID, id, holder)
				return sess.Send(ctx, rejectMessage(r.Self.ID, tx.ID, inFlightError(id)))
			}
		}
		return sess.Send(ctx, rejectMessage(r.Self.ID, tx.ID, inFlightError(ids[0])))
	}
	released := false
	release := func() {
		if !released {
			released = true
			r.Locks.Release(tx.ID, ids...)
		}
	}
	defer release()

	if err := r.checkStored(ctx, tx); err != nil {
		r.logf("reject %s from %s: %v", tx.ID, msg.From, err)
		return sess.Send(ctx, rejectMessage(r.Self.ID, tx.ID, err))
	}

	signature := ed25519.Sign(r.Self.PrivateKey, tx.SigningPayload())
	if err := sess.Send(ctx, Message{Type: MessageSignature, From: r.Self.ID, TransactionID: tx.ID, Signature: signature}); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.awaitFinality())
	defer cancel()
	next, err := sess.Recv(waitCtx)
	if err != nil {
		// The proposer aborted or went away; redelivery covers the latter.
		if errors.Is(err, ErrSessionClosed) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
	if next.Type != MessageFinalize || next.Transaction == nil || next.Transaction.ID != tx.ID {
		err := apperrors.New(apperrors.CodeUnknown, fmt.Sprintf("expected FINALIZE for %s, got %s", tx.ID, next.Type))
		return sess.Send(ctx, rejectMessage(r.Self.ID, tx.ID, err))
	}
	// The records are free again once committed, before the proposer hears
	// back.
	reply := r.finalize(ctx, next)
	release()
	return sess.Send(ctx, reply)
}

// checkProposal runs the checks that need no local state: rules, signer
// membership and the proposer's signature.
func (r *Responder) checkProposal(from record.PartyID, tx transaction.Transaction) error {
	if err := verify.Transaction(tx).Err(); err != nil {
		return err
	}
	if !record.ContainsParty(tx.Body.RequiredSigners, r.Self.ID) {
		return apperrors.New(apperrors.CodeValidationInvalidIntent, "this party is not a required signer")
	}
	if from != "" && from != tx.Body.Proposer {
		return apperrors.New(apperrors.CodeSignatureInvalid, "session peer is not the proposer")
	}
	key, err := r.Keys.PublicKey(tx.Body.Proposer)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeSignatureInvalid, "unknown proposer", err)
	}
	if err := tx.VerifySignature(tx.Body.Proposer, key); err != nil {
		return apperrors.Wrap(apperrors.CodeSignatureInvalid, "proposer signature is invalid", err)
	}
	return nil
}

// checkStored compares the proposal with this node's store. Callers hold the
// record locks, so no other proposal countersigned here can commit between
// this check and the signature.
func (r *Responder) checkStored(ctx context.Context, tx transaction.Transaction) error {
	for _, input := range tx.Body.Inputs {
		current, err := r.Store.GetRecord(ctx, input.Ref.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperrors.WithMetadata(apperrors.CodeNotFound, "input record is unknown here", map[string]string{"RecordID": input.Ref.ID})
			}
			return err
		}
		if current.Consumed || current.Ref != input.Ref {
			return apperrors.WithMetadata(apperrors.CodeAlreadyConsumed, "input is not the current version here", map[string]string{
				"RecordID": input.Ref.ID,
				"Version":  input.Ref.Version,
			})
		}
		if !current.Record.Equal(input.State) {
			return apperrors.New(apperrors.CodeValidationIDMismatch, "input state differs from the stored version")
		}
	}
	if tx.Body.Command == transaction.CommandCreate {
		for _, out := range tx.Body.Outputs {
			_, err := r.Store.GetRecord(ctx, out.ID)
			if err == nil {
				return apperrors.WithMetadata(apperrors.CodeValidationInvalidIntent, "record id already exists", map[string]string{"RecordID": out.ID})
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
		}
	}
	return nil
}

// handleFinalize verifies and commits a finalized transaction, then ACKs.
// Commits are idempotent, so redelivered transactions are simply ACKed.
func (r *Responder) handleFinalize(ctx context.Context, sess Session, msg Message) error {
	return sess.Send(ctx, r.finalize(ctx, msg))
}

func (r *Responder) finalize(ctx context.Context, msg Message) Message {
	if msg.Transaction == nil {
		err := apperrors.New(apperrors.CodeValidationIDMismatch, "finalize carries no transaction")
		return rejectMessage(r.Self.ID, msg.TransactionID, err)
	}
	tx := *msg.Transaction
	if err := VerifyFinal(tx, r.Keys, r.Attestation); err != nil {
		r.logf("refuse final %s from %s: %v", tx.ID, msg.From, err)
		return rejectMessage(r.Self.ID, tx.ID, err)
	}
	commit, err := storage.CommitFor(tx)
	if err != nil {
		return rejectMessage(r.Self.ID, tx.ID, err)
	}
	applied, err := r.Store.Commit(ctx, commit)
	if err != nil {
		r.logf("commit final %s: %v", tx.ID, err)
		return rejectMessage(r.Self.ID, tx.ID, err)
	}
	if applied {
		r.logf("committed %s %s from %s", tx.Body.Command, tx.ID, msg.From)
	}
	return Message{Type: MessageAck, From: r.Self.ID, TransactionID: tx.ID}
}

func (r *Responder) awaitFinality() time.Duration {
	if r.AwaitFinality <= 0 {
		return timeouts.AwaitFinality
	}
	return r.AwaitFinality
}

func (r *Responder) logf(format string, args ...any) {
	logfOrDefault(r.Logf)(format, args...)
}

func recordIDs(tx transaction.Transaction) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, input := range tx.Body.Inputs {
		if !seen[input.Ref.ID] {
			seen[input.Ref.ID] = true
			ids = append(ids, input.Ref.ID)
		}
	}
	for _, out := range tx.Body.Outputs {
		if !seen[out.ID] {
			seen[out.ID] = true
			ids = append(ids, out.ID)
		}
	}
	return ids
}
