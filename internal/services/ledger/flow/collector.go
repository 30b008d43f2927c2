package flow

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
	"github.com/louisbranch/covenant/internal/platform/timeouts"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
)

// Collector gathers countersignatures from every remote required signer.
type Collector struct {
	Self      record.PartyID
	Transport Transport
	Keys      KeyResolver
	// SignerTimeout bounds each session from open to signature.
	SignerTimeout time.Duration
}

// Collect sends tx to every remote signer concurrently and returns a copy
// carrying all signatures along with the open sessions, ordered like the
// required signers. Any rejection or timeout aborts the whole collection and
// closes every session.
func (c Collector) Collect(ctx context.Context, tx transaction.Transaction) (transaction.Transaction, []Session, error) {
	remote := record.Without(tx.Body.RequiredSigners, c.Self)
	if len(remote) == 0 {
		return tx, nil, nil
	}

	var (
		mu         sync.Mutex
		sessions   = make(map[record.PartyID]Session, len(remote))
		signatures = make(map[record.PartyID][]byte, len(remote))
	)
	group, groupCtx := errgroup.WithContext(ctx)
	for _, party := range remote {
		group.Go(func() error {
			sess, signature, err := c.collectOne(ctx, groupCtx, tx, party)
			mu.Lock()
			defer mu.Unlock()
			if sess != nil {
				sessions[party] = sess
			}
			if err != nil {
				return err
			}
			signatures[party] = signature
			return nil
		})
	}
	err := group.Wait()

	ordered := make([]Session, 0, len(sessions))
	for _, party := range remote {
		if sess, ok := sessions[party]; ok {
			ordered = append(ordered, sess)
		}
	}
	if err != nil {
		closeSessions(ordered)
		return tx, nil, err
	}

	signed := tx.Clone()
	for _, party := range remote {
		if err := signed.AddSignature(party, signatures[party]); err != nil {
			closeSessions(ordered)
			return tx, nil, apperrors.Wrap(apperrors.CodeSignatureInvalid, fmt.Sprintf("record signature from %s", party), err)
		}
	}
	return signed, ordered, nil
}

// collectOne runs one session. The session lives on parent so it can carry
// FINALIZE later; each step is bounded by the signer timeout under groupCtx.
func (c Collector) collectOne(parent, groupCtx context.Context, tx transaction.Transaction, party record.PartyID) (Session, []byte, error) {
	stepCtx, cancel := context.WithTimeout(groupCtx, c.timeout())
	defer cancel()

	sess, err := c.open(parent, stepCtx, party)
	if err != nil {
		return nil, nil, c.failure(parent, party, err)
	}
	propose := Message{Type: MessagePropose, From: c.Self, TransactionID: tx.ID, Transaction: &tx}
	if err := sess.Send(stepCtx, propose); err != nil {
		return sess, nil, c.failure(parent, party, err)
	}
	reply, err := sess.Recv(stepCtx)
	if err != nil {
		return sess, nil, c.failure(parent, party, err)
	}

	switch reply.Type {
	case MessageSignature:
		if reply.TransactionID != tx.ID {
			return sess, nil, signatureError(party, "signature for another transaction")
		}
		key, err := c.Keys.PublicKey(party)
		if err != nil {
			return sess, nil, signatureError(party, err.Error())
		}
		if !ed25519.Verify(key, tx.SigningPayload(), reply.Signature) {
			return sess, nil, signatureError(party, "signature does not verify")
		}
		return sess, reply.Signature, nil
	case MessageReject:
		return sess, nil, rejectionError(party, reply.Rejection)
	default:
		return sess, nil, rejectionError(party, apperrors.New(apperrors.CodeUnknown, fmt.Sprintf("unexpected %s message", reply.Type)))
	}
}

type openResult struct {
	sess Session
	err  error
}

// open bounds Transport.Open by stepCtx while binding the session to parent.
func (c Collector) open(parent, stepCtx context.Context, party record.PartyID) (Session, error) {
	done := make(chan openResult, 1)
	go func() {
		sess, err := c.Transport.Open(parent, party)
		done <- openResult{sess: sess, err: err}
	}()
	select {
	case result := <-done:
		return result.sess, result.err
	case <-stepCtx.Done():
		go func() {
			if late := <-done; late.sess != nil {
				_ = late.sess.Close()
			}
		}()
		return nil, stepCtx.Err()
	}
}

func (c Collector) timeout() time.Duration {
	if c.SignerTimeout <= 0 {
		return timeouts.SignerSession
	}
	return c.SignerTimeout
}

// failure classifies transport errors. Caller cancellation passes through;
// everything else counts as the counterparty failing to answer in time.
func (c Collector) failure(parent context.Context, party record.PartyID, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	return apperrors.WrapWithMetadata(
		apperrors.CodeSessionTimeout,
		fmt.Sprintf("no answer from %s", party),
		map[string]string{"Party": string(party)},
		err,
	)
}

func signatureError(party record.PartyID, reason string) error {
	return apperrors.WithMetadata(
		apperrors.CodeSignatureInvalid,
		fmt.Sprintf("invalid signature from %s: %s", party, reason),
		map[string]string{"Party": string(party)},
	)
}

func rejectionError(party record.PartyID, remote *apperrors.Error) error {
	reason := string(apperrors.CodeUnknown)
	message := "rejected"
	var cause error
	if remote != nil {
		reason = string(remote.Code)
		message = remote.Message
		cause = remote
	}
	return apperrors.WrapWithMetadata(
		apperrors.CodeCounterpartyRejected,
		fmt.Sprintf("%s rejected the transaction: %s", party, message),
		map[string]string{"Party": string(party), "Reason": reason},
		cause,
	)
}
