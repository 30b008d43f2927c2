package flow

import (
	"context"
	"crypto/ed25519"
	"errors"
	"log"

	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/covenant/internal/services/notary/attestation"
)

// ErrSessionClosed is returned by Recv once the peer ended the session.
var ErrSessionClosed = errors.New("session closed")

// MessageType tags a session message.
type MessageType string

const (
	MessagePropose   MessageType = "PROPOSE"
	MessageSignature MessageType = "SIGNATURE"
	MessageReject    MessageType = "REJECT"
	MessageFinalize  MessageType = "FINALIZE"
	MessageAck       MessageType = "ACK"
)

// Message is one step of a session.
type Message struct {
	Type          MessageType
	From          record.PartyID
	TransactionID string
	// Transaction is set on PROPOSE and FINALIZE.
	Transaction *transaction.Transaction
	// Signature is set on SIGNATURE.
	Signature []byte
	// Rejection is set on REJECT.
	Rejection *apperrors.Error
}

// Session is an ordered, bidirectional conversation with one counterparty.
type Session interface {
	Party() record.PartyID
	Send(ctx context.Context, msg Message) error
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// Transport opens sessions to remote parties.
type Transport interface {
	Open(ctx context.Context, party record.PartyID) (Session, error)
}

// KeyResolver returns the verification key of a party.
type KeyResolver interface {
	PublicKey(party record.PartyID) (ed25519.PublicKey, error)
}

// AuthorityVerifier validates an authority signature for a transaction.
type AuthorityVerifier interface {
	Verify(token, transactionID string, inputs []string) (attestation.Claims, error)
}

// InputStrings renders the consumed references the way the authority signs
// them.
func InputStrings(tx transaction.Transaction) []string {
	refs := tx.InputRefs()
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ref.String())
	}
	return out
}

func closeSessions(sessions []Session) {
	for _, sess := range sessions {
		if sess != nil {
			_ = sess.Close()
		}
	}
}

func rejectMessage(self record.PartyID, txID string, err error) Message {
	var rejection *apperrors.Error
	if !errors.As(err, &rejection) {
		rejection = apperrors.New(apperrors.CodeUnknown, err.Error())
	}
	return Message{Type: MessageReject, From: self, TransactionID: txID, Rejection: rejection}
}

func logfOrDefault(logf func(string, ...any)) func(string, ...any) {
	if logf == nil {
		return log.Printf
	}
	return logf
}
