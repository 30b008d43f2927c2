package ledger

import (
	"fmt"
	"strings"

	ledgerv1 "github.com/louisbranch/covenant/api/ledger/v1"
	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
	"github.com/louisbranch/covenant/internal/services/ledger/core/encoding"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/covenant/internal/services/ledger/flow"
)

var envelopeTypes = map[flow.MessageType]ledgerv1.EnvelopeType{
	flow.MessagePropose:   ledgerv1.EnvelopeTypePropose,
	flow.MessageSignature: ledgerv1.EnvelopeTypeSignature,
	flow.MessageReject:    ledgerv1.EnvelopeTypeReject,
	flow.MessageFinalize:  ledgerv1.EnvelopeTypeFinalize,
	flow.MessageAck:       ledgerv1.EnvelopeTypeAck,
}

// envelopeFromMessage encodes a session message for the wire.
func envelopeFromMessage(msg flow.Message) (*ledgerv1.Envelope, error) {
	kind, ok := envelopeTypes[msg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
	env := &ledgerv1.Envelope{
		Type:          kind,
		From:          string(msg.From),
		TransactionID: msg.TransactionID,
		Signature:     msg.Signature,
	}
	if msg.Transaction != nil {
		data, err := encoding.Canonical(*msg.Transaction)
		if err != nil {
			return nil, fmt.Errorf("encode transaction %s: %w", msg.TransactionID, err)
		}
		env.Transaction = data
	}
	if msg.Rejection != nil {
		env.Code = string(msg.Rejection.Code)
		env.Message = msg.Rejection.Message
		env.Metadata = msg.Rejection.Metadata
	}
	return env, nil
}

// messageFromEnvelope decodes a wire envelope into a session message.
func messageFromEnvelope(env *ledgerv1.Envelope) (flow.Message, error) {
	if env == nil {
		return flow.Message{}, fmt.Errorf("envelope is required")
	}
	var kind flow.MessageType
	for messageType, envelopeType := range envelopeTypes {
		if envelopeType == env.Type {
			kind = messageType
			break
		}
	}
	if kind == "" {
		return flow.Message{}, fmt.Errorf("unknown envelope type %q", env.Type)
	}
	msg := flow.Message{
		Type:          kind,
		From:          record.PartyID(strings.TrimSpace(env.From)),
		TransactionID: env.TransactionID,
		Signature:     env.Signature,
	}
	if len(env.Transaction) > 0 {
		var tx transaction.Transaction
		if err := encoding.Decode(env.Transaction, &tx); err != nil {
			return flow.Message{}, fmt.Errorf("decode transaction %s: %w", env.TransactionID, err)
		}
		msg.Transaction = &tx
	}
	if kind == flow.MessageReject {
		code := apperrors.Code(env.Code)
		if code == "" {
			code = apperrors.CodeUnknown
		}
		msg.Rejection = apperrors.WithMetadata(code, env.Message, env.Metadata)
	}
	return msg, nil
}
