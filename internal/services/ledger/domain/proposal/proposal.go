// Package proposal turns a caller's intent into a verified draft transaction.
package proposal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
	"github.com/louisbranch/covenant/internal/platform/id"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/verify"
	"github.com/louisbranch/covenant/internal/services/ledger/storage"
)

// RecordLookup resolves the latest stored version of a record.
type RecordLookup interface {
	GetRecord(ctx context.Context, id string) (storage.StoredRecord, error)
}

// Builder assembles draft transactions for the local party.
type Builder struct {
	Self    record.PartyID
	Records RecordLookup
	Now     func() time.Time
	NewID   func() (string, error)
}

// Propose builds and verifies a draft for intent. The current record is read
// once; nothing is written.
func (b Builder) Propose(ctx context.Context, intent transaction.Intent) (transaction.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return transaction.Transaction{}, err
	}
	if b.Self == "" {
		return transaction.Transaction{}, errors.New("proposal builder requires a local party")
	}

	var (
		body transaction.Body
		err  error
	)
	switch intent.Command {
	case transaction.CommandCreate:
		body, err = b.createBody(intent)
	case transaction.CommandUpdate, transaction.CommandDelete:
		body, err = b.transitionBody(ctx, intent)
	default:
		return transaction.Transaction{}, apperrors.New(apperrors.CodeValidationUnknownCommand, fmt.Sprintf("unknown command %q", intent.Command))
	}
	if err != nil {
		return transaction.Transaction{}, err
	}

	nonce, err := b.newID()
	if err != nil {
		return transaction.Transaction{}, fmt.Errorf("generate nonce: %w", err)
	}
	body.Command = intent.Command
	body.RequiredSigners = transaction.RequiredSigners(body.Inputs, body.Outputs)
	body.Proposer = b.Self
	body.Nonce = nonce
	body.CreatedAt = b.now().UnixMilli()

	tx, err := transaction.New(body)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if err := verify.Transaction(tx).Err(); err != nil {
		return transaction.Transaction{}, err
	}
	return tx, nil
}

func (b Builder) createBody(intent transaction.Intent) (transaction.Body, error) {
	participants := record.NormalizeParties(intent.Participants)
	if len(participants) == 0 {
		return transaction.Body{}, apperrors.New(apperrors.CodeValidationNoParticipants, "create requires at least one participant")
	}
	if !record.ContainsParty(participants, b.Self) {
		return transaction.Body{}, apperrors.New(apperrors.CodeValidationInvalidIntent, "the local party must participate in records it creates")
	}
	if err := intent.Payload.Validate(); err != nil {
		return transaction.Body{}, apperrors.Wrap(apperrors.CodeValidationInvalidPayload, err.Error(), err)
	}
	recordID := strings.TrimSpace(intent.RecordID)
	if recordID == "" {
		generated, err := b.newID()
		if err != nil {
			return transaction.Body{}, fmt.Errorf("generate record id: %w", err)
		}
		recordID = generated
	}
	return transaction.Body{
		Outputs: []record.Record{{
			ID:           recordID,
			Participants: participants,
			Payload:      intent.Payload,
		}},
	}, nil
}

func (b Builder) transitionBody(ctx context.Context, intent transaction.Intent) (transaction.Body, error) {
	recordID := strings.TrimSpace(intent.RecordID)
	if recordID == "" {
		return transaction.Body{}, apperrors.New(apperrors.CodeValidationRecordIDMissing, "record id is required")
	}
	if b.Records == nil {
		return transaction.Body{}, errors.New("proposal builder requires a record lookup")
	}
	current, err := b.Records.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return transaction.Body{}, apperrors.WithMetadata(apperrors.CodeNotFound, "record not found", map[string]string{"RecordID": recordID})
		}
		return transaction.Body{}, fmt.Errorf("load record %s: %w", recordID, err)
	}
	if current.Consumed {
		return transaction.Body{}, consumedError(current.Ref, "record version is already consumed")
	}
	if intent.Expected != nil && *intent.Expected != current.Ref {
		return transaction.Body{}, consumedError(*intent.Expected, "expected version is no longer current")
	}
	if !current.Record.HasParticipant(b.Self) {
		return transaction.Body{}, apperrors.New(apperrors.CodeValidationInvalidIntent, "the local party is not a participant of this record")
	}

	out := current.Record
	switch intent.Command {
	case transaction.CommandUpdate:
		if intent.Patch != nil {
			out.Payload = intent.Patch.Apply(current.Record.Payload)
		} else {
			out.Payload = intent.Payload
		}
		if err := out.Payload.Validate(); err != nil {
			return transaction.Body{}, apperrors.Wrap(apperrors.CodeValidationInvalidPayload, err.Error(), err)
		}
	case transaction.CommandDelete:
		out.Deleted = true
	}
	return transaction.Body{
		Inputs:  []transaction.Input{{Ref: current.Ref, State: current.Record}},
		Outputs: []record.Record{out},
	}, nil
}

func consumedError(ref record.Reference, message string) error {
	return apperrors.WithMetadata(apperrors.CodeAlreadyConsumed, message, map[string]string{
		"RecordID": ref.ID,
		"Version":  ref.Version,
	})
}

func (b Builder) now() time.Time {
	if b.Now == nil {
		return time.Now().UTC()
	}
	return b.Now().UTC()
}

func (b Builder) newID() (string, error) {
	if b.NewID == nil {
		return id.NewID()
	}
	return b.NewID()
}
