// Package verify holds the pure contract checks every node runs before it
// signs a transaction.
package verify

import (
	"fmt"
	"slices"

	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
)

// Result is the outcome of verification. The zero value is Ok.
type Result struct {
	Code    apperrors.Code
	Message string
}

// Ok reports whether the transaction passed every rule.
func (r Result) Ok() bool {
	return r.Code == ""
}

// Err converts a rejection into a domain error. It returns nil for Ok.
func (r Result) Err() error {
	if r.Ok() {
		return nil
	}
	return apperrors.New(r.Code, r.Message)
}

func reject(code apperrors.Code, format string, args ...any) Result {
	return Result{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Transaction checks tx against the structural and per-command rules.
// Signatures are not inspected.
func Transaction(tx transaction.Transaction) Result {
	if !tx.Body.Command.Valid() {
		return reject(apperrors.CodeValidationUnknownCommand, "unknown command %q", tx.Body.Command)
	}
	id, err := transaction.ComputeID(tx.Body)
	if err != nil || id != tx.ID {
		return reject(apperrors.CodeValidationIDMismatch, "transaction id does not match body")
	}
	if res := checkShape(tx.Body); !res.Ok() {
		return res
	}
	if res := checkRecords(tx.Body); !res.Ok() {
		return res
	}
	want := transaction.RequiredSigners(tx.Body.Inputs, tx.Body.Outputs)
	if !slices.Equal(want, tx.Body.RequiredSigners) {
		return reject(apperrors.CodeValidationSignersMismatch, "required signers %v, want %v", tx.Body.RequiredSigners, want)
	}

	switch tx.Body.Command {
	case transaction.CommandCreate:
		return checkCreate(tx.Body)
	case transaction.CommandUpdate:
		return checkUpdate(tx.Body)
	case transaction.CommandDelete:
		return checkDelete(tx.Body)
	}
	return Result{}
}

func checkShape(body transaction.Body) Result {
	wantInputs := 1
	if body.Command == transaction.CommandCreate {
		wantInputs = 0
	}
	if len(body.Inputs) != wantInputs {
		return reject(apperrors.CodeValidationInputCount, "%s takes %d inputs, got %d", body.Command, wantInputs, len(body.Inputs))
	}
	if len(body.Outputs) != 1 {
		return reject(apperrors.CodeValidationOutputCount, "%s takes 1 output, got %d", body.Command, len(body.Outputs))
	}
	return Result{}
}

func checkRecords(body transaction.Body) Result {
	states := make([]record.Record, 0, len(body.Inputs)+len(body.Outputs))
	for _, input := range body.Inputs {
		if input.Ref.ID != input.State.ID || input.Ref.Version == "" {
			return reject(apperrors.CodeValidationRecordIDMissing, "input reference %s does not match its state", input.Ref)
		}
		states = append(states, input.State)
	}
	states = append(states, body.Outputs...)
	for _, state := range states {
		if state.ID == "" {
			return reject(apperrors.CodeValidationRecordIDMissing, "record id is required")
		}
		if len(state.Participants) == 0 {
			return reject(apperrors.CodeValidationNoParticipants, "record %s has no participants", state.ID)
		}
		if err := state.Payload.Validate(); err != nil {
			return reject(apperrors.CodeValidationInvalidPayload, "record %s: %v", state.ID, err)
		}
	}
	return Result{}
}

func checkCreate(body transaction.Body) Result {
	if body.Outputs[0].Deleted {
		return reject(apperrors.CodeValidationCreateDeleted, "created record must not be deleted")
	}
	return Result{}
}

func checkUpdate(body transaction.Body) Result {
	in, out := body.Inputs[0].State, body.Outputs[0]
	if res := checkSameRecord(in, out); !res.Ok() {
		return res
	}
	if in.Deleted != out.Deleted {
		return reject(apperrors.CodeValidationDeleteFlagChanged, "update must not change the deleted flag")
	}
	return Result{}
}

func checkDelete(body transaction.Body) Result {
	in, out := body.Inputs[0].State, body.Outputs[0]
	if res := checkSameRecord(in, out); !res.Ok() {
		return res
	}
	if in.Deleted {
		return reject(apperrors.CodeValidationAlreadyDeleted, "record %s is already deleted", in.ID)
	}
	if !out.Deleted {
		return reject(apperrors.CodeValidationDeleteNotDeleted, "delete output must be marked deleted")
	}
	if in.Payload != out.Payload {
		return reject(apperrors.CodeValidationDeletePayload, "delete must not change the payload")
	}
	return Result{}
}

func checkSameRecord(in, out record.Record) Result {
	if in.ID != out.ID {
		return reject(apperrors.CodeValidationRecordIDChanged, "record id changed from %s to %s", in.ID, out.ID)
	}
	if !record.SameParties(in.Participants, out.Participants) {
		return reject(apperrors.CodeValidationParticipants, "participants changed from %v to %v", in.Participants, out.Participants)
	}
	return Result{}
}
