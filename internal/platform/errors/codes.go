// Package errors provides structured domain errors for the ledger protocol and
// their mapping onto gRPC status details.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Verifier rejections
	CodeValidationIDMismatch        Code = "VALIDATION_ID_MISMATCH"
	CodeValidationUnknownCommand    Code = "VALIDATION_UNKNOWN_COMMAND"
	CodeValidationInputCount        Code = "VALIDATION_INPUT_COUNT"
	CodeValidationOutputCount       Code = "VALIDATION_OUTPUT_COUNT"
	CodeValidationRecordIDMissing   Code = "VALIDATION_RECORD_ID_MISSING"
	CodeValidationRecordIDChanged   Code = "VALIDATION_RECORD_ID_CHANGED"
	CodeValidationNoParticipants    Code = "VALIDATION_NO_PARTICIPANTS"
	CodeValidationSignersMismatch   Code = "VALIDATION_SIGNERS_MISMATCH"
	CodeValidationCreateDeleted     Code = "VALIDATION_CREATE_DELETED"
	CodeValidationDeleteFlagChanged Code = "VALIDATION_DELETE_FLAG_CHANGED"
	CodeValidationParticipants      Code = "VALIDATION_PARTICIPANTS_CHANGED"
	CodeValidationAlreadyDeleted    Code = "VALIDATION_ALREADY_DELETED"
	CodeValidationDeleteNotDeleted  Code = "VALIDATION_DELETE_NOT_DELETED"
	CodeValidationDeletePayload     Code = "VALIDATION_DELETE_PAYLOAD_CHANGED"
	CodeValidationInvalidPayload    Code = "VALIDATION_INVALID_PAYLOAD"
	CodeValidationInvalidIntent     Code = "VALIDATION_INVALID_INTENT"

	// Proposal errors
	CodeNotFound        Code = "NOT_FOUND"
	CodeAlreadyConsumed Code = "ALREADY_CONSUMED"

	// Collection errors
	CodeCounterpartyRejected Code = "COUNTERPARTY_REJECTED"
	CodeSessionTimeout       Code = "SESSION_TIMEOUT"
	CodeSignatureInvalid     Code = "SIGNATURE_INVALID"

	// Authority errors
	CodeNotaryConflict         Code = "NOTARY_CONFLICT"
	CodeNotarySignatureInvalid Code = "NOTARY_SIGNATURE_INVALID"

	// Finality errors
	CodePropagationFailure Code = "PROPAGATION_FAILURE"
)

// Class groups codes by how callers must react to them.
type Class string

const (
	ClassValidation  Class = "ValidationError"
	ClassNotFound    Class = "NotFound"
	ClassConsumed    Class = "AlreadyConsumed"
	ClassRejection   Class = "CounterpartyRejection"
	ClassTimeout     Class = "SessionTimeout"
	ClassConflict    Class = "NotaryConflict"
	ClassPropagation Class = "PropagationFailure"
	ClassInternal    Class = "Internal"
)

// Class returns the error class for the code.
func (c Code) Class() Class {
	switch c {
	case CodeValidationIDMismatch,
		CodeValidationUnknownCommand,
		CodeValidationInputCount,
		CodeValidationOutputCount,
		CodeValidationRecordIDMissing,
		CodeValidationRecordIDChanged,
		CodeValidationNoParticipants,
		CodeValidationSignersMismatch,
		CodeValidationCreateDeleted,
		CodeValidationDeleteFlagChanged,
		CodeValidationParticipants,
		CodeValidationAlreadyDeleted,
		CodeValidationDeleteNotDeleted,
		CodeValidationDeletePayload,
		CodeValidationInvalidPayload,
		CodeValidationInvalidIntent:
		return ClassValidation
	case CodeNotFound:
		return ClassNotFound
	case CodeAlreadyConsumed:
		return ClassConsumed
	case CodeCounterpartyRejected, CodeSignatureInvalid:
		return ClassRejection
	case CodeSessionTimeout:
		return ClassTimeout
	case CodeNotaryConflict, CodeNotarySignatureInvalid:
		return ClassConflict
	case CodePropagationFailure:
		return ClassPropagation
	default:
		return ClassInternal
	}
}

// Retryable reports whether the failure may be retried without re-running
// signing or notarization. Only propagation failures qualify.
func (c Code) Retryable() bool {
	return c.Class() == ClassPropagation
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c.Class() {
	case ClassValidation:
		return codes.InvalidArgument
	case ClassNotFound:
		return codes.NotFound
	case ClassConsumed:
		return codes.FailedPrecondition
	case ClassRejection:
		return codes.PermissionDenied
	case ClassTimeout:
		return codes.DeadlineExceeded
	case ClassConflict:
		return codes.Aborted
	case ClassPropagation:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
