package record

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/louisbranch/covenant/internal/services/ledger/core/encoding"
)

// Status is the marital status carried in the payload.
type Status string

const (
	// StatusUnspecified leaves the status unset.
	StatusUnspecified Status = ""
	// StatusSingle marks a single person.
	StatusSingle Status = "SINGLE"
	// StatusMarried marks a married person.
	StatusMarried Status = "MARRIED"
)

var (
	// ErrNegativeAge indicates a payload with a negative age.
	ErrNegativeAge = errors.New("age must not be negative")
	// ErrInvalidStatus indicates an unknown status value.
	ErrInvalidStatus = errors.New("status is invalid")
)

// Payload is the user-visible content of a record. The protocol treats it as
// opaque; only equality matters outside this package.
type Payload struct {
	Name    string `cbor:"name"`
	Age     int    `cbor:"age"`
	Address string `cbor:"address"`
	Status  Status `cbor:"status"`
}

// Validate checks scalar field ranges.
func (p Payload) Validate() error {
	if p.Age < 0 {
		return ErrNegativeAge
	}
	switch p.Status {
	case StatusUnspecified, StatusSingle, StatusMarried:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, p.Status)
	}
	return nil
}

// PayloadPatch describes a partial payload change. Nil fields keep the
// current value.
type PayloadPatch struct {
	Name    *string
	Age     *int
	Address *string
	Status  *Status
}

// Apply returns base with every non-nil patch field replaced.
func (p PayloadPatch) Apply(base Payload) Payload {
	if p.Name != nil {
		base.Name = *p.Name
	}
	if p.Age != nil {
		base.Age = *p.Age
	}
	if p.Address != nil {
		base.Address = *p.Address
	}
	if p.Status != nil {
		base.Status = *p.Status
	}
	return base
}

// Record is one version of a multi-party record.
type Record struct {
	ID           string    `cbor:"id"`
	Participants []PartyID `cbor:"participants"`
	Payload      Payload   `cbor:"payload"`
	Deleted      bool      `cbor:"deleted"`
}

// Equal reports whether r and other are the same version content.
func (r Record) Equal(other Record) bool {
	return r.ID == other.ID &&
		r.Deleted == other.Deleted &&
		r.Payload == other.Payload &&
		slices.Equal(r.Participants, other.Participants)
}

// HasParticipant reports whether party may hold this record.
func (r Record) HasParticipant(party PartyID) bool {
	return ContainsParty(r.Participants, party)
}

// Reference points at one exact version of a record.
type Reference struct {
	ID      string `cbor:"id"`
	Version string `cbor:"version"`
}

// IsZero reports whether the reference is unset.
func (r Reference) IsZero() bool {
	return r.ID == "" && r.Version == ""
}

// String renders the reference as id@version.
func (r Reference) String() string {
	return r.ID + "@" + r.Version
}

type versionKey struct {
	TransactionID string `cbor:"transaction_id"`
	Index         int    `cbor:"index"`
	Record        Record `cbor:"record"`
}

// VersionOf derives the version token for the output at index of the
// transaction transactionID.
func VersionOf(transactionID string, index int, rec Record) (string, error) {
	if strings.TrimSpace(transactionID) == "" {
		return "", errors.New("transaction id is required")
	}
	version, err := encoding.Hash(versionKey{
		TransactionID: transactionID,
		Index:         index,
		Record:        rec,
	})
	if err != nil {
		return "", fmt.Errorf("version of %s: %w", rec.ID, err)
	}
	return version, nil
}
