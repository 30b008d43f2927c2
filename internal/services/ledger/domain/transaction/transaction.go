package transaction

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/louisbranch/covenant/internal/services/ledger/core/encoding"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
)

var (
	// ErrSignerNotRequired indicates a signature from a party outside the
	// required signer set.
	ErrSignerNotRequired = errors.New("signer is not required")
	// ErrSignatureConflict indicates an attempt to replace an existing
	// signature.
	ErrSignatureConflict = errors.New("signature already recorded")
	// ErrSignatureInvalid indicates a signature that does not verify.
	ErrSignatureInvalid = errors.New("signature is invalid")
)

// signingDomain separates transaction signatures from any other use of a
// party key.
const signingDomain = "covenant/transaction/v1:"

// Input is a consumed reference together with the record content it points
// at, so that every signer can verify the transition without extra lookups.
type Input struct {
	Ref   record.Reference `cbor:"ref"`
	State record.Record    `cbor:"state"`
}

// Body is the signed content of a transaction.
type Body struct {
	Command         Command          `cbor:"command"`
	Inputs          []Input          `cbor:"inputs"`
	Outputs         []record.Record  `cbor:"outputs"`
	RequiredSigners []record.PartyID `cbor:"required_signers"`
	Proposer        record.PartyID   `cbor:"proposer"`
	Nonce           string           `cbor:"nonce"`
	CreatedAt       int64            `cbor:"created_at"`
}

// Transaction is a proposed or finalized change.
type Transaction struct {
	ID                 string                    `cbor:"id"`
	Body               Body                      `cbor:"body"`
	Signatures         map[record.PartyID][]byte `cbor:"signatures"`
	AuthoritySignature string                    `cbor:"authority_signature"`
}

// ComputeID hashes the canonical encoding of body.
func ComputeID(body Body) (string, error) {
	id, err := encoding.Hash(body)
	if err != nil {
		return "", fmt.Errorf("compute transaction id: %w", err)
	}
	return id, nil
}

// New seals body into a draft transaction.
func New(body Body) (Transaction, error) {
	id, err := ComputeID(body)
	if err != nil {
		return Transaction{}, err
	}
	return Transaction{ID: id, Body: body}, nil
}

// RequiredSigners returns the union of input and output participants.
func RequiredSigners(inputs []Input, outputs []record.Record) []record.PartyID {
	sets := make([][]record.PartyID, 0, len(inputs)+len(outputs))
	for _, input := range inputs {
		sets = append(sets, input.State.Participants)
	}
	for _, output := range outputs {
		sets = append(sets, output.Participants)
	}
	return record.UnionParties(sets...)
}

// InputRefs lists the references the transaction consumes.
func (t Transaction) InputRefs() []record.Reference {
	refs := make([]record.Reference, 0, len(t.Body.Inputs))
	for _, input := range t.Body.Inputs {
		refs = append(refs, input.Ref)
	}
	return refs
}

// OutputRefs lists the references of the versions the transaction produces.
func (t Transaction) OutputRefs() ([]record.Reference, error) {
	refs := make([]record.Reference, 0, len(t.Body.Outputs))
	for i, output := range t.Body.Outputs {
		version, err := record.VersionOf(t.ID, i, output)
		if err != nil {
			return nil, err
		}
		refs = append(refs, record.Reference{ID: output.ID, Version: version})
	}
	return refs, nil
}

// SigningPayload is the message every party signs.
func (t Transaction) SigningPayload() []byte {
	return []byte(signingDomain + t.ID)
}

// Sign signs the transaction as party with key and records the signature.
func (t *Transaction) Sign(party record.PartyID, key ed25519.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("sign as %s: private key must be %d bytes", party, ed25519.PrivateKeySize)
	}
	return t.AddSignature(party, ed25519.Sign(key, t.SigningPayload()))
}

// AddSignature appends a signature. Signatures are append-only: recording
// the same bytes twice is a no-op, different bytes are rejected.
func (t *Transaction) AddSignature(party record.PartyID, signature []byte) error {
	if !record.ContainsParty(t.Body.RequiredSigners, party) {
		return fmt.Errorf("%w: %s", ErrSignerNotRequired, party)
	}
	if existing, ok := t.Signatures[party]; ok {
		if bytes.Equal(existing, signature) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrSignatureConflict, party)
	}
	if t.Signatures == nil {
		t.Signatures = make(map[record.PartyID][]byte, len(t.Body.RequiredSigners))
	}
	t.Signatures[party] = slices.Clone(signature)
	return nil
}

// VerifySignature checks party's recorded signature against key.
func (t Transaction) VerifySignature(party record.PartyID, key ed25519.PublicKey) error {
	signature, ok := t.Signatures[party]
	if !ok {
		return fmt.Errorf("%w: %s has not signed", ErrSignatureInvalid, party)
	}
	if len(key) != ed25519.PublicKeySize || !ed25519.Verify(key, t.SigningPayload(), signature) {
		return fmt.Errorf("%w: %s", ErrSignatureInvalid, party)
	}
	return nil
}

// MissingSigners lists required signers without a recorded signature.
func (t Transaction) MissingSigners() []record.PartyID {
	var missing []record.PartyID
	for _, party := range t.Body.RequiredSigners {
		if _, ok := t.Signatures[party]; !ok {
			missing = append(missing, party)
		}
	}
	return missing
}

// FullySigned reports whether every required signer has signed.
func (t Transaction) FullySigned() bool {
	return len(t.Body.RequiredSigners) > 0 && len(t.MissingSigners()) == 0
}

// Final reports whether the transaction is fully signed and notarized.
func (t Transaction) Final() bool {
	return t.FullySigned() && t.AuthoritySignature != ""
}

// Clone returns a deep copy that can be mutated independently.
func (t Transaction) Clone() Transaction {
	out := t
	out.Body.Inputs = slices.Clone(t.Body.Inputs)
	out.Body.Outputs = slices.Clone(t.Body.Outputs)
	out.Body.RequiredSigners = slices.Clone(t.Body.RequiredSigners)
	if t.Signatures != nil {
		out.Signatures = maps.Clone(t.Signatures)
	}
	return out
}
