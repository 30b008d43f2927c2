// Package encoding produces the canonical byte form of ledger values. Every
// identifier that must agree across nodes (transaction ids, version tokens,
// signed digests) is derived from these bytes.
package encoding

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var canonicalMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	// nil and empty collections must hash identically after a round trip.
	opts.NilContainers = cbor.NilContainerAsEmpty
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("canonical cbor mode: %v", err))
	}
	canonicalMode = mode
}

// Canonical returns the RFC 7049 canonical CBOR encoding of v.
func Canonical(v any) ([]byte, error) {
	data, err := canonicalMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encode %T: %w", v, err)
	}
	return data, nil
}

// Digest returns the SHA-256 of the canonical encoding of v.
func Digest(v any) ([]byte, error) {
	data, err := Canonical(v)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// Hash returns the lowercase hex SHA-256 of the canonical encoding of v.
func Hash(v any) (string, error) {
	sum, err := Digest(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// Decode parses CBOR produced by Canonical into v.
func Decode(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
