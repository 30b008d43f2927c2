// Package identity resolves party ids to signing keys and session addresses.
package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
)

// ErrUnknownParty indicates a party missing from the directory.
var ErrUnknownParty = errors.New("unknown party")

// Self is the local node's identity.
type Self struct {
	ID         record.PartyID
	PrivateKey ed25519.PrivateKey
}

// PublicKey returns the verification key for Self.
func (s Self) PublicKey() ed25519.PublicKey {
	if len(s.PrivateKey) != ed25519.PrivateKeySize {
		return nil
	}
	return s.PrivateKey.Public().(ed25519.PublicKey)
}

// Peer is a remote party.
type Peer struct {
	ID        record.PartyID
	Address   string
	PublicKey ed25519.PublicKey
}

// Directory is the static set of known parties.
type Directory struct {
	self  Self
	peers map[record.PartyID]Peer
}

// NewDirectory validates and indexes the known parties.
func NewDirectory(self Self, peers []Peer) (*Directory, error) {
	self.ID = record.PartyID(strings.TrimSpace(string(self.ID)))
	if self.ID == "" {
		return nil, errors.New("self party id is required")
	}
	if len(self.PrivateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes", ed25519.PrivateKeySize)
	}
	index := make(map[record.PartyID]Peer, len(peers))
	for _, peer := range peers {
		peer.ID = record.PartyID(strings.TrimSpace(string(peer.ID)))
		if peer.ID == "" {
			return nil, errors.New("peer party id is required")
		}
		if peer.ID == self.ID {
			return nil, fmt.Errorf("peer %s duplicates the local party", peer.ID)
		}
		if len(peer.PublicKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("peer %s public key must be %d bytes", peer.ID, ed25519.PublicKeySize)
		}
		if _, ok := index[peer.ID]; ok {
			return nil, fmt.Errorf("peer %s is listed twice", peer.ID)
		}
		index[peer.ID] = peer
	}
	return &Directory{self: self, peers: index}, nil
}

// Self returns the local identity.
func (d *Directory) Self() Self {
	return d.self
}

// Peer returns a remote party.
func (d *Directory) Peer(party record.PartyID) (Peer, error) {
	peer, ok := d.peers[party]
	if !ok {
		return Peer{}, fmt.Errorf("%w: %s", ErrUnknownParty, party)
	}
	return peer, nil
}

// PublicKey returns the verification key of any known party, including self.
func (d *Directory) PublicKey(party record.PartyID) (ed25519.PublicKey, error) {
	if party == d.self.ID {
		return d.self.PublicKey(), nil
	}
	peer, err := d.Peer(party)
	if err != nil {
		return nil, err
	}
	return peer.PublicKey, nil
}

// Parties lists every known party, self included, sorted.
func (d *Directory) Parties() []record.PartyID {
	parties := slices.Collect(maps.Keys(d.peers))
	parties = append(parties, d.self.ID)
	slices.Sort(parties)
	return parties
}

// EncodeKey renders key material the way configuration expects it.
func EncodeKey(key []byte) string {
	return base64.RawStdEncoding.EncodeToString(key)
}

// DecodeKey accepts raw or padded standard base64.
func DecodeKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}

// ParsePrivateKey decodes a 64-byte private key or a 32-byte seed.
func ParsePrivateKey(value string) (ed25519.PrivateKey, error) {
	raw, err := DecodeKey(value)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("private key must be %d or %d bytes", ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

// ParsePublicKey decodes a 32-byte public key.
func ParsePublicKey(value string) (ed25519.PublicKey, error) {
	raw, err := DecodeKey(value)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes", ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// PeersFromConfig joins the address and key maps read from configuration.
// Every party must appear in both.
func PeersFromConfig(addresses, keys map[string]string) ([]Peer, error) {
	peers := make([]Peer, 0, len(addresses))
	for _, party := range slices.Sorted(maps.Keys(addresses)) {
		encoded, ok := keys[party]
		if !ok {
			return nil, fmt.Errorf("peer %s has no public key", party)
		}
		key, err := ParsePublicKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", party, err)
		}
		address := strings.TrimSpace(addresses[party])
		if address == "" {
			return nil, fmt.Errorf("peer %s has no address", party)
		}
		peers = append(peers, Peer{ID: record.PartyID(party), Address: address, PublicKey: key})
	}
	for party := range keys {
		if _, ok := addresses[party]; !ok {
			return nil, fmt.Errorf("peer %s has no address", party)
		}
	}
	return peers, nil
}
