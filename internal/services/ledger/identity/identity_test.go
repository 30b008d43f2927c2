package identity

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
)

func keyPair(seed byte) (ed25519.PublicKey, ed25519.PrivateKey) {
	private := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	return private.Public().(ed25519.PublicKey), private
}

func TestDirectoryResolvesKeys(t *testing.T) {
	selfPub, selfKey := keyPair(1)
	peerPub, _ := keyPair(2)
	dir, err := NewDirectory(Self{ID: "p1", PrivateKey: selfKey}, []Peer{{ID: "p2", Address: "localhost:9101", PublicKey: peerPub}})
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}

	got, err := dir.PublicKey("p1")
	if err != nil || !got.Equal(selfPub) {
		t.Fatalf("self key = %v, %v", got, err)
	}
	got, err = dir.PublicKey("p2")
	if err != nil || !got.Equal(peerPub) {
		t.Fatalf("peer key = %v, %v", got, err)
	}
	if _, err := dir.Peer("p3"); !errors.Is(err, ErrUnknownParty) {
		t.Fatalf("expected ErrUnknownParty, got %v", err)
	}
	if parties := dir.Parties(); !record.SameParties(parties, []record.PartyID{"p1", "p2"}) {
		t.Fatalf("parties = %v", parties)
	}
}

func TestNewDirectoryValidates(t *testing.T) {
	peerPub, selfKey := keyPair(3)
	cases := map[string]struct {
		self  Self
		peers []Peer
	}{
		"missing self":    {self: Self{PrivateKey: selfKey}},
		"short key":       {self: Self{ID: "p1", PrivateKey: selfKey[:10]}},
		"peer is self":    {self: Self{ID: "p1", PrivateKey: selfKey}, peers: []Peer{{ID: "p1", PublicKey: peerPub}}},
		"duplicate peer":  {self: Self{ID: "p1", PrivateKey: selfKey}, peers: []Peer{{ID: "p2", PublicKey: peerPub}, {ID: "p2", PublicKey: peerPub}}},
		"bad peer key":    {self: Self{ID: "p1", PrivateKey: selfKey}, peers: []Peer{{ID: "p2", PublicKey: peerPub[:4]}}},
		"blank peer name": {self: Self{ID: "p1", PrivateKey: selfKey}, peers: []Peer{{PublicKey: peerPub}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewDirectory(tc.self, tc.peers); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseKeys(t *testing.T) {
	pub, private := keyPair(4)
	parsed, err := ParsePrivateKey(EncodeKey(private))
	if err != nil || !parsed.Equal(private) {
		t.Fatalf("private = %v, %v", parsed, err)
	}
	fromSeed, err := ParsePrivateKey(EncodeKey(private.Seed()))
	if err != nil || !fromSeed.Equal(private) {
		t.Fatalf("from seed = %v, %v", fromSeed, err)
	}
	parsedPub, err := ParsePublicKey(EncodeKey(pub))
	if err != nil || !parsedPub.Equal(pub) {
		t.Fatalf("public = %v, %v", parsedPub, err)
	}
	if _, err := ParsePublicKey(EncodeKey(private)); err == nil {
		t.Fatal("expected size error")
	}
	if _, err := ParsePrivateKey("%%%"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPeersFromConfig(t *testing.T) {
	pub, _ := keyPair(5)
	peers, err := PeersFromConfig(
		map[string]string{"p2": "localhost:9102", "p3": "localhost:9103"},
		map[string]string{"p2": EncodeKey(pub), "p3": EncodeKey(pub)},
	)
	if err != nil {
		t.Fatalf("peers from config: %v", err)
	}
	if len(peers) != 2 || peers[0].ID != "p2" || peers[1].Address != "localhost:9103" {
		t.Fatalf("peers = %+v", peers)
	}

	if _, err := PeersFromConfig(map[string]string{"p2": "x"}, nil); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, err := PeersFromConfig(nil, map[string]string{"p2": EncodeKey(pub)}); err == nil {
		t.Fatal("expected missing address error")
	}
}
