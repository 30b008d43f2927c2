package flow

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/covenant/internal/services/ledger/core/encoding"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/proposal"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/covenant/internal/services/ledger/identity"
	"github.com/louisbranch/covenant/internal/services/ledger/storage"
	ledgersqlite "github.com/louisbranch/covenant/internal/services/ledger/storage/sqlite"
	"github.com/louisbranch/covenant/internal/services/notary/attestation"
)

func discard(string, ...any) {}

// keyring resolves test keys derived from a per-party seed.
type keyring map[record.PartyID]ed25519.PrivateKey

func (k keyring) PublicKey(party record.PartyID) (ed25519.PublicKey, error) {
	key, ok := k[party]
	if !ok {
		return nil, fmt.Errorf("%w: %s", identity.ErrUnknownParty, party)
	}
	return key.Public().(ed25519.PublicKey), nil
}

func seededKey(seed byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
}

// fakeAuthority is an in-memory uniqueness authority.
type fakeAuthority struct {
	mu       sync.Mutex
	consumed map[string]string
	signer   attestation.Signer
	calls    int
	err      error
	// arrivals, when set, holds every request until all expected callers
	// have arrived.
	arrivals *sync.WaitGroup
}

func (a *fakeAuthority) Notarize(_ context.Context, tx transaction.Transaction, requester record.PartyID) (string, error) {
	if a.arrivals != nil {
		a.arrivals.Done()
		a.arrivals.Wait()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	for _, ref := range tx.InputRefs() {
		if owner, ok := a.consumed[ref.String()]; ok && owner != tx.ID {
			return "", ConflictError(tx.ID, owner, ref)
		}
	}
	for _, ref := range tx.InputRefs() {
		a.consumed[ref.String()] = tx.ID
	}
	return a.signer.Sign(tx.ID, string(requester), InputStrings(tx))
}

func (a *fakeAuthority) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// pipe is one in-memory session; each side sees the other's sends.
type pipe struct {
	closed chan struct{}
	once   sync.Once
}

type pipeEnd struct {
	party   record.PartyID
	pipe    *pipe
	in      chan Message
	out     chan Message
	dropped func(Message) bool
}

func newPipe(client, server record.PartyID) (*pipeEnd, *pipeEnd) {
	p := &pipe{closed: make(chan struct{})}
	toServer := make(chan Message, 4)
	toClient := make(chan Message, 4)
	return &pipeEnd{party: server, pipe: p, in: toClient, out: toServer},
		&pipeEnd{party: client, pipe: p, in: toServer, out: toClient}
}

func (e *pipeEnd) Party() record.PartyID { return e.party }

func (e *pipeEnd) Send(ctx context.Context, msg Message) error {
	wire, err := roundTrip(msg)
	if err != nil {
		return err
	}
	if e.dropped != nil && e.dropped(wire) {
		return nil
	}
	select {
	case <-e.pipe.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case e.out <- wire:
		return nil
	case <-e.pipe.closed:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *pipeEnd) Recv(ctx context.Context) (Message, error) {
	select {
	case msg := <-e.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-e.in:
		return msg, nil
	case <-e.pipe.closed:
		return Message{}, ErrSessionClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (e *pipeEnd) Close() error {
	e.pipe.once.Do(func() { close(e.pipe.closed) })
	return nil
}

// roundTrip pushes the transaction through its canonical encoding the way
// the wire transport does.
func roundTrip(msg Message) (Message, error) {
	if msg.Transaction == nil {
		return msg, nil
	}
	data, err := encoding.Canonical(*msg.Transaction)
	if err != nil {
		return Message{}, err
	}
	var tx transaction.Transaction
	if err := encoding.Decode(data, &tx); err != nil {
		return Message{}, err
	}
	msg.Transaction = &tx
	return msg, nil
}

type testNode struct {
	party       record.PartyID
	store       *ledgersqlite.Store
	locks       *Locks
	coordinator *Coordinator
	responder   *Responder
}

type network struct {
	t         *testing.T
	ctx       context.Context
	keys      keyring
	authority *fakeAuthority
	verifier  attestation.Verifier
	nodes     map[record.PartyID]*testNode
	servers   sync.WaitGroup

	mu     sync.Mutex
	opens  int
	down   map[record.PartyID]bool
	silent map[record.PartyID]bool
	drop   func(to record.PartyID, msg Message) bool
}

func newNetwork(t *testing.T, parties ...record.PartyID) *network {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	notaryKey := seededKey(99)
	n := &network{
		t:    t,
		ctx:  ctx,
		keys: keyring{},
		authority: &fakeAuthority{
			consumed: make(map[string]string),
			signer:   attestation.Signer{Issuer: "notary", Key: notaryKey},
		},
		verifier: attestation.Verifier{Issuer: "notary", Key: notaryKey.Public().(ed25519.PublicKey)},
		nodes:    make(map[record.PartyID]*testNode),
		down:     make(map[record.PartyID]bool),
		silent:   make(map[record.PartyID]bool),
	}
	for i, party := range parties {
		n.keys[party] = seededKey(byte(i + 1))
	}
	for _, party := range parties {
		n.addNode(party)
	}
	t.Cleanup(func() {
		cancel()
		n.servers.Wait()
		for _, node := range n.nodes {
			if err := node.store.Close(); err != nil {
				t.Errorf("close store %s: %v", node.party, err)
			}
		}
	})
	return n
}

func (n *network) addNode(party record.PartyID) {
	store, err := ledgersqlite.Open(context.Background(), filepath.Join(n.t.TempDir(), string(party)+".db"))
	if err != nil {
		n.t.Fatalf("open store %s: %v", party, err)
	}
	self := identity.Self{ID: party, PrivateKey: n.keys[party]}
	locks := NewLocks()
	transport := &netTransport{net: n, from: party}
	node := &testNode{party: party, store: store, locks: locks}
	node.responder = &Responder{
		Self:          self,
		Keys:          n.keys,
		Store:         store,
		Locks:         locks,
		Attestation:   n.verifier,
		AwaitFinality: 2 * time.Second,
		Logf:          discard,
	}
	node.coordinator = &Coordinator{
		Self:        self,
		Builder:     proposal.Builder{Self: party, Records: store},
		Collector:   Collector{Self: party, Transport: transport, Keys: n.keys, SignerTimeout: time.Second},
		Authority:   n.authority,
		Attestation: n.verifier,
		Finalizer: Finalizer{
			Self:            party,
			Store:           store,
			Transport:       transport,
			DeliveryTimeout: 300 * time.Millisecond,
			MaxTries:        1,
		},
		Outbox: store,
		Locks:  locks,
		Logf:   discard,
	}
	n.nodes[party] = node
}

func (n *network) node(party record.PartyID) *testNode {
	node, ok := n.nodes[party]
	if !ok {
		n.t.Fatalf("unknown node %s", party)
	}
	return node
}

func (n *network) setDown(party record.PartyID, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[party] = down
}

func (n *network) setSilent(party record.PartyID, silent bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.silent[party] = silent
}

func (n *network) setDrop(drop func(to record.PartyID, msg Message) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = drop
}

func (n *network) openCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.opens
}

type netTransport struct {
	net  *network
	from record.PartyID
}

func (t *netTransport) Open(_ context.Context, party record.PartyID) (Session, error) {
	n := t.net
	n.mu.Lock()
	n.opens++
	down, silent, drop := n.down[party], n.silent[party], n.drop
	n.mu.Unlock()

	if down {
		return nil, errors.New("connection refused")
	}
	node, ok := n.nodes[party]
	if !ok {
		return nil, fmt.Errorf("no route to %s", party)
	}
	client, server := newPipe(t.from, party)
	if drop != nil {
		client.dropped = func(msg Message) bool { return drop(party, msg) }
	}
	n.servers.Add(1)
	go func() {
		defer n.servers.Done()
		defer server.Close()
		if silent {
			<-n.ctx.Done()
			return
		}
		_ = node.responder.Serve(n.ctx, server)
	}()
	return client, nil
}

// commitDirect writes a finalized transaction straight into the given stores.
func (n *network) commitDirect(tx transaction.Transaction, parties ...record.PartyID) {
	n.t.Helper()
	commit, err := storage.CommitFor(tx)
	if err != nil {
		n.t.Fatalf("commit for: %v", err)
	}
	for _, party := range parties {
		if _, err := n.node(party).store.Commit(context.Background(), commit); err != nil {
			n.t.Fatalf("commit %s on %s: %v", tx.ID, party, err)
		}
	}
}

// finalTx builds a fully signed and notarized create transaction.
func (n *network) finalCreate(id string, payload record.Payload, participants ...record.PartyID) transaction.Transaction {
	n.t.Helper()
	out := record.Record{ID: id, Participants: record.NormalizeParties(participants), Payload: payload}
	tx, err := transaction.New(transaction.Body{
		Command:         transaction.CommandCreate,
		Outputs:         []record.Record{out},
		RequiredSigners: transaction.RequiredSigners(nil, []record.Record{out}),
		Proposer:        out.Participants[0],
		Nonce:           "seed-" + id,
	})
	if err != nil {
		n.t.Fatalf("new transaction: %v", err)
	}
	for _, party := range tx.Body.RequiredSigners {
		if err := tx.Sign(party, n.keys[party]); err != nil {
			n.t.Fatalf("sign as %s: %v", party, err)
		}
	}
	token, err := n.authority.Notarize(context.Background(), tx, tx.Body.Proposer)
	if err != nil {
		n.t.Fatalf("notarize: %v", err)
	}
	tx.AuthoritySignature = token
	return tx
}

func (n *network) latest(party record.PartyID, id string) storage.StoredRecord {
	n.t.Helper()
	stored, err := n.node(party).store.GetRecord(context.Background(), id)
	if err != nil {
		n.t.Fatalf("get %s on %s: %v", id, party, err)
	}
	return stored
}

func (n *network) hasRecord(party record.PartyID, id string) bool {
	n.t.Helper()
	_, err := n.node(party).store.GetRecord(context.Background(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return false
	}
	if err != nil {
		n.t.Fatalf("get %s on %s: %v", id, party, err)
	}
	return true
}

// waitUnlocked waits for a responder on party to let go of id after its
// proposer aborted.
func (n *network) waitUnlocked(party record.PartyID, id string) {
	n.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, held := n.node(party).locks.Holder(id); !held {
			return
		}
		if time.Now().After(deadline) {
			n.t.Fatalf("%s still holds %s", party, id)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
