package proposal

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/covenant/internal/services/ledger/storage"
)

type fakeLookup struct {
	records map[string]storage.StoredRecord
	calls   int
	err     error
}

func (f *fakeLookup) GetRecord(_ context.Context, id string) (storage.StoredRecord, error) {
	f.calls++
	if f.err != nil {
		return storage.StoredRecord{}, f.err
	}
	stored, ok := f.records[id]
	if !ok {
		return storage.StoredRecord{}, storage.ErrNotFound
	}
	return stored, nil
}

func stored(consumed bool) storage.StoredRecord {
	return storage.StoredRecord{
		Record: record.Record{
			ID:           "r1",
			Participants: []record.PartyID{"p1", "p2"},
			Payload:      record.Payload{Name: "Ann", Age: 30, Address: "Main St"},
		},
		Ref:      record.Reference{ID: "r1", Version: "v1"},
		Consumed: consumed,
	}
}

func newBuilder(lookup RecordLookup) Builder {
	counter := 0
	return Builder{
		Self:    "p1",
		Records: lookup,
		Now:     func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
		NewID: func() (string, error) {
			counter++
			return []string{"id-a", "id-b", "id-c"}[counter%3], nil
		},
	}
}

func TestProposeCreate(t *testing.T) {
	builder := newBuilder(&fakeLookup{})
	tx, err := builder.Propose(context.Background(), transaction.Create(record.Payload{Name: "Ann"}, "p2", "p1", "p2"))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if len(tx.Body.Inputs) != 0 || len(tx.Body.Outputs) != 1 {
		t.Fatalf("shape = %d inputs, %d outputs", len(tx.Body.Inputs), len(tx.Body.Outputs))
	}
	out := tx.Body.Outputs[0]
	if out.ID == "" || out.Deleted {
		t.Fatalf("output = %+v", out)
	}
	if !record.SameParties(tx.Body.RequiredSigners, []record.PartyID{"p1", "p2"}) {
		t.Fatalf("signers = %v", tx.Body.RequiredSigners)
	}
	if tx.Body.Proposer != "p1" || tx.Body.Nonce == "" || tx.Body.CreatedAt == 0 {
		t.Fatalf("body = %+v", tx.Body)
	}
	if len(tx.Signatures) != 0 || tx.AuthoritySignature != "" {
		t.Fatal("expected an unsigned draft")
	}
}

func TestProposeCreateRequiresLocalParticipant(t *testing.T) {
	builder := newBuilder(&fakeLookup{})
	_, err := builder.Propose(context.Background(), transaction.Create(record.Payload{Name: "Ann"}, "p2"))
	if !apperrors.HasCode(err, apperrors.CodeValidationInvalidIntent) {
		t.Fatalf("expected invalid intent, got %v", err)
	}
	_, err = builder.Propose(context.Background(), transaction.Create(record.Payload{Name: "Ann"}))
	if !apperrors.HasCode(err, apperrors.CodeValidationNoParticipants) {
		t.Fatalf("expected no participants, got %v", err)
	}
	_, err = builder.Propose(context.Background(), transaction.Create(record.Payload{Age: -4}, "p1"))
	if !apperrors.HasCode(err, apperrors.CodeValidationInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func TestProposeUpdateConsumesCurrentVersion(t *testing.T) {
	lookup := &fakeLookup{records: map[string]storage.StoredRecord{"r1": stored(false)}}
	builder := newBuilder(lookup)

	tx, err := builder.Propose(context.Background(), transaction.Update("r1", record.Payload{Name: "Bea", Age: 31}))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if lookup.calls != 1 {
		t.Fatalf("lookups = %d, want 1", lookup.calls)
	}
	if len(tx.Body.Inputs) != 1 || tx.Body.Inputs[0].Ref.Version != "v1" {
		t.Fatalf("inputs = %+v", tx.Body.Inputs)
	}
	out := tx.Body.Outputs[0]
	if out.ID != "r1" || out.Payload.Name != "Bea" || out.Payload.Address != "" {
		t.Fatalf("output = %+v", out)
	}
}

func TestProposeUpdateNameKeepsOtherFields(t *testing.T) {
	lookup := &fakeLookup{records: map[string]storage.StoredRecord{"r1": stored(false)}}
	tx, err := newBuilder(lookup).Propose(context.Background(), transaction.UpdateName("r1", "Cat"))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	want := record.Payload{Name: "Cat", Age: 30, Address: "Main St"}
	if tx.Body.Outputs[0].Payload != want {
		t.Fatalf("payload = %+v, want %+v", tx.Body.Outputs[0].Payload, want)
	}
}

func TestProposeDelete(t *testing.T) {
	lookup := &fakeLookup{records: map[string]storage.StoredRecord{"r1": stored(false)}}
	tx, err := newBuilder(lookup).Propose(context.Background(), transaction.Delete("r1"))
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	out := tx.Body.Outputs[0]
	if !out.Deleted || out.Payload != stored(false).Record.Payload {
		t.Fatalf("output = %+v", out)
	}
}

func TestProposeDeleteTwiceIsValidationError(t *testing.T) {
	deleted := stored(false)
	deleted.Record.Deleted = true
	lookup := &fakeLookup{records: map[string]storage.StoredRecord{"r1": deleted}}
	_, err := newBuilder(lookup).Propose(context.Background(), transaction.Delete("r1"))
	if !apperrors.HasCode(err, apperrors.CodeValidationAlreadyDeleted) {
		t.Fatalf("expected already deleted, got %v", err)
	}
	if apperrors.CodeOf(err).Class() != apperrors.ClassValidation {
		t.Fatalf("class = %s", apperrors.CodeOf(err).Class())
	}
}

func TestProposeLookupFailures(t *testing.T) {
	cases := []struct {
		name   string
		lookup *fakeLookup
		intent transaction.Intent
		want   apperrors.Code
	}{
		{
			name:   "missing record",
			lookup: &fakeLookup{},
			intent: transaction.Update("r1", record.Payload{Name: "B"}),
			want:   apperrors.CodeNotFound,
		},
		{
			name:   "consumed record",
			lookup: &fakeLookup{records: map[string]storage.StoredRecord{"r1": stored(true)}},
			intent: transaction.Delete("r1"),
			want:   apperrors.CodeAlreadyConsumed,
		},
		{
			name:   "stale expected version",
			lookup: &fakeLookup{records: map[string]storage.StoredRecord{"r1": stored(false)}},
			intent: transaction.Update("r1", record.Payload{Name: "B"}).WithExpected(record.Reference{ID: "r1", Version: "v0"}),
			want:   apperrors.CodeAlreadyConsumed,
		},
		{
			name:   "blank id",
			lookup: &fakeLookup{},
			intent: transaction.Delete(" "),
			want:   apperrors.CodeValidationRecordIDMissing,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newBuilder(tc.lookup).Propose(context.Background(), tc.intent)
			if !apperrors.HasCode(err, tc.want) {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
		})
	}
}

func TestProposeRejectsNonParticipant(t *testing.T) {
	foreign := stored(false)
	foreign.Record.Participants = []record.PartyID{"p2", "p3"}
	lookup := &fakeLookup{records: map[string]storage.StoredRecord{"r1": foreign}}
	_, err := newBuilder(lookup).Propose(context.Background(), transaction.Delete("r1"))
	if !apperrors.HasCode(err, apperrors.CodeValidationInvalidIntent) {
		t.Fatalf("expected invalid intent, got %v", err)
	}
}

func TestProposePropagatesStoreErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	_, err := newBuilder(&fakeLookup{err: boom}).Propose(context.Background(), transaction.Delete("r1"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

func TestProposeRejectsUnknownCommand(t *testing.T) {
	_, err := newBuilder(&fakeLookup{}).Propose(context.Background(), transaction.Intent{Command: "MERGE"})
	if !apperrors.HasCode(err, apperrors.CodeValidationUnknownCommand) {
		t.Fatalf("expected unknown command, got %v", err)
	}
}
