package storage

import (
	"testing"

	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
)

func TestCommitForDerivesConsumedAndOutputs(t *testing.T) {
	in := record.Record{ID: "r1", Participants: []record.PartyID{"p1"}, Payload: record.Payload{Name: "A"}}
	out := in
	out.Payload.Name = "B"
	inputs := []transaction.Input{{Ref: record.Reference{ID: "r1", Version: "v0"}, State: in}}
	tx, err := transaction.New(transaction.Body{
		Command:         transaction.CommandUpdate,
		Inputs:          inputs,
		Outputs:         []record.Record{out},
		RequiredSigners: transaction.RequiredSigners(inputs, []record.Record{out}),
		Proposer:        "p1",
		Nonce:           "n",
	})
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}

	commit, err := CommitFor(tx)
	if err != nil {
		t.Fatalf("commit for: %v", err)
	}
	if commit.TransactionID != tx.ID {
		t.Fatalf("transaction id = %q", commit.TransactionID)
	}
	if len(commit.Consumed) != 1 || commit.Consumed[0].Version != "v0" {
		t.Fatalf("consumed = %v", commit.Consumed)
	}
	if len(commit.Records) != 1 || commit.Records[0].Record.Payload.Name != "B" {
		t.Fatalf("records = %+v", commit.Records)
	}
	want, err := record.VersionOf(tx.ID, 0, out)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if commit.Records[0].Ref.Version != want {
		t.Fatalf("version = %q, want %q", commit.Records[0].Ref.Version, want)
	}
}
