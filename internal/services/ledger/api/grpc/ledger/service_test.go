package ledger

import (
	"context"
	"path/filepath"
	"testing"

	ledgerv1 "github.com/louisbranch/covenant/api/ledger/v1"
	apperrors "github.com/louisbranch/covenant/internal/platform/errors"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/covenant/internal/services/ledger/flow"
	"github.com/louisbranch/covenant/internal/services/ledger/storage"
	ledgersqlite "github.com/louisbranch/covenant/internal/services/ledger/storage/sqlite"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSubmitter struct {
	intents []transaction.Intent
	outcome flow.Outcome
	err     error
}

func (f *fakeSubmitter) Submit(_ context.Context, intent transaction.Intent) (flow.Outcome, error) {
	f.intents = append(f.intents, intent)
	return f.outcome, f.err
}

func openStore(t *testing.T) *ledgersqlite.Store {
	t.Helper()
	store, err := ledgersqlite.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func assertStatusCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if status.Code(err) != want {
		t.Fatalf("status code = %s, want %s (err = %v)", status.Code(err), want, err)
	}
}

func TestCreateSubmitsIntentAndReturnsRecord(t *testing.T) {
	tx := sampleTransaction(t)
	submitter := &fakeSubmitter{outcome: flow.Outcome{Transaction: tx, Pending: []record.PartyID{"p2"}}}
	svc := NewService(submitter, openStore(t))

	resp, err := svc.Create(context.Background(), &ledgerv1.CreateRequest{
		RecordID:     " rec-1 ",
		Payload:      ledgerv1.Payload{Name: " Alice ", Age: 30, Status: "single"},
		Participants: []string{"p1", "p2"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(submitter.intents) != 1 {
		t.Fatalf("intents = %d, want 1", len(submitter.intents))
	}
	intent := submitter.intents[0]
	if intent.Command != transaction.CommandCreate || intent.RecordID != "rec-1" {
		t.Fatalf("intent = %+v", intent)
	}
	if intent.Payload.Name != "Alice" || intent.Payload.Status != record.StatusSingle {
		t.Fatalf("payload = %+v", intent.Payload)
	}
	if resp.TransactionID != tx.ID || resp.Record.RecordID != "rec-1" || resp.Record.Version == "" {
		t.Fatalf("response = %+v", resp)
	}
	if len(resp.PendingParties) != 1 || resp.PendingParties[0] != "p2" {
		t.Fatalf("pending = %v", resp.PendingParties)
	}
}

func TestUpdateBuildsPatchWithExpectedVersion(t *testing.T) {
	submitter := &fakeSubmitter{outcome: flow.Outcome{Transaction: sampleTransaction(t)}}
	svc := NewService(submitter, openStore(t))
	name := "Alicia"

	if _, err := svc.Update(context.Background(), &ledgerv1.UpdateRequest{
		RecordID:        "rec-1",
		Patch:           &ledgerv1.PayloadPatch{Name: &name},
		ExpectedVersion: "v1",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	intent := submitter.intents[0]
	if intent.Patch == nil || intent.Patch.Name == nil || *intent.Patch.Name != "Alicia" || intent.Patch.Age != nil {
		t.Fatalf("patch = %+v", intent.Patch)
	}
	if intent.Expected == nil || *intent.Expected != (record.Reference{ID: "rec-1", Version: "v1"}) {
		t.Fatalf("expected = %+v", intent.Expected)
	}
}

func TestMutationRequestValidation(t *testing.T) {
	svc := NewService(&fakeSubmitter{}, openStore(t))
	ctx := context.Background()
	payload := &ledgerv1.Payload{Name: "Alice"}

	tests := []struct {
		name string
		call func() error
	}{
		{name: "nil create", call: func() error { _, err := svc.Create(ctx, nil); return err }},
		{name: "update without id", call: func() error {
			_, err := svc.Update(ctx, &ledgerv1.UpdateRequest{Payload: payload})
			return err
		}},
		{name: "update without change", call: func() error {
			_, err := svc.Update(ctx, &ledgerv1.UpdateRequest{RecordID: "rec-1"})
			return err
		}},
		{name: "update with payload and patch", call: func() error {
			_, err := svc.Update(ctx, &ledgerv1.UpdateRequest{RecordID: "rec-1", Payload: payload, Patch: &ledgerv1.PayloadPatch{}})
			return err
		}},
		{name: "delete without id", call: func() error {
			_, err := svc.Delete(ctx, &ledgerv1.DeleteRequest{})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertStatusCode(t, tt.call(), codes.InvalidArgument)
		})
	}
}

func TestSubmitErrorsKeepTheirCode(t *testing.T) {
	tests := []struct {
		code apperrors.Code
		want codes.Code
	}{
		{code: apperrors.CodeValidationAlreadyDeleted, want: codes.InvalidArgument},
		{code: apperrors.CodeNotFound, want: codes.NotFound},
		{code: apperrors.CodeAlreadyConsumed, want: codes.FailedPrecondition},
		{code: apperrors.CodeCounterpartyRejected, want: codes.PermissionDenied},
		{code: apperrors.CodeSessionTimeout, want: codes.DeadlineExceeded},
		{code: apperrors.CodeNotaryConflict, want: codes.Aborted},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			svc := NewService(&fakeSubmitter{err: apperrors.New(tt.code, "boom")}, openStore(t))
			_, err := svc.Delete(context.Background(), &ledgerv1.DeleteRequest{RecordID: "rec-1"})
			assertStatusCode(t, err, tt.want)
			if got := apperrors.CodeOf(apperrors.FromGRPC(err)); got != tt.code {
				t.Fatalf("restored code = %s, want %s", got, tt.code)
			}
		})
	}
}

func TestQueriesReadTheStore(t *testing.T) {
	store := openStore(t)
	svc := NewService(&fakeSubmitter{}, store)
	ctx := context.Background()

	tx := sampleTransaction(t)
	commit, err := storage.CommitFor(tx)
	if err != nil {
		t.Fatalf("commit for: %v", err)
	}
	if _, err := store.Commit(ctx, commit); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := svc.GetRecord(ctx, &ledgerv1.GetRecordRequest{RecordID: "rec-1"})
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Record.Payload.Name != "Alice" || got.Record.TransactionID != tx.ID {
		t.Fatalf("record = %+v", got.Record)
	}

	_, err = svc.GetRecord(ctx, &ledgerv1.GetRecordRequest{RecordID: "missing"})
	assertStatusCode(t, err, codes.NotFound)

	list, err := svc.ListRecords(ctx, &ledgerv1.ListRecordsRequest{})
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(list.Records) != 1 || list.NextPageToken != "" {
		t.Fatalf("list = %+v", list)
	}

	_, err = svc.ListRecords(ctx, &ledgerv1.ListRecordsRequest{PageToken: "garbage"})
	assertStatusCode(t, err, codes.InvalidArgument)

	history, err := svc.History(ctx, &ledgerv1.HistoryRequest{RecordID: "rec-1"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history.Records) != 1 {
		t.Fatalf("history = %+v", history)
	}
}

func TestServiceRequiresConfiguration(t *testing.T) {
	var svc *Service
	_, err := svc.GetRecord(context.Background(), &ledgerv1.GetRecordRequest{RecordID: "rec-1"})
	assertStatusCode(t, err, codes.Internal)
}
