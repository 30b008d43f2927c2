package record

import (
	"errors"
	"testing"
)

func TestNormalizePartiesSortsAndDedupes(t *testing.T) {
	got := NormalizeParties([]PartyID{" p2", "p1", "p2", "", "p3 "})
	want := []PartyID{"p1", "p2", "p3"}
	if len(got) != len(want) {
		t.Fatalf("parties = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("parties = %v, want %v", got, want)
		}
	}
	if NormalizeParties(nil) != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestUnionAndSameParties(t *testing.T) {
	union := UnionParties([]PartyID{"p2", "p1"}, []PartyID{"p3", "p1"})
	if !SameParties(union, []PartyID{"p3", "p2", "p1"}) {
		t.Fatalf("union = %v", union)
	}
	if SameParties([]PartyID{"p1"}, []PartyID{"p1", "p2"}) {
		t.Fatal("expected different sets")
	}
	if got := Without(union, "p2"); len(got) != 2 || ContainsParty(got, "p2") {
		t.Fatalf("without = %v", got)
	}
}

func TestPayloadValidate(t *testing.T) {
	cases := []struct {
		name    string
		payload Payload
		wantErr error
	}{
		{name: "empty", payload: Payload{}},
		{name: "full", payload: Payload{Name: "A", Age: 30, Address: "Main St", Status: StatusMarried}},
		{name: "negative age", payload: Payload{Age: -1}, wantErr: ErrNegativeAge},
		{name: "bad status", payload: Payload{Status: "WIDOWED"}, wantErr: ErrInvalidStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.payload.Validate()
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestPayloadPatchApply(t *testing.T) {
	base := Payload{Name: "A", Age: 30, Address: "Main St", Status: StatusSingle}
	name := "B"
	status := StatusMarried

	got := PayloadPatch{Name: &name, Status: &status}.Apply(base)
	want := Payload{Name: "B", Age: 30, Address: "Main St", Status: StatusMarried}
	if got != want {
		t.Fatalf("patched = %+v, want %+v", got, want)
	}
	if (PayloadPatch{}).Apply(base) != base {
		t.Fatal("expected empty patch to keep payload")
	}
}

func TestRecordEqualAndMembership(t *testing.T) {
	a := Record{ID: "r1", Participants: NormalizeParties([]PartyID{"p2", "p1"}), Payload: Payload{Name: "A"}}
	b := Record{ID: "r1", Participants: []PartyID{"p1", "p2"}, Payload: Payload{Name: "A"}}
	if !a.Equal(b) {
		t.Fatalf("expected %+v to equal %+v", a, b)
	}
	b.Deleted = true
	if a.Equal(b) {
		t.Fatal("expected deleted flag to matter")
	}
	if !a.HasParticipant("p2") || a.HasParticipant("p3") {
		t.Fatal("unexpected participant membership")
	}
}

func TestVersionOfDependsOnTransactionAndIndex(t *testing.T) {
	rec := Record{ID: "r1", Participants: []PartyID{"p1"}, Payload: Payload{Name: "A"}}

	v1, err := VersionOf("tx-1", 0, rec)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	v1Again, err := VersionOf("tx-1", 0, rec)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	v2, err := VersionOf("tx-2", 0, rec)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	v3, err := VersionOf("tx-1", 1, rec)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v1 != v1Again {
		t.Fatal("expected deterministic version")
	}
	if v1 == v2 || v1 == v3 {
		t.Fatal("expected identical content in different positions to get distinct versions")
	}
	if _, err := VersionOf(" ", 0, rec); err == nil {
		t.Fatal("expected error without transaction id")
	}
}

func TestReferenceString(t *testing.T) {
	ref := Reference{ID: "r1", Version: "abc"}
	if ref.String() != "r1@abc" {
		t.Fatalf("string = %q", ref.String())
	}
	if ref.IsZero() || !(Reference{}).IsZero() {
		t.Fatal("unexpected zero check")
	}
}
