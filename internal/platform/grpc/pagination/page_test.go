package pagination

import "testing"

func TestClampPageSize(t *testing.T) {
	cfg := PageSizeConfig{Default: 20, Max: 100}
	cases := []struct {
		in   int32
		want int
	}{
		{in: 0, want: 20},
		{in: -5, want: 20},
		{in: 7, want: 7},
		{in: 500, want: 100},
	}
	for _, tc := range cases {
		if got := ClampPageSize(tc.in, cfg); got != tc.want {
			t.Fatalf("ClampPageSize(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
	if got := ClampPageSize(0, PageSizeConfig{}); got != 1 {
		t.Fatalf("zero config = %d, want 1", got)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	token := EncodeCursor(42)
	if token == "" {
		t.Fatal("expected token")
	}
	seq, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seq != 42 {
		t.Fatalf("seq = %d, want 42", seq)
	}
}

func TestDecodeCursorEdgeCases(t *testing.T) {
	if seq, err := DecodeCursor(""); err != nil || seq != 0 {
		t.Fatalf("empty token = %d, %v", seq, err)
	}
	if EncodeCursor(0) != "" {
		t.Fatal("expected empty token for zero cursor")
	}
	for _, bad := range []string{"%%%", "bm9wZQ", EncodeCursor(1) + "x"} {
		if _, err := DecodeCursor(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
