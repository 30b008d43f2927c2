package otel

import (
	"context"
	"testing"
)

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	t.Setenv("COVENANT_OTEL_ENDPOINT", "")
	t.Setenv("COVENANT_OTEL_ENABLED", "")

	shutdown, err := Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_NoopWhenExplicitlyDisabled(t *testing.T) {
	t.Setenv("COVENANT_OTEL_ENDPOINT", "http://localhost:4318")
	t.Setenv("COVENANT_OTEL_ENABLED", "false")

	shutdown, err := Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetup_CreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address; nothing is exported before shutdown.
	t.Setenv("COVENANT_OTEL_ENDPOINT", "http://192.0.2.1:4318")
	t.Setenv("COVENANT_OTEL_ENABLED", "")
	t.Setenv("COVENANT_OTEL_SAMPLE_RATIO", "0.5")

	shutdown, err := Setup(context.Background(), "test-service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestParseRatio(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{raw: "0", want: 0, ok: true},
		{raw: "0.25", want: 0.25, ok: true},
		{raw: "1", want: 1, ok: true},
		{raw: "1.5", ok: false},
		{raw: "-0.1", ok: false},
		{raw: "half", ok: false},
	}
	for _, tc := range cases {
		got, ok := parseRatio(tc.raw)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Fatalf("parseRatio(%q) = %v, %v; want %v, %v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}
