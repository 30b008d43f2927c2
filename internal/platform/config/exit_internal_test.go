package config

import (
	"bytes"
	"errors"
	"testing"
)

func captureExit(t *testing.T) (*bytes.Buffer, *int) {
	t.Helper()
	buf := &bytes.Buffer{}
	code := -1
	prevWriter, prevExit := exitWriter, exitFunc
	exitWriter = buf
	exitFunc = func(c int) { code = c }
	t.Cleanup(func() {
		exitWriter = prevWriter
		exitFunc = prevExit
	})
	return buf, &code
}

func TestExitIfNilErrorDoesNothing(t *testing.T) {
	buf, code := captureExit(t)
	ExitIf(nil, "open store")
	if *code != -1 {
		t.Fatalf("exit code = %d, want no exit", *code)
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestExitIfWritesStepAndExits(t *testing.T) {
	buf, code := captureExit(t)
	ExitIf(errors.New("boom"), "open store")
	if *code != 1 {
		t.Fatalf("exit code = %d, want 1", *code)
	}
	if got := buf.String(); got != "open store: boom\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestExitfFormatsMessage(t *testing.T) {
	buf, code := captureExit(t)
	Exitf("generate key: %s", "short read")
	if *code != 1 {
		t.Fatalf("exit code = %d, want 1", *code)
	}
	if got := buf.String(); got != "generate key: short read\n" {
		t.Fatalf("output = %q", got)
	}
}
