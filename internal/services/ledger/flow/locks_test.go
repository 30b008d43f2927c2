package flow

import "testing"

func TestLocksAcquireAllOrNothing(t *testing.T) {
	locks := NewLocks()
	if !locks.TryAcquire("a", "r1") {
		t.Fatal("acquire r1")
	}
	if locks.TryAcquire("b", "r2", "r1") {
		t.Fatal("b acquired a held id")
	}
	if _, held := locks.Holder("r2"); held {
		t.Fatal("failed acquire left r2 held")
	}
	if !locks.TryAcquire("a", "r1", "r2") {
		t.Fatal("owner could not re-acquire its own ids")
	}
}

func TestLocksReleaseOnlyOwnIDs(t *testing.T) {
	locks := NewLocks()
	locks.TryAcquire("a", "r1")
	locks.TryAcquire("b", "r2")

	locks.Release("a", "r1", "r2")
	if _, held := locks.Holder("r1"); held {
		t.Fatal("r1 still held")
	}
	if holder, held := locks.Holder("r2"); !held || holder != "b" {
		t.Fatalf("r2 holder = %q, %v; want b", holder, held)
	}
}

func TestLocksZeroValue(t *testing.T) {
	var locks Locks
	if !locks.TryAcquire("a", "r1") {
		t.Fatal("zero value lock table refused acquire")
	}
}
