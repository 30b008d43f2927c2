package transaction

import "testing"

func TestTrackerFollowsHappyPath(t *testing.T) {
	var observed []Phase
	tracker := NewTracker(func(_, to Phase) { observed = append(observed, to) })

	for _, next := range []Phase{PhaseLocallySigned, PhaseCollecting, PhaseFullySigned, PhaseNotarized, PhaseFinalized} {
		if err := tracker.Advance(next); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
	}
	if tracker.Phase() != PhaseFinalized || !tracker.Phase().Terminal() {
		t.Fatalf("phase = %s", tracker.Phase())
	}
	if len(observed) != 5 || len(tracker.History()) != 6 {
		t.Fatalf("observed = %v history = %v", observed, tracker.History())
	}
}

func TestTrackerRejectsIllegalTransitions(t *testing.T) {
	cases := []struct {
		name string
		path []Phase
	}{
		{name: "skip signing", path: []Phase{PhaseNotarized}},
		{name: "finalize without authority", path: []Phase{PhaseLocallySigned, PhaseFullySigned, PhaseFinalized}},
		{name: "resume after rejection", path: []Phase{PhaseLocallySigned, PhaseCollecting, PhaseRejected, PhaseFullySigned}},
		{name: "retry after conflict", path: []Phase{PhaseLocallySigned, PhaseFullySigned, PhaseConflict, PhaseNotarized}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tracker := NewTracker(nil)
			var err error
			for _, next := range tc.path {
				if err = tracker.Advance(next); err != nil {
					break
				}
			}
			if err == nil {
				t.Fatalf("expected illegal transition in %v", tc.path)
			}
		})
	}
}

func TestTerminalPhases(t *testing.T) {
	for _, phase := range []Phase{PhaseRejected, PhaseTimedOut, PhaseConflict, PhaseFinalized} {
		if !phase.Terminal() {
			t.Fatalf("expected %s to be terminal", phase)
		}
	}
	if PhaseCollecting.Terminal() {
		t.Fatal("expected collecting to be non-terminal")
	}
}
