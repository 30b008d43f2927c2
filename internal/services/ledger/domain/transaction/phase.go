package transaction

import "fmt"

// Phase is the lifecycle position of a transaction on its proposing node.
type Phase string

const (
	PhaseDraft         Phase = "DRAFT"
	PhaseLocallySigned Phase = "LOCALLY_SIGNED"
	PhaseCollecting    Phase = "COLLECTING"
	PhaseFullySigned   Phase = "FULLY_SIGNED"
	PhaseRejected      Phase = "REJECTED"
	PhaseTimedOut      Phase = "TIMED_OUT"
	PhaseNotarized     Phase = "NOTARIZED"
	PhaseConflict      Phase = "CONFLICT"
	PhaseFinalized     Phase = "FINALIZED"
)

var phaseTransitions = map[Phase][]Phase{
	PhaseDraft:         {PhaseLocallySigned, PhaseRejected},
	PhaseLocallySigned: {PhaseCollecting, PhaseFullySigned},
	PhaseCollecting:    {PhaseFullySigned, PhaseRejected, PhaseTimedOut},
	PhaseFullySigned:   {PhaseNotarized, PhaseConflict},
	PhaseNotarized:     {PhaseFinalized},
}

// CanTransition reports whether a transaction may move from p to next.
func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return len(phaseTransitions[p]) == 0
}

// Tracker records the phase of one in-flight transaction and rejects
// illegal transitions.
type Tracker struct {
	phase   Phase
	history []Phase
	observe func(from, to Phase)
}

// NewTracker starts a tracker in the draft phase. observe, when set, is
// called after every accepted transition.
func NewTracker(observe func(from, to Phase)) *Tracker {
	return &Tracker{phase: PhaseDraft, history: []Phase{PhaseDraft}, observe: observe}
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase {
	return t.phase
}

// History returns every phase visited, oldest first.
func (t *Tracker) History() []Phase {
	return append([]Phase(nil), t.history...)
}

// Advance moves to next.
func (t *Tracker) Advance(next Phase) error {
	if t.phase.Terminal() {
		return fmt.Errorf("transaction phase %s is terminal", t.phase)
	}
	if !t.phase.CanTransition(next) {
		return fmt.Errorf("illegal transaction phase transition %s -> %s", t.phase, next)
	}
	from := t.phase
	t.phase = next
	t.history = append(t.history, next)
	if t.observe != nil {
		t.observe(from, next)
	}
	return nil
}
