package record

import (
	"slices"
	"strings"
)

// PartyID identifies a participant node.
type PartyID string

// NormalizeParties trims, de-duplicates and sorts a party set. Blank ids are
// dropped.
func NormalizeParties(parties []PartyID) []PartyID {
	if len(parties) == 0 {
		return nil
	}
	normalized := make([]PartyID, 0, len(parties))
	for _, party := range parties {
		trimmed := PartyID(strings.TrimSpace(string(party)))
		if trimmed == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	slices.Sort(normalized)
	return slices.Compact(normalized)
}

// UnionParties returns the normalized union of every set.
func UnionParties(sets ...[]PartyID) []PartyID {
	var all []PartyID
	for _, set := range sets {
		all = append(all, set...)
	}
	return NormalizeParties(all)
}

// SameParties reports whether a and b describe the same party set.
func SameParties(a, b []PartyID) bool {
	return slices.Equal(NormalizeParties(a), NormalizeParties(b))
}

// ContainsParty reports whether party is a member of parties.
func ContainsParty(parties []PartyID, party PartyID) bool {
	return slices.Contains(parties, party)
}

// Without returns parties minus exclude, preserving order.
func Without(parties []PartyID, exclude PartyID) []PartyID {
	out := make([]PartyID, 0, len(parties))
	for _, party := range parties {
		if party != exclude {
			out = append(out, party)
		}
	}
	return out
}
