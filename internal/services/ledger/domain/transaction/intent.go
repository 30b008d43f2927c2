package transaction

import "github.com/louisbranch/covenant/internal/services/ledger/domain/record"

// Command identifies the kind of change a transaction makes.
type Command string

const (
	// CommandCreate issues a new record.
	CommandCreate Command = "CREATE"
	// CommandUpdate replaces a record's payload.
	CommandUpdate Command = "UPDATE"
	// CommandDelete marks a record deleted.
	CommandDelete Command = "DELETE"
)

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	switch c {
	case CommandCreate, CommandUpdate, CommandDelete:
		return true
	default:
		return false
	}
}

// Intent is a caller's change request. It is consumed by the proposal
// builder and never persisted.
type Intent struct {
	Command      Command
	RecordID     string
	Payload      record.Payload
	Patch        *record.PayloadPatch
	Participants []record.PartyID
	// Expected, when set, must match the current version of RecordID.
	Expected *record.Reference
}

// Create returns an intent that issues a new record shared by participants.
func Create(payload record.Payload, participants ...record.PartyID) Intent {
	return Intent{Command: CommandCreate, Payload: payload, Participants: participants}
}

// Update returns an intent that replaces the payload of record id.
func Update(id string, payload record.Payload) Intent {
	return Intent{Command: CommandUpdate, RecordID: id, Payload: payload}
}

// Patch returns an update intent that changes only the fields set in patch.
func Patch(id string, patch record.PayloadPatch) Intent {
	return Intent{Command: CommandUpdate, RecordID: id, Patch: &patch}
}

// UpdateName returns an update intent that changes only the name.
func UpdateName(id, name string) Intent {
	return Patch(id, record.PayloadPatch{Name: &name})
}

// Delete returns an intent that marks record id deleted.
func Delete(id string) Intent {
	return Intent{Command: CommandDelete, RecordID: id}
}

// WithExpected pins the intent to an exact current version.
func (i Intent) WithExpected(ref record.Reference) Intent {
	i.Expected = &ref
	return i
}
