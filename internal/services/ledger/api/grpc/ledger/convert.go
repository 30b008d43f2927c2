package ledger

import (
	"strings"

	ledgerv1 "github.com/louisbranch/covenant/api/ledger/v1"
	"github.com/louisbranch/covenant/internal/services/ledger/domain/record"
	"github.com/louisbranch/covenant/internal/services/ledger/storage"
)

func payloadFromProto(in ledgerv1.Payload) record.Payload {
	return record.Payload{
		Name:    strings.TrimSpace(in.Name),
		Age:     int(in.Age),
		Address: strings.TrimSpace(in.Address),
		Status:  statusFromProto(in.Status),
	}
}

func payloadToProto(in record.Payload) ledgerv1.Payload {
	return ledgerv1.Payload{
		Name:    in.Name,
		Age:     int32(in.Age),
		Address: in.Address,
		Status:  string(in.Status),
	}
}

func patchFromProto(in *ledgerv1.PayloadPatch) record.PayloadPatch {
	var patch record.PayloadPatch
	if in == nil {
		return patch
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		patch.Name = &name
	}
	if in.Age != nil {
		age := int(*in.Age)
		patch.Age = &age
	}
	if in.Address != nil {
		address := strings.TrimSpace(*in.Address)
		patch.Address = &address
	}
	if in.Status != nil {
		status := statusFromProto(*in.Status)
		patch.Status = &status
	}
	return patch
}

func statusFromProto(value string) record.Status {
	return record.Status(strings.ToUpper(strings.TrimSpace(value)))
}

func partiesFromProto(in []string) []record.PartyID {
	out := make([]record.PartyID, 0, len(in))
	for _, party := range in {
		out = append(out, record.PartyID(strings.TrimSpace(party)))
	}
	return out
}

func partiesToProto(in []record.PartyID) []string {
	out := make([]string, 0, len(in))
	for _, party := range in {
		out = append(out, string(party))
	}
	return out
}

func recordToProto(ref record.Reference, rec record.Record, consumed bool, txID string) ledgerv1.Record {
	return ledgerv1.Record{
		RecordID:      rec.ID,
		Version:       ref.Version,
		Participants:  partiesToProto(rec.Participants),
		Payload:       payloadToProto(rec.Payload),
		Deleted:       rec.Deleted,
		Consumed:      consumed,
		TransactionID: txID,
	}
}

func storedToProto(stored storage.StoredRecord) ledgerv1.Record {
	return recordToProto(stored.Ref, stored.Record, stored.Consumed, stored.TransactionID)
}
