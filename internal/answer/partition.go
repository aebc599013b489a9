package answer

import "strings"

// ContextSuffix marks free-text annotation companion keys: the annotation
// for question "hvac_type" is stored under "hvac_type_context".
const ContextSuffix = "_context"

// ReservedPrefix marks cache-metadata keys (e.g. "_lastSaved") that must
// never be re-partitioned into either answer map.
const ReservedPrefix = "_"

// Special session answer keys handled by the engine rather than the schema.
const (
	// NumRoomsKey is the schema question whose numeric answer drives the
	// length of the room-detail list.
	NumRoomsKey = "num_rooms"
	// RoomDetailsKey holds the structured room-detail list. It is not a
	// schema question and never counts toward completion.
	RoomDetailsKey = "room_details"
)

// recordQuestions is the fixed allow-list of question ids persisted directly
// on the primary record instead of inside the session answer blob. This is
// the ONLY definition of the partition; every split/merge path calls
// IsRecordField or Split.
var recordQuestions = map[string]bool{
	"company_name":            true,
	"stakeholder_email":       true,
	"facility_documentation":  true,
	"financial_documentation": true,
}

// IsRecordField reports whether the key belongs to the record partition.
// A "<id>_context" companion key follows its base question's partition.
func IsRecordField(key string) bool {
	base := strings.TrimSuffix(key, ContextSuffix)
	return recordQuestions[base]
}

// IsReserved reports whether the key is cache metadata, excluded from
// partitioning entirely.
func IsReserved(key string) bool {
	return strings.HasPrefix(key, ReservedPrefix)
}

// ContextKey returns the companion annotation key for a question id.
func ContextKey(questionID string) string {
	return questionID + ContextSuffix
}

// Split partitions a merged set into record-column answers and session
// answers, dropping reserved keys. The inputs are never mutated.
func Split(merged Set) (record, session Set) {
	record = make(Set)
	session = make(Set)
	for k, v := range merged {
		switch {
		case IsReserved(k):
			// metadata-only, not an answer
		case IsRecordField(k):
			record[k] = v
		default:
			session[k] = v
		}
	}
	return record, session
}
