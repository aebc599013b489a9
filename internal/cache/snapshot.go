package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/verdantiq/facility-assessment/internal/answer"
)

// Key layout mirrors the browser-era localStorage scheme: one pointer to the
// in-flight record plus one snapshot per record id.
const (
	pointerKey        = "current_assessment_id"
	snapshotKeyPrefix = "assessment_data_"

	lastSavedKey   = "_lastSaved"
	currentStepKey = "_currentStep"
)

// Snapshot is a decoded per-record cache entry. Record and Session are the
// two answer partitions, re-derived at load time from the central partition
// rule; the cached shape is never trusted to already match.
type Snapshot struct {
	Record      answer.Set
	Session     answer.Set
	LastSaved   time.Time
	CurrentStep int
}

func snapshotKey(recordID string) string {
	return snapshotKeyPrefix + recordID
}

// CurrentRecordID reads the locally persisted record-id pointer.
func CurrentRecordID(kv KV) (string, bool, error) {
	return kv.Get(pointerKey)
}

// SetCurrentRecordID persists the record-id pointer for future resume.
func SetCurrentRecordID(kv KV, recordID string) error {
	return kv.Set(pointerKey, recordID)
}

// ClearCurrentRecordID removes the pointer (stale record or completed submit).
func ClearCurrentRecordID(kv KV) error {
	return kv.Remove(pointerKey)
}

// SaveSnapshot serializes the full merged answer set plus reserved metadata
// keys under the record's snapshot key. Called after every successful
// progress save; purely local, no network dependency.
func SaveSnapshot(kv KV, recordID string, merged answer.Set, currentStep int, savedAt time.Time) error {
	doc := make(map[string]json.RawMessage, len(merged)+2)
	for k, v := range merged {
		if answer.IsReserved(k) {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode snapshot value %s: %w", k, err)
		}
		doc[k] = raw
	}
	ls, _ := json.Marshal(savedAt.Format(time.RFC3339))
	doc[lastSavedKey] = ls
	cs, _ := json.Marshal(currentStep)
	doc[currentStepKey] = cs

	blob, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", recordID, err)
	}
	return kv.Set(snapshotKey(recordID), string(blob))
}

// LoadSnapshot reads and re-partitions the snapshot for a record id.
// Returns nil, nil when no snapshot exists. Reserved keys ("_"-prefixed) are
// decoded into Snapshot metadata and excluded from both partitions.
func LoadSnapshot(kv KV, recordID string) (*Snapshot, error) {
	blob, ok, err := kv.Get(snapshotKey(recordID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(blob), &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", recordID, err)
	}

	snap := &Snapshot{}
	merged := make(answer.Set, len(doc))
	for k, raw := range doc {
		if answer.IsReserved(k) {
			switch k {
			case lastSavedKey:
				var s string
				if json.Unmarshal(raw, &s) == nil {
					if t, err := time.Parse(time.RFC3339, s); err == nil {
						snap.LastSaved = t
					}
				}
			case currentStepKey:
				var n int
				if json.Unmarshal(raw, &n) == nil {
					snap.CurrentStep = n
				}
			}
			continue
		}
		var v answer.Value
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode snapshot value %s: %w", k, err)
		}
		merged[k] = v
	}

	snap.Record, snap.Session = answer.Split(merged)
	return snap, nil
}

// ClearSnapshot removes the per-record snapshot (successful submit or
// explicit restart).
func ClearSnapshot(kv KV, recordID string) error {
	return kv.Remove(snapshotKey(recordID))
}
