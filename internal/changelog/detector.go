package changelog

import (
	"reflect"
	"time"
)

// DetectConflicts computes field-level overlap between an incoming payload
// and recent changes by other users on the same widget. A conflict exists
// for every key present in both payloads whose values differ. Value
// inequality is the sole criterion; no semantic merge is attempted, so two
// edits to the same field within the window always conflict regardless of
// logical compatibility.
func DetectConflicts(recent []ChangeRecord, incoming Payload, userID string, detectedAt time.Time) []ChangeConflict {
	var conflicts []ChangeConflict

	for _, prior := range recent {
		if prior.UserID == userID {
			continue
		}

		var fields FieldConflicts
		for field, ours := range incoming {
			theirs, present := prior.ChangeData[field]
			if !present {
				continue
			}
			if !valuesEqual(ours, theirs) {
				fields = append(fields, FieldConflict{
					Field:  field,
					Ours:   ours,
					Theirs: theirs,
				})
			}
		}

		if len(fields) > 0 {
			conflicts = append(conflicts, ChangeConflict{
				ConflictingUserID:   prior.UserID,
				ConflictingChangeID: prior.ID,
				Fields:              fields,
				DetectedAt:          detectedAt,
			})
		}
	}

	return conflicts
}

// valuesEqual compares payload values. Payloads round-trip through JSON, so
// scalars arrive as string/float64/bool and containers as maps and slices;
// reflect.DeepEqual covers all of them.
func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
