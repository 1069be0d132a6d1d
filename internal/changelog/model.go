package changelog

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type ChangeType string

const (
	ChangeCreate   ChangeType = "CREATE"
	ChangeUpdate   ChangeType = "UPDATE"
	ChangeDelete   ChangeType = "DELETE"
	ChangeSettings ChangeType = "SETTINGS"
	ChangeData     ChangeType = "DATA"
)

// ParseChangeType validates a caller-supplied change type.
func ParseChangeType(s string) (ChangeType, bool) {
	switch t := ChangeType(s); t {
	case ChangeCreate, ChangeUpdate, ChangeDelete, ChangeSettings, ChangeData:
		return t, true
	}
	return "", false
}

// Payload is a field -> value mapping stored as jsonb.
type Payload map[string]any

func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func (p *Payload) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	}
	return fmt.Errorf("unsupported payload column type %T", value)
}

// FieldConflict is one overlapping field between two changes: the incoming
// value and the value a recent change from another user wrote.
type FieldConflict struct {
	Field  string `json:"field"`
	Ours   any    `json:"value1"`
	Theirs any    `json:"value2"`
}

type FieldConflicts []FieldConflict

func (f FieldConflicts) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return json.Marshal(f)
}

func (f *FieldConflicts) Scan(value any) error {
	if value == nil {
		*f = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	}
	return fmt.Errorf("unsupported conflicts column type %T", value)
}

// ChangeRecord is one accepted or conflicted edit attempt. Records are
// append-only; once applied they are immutable except for the superseded
// fields set during conflict resolution.
type ChangeRecord struct {
	ID           string     `gorm:"primaryKey" json:"change_id"`
	SessionID    *string    `gorm:"index" json:"session_id,omitempty"`
	WidgetID     string     `gorm:"index:idx_change_widget_ts" json:"widget_id"`
	UserID       string     `gorm:"index" json:"user_id"`
	ChangeType   ChangeType `json:"change_type"`
	ChangeData   Payload    `gorm:"type:jsonb" json:"change_data"`
	PreviousData Payload    `gorm:"type:jsonb" json:"previous_data,omitempty"`
	Timestamp    time.Time  `gorm:"index:idx_change_widget_ts" json:"timestamp"`
	Applied      bool       `json:"applied"`
	Conflicted   bool       `json:"conflicted"`
	Superseded   bool       `gorm:"index" json:"superseded"`
	SupersededBy *string    `json:"superseded_by,omitempty"`

	Conflicts []ChangeConflict `gorm:"foreignKey:ChangeID" json:"conflicts,omitempty"`
}

// ChangeConflict is a persisted ConflictDescriptor.
type ChangeConflict struct {
	ID                  uint64         `gorm:"primaryKey" json:"-"`
	ChangeID            string         `gorm:"index" json:"-"`
	ConflictingUserID   string         `json:"conflicting_user_id"`
	ConflictingChangeID string         `json:"conflicting_change_id"`
	Fields              FieldConflicts `gorm:"type:jsonb" json:"conflicting_fields"`
	DetectedAt          time.Time      `json:"detected_at"`
}

// Event is published on the widget's change channel after a change commits.
type Event struct {
	ChangeID   string     `json:"change_id"`
	WidgetID   string     `json:"widget_id"`
	UserID     string     `json:"user_id"`
	ChangeType ChangeType `json:"change_type"`
	Conflicted bool       `json:"conflicted"`
	Timestamp  time.Time  `json:"timestamp"`
}
