package permission

import (
	"time"
)

// Permission is one atomic capability on a widget.
type Permission string

const (
	PermRead   Permission = "read"
	PermEdit   Permission = "edit"
	PermShare  Permission = "share"
	PermAdmin  Permission = "admin"
	PermDelete Permission = "delete"
)

// Level is a named permission level expanding to a fixed capability set.
// Levels are strictly hierarchical: VIEWER < EDITOR < COLLABORATOR < ADMIN.
type Level string

const (
	LevelViewer       Level = "VIEWER"
	LevelEditor       Level = "EDITOR"
	LevelCollaborator Level = "COLLABORATOR"
	LevelAdmin        Level = "ADMIN"
)

// levelGrants is the authoritative level -> capability mapping.
var levelGrants = map[Level][]Permission{
	LevelViewer:       {PermRead},
	LevelEditor:       {PermRead, PermEdit},
	LevelCollaborator: {PermRead, PermEdit, PermShare},
	LevelAdmin:        {PermRead, PermEdit, PermShare, PermAdmin, PermDelete},
}

// ParseLevel validates a caller-supplied level name.
func ParseLevel(s string) (Level, bool) {
	level := Level(s)
	_, ok := levelGrants[level]
	return level, ok
}

// Grants reports whether the level includes the given permission.
func (l Level) Grants(p Permission) bool {
	for _, granted := range levelGrants[l] {
		if granted == p {
			return true
		}
	}
	return false
}

// Permissions returns a copy of the level's capability set.
func (l Level) Permissions() []Permission {
	grants := levelGrants[l]
	out := make([]Permission, len(grants))
	copy(out, grants)
	return out
}

// Widget anchors the engine's per-widget permission state. Mutations take
// a row lock on it so concurrent grant/revoke on one widget serialize
// instead of silently dropping each other.
type Widget struct {
	ID        string `gorm:"primaryKey"`
	OwnerID   string `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WidgetPermission is one user's grant on one widget.
type WidgetPermission struct {
	ID        uint64 `gorm:"primaryKey"`
	WidgetID  string `gorm:"uniqueIndex:idx_widget_user"`
	UserID    string `gorm:"uniqueIndex:idx_widget_user"`
	Level     Level
	IsOwner   bool
	GrantedBy string
	GrantedAt time.Time
}
