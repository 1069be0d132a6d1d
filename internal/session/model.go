package session

import (
	"time"
)

// State is the session lifecycle. Transitions only move forward:
// ACTIVE -> INACTIVE -> ENDED, or ACTIVE -> ENDED directly.
type State string

const (
	StateActive   State = "ACTIVE"
	StateInactive State = "INACTIVE"
	StateEnded    State = "ENDED"
)

// Strategy names the conflict resolution policy for changes recorded under
// a session. Only LAST_WRITE_WINS is implemented; the others are declared
// extension points.
type Strategy string

const (
	StrategyLastWriteWins Strategy = "LAST_WRITE_WINS"
	StrategyManualResolve Strategy = "MANUAL_RESOLVE"
	StrategyMerge         Strategy = "MERGE"
)

type CollaborationSession struct {
	ID             string     `gorm:"primaryKey" json:"session_id"`
	WidgetID       string     `gorm:"index" json:"widget_id"`
	InitiatedBy    string     `json:"initiated_by"`
	State          State      `gorm:"index" json:"state"`
	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`

	// settings
	Strategy        Strategy `json:"conflict_resolution_strategy"`
	AutoSave        bool     `json:"auto_save"`
	SaveIntervalMs  int      `json:"save_interval_ms"`
	MaxParticipants int      `json:"max_participants"`

	Participants []SessionParticipant `gorm:"foreignKey:SessionID" json:"participants"`
}

// SessionParticipant is one user's membership in a session. Rows are kept
// after leave (Active = false) so the historical participant set survives.
type SessionParticipant struct {
	ID        uint64     `gorm:"primaryKey" json:"-"`
	SessionID string     `gorm:"uniqueIndex:idx_session_user" json:"-"`
	UserID    string     `gorm:"uniqueIndex:idx_session_user" json:"user_id"`
	Active    bool       `json:"active"`
	JoinedAt  time.Time  `json:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty"`
}

// ActiveParticipants projects the currently connected subset.
func (s *CollaborationSession) ActiveParticipants() []string {
	out := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.Active {
			out = append(out, p.UserID)
		}
	}
	return out
}

// Event is published on the widget's session channel after lifecycle
// transitions so sync runtimes can follow session state remotely.
type Event struct {
	Type      string    `json:"type"` // started, joined, left, inactive, ended
	SessionID string    `json:"session_id"`
	WidgetID  string    `json:"widget_id"`
	UserID    string    `json:"user_id,omitempty"`
	State     State     `json:"state"`
	At        time.Time `json:"at"`
}
