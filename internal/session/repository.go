package session

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sentinel errors mapped to API error kinds by the service.
var (
	ErrNotActive = errors.New("session is not active")
	ErrFull      = errors.New("session is at capacity")
	ErrEnded     = errors.New("session already ended")
)

type Repository interface {
	Create(ctx context.Context, session *CollaborationSession) error
	FindByID(ctx context.Context, sessionID string) (*CollaborationSession, error)
	ActiveByWidget(ctx context.Context, widgetID string) ([]CollaborationSession, error)
	Join(ctx context.Context, sessionID, userID string) (*CollaborationSession, error)
	Leave(ctx context.Context, sessionID, userID string) (*CollaborationSession, error)
	End(ctx context.Context, sessionID string) error
	TouchActivity(ctx context.Context, sessionID string) error
	SweepIdle(ctx context.Context, olderThan time.Time) ([]CollaborationSession, error)
	CountByWidget(ctx context.Context, widgetID string) (int64, error)
	CountActiveParticipants(ctx context.Context, widgetID string) (int64, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) Create(ctx context.Context, session *CollaborationSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *RepositoryImpl) FindByID(ctx context.Context, sessionID string) (*CollaborationSession, error) {
	var session CollaborationSession
	err := r.db.WithContext(ctx).
		Preload("Participants").
		First(&session, "id = ?", sessionID).Error
	return &session, err
}

func (r *RepositoryImpl) ActiveByWidget(ctx context.Context, widgetID string) ([]CollaborationSession, error) {
	var sessions []CollaborationSession
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("widget_id = ? AND state = ?", widgetID, StateActive).
		Order("started_at DESC").
		Find(&sessions).Error
	return sessions, err
}

// Join admits a user under a row lock so two simultaneous joins can never
// both slip past the capacity check.
func (r *RepositoryImpl) Join(ctx context.Context, sessionID, userID string) (*CollaborationSession, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session CollaborationSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&session, "id = ?", sessionID).Error; err != nil {
			return err
		}

		if session.State != StateActive {
			return ErrNotActive
		}

		var activeCount int64
		if err := tx.Model(&SessionParticipant{}).
			Where("session_id = ? AND active = ?", sessionID, true).
			Count(&activeCount).Error; err != nil {
			return err
		}
		if activeCount >= int64(session.MaxParticipants) {
			return ErrFull
		}

		now := time.Now().UTC()

		// rejoin keeps the historical membership row
		var existing SessionParticipant
		err := tx.Where("session_id = ? AND user_id = ?", sessionID, userID).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := tx.Create(&SessionParticipant{
				SessionID: sessionID,
				UserID:    userID,
				Active:    true,
				JoinedAt:  now,
			}).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else if !existing.Active {
			if err := tx.Model(&existing).
				Updates(map[string]any{"active": true, "left_at": nil}).Error; err != nil {
				return err
			}
		}

		return tx.Model(&CollaborationSession{}).
			Where("id = ?", sessionID).
			Update("last_activity_at", now).Error
	})
	if err != nil {
		return nil, err
	}

	return r.FindByID(ctx, sessionID)
}

// Leave deactivates the membership and auto-transitions the session to
// INACTIVE once one or zero active participants remain.
func (r *RepositoryImpl) Leave(ctx context.Context, sessionID, userID string) (*CollaborationSession, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session CollaborationSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&session, "id = ?", sessionID).Error; err != nil {
			return err
		}
		if session.State == StateEnded {
			return ErrEnded
		}

		now := time.Now().UTC()
		res := tx.Model(&SessionParticipant{}).
			Where("session_id = ? AND user_id = ? AND active = ?", sessionID, userID, true).
			Updates(map[string]any{"active": false, "left_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		var activeCount int64
		if err := tx.Model(&SessionParticipant{}).
			Where("session_id = ? AND active = ?", sessionID, true).
			Count(&activeCount).Error; err != nil {
			return err
		}

		updates := map[string]any{"last_activity_at": now}
		if activeCount <= 1 && session.State == StateActive {
			updates["state"] = StateInactive
			updates["ended_at"] = now
		}
		return tx.Model(&CollaborationSession{}).
			Where("id = ?", sessionID).
			Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	return r.FindByID(ctx, sessionID)
}

func (r *RepositoryImpl) End(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session CollaborationSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&session, "id = ?", sessionID).Error; err != nil {
			return err
		}
		if session.State == StateEnded {
			return ErrEnded
		}

		now := time.Now().UTC()
		if err := tx.Model(&CollaborationSession{}).
			Where("id = ?", sessionID).
			Updates(map[string]any{
				"state":            StateEnded,
				"ended_at":         now,
				"last_activity_at": now,
			}).Error; err != nil {
			return err
		}

		return tx.Model(&SessionParticipant{}).
			Where("session_id = ? AND active = ?", sessionID, true).
			Updates(map[string]any{"active": false, "left_at": now}).Error
	})
}

func (r *RepositoryImpl) TouchActivity(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Model(&CollaborationSession{}).
		Where("id = ?", sessionID).
		Update("last_activity_at", time.Now().UTC()).Error
}

// SweepIdle transitions ACTIVE sessions that went quiet to INACTIVE and
// returns the sessions it touched.
func (r *RepositoryImpl) SweepIdle(ctx context.Context, olderThan time.Time) ([]CollaborationSession, error) {
	var idle []CollaborationSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("state = ? AND last_activity_at < ?", StateActive, olderThan).
			Find(&idle).Error; err != nil {
			return err
		}
		if len(idle) == 0 {
			return nil
		}

		ids := make([]string, 0, len(idle))
		for _, s := range idle {
			ids = append(ids, s.ID)
		}
		now := time.Now().UTC()
		return tx.Model(&CollaborationSession{}).
			Where("id IN ?", ids).
			Updates(map[string]any{"state": StateInactive, "ended_at": now}).Error
	})
	return idle, err
}

func (r *RepositoryImpl) CountByWidget(ctx context.Context, widgetID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&CollaborationSession{}).
		Where("widget_id = ?", widgetID).
		Count(&count).Error
	return count, err
}

// CountActiveParticipants counts distinct connected users across the
// widget's ACTIVE sessions.
func (r *RepositoryImpl) CountActiveParticipants(ctx context.Context, widgetID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&SessionParticipant{}).
		Distinct("session_participants.user_id").
		Joins("JOIN collaboration_sessions ON collaboration_sessions.id = session_participants.session_id").
		Where("collaboration_sessions.widget_id = ? AND collaboration_sessions.state = ? AND session_participants.active = ?",
			widgetID, StateActive, true).
		Count(&count).Error
	return count, err
}
