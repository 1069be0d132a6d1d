package session

import (
	"context"
	defError "errors"
	"log"
	"time"
	"widget-sync-engine/internal/config"
	"widget-sync-engine/internal/errors"
	"widget-sync-engine/internal/permission"
	"widget-sync-engine/internal/worker"
	"widget-sync-engine/redis"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Service interface {
	Start(ctx context.Context, widgetID, userID string) (*CollaborationSession, error)
	Join(ctx context.Context, sessionID, userID string) (*CollaborationSession, error)
	Leave(ctx context.Context, sessionID, userID string) error
	End(ctx context.Context, sessionID, callerID string) error
	GetSession(ctx context.Context, sessionID string) (*CollaborationSession, error)
	GetActiveSessionsForWidget(ctx context.Context, widgetID string) ([]CollaborationSession, error)

	// TouchActivity stamps lastActivityAt; Settings exposes the session's
	// conflict resolution configuration to the change log.
	TouchActivity(ctx context.Context, sessionID string) error
	Settings(ctx context.Context, sessionID string) (Strategy, error)

	RunIdleSweep(ctx context.Context, idleTimeout time.Duration) error
}

type DefaultService struct {
	repository  Repository
	permissions permission.Service
	cache       *redis.Cache
	pool        *worker.WorkerPool
}

func NewService(
	repository Repository,
	permissions permission.Service,
	cache *redis.Cache,
	pool *worker.WorkerPool,
) Service {
	return &DefaultService{
		repository:  repository,
		permissions: permissions,
		cache:       cache,
		pool:        pool,
	}
}

func (s *DefaultService) Start(ctx context.Context, widgetID, userID string) (*CollaborationSession, error) {
	if err := s.requireEdit(ctx, widgetID, userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &CollaborationSession{
		ID:             uuid.NewString(),
		WidgetID:       widgetID,
		InitiatedBy:    userID,
		State:          StateActive,
		StartedAt:      now,
		LastActivityAt: now,

		Strategy:        StrategyLastWriteWins,
		AutoSave:        true,
		SaveIntervalMs:  30000,
		MaxParticipants: config.AppConfig.DefaultMaxParticipants,

		Participants: []SessionParticipant{
			{
				UserID:   userID,
				Active:   true,
				JoinedAt: now,
			},
		},
	}

	if err := s.repository.Create(ctx, session); err != nil {
		return nil, err
	}

	s.publishEvent("started", session, userID)
	return session, nil
}

func (s *DefaultService) Join(ctx context.Context, sessionID, userID string) (*CollaborationSession, error) {
	existing, err := s.repository.FindByID(ctx, sessionID)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("Session not found", err)
		}
		return nil, err
	}

	if err := s.requireEdit(ctx, existing.WidgetID, userID); err != nil {
		return nil, err
	}

	session, err := s.repository.Join(ctx, sessionID, userID)
	if err != nil {
		switch {
		case defError.Is(err, ErrNotActive):
			return nil, errors.InvalidState("Session is not active", err)
		case defError.Is(err, ErrFull):
			return nil, errors.Full("Session is at capacity", err)
		}
		return nil, err
	}

	s.publishEvent("joined", session, userID)
	return session, nil
}

func (s *DefaultService) Leave(ctx context.Context, sessionID, userID string) error {
	session, err := s.repository.Leave(ctx, sessionID, userID)
	if err != nil {
		switch {
		case defError.Is(err, gorm.ErrRecordNotFound):
			return errors.NotFound("Session or participant not found", err)
		case defError.Is(err, ErrEnded):
			return errors.InvalidState("Session already ended", err)
		}
		return err
	}

	if session.State == StateInactive {
		s.publishEvent("inactive", session, userID)
	} else {
		s.publishEvent("left", session, userID)
	}
	return nil
}

// End terminates a session. Only the initiator or a widget admin may end it.
func (s *DefaultService) End(ctx context.Context, sessionID, callerID string) error {
	session, err := s.repository.FindByID(ctx, sessionID)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return errors.NotFound("Session not found", err)
		}
		return err
	}

	if session.InitiatedBy != callerID {
		isAdmin, err := s.permissions.HasPermission(ctx, session.WidgetID, callerID, permission.PermAdmin)
		if err != nil {
			return err
		}
		if !isAdmin {
			return errors.Forbidden("Only the initiator or a widget admin can end the session", nil)
		}
	}

	if err := s.repository.End(ctx, sessionID); err != nil {
		if defError.Is(err, ErrEnded) {
			return errors.InvalidState("Session already ended", err)
		}
		return err
	}

	session.State = StateEnded
	s.publishEvent("ended", session, callerID)
	return nil
}

func (s *DefaultService) GetSession(ctx context.Context, sessionID string) (*CollaborationSession, error) {
	session, err := s.repository.FindByID(ctx, sessionID)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("Session not found", err)
		}
		return nil, err
	}
	return session, nil
}

func (s *DefaultService) GetActiveSessionsForWidget(ctx context.Context, widgetID string) ([]CollaborationSession, error) {
	return s.repository.ActiveByWidget(ctx, widgetID)
}

func (s *DefaultService) TouchActivity(ctx context.Context, sessionID string) error {
	return s.repository.TouchActivity(ctx, sessionID)
}

func (s *DefaultService) Settings(ctx context.Context, sessionID string) (Strategy, error) {
	session, err := s.repository.FindByID(ctx, sessionID)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return "", errors.NotFound("Session not found", err)
		}
		return "", err
	}
	return session.Strategy, nil
}

// RunIdleSweep is submitted to the worker pool on a ticker from main.
func (s *DefaultService) RunIdleSweep(ctx context.Context, idleTimeout time.Duration) error {
	idle, err := s.repository.SweepIdle(ctx, time.Now().UTC().Add(-idleTimeout))
	if err != nil {
		return err
	}
	for i := range idle {
		idle[i].State = StateInactive
		s.publishEvent("inactive", &idle[i], "")
	}
	if len(idle) > 0 {
		log.Printf("Idle sweep transitioned %d session(s) to INACTIVE", len(idle))
	}
	return nil
}

func (s *DefaultService) requireEdit(ctx context.Context, widgetID, userID string) error {
	canEdit, err := s.permissions.HasPermission(ctx, widgetID, userID, permission.PermEdit)
	if err != nil {
		return err
	}
	if !canEdit {
		return errors.Forbidden("Edit permission required", nil)
	}
	return nil
}

// publishEvent fans the lifecycle transition out on the widget's session
// channel without blocking the caller.
func (s *DefaultService) publishEvent(eventType string, session *CollaborationSession, userID string) {
	event := Event{
		Type:      eventType,
		SessionID: session.ID,
		WidgetID:  session.WidgetID,
		UserID:    userID,
		State:     session.State,
		At:        time.Now().UTC(),
	}
	widgetID := session.WidgetID

	s.pool.Submit(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.cache.Publish(ctx, redis.SessionChannel(widgetID), event)
	})
}
