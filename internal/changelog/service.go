package changelog

import (
	"context"
	defError "errors"
	"fmt"
	"log"
	"time"
	"widget-sync-engine/internal/config"
	"widget-sync-engine/internal/errors"
	"widget-sync-engine/internal/permission"
	"widget-sync-engine/internal/session"
	"widget-sync-engine/internal/worker"
	"widget-sync-engine/redis"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionTracker is the slice of the session manager the change log needs:
// activity stamping, resolution settings and the session-derived stats.
type SessionTracker interface {
	TouchActivity(ctx context.Context, sessionID string) error
	Settings(ctx context.Context, sessionID string) (session.Strategy, error)
}

// SessionStats supplies the session-side counters for collaboration stats.
type SessionStats interface {
	CountByWidget(ctx context.Context, widgetID string) (int64, error)
	CountActiveParticipants(ctx context.Context, widgetID string) (int64, error)
}

// LocalState is a client replica plus its sync cursor.
type LocalState struct {
	LastSyncTimestamp time.Time `json:"last_sync_timestamp"`
	State             Payload   `json:"state"`
}

type SyncResult struct {
	SyncedState       Payload        `json:"synced_state"`
	AppliedChanges    []ChangeRecord `json:"applied_changes"`
	LastSyncTimestamp time.Time      `json:"last_sync_timestamp"`
}

type CollaborationStats struct {
	ActiveCollaborators int64      `json:"active_collaborators"`
	TotalSessions       int64      `json:"total_sessions"`
	TotalChanges        int64      `json:"total_changes"`
	ChangesLast24h      int64      `json:"changes_last_24h"`
	UniqueCollaborators int64      `json:"unique_collaborators"`
	LastActivity        *time.Time `json:"last_activity,omitempty"`
}

type Service interface {
	RecordChange(ctx context.Context, sessionID *string, widgetID, userID string, changeType ChangeType, changeData, previousData Payload) (*ChangeRecord, error)
	GetChange(ctx context.Context, changeID string) (*ChangeRecord, error)
	GetHistory(ctx context.Context, widgetID string, limit int) ([]ChangeRecord, error)
	SynchronizeState(ctx context.Context, widgetID, userID string, local LocalState) (*SyncResult, error)
	GetCollaborationStats(ctx context.Context, widgetID string) (*CollaborationStats, error)
}

type DefaultService struct {
	repository   Repository
	permissions  permission.Service
	sessions     SessionTracker
	sessionStats SessionStats
	cache        *redis.Cache
	pool         *worker.WorkerPool
}

func NewService(
	repository Repository,
	permissions permission.Service,
	sessions SessionTracker,
	sessionStats SessionStats,
	cache *redis.Cache,
	pool *worker.WorkerPool,
) Service {
	return &DefaultService{
		repository:   repository,
		permissions:  permissions,
		sessions:     sessions,
		sessionStats: sessionStats,
		cache:        cache,
		pool:         pool,
	}
}

// RecordChange appends an edit attempt. A conflicted outcome is not a
// failure: the record always comes back with its conflict flags, callers
// may inspect and continue.
func (s *DefaultService) RecordChange(
	ctx context.Context,
	sessionID *string,
	widgetID, userID string,
	changeType ChangeType,
	changeData, previousData Payload,
) (*ChangeRecord, error) {
	if len(changeData) == 0 {
		return nil, errors.InvalidArgument("Change data can't be empty", nil)
	}
	if _, ok := ParseChangeType(string(changeType)); !ok {
		return nil, errors.InvalidArgument("Unknown change type: "+string(changeType), nil)
	}

	canEdit, err := s.permissions.HasPermission(ctx, widgetID, userID, permission.PermEdit)
	if err != nil {
		return nil, err
	}
	if !canEdit {
		return nil, errors.Forbidden("Edit permission required", nil)
	}

	strategy := session.StrategyLastWriteWins
	if sessionID != nil {
		strategy, err = s.sessions.Settings(ctx, *sessionID)
		if err != nil {
			return nil, err
		}
	}
	// MANUAL_RESOLVE and MERGE are declared extension points only
	if strategy != session.StrategyLastWriteWins {
		return nil, errors.InvalidArgument(
			fmt.Sprintf("Conflict resolution strategy %s is not implemented", strategy), nil)
	}

	record := &ChangeRecord{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		WidgetID:     widgetID,
		UserID:       userID,
		ChangeType:   changeType,
		ChangeData:   changeData,
		PreviousData: previousData,
		Timestamp:    time.Now().UTC(),
	}

	if err := s.repository.Record(ctx, record, config.AppConfig.ConflictWindow, true); err != nil {
		return nil, err
	}

	if sessionID != nil {
		if err := s.sessions.TouchActivity(ctx, *sessionID); err != nil {
			log.Printf("Failed to touch session %s activity: %v", *sessionID, err)
		}
	}

	s.afterCommit(record)
	return record, nil
}

func (s *DefaultService) GetChange(ctx context.Context, changeID string) (*ChangeRecord, error) {
	record, err := s.repository.FindByID(ctx, changeID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return record, nil
}

func (s *DefaultService) GetHistory(ctx context.Context, widgetID string, limit int) ([]ChangeRecord, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repository.History(ctx, widgetID, limit)
}

// SynchronizeState is the single read path clients use to catch up after
// being offline: replay every applied, non-superseded change newer than the
// local cursor onto the local state.
func (s *DefaultService) SynchronizeState(ctx context.Context, widgetID, userID string, local LocalState) (*SyncResult, error) {
	canRead, err := s.permissions.HasPermission(ctx, widgetID, userID, permission.PermRead)
	if err != nil {
		return nil, err
	}
	if !canRead {
		return nil, errors.Forbidden("Read permission required", nil)
	}

	changes, err := s.repository.AppliedSince(ctx, widgetID, local.LastSyncTimestamp)
	if err != nil {
		return nil, err
	}

	state := local.State
	if state == nil {
		state = Payload{}
	}
	// the cursor advances only as far as what was actually replayed, so a
	// change committing late with an earlier timestamp is caught next sync
	cursor := local.LastSyncTimestamp
	for _, change := range changes {
		state = applyChange(state, change)
		if change.Timestamp.After(cursor) {
			cursor = change.Timestamp
		}
	}

	return &SyncResult{
		SyncedState:       state,
		AppliedChanges:    changes,
		LastSyncTimestamp: cursor,
	}, nil
}

// applyChange merges one change into the state projection. UPDATE and
// CREATE replace top-level fields; SETTINGS and DATA merge into the
// corresponding sub-object; DELETE tombstones the widget.
func applyChange(state Payload, change ChangeRecord) Payload {
	switch change.ChangeType {
	case ChangeCreate, ChangeUpdate:
		for field, value := range change.ChangeData {
			state[field] = value
		}
	case ChangeSettings:
		state["settings"] = mergeSub(state["settings"], change.ChangeData)
	case ChangeData:
		state["data"] = mergeSub(state["data"], change.ChangeData)
	case ChangeDelete:
		state["deleted"] = true
	}
	return state
}

func mergeSub(existing any, incoming Payload) Payload {
	sub, ok := existing.(Payload)
	if !ok {
		// sub-objects from a JSON round trip arrive as plain maps
		if m, isMap := existing.(map[string]any); isMap {
			sub = Payload(m)
		} else {
			sub = Payload{}
		}
	}
	for field, value := range incoming {
		sub[field] = value
	}
	return sub
}

func (s *DefaultService) GetCollaborationStats(ctx context.Context, widgetID string) (*CollaborationStats, error) {
	// versioned cache key, bumped on every recorded change
	versionKey := fmt.Sprintf("widget:%s:stats:version", widgetID)
	v := s.cache.GetVersion(ctx, versionKey)
	cacheKey := fmt.Sprintf("stats:w:%s:v:%d", widgetID, v)

	var cached CollaborationStats
	if found, _ := s.cache.Get(ctx, cacheKey, &cached); found {
		return &cached, nil
	}

	changeStats, err := s.repository.WidgetStats(ctx, widgetID)
	if err != nil {
		return nil, err
	}

	totalSessions, err := s.sessionStats.CountByWidget(ctx, widgetID)
	if err != nil {
		return nil, err
	}
	activeCollaborators, err := s.sessionStats.CountActiveParticipants(ctx, widgetID)
	if err != nil {
		return nil, err
	}

	stats := &CollaborationStats{
		ActiveCollaborators: activeCollaborators,
		TotalSessions:       totalSessions,
		TotalChanges:        changeStats.TotalChanges,
		ChangesLast24h:      changeStats.ChangesLast24h,
		UniqueCollaborators: changeStats.UniqueCollaborators,
		LastActivity:        changeStats.LastActivity,
	}

	cached = *stats
	s.pool.Submit(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.cache.Set(ctx, cacheKey, &cached, time.Hour)
	})

	return stats, nil
}

// afterCommit publishes the change event and invalidates the stats cache
// off the request path.
func (s *DefaultService) afterCommit(record *ChangeRecord) {
	event := Event{
		ChangeID:   record.ID,
		WidgetID:   record.WidgetID,
		UserID:     record.UserID,
		ChangeType: record.ChangeType,
		Conflicted: record.Conflicted,
		Timestamp:  record.Timestamp,
	}

	s.pool.Submit(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		s.cache.IncrementVersion(ctx, fmt.Sprintf("widget:%s:stats:version", event.WidgetID))
		return s.cache.Publish(ctx, redis.ChangeChannel(event.WidgetID), event)
	})
}

// mapNotFound is used by handlers that look up a single change.
func mapNotFound(err error) error {
	if defError.Is(err, gorm.ErrRecordNotFound) {
		return errors.NotFound("Change not found", err)
	}
	return err
}
