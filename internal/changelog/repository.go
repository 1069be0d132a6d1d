package changelog

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Stats struct {
	TotalChanges        int64      `json:"total_changes"`
	ChangesLast24h      int64      `json:"changes_last_24h"`
	UniqueCollaborators int64      `json:"unique_collaborators"`
	LastActivity        *time.Time `json:"last_activity,omitempty"`
}

type Repository interface {
	// Record runs conflict detection, supersedes losing priors and appends
	// the new record as one atomic unit per widget.
	Record(ctx context.Context, record *ChangeRecord, window time.Duration, supersede bool) error
	FindByID(ctx context.Context, changeID string) (*ChangeRecord, error)
	History(ctx context.Context, widgetID string, limit int) ([]ChangeRecord, error)
	AppliedSince(ctx context.Context, widgetID string, since time.Time) ([]ChangeRecord, error)
	WidgetStats(ctx context.Context, widgetID string) (*Stats, error)
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

// Record holds a per-widget advisory lock for the whole detect + supersede +
// append sequence, so two near-simultaneous changes can't each believe they
// won against the other.
func (r *RepositoryImpl) Record(ctx context.Context, record *ChangeRecord, window time.Duration, supersede bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", record.WidgetID).Error; err != nil {
			return err
		}

		var recent []ChangeRecord
		if err := tx.Where("widget_id = ? AND user_id <> ? AND timestamp > ?",
			record.WidgetID, record.UserID, record.Timestamp.Add(-window)).
			Order("timestamp ASC").
			Find(&recent).Error; err != nil {
			return err
		}

		conflicts := DetectConflicts(recent, record.ChangeData, record.UserID, record.Timestamp)
		if len(conflicts) > 0 {
			record.Conflicted = true

			if supersede {
				// last write wins: every conflicting prior is superseded by
				// this record
				ids := make([]string, 0, len(conflicts))
				for _, c := range conflicts {
					ids = append(ids, c.ConflictingChangeID)
				}
				if err := tx.Model(&ChangeRecord{}).
					Where("id IN ?", ids).
					Updates(map[string]any{
						"superseded":    true,
						"superseded_by": record.ID,
					}).Error; err != nil {
					return err
				}
			}

			for i := range conflicts {
				conflicts[i].ChangeID = record.ID
			}
			record.Conflicts = conflicts
		}

		record.Applied = true
		return tx.Create(record).Error
	})
}

func (r *RepositoryImpl) FindByID(ctx context.Context, changeID string) (*ChangeRecord, error) {
	var record ChangeRecord
	err := r.db.WithContext(ctx).
		Preload("Conflicts").
		First(&record, "id = ?", changeID).Error
	return &record, err
}

func (r *RepositoryImpl) History(ctx context.Context, widgetID string, limit int) ([]ChangeRecord, error) {
	var records []ChangeRecord
	err := r.db.WithContext(ctx).
		Preload("Conflicts").
		Where("widget_id = ?", widgetID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// AppliedSince returns applied, non-superseded changes newer than the
// cursor, oldest first, ready for replay.
func (r *RepositoryImpl) AppliedSince(ctx context.Context, widgetID string, since time.Time) ([]ChangeRecord, error) {
	var records []ChangeRecord
	err := r.db.WithContext(ctx).
		Where("widget_id = ? AND applied = ? AND superseded = ? AND timestamp > ?",
			widgetID, true, false, since).
		Order("timestamp ASC").
		Limit(500).
		Find(&records).Error
	return records, err
}

func (r *RepositoryImpl) WidgetStats(ctx context.Context, widgetID string) (*Stats, error) {
	var stats Stats

	if err := r.db.WithContext(ctx).Model(&ChangeRecord{}).
		Where("widget_id = ?", widgetID).
		Count(&stats.TotalChanges).Error; err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).Model(&ChangeRecord{}).
		Where("widget_id = ? AND timestamp > ?", widgetID, time.Now().UTC().Add(-24*time.Hour)).
		Count(&stats.ChangesLast24h).Error; err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).Model(&ChangeRecord{}).
		Distinct("user_id").
		Where("widget_id = ?", widgetID).
		Count(&stats.UniqueCollaborators).Error; err != nil {
		return nil, err
	}

	var last ChangeRecord
	err := r.db.WithContext(ctx).
		Where("widget_id = ?", widgetID).
		Order("timestamp DESC").
		First(&last).Error
	if err == nil {
		stats.LastActivity = &last.Timestamp
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	return &stats, nil
}
