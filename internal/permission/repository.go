package permission

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sentinel errors for mutation preconditions that fail under the widget
// row lock. The service maps them to API error kinds.
var (
	ErrNotAdmin       = errors.New("caller lacks admin permission")
	ErrOwnerImmutable = errors.New("owner permissions are immutable")
	ErrNotOwner       = errors.New("caller is not the widget owner")
)

type Repository interface {
	CreateRecord(ctx context.Context, widgetID, ownerID string) error
	GetWidget(ctx context.Context, widgetID string) (*Widget, error)
	GetPermission(ctx context.Context, widgetID, userID string) (*WidgetPermission, error)
	ListByWidget(ctx context.Context, widgetID string) ([]WidgetPermission, error)
	Upsert(ctx context.Context, widgetID, callerID, targetUserID string, level Level) error
	Remove(ctx context.Context, widgetID, callerID, targetUserID string) error
	UpdateLevel(ctx context.Context, widgetID, callerID, targetUserID string, level Level) error
	TransferOwnership(ctx context.Context, widgetID, currentOwnerID, newOwnerID string) error
	DeleteRecord(ctx context.Context, widgetID, callerID string) error
}

type RepositoryImpl struct {
	db *gorm.DB
}

// NewRepository creates a new permission repository
func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

// CreateRecord seeds the widget anchor row plus the owner's ADMIN grant.
func (r *RepositoryImpl) CreateRecord(ctx context.Context, widgetID, ownerID string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		widget := Widget{
			ID:        widgetID,
			OwnerID:   ownerID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(&widget).Error; err != nil {
			return err
		}

		return tx.Create(&WidgetPermission{
			WidgetID:  widgetID,
			UserID:    ownerID,
			Level:     LevelAdmin,
			IsOwner:   true,
			GrantedBy: ownerID,
			GrantedAt: now,
		}).Error
	})
}

func (r *RepositoryImpl) GetWidget(ctx context.Context, widgetID string) (*Widget, error) {
	var widget Widget
	err := r.db.WithContext(ctx).First(&widget, "id = ?", widgetID).Error
	return &widget, err
}

func (r *RepositoryImpl) GetPermission(ctx context.Context, widgetID, userID string) (*WidgetPermission, error) {
	var perm WidgetPermission
	err := r.db.WithContext(ctx).
		Where("widget_id = ? AND user_id = ?", widgetID, userID).
		First(&perm).Error
	return &perm, err
}

func (r *RepositoryImpl) ListByWidget(ctx context.Context, widgetID string) ([]WidgetPermission, error) {
	var perms []WidgetPermission
	err := r.db.WithContext(ctx).
		Where("widget_id = ?", widgetID).
		Order("granted_at ASC").
		Find(&perms).Error
	return perms, err
}

// mutate runs fn inside a transaction holding a row lock on the widget
// anchor. Every permission mutation, preconditions included, goes through
// this serialized per-widget critical section so a check can never act on
// state another transaction is concurrently changing.
func (r *RepositoryImpl) mutate(ctx context.Context, widgetID string, fn func(tx *gorm.DB, w *Widget) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var widget Widget
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&widget, "id = ?", widgetID).Error; err != nil {
			return err
		}

		if err := fn(tx, &widget); err != nil {
			return err
		}

		return tx.Model(&Widget{}).
			Where("id = ?", widgetID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

// requireAdmin re-reads the caller's grant under the row lock so a
// concurrent revoke can't slip between check and act.
func requireAdmin(tx *gorm.DB, widgetID, callerID string) error {
	var caller WidgetPermission
	err := tx.Where("widget_id = ? AND user_id = ?", widgetID, callerID).
		First(&caller).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotAdmin
	}
	if err != nil {
		return err
	}
	if !caller.Level.Grants(PermAdmin) {
		return ErrNotAdmin
	}
	return nil
}

// ensureNotOwner rejects mutations that would touch the owner's grant.
func ensureNotOwner(tx *gorm.DB, widgetID, userID string) error {
	var target WidgetPermission
	err := tx.Where("widget_id = ? AND user_id = ?", widgetID, userID).
		First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if target.IsOwner {
		return ErrOwnerImmutable
	}
	return nil
}

func (r *RepositoryImpl) Upsert(ctx context.Context, widgetID, callerID, targetUserID string, level Level) error {
	return r.mutate(ctx, widgetID, func(tx *gorm.DB, _ *Widget) error {
		if err := requireAdmin(tx, widgetID, callerID); err != nil {
			return err
		}
		if err := ensureNotOwner(tx, widgetID, targetUserID); err != nil {
			return err
		}

		var existing WidgetPermission
		err := tx.Where("widget_id = ? AND user_id = ?", widgetID, targetUserID).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&WidgetPermission{
				WidgetID:  widgetID,
				UserID:    targetUserID,
				Level:     level,
				GrantedBy: callerID,
				GrantedAt: time.Now().UTC(),
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&existing).Updates(map[string]any{
			"level":      level,
			"granted_by": callerID,
			"granted_at": time.Now().UTC(),
		}).Error
	})
}

func (r *RepositoryImpl) Remove(ctx context.Context, widgetID, callerID, targetUserID string) error {
	return r.mutate(ctx, widgetID, func(tx *gorm.DB, _ *Widget) error {
		if err := requireAdmin(tx, widgetID, callerID); err != nil {
			return err
		}
		if err := ensureNotOwner(tx, widgetID, targetUserID); err != nil {
			return err
		}

		res := tx.Where("widget_id = ? AND user_id = ?", widgetID, targetUserID).
			Delete(&WidgetPermission{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

func (r *RepositoryImpl) UpdateLevel(ctx context.Context, widgetID, callerID, targetUserID string, level Level) error {
	return r.mutate(ctx, widgetID, func(tx *gorm.DB, _ *Widget) error {
		if err := requireAdmin(tx, widgetID, callerID); err != nil {
			return err
		}
		if err := ensureNotOwner(tx, widgetID, targetUserID); err != nil {
			return err
		}

		res := tx.Model(&WidgetPermission{}).
			Where("widget_id = ? AND user_id = ?", widgetID, targetUserID).
			Update("level", level)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// TransferOwnership atomically demotes the current owner to plain ADMIN and
// promotes the target to owner with the maximal set. Ownership is checked
// against the locked row, so two transfers racing on a stale view can't
// both promote their targets.
func (r *RepositoryImpl) TransferOwnership(ctx context.Context, widgetID, currentOwnerID, newOwnerID string) error {
	return r.mutate(ctx, widgetID, func(tx *gorm.DB, w *Widget) error {
		if w.OwnerID != currentOwnerID {
			return ErrNotOwner
		}

		now := time.Now().UTC()

		if err := tx.Model(&WidgetPermission{}).
			Where("widget_id = ? AND user_id = ?", widgetID, currentOwnerID).
			Updates(map[string]any{"is_owner": false, "level": LevelAdmin}).Error; err != nil {
			return err
		}

		var target WidgetPermission
		err := tx.Where("widget_id = ? AND user_id = ?", widgetID, newOwnerID).
			First(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := tx.Create(&WidgetPermission{
				WidgetID:  widgetID,
				UserID:    newOwnerID,
				Level:     LevelAdmin,
				IsOwner:   true,
				GrantedBy: currentOwnerID,
				GrantedAt: now,
			}).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else {
			if err := tx.Model(&target).
				Updates(map[string]any{"is_owner": true, "level": LevelAdmin}).Error; err != nil {
				return err
			}
		}

		return tx.Model(&Widget{}).
			Where("id = ?", widgetID).
			Update("owner_id", newOwnerID).Error
	})
}

// DeleteRecord drops the whole permission record for a widget. Owner-only,
// verified against the locked row.
func (r *RepositoryImpl) DeleteRecord(ctx context.Context, widgetID, callerID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var widget Widget
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&widget, "id = ?", widgetID).Error; err != nil {
			return err
		}
		if widget.OwnerID != callerID {
			return ErrNotOwner
		}

		if err := tx.Where("widget_id = ?", widgetID).
			Delete(&WidgetPermission{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Widget{}, "id = ?", widgetID).Error
	})
}
