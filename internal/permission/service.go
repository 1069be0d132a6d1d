package permission

import (
	"context"
	defError "errors"
	"time"
	"widget-sync-engine/internal/errors"

	"gorm.io/gorm"
)

// PermissionRecord is the assembled authorization state of one widget.
type PermissionRecord struct {
	WidgetID string               `json:"widget_id"`
	OwnerID  string               `json:"owner_id"`
	Users    map[string]UserGrant `json:"users"`
}

type UserGrant struct {
	Level       Level        `json:"level"`
	Permissions []Permission `json:"permissions"`
	IsOwner     bool         `json:"is_owner"`
	GrantedBy   string       `json:"granted_by"`
	GrantedAt   time.Time    `json:"granted_at"`
}

type CollaboratorDTO struct {
	UserID    string    `json:"user_id"`
	Level     Level     `json:"level"`
	IsOwner   bool      `json:"is_owner"`
	GrantedBy string    `json:"granted_by"`
	GrantedAt time.Time `json:"granted_at"`
}

type Service interface {
	CreatePermissions(ctx context.Context, widgetID, ownerID string) (*PermissionRecord, error)
	Grant(ctx context.Context, widgetID, callerID, targetUserID, level string) error
	Revoke(ctx context.Context, widgetID, callerID, targetUserID string) error
	UpdateLevel(ctx context.Context, widgetID, callerID, targetUserID, newLevel string) error
	TransferOwnership(ctx context.Context, widgetID, currentOwnerID, newOwnerID string) error
	HasPermission(ctx context.Context, widgetID, userID string, perm Permission) (bool, error)
	HasAll(ctx context.Context, widgetID, userID string, perms []Permission) (bool, error)
	ListCollaborators(ctx context.Context, widgetID string) ([]CollaboratorDTO, error)
	DeletePermissions(ctx context.Context, widgetID, callerID string) error
}

type DefaultService struct {
	repository Repository
}

func NewService(repository Repository) Service {
	return &DefaultService{repository: repository}
}

func (s *DefaultService) CreatePermissions(ctx context.Context, widgetID, ownerID string) (*PermissionRecord, error) {
	if widgetID == "" || ownerID == "" {
		return nil, errors.InvalidArgument("Widget id and owner id are required", nil)
	}

	if err := s.repository.CreateRecord(ctx, widgetID, ownerID); err != nil {
		if defError.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errors.AlreadyExists("Permissions already created for widget", err)
		}
		return nil, err
	}

	return s.assembleRecord(ctx, widgetID)
}

func (s *DefaultService) Grant(ctx context.Context, widgetID, callerID, targetUserID, level string) error {
	parsed, ok := ParseLevel(level)
	if !ok {
		return errors.InvalidArgument("Unknown permission level: "+level, nil)
	}
	return s.mapStoreError(s.repository.Upsert(ctx, widgetID, callerID, targetUserID, parsed))
}

func (s *DefaultService) Revoke(ctx context.Context, widgetID, callerID, targetUserID string) error {
	return s.mapStoreError(s.repository.Remove(ctx, widgetID, callerID, targetUserID))
}

func (s *DefaultService) UpdateLevel(ctx context.Context, widgetID, callerID, targetUserID, newLevel string) error {
	parsed, ok := ParseLevel(newLevel)
	if !ok {
		return errors.InvalidArgument("Unknown permission level: "+newLevel, nil)
	}
	return s.mapStoreError(s.repository.UpdateLevel(ctx, widgetID, callerID, targetUserID, parsed))
}

func (s *DefaultService) TransferOwnership(ctx context.Context, widgetID, currentOwnerID, newOwnerID string) error {
	if currentOwnerID == newOwnerID {
		return errors.InvalidArgument("Can't transfer ownership to yourself", nil)
	}
	return s.mapStoreError(s.repository.TransferOwnership(ctx, widgetID, currentOwnerID, newOwnerID))
}

// HasPermission is a pure lookup, fail-closed: unknown widgets and unknown
// users read as false, never as an error.
func (s *DefaultService) HasPermission(ctx context.Context, widgetID, userID string, perm Permission) (bool, error) {
	grant, err := s.repository.GetPermission(ctx, widgetID, userID)
	if defError.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return grant.Level.Grants(perm), nil
}

func (s *DefaultService) HasAll(ctx context.Context, widgetID, userID string, perms []Permission) (bool, error) {
	if len(perms) == 0 {
		return false, errors.InvalidArgument("Empty permission list", nil)
	}
	grant, err := s.repository.GetPermission(ctx, widgetID, userID)
	if defError.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if !grant.Level.Grants(p) {
			return false, nil
		}
	}
	return true, nil
}

func (s *DefaultService) ListCollaborators(ctx context.Context, widgetID string) ([]CollaboratorDTO, error) {
	perms, err := s.repository.ListByWidget(ctx, widgetID)
	if err != nil {
		return nil, err
	}
	if len(perms) == 0 {
		return nil, errors.NotFound("Widget not found", nil)
	}

	result := make([]CollaboratorDTO, 0, len(perms))
	for _, p := range perms {
		result = append(result, CollaboratorDTO{
			UserID:    p.UserID,
			Level:     p.Level,
			IsOwner:   p.IsOwner,
			GrantedBy: p.GrantedBy,
			GrantedAt: p.GrantedAt,
		})
	}
	return result, nil
}

func (s *DefaultService) DeletePermissions(ctx context.Context, widgetID, callerID string) error {
	return s.mapStoreError(s.repository.DeleteRecord(ctx, widgetID, callerID))
}

func (s *DefaultService) assembleRecord(ctx context.Context, widgetID string) (*PermissionRecord, error) {
	widget, err := s.repository.GetWidget(ctx, widgetID)
	if err != nil {
		return nil, err
	}
	perms, err := s.repository.ListByWidget(ctx, widgetID)
	if err != nil {
		return nil, err
	}

	record := &PermissionRecord{
		WidgetID: widget.ID,
		OwnerID:  widget.OwnerID,
		Users:    make(map[string]UserGrant, len(perms)),
	}
	for _, p := range perms {
		record.Users[p.UserID] = UserGrant{
			Level:       p.Level,
			Permissions: p.Level.Permissions(),
			IsOwner:     p.IsOwner,
			GrantedBy:   p.GrantedBy,
			GrantedAt:   p.GrantedAt,
		}
	}
	return record, nil
}

// mapStoreError translates the repository's precondition sentinels, raised
// inside the locked critical section, into API error kinds.
func (s *DefaultService) mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case defError.Is(err, ErrNotAdmin):
		return errors.Forbidden("Admin permission required", err)
	case defError.Is(err, ErrOwnerImmutable):
		return errors.Forbidden("Owner permissions can't be modified", err)
	case defError.Is(err, ErrNotOwner):
		return errors.Forbidden("Only the widget owner can do that", err)
	case defError.Is(err, gorm.ErrRecordNotFound):
		return errors.NotFound("Widget or permission not found", err)
	}
	return err
}
