package permission

import (
	"context"
	"testing"
	"time"
	apiError "widget-sync-engine/internal/errors"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

// in-memory repository with the same semantics the postgres one provides
type fakeRepo struct {
	widgets map[string]*Widget
	perms   map[string]map[string]*WidgetPermission
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		widgets: make(map[string]*Widget),
		perms:   make(map[string]map[string]*WidgetPermission),
	}
}

func (f *fakeRepo) CreateRecord(_ context.Context, widgetID, ownerID string) error {
	if _, exists := f.widgets[widgetID]; exists {
		return gorm.ErrDuplicatedKey
	}
	now := time.Now().UTC()
	f.widgets[widgetID] = &Widget{ID: widgetID, OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
	f.perms[widgetID] = map[string]*WidgetPermission{
		ownerID: {WidgetID: widgetID, UserID: ownerID, Level: LevelAdmin, IsOwner: true, GrantedBy: ownerID, GrantedAt: now},
	}
	return nil
}

func (f *fakeRepo) GetWidget(_ context.Context, widgetID string) (*Widget, error) {
	w, ok := f.widgets[widgetID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return w, nil
}

func (f *fakeRepo) GetPermission(_ context.Context, widgetID, userID string) (*WidgetPermission, error) {
	p, ok := f.perms[widgetID][userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return p, nil
}

func (f *fakeRepo) ListByWidget(_ context.Context, widgetID string) ([]WidgetPermission, error) {
	out := make([]WidgetPermission, 0, len(f.perms[widgetID]))
	for _, p := range f.perms[widgetID] {
		out = append(out, *p)
	}
	return out, nil
}

// checkAdmin mirrors the precondition the postgres repository verifies
// inside its locked transaction.
func (f *fakeRepo) checkAdmin(widgetID, callerID string) error {
	p, ok := f.perms[widgetID][callerID]
	if !ok || !p.Level.Grants(PermAdmin) {
		return ErrNotAdmin
	}
	return nil
}

func (f *fakeRepo) Upsert(_ context.Context, widgetID, callerID, targetUserID string, level Level) error {
	if _, ok := f.widgets[widgetID]; !ok {
		return gorm.ErrRecordNotFound
	}
	if err := f.checkAdmin(widgetID, callerID); err != nil {
		return err
	}
	if p, ok := f.perms[widgetID][targetUserID]; ok && p.IsOwner {
		return ErrOwnerImmutable
	}
	f.perms[widgetID][targetUserID] = &WidgetPermission{
		WidgetID: widgetID, UserID: targetUserID, Level: level,
		GrantedBy: callerID, GrantedAt: time.Now().UTC(),
	}
	return nil
}

func (f *fakeRepo) Remove(_ context.Context, widgetID, callerID, targetUserID string) error {
	if _, ok := f.widgets[widgetID]; !ok {
		return gorm.ErrRecordNotFound
	}
	if err := f.checkAdmin(widgetID, callerID); err != nil {
		return err
	}
	p, ok := f.perms[widgetID][targetUserID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if p.IsOwner {
		return ErrOwnerImmutable
	}
	delete(f.perms[widgetID], targetUserID)
	return nil
}

func (f *fakeRepo) UpdateLevel(_ context.Context, widgetID, callerID, targetUserID string, level Level) error {
	if _, ok := f.widgets[widgetID]; !ok {
		return gorm.ErrRecordNotFound
	}
	if err := f.checkAdmin(widgetID, callerID); err != nil {
		return err
	}
	p, ok := f.perms[widgetID][targetUserID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if p.IsOwner {
		return ErrOwnerImmutable
	}
	p.Level = level
	return nil
}

func (f *fakeRepo) TransferOwnership(_ context.Context, widgetID, currentOwnerID, newOwnerID string) error {
	w, ok := f.widgets[widgetID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if w.OwnerID != currentOwnerID {
		return ErrNotOwner
	}
	if prev, ok := f.perms[widgetID][currentOwnerID]; ok {
		prev.IsOwner = false
		prev.Level = LevelAdmin
	}
	target, ok := f.perms[widgetID][newOwnerID]
	if !ok {
		target = &WidgetPermission{
			WidgetID: widgetID, UserID: newOwnerID,
			GrantedBy: currentOwnerID, GrantedAt: time.Now().UTC(),
		}
		f.perms[widgetID][newOwnerID] = target
	}
	target.IsOwner = true
	target.Level = LevelAdmin
	w.OwnerID = newOwnerID
	return nil
}

func (f *fakeRepo) DeleteRecord(_ context.Context, widgetID, callerID string) error {
	w, ok := f.widgets[widgetID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if w.OwnerID != callerID {
		return ErrNotOwner
	}
	delete(f.widgets, widgetID)
	delete(f.perms, widgetID)
	return nil
}

func newTestService(t *testing.T) (Service, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	return NewService(repo), repo
}

func TestCreatePermissionsSeedsOwnerAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	record, err := svc.CreatePermissions(ctx, "W1", "U1")
	assert.NoError(t, err)
	assert.Equal(t, "U1", record.OwnerID)
	assert.True(t, record.Users["U1"].IsOwner)
	assert.Equal(t, LevelAdmin, record.Users["U1"].Level)

	// the owner holds every permission in ADMIN's set
	for _, p := range LevelAdmin.Permissions() {
		ok, err := svc.HasPermission(ctx, "W1", "U1", p)
		assert.NoError(t, err)
		assert.True(t, ok, "owner should hold %s", p)
	}
}

func TestCreatePermissionsTwiceFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePermissions(ctx, "W1", "U1")
	assert.NoError(t, err)

	_, err = svc.CreatePermissions(ctx, "W1", "U1")
	assert.True(t, apiError.IsKind(err, apiError.KindAlreadyExists))
}

func TestHasPermissionFailClosed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// unknown widget
	ok, err := svc.HasPermission(ctx, "missing", "U1", PermRead)
	assert.NoError(t, err)
	assert.False(t, ok)

	// known widget, unknown user
	_, err = svc.CreatePermissions(ctx, "W1", "U1")
	assert.NoError(t, err)
	for _, p := range []Permission{PermRead, PermEdit, PermShare, PermAdmin, PermDelete} {
		ok, err := svc.HasPermission(ctx, "W1", "stranger", p)
		assert.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestGrantRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePermissions(ctx, "W1", "U1")
	assert.NoError(t, err)

	assert.NoError(t, svc.Grant(ctx, "W1", "U1", "U2", "EDITOR"))

	// U2 is EDITOR, not ADMIN
	err = svc.Grant(ctx, "W1", "U2", "U4", "ADMIN")
	assert.True(t, apiError.IsKind(err, apiError.KindForbidden))
}

func TestGrantUnknownLevel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePermissions(ctx, "W1", "U1")
	assert.NoError(t, err)

	err = svc.Grant(ctx, "W1", "U1", "U2", "SUPERUSER")
	assert.True(t, apiError.IsKind(err, apiError.KindInvalidArgument))
}

func TestOwnerPermissionsImmutable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePermissions(ctx, "W1", "U1")
	assert.NoError(t, err)
	assert.NoError(t, svc.Grant(ctx, "W1", "U1", "U2", "ADMIN"))

	// even another admin can't touch the owner's grant
	err = svc.Revoke(ctx, "W1", "U2", "U1")
	assert.True(t, apiError.IsKind(err, apiError.KindForbidden))

	err = svc.UpdateLevel(ctx, "W1", "U2", "U1", "VIEWER")
	assert.True(t, apiError.IsKind(err, apiError.KindForbidden))
}

func TestTransferOwnershipKeepsOneOwner(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePermissions(ctx, "W1", "U1")
	assert.NoError(t, err)
	assert.NoError(t, svc.Grant(ctx, "W1", "U1", "U2", "VIEWER"))

	assert.NoError(t, svc.TransferOwnership(ctx, "W1", "U1", "U2"))
	assert.NoError(t, svc.TransferOwnership(ctx, "W1", "U2", "U3"))

	owners := 0
	perms, _ := repo.ListByWidget(ctx, "W1")
	for _, p := range perms {
		if p.IsOwner {
			owners++
			assert.Equal(t, "U3", p.UserID)
		}
	}
	assert.Equal(t, 1, owners)

	// demoted owners keep ADMIN but lose the transfer right
	err = svc.TransferOwnership(ctx, "W1", "U1", "U2")
	assert.True(t, apiError.IsKind(err, apiError.KindForbidden))

	ok, err := svc.HasPermission(ctx, "W1", "U1", PermAdmin)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestTransferOwnershipStaleOwnerCannotPromote(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePermissions(ctx, "W1", "U1")
	assert.NoError(t, err)
	assert.NoError(t, svc.TransferOwnership(ctx, "W1", "U1", "U2"))

	// U1 still believes it owns the widget; the transfer must fail against
	// current ownership, not a view read before the first transfer landed
	err = svc.TransferOwnership(ctx, "W1", "U1", "U3")
	assert.True(t, apiError.IsKind(err, apiError.KindForbidden))

	owners := 0
	perms, _ := repo.ListByWidget(ctx, "W1")
	for _, p := range perms {
		if p.IsOwner {
			owners++
			assert.Equal(t, "U2", p.UserID)
		}
	}
	assert.Equal(t, 1, owners)

	// the rejected transfer must not have granted U3 anything
	_, err = repo.GetPermission(ctx, "W1", "U3")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGrantAfterAdminRevoked(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePermissions(ctx, "W1", "U1")
	assert.NoError(t, err)
	assert.NoError(t, svc.Grant(ctx, "W1", "U1", "U2", "ADMIN"))
	assert.NoError(t, svc.Revoke(ctx, "W1", "U1", "U2"))

	// the admin check runs against the store's current state, so a grant
	// by the just-revoked admin is rejected
	err = svc.Grant(ctx, "W1", "U2", "U4", "EDITOR")
	assert.True(t, apiError.IsKind(err, apiError.KindForbidden))

	_, err = repo.GetPermission(ctx, "W1", "U4")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestHasAll(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePermissions(ctx, "W1", "U1")
	assert.NoError(t, err)
	assert.NoError(t, svc.Grant(ctx, "W1", "U1", "U2", "COLLABORATOR"))

	ok, err := svc.HasAll(ctx, "W1", "U2", []Permission{PermRead, PermEdit, PermShare})
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.HasAll(ctx, "W1", "U2", []Permission{PermRead, PermAdmin})
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.HasAll(ctx, "W1", "U2", nil)
	assert.True(t, apiError.IsKind(err, apiError.KindInvalidArgument))
}

func TestRevokeUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePermissions(ctx, "W1", "U1")
	assert.NoError(t, err)

	err = svc.Revoke(ctx, "W1", "U1", "ghost")
	assert.True(t, apiError.IsKind(err, apiError.KindNotFound))
}

func TestDeletePermissionsOwnerOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePermissions(ctx, "W1", "U1")
	assert.NoError(t, err)
	assert.NoError(t, svc.Grant(ctx, "W1", "U1", "U2", "ADMIN"))

	err = svc.DeletePermissions(ctx, "W1", "U2")
	assert.True(t, apiError.IsKind(err, apiError.KindForbidden))

	assert.NoError(t, svc.DeletePermissions(ctx, "W1", "U1"))

	ok, err := svc.HasPermission(ctx, "W1", "U1", PermRead)
	assert.NoError(t, err)
	assert.False(t, ok)
}
