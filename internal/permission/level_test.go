package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelGrants(t *testing.T) {
	cases := []struct {
		level Level
		perm  Permission
		want  bool
	}{
		{LevelViewer, PermRead, true},
		{LevelViewer, PermEdit, false},
		{LevelViewer, PermShare, false},
		{LevelViewer, PermAdmin, false},
		{LevelViewer, PermDelete, false},

		{LevelEditor, PermRead, true},
		{LevelEditor, PermEdit, true},
		{LevelEditor, PermShare, false},

		{LevelCollaborator, PermEdit, true},
		{LevelCollaborator, PermShare, true},
		{LevelCollaborator, PermAdmin, false},
		{LevelCollaborator, PermDelete, false},

		{LevelAdmin, PermRead, true},
		{LevelAdmin, PermEdit, true},
		{LevelAdmin, PermShare, true},
		{LevelAdmin, PermAdmin, true},
		{LevelAdmin, PermDelete, true},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.level.Grants(tc.perm),
			"%s should grant %s = %v", tc.level, tc.perm, tc.want)
	}
}

func TestLevelHierarchy(t *testing.T) {
	// each level's capability set strictly contains the previous one's
	order := []Level{LevelViewer, LevelEditor, LevelCollaborator, LevelAdmin}
	for i := 1; i < len(order); i++ {
		lower := order[i-1]
		higher := order[i]
		for _, p := range lower.Permissions() {
			assert.True(t, higher.Grants(p), "%s should include %s from %s", higher, p, lower)
		}
		assert.Greater(t, len(higher.Permissions()), len(lower.Permissions()))
	}
}

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"VIEWER", "EDITOR", "COLLABORATOR", "ADMIN"} {
		level, ok := ParseLevel(name)
		assert.True(t, ok)
		assert.Equal(t, Level(name), level)
	}

	_, ok := ParseLevel("SUPERUSER")
	assert.False(t, ok)
	_, ok = ParseLevel("editor")
	assert.False(t, ok)
}
