package role

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guild-server/internal/apperr"
	"guild-server/internal/callback"
	"guild-server/internal/models"
	"guild-server/internal/testutil"
)

func (e *env) makeRoles(t *testing.T, n int) []int64 {
	t.Helper()
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = e.seed.Role(e.server, fmt.Sprintf("r%d", i), models.RolePermissions{})
	}
	return ids
}

func TestAssignRoleLimit(t *testing.T) {
	e := newEnv(t)
	ids := e.makeRoles(t, 17)

	for _, id := range ids[:16] {
		require.NoError(t, e.users.AssignRole(e.ctx, e.owner, e.member, id))
	}
	err := e.users.AssignRole(e.ctx, e.owner, e.member, ids[16])
	assert.True(t, apperr.IsValidation(err))

	n, err := e.users.UserRoleCount(e.ctx, e.member, e.server)
	require.NoError(t, err)
	assert.Equal(t, int64(16), n)

	held, err := e.users.UserHasRole(e.ctx, e.member, ids[16])
	require.NoError(t, err)
	assert.False(t, held)
}

func TestAssignRoleRules(t *testing.T) {
	e := newEnv(t)
	id := e.makeRoles(t, 1)[0]

	assert.ErrorIs(t, e.users.AssignRole(e.ctx, e.member, e.member, id), apperr.ErrForbidden)
	assert.True(t, apperr.IsValidation(e.users.AssignRole(e.ctx, e.owner, e.outsider, id)))
	assert.ErrorIs(t, e.users.AssignRole(e.ctx, e.owner, e.member, 4242), apperr.ErrNotFound)

	require.NoError(t, e.users.AssignRole(e.ctx, e.owner, e.member, id))
	assert.True(t, apperr.IsConflict(e.users.AssignRole(e.ctx, e.owner, e.member, id)))
}

func TestAssignRoleNotifies(t *testing.T) {
	e := newEnv(t)
	id := e.makeRoles(t, 1)[0]

	user := testutil.WatchEntity(t, e.reg, callback.UserRoleChanged, e.member)
	scoped := testutil.Watch(t, e.reg, callback.UserRoleChanged, callback.DeriveUserRoleChangedID(e.member, e.server))
	members := testutil.WatchEntity(t, e.reg, callback.ServerMemberUpdated, e.server)
	roles := testutil.WatchEntity(t, e.reg, callback.RolesUpdated, e.server)

	require.NoError(t, e.users.AssignRole(e.ctx, e.owner, e.member, id))
	require.NoError(t, e.users.RemoveRole(e.ctx, e.owner, e.member, id))
	require.NoError(t, e.users.SetUserRoles(e.ctx, e.owner, e.member, e.server, []int64{id}))

	assert.Equal(t, int32(3), user.Load())
	assert.Equal(t, int32(3), scoped.Load())
	assert.Equal(t, int32(3), members.Load())
	assert.Equal(t, int32(3), roles.Load())

	assert.ErrorIs(t, e.users.RemoveRole(e.ctx, e.owner, e.member, id), apperr.ErrNotFound)
}

func TestSetUserRoles(t *testing.T) {
	e := newEnv(t)
	ids := e.makeRoles(t, 3)
	require.NoError(t, e.users.AssignRole(e.ctx, e.owner, e.member, ids[0]))

	require.NoError(t, e.users.SetUserRoles(e.ctx, e.owner, e.member, e.server, []int64{ids[1], ids[2], ids[2]}))
	roles, err := e.users.UserRoles(e.ctx, e.member, e.server)
	require.NoError(t, err)
	got := []int64{roles[0].ID, roles[1].ID}
	assert.ElementsMatch(t, ids[1:], got)

	otherServer := e.seed.Server("other", e.owner)
	foreign := e.seed.Role(otherServer, "foreign", models.RolePermissions{})
	err = e.users.SetUserRoles(e.ctx, e.owner, e.member, e.server, []int64{ids[0], foreign})
	assert.True(t, apperr.IsValidation(err))

	// failed replace leaves the old set intact
	n, err := e.users.UserRoleCount(e.ctx, e.member, e.server)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, e.users.SetUserRoles(e.ctx, e.owner, e.member, e.server, nil))
	n, err = e.users.UserRoleCount(e.ctx, e.member, e.server)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSetUserRolesLimit(t *testing.T) {
	e := newEnv(t)
	ids := e.makeRoles(t, 17)
	err := e.users.SetUserRoles(e.ctx, e.owner, e.member, e.server, ids)
	assert.True(t, apperr.IsValidation(err))
}
