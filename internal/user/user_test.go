package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"guild-server/internal/apperr"
	"guild-server/internal/callback"
	"guild-server/internal/permission"
	"guild-server/internal/testutil"
)

func newUsers(t *testing.T) (*Service, *testutil.Seed) {
	t.Helper()
	seed := testutil.NewSeed(t)
	svc := NewService(seed.Store, permission.NewEngine(seed.Store))
	svc.cost = bcrypt.MinCost
	return svc, seed
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	svc, _ := newUsers(t)
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, Registration{Username: "alice.b", Email: " Alice@Example.com ", Password: "Secr3t!pw"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.NotEqual(t, "Secr3t!pw", u.PasswordHash)

	got, err := svc.Authenticate(ctx, "alice.b", "Secr3t!pw")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = svc.Authenticate(ctx, "alice.b", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody", "Secr3t!pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateUserValidation(t *testing.T) {
	svc, _ := newUsers(t)
	ctx := context.Background()

	cases := map[string]Registration{
		"short username": {Username: "al", Email: "a@example.com", Password: "Secr3t!pw"},
		"bad characters": {Username: "al ice", Email: "a@example.com", Password: "Secr3t!pw"},
		"bad email":      {Username: "alice", Email: "not-an-email", Password: "Secr3t!pw"},
		"weak password":  {Username: "alice", Email: "a@example.com", Password: "password"},
		"short password": {Username: "alice", Email: "a@example.com", Password: "S3t!"},
	}
	for name, reg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateUser(ctx, reg)
			assert.True(t, apperr.IsValidation(err), "got %v", err)
		})
	}
}

func TestCreateUserDuplicates(t *testing.T) {
	svc, _ := newUsers(t)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, Registration{Username: "alice", Email: "a@example.com", Password: "Secr3t!pw"})
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, Registration{Username: "alice", Email: "b@example.com", Password: "Secr3t!pw"})
	assert.True(t, apperr.IsConflict(err))
	_, err = svc.CreateUser(ctx, Registration{Username: "bob", Email: "A@example.com", Password: "Secr3t!pw"})
	assert.True(t, apperr.IsConflict(err))
}

func TestListUsersPaging(t *testing.T) {
	svc, seed := newUsers(t)
	ctx := context.Background()
	for _, name := range []string{"a1", "a2", "a3"} {
		seed.User(name)
	}

	n, err := svc.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	page, err := svc.ListUsers(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a3", page[0].Username)
}

func TestListServersRequiresSiteAdmin(t *testing.T) {
	svc, seed := newUsers(t)
	ctx := context.Background()
	owner := seed.User("owner")
	admin := seed.SiteAdmin("admin")
	seed.Server("one", owner)
	seed.Server("two", owner)

	_, err := svc.ListServers(ctx, owner, 1, 10)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	all, err := svc.ListServers(ctx, admin, 1, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSetSiteAdmin(t *testing.T) {
	svc, seed := newUsers(t)
	ctx := context.Background()
	admin := seed.SiteAdmin("admin")
	bob := seed.User("bob")

	assert.ErrorIs(t, svc.SetSiteAdmin(ctx, bob, bob, true), apperr.ErrForbidden)
	require.NoError(t, svc.SetSiteAdmin(ctx, admin, bob, true))
	require.NoError(t, svc.SetSiteAdmin(ctx, admin, bob, true))
	assert.True(t, apperr.IsValidation(svc.SetSiteAdmin(ctx, admin, admin, false)))
	require.NoError(t, svc.SetSiteAdmin(ctx, admin, bob, false))

	n, err := seed.Store.SiteAdmins.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func newFriends(t *testing.T, policy FriendRequestPolicy) (*FriendService, *testutil.Seed, *callback.Registry) {
	t.Helper()
	seed := testutil.NewSeed(t)
	reg := callback.NewRegistry()
	return NewFriendService(seed.Store, reg, policy), seed, reg
}

func TestFriendRequestAccept(t *testing.T) {
	svc, seed, reg := newFriends(t, AutoAccept)
	ctx := context.Background()
	alice, bob := seed.User("alice"), seed.User("bob")

	inbox := testutil.WatchEntity(t, reg, callback.FriendRequest, bob)
	req, accepted, err := svc.SendFriendRequest(ctx, alice, "bob")
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, int32(1), inbox.Load())

	_, _, err = svc.SendFriendRequestTo(ctx, alice, bob)
	assert.True(t, apperr.IsConflict(err))

	n, err := svc.IncomingRequestCount(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.ErrorIs(t, svc.AcceptFriendRequest(ctx, alice, req.ID), apperr.ErrNotFound)

	aliceList := testutil.WatchEntity(t, reg, callback.FriendsListUpdated, alice)
	bobList := testutil.WatchEntity(t, reg, callback.FriendsListUpdated, bob)
	require.NoError(t, svc.AcceptFriendRequest(ctx, bob, req.ID))
	assert.Equal(t, int32(1), aliceList.Load())
	assert.Equal(t, int32(1), bobList.Load())

	ok, err := svc.AreFriends(ctx, bob, alice)
	require.NoError(t, err)
	assert.True(t, ok)

	friends, err := svc.Friends(ctx, bob)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, "alice", friends[0].Username)

	_, _, err = svc.SendFriendRequestTo(ctx, bob, alice)
	assert.True(t, apperr.IsConflict(err))
}

func TestFriendRequestReciprocalAutoAccept(t *testing.T) {
	svc, seed, _ := newFriends(t, AutoAccept)
	ctx := context.Background()
	alice, bob := seed.User("alice"), seed.User("bob")

	_, _, err := svc.SendFriendRequestTo(ctx, alice, bob)
	require.NoError(t, err)
	_, accepted, err := svc.SendFriendRequestTo(ctx, bob, alice)
	require.NoError(t, err)
	assert.True(t, accepted)

	ok, err := svc.AreFriends(ctx, alice, bob)
	require.NoError(t, err)
	assert.True(t, ok)
	pending, err := svc.IncomingRequests(ctx, bob)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFriendRequestRejectDuplicatePolicy(t *testing.T) {
	svc, seed, _ := newFriends(t, RejectDuplicate)
	ctx := context.Background()
	alice, bob := seed.User("alice"), seed.User("bob")

	_, _, err := svc.SendFriendRequestTo(ctx, alice, bob)
	require.NoError(t, err)
	_, _, err = svc.SendFriendRequestTo(ctx, bob, alice)
	assert.True(t, apperr.IsConflict(err))
}

func TestFriendRequestRules(t *testing.T) {
	svc, seed, _ := newFriends(t, AutoAccept)
	ctx := context.Background()
	alice, bob, carol := seed.User("alice"), seed.User("bob"), seed.User("carol")

	_, _, err := svc.SendFriendRequestTo(ctx, alice, alice)
	assert.True(t, apperr.IsValidation(err))
	_, _, err = svc.SendFriendRequestTo(ctx, alice, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, _, err = svc.SendFriendRequest(ctx, alice, "nobody")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	req, _, err := svc.SendFriendRequestTo(ctx, alice, bob)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.RejectFriendRequest(ctx, carol, req.ID), apperr.ErrNotFound)
	require.NoError(t, svc.RejectFriendRequest(ctx, bob, req.ID))
	assert.ErrorIs(t, svc.RejectFriendRequest(ctx, bob, req.ID), apperr.ErrNotFound)
}

func TestRemoveFriend(t *testing.T) {
	svc, seed, _ := newFriends(t, AutoAccept)
	ctx := context.Background()
	alice, bob := seed.User("alice"), seed.User("bob")

	assert.ErrorIs(t, svc.RemoveFriend(ctx, alice, bob), apperr.ErrNotFound)
	req, _, err := svc.SendFriendRequestTo(ctx, alice, bob)
	require.NoError(t, err)
	require.NoError(t, svc.AcceptFriendRequest(ctx, bob, req.ID))

	require.NoError(t, svc.RemoveFriend(ctx, bob, alice))
	ok, err := svc.AreFriends(ctx, alice, bob)
	require.NoError(t, err)
	assert.False(t, ok)
}
