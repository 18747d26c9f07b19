package testutil

import (
	"context"
	"fmt"
	"testing"

	"guild-server/internal/models"
	"guild-server/internal/store"
)

// Seed inserts rows directly, bypassing the services and their checks.
type Seed struct {
	t     testing.TB
	ctx   context.Context
	Store *store.Store
}

func NewSeed(t testing.TB) *Seed {
	return &Seed{t: t, ctx: context.Background(), Store: store.New(OpenDB(t))}
}

func (s *Seed) must(err error) {
	s.t.Helper()
	if err != nil {
		s.t.Fatalf("seed: %v", err)
	}
}

func (s *Seed) User(name string) int64 {
	s.t.Helper()
	u := &models.User{Username: name, Email: fmt.Sprintf("%s@example.com", name), PasswordHash: "x"}
	s.must(s.Store.Users.Create(s.ctx, u))
	return u.ID
}

func (s *Seed) SiteAdmin(name string) int64 {
	s.t.Helper()
	id := s.User(name)
	s.must(s.Store.SiteAdmins.Create(s.ctx, &models.SiteAdmin{UserID: id}))
	return id
}

// Server creates a server owned by ownerID, with the owner as a member.
func (s *Seed) Server(name string, ownerID int64) int64 {
	s.t.Helper()
	srv := &models.Server{Name: name, OwnerID: ownerID}
	s.must(s.Store.Servers.Create(s.ctx, srv))
	s.Member(ownerID, srv.ID)
	return srv.ID
}

func (s *Seed) Member(userID, serverID int64) {
	s.t.Helper()
	s.must(s.Store.UserServers.Create(s.ctx, &models.UserServer{UserID: userID, ServerID: serverID}))
}

func (s *Seed) Channel(serverID int64, name string) int64 {
	s.t.Helper()
	ch := &models.Channel{ServerID: serverID, Name: name}
	s.must(s.Store.Channels.Create(s.ctx, ch))
	return ch.ID
}

// Role creates a role in serverID granting the named fields of p.
func (s *Seed) Role(serverID int64, name string, p models.RolePermissions) int64 {
	s.t.Helper()
	r := &models.Role{ServerID: serverID, Name: name}
	s.must(s.Store.Roles.Create(s.ctx, r))
	p.RoleID = r.ID
	s.must(s.Store.RolePermissions.Create(s.ctx, &p))
	return r.ID
}

func (s *Seed) Assign(userID, roleID int64) {
	s.t.Helper()
	r, err := s.Store.Roles.Get(s.ctx, roleID)
	s.must(err)
	s.must(s.Store.UserRoles.Create(s.ctx, &models.UserRole{UserID: userID, RoleID: roleID, ServerID: r.ServerID}))
}

func (s *Seed) Override(channelID, roleID int64, o models.ChannelRolePermission) {
	s.t.Helper()
	o.ChannelID, o.RoleID = channelID, roleID
	s.must(s.Store.ChannelRolePermissions.Create(s.ctx, &o))
}
