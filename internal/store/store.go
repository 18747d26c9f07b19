package store

import (
	"context"

	"gorm.io/gorm"

	"guild-server/internal/models"
)

// Store bundles one repository per table over a shared handle.
type Store struct {
	db *gorm.DB

	Users                  *Repository[models.User]
	SiteAdmins             *Repository[models.SiteAdmin]
	Servers                *Repository[models.Server]
	UserServers            *Repository[models.UserServer]
	Channels               *Repository[models.Channel]
	Messages               *Repository[models.Message]
	DirectMessages         *Repository[models.DirectMessage]
	ServerInvites          *Repository[models.ServerInvite]
	FriendRequests         *Repository[models.FriendRequest]
	UserFriends            *Repository[models.UserFriend]
	Roles                  *Repository[models.Role]
	RolePermissions        *Repository[models.RolePermissions]
	UserRoles              *Repository[models.UserRole]
	ChannelRolePermissions *Repository[models.ChannelRolePermission]
	UserBans               *Repository[models.UserBan]
	UserTimeouts           *Repository[models.UserTimeout]
	UserReports            *Repository[models.UserReport]
}

func New(db *gorm.DB) *Store {
	return &Store{
		db:                     db,
		Users:                  NewRepository[models.User](db),
		SiteAdmins:             NewRepository[models.SiteAdmin](db),
		Servers:                NewRepository[models.Server](db),
		UserServers:            NewRepository[models.UserServer](db),
		Channels:               NewRepository[models.Channel](db),
		Messages:               NewRepository[models.Message](db),
		DirectMessages:         NewRepository[models.DirectMessage](db),
		ServerInvites:          NewRepository[models.ServerInvite](db),
		FriendRequests:         NewRepository[models.FriendRequest](db),
		UserFriends:            NewRepository[models.UserFriend](db),
		Roles:                  NewRepository[models.Role](db),
		RolePermissions:        NewRepository[models.RolePermissions](db),
		UserRoles:              NewRepository[models.UserRole](db),
		ChannelRolePermissions: NewRepository[models.ChannelRolePermission](db),
		UserBans:               NewRepository[models.UserBan](db),
		UserTimeouts:           NewRepository[models.UserTimeout](db),
		UserReports:            NewRepository[models.UserReport](db),
	}
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Transaction runs fn against a Store bound to a single transaction. The
// transaction commits if fn returns nil and rolls back otherwise. fn must
// only use the Store it is given.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}
