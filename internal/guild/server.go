package guild

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"guild-server/internal/apperr"
	"guild-server/internal/callback"
	"guild-server/internal/channel"
	"guild-server/internal/models"
	"guild-server/internal/permission"
	"guild-server/internal/store"
)

const maxServerName = 100

// ServerService manages servers and their membership.
type ServerService struct {
	store *store.Store
	perms *permission.Engine
	reg   *callback.Registry
}

func NewServerService(s *store.Store, perms *permission.Engine, reg *callback.Registry) *ServerService {
	return &ServerService{store: s, perms: perms, reg: reg}
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Invalid("server name is required")
	}
	if utf8.RuneCountInString(name) > maxServerName {
		return "", apperr.Invalid("server name must be at most %d characters", maxServerName)
	}
	return name, nil
}

func (s *ServerService) GetServer(ctx context.Context, serverID int64) (*models.Server, error) {
	srv, err := s.store.Servers.Get(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("server %d: %w", serverID, err)
	}
	return srv, nil
}

// CreateServer creates a server owned by ownerID with a default channel.
func (s *ServerService) CreateServer(ctx context.Context, ownerID int64, name string) (*models.Server, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	if ok, err := s.store.Users.Exists(ctx, store.Where("id = ?", ownerID)); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperr.NotFound("user")
	}

	srv := &models.Server{Name: name, OwnerID: ownerID}
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.Servers.Create(ctx, srv); err != nil {
			return err
		}
		if err := tx.UserServers.Create(ctx, &models.UserServer{UserID: ownerID, ServerID: srv.ID}); err != nil {
			return err
		}
		return tx.Channels.Create(ctx, &models.Channel{ServerID: srv.ID, Name: "general"})
	})
	if err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}

	slog.Info("server created", "server_id", srv.ID, "owner_id", ownerID)
	s.reg.PublishEntity(ctx, callback.ServerMemberUpdated, srv.ID)
	return srv, nil
}

// RenameServer needs EditServerSettings.
func (s *ServerService) RenameServer(ctx context.Context, actorID, serverID int64, name string) (*models.Server, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	srv, err := s.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if err := s.perms.RequireServer(ctx, actorID, serverID, permission.EditServerSettings); err != nil {
		return nil, err
	}

	srv.Name = name
	if err := s.store.Servers.Update(ctx, srv); err != nil {
		return nil, fmt.Errorf("rename server: %w", err)
	}
	s.reg.PublishEntity(ctx, callback.ServerPropertyUpdated, serverID)
	return srv, nil
}

// DeleteServer removes a server and everything in it. Only the owner or a
// site administrator may do this.
func (s *ServerService) DeleteServer(ctx context.Context, actorID, serverID int64) error {
	srv, err := s.GetServer(ctx, serverID)
	if err != nil {
		return err
	}
	if srv.OwnerID != actorID {
		if err := s.perms.RequireSiteAdmin(ctx, actorID); err != nil {
			return apperr.Forbidden("only the owner can delete a server")
		}
	}

	var channelIDs, memberIDs []int64
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.UserServers.Query(ctx, store.Where("server_id = ?", serverID)).Pluck("user_id", &memberIDs).Error; err != nil {
			return err
		}
		if channelIDs, err = channel.PurgeServerChannels(ctx, tx, serverID); err != nil {
			return err
		}
		byServer := store.Where("server_id = ?", serverID)
		var roleIDs []int64
		if err := tx.Roles.Query(ctx, byServer).Pluck("id", &roleIDs).Error; err != nil {
			return err
		}
		if _, err := tx.RolePermissions.DeleteWhere(ctx, store.Where("role_id IN (?)", roleIDs)); err != nil {
			return err
		}
		if _, err := tx.UserRoles.DeleteWhere(ctx, byServer); err != nil {
			return err
		}
		if _, err := tx.Roles.DeleteWhere(ctx, byServer); err != nil {
			return err
		}
		if _, err := tx.ServerInvites.DeleteWhere(ctx, byServer); err != nil {
			return err
		}
		if _, err := tx.UserTimeouts.DeleteWhere(ctx, byServer); err != nil {
			return err
		}
		if _, err := tx.UserServers.DeleteWhere(ctx, byServer); err != nil {
			return err
		}
		return tx.Servers.Delete(ctx, srv)
	})
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}

	slog.Info("server deleted", "server_id", serverID, "actor_id", actorID, "channels", len(channelIDs))
	for _, id := range channelIDs {
		s.reg.PublishEntity(ctx, callback.ChannelDeleted, id)
	}
	s.reg.PublishEntity(ctx, callback.ServerDeleted, serverID)
	for _, uid := range memberIDs {
		s.reg.PublishEntity(ctx, callback.UserRoleChanged, uid)
	}
	return nil
}

// Members returns the users of serverID ordered by username.
func (s *ServerService) Members(ctx context.Context, serverID int64) ([]models.User, error) {
	return s.store.Users.Find(ctx,
		func(db *store.DB) *store.DB {
			return db.Joins("JOIN user_servers ON user_servers.user_id = users.id").
				Where("user_servers.server_id = ?", serverID)
		},
		store.OrderBy("users.username"))
}

func (s *ServerService) Channels(ctx context.Context, serverID int64) ([]models.Channel, error) {
	return s.store.Channels.Find(ctx, store.Where("server_id = ?", serverID), store.OrderBy("id"))
}

// UserServers returns the servers userID belongs to.
func (s *ServerService) UserServers(ctx context.Context, userID int64) ([]models.Server, error) {
	return s.store.Servers.Find(ctx,
		func(db *store.DB) *store.DB {
			return db.Joins("JOIN user_servers ON user_servers.server_id = servers.id").
				Where("user_servers.user_id = ?", userID)
		},
		store.OrderBy("servers.name"))
}

func (s *ServerService) IsMember(ctx context.Context, userID, serverID int64) (bool, error) {
	return s.store.UserServers.Exists(ctx, store.Where("user_id = ? AND server_id = ?", userID, serverID))
}

// RequireMember returns apperr.ErrForbidden unless userID belongs to serverID
// or is a site administrator.
func (s *ServerService) RequireMember(ctx context.Context, userID, serverID int64) error {
	ok, err := s.IsMember(ctx, userID, serverID)
	if err != nil || ok {
		return err
	}
	if admin, err := s.perms.IsSiteAdmin(ctx, userID); err != nil || admin {
		return err
	}
	return apperr.Forbidden("not a member of this server")
}

// RemoveMember kicks userID out of serverID. actorID needs BanUser; the
// owner cannot be removed.
func (s *ServerService) RemoveMember(ctx context.Context, actorID, userID, serverID int64) error {
	if actorID == userID {
		return apperr.Invalid("use leave to remove yourself")
	}
	srv, err := s.GetServer(ctx, serverID)
	if err != nil {
		return err
	}
	if err := s.perms.RequireServer(ctx, actorID, serverID, permission.BanUser); err != nil {
		return err
	}
	if srv.OwnerID == userID {
		return apperr.Forbidden("the server owner cannot be removed")
	}
	if err := s.dropMember(ctx, userID, serverID); err != nil {
		return err
	}
	slog.Info("member removed", "server_id", serverID, "user_id", userID, "actor_id", actorID)
	return nil
}

// LeaveServer removes userID's membership and roles. The owner cannot leave.
func (s *ServerService) LeaveServer(ctx context.Context, userID, serverID int64) error {
	srv, err := s.GetServer(ctx, serverID)
	if err != nil {
		return err
	}
	if srv.OwnerID == userID {
		return apperr.Invalid("the owner cannot leave their own server")
	}

	if err := s.dropMember(ctx, userID, serverID); err != nil {
		return err
	}
	slog.Info("member left", "server_id", serverID, "user_id", userID)
	return nil
}

func (s *ServerService) dropMember(ctx context.Context, userID, serverID int64) error {
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		n, err := tx.UserServers.DeleteWhere(ctx, store.Where("user_id = ? AND server_id = ?", userID, serverID))
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound("membership")
		}
		_, err = tx.UserRoles.DeleteWhere(ctx, store.Where("user_id = ? AND server_id = ?", userID, serverID))
		return err
	})
	if err != nil {
		return err
	}
	s.reg.PublishEntity(ctx, callback.ServerMemberUpdated, serverID)
	s.reg.PublishEntity(ctx, callback.UserRoleChanged, userID)
	s.reg.Publish(ctx, callback.UserRoleChanged, callback.DeriveUserRoleChangedID(userID, serverID))
	return nil
}
