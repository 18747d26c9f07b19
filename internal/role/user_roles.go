package role

import (
	"context"
	"fmt"
	"log/slog"

	"guild-server/internal/apperr"
	"guild-server/internal/callback"
	"guild-server/internal/models"
	"guild-server/internal/permission"
	"guild-server/internal/store"
)

// UserRoleService assigns roles to server members.
type UserRoleService struct {
	store    *store.Store
	perms    *permission.Engine
	reg      *callback.Registry
	maxRoles int
}

func NewUserRoleService(s *store.Store, perms *permission.Engine, reg *callback.Registry, maxRoles int) *UserRoleService {
	return &UserRoleService{store: s, perms: perms, reg: reg, maxRoles: maxRoles}
}

// UserRoles returns the roles userID holds in serverID, highest first.
func (s *UserRoleService) UserRoles(ctx context.Context, userID, serverID int64) ([]models.Role, error) {
	return s.perms.GetUserRolesInServer(ctx, userID, serverID)
}

func (s *UserRoleService) UserRoleCount(ctx context.Context, userID, serverID int64) (int64, error) {
	return s.store.UserRoles.Count(ctx, store.Where("user_id = ? AND server_id = ?", userID, serverID))
}

func (s *UserRoleService) UserHasRole(ctx context.Context, userID, roleID int64) (bool, error) {
	return s.store.UserRoles.Exists(ctx, store.Where("user_id = ? AND role_id = ?", userID, roleID))
}

func (s *UserRoleService) requireMember(ctx context.Context, tx *store.Store, userID, serverID int64) error {
	ok, err := tx.UserServers.Exists(ctx, store.Where("user_id = ? AND server_id = ?", userID, serverID))
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Invalid("user is not a member of this server")
	}
	return nil
}

// AssignRole gives roleID to userID. actorID needs AssignRoles in the role's
// server. A user holds at most maxRoles roles per server.
func (s *UserRoleService) AssignRole(ctx context.Context, actorID, userID, roleID int64) error {
	r, err := s.store.Roles.Get(ctx, roleID)
	if err != nil {
		return fmt.Errorf("role %d: %w", roleID, err)
	}
	if err := s.perms.RequireServer(ctx, actorID, r.ServerID, permission.AssignRoles); err != nil {
		return err
	}

	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := s.requireMember(ctx, tx, userID, r.ServerID); err != nil {
			return err
		}
		held, err := tx.UserRoles.Exists(ctx, store.Where("user_id = ? AND role_id = ?", userID, roleID))
		if err != nil {
			return err
		}
		if held {
			return apperr.Conflict("user already has this role")
		}
		n, err := tx.UserRoles.Count(ctx, store.Where("user_id = ? AND server_id = ?", userID, r.ServerID))
		if err != nil {
			return err
		}
		if n >= int64(s.maxRoles) {
			return apperr.Invalid("a user can hold at most %d roles per server", s.maxRoles)
		}
		return tx.UserRoles.Create(ctx, &models.UserRole{UserID: userID, RoleID: roleID, ServerID: r.ServerID})
	})
	if err != nil {
		return err
	}

	slog.Info("role assigned", "role_id", roleID, "user_id", userID, "actor_id", actorID)
	s.changed(ctx, userID, r.ServerID)
	return nil
}

// RemoveRole takes roleID away from userID.
func (s *UserRoleService) RemoveRole(ctx context.Context, actorID, userID, roleID int64) error {
	r, err := s.store.Roles.Get(ctx, roleID)
	if err != nil {
		return fmt.Errorf("role %d: %w", roleID, err)
	}
	if err := s.perms.RequireServer(ctx, actorID, r.ServerID, permission.AssignRoles); err != nil {
		return err
	}

	n, err := s.store.UserRoles.DeleteWhere(ctx, store.Where("user_id = ? AND role_id = ?", userID, roleID))
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("role assignment")
	}

	slog.Info("role removed", "role_id", roleID, "user_id", userID, "actor_id", actorID)
	s.changed(ctx, userID, r.ServerID)
	return nil
}

// SetUserRoles replaces every role userID holds in serverID with roleIDs.
func (s *UserRoleService) SetUserRoles(ctx context.Context, actorID, userID, serverID int64, roleIDs []int64) error {
	ids := dedupe(roleIDs)
	if len(ids) > s.maxRoles {
		return apperr.Invalid("a user can hold at most %d roles per server", s.maxRoles)
	}
	if err := s.perms.RequireServer(ctx, actorID, serverID, permission.AssignRoles); err != nil {
		return err
	}

	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := s.requireMember(ctx, tx, userID, serverID); err != nil {
			return err
		}
		if len(ids) > 0 {
			n, err := tx.Roles.Count(ctx, store.Where("id IN ? AND server_id = ?", ids, serverID))
			if err != nil {
				return err
			}
			if n != int64(len(ids)) {
				return apperr.Invalid("every role must belong to this server")
			}
		}
		if _, err := tx.UserRoles.DeleteWhere(ctx, store.Where("user_id = ? AND server_id = ?", userID, serverID)); err != nil {
			return err
		}
		for _, id := range ids {
			if err := tx.UserRoles.Create(ctx, &models.UserRole{UserID: userID, RoleID: id, ServerID: serverID}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("roles replaced", "user_id", userID, "server_id", serverID, "count", len(ids), "actor_id", actorID)
	s.changed(ctx, userID, serverID)
	return nil
}

func (s *UserRoleService) changed(ctx context.Context, userID, serverID int64) {
	s.reg.PublishEntity(ctx, callback.UserRoleChanged, userID)
	s.reg.Publish(ctx, callback.UserRoleChanged, callback.DeriveUserRoleChangedID(userID, serverID))
	s.reg.PublishEntity(ctx, callback.RolesUpdated, serverID)
	s.reg.PublishEntity(ctx, callback.ServerMemberUpdated, serverID)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
