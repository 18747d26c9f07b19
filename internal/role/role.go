package role

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"guild-server/internal/apperr"
	"guild-server/internal/callback"
	"guild-server/internal/models"
	"guild-server/internal/permission"
	"guild-server/internal/store"
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Service manages server roles and the capabilities they grant.
type Service struct {
	store   *store.Store
	perms   *permission.Engine
	reg     *callback.Registry
	nameMax int
}

func NewService(s *store.Store, perms *permission.Engine, reg *callback.Registry, nameMax int) *Service {
	return &Service{store: s, perms: perms, reg: reg, nameMax: nameMax}
}

func (s *Service) validate(name, color string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Invalid("role name is required")
	}
	if utf8.RuneCountInString(name) > s.nameMax {
		return "", apperr.Invalid("role name must be at most %d characters", s.nameMax)
	}
	if color != "" && !colorPattern.MatchString(color) {
		return "", apperr.Invalid("color must be in #RRGGBB format")
	}
	return name, nil
}

// ListServerRoles returns the roles of serverID, highest position first.
func (s *Service) ListServerRoles(ctx context.Context, serverID int64) ([]models.Role, error) {
	return s.store.Roles.Find(ctx,
		store.Where("server_id = ?", serverID),
		store.OrderBy("position DESC, id"))
}

func (s *Service) GetRole(ctx context.Context, roleID int64) (*models.Role, error) {
	r, err := s.store.Roles.Get(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("role %d: %w", roleID, err)
	}
	return r, nil
}

// GetRolePermissions returns the grants of roleID. A role without a
// permissions row grants nothing.
func (s *Service) GetRolePermissions(ctx context.Context, roleID int64) (*models.RolePermissions, error) {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	rows, err := s.store.RolePermissions.Find(ctx, store.Where("role_id = ?", roleID))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &models.RolePermissions{RoleID: roleID}, nil
	}
	return &rows[0], nil
}

// CreateRole adds a role with no grants. actorID needs ManageRoles.
func (s *Service) CreateRole(ctx context.Context, actorID, serverID int64, name, color string, position int) (*models.Role, error) {
	name, err := s.validate(name, color)
	if err != nil {
		return nil, err
	}
	if ok, err := s.store.Servers.Exists(ctx, store.Where("id = ?", serverID)); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperr.NotFound("server")
	}
	if err := s.perms.RequireServer(ctx, actorID, serverID, permission.ManageRoles); err != nil {
		return nil, err
	}

	r := &models.Role{ServerID: serverID, Name: name, Color: color, Position: position}
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.Roles.Create(ctx, r); err != nil {
			return err
		}
		return tx.RolePermissions.Create(ctx, &models.RolePermissions{RoleID: r.ID})
	})
	if err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}

	slog.Info("role created", "role_id", r.ID, "server_id", serverID, "actor_id", actorID)
	s.reg.PublishEntity(ctx, callback.RolesUpdated, serverID)
	return r, nil
}

// UpdateRole renames, recolors and repositions a role.
func (s *Service) UpdateRole(ctx context.Context, actorID, roleID int64, name, color string, position int) (*models.Role, error) {
	name, err := s.validate(name, color)
	if err != nil {
		return nil, err
	}
	r, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if err := s.perms.RequireServer(ctx, actorID, r.ServerID, permission.ManageRoles); err != nil {
		return nil, err
	}

	r.Name, r.Color, r.Position = name, color, position
	if err := s.store.Roles.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("update role: %w", err)
	}
	s.reg.PublishEntity(ctx, callback.RolesUpdated, r.ServerID)
	return r, nil
}

// UpdateRolePermissions sets the listed capabilities on roleID and leaves the
// rest unchanged.
func (s *Service) UpdateRolePermissions(ctx context.Context, actorID, roleID int64, grants map[permission.Capability]bool) (*models.RolePermissions, error) {
	for c := range grants {
		if !c.Valid() {
			return nil, apperr.Invalid("unknown capability %q", c)
		}
	}
	r, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if err := s.perms.RequireServer(ctx, actorID, r.ServerID, permission.ManageRoles); err != nil {
		return nil, err
	}

	p, err := s.GetRolePermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}
	for c, v := range grants {
		permission.Set(p, c, v)
	}
	if err := s.store.RolePermissions.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update role permissions: %w", err)
	}

	slog.Info("role permissions updated", "role_id", roleID, "actor_id", actorID)
	s.reg.PublishEntity(ctx, callback.RolesUpdated, r.ServerID)
	return p, nil
}

// DeleteRole removes a role together with its assignments, its channel
// overrides and its permissions row, in one transaction.
func (s *Service) DeleteRole(ctx context.Context, actorID, roleID int64) error {
	r, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if err := s.perms.RequireServer(ctx, actorID, r.ServerID, permission.ManageRoles); err != nil {
		return err
	}

	var holders []int64
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.UserRoles.Query(ctx, store.Where("role_id = ?", roleID)).Pluck("user_id", &holders).Error; err != nil {
			return err
		}
		if _, err := tx.UserRoles.DeleteWhere(ctx, store.Where("role_id = ?", roleID)); err != nil {
			return err
		}
		if _, err := tx.ChannelRolePermissions.DeleteWhere(ctx, store.Where("role_id = ?", roleID)); err != nil {
			return err
		}
		if _, err := tx.RolePermissions.DeleteWhere(ctx, store.Where("role_id = ?", roleID)); err != nil {
			return err
		}
		return tx.Roles.Delete(ctx, r)
	})
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}

	slog.Info("role deleted", "role_id", roleID, "server_id", r.ServerID, "holders", len(holders))
	s.reg.PublishEntity(ctx, callback.RolesUpdated, r.ServerID)
	for _, uid := range holders {
		s.reg.PublishEntity(ctx, callback.UserRoleChanged, uid)
	}
	return nil
}

// RoleUserCount returns how many users hold roleID.
func (s *Service) RoleUserCount(ctx context.Context, roleID int64) (int64, error) {
	return s.store.UserRoles.Count(ctx, store.Where("role_id = ?", roleID))
}

// PrimaryRole returns the highest-positioned role userID holds in serverID,
// or nil if they hold none.
func (s *Service) PrimaryRole(ctx context.Context, userID, serverID int64) (*models.Role, error) {
	roles, err := s.perms.GetUserRolesInServer(ctx, userID, serverID)
	if err != nil || len(roles) == 0 {
		return nil, err
	}
	return &roles[0], nil
}
