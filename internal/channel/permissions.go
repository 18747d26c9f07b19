package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"guild-server/internal/apperr"
	"guild-server/internal/callback"
	"guild-server/internal/models"
	"guild-server/internal/permission"
	"guild-server/internal/store"
)

// OverrideService edits per-channel role overrides.
type OverrideService struct {
	store *store.Store
	perms *permission.Engine
	reg   *callback.Registry
}

func NewOverrideService(s *store.Store, perms *permission.Engine, reg *callback.Registry) *OverrideService {
	return &OverrideService{store: s, perms: perms, reg: reg}
}

// ChannelOverrides lists every override row of channelID.
func (s *OverrideService) ChannelOverrides(ctx context.Context, channelID int64) ([]models.ChannelRolePermission, error) {
	return s.store.ChannelRolePermissions.Find(ctx, store.Where("channel_id = ?", channelID), store.OrderBy("role_id"))
}

// ChannelRoleOverride returns the override of roleID in channelID, or nil.
func (s *OverrideService) ChannelRoleOverride(ctx context.Context, channelID, roleID int64) (*models.ChannelRolePermission, error) {
	o, err := s.store.ChannelRolePermissions.First(ctx, store.Where("channel_id = ? AND role_id = ?", channelID, roleID))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return o, err
}

func (s *OverrideService) load(ctx context.Context, actorID, channelID, roleID int64) (*models.Channel, error) {
	ch, err := s.store.Channels.Get(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", channelID, err)
	}
	r, err := s.store.Roles.Get(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("role %d: %w", roleID, err)
	}
	if r.ServerID != ch.ServerID {
		return nil, apperr.Invalid("role does not belong to this channel's server")
	}
	if err := s.perms.RequireServer(ctx, actorID, ch.ServerID, permission.ManageRoles); err != nil {
		return nil, err
	}
	return ch, nil
}

// SetChannelOverride merges values into the override of roleID in channelID,
// creating it if needed. A nil value resets that capability to inherit.
func (s *OverrideService) SetChannelOverride(ctx context.Context, actorID, channelID, roleID int64, values map[permission.Capability]*bool) (*models.ChannelRolePermission, error) {
	for c := range values {
		if !c.Valid() || !c.Overridable() {
			return nil, apperr.Invalid("capability %q cannot be overridden per channel", c)
		}
	}
	if _, err := s.load(ctx, actorID, channelID, roleID); err != nil {
		return nil, err
	}

	var out *models.ChannelRolePermission
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		o, err := tx.ChannelRolePermissions.First(ctx, store.Where("channel_id = ? AND role_id = ?", channelID, roleID))
		if errors.Is(err, apperr.ErrNotFound) {
			o, err = &models.ChannelRolePermission{ChannelID: channelID, RoleID: roleID}, nil
		}
		if err != nil {
			return err
		}
		for c, v := range values {
			permission.SetOverride(o, c, v)
		}
		out = o
		if o.ID == 0 {
			return tx.ChannelRolePermissions.Create(ctx, o)
		}
		return tx.ChannelRolePermissions.Update(ctx, o)
	})
	if err != nil {
		return nil, fmt.Errorf("set channel override: %w", err)
	}

	slog.Info("channel override set", "channel_id", channelID, "role_id", roleID, "actor_id", actorID)
	s.reg.PublishEntity(ctx, callback.ChannelOverridesUpdated, channelID)
	return out, nil
}

// RemoveChannelOverride deletes the override of roleID in channelID.
func (s *OverrideService) RemoveChannelOverride(ctx context.Context, actorID, channelID, roleID int64) error {
	if _, err := s.load(ctx, actorID, channelID, roleID); err != nil {
		return err
	}
	n, err := s.store.ChannelRolePermissions.DeleteWhere(ctx, store.Where("channel_id = ? AND role_id = ?", channelID, roleID))
	if err != nil {
		return fmt.Errorf("remove channel override: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("channel override")
	}
	s.reg.PublishEntity(ctx, callback.ChannelOverridesUpdated, channelID)
	return nil
}
