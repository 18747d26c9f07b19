package channel

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

// Service manages the channels of a server.
type Service struct {
	store *store.Store
	perms *permission.Engine
	reg   *callback.Registry
}

func NewService(s *store.Store, perms *permission.Engine, reg *callback.Registry) *Service {
	return &Service{store: s, perms: perms, reg: reg}
}

func (s *Service) GetChannel(ctx context.Context, channelID int64) (*models.Channel, error) {
	ch, err := s.store.Channels.Get(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", channelID, err)
	}
	return ch, nil
}

func (s *Service) ListServerChannels(ctx context.Context, serverID int64) ([]models.Channel, error) {
	return s.store.Channels.Find(ctx, store.Where("server_id = ?", serverID), store.OrderBy("id"))
}

// CreateChannel adds a channel to serverID. actorID needs AddChannels.
func (s *Service) CreateChannel(ctx context.Context, actorID, serverID int64, name string) (*models.Channel, error) {
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}
	if ok, err := s.store.Servers.Exists(ctx, store.Where("id = ?", serverID)); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperr.NotFound("server")
	}
	if err := s.perms.RequireServer(ctx, actorID, serverID, permission.AddChannels); err != nil {
		return nil, err
	}

	ch := &models.Channel{ServerID: serverID, Name: name}
	if err := s.store.Channels.Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}

	slog.Info("channel created", "channel_id", ch.ID, "server_id", serverID, "actor_id", actorID)
	s.reg.PublishEntity(ctx, callback.ServerPropertyUpdated, serverID)
	return ch, nil
}

// RenameChannel changes a channel's name. actorID needs EditChannels there.
func (s *Service) RenameChannel(ctx context.Context, actorID, channelID int64, name string) (*models.Channel, error) {
	name, err := ValidateName(name)
	if err != nil {
		return nil, err
	}
	ch, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := s.perms.RequireChannel(ctx, actorID, ch.ID, ch.ServerID, permission.EditChannels); err != nil {
		return nil, err
	}

	ch.Name = name
	if err := s.store.Channels.Update(ctx, ch); err != nil {
		return nil, fmt.Errorf("rename channel: %w", err)
	}
	s.reg.PublishEntity(ctx, callback.ServerPropertyUpdated, ch.ServerID)
	return ch, nil
}

// DeleteChannel removes a channel with its messages and overrides.
func (s *Service) DeleteChannel(ctx context.Context, actorID, channelID int64) error {
	ch, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if err := s.perms.RequireChannel(ctx, actorID, ch.ID, ch.ServerID, permission.EditChannels); err != nil {
		return err
	}

	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		return purgeChannel(ctx, tx, ch)
	})
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}

	slog.Info("channel deleted", "channel_id", ch.ID, "server_id", ch.ServerID, "actor_id", actorID)
	s.reg.PublishEntity(ctx, callback.ChannelDeleted, ch.ID)
	s.reg.PublishEntity(ctx, callback.ServerPropertyUpdated, ch.ServerID)
	return nil
}

// PurgeServerChannels deletes every channel of serverID and what hangs off
// them. It is meant to run inside a server delete transaction and returns the
// removed channel ids.
func PurgeServerChannels(ctx context.Context, tx *store.Store, serverID int64) ([]int64, error) {
	channels, err := tx.Channels.Find(ctx, store.Where("server_id = ?", serverID))
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(channels))
	for i := range channels {
		if err := purgeChannel(ctx, tx, &channels[i]); err != nil {
			return nil, err
		}
		ids = append(ids, channels[i].ID)
	}
	return ids, nil
}

func purgeChannel(ctx context.Context, tx *store.Store, ch *models.Channel) error {
	if _, err := tx.Messages.DeleteWhere(ctx, store.Where("channel_id = ?", ch.ID)); err != nil {
		return err
	}
	if _, err := tx.ChannelRolePermissions.DeleteWhere(ctx, store.Where("channel_id = ?", ch.ID)); err != nil {
		return err
	}
	return tx.Channels.Delete(ctx, ch)
}
