package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"guild-server/internal/apperr"
	"guild-server/internal/callback"
	"guild-server/internal/models"
	"guild-server/internal/permission"
	"guild-server/internal/store"
)

// TimeoutChecker reports whether a user is currently timed out in a server.
type TimeoutChecker interface {
	IsTimedOut(ctx context.Context, userID, serverID int64) (bool, error)
}

// MessageService posts and deletes channel messages.
type MessageService struct {
	store    *store.Store
	perms    *permission.Engine
	reg      *callback.Registry
	timeouts TimeoutChecker
	maxLen   int
}

func NewMessageService(s *store.Store, perms *permission.Engine, reg *callback.Registry, timeouts TimeoutChecker, maxLen int) *MessageService {
	return &MessageService{store: s, perms: perms, reg: reg, timeouts: timeouts, maxLen: maxLen}
}

// ChannelMessageCount counts the live messages of channelID.
func (s *MessageService) ChannelMessageCount(ctx context.Context, channelID int64) (int64, error) {
	return s.store.Messages.Count(ctx, store.Where("channel_id = ? AND deleted_at IS NULL", channelID))
}

// ChannelMessages returns a page of channelID, newest first. Deleted
// messages keep their place with their content cleared.
func (s *MessageService) ChannelMessages(ctx context.Context, channelID int64, offset, limit int) ([]models.Message, error) {
	msgs, err := s.store.Messages.Find(ctx,
		store.Where("channel_id = ?", channelID),
		store.OrderBy("created_at DESC, id DESC"),
		store.Page(offset, limit))
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].IsDeleted() {
			msgs[i].Content = ""
		}
	}
	return msgs, nil
}

// CreateMessage posts content to channelID as userID.
func (s *MessageService) CreateMessage(ctx context.Context, userID, channelID int64, content string) (*models.Message, error) {
	if err := ValidateContent(content, s.maxLen); err != nil {
		return nil, err
	}
	ch, err := s.store.Channels.Get(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", channelID, err)
	}
	if s.timeouts != nil {
		out, err := s.timeouts.IsTimedOut(ctx, userID, ch.ServerID)
		if err != nil {
			return nil, err
		}
		if out {
			return nil, apperr.Forbidden("you are timed out in this server")
		}
	}
	if err := s.perms.RequireChannel(ctx, userID, ch.ID, ch.ServerID, permission.SendMessages); err != nil {
		return nil, err
	}

	m := &models.Message{ChannelID: ch.ID, UserID: userID, Content: content}
	if err := s.store.Messages.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	slog.Debug("message created", "message_id", m.ID, "channel_id", ch.ID, "user_id", userID)
	s.reg.PublishEntity(ctx, callback.ChannelMessageEvent, ch.ID)
	return m, nil
}

// DeleteMessage marks a message deleted. Authors may delete their own;
// anyone else needs DeleteOthersMessages in the channel.
func (s *MessageService) DeleteMessage(ctx context.Context, actorID, messageID int64) error {
	m, err := s.store.Messages.Get(ctx, messageID)
	if err != nil {
		return fmt.Errorf("message %d: %w", messageID, err)
	}
	if m.IsDeleted() {
		return apperr.NotFound("message")
	}
	if m.UserID != actorID {
		ch, err := s.store.Channels.Get(ctx, m.ChannelID)
		if err != nil {
			return fmt.Errorf("channel %d: %w", m.ChannelID, err)
		}
		if err := s.perms.RequireChannel(ctx, actorID, ch.ID, ch.ServerID, permission.DeleteOthersMessages); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	m.DeletedAt, m.DeletedBy = &now, &actorID
	if err := s.store.Messages.Update(ctx, m); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	slog.Info("message deleted", "message_id", m.ID, "channel_id", m.ChannelID, "actor_id", actorID)
	s.reg.PublishEntity(ctx, callback.ChannelMessageEvent, m.ChannelID)
	return nil
}
