package channel

import (
	"context"
	"fmt"

	"guild-server/internal/apperr"
	"guild-server/internal/callback"
	"guild-server/internal/models"
	"guild-server/internal/store"
)

// DirectMessageService handles one-to-one conversations.
type DirectMessageService struct {
	store  *store.Store
	reg    *callback.Registry
	maxLen int
}

func NewDirectMessageService(s *store.Store, reg *callback.Registry, maxLen int) *DirectMessageService {
	return &DirectMessageService{store: s, reg: reg, maxLen: maxLen}
}

func between(a, b int64) store.Scope {
	return store.Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a)
}

func (s *DirectMessageService) ConversationCount(ctx context.Context, userA, userB int64) (int64, error) {
	return s.store.DirectMessages.Count(ctx, between(userA, userB))
}

// Conversation returns a page of the messages between two users, newest first.
func (s *DirectMessageService) Conversation(ctx context.Context, userA, userB int64, offset, limit int) ([]models.DirectMessage, error) {
	return s.store.DirectMessages.Find(ctx,
		between(userA, userB),
		store.OrderBy("created_at DESC, id DESC"),
		store.Page(offset, limit))
}

// SendDirectMessage delivers content from senderID to receiverID and
// notifies the pair's conversation topic.
func (s *DirectMessageService) SendDirectMessage(ctx context.Context, senderID, receiverID int64, content string) (*models.DirectMessage, error) {
	if senderID == receiverID {
		return nil, apperr.Invalid("you cannot message yourself")
	}
	if err := ValidateContent(content, s.maxLen); err != nil {
		return nil, err
	}
	ok, err := s.store.Users.Exists(ctx, store.Where("id = ?", receiverID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("user")
	}

	m := &models.DirectMessage{SenderID: senderID, ReceiverID: receiverID, Content: content}
	if err := s.store.DirectMessages.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("send direct message: %w", err)
	}
	s.reg.Publish(ctx, callback.DirectMessageEvent, callback.DeriveConversationID(senderID, receiverID))
	return m, nil
}
