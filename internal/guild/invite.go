package guild

import (
	"context"
	"fmt"
	"log/slog"

	"guild-server/internal/apperr"
	"guild-server/internal/callback"
	"guild-server/internal/models"
	"guild-server/internal/store"
)

// InviteService handles server invitations between users.
type InviteService struct {
	store *store.Store
	reg   *callback.Registry
}

func NewInviteService(s *store.Store, reg *callback.Registry) *InviteService {
	return &InviteService{store: s, reg: reg}
}

// PendingInvites returns the invites addressed to userID, oldest first.
func (s *InviteService) PendingInvites(ctx context.Context, userID int64) ([]models.ServerInvite, error) {
	return s.store.ServerInvites.Find(ctx, store.Where("receiver_id = ?", userID), store.OrderBy("created_at, id"))
}

func (s *InviteService) PendingInviteCount(ctx context.Context, userID int64) (int64, error) {
	return s.store.ServerInvites.Count(ctx, store.Where("receiver_id = ?", userID))
}

// CreateInvite invites receiverID to serverID on behalf of senderID, who
// must be a member.
func (s *InviteService) CreateInvite(ctx context.Context, senderID, serverID, receiverID int64) (*models.ServerInvite, error) {
	if senderID == receiverID {
		return nil, apperr.Invalid("you cannot invite yourself")
	}

	inv := &models.ServerInvite{ServerID: serverID, SenderID: senderID, ReceiverID: receiverID}
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		dup, err := tx.ServerInvites.Exists(ctx, store.Where("server_id = ? AND receiver_id = ?", serverID, receiverID))
		if err != nil {
			return err
		}
		if dup {
			return apperr.Conflict("invite already exists")
		}
		checks := []struct {
			repo func() (bool, error)
			what string
		}{
			{func() (bool, error) { return tx.Servers.Exists(ctx, store.Where("id = ?", serverID)) }, "server"},
			{func() (bool, error) { return tx.Users.Exists(ctx, store.Where("id = ?", receiverID)) }, "receiver"},
			{func() (bool, error) { return tx.Users.Exists(ctx, store.Where("id = ?", senderID)) }, "sender"},
		}
		for _, c := range checks {
			ok, err := c.repo()
			if err != nil {
				return err
			}
			if !ok {
				return apperr.NotFound(c.what)
			}
		}
		isMember := func(uid int64) (bool, error) {
			return tx.UserServers.Exists(ctx, store.Where("user_id = ? AND server_id = ?", uid, serverID))
		}
		if ok, err := isMember(senderID); err != nil {
			return err
		} else if !ok {
			return apperr.Forbidden("only members can invite")
		}
		if ok, err := isMember(receiverID); err != nil {
			return err
		} else if ok {
			return apperr.Conflict("user is already a member")
		}
		return tx.ServerInvites.Create(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("invite created", "invite_id", inv.ID, "server_id", serverID, "receiver_id", receiverID)
	s.reg.PublishEntity(ctx, callback.ServerInvite, receiverID)
	return inv, nil
}

func (s *InviteService) addressedTo(ctx context.Context, inviteID, userID int64) (*models.ServerInvite, error) {
	inv, err := s.store.ServerInvites.Get(ctx, inviteID)
	if err != nil {
		return nil, fmt.Errorf("invite %d: %w", inviteID, err)
	}
	if inv.ReceiverID != userID && inv.SenderID != userID {
		return nil, apperr.NotFound("invite")
	}
	return inv, nil
}

// DeleteInvite withdraws or declines an invite. Either party may do it.
func (s *InviteService) DeleteInvite(ctx context.Context, userID, inviteID int64) error {
	inv, err := s.addressedTo(ctx, inviteID, userID)
	if err != nil {
		return err
	}
	if err := s.store.ServerInvites.Delete(ctx, inv); err != nil {
		return fmt.Errorf("delete invite: %w", err)
	}
	s.reg.PublishEntity(ctx, callback.ServerInvite, inv.ReceiverID)
	return nil
}

// AcceptInvite makes the receiver a member and consumes the invite.
func (s *InviteService) AcceptInvite(ctx context.Context, userID, inviteID int64) error {
	inv, err := s.addressedTo(ctx, inviteID, userID)
	if err != nil {
		return err
	}
	if inv.ReceiverID != userID {
		return apperr.Forbidden("only the receiver can accept an invite")
	}

	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		if ok, err := tx.Servers.Exists(ctx, store.Where("id = ?", inv.ServerID)); err != nil {
			return err
		} else if !ok {
			return apperr.NotFound("server")
		}
		if err := tx.UserServers.Create(ctx, &models.UserServer{UserID: inv.ReceiverID, ServerID: inv.ServerID}); err != nil {
			return err
		}
		return tx.ServerInvites.Delete(ctx, inv)
	})
	if err != nil {
		return fmt.Errorf("accept invite: %w", err)
	}

	slog.Info("invite accepted", "invite_id", inv.ID, "server_id", inv.ServerID, "user_id", userID)
	s.reg.PublishEntity(ctx, callback.ServerInvite, inv.ReceiverID)
	s.reg.PublishEntity(ctx, callback.ServerMemberUpdated, inv.ServerID)
	return nil
}
