package user

import (
	"context"
	"fmt"
	"log/slog"

	"guild-server/internal/apperr"
	"guild-server/internal/callback"
	"guild-server/internal/models"
	"guild-server/internal/store"
)

// FriendRequestPolicy decides what happens when a request meets a pending
// request between the same two users.
type FriendRequestPolicy string

const (
	// AutoAccept turns a reciprocal request into a friendship.
	AutoAccept FriendRequestPolicy = "auto_accept"
	// RejectDuplicate refuses any second request between the pair.
	RejectDuplicate FriendRequestPolicy = "reject_duplicate"
)

// FriendService manages friend requests and friendships.
type FriendService struct {
	store  *store.Store
	reg    *callback.Registry
	policy FriendRequestPolicy
}

func NewFriendService(s *store.Store, reg *callback.Registry, policy FriendRequestPolicy) *FriendService {
	if policy == "" {
		policy = AutoAccept
	}
	return &FriendService{store: s, reg: reg, policy: policy}
}

func pairScope(a, b int64) store.Scope {
	return store.Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", a, b, b, a)
}

func (s *FriendService) AreFriends(ctx context.Context, a, b int64) (bool, error) {
	return s.store.UserFriends.Exists(ctx, pairScope(a, b))
}

// Friends returns the users befriended with userID, by username.
func (s *FriendService) Friends(ctx context.Context, userID int64) ([]models.User, error) {
	return s.store.Users.Find(ctx,
		store.Where("id IN (SELECT friend_id FROM user_friends WHERE user_id = ?) OR id IN (SELECT user_id FROM user_friends WHERE friend_id = ?)", userID, userID),
		store.OrderBy("username"))
}

// IncomingRequests returns the pending requests addressed to userID.
func (s *FriendService) IncomingRequests(ctx context.Context, userID int64) ([]models.FriendRequest, error) {
	return s.store.FriendRequests.Find(ctx, store.Where("receiver_id = ?", userID), store.OrderBy("created_at, id"))
}

func (s *FriendService) IncomingRequestCount(ctx context.Context, userID int64) (int64, error) {
	return s.store.FriendRequests.Count(ctx, store.Where("receiver_id = ?", userID))
}

// SendFriendRequest resolves receiverUsername and calls SendFriendRequestTo.
func (s *FriendService) SendFriendRequest(ctx context.Context, senderID int64, receiverUsername string) (*models.FriendRequest, bool, error) {
	u, err := s.store.Users.First(ctx, store.Where("username = ?", receiverUsername))
	if err != nil {
		return nil, false, fmt.Errorf("user %q: %w", receiverUsername, err)
	}
	return s.SendFriendRequestTo(ctx, senderID, u.ID)
}

// SendFriendRequestTo asks receiverID for friendship. The boolean result
// reports whether the two users became friends immediately, which happens
// under AutoAccept when receiverID had already asked senderID.
func (s *FriendService) SendFriendRequestTo(ctx context.Context, senderID, receiverID int64) (*models.FriendRequest, bool, error) {
	if senderID == receiverID {
		return nil, false, apperr.Invalid("you cannot send a friend request to yourself")
	}

	var (
		req      *models.FriendRequest
		accepted bool
	)
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		if ok, err := tx.Users.Exists(ctx, store.Where("id = ?", receiverID)); err != nil {
			return err
		} else if !ok {
			return apperr.NotFound("user")
		}
		if ok, err := tx.UserFriends.Exists(ctx, pairScope(senderID, receiverID)); err != nil {
			return err
		} else if ok {
			return apperr.Conflict("you are already friends")
		}
		if ok, err := tx.FriendRequests.Exists(ctx, store.Where("sender_id = ? AND receiver_id = ?", senderID, receiverID)); err != nil {
			return err
		} else if ok {
			return apperr.Conflict("friend request already sent")
		}

		reverse, err := tx.FriendRequests.Find(ctx, store.Where("sender_id = ? AND receiver_id = ?", receiverID, senderID))
		if err != nil {
			return err
		}
		if len(reverse) > 0 {
			if s.policy != AutoAccept {
				return apperr.Conflict("a friend request between you is already pending")
			}
			req, accepted = &reverse[0], true
			return befriend(ctx, tx, req)
		}

		req = &models.FriendRequest{SenderID: senderID, ReceiverID: receiverID}
		return tx.FriendRequests.Create(ctx, req)
	})
	if err != nil {
		return nil, false, err
	}

	if accepted {
		slog.Info("friend request auto-accepted", "request_id", req.ID, "user_a", senderID, "user_b", receiverID)
		s.friended(ctx, req)
	} else {
		s.reg.PublishEntity(ctx, callback.FriendRequest, receiverID)
	}
	return req, accepted, nil
}

func befriend(ctx context.Context, tx *store.Store, req *models.FriendRequest) error {
	if err := tx.UserFriends.Create(ctx, &models.UserFriend{UserID: req.SenderID, FriendID: req.ReceiverID}); err != nil {
		return err
	}
	return tx.FriendRequests.Delete(ctx, req)
}

func (s *FriendService) friended(ctx context.Context, req *models.FriendRequest) {
	s.reg.PublishEntity(ctx, callback.FriendRequest, req.ReceiverID)
	s.reg.PublishEntity(ctx, callback.FriendsListUpdated, req.SenderID)
	s.reg.PublishEntity(ctx, callback.FriendsListUpdated, req.ReceiverID)
}

func (s *FriendService) request(ctx context.Context, requestID int64) (*models.FriendRequest, error) {
	req, err := s.store.FriendRequests.Get(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("friend request %d: %w", requestID, err)
	}
	return req, nil
}

// AcceptFriendRequest is done by the receiver.
func (s *FriendService) AcceptFriendRequest(ctx context.Context, userID, requestID int64) error {
	req, err := s.request(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ReceiverID != userID {
		return apperr.NotFound("friend request")
	}
	if err := s.store.Transaction(ctx, func(tx *store.Store) error {
		return befriend(ctx, tx, req)
	}); err != nil {
		return fmt.Errorf("accept friend request: %w", err)
	}
	s.friended(ctx, req)
	return nil
}

// RejectFriendRequest declines (receiver) or withdraws (sender) a request.
func (s *FriendService) RejectFriendRequest(ctx context.Context, userID, requestID int64) error {
	req, err := s.request(ctx, requestID)
	if err != nil {
		return err
	}
	if req.ReceiverID != userID && req.SenderID != userID {
		return apperr.NotFound("friend request")
	}
	if err := s.store.FriendRequests.Delete(ctx, req); err != nil {
		return fmt.Errorf("reject friend request: %w", err)
	}
	s.reg.PublishEntity(ctx, callback.FriendRequest, req.ReceiverID)
	return nil
}

func (s *FriendService) RemoveFriend(ctx context.Context, userID, friendID int64) error {
	n, err := s.store.UserFriends.DeleteWhere(ctx, pairScope(userID, friendID))
	if err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("friendship")
	}
	s.reg.PublishEntity(ctx, callback.FriendsListUpdated, userID)
	s.reg.PublishEntity(ctx, callback.FriendsListUpdated, friendID)
	return nil
}
