package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"guild-server/internal/apperr"
	"guild-server/internal/callback"
	"guild-server/internal/models"
	"guild-server/internal/permission"
	"guild-server/internal/store"
)

// TimeoutService mutes members of a server for a while.
type TimeoutService struct {
	store *store.Store
	perms *permission.Engine
	reg   *callback.Registry
	now   func() time.Time
}

func NewTimeoutService(s *store.Store, perms *permission.Engine, reg *callback.Registry) *TimeoutService {
	return &TimeoutService{
		store: s,
		perms: perms,
		reg:   reg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *TimeoutService) active(userID, serverID int64) store.Scope {
	return store.Where("user_id = ? AND server_id = ? AND expires_at > ?", userID, serverID, s.now())
}

func (s *TimeoutService) IsTimedOut(ctx context.Context, userID, serverID int64) (bool, error) {
	return s.store.UserTimeouts.Exists(ctx, s.active(userID, serverID))
}

// ActiveTimeout returns the unexpired timeout of userID in serverID.
func (s *TimeoutService) ActiveTimeout(ctx context.Context, userID, serverID int64) (*models.UserTimeout, error) {
	t, err := s.store.UserTimeouts.First(ctx, s.active(userID, serverID), store.OrderBy("expires_at DESC"))
	if err != nil {
		return nil, fmt.Errorf("timeout for user %d: %w", userID, err)
	}
	return t, nil
}

// ActiveTimeouts lists the unexpired timeouts in serverID, soonest to expire first.
func (s *TimeoutService) ActiveTimeouts(ctx context.Context, serverID int64) ([]models.UserTimeout, error) {
	return s.store.UserTimeouts.Find(ctx,
		store.Where("server_id = ? AND expires_at > ?", serverID, s.now()),
		store.OrderBy("expires_at"))
}

// TimeoutUser mutes userID in serverID for d. An active timeout is extended
// rather than duplicated.
func (s *TimeoutService) TimeoutUser(ctx context.Context, actorID, userID, serverID int64, d time.Duration, reason string) (*models.UserTimeout, error) {
	if d <= 0 {
		return nil, apperr.Invalid("duration must be positive")
	}
	if actorID == userID {
		return nil, apperr.Invalid("you cannot time yourself out")
	}
	srv, err := s.store.Servers.Get(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("server %d: %w", serverID, err)
	}
	if err := s.perms.RequireServer(ctx, actorID, serverID, permission.TimeoutUser); err != nil {
		return nil, err
	}
	if srv.OwnerID == userID {
		return nil, apperr.Forbidden("the server owner cannot be timed out")
	}
	if admin, err := s.perms.IsSiteAdmin(ctx, userID); err != nil {
		return nil, err
	} else if admin {
		return nil, apperr.Forbidden("site administrators cannot be timed out")
	}
	if ok, err := s.store.UserServers.Exists(ctx, store.Where("user_id = ? AND server_id = ?", userID, serverID)); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperr.NotFound("member")
	}

	now := s.now()
	var t *models.UserTimeout
	err = s.store.Transaction(ctx, func(tx *store.Store) error {
		existing, err := tx.UserTimeouts.Find(ctx, s.active(userID, serverID))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			t = &existing[0]
		} else {
			t = &models.UserTimeout{UserID: userID, ServerID: serverID}
		}
		t.IssuedByID = actorID
		t.Reason = strings.TrimSpace(reason)
		t.IssuedAt = now
		t.ExpiresAt = now.Add(d)
		if t.ID == 0 {
			return tx.UserTimeouts.Create(ctx, t)
		}
		return tx.UserTimeouts.Update(ctx, t)
	})
	if err != nil {
		return nil, fmt.Errorf("timeout user: %w", err)
	}

	slog.Info("user timed out", "user_id", userID, "server_id", serverID, "until", t.ExpiresAt, "actor_id", actorID)
	s.changed(ctx, userID, serverID)
	return t, nil
}

// RemoveTimeout lifts the active timeout of userID in serverID.
func (s *TimeoutService) RemoveTimeout(ctx context.Context, actorID, userID, serverID int64) error {
	if err := s.perms.RequireServer(ctx, actorID, serverID, permission.TimeoutUser); err != nil {
		return err
	}
	n, err := s.store.UserTimeouts.DeleteWhere(ctx, s.active(userID, serverID))
	if err != nil {
		return fmt.Errorf("remove timeout: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("timeout")
	}
	s.changed(ctx, userID, serverID)
	return nil
}

// PurgeExpired deletes timeouts that ended before now.
func (s *TimeoutService) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.UserTimeouts.DeleteWhere(ctx, store.Where("expires_at <= ?", s.now()))
}

func (s *TimeoutService) changed(ctx context.Context, userID, serverID int64) {
	s.reg.PublishEntity(ctx, callback.UserTimedOut, userID)
	s.reg.PublishEntity(ctx, callback.ServerMemberUpdated, serverID)
}
