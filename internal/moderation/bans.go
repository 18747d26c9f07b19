// Package moderation holds site bans with their appeals, per-server
// timeouts and user reports.
package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"guild-server/internal/apperr"
	"guild-server/internal/callback"
	"guild-server/internal/models"
	"guild-server/internal/permission"
	"guild-server/internal/store"
)

const (
	minAppealLength = 20
	maxAppealLength = 1000
)

// BanService manages site-wide bans. Banned user ids are mirrored in memory
// so request middleware can check them without a query.
type BanService struct {
	store *store.Store
	perms *permission.Engine
	reg   *callback.Registry
	now   func() time.Time

	mu     sync.RWMutex
	banned map[int64]struct{}
}

func NewBanService(s *store.Store, perms *permission.Engine, reg *callback.Registry) *BanService {
	return &BanService{
		store:  s,
		perms:  perms,
		reg:    reg,
		now:    func() time.Time { return time.Now().UTC() },
		banned: make(map[int64]struct{}),
	}
}

// LoadBans fills the in-memory ban set from the database.
func (s *BanService) LoadBans(ctx context.Context) error {
	var ids []int64
	if err := s.store.UserBans.Query(ctx).Pluck("user_id", &ids).Error; err != nil {
		return fmt.Errorf("load bans: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banned = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		s.banned[id] = struct{}{}
	}
	slog.Info("loaded bans", "count", len(ids))
	return nil
}

func (s *BanService) IsBanned(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.banned[userID]
	return ok
}

func (s *BanService) mark(userID int64, banned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if banned {
		s.banned[userID] = struct{}{}
	} else {
		delete(s.banned, userID)
	}
}

// GetBan returns the ban on userID.
func (s *BanService) GetBan(ctx context.Context, userID int64) (*models.UserBan, error) {
	b, err := s.store.UserBans.First(ctx, store.Where("user_id = ?", userID))
	if err != nil {
		return nil, fmt.Errorf("ban for user %d: %w", userID, err)
	}
	return b, nil
}

// BanUser bans userID from the site. actorID must be a site administrator
// and cannot ban themselves or another administrator.
func (s *BanService) BanUser(ctx context.Context, actorID, userID int64, reason string) (*models.UserBan, error) {
	if err := s.perms.RequireSiteAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if actorID == userID {
		return nil, apperr.Invalid("you cannot ban yourself")
	}
	if ok, err := s.store.Users.Exists(ctx, store.Where("id = ?", userID)); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperr.NotFound("user")
	}
	if admin, err := s.perms.IsSiteAdmin(ctx, userID); err != nil {
		return nil, err
	} else if admin {
		return nil, apperr.Forbidden("site administrators cannot be banned")
	}
	if ok, err := s.store.UserBans.Exists(ctx, store.Where("user_id = ?", userID)); err != nil {
		return nil, err
	} else if ok {
		return nil, apperr.Conflict("user is already banned")
	}

	ban := &models.UserBan{
		UserID:       userID,
		BannedByID:   actorID,
		Reason:       strings.TrimSpace(reason),
		BannedAt:     s.now(),
		AppealStatus: models.AppealNone,
	}
	if err := s.store.UserBans.Create(ctx, ban); err != nil {
		return nil, fmt.Errorf("ban user: %w", err)
	}
	s.mark(userID, true)

	slog.Info("user banned", "user_id", userID, "actor_id", actorID)
	s.reg.PublishEntity(ctx, callback.UserBanned, userID)
	return ban, nil
}

// SubmitAppeal records the banned user's single appeal.
func (s *BanService) SubmitAppeal(ctx context.Context, userID int64, reason string) (*models.UserBan, error) {
	reason = strings.TrimSpace(reason)
	if n := utf8.RuneCountInString(reason); n < minAppealLength || n > maxAppealLength {
		return nil, apperr.Invalid("appeal must be between %d and %d characters", minAppealLength, maxAppealLength)
	}
	ban, err := s.GetBan(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ban.AppealStatus != models.AppealNone {
		return nil, apperr.Conflict("an appeal has already been submitted")
	}

	at := s.now()
	ban.AppealStatus = models.AppealPending
	ban.AppealReason = reason
	ban.AppealSubmittedAt = &at
	if err := s.store.UserBans.Update(ctx, ban); err != nil {
		return nil, fmt.Errorf("submit appeal: %w", err)
	}

	slog.Info("appeal submitted", "ban_id", ban.ID, "user_id", userID)
	s.reg.Publish(ctx, callback.AppealSubmitted, callback.DeriveAdminID())
	return ban, nil
}

// ReviewAppeal approves or denies a pending appeal. Approval lifts the ban.
func (s *BanService) ReviewAppeal(ctx context.Context, actorID, banID int64, approve bool) error {
	if err := s.perms.RequireSiteAdmin(ctx, actorID); err != nil {
		return err
	}
	ban, err := s.store.UserBans.Get(ctx, banID)
	if err != nil {
		return fmt.Errorf("ban %d: %w", banID, err)
	}
	if ban.AppealStatus != models.AppealPending {
		return apperr.Invalid("ban has no pending appeal")
	}

	if approve {
		err = s.store.UserBans.Delete(ctx, ban)
	} else {
		at := s.now()
		ban.AppealStatus = models.AppealDenied
		ban.AppealReviewedAt = &at
		ban.AppealReviewedBy = &actorID
		err = s.store.UserBans.Update(ctx, ban)
	}
	if err != nil {
		return fmt.Errorf("review appeal: %w", err)
	}
	if approve {
		s.mark(ban.UserID, false)
	}

	slog.Info("appeal reviewed", "ban_id", banID, "approved", approve, "actor_id", actorID)
	s.reg.PublishEntity(ctx, callback.AppealReviewed, ban.UserID)
	return nil
}

func (s *BanService) PendingAppeals(ctx context.Context, actorID int64) ([]models.UserBan, error) {
	if err := s.perms.RequireSiteAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.store.UserBans.Find(ctx, store.Where("appeal_status = ?", models.AppealPending), store.OrderBy("appeal_submitted_at"))
}

func (s *BanService) PendingAppealCount(ctx context.Context, actorID int64) (int64, error) {
	if err := s.perms.RequireSiteAdmin(ctx, actorID); err != nil {
		return 0, err
	}
	return s.store.UserBans.Count(ctx, store.Where("appeal_status = ?", models.AppealPending))
}

// AllBans lists every ban, newest first.
func (s *BanService) AllBans(ctx context.Context, actorID int64) ([]models.UserBan, error) {
	if err := s.perms.RequireSiteAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.store.UserBans.Find(ctx, store.OrderBy("banned_at DESC, id DESC"))
}
