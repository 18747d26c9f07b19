package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"guild-server/internal/apperr"
	"guild-server/internal/callback"
	"guild-server/internal/models"
	"guild-server/internal/permission"
	"guild-server/internal/store"
)

const (
	minReportLength = 10
	maxReportLength = 500

	duplicateReportWindow = 24 * time.Hour
)

// ReportService lets users flag each other for site administrators.
type ReportService struct {
	store *store.Store
	perms *permission.Engine
	reg   *callback.Registry
	now   func() time.Time
}

func NewReportService(s *store.Store, perms *permission.Engine, reg *callback.Registry) *ReportService {
	return &ReportService{
		store: s,
		perms: perms,
		reg:   reg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ReportUser files a report by reporterID against reportedID.
func (s *ReportService) ReportUser(ctx context.Context, reporterID, reportedID int64, reason string) (*models.UserReport, error) {
	if reporterID == reportedID {
		return nil, apperr.Invalid("you cannot report yourself")
	}
	reason = strings.TrimSpace(reason)
	if n := utf8.RuneCountInString(reason); n < minReportLength || n > maxReportLength {
		return nil, apperr.Invalid("reason must be between %d and %d characters", minReportLength, maxReportLength)
	}
	for _, id := range []int64{reporterID, reportedID} {
		if ok, err := s.store.Users.Exists(ctx, store.Where("id = ?", id)); err != nil {
			return nil, err
		} else if !ok {
			return nil, apperr.NotFound("user")
		}
	}

	now := s.now()
	dup, err := s.store.UserReports.Exists(ctx, store.Where(
		"reporter_id = ? AND reported_user_id = ? AND status = ? AND created_at > ?",
		reporterID, reportedID, models.ReportOpen, now.Add(-duplicateReportWindow)))
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, apperr.Conflict("you have already reported this user recently")
	}

	r := &models.UserReport{
		ReporterID:     reporterID,
		ReportedUserID: reportedID,
		Reason:         reason,
		Status:         models.ReportOpen,
		CreatedAt:      now,
	}
	if err := s.store.UserReports.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}

	slog.Info("user reported", "report_id", r.ID, "reported_user_id", reportedID)
	s.reg.Publish(ctx, callback.ReportSubmitted, callback.DeriveAdminID())
	return r, nil
}

func (s *ReportService) AllReports(ctx context.Context, actorID int64) ([]models.UserReport, error) {
	if err := s.perms.RequireSiteAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.store.UserReports.Find(ctx, store.OrderBy("created_at DESC, id DESC"))
}

func (s *ReportService) PendingReports(ctx context.Context, actorID int64) ([]models.UserReport, error) {
	if err := s.perms.RequireSiteAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.store.UserReports.Find(ctx, store.Where("status = ?", models.ReportOpen), store.OrderBy("created_at, id"))
}

func (s *ReportService) PendingReportCount(ctx context.Context, actorID int64) (int64, error) {
	if err := s.perms.RequireSiteAdmin(ctx, actorID); err != nil {
		return 0, err
	}
	return s.store.UserReports.Count(ctx, store.Where("status = ?", models.ReportOpen))
}

// ReportsAgainst lists the reports filed against userID, newest first.
func (s *ReportService) ReportsAgainst(ctx context.Context, actorID, userID int64) ([]models.UserReport, error) {
	if err := s.perms.RequireSiteAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	return s.store.UserReports.Find(ctx, store.Where("reported_user_id = ?", userID), store.OrderBy("created_at DESC, id DESC"))
}

// ReviewReport closes an open report as reviewed, or dismissed.
func (s *ReportService) ReviewReport(ctx context.Context, actorID, reportID int64, dismiss bool) (*models.UserReport, error) {
	if err := s.perms.RequireSiteAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	r, err := s.store.UserReports.Get(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("report %d: %w", reportID, err)
	}
	if r.Status != models.ReportOpen {
		return nil, apperr.Invalid("report has already been reviewed")
	}

	at := s.now()
	r.Status = models.ReportReviewed
	if dismiss {
		r.Status = models.ReportDismissed
	}
	r.ReviewedAt = &at
	r.ReviewedByID = &actorID
	if err := s.store.UserReports.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("review report: %w", err)
	}
	s.reg.Publish(ctx, callback.ReportSubmitted, callback.DeriveAdminID())
	return r, nil
}
