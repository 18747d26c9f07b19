package models

import "time"

type AppealStatus string

const (
	AppealNone     AppealStatus = "none"
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealDenied   AppealStatus = "denied"
)

// UserBan is a site-wide ban; at most one per user.
type UserBan struct {
	ID                int64        `gorm:"primaryKey" json:"id"`
	UserID            int64        `gorm:"uniqueIndex;not null" json:"user_id"`
	BannedByID        int64        `gorm:"not null" json:"banned_by_id"`
	Reason            string       `json:"reason"`
	BannedAt          time.Time    `gorm:"not null" json:"banned_at"`
	AppealStatus      AppealStatus `gorm:"not null;default:none;index" json:"appeal_status"`
	AppealReason      string       `json:"appeal_reason,omitempty"`
	AppealSubmittedAt *time.Time   `json:"appeal_submitted_at,omitempty"`
	AppealReviewedAt  *time.Time   `json:"appeal_reviewed_at,omitempty"`
	AppealReviewedBy  *int64       `json:"appeal_reviewed_by,omitempty"`
}

// UserTimeout blocks posting in one server until ExpiresAt.
type UserTimeout struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	UserID     int64     `gorm:"index:idx_timeout_user_server;not null" json:"user_id"`
	ServerID   int64     `gorm:"index:idx_timeout_user_server;not null" json:"server_id"`
	IssuedByID int64     `gorm:"not null" json:"issued_by_id"`
	Reason     string    `json:"reason"`
	IssuedAt   time.Time `gorm:"not null" json:"issued_at"`
	ExpiresAt  time.Time `gorm:"index;not null" json:"expires_at"`
}

type ReportStatus string

const (
	ReportOpen      ReportStatus = "open"
	ReportReviewed  ReportStatus = "reviewed"
	ReportDismissed ReportStatus = "dismissed"
)

type UserReport struct {
	ID             int64        `gorm:"primaryKey" json:"id"`
	ReporterID     int64        `gorm:"index;not null" json:"reporter_id"`
	ReportedUserID int64        `gorm:"index;not null" json:"reported_user_id"`
	Reason         string       `gorm:"not null" json:"reason"`
	Status         ReportStatus `gorm:"not null;default:open;index" json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	ReviewedAt     *time.Time   `json:"reviewed_at,omitempty"`
	ReviewedByID   *int64       `json:"reviewed_by_id,omitempty"`
}
