package metrics

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MetricsSnapshot struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Timestamp         time.Time `gorm:"index" json:"timestamp"`
	HTTPBytesOut      int64     `gorm:"default:0" json:"http_bytes_out"`
	HTTPRequests      int64     `gorm:"default:0" json:"http_requests"`
	WebSocketBytesOut int64     `gorm:"default:0" json:"websocket_bytes_out"`
	WebSocketMessages int64     `gorm:"default:0" json:"websocket_messages"`
	Notifications     int64     `gorm:"default:0" json:"notifications"`
	HandlerFailures   int64     `gorm:"default:0" json:"handler_failures"`
	PermissionChecks  int64     `gorm:"default:0" json:"permission_checks"`
	PermissionDenials int64     `gorm:"default:0" json:"permission_denials"`
	ConnectedClients  int       `gorm:"default:0" json:"connected_clients"`
	CreatedAt         time.Time `json:"created_at"`
}

type MetricsHourly struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	HourBucket       time.Time `gorm:"uniqueIndex" json:"hour_bucket"`
	HTTPRequests     int64     `gorm:"default:0" json:"http_requests"`
	TotalBytesOut    int64     `gorm:"default:0" json:"total_bytes_out"`
	Notifications    int64     `gorm:"default:0" json:"notifications"`
	PermissionChecks int64     `gorm:"default:0" json:"permission_checks"`
	PeakClients      int       `gorm:"default:0" json:"peak_clients"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (MetricsSnapshot) TableName() string { return "metrics_snapshots" }

func (MetricsHourly) TableName() string { return "metrics_hourly" }

// Migrate creates the metrics tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&MetricsSnapshot{}, &MetricsHourly{}); err != nil {
		return fmt.Errorf("failed to migrate metrics tables: %w", err)
	}
	return nil
}

// Current reads every counter.
func Current() MetricsSnapshot {
	return MetricsSnapshot{
		Timestamp:         time.Now().UTC(),
		HTTPBytesOut:      atomic.LoadInt64(&HTTPBytesOut),
		HTTPRequests:      atomic.LoadInt64(&HTTPRequests),
		WebSocketBytesOut: atomic.LoadInt64(&WebSocketBytesOut),
		WebSocketMessages: atomic.LoadInt64(&WebSocketMessages),
		Notifications:     atomic.LoadInt64(&Notifications),
		HandlerFailures:   atomic.LoadInt64(&HandlerFailures),
		PermissionChecks:  atomic.LoadInt64(&PermissionChecks),
		PermissionDenials: atomic.LoadInt64(&PermissionDenials),
		ConnectedClients:  ConnectedClients(),
	}
}

// MetricsService periodically persists counter snapshots, rolls them up per
// hour and prunes old snapshots.
type MetricsService struct {
	db        *gorm.DB
	interval  time.Duration
	retention time.Duration
	done      chan struct{}
	stopped   chan struct{}
}

func NewMetricsService(db *gorm.DB, interval, retention time.Duration) *MetricsService {
	return &MetricsService{
		db:        db,
		interval:  interval,
		retention: retention,
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (ms *MetricsService) Start() {
	slog.Info("starting metrics service", "interval", ms.interval.String())
	ms.saveSnapshot()

	go func() {
		defer close(ms.stopped)
		snapshot := time.NewTicker(ms.interval)
		hourly := time.NewTicker(time.Hour)
		cleanup := time.NewTicker(24 * time.Hour)
		defer snapshot.Stop()
		defer hourly.Stop()
		defer cleanup.Stop()

		for {
			select {
			case <-snapshot.C:
				ms.saveSnapshot()
			case now := <-hourly.C:
				ms.aggregateHour(now)
			case now := <-cleanup.C:
				ms.cleanup(now)
			case <-ms.done:
				return
			}
		}
	}()
}

// Stop halts the background loop and writes a final snapshot.
func (ms *MetricsService) Stop() {
	close(ms.done)
	<-ms.stopped
	ms.saveSnapshot()
	slog.Info("metrics service stopped")
}

func (ms *MetricsService) saveSnapshot() {
	snap := Current()
	if err := ms.db.Create(&snap).Error; err != nil {
		slog.Error("saving metrics snapshot", "error", err)
	}
}

// aggregateHour upserts the rollup row for the hour containing now.
func (ms *MetricsService) aggregateHour(now time.Time) {
	bucket := now.UTC().Truncate(time.Hour)
	cur := Current()

	var peak int
	err := ms.db.Model(&MetricsSnapshot{}).
		Where("timestamp >= ?", bucket).
		Select("COALESCE(MAX(connected_clients), 0)").
		Scan(&peak).Error
	if err != nil {
		slog.Error("reading peak clients", "error", err)
	}

	row := MetricsHourly{
		HourBucket:       bucket,
		HTTPRequests:     cur.HTTPRequests,
		TotalBytesOut:    cur.HTTPBytesOut + cur.WebSocketBytesOut,
		Notifications:    cur.Notifications,
		PermissionChecks: cur.PermissionChecks,
		PeakClients:      max(peak, cur.ConnectedClients),
	}
	err = ms.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hour_bucket"}},
		DoUpdates: clause.AssignmentColumns([]string{"http_requests", "total_bytes_out", "notifications", "permission_checks", "peak_clients", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		slog.Error("updating hourly metrics", "error", err)
	}
}

func (ms *MetricsService) cleanup(now time.Time) {
	res := ms.db.Where("timestamp < ?", now.Add(-ms.retention)).Delete(&MetricsSnapshot{})
	if res.Error != nil {
		slog.Error("cleaning up metrics snapshots", "error", res.Error)
	} else if res.RowsAffected > 0 {
		slog.Info("cleaned up metrics snapshots", "removed", res.RowsAffected)
	}
}

func (ms *MetricsService) GetHourlyMetrics(hours int) ([]MetricsHourly, error) {
	var out []MetricsHourly
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	err := ms.db.Where("hour_bucket >= ?", cutoff).Order("hour_bucket DESC").Find(&out).Error
	return out, err
}

func (ms *MetricsService) GetSnapshotHistory(minutes int) ([]MetricsSnapshot, error) {
	var out []MetricsSnapshot
	cutoff := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)
	err := ms.db.Where("timestamp >= ?", cutoff).Order("timestamp DESC").Find(&out).Error
	return out, err
}
