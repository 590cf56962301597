package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrJobNotFound = errors.New("migration job not found")

// MigrationJob is the durable handle for one background task (extract,
// validate, import) of a session. At most one job per (session, kind) is
// live at a time; re-triggering returns the existing handle instead of
// enqueueing a duplicate.
type MigrationJob struct {
	ID         string             `gorm:"primary_key;size:36" json:"id"`
	BusinessId string             `gorm:"index;size:36;not null" json:"business_id"`
	SessionId  string             `gorm:"index;size:36;not null" json:"session_id"`
	Kind       MigrationJobKind   `gorm:"size:20;not null" json:"kind"`
	Status     MigrationJobStatus `gorm:"index;size:20;not null" json:"status"`

	SkipWarnings bool   `json:"skip_warnings"`
	Attempts     int    `json:"attempts"`
	LastError    string `gorm:"type:text" json:"last_error"`

	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetMigrationJob(ctx context.Context, db *gorm.DB, jobId string) (*MigrationJob, error) {
	var job MigrationJob
	err := db.WithContext(ctx).Where("id = ?", jobId).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindLiveJob returns the queued/running job of the given kind, if any.
func FindLiveJob(ctx context.Context, db *gorm.DB, sessionId string, kind MigrationJobKind) (*MigrationJob, error) {
	var job MigrationJob
	err := db.WithContext(ctx).
		Where("session_id = ? AND kind = ? AND status IN ?", sessionId, kind,
			[]MigrationJobStatus{MigrationJobStatusQueued, MigrationJobStatusRunning}).
		Order("created_at DESC").
		Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimJob moves a job Queued -> Running with a compare-and-set UPDATE.
// Returns false when another worker already claimed it (safe under
// at-least-once Pub/Sub delivery and the direct-processor fallback).
func ClaimJob(ctx context.Context, db *gorm.DB, jobId string) (bool, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).Model(&MigrationJob{}).
		Where("id = ? AND status = ?", jobId, MigrationJobStatusQueued).
		Updates(map[string]interface{}{
			"status":     MigrationJobStatusRunning,
			"started_at": &now,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func FinishJob(ctx context.Context, db *gorm.DB, jobId string, status MigrationJobStatus, lastError string) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Model(&MigrationJob{}).
		Where("id = ?", jobId).
		Updates(map[string]interface{}{
			"status":      status,
			"last_error":  lastError,
			"finished_at": &now,
		}).Error
}

// RequeueJob returns a Running job to Queued, e.g. when the import
// single-flight lock is held by another instance.
func RequeueJob(ctx context.Context, db *gorm.DB, jobId string) error {
	return db.WithContext(ctx).Model(&MigrationJob{}).
		Where("id = ? AND status = ?", jobId, MigrationJobStatusRunning).
		Update("status", MigrationJobStatusQueued).Error
}
