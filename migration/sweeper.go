package migration

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/migration_backend/config"
	"bitbucket.org/mmdatafocus/migration_backend/models"
	"gorm.io/gorm"
)

const sweepInterval = 10 * time.Minute

// SweepResult reports what one retention pass did.
type SweepResult struct {
	Expired      int
	BlobsDeleted int
}

// SweepOnce enforces session TTLs: any session still non-terminal past its
// expiry is forced to Expired, its import lock is released, and its chunk
// payload blobs are deleted. Terminal sessions past expiry also lose their
// blobs; the status rows stay for history.
func SweepOnce(ctx context.Context, db *gorm.DB, dryRun bool) (*SweepResult, error) {
	logger := config.GetLogger()
	result := &SweepResult{}
	now := time.Now().UTC()

	var overdue []*models.MigrationSession
	err := db.WithContext(ctx).
		Where("expires_at < ?", now).
		Find(&overdue).Error
	if err != nil {
		return nil, err
	}

	for _, session := range overdue {
		if !session.State.IsTerminal() {
			if dryRun {
				logger.WithField("sessionId", session.ID).Info("dry-run: would expire session")
				result.Expired++
			} else {
				res := db.WithContext(ctx).Model(&models.MigrationSession{}).
					Where("id = ? AND state NOT IN ?", session.ID, []models.MigrationSessionState{
						models.MigrationSessionStateCompleted,
						models.MigrationSessionStateFailed,
						models.MigrationSessionStateCancelled,
						models.MigrationSessionStateExpired,
					}).
					Updates(map[string]interface{}{
						"state":       models.MigrationSessionStateExpired,
						"finished_at": &now,
					})
				if res.Error != nil {
					config.LogError(logger, "migration", "SweepOnce", "expire session", map[string]interface{}{
						"sessionId": session.ID,
					}, res.Error)
					continue
				}
				if res.RowsAffected > 0 {
					result.Expired++
					_ = config.RemoveRedisKey(importLockKey(session.ID))
					InvalidateStatusCache(session.ID)
				}
			}
		}

		chunks, err := models.ListSessionChunks(ctx, db, session.ID)
		if err != nil {
			config.LogError(logger, "migration", "SweepOnce", "list chunks", map[string]interface{}{
				"sessionId": session.ID,
			}, err)
			continue
		}
		remaining := 0
		for _, chunk := range chunks {
			if chunk.ObjectKey != "" {
				remaining++
			}
		}
		if remaining == 0 {
			continue
		}
		if dryRun {
			logger.WithField("sessionId", session.ID).WithField("blobs", remaining).Info("dry-run: would delete chunk payloads")
			result.BlobsDeleted += remaining
			continue
		}
		if err := DeleteSessionPayloads(ctx, chunks); err != nil {
			config.LogError(logger, "migration", "SweepOnce", "delete payloads", map[string]interface{}{
				"sessionId": session.ID,
			}, err)
			continue
		}
		result.BlobsDeleted += remaining
		// blank object keys mark the blobs as reclaimed so the next pass
		// skips this session
		if err := db.WithContext(ctx).Model(&models.MigrationChunk{}).
			Where("session_id = ?", session.ID).
			Update("object_key", "").Error; err != nil {
			config.LogError(logger, "migration", "SweepOnce", "clear object keys", map[string]interface{}{
				"sessionId": session.ID,
			}, err)
		}
	}

	return result, nil
}

// RunRetentionSweeper runs SweepOnce periodically until ctx is cancelled.
func RunRetentionSweeper(ctx context.Context, db *gorm.DB) {
	logger := config.GetLogger()
	logger.Info("migration retention sweeper started")

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("migration retention sweeper stopped")
			return
		case <-ticker.C:
			result, err := SweepOnce(ctx, db, false)
			if err != nil {
				config.LogError(logger, "migration", "RunRetentionSweeper", "sweep", nil, err)
				continue
			}
			if result.Expired > 0 || result.BlobsDeleted > 0 {
				logger.WithField("expired", result.Expired).
					WithField("blobsDeleted", result.BlobsDeleted).
					Info("retention sweep completed")
			}
		}
	}
}
