package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/migration_backend/config"
	"bitbucket.org/mmdatafocus/migration_backend/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxJobAttempts        = 3
	directPollInterval    = 5 * time.Second
	staleRunningThreshold = 30 * time.Minute
)

// Processor executes migration jobs. Both delivery paths end up here: the
// Pub/Sub push endpoint and the direct-processor polling loop.
type Processor struct {
	db       *gorm.DB
	resolver KeyResolver
	writer   TargetWriter
	bindOnce sync.Once
}

// NewProcessor builds a processor over db. Pass nil to bind lazily to the
// global connection; routes are wired before the database retry loop
// finishes, and the readiness gate holds requests until it has.
func NewProcessor(db *gorm.DB) *Processor {
	p := &Processor{}
	if db != nil {
		p.bind(db)
	}
	return p
}

func (p *Processor) bind(db *gorm.DB) {
	p.db = db
	p.resolver = NewKeyResolver(db)
	p.writer = NewTargetWriter(db)
}

func (p *Processor) ensureBound() error {
	p.bindOnce.Do(func() {
		if p.db == nil {
			if db := config.GetDB(); db != nil {
				p.bind(db)
			}
		}
	})
	if p.db == nil {
		return errors.New("database not ready")
	}
	return nil
}

// ProcessJob claims and runs one job. Claiming is a Queued -> Running
// compare-and-set, so at-least-once delivery and the polling loop can both
// fire for the same job without running it twice. A panic anywhere below is
// converted to a Failed session rather than propagated; the engine never
// leaves a session non-terminal without an owning task.
func (p *Processor) ProcessJob(ctx context.Context, jobId string) (err error) {
	logger := config.GetLogger()

	if err := p.ensureBound(); err != nil {
		return err
	}

	job, err := models.GetMigrationJob(ctx, p.db, jobId)
	if err != nil {
		return err
	}
	if job.Status == models.MigrationJobStatusSucceeded || job.Status == models.MigrationJobStatusFailed {
		return nil
	}

	claimed, err := models.ClaimJob(ctx, p.db, jobId)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("job panic: %v", r)
			config.LogError(logger, "migration", "ProcessJob", "recovered panic", map[string]interface{}{
				"jobId":     jobId,
				"sessionId": job.SessionId,
				"kind":      job.Kind,
			}, cause)
			_ = models.FailSession(context.Background(), p.db, job.SessionId, models.MigrationErrorCodeInternal, cause.Error())
			_ = models.FinishJob(context.Background(), p.db, jobId, models.MigrationJobStatusFailed, cause.Error())
			InvalidateStatusCache(job.SessionId)
			err = nil
		}
	}()

	runErr := p.runJob(ctx, job)
	if errors.Is(runErr, ErrImportLockHeld) {
		// hand the job back for a later delivery
		if requeueErr := models.RequeueJob(ctx, p.db, jobId); requeueErr != nil {
			return requeueErr
		}
		return runErr
	}
	if runErr != nil {
		// reload for the attempt counter bumped by ClaimJob
		fresh, getErr := models.GetMigrationJob(ctx, p.db, jobId)
		attempts := maxJobAttempts
		if getErr == nil {
			attempts = fresh.Attempts
		}
		if attempts < maxJobAttempts {
			config.LogError(logger, "migration", "ProcessJob", "job failed, requeueing", map[string]interface{}{
				"jobId":    jobId,
				"attempts": attempts,
			}, runErr)
			if requeueErr := models.RequeueJob(ctx, p.db, jobId); requeueErr != nil {
				return requeueErr
			}
			return runErr
		}
		config.LogError(logger, "migration", "ProcessJob", "job failed permanently", map[string]interface{}{
			"jobId":     jobId,
			"sessionId": job.SessionId,
			"kind":      job.Kind,
		}, runErr)
		_ = models.FailSession(ctx, p.db, job.SessionId, models.MigrationErrorCodeInternal, runErr.Error())
		_ = models.FinishJob(ctx, p.db, jobId, models.MigrationJobStatusFailed, runErr.Error())
		InvalidateStatusCache(job.SessionId)
		return nil
	}

	return models.FinishJob(ctx, p.db, jobId, models.MigrationJobStatusSucceeded, "")
}

func (p *Processor) runJob(ctx context.Context, job *models.MigrationJob) error {
	switch job.Kind {
	case models.MigrationJobKindExtract:
		return p.RunExtraction(ctx, job.SessionId)
	case models.MigrationJobKindValidate:
		return RunValidation(ctx, p.db, job.SessionId, p.resolver)
	case models.MigrationJobKindImport:
		return RunImport(ctx, p.db, job.SessionId, job.SkipWarnings, p.writer)
	}
	return fmt.Errorf("unknown job kind %q", job.Kind)
}

// RunExtraction pulls rows from a live source and materializes them as
// chunks, one chunk per adapter page, in dependency order. The adapter
// cursor is persisted with each chunk, so a dropped ERP connection resumes
// from the last stored page instead of re-reading millions of rows.
func (p *Processor) RunExtraction(ctx context.Context, sessionId string) error {
	session, err := getSessionAnyTenant(ctx, p.db, sessionId)
	if err != nil {
		return err
	}
	if session.State != models.MigrationSessionStateUploading {
		return nil
	}

	cfg, err := DecodeAdapterConfig(session.AdapterConfigJSON)
	if err != nil {
		return p.failExtraction(ctx, sessionId, models.MigrationErrorCodeInvalidSourceConfig, err)
	}
	adapter, err := NewSourceAdapter(session.SourceType, cfg)
	if err != nil {
		return p.failExtraction(ctx, sessionId, models.MigrationErrorCodeInvalidSourceConfig, err)
	}

	if err := adapter.Connect(ctx); err != nil {
		return p.failExtraction(ctx, sessionId, extractionErrorCode(err), err)
	}
	defer adapter.Disconnect()

	cursors := models.DecodeCursorState(session.CursorStateJSON)

	for _, et := range SessionImportOrder(session.EntityTypes()) {
		sequenceIndex, err := p.nextSequenceIndex(ctx, sessionId, et)
		if err != nil {
			return err
		}
		cursor := cursors[et]
		if cursor == extractionDoneCursor {
			continue
		}

		for {
			if cancelled, err := sessionWasCancelled(ctx, p.db, sessionId); err != nil {
				return err
			} else if cancelled {
				return nil
			}

			page, err := adapter.Extract(ctx, et, cursor)
			if err != nil {
				return p.failExtraction(ctx, sessionId, extractionErrorCode(err), err)
			}

			if len(page.Rows) > 0 {
				if err := p.materializeChunk(ctx, session, et, sequenceIndex, page); err != nil {
					return err
				}
				sequenceIndex++
			}
			cursor = page.Cursor
			if page.Done {
				cursor = extractionDoneCursor
			}
			cursors[et] = cursor
			if err := p.persistCursors(ctx, sessionId, cursors); err != nil {
				return err
			}
			if page.Done {
				break
			}
		}
	}

	err = models.TransitionSession(ctx, p.db, sessionId,
		[]models.MigrationSessionState{models.MigrationSessionStateUploading},
		models.MigrationSessionStateUploaded, nil)
	if err != nil && err != models.ErrSessionStateConflict {
		return err
	}
	InvalidateStatusCache(sessionId)
	return nil
}

// sentinel stored in the cursor map once an entity type is fully extracted
const extractionDoneCursor = "__done__"

func extractionErrorCode(err error) models.MigrationErrorCode {
	switch {
	case errors.Is(err, ErrAuthenticationFail):
		return models.MigrationErrorCodeAuthenticationFailed
	case errors.Is(err, ErrInvalidSourceConfig):
		return models.MigrationErrorCodeInvalidSourceConfig
	default:
		return models.MigrationErrorCodeSourceUnreachable
	}
}

func (p *Processor) failExtraction(ctx context.Context, sessionId string, code models.MigrationErrorCode, cause error) error {
	config.LogError(config.GetLogger(), "migration", "RunExtraction", "extraction failed", map[string]interface{}{
		"sessionId": sessionId,
		"errorCode": code,
	}, cause)
	if err := models.FailSession(ctx, p.db, sessionId, code, cause.Error()); err != nil && err != models.ErrSessionStateConflict {
		return err
	}
	InvalidateStatusCache(sessionId)
	return nil
}

func (p *Processor) nextSequenceIndex(ctx context.Context, sessionId string, entityType models.MigrationEntityType) (int, error) {
	var count int64
	err := p.db.WithContext(ctx).Model(&models.MigrationChunk{}).
		Where("session_id = ? AND entity_type = ?", sessionId, entityType).
		Count(&count).Error
	return int(count), err
}

func (p *Processor) materializeChunk(ctx context.Context, session *models.MigrationSession, entityType models.MigrationEntityType, sequenceIndex int, page *ExtractPage) error {
	payload, err := EncodeRowsPayload(page.Rows)
	if err != nil {
		return err
	}

	chunk := &models.MigrationChunk{
		ID:            uuid.NewString(),
		BusinessId:    session.BusinessId,
		SessionId:     session.ID,
		EntityType:    entityType,
		SequenceIndex: sequenceIndex,
		State:         models.MigrationChunkStateReceived,
		Checksum:      ChunkChecksum(payload),
		SizeBytes:     int64(len(payload)),
		Format:        ChunkFormatRows,
	}
	chunk.ObjectKey = ChunkObjectKey(session.BusinessId, session.ID, chunk.ID, chunk.Format)

	if err := SaveChunkPayload(ctx, chunk, payload); err != nil {
		return err
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(chunk).Error; err != nil {
			return err
		}
		return tx.Model(&models.MigrationSession{}).
			Where("id = ?", session.ID).
			Updates(map[string]interface{}{
				"chunks_received": gorm.Expr("chunks_received + 1"),
				"chunks_total":    gorm.Expr("chunks_total + 1"),
			}).Error
	})
}

func (p *Processor) persistCursors(ctx context.Context, sessionId string, cursors map[models.MigrationEntityType]string) error {
	return p.db.WithContext(ctx).Model(&models.MigrationSession{}).
		Where("id = ?", sessionId).
		Update("cursor_state_json", models.EncodeCursorState(cursors)).Error
}

// RunDirectProcessor polls for queued jobs and executes them in-process.
// It is the fallback for environments without Pub/Sub push delivery (local
// dev, single-instance deploys) and the safety net for lost messages.
func (p *Processor) RunDirectProcessor(ctx context.Context) {
	logger := config.GetLogger()
	logger.Info("migration direct processor started")

	ticker := time.NewTicker(directPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("migration direct processor stopped")
			return
		case <-ticker.C:
			if err := p.processQueuedJobs(ctx); err != nil {
				config.LogError(logger, "migration", "RunDirectProcessor", "poll", nil, err)
			}
		}
	}
}

func (p *Processor) processQueuedJobs(ctx context.Context) error {
	if err := p.ensureBound(); err != nil {
		return err
	}
	if err := p.requeueStaleRunning(ctx); err != nil {
		return err
	}

	var jobs []*models.MigrationJob
	err := p.db.WithContext(ctx).
		Where("status = ?", models.MigrationJobStatusQueued).
		Order("created_at ASC").
		Limit(5).
		Find(&jobs).Error
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if err := p.ProcessJob(ctx, job.ID); err != nil && !errors.Is(err, ErrImportLockHeld) {
			config.LogError(config.GetLogger(), "migration", "processQueuedJobs", "process", map[string]interface{}{
				"jobId": job.ID,
			}, err)
		}
	}
	return nil
}

// requeueStaleRunning recovers jobs whose worker died mid-run. The job comes
// back as Queued; validation and import are both resume-safe.
func (p *Processor) requeueStaleRunning(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-staleRunningThreshold)
	return p.db.WithContext(ctx).Model(&models.MigrationJob{}).
		Where("status = ? AND started_at < ?", models.MigrationJobStatusRunning, cutoff).
		Update("status", models.MigrationJobStatusQueued).Error
}
