package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/migration_backend/config"
	"bitbucket.org/mmdatafocus/migration_backend/models"
	"bitbucket.org/mmdatafocus/migration_backend/utils"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDuplicateChunk   = errors.New("a different payload already exists at these chunk coordinates")
	ErrIncompleteUpload = errors.New("declared chunk count does not match received count")
	ErrNotFileSource    = errors.New("live sources are extracted server-side; chunk upload is for file sources")
	ErrNoEntityTypes    = errors.New("at least one entity type is required")
)

// CreateSession validates the request and opens a new migration session in
// state Created with a retention TTL.
func CreateSession(ctx context.Context, db *gorm.DB, businessId string, sourceType models.MigrationSourceType, entityTypes []models.MigrationEntityType, adapterConfigRaw json.RawMessage) (*models.MigrationSession, error) {
	if !sourceType.IsValid() {
		return nil, fmt.Errorf("%w: unknown source type %q", ErrInvalidSourceConfig, sourceType)
	}
	entityTypes = utils.UniqueSlice(entityTypes)
	if len(entityTypes) == 0 {
		return nil, ErrNoEntityTypes
	}
	for _, et := range entityTypes {
		if !et.IsValid() {
			return nil, fmt.Errorf("%w: unknown entity type %q", ErrInvalidSourceConfig, et)
		}
	}

	cfg, err := DecodeAdapterConfig(adapterConfigRaw)
	if err != nil {
		return nil, err
	}
	if err := ValidateAdapterConfig(sourceType, cfg, entityTypes); err != nil {
		return nil, err
	}

	entityTypesJSON, _ := json.Marshal(entityTypes)
	session := &models.MigrationSession{
		ID:                uuid.NewString(),
		BusinessId:        businessId,
		SourceType:        sourceType,
		State:             models.MigrationSessionStateCreated,
		EntityTypesJSON:   entityTypesJSON,
		AdapterConfigJSON: adapterConfigRaw,
		ExpiresAt:         time.Now().UTC().Add(time.Duration(config.SessionRetentionHours()) * time.Hour),
	}
	if err := db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

// UploadChunk receives one chunk payload for a file-source session. Re-upload
// of an identical payload at the same coordinates is a no-op success so
// clients can retry blindly; a different payload at taken coordinates is a
// DuplicateChunk client error.
func UploadChunk(ctx context.Context, db *gorm.DB, businessId, sessionId string, entityType models.MigrationEntityType, sequenceIndex, totalChunks int, format string, payload []byte) (*models.MigrationChunk, error) {
	session, err := models.GetMigrationSession(ctx, db, businessId, sessionId)
	if err != nil {
		return nil, err
	}
	if !session.SourceType.IsFileSource() {
		return nil, ErrNotFileSource
	}
	if session.State != models.MigrationSessionStateCreated && session.State != models.MigrationSessionStateUploading {
		return nil, models.ErrSessionStateConflict
	}
	if !entityType.IsValid() || !session.HasEntityType(entityType) {
		return nil, fmt.Errorf("%w: session does not include entity type %q", ErrInvalidSourceConfig, entityType)
	}
	if !IsSupportedChunkFormat(format) {
		return nil, fmt.Errorf("%w: unsupported chunk format %q", ErrInvalidSourceConfig, format)
	}

	if session.State == models.MigrationSessionStateCreated {
		err := models.TransitionSession(ctx, db, sessionId,
			[]models.MigrationSessionState{models.MigrationSessionStateCreated},
			models.MigrationSessionStateUploading, nil)
		if err != nil && err != models.ErrSessionStateConflict {
			return nil, err
		}
	}

	checksum := ChunkChecksum(payload)
	chunk := &models.MigrationChunk{
		ID:            uuid.NewString(),
		BusinessId:    businessId,
		SessionId:     sessionId,
		EntityType:    entityType,
		SequenceIndex: sequenceIndex,
		State:         models.MigrationChunkStateReceived,
		Checksum:      checksum,
		SizeBytes:     int64(len(payload)),
		Format:        format,
	}
	chunk.ObjectKey = ChunkObjectKey(businessId, sessionId, chunk.ID, format)

	if err := db.WithContext(ctx).Create(chunk).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return resolveDuplicateChunk(ctx, db, sessionId, entityType, sequenceIndex, checksum)
		}
		return nil, err
	}

	if err := SaveChunkPayload(ctx, chunk, payload); err != nil {
		// claimed coordinates without a payload are useless; release them
		_ = db.WithContext(ctx).Delete(chunk).Error
		return nil, err
	}

	updates := map[string]interface{}{
		"chunks_received": gorm.Expr("chunks_received + 1"),
		"chunks_total":    gorm.Expr("chunks_total + 1"),
	}
	if totalChunks > 0 {
		updates["declared_chunks"] = totalChunks
	}
	if err := db.WithContext(ctx).Model(&models.MigrationSession{}).
		Where("id = ?", sessionId).Updates(updates).Error; err != nil {
		return nil, err
	}
	InvalidateStatusCache(sessionId)
	return chunk, nil
}

func resolveDuplicateChunk(ctx context.Context, db *gorm.DB, sessionId string, entityType models.MigrationEntityType, sequenceIndex int, checksum string) (*models.MigrationChunk, error) {
	var existing models.MigrationChunk
	err := db.WithContext(ctx).
		Where("session_id = ? AND entity_type = ? AND sequence_index = ?", sessionId, entityType, sequenceIndex).
		Take(&existing).Error
	if err != nil {
		return nil, err
	}
	if existing.Checksum == checksum {
		// idempotent retry of the same payload
		return &existing, nil
	}
	return nil, ErrDuplicateChunk
}

// FinalizeUpload closes the upload phase. The client declares its total chunk
// count on upload; a mismatch means chunks went missing in transit.
func FinalizeUpload(ctx context.Context, db *gorm.DB, businessId, sessionId string) (*models.MigrationSession, error) {
	session, err := models.GetMigrationSession(ctx, db, businessId, sessionId)
	if err != nil {
		return nil, err
	}
	if session.State != models.MigrationSessionStateUploading {
		return nil, models.ErrSessionStateConflict
	}
	if session.ChunksReceived == 0 {
		return nil, ErrIncompleteUpload
	}
	if session.DeclaredChunks > 0 && session.DeclaredChunks != session.ChunksReceived {
		return nil, ErrIncompleteUpload
	}

	err = models.TransitionSession(ctx, db, sessionId,
		[]models.MigrationSessionState{models.MigrationSessionStateUploading},
		models.MigrationSessionStateUploaded, nil)
	if err != nil {
		return nil, err
	}
	InvalidateStatusCache(sessionId)
	return models.GetMigrationSession(ctx, db, businessId, sessionId)
}

// StartValidation moves the session to Validating and dispatches the
// validation job. The compare-and-set transition makes double-triggering
// harmless: the loser sees a state conflict and gets the live job back.
func StartValidation(ctx context.Context, db *gorm.DB, businessId, sessionId string) (*models.MigrationJob, error) {
	session, err := models.GetMigrationSession(ctx, db, businessId, sessionId)
	if err != nil {
		return nil, err
	}

	err = models.TransitionSession(ctx, db, sessionId,
		[]models.MigrationSessionState{models.MigrationSessionStateUploaded},
		models.MigrationSessionStateValidating, nil)
	if err == models.ErrSessionStateConflict {
		if session.State == models.MigrationSessionStateValidating {
			if live, liveErr := models.FindLiveJob(ctx, db, sessionId, models.MigrationJobKindValidate); liveErr == nil && live != nil {
				return live, nil
			}
		}
		return nil, models.ErrSessionStateConflict
	}
	if err != nil {
		return nil, err
	}

	job, err := enqueueJob(ctx, db, session, models.MigrationJobKindValidate, false)
	if err != nil {
		return nil, err
	}
	InvalidateStatusCache(sessionId)
	return job, nil
}

// StartImport enqueues the import executor exactly once per session. The
// Validated -> Importing compare-and-set is the single-flight gate: the
// winner creates the job, every later call returns the same handle.
func StartImport(ctx context.Context, db *gorm.DB, businessId, sessionId string, skipWarnings bool) (*models.MigrationJob, error) {
	session, err := models.GetMigrationSession(ctx, db, businessId, sessionId)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = models.TransitionSession(ctx, db, sessionId,
		[]models.MigrationSessionState{models.MigrationSessionStateValidated},
		models.MigrationSessionStateImporting,
		map[string]interface{}{"started_at": &now})
	if err == models.ErrSessionStateConflict {
		live, liveErr := models.FindLiveJob(ctx, db, sessionId, models.MigrationJobKindImport)
		if liveErr != nil {
			return nil, liveErr
		}
		if live != nil {
			return live, nil
		}
		return nil, models.ErrSessionStateConflict
	}
	if err != nil {
		return nil, err
	}

	job, err := enqueueJob(ctx, db, session, models.MigrationJobKindImport, skipWarnings)
	if err != nil {
		return nil, err
	}
	InvalidateStatusCache(sessionId)
	return job, nil
}

// StartExtraction dispatches server-side extraction for live (non-file)
// sources: the adapter pulls rows from the legacy system and materializes
// them as chunks, after which the flow is identical to an uploaded session.
func StartExtraction(ctx context.Context, db *gorm.DB, businessId, sessionId string) (*models.MigrationJob, error) {
	session, err := models.GetMigrationSession(ctx, db, businessId, sessionId)
	if err != nil {
		return nil, err
	}
	if session.SourceType.IsFileSource() {
		return nil, fmt.Errorf("%w: %s sessions upload chunks instead", ErrInvalidSourceConfig, session.SourceType)
	}

	err = models.TransitionSession(ctx, db, sessionId,
		[]models.MigrationSessionState{models.MigrationSessionStateCreated, models.MigrationSessionStateUploading},
		models.MigrationSessionStateUploading, nil)
	if err == models.ErrSessionStateConflict && session.State == models.MigrationSessionStateUploading {
		if live, liveErr := models.FindLiveJob(ctx, db, sessionId, models.MigrationJobKindExtract); liveErr == nil && live != nil {
			return live, nil
		}
	}
	if err != nil && err != models.ErrSessionStateConflict {
		return nil, err
	}

	if live, err := models.FindLiveJob(ctx, db, sessionId, models.MigrationJobKindExtract); err != nil {
		return nil, err
	} else if live != nil {
		return live, nil
	}

	job, err := enqueueJob(ctx, db, session, models.MigrationJobKindExtract, false)
	if err != nil {
		return nil, err
	}
	InvalidateStatusCache(sessionId)
	return job, nil
}

func enqueueJob(ctx context.Context, db *gorm.DB, session *models.MigrationSession, kind models.MigrationJobKind, skipWarnings bool) (*models.MigrationJob, error) {
	job := &models.MigrationJob{
		ID:           uuid.NewString(),
		BusinessId:   session.BusinessId,
		SessionId:    session.ID,
		Kind:         kind,
		Status:       models.MigrationJobStatusQueued,
		SkipWarnings: skipWarnings,
	}
	if err := db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	if err := PublishMigrationJob(ctx, job); err != nil {
		// The direct processor will still pick the queued job up; publish
		// failure is logged, not fatal.
		config.LogError(config.GetLogger(), "migration", "enqueueJob", "publish job", map[string]interface{}{
			"jobId": job.ID,
			"kind":  kind,
		}, err)
	}
	return job, nil
}

// Cancel requests cooperative cancellation. Running validation/import tasks
// observe the terminal state between chunks and stop; work already written
// stays written.
func Cancel(ctx context.Context, db *gorm.DB, businessId, sessionId string) error {
	session, err := models.GetMigrationSession(ctx, db, businessId, sessionId)
	if err != nil {
		return err
	}
	if session.State.IsTerminal() {
		return models.ErrSessionStateConflict
	}

	now := time.Now().UTC()
	res := db.WithContext(ctx).Model(&models.MigrationSession{}).
		Where("id = ? AND state NOT IN ?", sessionId, []models.MigrationSessionState{
			models.MigrationSessionStateCompleted,
			models.MigrationSessionStateFailed,
			models.MigrationSessionStateCancelled,
			models.MigrationSessionStateExpired,
		}).
		Updates(map[string]interface{}{
			"state":       models.MigrationSessionStateCancelled,
			"finished_at": &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrSessionStateConflict
	}
	InvalidateStatusCache(sessionId)
	return nil
}

// SessionSnapshot is the read model GetStatus serves. It never blocks on
// in-flight work; everything here comes from denormalized session columns.
type SessionSnapshot struct {
	SessionId   string                                            `json:"session_id"`
	BusinessId  string                                            `json:"business_id"`
	SourceType  models.MigrationSourceType                        `json:"source_type"`
	State       models.MigrationSessionState                      `json:"state"`
	EntityTypes []models.MigrationEntityType                      `json:"entity_types"`
	Chunks      SnapshotChunkCounters                             `json:"chunks"`
	Records     SnapshotRecordCounters                            `json:"records"`
	ByType      map[models.MigrationEntityType]models.EntityStats `json:"by_entity_type"`

	ErrorCode    models.MigrationErrorCode `json:"error_code,omitempty"`
	ErrorMessage string                    `json:"error_message,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type SnapshotChunkCounters struct {
	Declared int `json:"declared"`
	Total    int `json:"total"`
	Received int `json:"received"`
}

type SnapshotRecordCounters struct {
	Total    int `json:"total"`
	Valid    int `json:"valid"`
	Warning  int `json:"warning"`
	Error    int `json:"error"`
	Skipped  int `json:"skipped"`
	Fixed    int `json:"fixed"`
	Imported int `json:"imported"`
}

const statusCacheTTL = 5 * time.Second

// GetStatus serves the snapshot from a short-lived Redis cache so status
// polling never contends with import writes, falling back to the DB row.
func GetStatus(ctx context.Context, db *gorm.DB, businessId, sessionId string) (*SessionSnapshot, error) {
	// A cached snapshot only serves the tenant that owns it; any other caller
	// falls through to the business-scoped DB lookup.
	if cached, err := utils.RetrieveRedis[SessionSnapshot](sessionId); err == nil && snapshotServable(cached, businessId) {
		return cached, nil
	}

	session, err := models.GetMigrationSession(ctx, db, businessId, sessionId)
	if err != nil {
		return nil, err
	}
	snapshot := snapshotOf(session)
	_ = utils.StoreRedis[SessionSnapshot](snapshot, sessionId, statusCacheTTL)
	return snapshot, nil
}

func snapshotOf(session *models.MigrationSession) *SessionSnapshot {
	byType := map[models.MigrationEntityType]models.EntityStats{}
	for et, stats := range models.DecodeSessionStats(session.StatsJSON) {
		if stats != nil {
			byType[et] = *stats
		}
	}
	return &SessionSnapshot{
		SessionId:   session.ID,
		BusinessId:  session.BusinessId,
		SourceType:  session.SourceType,
		State:       session.State,
		EntityTypes: session.EntityTypes(),
		Chunks: SnapshotChunkCounters{
			Declared: session.DeclaredChunks,
			Total:    session.ChunksTotal,
			Received: session.ChunksReceived,
		},
		Records: SnapshotRecordCounters{
			Total:    session.RecordsTotal,
			Valid:    session.RecordsValid,
			Warning:  session.RecordsWarning,
			Error:    session.RecordsError,
			Skipped:  session.RecordsSkipped,
			Fixed:    session.RecordsFixed,
			Imported: session.RecordsImported,
		},
		ByType:       byType,
		ErrorCode:    session.ErrorCode,
		ErrorMessage: session.ErrorMessage,
		CreatedAt:    session.CreatedAt,
		ExpiresAt:    session.ExpiresAt,
		StartedAt:    session.StartedAt,
		FinishedAt:   session.FinishedAt,
	}
}

func snapshotServable(snapshot *SessionSnapshot, businessId string) bool {
	return snapshot != nil && snapshot.BusinessId == businessId
}

func InvalidateStatusCache(sessionId string) {
	_ = utils.RemoveRedisItem[SessionSnapshot](sessionId)
}

// ListRecords pages through a session's record reports for review, usually
// filtered to state=Error.
func ListRecords(ctx context.Context, db *gorm.DB, businessId, sessionId string, state models.MigrationRecordState, page, pageSize int) ([]*models.MigrationRecordReport, int64, error) {
	if _, err := models.GetMigrationSession(ctx, db, businessId, sessionId); err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 100
	}

	query := db.WithContext(ctx).Model(&models.MigrationRecordReport{}).
		Where("session_id = ?", sessionId)
	if state != "" {
		query = query.Where("state = ?", state)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []*models.MigrationRecordReport
	err := query.
		Order("chunk_id, row_index ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error
	return records, total, err
}

// ListSessions returns the tenant's migration history, newest first.
func ListSessions(ctx context.Context, db *gorm.DB, businessId string, state models.MigrationSessionState, limit int) ([]*models.MigrationSession, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	query := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("created_at DESC").
		Limit(limit)
	if state != "" {
		query = query.Where("state = ?", state)
	}
	var sessions []*models.MigrationSession
	err := query.Find(&sessions).Error
	return sessions, err
}

// FixRecord applies a user correction to an Error (or Warning) record and
// re-runs the field and referential rules on the merged values. Acceptance
// moves the record to Fixed, which imports the corrected values.
func FixRecord(ctx context.Context, db *gorm.DB, businessId, sessionId string, recordId uint, correction map[string]string, resolver KeyResolver) (*models.MigrationRecordReport, error) {
	session, err := models.GetMigrationSession(ctx, db, businessId, sessionId)
	if err != nil {
		return nil, err
	}
	if session.State != models.MigrationSessionStateValidated {
		return nil, models.ErrSessionStateConflict
	}

	record, err := models.GetMigrationRecordReport(ctx, db, businessId, recordId)
	if err != nil {
		return nil, err
	}
	if record.SessionId != sessionId {
		return nil, models.ErrRecordReportNotFound
	}

	// merge correction over the originally normalized fields and re-run the
	// rule pipeline on the result
	merged := RawRow{}
	for k, v := range record.Fields() {
		merged[k] = v
	}
	for k, v := range correction {
		merged[k] = v
	}

	candidate, findings := NormalizeRow(record.EntityType, merged)
	if candidate != nil {
		refFindings, err := evaluateReferences(ctx, businessId, sessionId, record.EntityType, candidate, resolver)
		if err != nil {
			return nil, err
		}
		findings = append(findings, refFindings...)
	}

	newState := verdictState(findings)
	accepted := newState != models.MigrationRecordStateError && candidate != nil
	fixJSON, _ := json.Marshal(correction)
	findingsJSON, _ := json.Marshal(findings)

	oldState := record.State
	updates := map[string]interface{}{
		"fix_json":      fixJSON,
		"findings_json": findingsJSON,
	}
	if accepted {
		updates["state"] = models.MigrationRecordStateFixed
		updates["business_key"] = candidate.BusinessKey
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.MigrationRecordReport{}).
			Where("id = ?", record.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		if !accepted {
			return nil
		}
		if err := adjustRecordCounters(ctx, tx, sessionId, oldState, models.MigrationRecordStateFixed); err != nil {
			return err
		}
		if candidate.BusinessKey != "" {
			// the corrected record now satisfies downstream references
			key := &models.MigrationKeyIndex{
				BusinessId:  businessId,
				SessionId:   sessionId,
				EntityType:  record.EntityType,
				BusinessKey: candidate.BusinessKey,
				ChunkId:     record.ChunkId,
				RowIndex:    record.RowIndex,
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(key).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	InvalidateStatusCache(sessionId)
	return models.GetMigrationRecordReport(ctx, db, businessId, recordId)
}

func adjustRecordCounters(ctx context.Context, tx *gorm.DB, sessionId string, from, to models.MigrationRecordState) error {
	column := func(s models.MigrationRecordState) string {
		switch s {
		case models.MigrationRecordStateValid:
			return "records_valid"
		case models.MigrationRecordStateWarning:
			return "records_warning"
		case models.MigrationRecordStateError:
			return "records_error"
		case models.MigrationRecordStateSkipped:
			return "records_skipped"
		case models.MigrationRecordStateFixed:
			return "records_fixed"
		}
		return ""
	}
	fromCol, toCol := column(from), column(to)
	if fromCol == "" || toCol == "" || fromCol == toCol {
		return nil
	}
	return tx.WithContext(ctx).Model(&models.MigrationSession{}).
		Where("id = ?", sessionId).
		Updates(map[string]interface{}{
			fromCol: gorm.Expr(fromCol + " - 1"),
			toCol:   gorm.Expr(toCol + " + 1"),
		}).Error
}
