package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"bitbucket.org/mmdatafocus/migration_backend/config"
	"bitbucket.org/mmdatafocus/migration_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeyResolver answers the referential questions of validation: has this
// business key been seen in this session (registered by an already-validated
// upstream chunk), or does it already exist in the tenant's target store?
// The engine core only talks to this interface, which keeps the rule
// semantics testable without a database.
type KeyResolver interface {
	SessionHasKey(ctx context.Context, sessionId string, entityType models.MigrationEntityType, key string) (bool, error)
	TargetHasKey(ctx context.Context, businessId string, entityType models.MigrationEntityType, key string) (bool, error)
}

type dbKeyResolver struct {
	db *gorm.DB
}

func NewKeyResolver(db *gorm.DB) KeyResolver {
	return &dbKeyResolver{db: db}
}

func (r *dbKeyResolver) SessionHasKey(ctx context.Context, sessionId string, entityType models.MigrationEntityType, key string) (bool, error) {
	return models.SessionKeyExists(ctx, r.db, sessionId, entityType, key)
}

func (r *dbKeyResolver) TargetHasKey(ctx context.Context, businessId string, entityType models.MigrationEntityType, key string) (bool, error) {
	return models.TargetKeyExists(ctx, r.db, businessId, entityType, key)
}

// RecordVerdict is the engine's output for one row.
type RecordVerdict struct {
	RowIndex    int
	BusinessKey string
	State       models.MigrationRecordState
	Fields      map[string]string
	Findings    []models.MigrationFinding
}

func verdictState(findings []models.MigrationFinding) models.MigrationRecordState {
	state := models.MigrationRecordStateValid
	for _, f := range findings {
		switch f.Severity {
		case models.MigrationRecordStateError:
			return models.MigrationRecordStateError
		case models.MigrationRecordStateWarning:
			state = models.MigrationRecordStateWarning
		}
	}
	return state
}

// EvaluateRows runs the full rule pipeline over one chunk's rows: normalize,
// field rules, referential rules, duplicate detection. A malformed row yields
// one Error verdict and evaluation continues; one bad row never aborts the
// chunk. Intra-chunk duplicates are tracked locally so they warn without a
// resolver round trip.
func EvaluateRows(ctx context.Context, businessId, sessionId string, entityType models.MigrationEntityType, rows []RawRow, resolver KeyResolver) ([]RecordVerdict, error) {
	verdicts := make([]RecordVerdict, 0, len(rows))
	seenKeys := map[string]bool{}

	for i, row := range rows {
		candidate, findings := NormalizeRow(entityType, row)
		if candidate == nil {
			verdicts = append(verdicts, RecordVerdict{
				RowIndex: i,
				State:    models.MigrationRecordStateError,
				Fields:   map[string]string{},
				Findings: findings,
			})
			continue
		}

		refFindings, err := evaluateReferences(ctx, businessId, sessionId, entityType, candidate, resolver)
		if err != nil {
			return nil, err
		}
		findings = append(findings, refFindings...)

		if candidate.BusinessKey != "" {
			duplicate := seenKeys[candidate.BusinessKey]
			if !duplicate {
				inSession, err := resolver.SessionHasKey(ctx, sessionId, entityType, candidate.BusinessKey)
				if err != nil {
					return nil, err
				}
				duplicate = inSession
			}
			if duplicate {
				findings = append(findings, models.MigrationFinding{
					Code:     models.MigrationErrorCodeDuplicateBusinessKey,
					Severity: models.MigrationRecordStateWarning,
					Message:  fmt.Sprintf("business key %q appears more than once in this session; later rows overwrite earlier ones", candidate.BusinessKey),
				})
			}
			seenKeys[candidate.BusinessKey] = true
		}

		verdicts = append(verdicts, RecordVerdict{
			RowIndex:    i,
			BusinessKey: candidate.BusinessKey,
			State:       verdictState(findings),
			Fields:      candidate.Fields,
			Findings:    findings,
		})
	}
	return verdicts, nil
}

// evaluateReferences checks every reference field against keys registered by
// upstream chunks of this session, falling back to the tenant's existing
// target data. Referencing an entity imported last year is fine; referencing
// a code nobody has ever seen is not.
func evaluateReferences(ctx context.Context, businessId, sessionId string, entityType models.MigrationEntityType, candidate *Candidate, resolver KeyResolver) ([]models.MigrationFinding, error) {
	var findings []models.MigrationFinding
	for _, ref := range References(entityType) {
		value := candidate.Fields[ref.Field]
		if value == "" {
			// missing required fields are already reported by field rules
			continue
		}
		inSession, err := resolver.SessionHasKey(ctx, sessionId, ref.RefType, value)
		if err != nil {
			return nil, err
		}
		if inSession {
			continue
		}
		inTarget, err := resolver.TargetHasKey(ctx, businessId, ref.RefType, value)
		if err != nil {
			return nil, err
		}
		if inTarget {
			continue
		}
		findings = append(findings, models.MigrationFinding{
			Code:     models.MigrationErrorCodeUnresolvedReference,
			Severity: models.MigrationRecordStateError,
			Field:    ref.Field,
			Message:  fmt.Sprintf("%s %q not found in this session or existing data", ref.RefType, value),
		})
	}
	return findings, nil
}

// VerdictCounts aggregates verdict states for counter roll-up.
type VerdictCounts struct {
	Total   int
	Valid   int
	Warning int
	Error   int
	Skipped int
	Fixed   int
}

func CountVerdicts(verdicts []RecordVerdict) VerdictCounts {
	counts := VerdictCounts{Total: len(verdicts)}
	for _, v := range verdicts {
		switch v.State {
		case models.MigrationRecordStateValid:
			counts.Valid++
		case models.MigrationRecordStateWarning:
			counts.Warning++
		case models.MigrationRecordStateError:
			counts.Error++
		case models.MigrationRecordStateSkipped:
			counts.Skipped++
		case models.MigrationRecordStateFixed:
			counts.Fixed++
		}
	}
	return counts
}

// ValidateChunk validates one chunk end to end: payload read, rule pipeline,
// record report persistence, key registration, chunk status. An unreadable
// payload is an infrastructure failure, not a data error, and is returned to
// the caller to fail the session.
func ValidateChunk(ctx context.Context, db *gorm.DB, session *models.MigrationSession, chunk *models.MigrationChunk, resolver KeyResolver) (VerdictCounts, error) {
	payload, err := ReadChunkPayload(ctx, chunk)
	if err != nil {
		return VerdictCounts{}, markChunkUnreadable(ctx, db, chunk, err)
	}
	rows, err := DecodeChunkRows(chunk.Format, payload)
	if err != nil {
		return VerdictCounts{}, markChunkUnreadable(ctx, db, chunk, err)
	}

	verdicts, err := EvaluateRows(ctx, session.BusinessId, session.ID, chunk.EntityType, rows, resolver)
	if err != nil {
		return VerdictCounts{}, err
	}

	if err := persistVerdicts(ctx, db, session, chunk, verdicts); err != nil {
		return VerdictCounts{}, err
	}

	counts := CountVerdicts(verdicts)
	err = models.MarkChunkState(ctx, db, chunk.ID, models.MigrationChunkStateValidated, map[string]interface{}{
		"records_total":   counts.Total,
		"records_valid":   counts.Valid,
		"records_warning": counts.Warning,
		"records_error":   counts.Error,
		"records_skipped": counts.Skipped,
		"records_fixed":   counts.Fixed,
		"error_code":      "",
		"error_message":   "",
	})
	if err != nil {
		return VerdictCounts{}, err
	}
	return counts, nil
}

type chunkUnreadableError struct {
	chunkId string
	cause   error
}

func (e *chunkUnreadableError) Error() string {
	return fmt.Sprintf("chunk %s unreadable: %v", e.chunkId, e.cause)
}

func markChunkUnreadable(ctx context.Context, db *gorm.DB, chunk *models.MigrationChunk, cause error) error {
	_ = models.MarkChunkState(ctx, db, chunk.ID, models.MigrationChunkStateFailed, map[string]interface{}{
		"error_code":    models.MigrationErrorCodeChunkUnreadable,
		"error_message": cause.Error(),
	})
	return &chunkUnreadableError{chunkId: chunk.ID, cause: cause}
}

// persistVerdicts replaces the chunk's record reports and registers its
// business keys. Re-validation of the same chunk starts from a clean slate.
func persistVerdicts(ctx context.Context, db *gorm.DB, session *models.MigrationSession, chunk *models.MigrationChunk, verdicts []RecordVerdict) error {
	if err := db.WithContext(ctx).
		Where("chunk_id = ?", chunk.ID).
		Delete(&models.MigrationRecordReport{}).Error; err != nil {
		return err
	}

	reports := make([]*models.MigrationRecordReport, 0, len(verdicts))
	var keys []*models.MigrationKeyIndex
	for _, v := range verdicts {
		fieldsJSON, _ := json.Marshal(v.Fields)
		findingsJSON, _ := json.Marshal(v.Findings)
		reports = append(reports, &models.MigrationRecordReport{
			BusinessId:   session.BusinessId,
			SessionId:    session.ID,
			ChunkId:      chunk.ID,
			EntityType:   chunk.EntityType,
			RowIndex:     v.RowIndex,
			BusinessKey:  v.BusinessKey,
			State:        v.State,
			FieldsJSON:   fieldsJSON,
			FindingsJSON: findingsJSON,
		})
		// Error rows don't register keys: a Product may not satisfy its
		// reference through a Category row that will never import.
		if v.BusinessKey != "" && v.State != models.MigrationRecordStateError {
			keys = append(keys, &models.MigrationKeyIndex{
				BusinessId:  session.BusinessId,
				SessionId:   session.ID,
				EntityType:  chunk.EntityType,
				BusinessKey: v.BusinessKey,
				ChunkId:     chunk.ID,
				RowIndex:    v.RowIndex,
			})
		}
	}

	const batchSize = 500
	if len(reports) > 0 {
		if err := db.WithContext(ctx).CreateInBatches(reports, batchSize).Error; err != nil {
			return err
		}
	}
	if len(keys) > 0 {
		if err := db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(keys, batchSize).Error; err != nil {
			return err
		}
	}
	return nil
}

// RunValidation validates every chunk of a session. Chunks of independent
// entity types run in parallel; a dependent type starts only after all chunks
// of its in-session predecessors finished, so referential checks see the
// complete upstream key set. On success the session moves to Validated with
// rolled-up counters; an unreadable chunk fails the whole session.
func RunValidation(ctx context.Context, db *gorm.DB, sessionId string, resolver KeyResolver) error {
	logger := config.GetLogger()

	session, err := getSessionAnyTenant(ctx, db, sessionId)
	if err != nil {
		return err
	}
	if session.State != models.MigrationSessionStateValidating {
		// Cancelled, expired, or a stale duplicate message.
		return nil
	}

	chunks, err := listSessionChunksAnyTenant(ctx, db, sessionId)
	if err != nil {
		return err
	}
	byType := map[models.MigrationEntityType][]*models.MigrationChunk{}
	for _, chunk := range chunks {
		byType[chunk.EntityType] = append(byType[chunk.EntityType], chunk)
	}

	requested := session.EntityTypes()
	order := SessionImportOrder(requested)
	done := map[models.MigrationEntityType]bool{}
	statsByType := map[models.MigrationEntityType]*models.EntityStats{}
	var total VerdictCounts

	for len(done) < len(order) {
		// Everything whose predecessors are done runs as one parallel batch.
		var batch []models.MigrationEntityType
		for _, et := range order {
			if !done[et] && ValidationReady(et, requested, done) {
				batch = append(batch, et)
			}
		}
		if len(batch) == 0 {
			return fmt.Errorf("dependency deadlock validating session %s", sessionId)
		}

		if cancelled, err := sessionWasCancelled(ctx, db, sessionId); err != nil {
			return err
		} else if cancelled {
			return nil
		}

		var (
			mu       sync.Mutex
			firstErr error
			wg       sync.WaitGroup
		)
		for _, et := range batch {
			wg.Add(1)
			go func(et models.MigrationEntityType) {
				defer wg.Done()
				counts, err := validateTypeChunks(ctx, db, session, byType[et], resolver)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				statsByType[et] = &models.EntityStats{
					ChunksTotal: len(byType[et]),
					Records:     counts.Total,
					Valid:       counts.Valid,
					Warning:     counts.Warning,
					Error:       counts.Error,
					Skipped:     counts.Skipped,
					Fixed:       counts.Fixed,
				}
				total.Total += counts.Total
				total.Valid += counts.Valid
				total.Warning += counts.Warning
				total.Error += counts.Error
				total.Skipped += counts.Skipped
				total.Fixed += counts.Fixed
			}(et)
		}
		wg.Wait()
		if firstErr != nil {
			config.LogError(logger, "migration", "RunValidation", "validate entity types", map[string]interface{}{
				"sessionId": sessionId,
			}, firstErr)
			return failValidation(ctx, db, sessionId, firstErr)
		}
		for _, et := range batch {
			done[et] = true
		}
	}

	err = models.TransitionSession(ctx, db, sessionId,
		[]models.MigrationSessionState{models.MigrationSessionStateValidating},
		models.MigrationSessionStateValidated,
		map[string]interface{}{
			"records_total":   total.Total,
			"records_valid":   total.Valid,
			"records_warning": total.Warning,
			"records_error":   total.Error,
			"records_skipped": total.Skipped,
			"records_fixed":   total.Fixed,
			"stats_json":      models.EncodeSessionStats(statsByType),
		})
	if err == models.ErrSessionStateConflict {
		// Cancelled while we were finishing up; the cancel wins.
		return nil
	}
	if err != nil {
		return err
	}
	InvalidateStatusCache(sessionId)
	return nil
}

// validateTypeChunks processes one entity type's chunks strictly in ascending
// sequence order. Each chunk's business keys are persisted before the next
// chunk evaluates, so a key split across two chunks always draws its
// DuplicateBusinessKey warning on the later chunk instead of depending on
// scheduling. Parallelism stays at the entity-type level.
func validateTypeChunks(ctx context.Context, db *gorm.DB, session *models.MigrationSession, chunks []*models.MigrationChunk, resolver KeyResolver) (VerdictCounts, error) {
	var total VerdictCounts
	for _, chunk := range chunks {
		counts, err := ValidateChunk(ctx, db, session, chunk, resolver)
		if err != nil {
			return total, err
		}
		total.Total += counts.Total
		total.Valid += counts.Valid
		total.Warning += counts.Warning
		total.Error += counts.Error
		total.Skipped += counts.Skipped
		total.Fixed += counts.Fixed
	}
	return total, nil
}

func failValidation(ctx context.Context, db *gorm.DB, sessionId string, cause error) error {
	code := models.MigrationErrorCodeInternal
	if _, ok := cause.(*chunkUnreadableError); ok {
		code = models.MigrationErrorCodeChunkUnreadable
	}
	if err := models.FailSession(ctx, db, sessionId, code, cause.Error()); err != nil && err != models.ErrSessionStateConflict {
		return err
	}
	InvalidateStatusCache(sessionId)
	return nil
}

func sessionWasCancelled(ctx context.Context, db *gorm.DB, sessionId string) (bool, error) {
	var state models.MigrationSessionState
	err := db.WithContext(ctx).Model(&models.MigrationSession{}).
		Where("id = ?", sessionId).
		Pluck("state", &state).Error
	if err != nil {
		return false, err
	}
	return state.IsTerminal(), nil
}

// background tasks run without a request context, so tenant-guard scoping by
// context business id doesn't apply; these lookups go by primary key.
func getSessionAnyTenant(ctx context.Context, db *gorm.DB, sessionId string) (*models.MigrationSession, error) {
	var session models.MigrationSession
	err := db.WithContext(ctx).Where("id = ?", sessionId).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func listSessionChunksAnyTenant(ctx context.Context, db *gorm.DB, sessionId string) ([]*models.MigrationChunk, error) {
	return models.ListSessionChunks(ctx, db, sessionId)
}
