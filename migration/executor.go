package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/migration_backend/config"
	"bitbucket.org/mmdatafocus/migration_backend/models"
	"bitbucket.org/mmdatafocus/migration_backend/utils"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	importLockTTL      = 15 * time.Minute
	maxChunkRetries    = 3
	chunkRetryBaseWait = 2 * time.Second
)

// ErrImportLockHeld means another instance is already running this session's
// import. The caller should requeue rather than fail.
var ErrImportLockHeld = errors.New("import already running on another instance")

// TargetWriter is the write sink of the import executor. Target stores are
// upsert-only keyed by business key, which is what makes re-running a chunk
// after a crash a no-op instead of a duplication.
type TargetWriter interface {
	UpsertRecord(ctx context.Context, businessId string, entityType models.MigrationEntityType, fields map[string]string) error
}

type dbTargetWriter struct {
	db *gorm.DB
}

func NewTargetWriter(db *gorm.DB) TargetWriter {
	return &dbTargetWriter{db: db}
}

func (w *dbTargetWriter) UpsertRecord(ctx context.Context, businessId string, entityType models.MigrationEntityType, fields map[string]string) error {
	value, err := buildTargetRecord(businessId, entityType, fields)
	if err != nil {
		return err
	}
	return models.UpsertByBusinessKey(ctx, w.db, value)
}

func decOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := utils.ParseDecimal(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func intOrZero(s string) int {
	d, err := utils.ParseDecimal(s)
	if err != nil {
		return 0
	}
	return int(d.IntPart())
}

func dateOrNil(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := utils.ParseFlexibleDate(s)
	if err != nil {
		return nil
	}
	return &t
}

// buildTargetRecord maps a normalized field map onto the entity's store
// model. Fields were normalized at validation time, so parsing here only
// fails for entity types without a store.
func buildTargetRecord(businessId string, entityType models.MigrationEntityType, f map[string]string) (interface{}, error) {
	key := BusinessKeyOf(entityType, f)
	switch entityType {
	case models.MigrationEntityTypeCategory:
		return &models.TargetCategory{BusinessId: businessId, Code: f["code"], Name: f["name"], ParentCode: f["parent_code"]}, nil
	case models.MigrationEntityTypeBrand:
		return &models.TargetBrand{BusinessId: businessId, Code: f["code"], Name: f["name"]}, nil
	case models.MigrationEntityTypeUnit:
		return &models.TargetUnit{BusinessId: businessId, Code: f["code"], Name: f["name"], Precision: intOrZero(f["precision"])}, nil
	case models.MigrationEntityTypeProduct:
		return &models.TargetProduct{
			BusinessId: businessId, Code: f["code"], Name: f["name"],
			CategoryCode: f["category_code"], BrandCode: f["brand_code"], UnitCode: f["unit_code"],
			Barcode:    f["barcode"],
			SalesPrice: decOrZero(f["sales_price"]), PurchasePrice: decOrZero(f["purchase_price"]),
			VatRate: decOrZero(f["vat_rate"]),
		}, nil
	case models.MigrationEntityTypeWarehouse:
		return &models.TargetWarehouse{BusinessId: businessId, Code: f["code"], Name: f["name"], City: f["city"]}, nil
	case models.MigrationEntityTypeLocation:
		return &models.TargetLocation{BusinessId: businessId, Code: f["code"], Name: f["name"], WarehouseCode: f["warehouse_code"]}, nil
	case models.MigrationEntityTypeStock:
		return &models.TargetStock{
			BusinessId: businessId, Code: key,
			ProductCode: f["product_code"], WarehouseCode: f["warehouse_code"],
			Quantity: decOrZero(f["quantity"]), UnitValue: decOrZero(f["unit_value"]),
		}, nil
	case models.MigrationEntityTypeStockMovement:
		return &models.TargetStockMovement{
			BusinessId: businessId, Code: key,
			ProductCode: f["product_code"], WarehouseCode: f["warehouse_code"],
			Direction: f["direction"],
			Quantity:  decOrZero(f["quantity"]), UnitValue: decOrZero(f["unit_value"]),
			MovementDate: dateOrNil(f["date"]),
		}, nil
	case models.MigrationEntityTypeCustomer:
		return &models.TargetCustomer{
			BusinessId: businessId, Code: f["code"], Name: f["name"],
			Email: f["email"], Phone: f["phone"],
			TaxNumber: f["tax_number"], TaxOffice: f["tax_office"],
			OpeningBalance: decOrZero(f["opening_balance"]),
		}, nil
	case models.MigrationEntityTypeSupplier:
		return &models.TargetSupplier{
			BusinessId: businessId, Code: f["code"], Name: f["name"],
			Email: f["email"], Phone: f["phone"],
			TaxNumber: f["tax_number"], TaxOffice: f["tax_office"],
			OpeningBalance: decOrZero(f["opening_balance"]),
		}, nil
	case models.MigrationEntityTypeInvoice:
		return &models.TargetInvoice{
			BusinessId: businessId, Code: f["code"], CustomerCode: f["customer_code"],
			InvoiceDate: dateOrNil(f["date"]), Currency: f["currency"],
			NetTotal: decOrZero(f["net_total"]), VatTotal: decOrZero(f["vat_total"]),
			GrandTotal: decOrZero(f["grand_total"]),
		}, nil
	case models.MigrationEntityTypeInvoiceItem:
		return &models.TargetInvoiceItem{
			BusinessId: businessId, Code: key,
			InvoiceNumber: f["invoice_number"], LineNumber: intOrZero(f["line_number"]),
			ProductCode: f["product_code"],
			Quantity:    decOrZero(f["quantity"]), UnitPrice: decOrZero(f["unit_price"]),
			VatRate: decOrZero(f["vat_rate"]), NetAmount: decOrZero(f["net_amount"]),
		}, nil
	case models.MigrationEntityTypeOpeningBalance:
		return &models.TargetOpeningBalance{
			BusinessId: businessId, Code: key,
			ProductCode: f["product_code"], WarehouseCode: f["warehouse_code"],
			Quantity: decOrZero(f["quantity"]), UnitValue: decOrZero(f["unit_value"]),
			AsOfDate: dateOrNil(f["date"]),
		}, nil
	case models.MigrationEntityTypePriceList:
		return &models.TargetPriceList{
			BusinessId: businessId, Code: key,
			ProductCode: f["product_code"], ListName: f["list_name"],
			Price: decOrZero(f["price"]), Currency: f["currency"],
		}, nil
	}
	return nil, fmt.Errorf("no target store for entity type %s", entityType)
}

func importLockKey(sessionId string) string {
	return "migration:import:" + sessionId
}

// RunImport executes the session's import. It is the single logical job per
// session: a redislock keyed on the session id rejects concurrent runs across
// instances, re-imported chunks are skipped by state, and record writes are
// idempotent upserts, so the job is safe to re-run after any crash.
func RunImport(ctx context.Context, db *gorm.DB, sessionId string, skipWarnings bool, writer TargetWriter) error {
	logger := config.GetLogger()

	var lock *redislock.Lock
	if locker := config.GetRedisLock(); locker != nil {
		var err error
		lock, err = locker.Obtain(ctx, importLockKey(sessionId), importLockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			return ErrImportLockHeld
		}
		if err != nil {
			return err
		}
		defer lock.Release(context.Background())
	}

	session, err := getSessionAnyTenant(ctx, db, sessionId)
	if err != nil {
		return err
	}
	if session.State != models.MigrationSessionStateImporting {
		// duplicate delivery after completion, or cancelled meanwhile
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

	// Hard barrier across entity types: the order is a topological sort, and
	// types run strictly one after another, so no Product row is written
	// before every Category chunk reached Imported.
	for _, et := range SessionImportOrder(session.EntityTypes()) {
		for _, chunk := range byType[et] {
			// cooperative cancel between chunks, never mid-chunk
			if cancelled, err := sessionWasCancelled(ctx, db, sessionId); err != nil {
				return err
			} else if cancelled {
				return nil
			}

			if chunk.State == models.MigrationChunkStateImported {
				// resumed run; this chunk's records are already upserted
				continue
			}
			if chunk.State != models.MigrationChunkStateValidated {
				return failImport(ctx, db, sessionId, chunk,
					fmt.Errorf("chunk %s is %s, expected Validated", chunk.ID, chunk.State))
			}

			if lock != nil {
				if err := lock.Refresh(ctx, importLockTTL, nil); err != nil {
					config.LogError(logger, "migration", "RunImport", "refresh import lock", map[string]interface{}{
						"sessionId": sessionId,
					}, err)
				}
			}

			imported, err := importChunkWithRetry(ctx, db, session, chunk, skipWarnings, writer)
			if err != nil {
				config.LogError(logger, "migration", "RunImport", "import chunk", map[string]interface{}{
					"sessionId": sessionId,
					"chunkId":   chunk.ID,
				}, err)
				return failImport(ctx, db, sessionId, chunk, err)
			}

			if err := finishChunkImport(ctx, db, sessionId, chunk.ID, imported); err != nil {
				return err
			}
			InvalidateStatusCache(sessionId)
		}
	}

	if err := rollUpImportStats(ctx, db, sessionId); err != nil {
		return err
	}
	now := time.Now().UTC()
	err = models.TransitionSession(ctx, db, sessionId,
		[]models.MigrationSessionState{models.MigrationSessionStateImporting},
		models.MigrationSessionStateCompleted,
		map[string]interface{}{"finished_at": &now})
	if err == models.ErrSessionStateConflict {
		return nil
	}
	if err != nil {
		return err
	}
	InvalidateStatusCache(sessionId)
	return nil
}

// importChunkWithRetry writes one chunk's importable records, retrying the
// whole chunk on transient target failures. Retrying from the top is safe
// because every write is an upsert.
func importChunkWithRetry(ctx context.Context, db *gorm.DB, session *models.MigrationSession, chunk *models.MigrationChunk, skipWarnings bool, writer TargetWriter) (int, error) {
	var lastErr error
	for attempt := 0; attempt < maxChunkRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(chunkRetryBaseWait << (attempt - 1)):
			}
		}
		imported, err := importChunk(ctx, db, session, chunk, skipWarnings, writer)
		if err == nil {
			return imported, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("chunk import failed after %d attempts: %w", maxChunkRetries, lastErr)
}

func importChunk(ctx context.Context, db *gorm.DB, session *models.MigrationSession, chunk *models.MigrationChunk, skipWarnings bool, writer TargetWriter) (int, error) {
	var records []*models.MigrationRecordReport
	err := db.WithContext(ctx).
		Where("chunk_id = ?", chunk.ID).
		Order("row_index ASC").
		Find(&records).Error
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, record := range records {
		if !record.State.Importable(skipWarnings) {
			continue
		}
		if err := writer.UpsertRecord(ctx, session.BusinessId, chunk.EntityType, record.Fields()); err != nil {
			return 0, err
		}
		imported++
	}
	return imported, nil
}

// finishChunkImport marks the chunk Imported and bumps the session's running
// counter in one transaction, so a crash between the two can't desync them.
func finishChunkImport(ctx context.Context, db *gorm.DB, sessionId, chunkId string, imported int) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.MarkChunkState(ctx, tx, chunkId, models.MigrationChunkStateImported, map[string]interface{}{
			"records_imported": imported,
			"attempts":         gorm.Expr("attempts + 1"),
		}); err != nil {
			return err
		}
		return tx.Model(&models.MigrationSession{}).
			Where("id = ?", sessionId).
			Update("records_imported", gorm.Expr("records_imported + ?", imported)).Error
	})
}

// failImport marks the failing chunk and the session Failed. Chunks already
// Imported stay Imported: partial success is preserved and reported, not
// rolled back, because the target stores are independently owned.
func failImport(ctx context.Context, db *gorm.DB, sessionId string, chunk *models.MigrationChunk, cause error) error {
	_ = models.MarkChunkState(ctx, db, chunk.ID, models.MigrationChunkStateFailed, map[string]interface{}{
		"error_code":    models.MigrationErrorCodeTargetWriteFailed,
		"error_message": cause.Error(),
	})
	if err := models.FailSession(ctx, db, sessionId, models.MigrationErrorCodeTargetWriteFailed, cause.Error()); err != nil && err != models.ErrSessionStateConflict {
		return err
	}
	InvalidateStatusCache(sessionId)
	return nil
}

// rollUpImportStats recomputes the per-entity imported counts from chunk rows
// into the session's stats blob.
func rollUpImportStats(ctx context.Context, db *gorm.DB, sessionId string) error {
	session, err := getSessionAnyTenant(ctx, db, sessionId)
	if err != nil {
		return err
	}
	stats := models.DecodeSessionStats(session.StatsJSON)

	type typeRollup struct {
		EntityType models.MigrationEntityType
		Chunks     int
		Imported   int
	}
	var rollups []typeRollup
	err = db.WithContext(ctx).Model(&models.MigrationChunk{}).
		Select("entity_type, COUNT(*) AS chunks, SUM(records_imported) AS imported").
		Where("session_id = ? AND state = ?", sessionId, models.MigrationChunkStateImported).
		Group("entity_type").
		Scan(&rollups).Error
	if err != nil {
		return err
	}
	for _, r := range rollups {
		entry := stats[r.EntityType]
		if entry == nil {
			entry = &models.EntityStats{}
			stats[r.EntityType] = entry
		}
		entry.ChunksImported = r.Chunks
		entry.Imported = r.Imported
	}

	return db.WithContext(ctx).Model(&models.MigrationSession{}).
		Where("id = ?", sessionId).
		Update("stats_json", models.EncodeSessionStats(stats)).Error
}
