package migration

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/migration_backend/config"
	"bitbucket.org/mmdatafocus/migration_backend/models"
	"bitbucket.org/mmdatafocus/migration_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const maxChunkPayloadBytes = 32 << 20

var errUnauthorized = errors.New("unauthorized")

// currentUser resolves the request's user from the session token username,
// serving from the Redis user cache before hitting the DB.
func currentUser(c *gin.Context) (*models.User, error) {
	username, ok := utils.GetUsernameFromContext(c.Request.Context())
	if !ok || username == "" {
		return nil, errUnauthorized
	}
	if cached, err := utils.RetrieveRedis[models.User](username); err == nil && cached != nil {
		return cached, nil
	}

	// user lookup is by username, before any business scope exists
	ctx := utils.SetSkipTenantScopeInContext(c.Request.Context(), true)
	var user models.User
	if err := config.GetDB().WithContext(ctx).Where("username = ?", username).Take(&user).Error; err != nil {
		return nil, errUnauthorized
	}
	_ = utils.StoreRedis[models.User](user, username, utils.GetCacheLifespan())
	return &user, nil
}

// tenantContext binds the user's business id into the request context so the
// tenant guard scopes every query below.
func tenantContext(c *gin.Context, user *models.User) context.Context {
	ctx := utils.SetBusinessIdInContext(c.Request.Context(), user.BusinessId)
	if user.IsAdmin {
		ctx = utils.SetIsAdminInContext(ctx, user.IsAdmin)
	}
	return ctx
}

func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, models.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error_code": models.MigrationErrorCodeSessionNotFound, "error": err.Error()})
	case errors.Is(err, models.ErrChunkNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error_code": models.MigrationErrorCodeChunkNotFound, "error": err.Error()})
	case errors.Is(err, models.ErrRecordReportNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error_code": models.MigrationErrorCodeRecordNotFound, "error": err.Error()})
	case errors.Is(err, ErrDuplicateChunk):
		c.JSON(http.StatusConflict, gin.H{"error_code": models.MigrationErrorCodeDuplicateChunk, "error": err.Error()})
	case errors.Is(err, models.ErrSessionStateConflict):
		c.JSON(http.StatusConflict, gin.H{"error_code": models.MigrationErrorCodeSessionStateConflict, "error": err.Error()})
	case errors.Is(err, ErrIncompleteUpload):
		c.JSON(http.StatusBadRequest, gin.H{"error_code": models.MigrationErrorCodeIncompleteUpload, "error": err.Error()})
	case errors.Is(err, ErrInvalidSourceConfig), errors.Is(err, ErrNotFileSource), errors.Is(err, ErrNoEntityTypes):
		c.JSON(http.StatusBadRequest, gin.H{"error_code": models.MigrationErrorCodeInvalidSourceConfig, "error": err.Error()})
	default:
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
			return
		}
		config.LogError(config.GetLogger(), "migration", "handler", c.FullPath(), nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error_code": models.MigrationErrorCodeInternal, "error": "internal error"})
	}
}

type createSessionRequest struct {
	SourceType    models.MigrationSourceType   `json:"source_type" binding:"required"`
	EntityTypes   []models.MigrationEntityType `json:"entity_types" binding:"required,min=1"`
	AdapterConfig json.RawMessage              `json:"adapter_config"`
}

func CreateSessionHandler(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondServiceError(c, err)
		return
	}

	session, err := CreateSession(tenantContext(c, user), config.GetDB(), user.BusinessId, req.SourceType, req.EntityTypes, req.AdapterConfig)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session_id": session.ID,
		"state":      session.State,
		"expires_at": session.ExpiresAt,
	})
}

func ListSessionsHandler(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	state := models.MigrationSessionState(c.Query("state"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	sessions, err := ListSessions(tenantContext(c, user), config.GetDB(), user.BusinessId, state, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	snapshots := make([]*SessionSnapshot, 0, len(sessions))
	for _, session := range sessions {
		snapshots = append(snapshots, snapshotOf(session))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": snapshots})
}

func GetSessionHandler(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	snapshot, err := GetStatus(tenantContext(c, user), config.GetDB(), user.BusinessId, c.Param("sessionId"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func chunkFormatFromUpload(declared, filename string) string {
	if declared != "" {
		return declared
	}
	switch strings.ToLower(path.Ext(filename)) {
	case ".xlsx":
		return ChunkFormatXlsx
	case ".csv":
		return ChunkFormatCsv
	case ".json":
		return ChunkFormatRows
	}
	return ""
}

func UploadChunkHandler(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	entityType := models.MigrationEntityType(c.PostForm("entity_type"))
	sequenceIndex, err := strconv.Atoi(c.PostForm("sequence_index"))
	if err != nil || sequenceIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sequence_index must be a non-negative integer"})
		return
	}
	totalChunks, _ := strconv.Atoi(c.PostForm("total_chunks"))

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fileHeader.Size > maxChunkPayloadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "chunk payload too large"})
		return
	}
	format := chunkFormatFromUpload(c.PostForm("format"), fileHeader.Filename)
	if format == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error_code": models.MigrationErrorCodeInvalidSourceConfig, "error": "unknown chunk format; pass format=xlsx|csv|rows"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondServiceError(c, err)
		return
	}
	defer file.Close()
	payload, err := io.ReadAll(io.LimitReader(file, maxChunkPayloadBytes+1))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	chunk, err := UploadChunk(tenantContext(c, user), config.GetDB(), user.BusinessId, c.Param("sessionId"), entityType, sequenceIndex, totalChunks, format, payload)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"chunk_id": chunk.ID,
		"status":   chunk.State,
		"checksum": chunk.Checksum,
	})
}

func FinalizeUploadHandler(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	session, err := FinalizeUpload(tenantContext(c, user), config.GetDB(), user.BusinessId, c.Param("sessionId"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":      session.ID,
		"state":           session.State,
		"chunks_received": session.ChunksReceived,
	})
}

func StartValidationHandler(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	job, err := StartValidation(tenantContext(c, user), config.GetDB(), user.BusinessId, c.Param("sessionId"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

func StartExtractionHandler(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	job, err := StartExtraction(tenantContext(c, user), config.GetDB(), user.BusinessId, c.Param("sessionId"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

type startImportRequest struct {
	SkipWarnings bool `json:"skip_warnings"`
}

func StartImportHandler(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	var req startImportRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		respondServiceError(c, err)
		return
	}
	job, err := StartImport(tenantContext(c, user), config.GetDB(), user.BusinessId, c.Param("sessionId"), req.SkipWarnings)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
}

func CancelSessionHandler(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if err := Cancel(tenantContext(c, user), config.GetDB(), user.BusinessId, c.Param("sessionId")); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"state": models.MigrationSessionStateCancelled})
}

func ListRecordsHandler(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	state := models.MigrationRecordState(c.DefaultQuery("status", ""))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "100"))

	records, total, err := ListRecords(tenantContext(c, user), config.GetDB(), user.BusinessId, c.Param("sessionId"), state, page, pageSize)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	type recordView struct {
		Id          uint                        `json:"id"`
		ChunkId     string                      `json:"chunk_id"`
		EntityType  models.MigrationEntityType  `json:"entity_type"`
		RowIndex    int                         `json:"row_index"`
		BusinessKey string                      `json:"business_key"`
		State       models.MigrationRecordState `json:"state"`
		Fields      map[string]string           `json:"fields"`
		Findings    []models.MigrationFinding   `json:"findings"`
	}
	views := make([]recordView, 0, len(records))
	for _, record := range records {
		views = append(views, recordView{
			Id:          record.ID,
			ChunkId:     record.ChunkId,
			EntityType:  record.EntityType,
			RowIndex:    record.RowIndex,
			BusinessKey: record.BusinessKey,
			State:       record.State,
			Fields:      record.Fields(),
			Findings:    record.Findings(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"records":   views,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type fixRecordRequest struct {
	Fields map[string]string `json:"fields" binding:"required,min=1"`
}

func FixRecordHandler(c *gin.Context) {
	user, err := currentUser(c)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	recordId, err := strconv.ParseUint(c.Param("recordId"), 10, 64)
	if err != nil {
		respondServiceError(c, models.ErrRecordReportNotFound)
		return
	}
	var req fixRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondServiceError(c, err)
		return
	}

	db := config.GetDB()
	record, err := FixRecord(tenantContext(c, user), db, user.BusinessId, c.Param("sessionId"), uint(recordId), req.Fields, NewKeyResolver(db))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record_id": record.ID,
		"state":     record.State,
		"findings":  record.Findings(),
	})
}

// RegisterRoutes wires the migration API under /migration plus the Pub/Sub
// push endpoint.
func RegisterRoutes(r *gin.Engine, processor *Processor) {
	sessions := r.Group("/migration/sessions")
	{
		sessions.POST("", CreateSessionHandler)
		sessions.GET("", ListSessionsHandler)
		sessions.GET("/:sessionId", GetSessionHandler)
		sessions.POST("/:sessionId/chunks", UploadChunkHandler)
		sessions.POST("/:sessionId/finalize", FinalizeUploadHandler)
		sessions.POST("/:sessionId/validate", StartValidationHandler)
		sessions.POST("/:sessionId/extract", StartExtractionHandler)
		sessions.POST("/:sessionId/import", StartImportHandler)
		sessions.POST("/:sessionId/cancel", CancelSessionHandler)
		sessions.GET("/:sessionId/records", ListRecordsHandler)
		sessions.POST("/:sessionId/records/:recordId/fix", FixRecordHandler)
	}

	r.POST("/pubsub/migration", HandleMigrationJobPush(processor))
}
