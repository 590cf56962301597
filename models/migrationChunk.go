package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrChunkNotFound = errors.New("migration chunk not found")

// MigrationChunk tracks one uploaded (or extracted) unit of data for one
// entity type. The raw payload lives in object storage under ObjectKey; the
// row only carries status and metadata, so re-validation or re-import never
// requires re-upload.
type MigrationChunk struct {
	ID         string `gorm:"primary_key;size:36" json:"id"`
	BusinessId string `gorm:"index;size:36;not null" json:"business_id"`
	SessionId  string `gorm:"uniqueIndex:idx_chunk_coordinates,priority:1;size:36;not null" json:"session_id"`

	EntityType    MigrationEntityType `gorm:"uniqueIndex:idx_chunk_coordinates,priority:2;size:30;not null" json:"entity_type"`
	SequenceIndex int                 `gorm:"uniqueIndex:idx_chunk_coordinates,priority:3;not null" json:"sequence_index"`

	State MigrationChunkState `gorm:"index;size:20;not null" json:"state"`

	// content handle of the raw payload in object storage
	ObjectKey string `gorm:"size:512;not null" json:"object_key"`
	// sha256 of the raw payload; identical re-uploads at the same coordinates are no-ops
	Checksum  string `gorm:"size:64;not null" json:"checksum"`
	SizeBytes int64  `json:"size_bytes"`
	// payload encoding: xlsx, csv, or rows (JSON row pages from server-side extraction)
	Format string `gorm:"size:10;not null" json:"format"`

	RecordsTotal    int `json:"records_total"`
	RecordsValid    int `json:"records_valid"`
	RecordsWarning  int `json:"records_warning"`
	RecordsError    int `json:"records_error"`
	RecordsSkipped  int `json:"records_skipped"`
	RecordsFixed    int `json:"records_fixed"`
	RecordsImported int `json:"records_imported"`

	Attempts     int                `json:"attempts"`
	ErrorCode    MigrationErrorCode `gorm:"size:64" json:"error_code"`
	ErrorMessage string             `gorm:"type:text" json:"error_message"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetMigrationChunk(ctx context.Context, db *gorm.DB, businessId, chunkId string) (*MigrationChunk, error) {
	var chunk MigrationChunk
	err := db.WithContext(ctx).
		Where("id = ? AND business_id = ?", chunkId, businessId).
		Take(&chunk).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// ListSessionChunks returns the session's chunks ordered for import:
// grouped by entity type, ascending sequence index within a type.
func ListSessionChunks(ctx context.Context, db *gorm.DB, sessionId string) ([]*MigrationChunk, error) {
	var chunks []*MigrationChunk
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionId).
		Order("entity_type, sequence_index ASC").
		Find(&chunks).Error
	return chunks, err
}

func MarkChunkState(ctx context.Context, db *gorm.DB, chunkId string, state MigrationChunkState, extra map[string]interface{}) error {
	updates := map[string]interface{}{"state": state}
	for k, v := range extra {
		updates[k] = v
	}
	return db.WithContext(ctx).Model(&MigrationChunk{}).
		Where("id = ?", chunkId).
		Updates(updates).Error
}
