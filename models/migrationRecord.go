package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrRecordReportNotFound = errors.New("migration record not found")

// MigrationFinding is one validation verdict detail on one record.
type MigrationFinding struct {
	Code     MigrationErrorCode   `json:"code"`
	Severity MigrationRecordState `json:"severity"`
	Field    string               `json:"field,omitempty"`
	Message  string               `json:"message"`
}

// MigrationRecordReport is the compact per-record verdict produced by the
// validation engine. It is addressed by (chunk, row offset) and carries the
// normalized field map so import never re-reads the raw payload for a record
// the user has corrected.
type MigrationRecordReport struct {
	ID         uint   `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"index;size:36;not null" json:"business_id"`
	SessionId  string `gorm:"index;size:36;not null" json:"session_id"`
	ChunkId    string `gorm:"uniqueIndex:idx_record_offset,priority:1;size:36;not null" json:"chunk_id"`

	EntityType MigrationEntityType `gorm:"size:30;not null" json:"entity_type"`
	RowIndex   int                 `gorm:"uniqueIndex:idx_record_offset,priority:2;not null" json:"row_index"`

	// natural key extracted from the source row, e.g. a customer code
	BusinessKey string               `gorm:"index;size:128" json:"business_key"`
	State       MigrationRecordState `gorm:"index;size:10;not null" json:"state"`

	FieldsJSON   []byte `gorm:"type:json" json:"fields"`
	FindingsJSON []byte `gorm:"type:json" json:"findings"`
	// user-supplied correction; overrides FieldsJSON at import time
	FixJSON []byte `gorm:"type:json" json:"fix"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *MigrationRecordReport) Fields() map[string]string {
	fields := map[string]string{}
	if len(r.FieldsJSON) > 0 {
		_ = json.Unmarshal(r.FieldsJSON, &fields)
	}
	// Fixed records import the corrected values, not the originals.
	if len(r.FixJSON) > 0 {
		fix := map[string]string{}
		if err := json.Unmarshal(r.FixJSON, &fix); err == nil {
			for k, v := range fix {
				fields[k] = v
			}
		}
	}
	return fields
}

func (r *MigrationRecordReport) Findings() []MigrationFinding {
	var findings []MigrationFinding
	if len(r.FindingsJSON) > 0 {
		_ = json.Unmarshal(r.FindingsJSON, &findings)
	}
	return findings
}

func GetMigrationRecordReport(ctx context.Context, db *gorm.DB, businessId string, recordId uint) (*MigrationRecordReport, error) {
	var record MigrationRecordReport
	err := db.WithContext(ctx).
		Where("id = ? AND business_id = ?", recordId, businessId).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordReportNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// MigrationKeyIndex registers every business key seen during validation of a
// session. Referential rules resolve against it, and the unique index makes
// cross-chunk duplicate detection a cheap insert-and-check.
type MigrationKeyIndex struct {
	ID          uint                `gorm:"primary_key" json:"id"`
	BusinessId  string              `gorm:"uniqueIndex:idx_session_keys,priority:1;size:36;not null" json:"business_id"`
	SessionId   string              `gorm:"uniqueIndex:idx_session_keys,priority:2;size:36;not null" json:"session_id"`
	EntityType  MigrationEntityType `gorm:"uniqueIndex:idx_session_keys,priority:3;size:30;not null" json:"entity_type"`
	BusinessKey string              `gorm:"uniqueIndex:idx_session_keys,priority:4;size:128;not null" json:"business_key"`
	ChunkId     string              `gorm:"size:36" json:"chunk_id"`
	RowIndex    int                 `json:"row_index"`
	CreatedAt   time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

func SessionKeyExists(ctx context.Context, db *gorm.DB, sessionId string, entityType MigrationEntityType, key string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&MigrationKeyIndex{}).
		Where("session_id = ? AND entity_type = ? AND business_key = ?", sessionId, entityType, key).
		Count(&count).Error
	return count > 0, err
}
