package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrSessionNotFound      = errors.New("migration session not found")
	ErrSessionStateConflict = errors.New("migration session is not in a state that allows this operation")
)

// MigrationSession is the aggregate root of one tenant migration attempt,
// spanning chunk upload through import. Counters are denormalized onto the
// row so GetStatus never has to touch chunk/record tables.
type MigrationSession struct {
	ID         string                `gorm:"primary_key;size:36" json:"id"`
	BusinessId string                `gorm:"index;size:36;not null" json:"business_id"`
	SourceType MigrationSourceType   `gorm:"size:20;not null" json:"source_type"`
	State      MigrationSessionState `gorm:"index;size:20;not null" json:"state"`

	EntityTypesJSON   []byte `gorm:"type:json" json:"entity_types"`
	AdapterConfigJSON []byte `gorm:"type:json" json:"-"`
	// extraction resumption cursors per entity type (live sources only)
	CursorStateJSON []byte `gorm:"type:json" json:"cursor_state"`
	// per-entity-type breakdown of record states
	StatsJSON []byte `gorm:"type:json" json:"stats"`

	// client-declared chunk total per FinalizeUpload contract
	DeclaredChunks int `json:"declared_chunks"`
	ChunksTotal    int `json:"chunks_total"`
	ChunksReceived int `json:"chunks_received"`

	RecordsTotal    int `json:"records_total"`
	RecordsValid    int `json:"records_valid"`
	RecordsWarning  int `json:"records_warning"`
	RecordsError    int `json:"records_error"`
	RecordsSkipped  int `json:"records_skipped"`
	RecordsFixed    int `json:"records_fixed"`
	RecordsImported int `json:"records_imported"`

	ErrorCode    MigrationErrorCode `gorm:"size:64" json:"error_code"`
	ErrorMessage string             `gorm:"type:text" json:"error_message"`

	ExpiresAt  time.Time  `gorm:"index;not null" json:"expires_at"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// sessionTransitions is the whitelist of forward transitions. Cancel and
// Expire are handled separately because they apply from any non-terminal state.
var sessionTransitions = map[MigrationSessionState][]MigrationSessionState{
	MigrationSessionStateCreated:    {MigrationSessionStateUploading, MigrationSessionStateUploaded},
	MigrationSessionStateUploading:  {MigrationSessionStateUploaded},
	MigrationSessionStateUploaded:   {MigrationSessionStateValidating},
	MigrationSessionStateValidating: {MigrationSessionStateValidated, MigrationSessionStateFailed},
	MigrationSessionStateValidated:  {MigrationSessionStateImporting},
	MigrationSessionStateImporting:  {MigrationSessionStateCompleted, MigrationSessionStateFailed},
}

func (s MigrationSessionState) CanTransitionTo(next MigrationSessionState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == MigrationSessionStateCancelled || next == MigrationSessionStateExpired {
		return true
	}
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s *MigrationSession) EntityTypes() []MigrationEntityType {
	var types []MigrationEntityType
	if len(s.EntityTypesJSON) == 0 {
		return nil
	}
	if err := json.Unmarshal(s.EntityTypesJSON, &types); err != nil {
		return nil
	}
	return types
}

func (s *MigrationSession) HasEntityType(entityType MigrationEntityType) bool {
	for _, et := range s.EntityTypes() {
		if et == entityType {
			return true
		}
	}
	return false
}

func GetMigrationSession(ctx context.Context, db *gorm.DB, businessId, sessionId string) (*MigrationSession, error) {
	var session MigrationSession
	err := db.WithContext(ctx).
		Where("id = ? AND business_id = ?", sessionId, businessId).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// TransitionSession moves a session between states with an optimistic
// compare-and-set UPDATE. It is the only way session state changes, which
// keeps the state machine race-free without a global mutex: the losing
// writer observes zero affected rows and gets ErrSessionStateConflict.
func TransitionSession(ctx context.Context, db *gorm.DB, sessionId string, from []MigrationSessionState, to MigrationSessionState, extra map[string]interface{}) error {
	for _, f := range from {
		if !f.CanTransitionTo(to) {
			return ErrSessionStateConflict
		}
	}

	updates := map[string]interface{}{"state": to}
	for k, v := range extra {
		updates[k] = v
	}

	res := db.WithContext(ctx).Model(&MigrationSession{}).
		Where("id = ? AND state IN ?", sessionId, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionStateConflict
	}
	return nil
}

// FailSession force-moves a session to Failed with an error code, from any
// non-terminal state. Used at task boundaries so a crashed validation or
// import never leaves the session in a non-terminal state indefinitely.
func FailSession(ctx context.Context, db *gorm.DB, sessionId string, code MigrationErrorCode, message string) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).Model(&MigrationSession{}).
		Where("id = ? AND state NOT IN ?", sessionId, terminalSessionStates()).
		Updates(map[string]interface{}{
			"state":         MigrationSessionStateFailed,
			"error_code":    code,
			"error_message": message,
			"finished_at":   &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionStateConflict
	}
	return nil
}

func terminalSessionStates() []MigrationSessionState {
	return []MigrationSessionState{
		MigrationSessionStateCompleted,
		MigrationSessionStateFailed,
		MigrationSessionStateCancelled,
		MigrationSessionStateExpired,
	}
}

// EntityStats is the per-entity-type breakdown stored in StatsJSON.
type EntityStats struct {
	ChunksTotal    int `json:"chunks_total"`
	ChunksImported int `json:"chunks_imported"`
	Records        int `json:"records"`
	Valid          int `json:"valid"`
	Warning        int `json:"warning"`
	Error          int `json:"error"`
	Skipped        int `json:"skipped"`
	Fixed          int `json:"fixed"`
	Imported       int `json:"imported"`
}

func DecodeSessionStats(raw []byte) map[MigrationEntityType]*EntityStats {
	stats := map[MigrationEntityType]*EntityStats{}
	if len(raw) == 0 {
		return stats
	}
	if err := json.Unmarshal(raw, &stats); err != nil {
		return map[MigrationEntityType]*EntityStats{}
	}
	return stats
}

func EncodeSessionStats(stats map[MigrationEntityType]*EntityStats) []byte {
	b, _ := json.Marshal(stats)
	return b
}

// CursorState maps entity type -> opaque adapter resumption cursor.
func DecodeCursorState(raw []byte) map[MigrationEntityType]string {
	state := map[MigrationEntityType]string{}
	if len(raw) == 0 {
		return state
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return map[MigrationEntityType]string{}
	}
	return state
}

func EncodeCursorState(state map[MigrationEntityType]string) []byte {
	b, _ := json.Marshal(state)
	return b
}
