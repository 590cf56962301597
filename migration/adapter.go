package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/migration_backend/models"
	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidSourceConfig = errors.New("invalid source config")
	ErrSourceUnreachable   = errors.New("source unreachable")
	ErrAuthenticationFail  = errors.New("source authentication failed")
)

// RawRow is one untyped source row, column name -> raw string value.
// Adapters lowercase nothing and trim nothing; the normalizer owns cleanup.
type RawRow map[string]string

// ExtractPage is one page of rows plus the cursor to resume after it.
// Cursor is opaque to callers and only meaningful to the adapter that
// produced it. Done means the source has no more rows for this entity type.
type ExtractPage struct {
	Rows   []RawRow
	Cursor string
	Done   bool
}

// SourceAdapter reads raw rows from one external source type. Adapters are
// stateless across sessions; connection state lives between Connect and
// Disconnect only. Extract must be restartable from any cursor it returned,
// since ERP tables can run to millions of rows over unreliable links.
type SourceAdapter interface {
	Connect(ctx context.Context) error
	Extract(ctx context.Context, entityType models.MigrationEntityType, cursor string) (*ExtractPage, error)
	Disconnect() error
}

// AdapterConfig is the union of per-source connection settings. CreateSession
// validates the fields relevant to the chosen source type and rejects the
// rest of the flow early with InvalidSourceConfig.
type AdapterConfig struct {
	// SQL-backed ERPs (Logo, Eta, Mikro, Netsis, GenericSql)
	Host     string `json:"host" validate:"omitempty,hostname|ip"`
	Port     int    `json:"port" validate:"omitempty,min=1,max=65535"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`

	// Logo/Netsis installs are partitioned by firm and period number,
	// which select the table name prefix (e.g. LG_008_01_ITEMS).
	FirmNumber   int `json:"firm_number" validate:"omitempty,min=1,max=999"`
	PeriodNumber int `json:"period_number" validate:"omitempty,min=1,max=99"`

	// GenericSql: one SELECT per requested entity type. Each query must
	// order by a monotonically increasing key column named in KeyColumn.
	Queries   map[models.MigrationEntityType]string `json:"queries"`
	KeyColumn string                                `json:"key_column"`

	// Parasut API
	AccessToken string `json:"access_token"`
	CompanyId   string `json:"company_id"`

	// Page size for server-side extraction. Zero means the default.
	PageSize int `json:"page_size" validate:"omitempty,min=1,max=10000"`
}

const defaultExtractPageSize = 1000

func (c *AdapterConfig) EffectivePageSize() int {
	if c == nil || c.PageSize <= 0 {
		return defaultExtractPageSize
	}
	return c.PageSize
}

func DecodeAdapterConfig(raw []byte) (*AdapterConfig, error) {
	cfg := &AdapterConfig{}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSourceConfig, err)
	}
	return cfg, nil
}

var adapterConfigValidate = validator.New()

// ValidateAdapterConfig checks the settings the given source type needs.
func ValidateAdapterConfig(sourceType models.MigrationSourceType, cfg *AdapterConfig, entityTypes []models.MigrationEntityType) error {
	if cfg == nil {
		cfg = &AdapterConfig{}
	}
	if err := adapterConfigValidate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSourceConfig, err)
	}

	switch sourceType {
	case models.MigrationSourceTypeExcel:
		// File sources carry their data in uploaded chunks; no connection
		// settings to check.
		return nil
	case models.MigrationSourceTypeLogo,
		models.MigrationSourceTypeEta,
		models.MigrationSourceTypeMikro,
		models.MigrationSourceTypeNetsis:
		if cfg.Host == "" || cfg.Database == "" || cfg.Username == "" {
			return fmt.Errorf("%w: host, database and username are required for %s", ErrInvalidSourceConfig, sourceType)
		}
		return nil
	case models.MigrationSourceTypeGenericSql:
		if cfg.Host == "" || cfg.Database == "" || cfg.Username == "" {
			return fmt.Errorf("%w: host, database and username are required for GenericSql", ErrInvalidSourceConfig)
		}
		if cfg.KeyColumn == "" {
			return fmt.Errorf("%w: key_column is required for GenericSql", ErrInvalidSourceConfig)
		}
		for _, et := range entityTypes {
			if _, ok := cfg.Queries[et]; !ok {
				return fmt.Errorf("%w: missing query for entity type %s", ErrInvalidSourceConfig, et)
			}
		}
		return nil
	case models.MigrationSourceTypeParasut:
		if cfg.AccessToken == "" || cfg.CompanyId == "" {
			return fmt.Errorf("%w: access_token and company_id are required for Parasut", ErrInvalidSourceConfig)
		}
		return nil
	}
	return fmt.Errorf("%w: unsupported source type %q", ErrInvalidSourceConfig, sourceType)
}

// NewSourceAdapter builds the adapter for a source type. The set of source
// types is closed; there is deliberately no plugin registry.
func NewSourceAdapter(sourceType models.MigrationSourceType, cfg *AdapterConfig) (SourceAdapter, error) {
	if cfg == nil {
		cfg = &AdapterConfig{}
	}
	switch sourceType {
	case models.MigrationSourceTypeLogo:
		return newSqlAdapter(cfg, logoTableMap(cfg)), nil
	case models.MigrationSourceTypeEta:
		return newSqlAdapter(cfg, etaTableMap()), nil
	case models.MigrationSourceTypeMikro:
		return newSqlAdapter(cfg, mikroTableMap()), nil
	case models.MigrationSourceTypeNetsis:
		return newSqlAdapter(cfg, netsisTableMap()), nil
	case models.MigrationSourceTypeGenericSql:
		return newGenericSqlAdapter(cfg), nil
	case models.MigrationSourceTypeParasut:
		return newParasutAdapter(cfg), nil
	case models.MigrationSourceTypeExcel:
		// Excel data arrives as uploaded chunks; there is nothing to extract
		// server-side.
		return nil, fmt.Errorf("%w: %s is a file source and has no server-side adapter", ErrInvalidSourceConfig, sourceType)
	}
	return nil, fmt.Errorf("%w: unsupported source type %q", ErrInvalidSourceConfig, sourceType)
}
