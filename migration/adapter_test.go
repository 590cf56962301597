package migration

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/migration_backend/models"
)

func TestValidateAdapterConfig_ExcelNeedsNothing(t *testing.T) {
	if err := ValidateAdapterConfig(models.MigrationSourceTypeExcel, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateAdapterConfig_SqlSourcesRequireConnectionSettings(t *testing.T) {
	for _, st := range []models.MigrationSourceType{
		models.MigrationSourceTypeLogo,
		models.MigrationSourceTypeEta,
		models.MigrationSourceTypeMikro,
		models.MigrationSourceTypeNetsis,
	} {
		err := ValidateAdapterConfig(st, &AdapterConfig{Host: "db.local"}, nil)
		if !errors.Is(err, ErrInvalidSourceConfig) {
			t.Fatalf("%s without database/username: got %v, want ErrInvalidSourceConfig", st, err)
		}
		err = ValidateAdapterConfig(st, &AdapterConfig{
			Host: "db.local", Database: "erp", Username: "sa",
		}, nil)
		if err != nil {
			t.Fatalf("%s with full settings: %v", st, err)
		}
	}
}

func TestValidateAdapterConfig_GenericSqlRequiresQueriesPerEntityType(t *testing.T) {
	cfg := &AdapterConfig{
		Host: "db.local", Database: "legacy", Username: "sa",
		KeyColumn: "id",
		Queries: map[models.MigrationEntityType]string{
			models.MigrationEntityTypeProduct: "SELECT id, code, name FROM items",
		},
	}
	requested := []models.MigrationEntityType{
		models.MigrationEntityTypeProduct,
		models.MigrationEntityTypeCustomer,
	}
	err := ValidateAdapterConfig(models.MigrationSourceTypeGenericSql, cfg, requested)
	if !errors.Is(err, ErrInvalidSourceConfig) {
		t.Fatalf("missing Customer query: got %v, want ErrInvalidSourceConfig", err)
	}

	cfg.Queries[models.MigrationEntityTypeCustomer] = "SELECT id, code, name FROM accounts"
	if err := ValidateAdapterConfig(models.MigrationSourceTypeGenericSql, cfg, requested); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.KeyColumn = ""
	err = ValidateAdapterConfig(models.MigrationSourceTypeGenericSql, cfg, requested)
	if !errors.Is(err, ErrInvalidSourceConfig) {
		t.Fatalf("missing key column: got %v, want ErrInvalidSourceConfig", err)
	}
}

func TestValidateAdapterConfig_ParasutRequiresToken(t *testing.T) {
	err := ValidateAdapterConfig(models.MigrationSourceTypeParasut, &AdapterConfig{CompanyId: "123"}, nil)
	if !errors.Is(err, ErrInvalidSourceConfig) {
		t.Fatalf("got %v, want ErrInvalidSourceConfig", err)
	}
	err = ValidateAdapterConfig(models.MigrationSourceTypeParasut, &AdapterConfig{
		AccessToken: "tok", CompanyId: "123",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeAdapterConfig(t *testing.T) {
	cfg, err := DecodeAdapterConfig([]byte(`{"host":"db.local","port":1433,"page_size":500}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host != "db.local" || cfg.Port != 1433 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.EffectivePageSize() != 500 {
		t.Fatalf("page size = %d", cfg.EffectivePageSize())
	}

	cfg, err = DecodeAdapterConfig(nil)
	if err != nil {
		t.Fatalf("empty config must decode: %v", err)
	}
	if cfg.EffectivePageSize() != defaultExtractPageSize {
		t.Fatalf("default page size = %d", cfg.EffectivePageSize())
	}

	if _, err := DecodeAdapterConfig([]byte("{not json")); !errors.Is(err, ErrInvalidSourceConfig) {
		t.Fatalf("got %v, want ErrInvalidSourceConfig", err)
	}
}

func TestNewSourceAdapter_ExcelHasNoServerSideAdapter(t *testing.T) {
	if _, err := NewSourceAdapter(models.MigrationSourceTypeExcel, nil); !errors.Is(err, ErrInvalidSourceConfig) {
		t.Fatalf("got %v, want ErrInvalidSourceConfig", err)
	}
}

func TestNewSourceAdapter_CoversEveryLiveSource(t *testing.T) {
	cfg := &AdapterConfig{Host: "db.local", Database: "erp", Username: "sa", FirmNumber: 8, PeriodNumber: 1}
	for _, st := range []models.MigrationSourceType{
		models.MigrationSourceTypeLogo,
		models.MigrationSourceTypeEta,
		models.MigrationSourceTypeMikro,
		models.MigrationSourceTypeNetsis,
		models.MigrationSourceTypeGenericSql,
		models.MigrationSourceTypeParasut,
	} {
		adapter, err := NewSourceAdapter(st, cfg)
		if err != nil {
			t.Fatalf("%s: %v", st, err)
		}
		if adapter == nil {
			t.Fatalf("%s: nil adapter", st)
		}
	}
}
