package migration

import (
	"testing"

	"bitbucket.org/mmdatafocus/migration_backend/models"
)

func findingWithCode(findings []models.MigrationFinding, code models.MigrationErrorCode) *models.MigrationFinding {
	for i := range findings {
		if findings[i].Code == code {
			return &findings[i]
		}
	}
	return nil
}

func TestNormalizeRow_TurkishAliasesMapToCanonicalFields(t *testing.T) {
	row := RawRow{
		"stok kodu":     "STK-001",
		"stok adi":      "Vida M4",
		"birim":         "AD",
		"satis fiyati":  "12,50",
		"kdv":           "20",
		"kategori kodu": "HIRDAVAT",
	}
	candidate, findings := NormalizeRow(models.MigrationEntityTypeProduct, row)
	if candidate == nil {
		t.Fatalf("expected candidate, got findings %+v", findings)
	}
	if len(findings) != 0 {
		t.Fatalf("expected clean row, got findings %+v", findings)
	}
	if candidate.Fields["code"] != "STK-001" {
		t.Fatalf("code = %q", candidate.Fields["code"])
	}
	if candidate.Fields["name"] != "Vida M4" {
		t.Fatalf("name = %q", candidate.Fields["name"])
	}
	if candidate.Fields["unit_code"] != "AD" {
		t.Fatalf("unit_code = %q", candidate.Fields["unit_code"])
	}
	// comma decimal separator from legacy exports; canonical form trims
	// trailing zeros
	if candidate.Fields["sales_price"] != "12.5" {
		t.Fatalf("sales_price = %q, want 12.5", candidate.Fields["sales_price"])
	}
	if candidate.BusinessKey != "STK-001" {
		t.Fatalf("business key = %q", candidate.BusinessKey)
	}
}

func TestNormalizeRow_NoRecognizableColumnsIsMalformed(t *testing.T) {
	row := RawRow{"zzz": "1", "qqq": "2"}
	candidate, findings := NormalizeRow(models.MigrationEntityTypeProduct, row)
	if candidate != nil {
		t.Fatal("expected nil candidate for malformed row")
	}
	if f := findingWithCode(findings, models.MigrationErrorCodeMalformedRow); f == nil {
		t.Fatalf("expected MalformedRow finding, got %+v", findings)
	}
	if findings[0].Severity != models.MigrationRecordStateError {
		t.Fatalf("malformed row severity = %s", findings[0].Severity)
	}
}

func TestNormalizeRow_MissingRequiredField(t *testing.T) {
	row := RawRow{"kod": "C-1"} // name missing
	candidate, findings := NormalizeRow(models.MigrationEntityTypeCategory, row)
	if candidate == nil {
		t.Fatal("a row with a recognized column is not malformed")
	}
	f := findingWithCode(findings, models.MigrationErrorCodeMissingField)
	if f == nil {
		t.Fatalf("expected MissingField finding, got %+v", findings)
	}
	if f.Field != "name" {
		t.Fatalf("finding field = %q, want name", f.Field)
	}
	if f.Severity != models.MigrationRecordStateError {
		t.Fatalf("missing required field severity = %s", f.Severity)
	}
}

func TestNormalizeRow_InvalidValueSeverityFollowsWarnOnly(t *testing.T) {
	// quantity is required+decimal (Error); vat_rate on products is WarnOnly.
	row := RawRow{
		"stok kodu": "STK-001",
		"depo kodu": "D1",
		"miktar":    "not-a-number",
	}
	candidate, findings := NormalizeRow(models.MigrationEntityTypeStock, row)
	if candidate == nil {
		t.Fatal("expected candidate")
	}
	f := findingWithCode(findings, models.MigrationErrorCodeInvalidValue)
	if f == nil {
		t.Fatalf("expected InvalidValue finding, got %+v", findings)
	}
	if f.Severity != models.MigrationRecordStateError {
		t.Fatalf("strict field severity = %s, want Error", f.Severity)
	}

	row = RawRow{
		"stok kodu": "STK-001",
		"stok adi":  "Vida",
		"kdv":       "yirmi",
	}
	candidate, findings = NormalizeRow(models.MigrationEntityTypeProduct, row)
	if candidate == nil {
		t.Fatal("expected candidate")
	}
	f = findingWithCode(findings, models.MigrationErrorCodeInvalidValue)
	if f == nil {
		t.Fatalf("expected InvalidValue finding, got %+v", findings)
	}
	if f.Severity != models.MigrationRecordStateWarning {
		t.Fatalf("warn-only field severity = %s, want Warning", f.Severity)
	}
}

func TestNormalizeRow_DatesNormalizeToISO(t *testing.T) {
	row := RawRow{
		"fatura no": "F-2024-17",
		"cari kod":  "CR-9",
		"tarih":     "15.03.2024",
	}
	candidate, findings := NormalizeRow(models.MigrationEntityTypeInvoice, row)
	if candidate == nil {
		t.Fatalf("expected candidate, got %+v", findings)
	}
	if candidate.Fields["date"] != "2024-03-15" {
		t.Fatalf("date = %q, want 2024-03-15", candidate.Fields["date"])
	}
}

func TestBusinessKeyOf_CompositeKeysAreStable(t *testing.T) {
	cases := []struct {
		entityType models.MigrationEntityType
		fields     map[string]string
		want       string
	}{
		{models.MigrationEntityTypeProduct, map[string]string{"code": "P1"}, "P1"},
		{models.MigrationEntityTypeStock, map[string]string{"product_code": "P1", "warehouse_code": "W1"}, "P1/W1"},
		{models.MigrationEntityTypeInvoiceItem, map[string]string{"invoice_number": "F-1", "line_number": "3"}, "F-1/3"},
		{models.MigrationEntityTypeOpeningBalance, map[string]string{"product_code": "P1", "warehouse_code": "W2"}, "P1/W2"},
		{models.MigrationEntityTypePriceList, map[string]string{"list_name": "Perakende", "product_code": "P1"}, "Perakende/P1"},
	}
	for _, tc := range cases {
		if got := BusinessKeyOf(tc.entityType, tc.fields); got != tc.want {
			t.Fatalf("%s: key = %q, want %q", tc.entityType, got, tc.want)
		}
	}
}

func TestEntitySchemas_CoverEveryEntityType(t *testing.T) {
	for _, et := range models.AllMigrationEntityTypes() {
		if _, ok := entitySchemas[et]; !ok {
			t.Fatalf("no schema for entity type %s", et)
		}
	}
}

func TestEntitySchemas_ReferenceFieldsExistAndPointToPredecessors(t *testing.T) {
	for _, et := range models.AllMigrationEntityTypes() {
		schema := entitySchemas[et]
		fieldNames := map[string]bool{}
		for _, rule := range schema.Fields {
			fieldNames[rule.Name] = true
		}
		preds := map[models.MigrationEntityType]bool{}
		for _, pred := range Predecessors(et) {
			preds[pred] = true
		}
		for _, ref := range schema.References {
			if !fieldNames[ref.Field] {
				t.Fatalf("%s: reference field %q is not in the schema", et, ref.Field)
			}
			if !preds[ref.RefType] {
				t.Fatalf("%s: references %s, which is not a declared predecessor", et, ref.RefType)
			}
		}
	}
}
