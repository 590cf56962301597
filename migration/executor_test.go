package migration

import (
	"testing"

	"bitbucket.org/mmdatafocus/migration_backend/models"
	"github.com/shopspring/decimal"
)

func TestBuildTargetRecord_Product(t *testing.T) {
	value, err := buildTargetRecord("biz-1", models.MigrationEntityTypeProduct, map[string]string{
		"code":        "P-1",
		"name":        "Vida M4",
		"unit_code":   "AD",
		"sales_price": "12.50",
		"vat_rate":    "20",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	product, ok := value.(*models.TargetProduct)
	if !ok {
		t.Fatalf("got %T, want *models.TargetProduct", value)
	}
	if product.BusinessId != "biz-1" || product.Code != "P-1" || product.Name != "Vida M4" {
		t.Fatalf("product = %+v", product)
	}
	if !product.SalesPrice.Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("sales price = %s", product.SalesPrice)
	}
	if !product.VatRate.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("vat rate = %s", product.VatRate)
	}
	// unparseable / absent optional decimals fall back to zero
	if !product.PurchasePrice.Equal(decimal.Zero) {
		t.Fatalf("purchase price = %s", product.PurchasePrice)
	}
}

func TestBuildTargetRecord_CompositeKeysBecomeTheStoreCode(t *testing.T) {
	value, err := buildTargetRecord("biz-1", models.MigrationEntityTypeStock, map[string]string{
		"product_code":   "P-1",
		"warehouse_code": "W-1",
		"quantity":       "7",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stock := value.(*models.TargetStock)
	if stock.Code != "P-1/W-1" {
		t.Fatalf("stock code = %q, want P-1/W-1", stock.Code)
	}

	value, err = buildTargetRecord("biz-1", models.MigrationEntityTypeInvoiceItem, map[string]string{
		"invoice_number": "F-1",
		"line_number":    "3",
		"product_code":   "P-1",
		"quantity":       "1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	item := value.(*models.TargetInvoiceItem)
	if item.Code != "F-1/3" {
		t.Fatalf("invoice item code = %q, want F-1/3", item.Code)
	}
	if item.LineNumber != 3 {
		t.Fatalf("line number = %d", item.LineNumber)
	}
}

func TestBuildTargetRecord_EveryEntityTypeHasAStore(t *testing.T) {
	fields := map[string]string{
		"code": "X", "name": "X",
		"product_code": "P", "warehouse_code": "W",
		"invoice_number": "F", "line_number": "1",
		"customer_code": "C", "list_name": "L",
		"quantity": "1", "price": "1", "direction": "in",
	}
	for _, et := range models.AllMigrationEntityTypes() {
		if _, err := buildTargetRecord("biz-1", et, fields); err != nil {
			t.Fatalf("%s: %v", et, err)
		}
	}
}

func TestRecordStateImportable(t *testing.T) {
	cases := []struct {
		state        models.MigrationRecordState
		skipWarnings bool
		want         bool
	}{
		{models.MigrationRecordStateValid, false, true},
		{models.MigrationRecordStateValid, true, true},
		{models.MigrationRecordStateFixed, false, true},
		{models.MigrationRecordStateFixed, true, true},
		{models.MigrationRecordStateWarning, false, true},
		{models.MigrationRecordStateWarning, true, false},
		{models.MigrationRecordStateError, false, false},
		{models.MigrationRecordStateError, true, false},
		{models.MigrationRecordStateSkipped, false, false},
		{models.MigrationRecordStatePending, false, false},
	}
	for _, tc := range cases {
		if got := tc.state.Importable(tc.skipWarnings); got != tc.want {
			t.Fatalf("%s skipWarnings=%t: got %t, want %t", tc.state, tc.skipWarnings, got, tc.want)
		}
	}
}
