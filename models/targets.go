package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Target domain stores. The migration engine treats these as write sinks
// with upsert semantics keyed by (business_id, natural code); the owning
// services read them. Re-importing an already-imported chunk therefore
// writes the same rows again instead of duplicating them, which is what
// makes crash resumption safe.

type TargetCategory struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_category_code,priority:1;size:36;not null" json:"business_id"`
	Code       string `gorm:"uniqueIndex:idx_category_code,priority:2;size:64;not null" json:"code"`
	Name       string `gorm:"size:255;not null" json:"name"`
	ParentCode string `gorm:"size:64" json:"parent_code"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TargetBrand struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_brand_code,priority:1;size:36;not null" json:"business_id"`
	Code       string `gorm:"uniqueIndex:idx_brand_code,priority:2;size:64;not null" json:"code"`
	Name       string `gorm:"size:255;not null" json:"name"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TargetUnit struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_unit_code,priority:1;size:36;not null" json:"business_id"`
	Code       string `gorm:"uniqueIndex:idx_unit_code,priority:2;size:64;not null" json:"code"`
	Name       string `gorm:"size:255;not null" json:"name"`
	Precision  int    `json:"precision"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TargetProduct struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_product_code,priority:1;size:36;not null" json:"business_id"`
	Code       string `gorm:"uniqueIndex:idx_product_code,priority:2;size:64;not null" json:"code"`
	Name       string `gorm:"size:255;not null" json:"name"`

	CategoryCode string `gorm:"size:64" json:"category_code"`
	BrandCode    string `gorm:"size:64" json:"brand_code"`
	UnitCode     string `gorm:"size:64" json:"unit_code"`
	Barcode      string `gorm:"size:64" json:"barcode"`

	SalesPrice    decimal.Decimal `gorm:"type:decimal(20,6)" json:"sales_price"`
	PurchasePrice decimal.Decimal `gorm:"type:decimal(20,6)" json:"purchase_price"`
	VatRate       decimal.Decimal `gorm:"type:decimal(8,4)" json:"vat_rate"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TargetWarehouse struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_warehouse_code,priority:1;size:36;not null" json:"business_id"`
	Code       string `gorm:"uniqueIndex:idx_warehouse_code,priority:2;size:64;not null" json:"code"`
	Name       string `gorm:"size:255;not null" json:"name"`
	City       string `gorm:"size:100" json:"city"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TargetLocation struct {
	ID            int    `gorm:"primary_key" json:"id"`
	BusinessId    string `gorm:"uniqueIndex:idx_location_code,priority:1;size:36;not null" json:"business_id"`
	Code          string `gorm:"uniqueIndex:idx_location_code,priority:2;size:64;not null" json:"code"`
	Name          string `gorm:"size:255;not null" json:"name"`
	WarehouseCode string `gorm:"size:64;not null" json:"warehouse_code"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TargetStock struct {
	ID            int    `gorm:"primary_key" json:"id"`
	BusinessId    string `gorm:"uniqueIndex:idx_stock_key,priority:1;size:36;not null" json:"business_id"`
	Code          string `gorm:"uniqueIndex:idx_stock_key,priority:2;size:160;not null" json:"code"`
	ProductCode   string `gorm:"size:64;not null" json:"product_code"`
	WarehouseCode string `gorm:"size:64;not null" json:"warehouse_code"`

	Quantity  decimal.Decimal `gorm:"type:decimal(20,6)" json:"quantity"`
	UnitValue decimal.Decimal `gorm:"type:decimal(20,6)" json:"unit_value"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TargetStockMovement struct {
	ID            int    `gorm:"primary_key" json:"id"`
	BusinessId    string `gorm:"uniqueIndex:idx_stock_movement_key,priority:1;size:36;not null" json:"business_id"`
	Code          string `gorm:"uniqueIndex:idx_stock_movement_key,priority:2;size:160;not null" json:"code"`
	ProductCode   string `gorm:"size:64;not null" json:"product_code"`
	WarehouseCode string `gorm:"size:64;not null" json:"warehouse_code"`
	Direction     string `gorm:"size:3;not null" json:"direction"`

	Quantity     decimal.Decimal `gorm:"type:decimal(20,6)" json:"quantity"`
	UnitValue    decimal.Decimal `gorm:"type:decimal(20,6)" json:"unit_value"`
	MovementDate *time.Time      `json:"movement_date"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TargetCustomer struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_customer_code,priority:1;size:36;not null" json:"business_id"`
	Code       string `gorm:"uniqueIndex:idx_customer_code,priority:2;size:64;not null" json:"code"`
	Name       string `gorm:"size:255;not null" json:"name"`

	Email     string `gorm:"size:255" json:"email"`
	Phone     string `gorm:"size:50" json:"phone"`
	TaxNumber string `gorm:"size:50" json:"tax_number"`
	TaxOffice string `gorm:"size:100" json:"tax_office"`

	OpeningBalance decimal.Decimal `gorm:"type:decimal(20,6)" json:"opening_balance"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TargetSupplier struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_supplier_code,priority:1;size:36;not null" json:"business_id"`
	Code       string `gorm:"uniqueIndex:idx_supplier_code,priority:2;size:64;not null" json:"code"`
	Name       string `gorm:"size:255;not null" json:"name"`

	Email     string `gorm:"size:255" json:"email"`
	Phone     string `gorm:"size:50" json:"phone"`
	TaxNumber string `gorm:"size:50" json:"tax_number"`
	TaxOffice string `gorm:"size:100" json:"tax_office"`

	OpeningBalance decimal.Decimal `gorm:"type:decimal(20,6)" json:"opening_balance"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TargetInvoice struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_invoice_number,priority:1;size:36;not null" json:"business_id"`
	Code       string `gorm:"uniqueIndex:idx_invoice_number,priority:2;size:64;not null" json:"code"`

	CustomerCode string     `gorm:"size:64;not null" json:"customer_code"`
	InvoiceDate  *time.Time `json:"invoice_date"`
	Currency     string     `gorm:"size:3" json:"currency"`

	NetTotal   decimal.Decimal `gorm:"type:decimal(20,6)" json:"net_total"`
	VatTotal   decimal.Decimal `gorm:"type:decimal(20,6)" json:"vat_total"`
	GrandTotal decimal.Decimal `gorm:"type:decimal(20,6)" json:"grand_total"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TargetInvoiceItem struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_invoice_item_key,priority:1;size:36;not null" json:"business_id"`
	// invoice number + line number, the natural key of one line
	Code          string `gorm:"uniqueIndex:idx_invoice_item_key,priority:2;size:160;not null" json:"code"`
	InvoiceNumber string `gorm:"size:64;not null" json:"invoice_number"`
	LineNumber    int    `gorm:"not null" json:"line_number"`
	ProductCode   string `gorm:"size:64;not null" json:"product_code"`

	Quantity  decimal.Decimal `gorm:"type:decimal(20,6)" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,6)" json:"unit_price"`
	VatRate   decimal.Decimal `gorm:"type:decimal(8,4)" json:"vat_rate"`
	NetAmount decimal.Decimal `gorm:"type:decimal(20,6)" json:"net_amount"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TargetOpeningBalance struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_opening_balance_key,priority:1;size:36;not null" json:"business_id"`
	// product + warehouse, the natural key of one opening stock line
	Code          string `gorm:"uniqueIndex:idx_opening_balance_key,priority:2;size:160;not null" json:"code"`
	ProductCode   string `gorm:"size:64;not null" json:"product_code"`
	WarehouseCode string `gorm:"size:64;not null" json:"warehouse_code"`

	Quantity  decimal.Decimal `gorm:"type:decimal(20,6)" json:"quantity"`
	UnitValue decimal.Decimal `gorm:"type:decimal(20,6)" json:"unit_value"`
	AsOfDate  *time.Time      `json:"as_of_date"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type TargetPriceList struct {
	ID          int    `gorm:"primary_key" json:"id"`
	BusinessId  string `gorm:"uniqueIndex:idx_price_list_key,priority:1;size:36;not null" json:"business_id"`
	Code        string `gorm:"uniqueIndex:idx_price_list_key,priority:2;size:160;not null" json:"code"`
	ProductCode string `gorm:"size:64;not null" json:"product_code"`
	ListName    string `gorm:"size:100;not null" json:"list_name"`

	Price    decimal.Decimal `gorm:"type:decimal(20,6)" json:"price"`
	Currency string          `gorm:"size:3" json:"currency"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpsertByBusinessKey writes one target record idempotently. On MySQL this
// compiles to INSERT ... ON DUPLICATE KEY UPDATE against the model's
// (business_id, code) unique index.
func UpsertByBusinessKey(ctx context.Context, db *gorm.DB, value interface{}) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(value).Error
}

// TargetModelFor maps an entity type to a zero value of its store model.
// Returns nil for entity types without a dedicated table.
func TargetModelFor(entityType MigrationEntityType) interface{} {
	switch entityType {
	case MigrationEntityTypeCategory:
		return &TargetCategory{}
	case MigrationEntityTypeBrand:
		return &TargetBrand{}
	case MigrationEntityTypeUnit:
		return &TargetUnit{}
	case MigrationEntityTypeProduct:
		return &TargetProduct{}
	case MigrationEntityTypeWarehouse:
		return &TargetWarehouse{}
	case MigrationEntityTypeLocation:
		return &TargetLocation{}
	case MigrationEntityTypeStock:
		return &TargetStock{}
	case MigrationEntityTypeStockMovement:
		return &TargetStockMovement{}
	case MigrationEntityTypeCustomer:
		return &TargetCustomer{}
	case MigrationEntityTypeSupplier:
		return &TargetSupplier{}
	case MigrationEntityTypeInvoice:
		return &TargetInvoice{}
	case MigrationEntityTypeInvoiceItem:
		return &TargetInvoiceItem{}
	case MigrationEntityTypeOpeningBalance:
		return &TargetOpeningBalance{}
	case MigrationEntityTypePriceList:
		return &TargetPriceList{}
	}
	return nil
}

// TargetKeyExists checks whether a business key is already present in the
// target store, i.e. imported by a previous session or created by hand.
func TargetKeyExists(ctx context.Context, db *gorm.DB, businessId string, entityType MigrationEntityType, key string) (bool, error) {
	model := TargetModelFor(entityType)
	if model == nil {
		return false, nil
	}
	var count int64
	err := db.WithContext(ctx).Model(model).
		Where("business_id = ? AND code = ?", businessId, key).
		Count(&count).Error
	return count > 0, err
}
