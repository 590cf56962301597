package migration

import (
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/migration_backend/models"
	"bitbucket.org/mmdatafocus/migration_backend/utils"
)

type fieldKind int

const (
	fieldText fieldKind = iota
	fieldDecimal
	fieldInt
	fieldDate
)

// fieldRule is one canonical field of an entity schema: where it may come
// from in the raw row (legacy exports label columns inconsistently, often in
// Turkish), whether it is mandatory, and how strictly a bad value is treated.
type fieldRule struct {
	Name     string
	Aliases  []string
	Required bool
	Kind     fieldKind
	// WarnOnly downgrades a violation from Error to Warning.
	WarnOnly bool
}

// referenceRule says a field must resolve to a business key of an upstream
// entity type (within the session or already in the target store).
type referenceRule struct {
	Field    string
	RefType  models.MigrationEntityType
	Required bool
}

type entitySchema struct {
	KeyField   string
	Fields     []fieldRule
	References []referenceRule
}

// Candidate is one normalized source row, ready for rule evaluation.
type Candidate struct {
	EntityType  models.MigrationEntityType
	BusinessKey string
	Fields      map[string]string
}

var entitySchemas = map[models.MigrationEntityType]entitySchema{
	models.MigrationEntityTypeCategory: {
		KeyField: "code",
		Fields: []fieldRule{
			{Name: "code", Aliases: []string{"code", "kod", "grup kodu", "kategori kodu"}, Required: true},
			{Name: "name", Aliases: []string{"name", "ad", "isim", "aciklama", "açıklama", "grup adi"}, Required: true},
			{Name: "parent_code", Aliases: []string{"parent_code", "parent", "ust kod", "üst kod"}},
		},
	},
	models.MigrationEntityTypeBrand: {
		KeyField: "code",
		Fields: []fieldRule{
			{Name: "code", Aliases: []string{"code", "kod", "marka kodu"}, Required: true},
			{Name: "name", Aliases: []string{"name", "ad", "isim", "marka"}, Required: true},
		},
	},
	models.MigrationEntityTypeUnit: {
		KeyField: "code",
		Fields: []fieldRule{
			{Name: "code", Aliases: []string{"code", "kod", "birim kodu"}, Required: true},
			{Name: "name", Aliases: []string{"name", "ad", "isim", "birim"}, Required: true},
			{Name: "precision", Aliases: []string{"precision", "hassasiyet"}, Kind: fieldInt, WarnOnly: true},
		},
	},
	models.MigrationEntityTypeProduct: {
		KeyField: "code",
		Fields: []fieldRule{
			{Name: "code", Aliases: []string{"code", "kod", "stok kodu", "urun kodu", "ürün kodu"}, Required: true},
			{Name: "name", Aliases: []string{"name", "ad", "isim", "stok adi", "stok adı", "urun adi"}, Required: true},
			{Name: "category_code", Aliases: []string{"category_code", "kategori", "kategori kodu", "grup kodu"}},
			{Name: "brand_code", Aliases: []string{"brand_code", "marka", "marka kodu"}},
			{Name: "unit_code", Aliases: []string{"unit_code", "birim", "birim kodu"}},
			{Name: "barcode", Aliases: []string{"barcode", "barkod"}},
			{Name: "sales_price", Aliases: []string{"sales_price", "satis fiyati", "satış fiyatı", "fiyat"}, Kind: fieldDecimal},
			{Name: "purchase_price", Aliases: []string{"purchase_price", "alis fiyati", "alış fiyatı"}, Kind: fieldDecimal},
			{Name: "vat_rate", Aliases: []string{"vat_rate", "kdv", "kdv orani", "kdv oranı"}, Kind: fieldDecimal, WarnOnly: true},
		},
		References: []referenceRule{
			{Field: "category_code", RefType: models.MigrationEntityTypeCategory},
			{Field: "brand_code", RefType: models.MigrationEntityTypeBrand},
			{Field: "unit_code", RefType: models.MigrationEntityTypeUnit},
		},
	},
	models.MigrationEntityTypeWarehouse: {
		KeyField: "code",
		Fields: []fieldRule{
			{Name: "code", Aliases: []string{"code", "kod", "depo kodu", "depo no"}, Required: true},
			{Name: "name", Aliases: []string{"name", "ad", "isim", "depo adi", "depo adı"}, Required: true},
			{Name: "city", Aliases: []string{"city", "sehir", "şehir", "il"}},
		},
	},
	models.MigrationEntityTypeLocation: {
		KeyField: "code",
		Fields: []fieldRule{
			{Name: "code", Aliases: []string{"code", "kod", "raf kodu", "lokasyon kodu"}, Required: true},
			{Name: "name", Aliases: []string{"name", "ad", "isim"}, Required: true},
			{Name: "warehouse_code", Aliases: []string{"warehouse_code", "depo", "depo kodu", "depo no"}, Required: true},
		},
		References: []referenceRule{
			{Field: "warehouse_code", RefType: models.MigrationEntityTypeWarehouse, Required: true},
		},
	},
	models.MigrationEntityTypeStock: {
		KeyField: "",
		Fields: []fieldRule{
			{Name: "product_code", Aliases: []string{"product_code", "stok kodu", "urun kodu", "ürün kodu"}, Required: true},
			{Name: "warehouse_code", Aliases: []string{"warehouse_code", "depo", "depo kodu", "depo no"}, Required: true},
			{Name: "quantity", Aliases: []string{"quantity", "miktar", "bakiye"}, Required: true, Kind: fieldDecimal},
			{Name: "unit_value", Aliases: []string{"unit_value", "birim fiyat", "birim maliyet"}, Kind: fieldDecimal},
		},
		References: []referenceRule{
			{Field: "product_code", RefType: models.MigrationEntityTypeProduct, Required: true},
			{Field: "warehouse_code", RefType: models.MigrationEntityTypeWarehouse, Required: true},
		},
	},
	models.MigrationEntityTypeStockMovement: {
		KeyField: "",
		Fields: []fieldRule{
			{Name: "product_code", Aliases: []string{"product_code", "stok kodu", "urun kodu"}, Required: true},
			{Name: "warehouse_code", Aliases: []string{"warehouse_code", "depo", "depo kodu", "depo no"}, Required: true},
			{Name: "direction", Aliases: []string{"direction", "gc", "giris cikis", "io"}, Required: true},
			{Name: "quantity", Aliases: []string{"quantity", "miktar"}, Required: true, Kind: fieldDecimal},
			{Name: "unit_value", Aliases: []string{"unit_value", "birim fiyat", "fiyat"}, Kind: fieldDecimal},
			{Name: "date", Aliases: []string{"date", "tarih"}, Kind: fieldDate, WarnOnly: true},
		},
		References: []referenceRule{
			{Field: "product_code", RefType: models.MigrationEntityTypeProduct, Required: true},
			{Field: "warehouse_code", RefType: models.MigrationEntityTypeWarehouse, Required: true},
		},
	},
	models.MigrationEntityTypeCustomer: {
		KeyField: "code",
		Fields: []fieldRule{
			{Name: "code", Aliases: []string{"code", "kod", "cari kod", "cari kodu", "musteri kodu", "müşteri kodu"}, Required: true},
			{Name: "name", Aliases: []string{"name", "ad", "unvan", "ünvan", "cari unvan"}, Required: true},
			{Name: "email", Aliases: []string{"email", "eposta", "e-posta", "mail"}},
			{Name: "phone", Aliases: []string{"phone", "telefon", "tel"}},
			{Name: "tax_number", Aliases: []string{"tax_number", "vergi no", "vergi numarasi", "vkn", "tckn"}},
			{Name: "tax_office", Aliases: []string{"tax_office", "vergi dairesi"}},
			{Name: "opening_balance", Aliases: []string{"opening_balance", "acilis bakiyesi", "açılış bakiyesi", "bakiye"}, Kind: fieldDecimal, WarnOnly: true},
		},
	},
	models.MigrationEntityTypeSupplier: {
		KeyField: "code",
		Fields: []fieldRule{
			{Name: "code", Aliases: []string{"code", "kod", "cari kod", "cari kodu", "tedarikci kodu", "tedarikçi kodu"}, Required: true},
			{Name: "name", Aliases: []string{"name", "ad", "unvan", "ünvan", "cari unvan"}, Required: true},
			{Name: "email", Aliases: []string{"email", "eposta", "e-posta", "mail"}},
			{Name: "phone", Aliases: []string{"phone", "telefon", "tel"}},
			{Name: "tax_number", Aliases: []string{"tax_number", "vergi no", "vergi numarasi", "vkn"}},
			{Name: "tax_office", Aliases: []string{"tax_office", "vergi dairesi"}},
			{Name: "opening_balance", Aliases: []string{"opening_balance", "acilis bakiyesi", "açılış bakiyesi", "bakiye"}, Kind: fieldDecimal, WarnOnly: true},
		},
	},
	models.MigrationEntityTypeInvoice: {
		KeyField: "code",
		Fields: []fieldRule{
			{Name: "code", Aliases: []string{"code", "fatura no", "fis no", "fiş no", "belge no"}, Required: true},
			{Name: "customer_code", Aliases: []string{"customer_code", "cari kod", "cari kodu", "musteri kodu"}, Required: true},
			{Name: "date", Aliases: []string{"date", "tarih", "fatura tarihi"}, Kind: fieldDate},
			{Name: "currency", Aliases: []string{"currency", "doviz", "döviz", "para birimi"}},
			{Name: "net_total", Aliases: []string{"net_total", "net tutar", "ara toplam"}, Kind: fieldDecimal},
			{Name: "vat_total", Aliases: []string{"vat_total", "kdv tutari", "kdv tutarı", "toplam kdv"}, Kind: fieldDecimal},
			{Name: "grand_total", Aliases: []string{"grand_total", "genel toplam", "toplam"}, Kind: fieldDecimal},
		},
		References: []referenceRule{
			{Field: "customer_code", RefType: models.MigrationEntityTypeCustomer, Required: true},
		},
	},
	models.MigrationEntityTypeInvoiceItem: {
		KeyField: "",
		Fields: []fieldRule{
			{Name: "invoice_number", Aliases: []string{"invoice_number", "fatura no", "fis no", "belge no"}, Required: true},
			{Name: "line_number", Aliases: []string{"line_number", "satir no", "satır no", "sira"}, Required: true, Kind: fieldInt},
			{Name: "product_code", Aliases: []string{"product_code", "stok kodu", "urun kodu"}, Required: true},
			{Name: "quantity", Aliases: []string{"quantity", "miktar"}, Required: true, Kind: fieldDecimal},
			{Name: "unit_price", Aliases: []string{"unit_price", "birim fiyat", "fiyat"}, Kind: fieldDecimal},
			{Name: "vat_rate", Aliases: []string{"vat_rate", "kdv", "kdv orani"}, Kind: fieldDecimal, WarnOnly: true},
			{Name: "net_amount", Aliases: []string{"net_amount", "tutar", "net tutar"}, Kind: fieldDecimal},
		},
		References: []referenceRule{
			{Field: "invoice_number", RefType: models.MigrationEntityTypeInvoice, Required: true},
			{Field: "product_code", RefType: models.MigrationEntityTypeProduct, Required: true},
		},
	},
	models.MigrationEntityTypeOpeningBalance: {
		KeyField: "",
		Fields: []fieldRule{
			{Name: "product_code", Aliases: []string{"product_code", "stok kodu", "urun kodu"}, Required: true},
			{Name: "warehouse_code", Aliases: []string{"warehouse_code", "depo", "depo kodu", "depo no"}, Required: true},
			{Name: "quantity", Aliases: []string{"quantity", "miktar", "acilis miktari", "açılış miktarı"}, Required: true, Kind: fieldDecimal},
			{Name: "unit_value", Aliases: []string{"unit_value", "birim maliyet", "maliyet"}, Kind: fieldDecimal},
			{Name: "date", Aliases: []string{"date", "tarih"}, Kind: fieldDate, WarnOnly: true},
		},
		References: []referenceRule{
			{Field: "product_code", RefType: models.MigrationEntityTypeProduct, Required: true},
			{Field: "warehouse_code", RefType: models.MigrationEntityTypeWarehouse, Required: true},
		},
	},
	models.MigrationEntityTypePriceList: {
		KeyField: "",
		Fields: []fieldRule{
			{Name: "product_code", Aliases: []string{"product_code", "stok kodu", "urun kodu"}, Required: true},
			{Name: "list_name", Aliases: []string{"list_name", "liste", "liste adi", "liste adı"}, Required: true},
			{Name: "price", Aliases: []string{"price", "fiyat"}, Required: true, Kind: fieldDecimal},
			{Name: "currency", Aliases: []string{"currency", "doviz", "döviz", "para birimi"}},
		},
		References: []referenceRule{
			{Field: "product_code", RefType: models.MigrationEntityTypeProduct, Required: true},
		},
	},
}

// BusinessKeyOf derives the natural key for a normalized field map. Composite
// keys join their parts with "/" in a stable order so the same source row
// always produces the same key.
func BusinessKeyOf(entityType models.MigrationEntityType, fields map[string]string) string {
	switch entityType {
	case models.MigrationEntityTypeStock:
		return fields["product_code"] + "/" + fields["warehouse_code"]
	case models.MigrationEntityTypeStockMovement:
		return fields["product_code"] + "/" + fields["warehouse_code"] + "/" + fields["direction"] + "/" + fields["date"]
	case models.MigrationEntityTypeInvoiceItem:
		return fields["invoice_number"] + "/" + fields["line_number"]
	case models.MigrationEntityTypeOpeningBalance:
		return fields["product_code"] + "/" + fields["warehouse_code"]
	case models.MigrationEntityTypePriceList:
		return fields["list_name"] + "/" + fields["product_code"]
	}
	return fields["code"]
}

func lookupAlias(row RawRow, aliases []string) (string, bool) {
	for _, alias := range aliases {
		if v, ok := row[alias]; ok {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// NormalizeRow maps a raw row into a typed candidate and evaluates the
// field-level rules. Findings never abort normalization; every rule gets a
// chance to report so the user sees the whole picture in one pass.
// A row with no recognizable columns at all is malformed.
func NormalizeRow(entityType models.MigrationEntityType, row RawRow) (*Candidate, []models.MigrationFinding) {
	schema, ok := entitySchemas[entityType]
	if !ok {
		return nil, []models.MigrationFinding{{
			Code:     models.MigrationErrorCodeMalformedRow,
			Severity: models.MigrationRecordStateError,
			Message:  fmt.Sprintf("no schema for entity type %s", entityType),
		}}
	}

	candidate := &Candidate{EntityType: entityType, Fields: map[string]string{}}
	var findings []models.MigrationFinding
	recognized := 0

	for _, rule := range schema.Fields {
		value, found := lookupAlias(row, rule.Aliases)
		if found {
			recognized++
		}
		if value == "" {
			if rule.Required {
				findings = append(findings, models.MigrationFinding{
					Code:     models.MigrationErrorCodeMissingField,
					Severity: models.MigrationRecordStateError,
					Field:    rule.Name,
					Message:  fmt.Sprintf("required field %q is missing", rule.Name),
				})
			}
			continue
		}

		normalized, err := normalizeValue(rule.Kind, value)
		if err != nil {
			severity := models.MigrationRecordStateError
			if rule.WarnOnly {
				severity = models.MigrationRecordStateWarning
			}
			findings = append(findings, models.MigrationFinding{
				Code:     models.MigrationErrorCodeInvalidValue,
				Severity: severity,
				Field:    rule.Name,
				Message:  fmt.Sprintf("value %q is not a valid %s", value, kindName(rule.Kind)),
			})
			if !rule.WarnOnly {
				continue
			}
			normalized = value
		}
		candidate.Fields[rule.Name] = normalized
	}

	if recognized == 0 {
		return nil, []models.MigrationFinding{{
			Code:     models.MigrationErrorCodeMalformedRow,
			Severity: models.MigrationRecordStateError,
			Message:  "row has no recognizable columns",
		}}
	}

	candidate.BusinessKey = BusinessKeyOf(entityType, candidate.Fields)
	return candidate, findings
}

func normalizeValue(kind fieldKind, value string) (string, error) {
	switch kind {
	case fieldDecimal:
		dec, err := utils.ParseDecimal(value)
		if err != nil {
			return "", err
		}
		return dec.String(), nil
	case fieldInt:
		dec, err := utils.ParseDecimal(value)
		if err != nil {
			return "", err
		}
		if !dec.IsInteger() {
			return "", fmt.Errorf("not an integer: %s", value)
		}
		return dec.String(), nil
	case fieldDate:
		t, err := utils.ParseFlexibleDate(value)
		if err != nil {
			return "", err
		}
		return t.Format("2006-01-02"), nil
	}
	return value, nil
}

func kindName(kind fieldKind) string {
	switch kind {
	case fieldDecimal:
		return "number"
	case fieldInt:
		return "integer"
	case fieldDate:
		return "date"
	}
	return "text"
}

// References exposes the schema's referential rules to the validation engine.
func References(entityType models.MigrationEntityType) []referenceRule {
	return entitySchemas[entityType].References
}
