package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/migration_backend/models"
	"github.com/go-sql-driver/mysql"
)

// mysql server error numbers
const (
	mysqlErrAccessDenied     = 1045
	mysqlErrDuplicateEntry   = 1062
	mysqlErrDbAccessDenied   = 1044
	mysqlErrUnknownDatabase  = 1049
	mysqlErrTableDoesntExist = 1146
)

// sqlEntitySource binds one entity type to one legacy table: which table,
// which monotonic key column drives the keyset cursor, and how the legacy
// columns map onto normalized field names.
type sqlEntitySource struct {
	Table     string
	KeyColumn string
	// legacy column -> normalized field name
	Columns map[string]string
}

// sqlAdapter is the shared extraction core for SQL-backed ERPs. Pagination is
// keyset-based (WHERE key > cursor ORDER BY key LIMIT n) so a multi-million
// row table never needs OFFSET scans and extraction resumes from any cursor.
type sqlAdapter struct {
	cfg     *AdapterConfig
	sources map[models.MigrationEntityType]sqlEntitySource
	db      *sql.DB
}

func newSqlAdapter(cfg *AdapterConfig, sources map[models.MigrationEntityType]sqlEntitySource) *sqlAdapter {
	return &sqlAdapter{cfg: cfg, sources: sources}
}

func sourceDsn(cfg *AdapterConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=10s",
		cfg.Username, cfg.Password, cfg.Host, port, cfg.Database)
}

// classifySqlError maps driver errors onto the adapter error taxonomy.
func classifySqlError(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrAccessDenied, mysqlErrDbAccessDenied:
			return fmt.Errorf("%w: %v", ErrAuthenticationFail, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
}

func (a *sqlAdapter) Connect(ctx context.Context) error {
	db, err := sql.Open("mysql", sourceDsn(a.cfg))
	if err != nil {
		return classifySqlError(err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return classifySqlError(err)
	}
	a.db = db
	return nil
}

func (a *sqlAdapter) Disconnect() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *sqlAdapter) Extract(ctx context.Context, entityType models.MigrationEntityType, cursor string) (*ExtractPage, error) {
	if a.db == nil {
		return nil, fmt.Errorf("%w: extract before connect", ErrSourceUnreachable)
	}
	src, ok := a.sources[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: source has no table mapping for %s", ErrInvalidSourceConfig, entityType)
	}

	selects := make([]string, 0, len(src.Columns)+1)
	fields := make([]string, 0, len(src.Columns)+1)
	selects = append(selects, src.KeyColumn)
	fields = append(fields, "")
	for col, field := range src.Columns {
		selects = append(selects, col)
		fields = append(fields, field)
	}

	limit := a.cfg.EffectivePageSize()
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selects, ", "), src.Table)
	var args []interface{}
	if cursor != "" {
		query += fmt.Sprintf(" WHERE %s > ?", src.KeyColumn)
		args = append(args, cursor)
	}
	query += fmt.Sprintf(" ORDER BY %s ASC LIMIT %d", src.KeyColumn, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifySqlError(err)
	}
	defer rows.Close()

	page := &ExtractPage{Cursor: cursor}
	scan := make([]sql.NullString, len(selects))
	ptrs := make([]interface{}, len(selects))
	for i := range scan {
		ptrs[i] = &scan[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classifySqlError(err)
		}
		row := RawRow{}
		for i, field := range fields {
			if field == "" {
				continue
			}
			row[field] = scan[i].String
		}
		page.Rows = append(page.Rows, row)
		page.Cursor = scan[0].String
	}
	if err := rows.Err(); err != nil {
		return nil, classifySqlError(err)
	}
	page.Done = len(page.Rows) < limit
	return page, nil
}

// genericSqlAdapter extracts with user-supplied SELECTs, one per entity type.
// Each query is wrapped as a keyset-paginated subquery over cfg.KeyColumn.
type genericSqlAdapter struct {
	cfg *AdapterConfig
	db  *sql.DB
}

func newGenericSqlAdapter(cfg *AdapterConfig) *genericSqlAdapter {
	return &genericSqlAdapter{cfg: cfg}
}

func (a *genericSqlAdapter) Connect(ctx context.Context) error {
	db, err := sql.Open("mysql", sourceDsn(a.cfg))
	if err != nil {
		return classifySqlError(err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return classifySqlError(err)
	}
	a.db = db
	return nil
}

func (a *genericSqlAdapter) Disconnect() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *genericSqlAdapter) Extract(ctx context.Context, entityType models.MigrationEntityType, cursor string) (*ExtractPage, error) {
	if a.db == nil {
		return nil, fmt.Errorf("%w: extract before connect", ErrSourceUnreachable)
	}
	inner, ok := a.cfg.Queries[entityType]
	if !ok {
		return nil, fmt.Errorf("%w: missing query for entity type %s", ErrInvalidSourceConfig, entityType)
	}

	keyCol := a.cfg.KeyColumn
	limit := a.cfg.EffectivePageSize()
	query := fmt.Sprintf("SELECT * FROM (%s) src", inner)
	var args []interface{}
	if cursor != "" {
		query += fmt.Sprintf(" WHERE src.%s > ?", keyCol)
		args = append(args, cursor)
	}
	query += fmt.Sprintf(" ORDER BY src.%s ASC LIMIT %d", keyCol, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifySqlError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classifySqlError(err)
	}
	keyIdx := -1
	for i, col := range cols {
		if strings.EqualFold(col, keyCol) {
			keyIdx = i
			break
		}
	}
	if keyIdx < 0 {
		return nil, fmt.Errorf("%w: key_column %q is not selected by the %s query", ErrInvalidSourceConfig, keyCol, entityType)
	}

	page := &ExtractPage{Cursor: cursor}
	scan := make([]sql.NullString, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range scan {
		ptrs[i] = &scan[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classifySqlError(err)
		}
		row := RawRow{}
		for i, col := range cols {
			row[strings.ToLower(col)] = scan[i].String
		}
		page.Rows = append(page.Rows, row)
		page.Cursor = scan[keyIdx].String
	}
	if err := rows.Err(); err != nil {
		return nil, classifySqlError(err)
	}
	page.Done = len(page.Rows) < limit
	return page, nil
}

// Logo Tiger/GO partitions firm-level tables as LG_FFF_* and period-level
// tables as LG_FFF_PP_*.
func logoTableMap(cfg *AdapterConfig) map[models.MigrationEntityType]sqlEntitySource {
	firm := cfg.FirmNumber
	if firm == 0 {
		firm = 1
	}
	period := cfg.PeriodNumber
	if period == 0 {
		period = 1
	}
	firmTable := func(name string) string { return fmt.Sprintf("LG_%03d_%s", firm, name) }
	periodTable := func(name string) string { return fmt.Sprintf("LG_%03d_%02d_%s", firm, period, name) }

	return map[models.MigrationEntityType]sqlEntitySource{
		models.MigrationEntityTypeCategory: {
			Table: firmTable("SPECODES"), KeyColumn: "LOGICALREF",
			Columns: map[string]string{"SPECODE": "code", "DEFINITION_": "name"},
		},
		models.MigrationEntityTypeUnit: {
			Table: firmTable("UNITSETL"), KeyColumn: "LOGICALREF",
			Columns: map[string]string{"CODE": "code", "NAME": "name"},
		},
		models.MigrationEntityTypeProduct: {
			Table: firmTable("ITEMS"), KeyColumn: "LOGICALREF",
			Columns: map[string]string{
				"CODE": "code", "NAME": "name", "STGRPCODE": "category_code",
				"PRODUCERCODE": "barcode", "VAT": "vat_rate",
			},
		},
		models.MigrationEntityTypeWarehouse: {
			Table: firmTable("CAPIDIV"), KeyColumn: "LOGICALREF",
			Columns: map[string]string{"NR": "code", "NAME": "name"},
		},
		models.MigrationEntityTypeStock: {
			Table: periodTable("STINVTOT"), KeyColumn: "LOGICALREF",
			Columns: map[string]string{
				"STOCKREF": "product_code", "INVENNO": "warehouse_code", "ONHAND": "quantity",
			},
		},
		models.MigrationEntityTypeStockMovement: {
			Table: periodTable("STLINE"), KeyColumn: "LOGICALREF",
			Columns: map[string]string{
				"STOCKREF": "product_code", "SOURCEINDEX": "warehouse_code",
				"AMOUNT": "quantity", "PRICE": "unit_value", "DATE_": "date", "IOCODE": "direction",
			},
		},
		models.MigrationEntityTypeCustomer: {
			Table: firmTable("CLCARD"), KeyColumn: "LOGICALREF",
			Columns: map[string]string{
				"CODE": "code", "DEFINITION_": "name", "TAXNR": "tax_number",
				"TAXOFFICE": "tax_office", "TELNRS1": "phone", "EMAILADDR": "email",
			},
		},
		models.MigrationEntityTypeSupplier: {
			Table: firmTable("CLCARD"), KeyColumn: "LOGICALREF",
			Columns: map[string]string{
				"CODE": "code", "DEFINITION_": "name", "TAXNR": "tax_number",
				"TAXOFFICE": "tax_office", "TELNRS1": "phone", "EMAILADDR": "email",
			},
		},
		models.MigrationEntityTypeInvoice: {
			Table: periodTable("INVOICE"), KeyColumn: "LOGICALREF",
			Columns: map[string]string{
				"FICHENO": "code", "CLIENTREF": "customer_code", "DATE_": "date",
				"NETTOTAL": "net_total", "TOTALVAT": "vat_total", "GROSSTOTAL": "grand_total",
			},
		},
	}
}

// ETA SQL (V.8) keeps masters in STKKART/CARKART style tables.
func etaTableMap() map[models.MigrationEntityType]sqlEntitySource {
	return map[models.MigrationEntityType]sqlEntitySource{
		models.MigrationEntityTypeCategory: {
			Table: "STKGRUP", KeyColumn: "GRPKOD",
			Columns: map[string]string{"GRPKOD": "code", "GRPACK": "name"},
		},
		models.MigrationEntityTypeProduct: {
			Table: "STKKART", KeyColumn: "STKKOD",
			Columns: map[string]string{
				"STKKOD": "code", "STKCINSI": "name", "STKGRUP": "category_code",
				"STKBRM": "unit_code", "STKKDV": "vat_rate", "STKSFIY1": "sales_price",
			},
		},
		models.MigrationEntityTypeCustomer: {
			Table: "CARKART", KeyColumn: "CARKOD",
			Columns: map[string]string{
				"CARKOD": "code", "CARUNVAN": "name", "CARVERGINO": "tax_number",
				"CARVERGIDAIRE": "tax_office", "CARTEL1": "phone",
			},
		},
		models.MigrationEntityTypeSupplier: {
			Table: "CARKART", KeyColumn: "CARKOD",
			Columns: map[string]string{
				"CARKOD": "code", "CARUNVAN": "name", "CARVERGINO": "tax_number",
				"CARVERGIDAIRE": "tax_office", "CARTEL1": "phone",
			},
		},
		models.MigrationEntityTypeStock: {
			Table: "STKHAR", KeyColumn: "STKHARREFNO",
			Columns: map[string]string{
				"STKHARSTKKOD": "product_code", "STKHARDEPO": "warehouse_code", "STKHARMIK": "quantity",
			},
		},
	}
}

// Mikro v16 schema.
func mikroTableMap() map[models.MigrationEntityType]sqlEntitySource {
	return map[models.MigrationEntityType]sqlEntitySource{
		models.MigrationEntityTypeCategory: {
			Table: "STOK_KATEGORILERI", KeyColumn: "ktg_kod",
			Columns: map[string]string{"ktg_kod": "code", "ktg_isim": "name"},
		},
		models.MigrationEntityTypeProduct: {
			Table: "STOKLAR", KeyColumn: "sto_kod",
			Columns: map[string]string{
				"sto_kod": "code", "sto_isim": "name", "sto_kategori_kodu": "category_code",
				"sto_birim1_ad": "unit_code", "sto_perakende_vergi": "vat_rate",
			},
		},
		models.MigrationEntityTypeWarehouse: {
			Table: "DEPOLAR", KeyColumn: "dep_no",
			Columns: map[string]string{"dep_no": "code", "dep_adi": "name"},
		},
		models.MigrationEntityTypeCustomer: {
			Table: "CARI_HESAPLAR", KeyColumn: "cari_kod",
			Columns: map[string]string{
				"cari_kod": "code", "cari_unvan1": "name", "cari_vdaire_no": "tax_number",
				"cari_vdaire_adi": "tax_office", "cari_CepTel": "phone", "cari_EMail": "email",
			},
		},
		models.MigrationEntityTypeSupplier: {
			Table: "CARI_HESAPLAR", KeyColumn: "cari_kod",
			Columns: map[string]string{
				"cari_kod": "code", "cari_unvan1": "name", "cari_vdaire_no": "tax_number",
				"cari_vdaire_adi": "tax_office", "cari_CepTel": "phone", "cari_EMail": "email",
			},
		},
		models.MigrationEntityTypeStockMovement: {
			Table: "STOK_HAREKETLERI", KeyColumn: "sth_RECno",
			Columns: map[string]string{
				"sth_stok_kod": "product_code", "sth_giris_depo_no": "warehouse_code",
				"sth_miktar": "quantity", "sth_tutar": "unit_value", "sth_tarih": "date",
			},
		},
	}
}

// Netsis keeps masters in TBL* tables.
func netsisTableMap() map[models.MigrationEntityType]sqlEntitySource {
	return map[models.MigrationEntityType]sqlEntitySource{
		models.MigrationEntityTypeCategory: {
			Table: "TBLSTOKKOD1", KeyColumn: "GRUP_KOD",
			Columns: map[string]string{"GRUP_KOD": "code", "GRUP_ISIM": "name"},
		},
		models.MigrationEntityTypeProduct: {
			Table: "TBLSTSABIT", KeyColumn: "STOK_KODU",
			Columns: map[string]string{
				"STOK_KODU": "code", "STOK_ADI": "name", "GRUP_KODU": "category_code",
				"OLCU_BR1": "unit_code", "KDV_ORANI": "vat_rate", "SATIS_FIAT1": "sales_price",
				"BARKOD1": "barcode",
			},
		},
		models.MigrationEntityTypeCustomer: {
			Table: "TBLCASABIT", KeyColumn: "CARI_KOD",
			Columns: map[string]string{
				"CARI_KOD": "code", "CARI_ISIM": "name", "VERGI_NUMARASI": "tax_number",
				"VERGI_DAIRESI": "tax_office", "CARI_TEL": "phone", "EMAIL": "email",
			},
		},
		models.MigrationEntityTypeSupplier: {
			Table: "TBLCASABIT", KeyColumn: "CARI_KOD",
			Columns: map[string]string{
				"CARI_KOD": "code", "CARI_ISIM": "name", "VERGI_NUMARASI": "tax_number",
				"VERGI_DAIRESI": "tax_office", "CARI_TEL": "phone", "EMAIL": "email",
			},
		},
		models.MigrationEntityTypeStockMovement: {
			Table: "TBLSTHAR", KeyColumn: "INCKEYNO",
			Columns: map[string]string{
				"STOK_KODU": "product_code", "DEPO_KODU": "warehouse_code",
				"STHAR_GCMIK": "quantity", "STHAR_NF": "unit_value", "STHAR_TARIH": "date",
				"STHAR_GCKOD": "direction",
			},
		},
	}
}
