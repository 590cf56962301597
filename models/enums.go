package models

type MigrationSourceType string

const (
	MigrationSourceTypeExcel      MigrationSourceType = "Excel"
	MigrationSourceTypeLogo       MigrationSourceType = "Logo"
	MigrationSourceTypeEta        MigrationSourceType = "Eta"
	MigrationSourceTypeMikro      MigrationSourceType = "Mikro"
	MigrationSourceTypeNetsis     MigrationSourceType = "Netsis"
	MigrationSourceTypeParasut    MigrationSourceType = "Parasut"
	MigrationSourceTypeGenericSql MigrationSourceType = "GenericSql"
)

var allMigrationSourceTypes = []MigrationSourceType{
	MigrationSourceTypeExcel,
	MigrationSourceTypeLogo,
	MigrationSourceTypeEta,
	MigrationSourceTypeMikro,
	MigrationSourceTypeNetsis,
	MigrationSourceTypeParasut,
	MigrationSourceTypeGenericSql,
}

func (t MigrationSourceType) IsValid() bool {
	for _, st := range allMigrationSourceTypes {
		if t == st {
			return true
		}
	}
	return false
}

// file sources receive chunks from the client; the rest are extracted server-side
func (t MigrationSourceType) IsFileSource() bool {
	return t == MigrationSourceTypeExcel
}

type MigrationEntityType string

const (
	MigrationEntityTypeCategory       MigrationEntityType = "Category"
	MigrationEntityTypeBrand          MigrationEntityType = "Brand"
	MigrationEntityTypeUnit           MigrationEntityType = "Unit"
	MigrationEntityTypeProduct        MigrationEntityType = "Product"
	MigrationEntityTypeWarehouse      MigrationEntityType = "Warehouse"
	MigrationEntityTypeLocation       MigrationEntityType = "Location"
	MigrationEntityTypeStock          MigrationEntityType = "Stock"
	MigrationEntityTypeStockMovement  MigrationEntityType = "StockMovement"
	MigrationEntityTypeCustomer       MigrationEntityType = "Customer"
	MigrationEntityTypeSupplier       MigrationEntityType = "Supplier"
	MigrationEntityTypeInvoice        MigrationEntityType = "Invoice"
	MigrationEntityTypeInvoiceItem    MigrationEntityType = "InvoiceItem"
	MigrationEntityTypeOpeningBalance MigrationEntityType = "OpeningBalance"
	MigrationEntityTypePriceList      MigrationEntityType = "PriceList"
)

var allMigrationEntityTypes = []MigrationEntityType{
	MigrationEntityTypeCategory,
	MigrationEntityTypeBrand,
	MigrationEntityTypeUnit,
	MigrationEntityTypeProduct,
	MigrationEntityTypeWarehouse,
	MigrationEntityTypeLocation,
	MigrationEntityTypeStock,
	MigrationEntityTypeStockMovement,
	MigrationEntityTypeCustomer,
	MigrationEntityTypeSupplier,
	MigrationEntityTypeInvoice,
	MigrationEntityTypeInvoiceItem,
	MigrationEntityTypeOpeningBalance,
	MigrationEntityTypePriceList,
}

func AllMigrationEntityTypes() []MigrationEntityType {
	out := make([]MigrationEntityType, len(allMigrationEntityTypes))
	copy(out, allMigrationEntityTypes)
	return out
}

func (t MigrationEntityType) IsValid() bool {
	for _, et := range allMigrationEntityTypes {
		if t == et {
			return true
		}
	}
	return false
}

type MigrationSessionState string

const (
	MigrationSessionStateCreated    MigrationSessionState = "Created"
	MigrationSessionStateUploading  MigrationSessionState = "Uploading"
	MigrationSessionStateUploaded   MigrationSessionState = "Uploaded"
	MigrationSessionStateValidating MigrationSessionState = "Validating"
	MigrationSessionStateValidated  MigrationSessionState = "Validated"
	MigrationSessionStateImporting  MigrationSessionState = "Importing"
	MigrationSessionStateCompleted  MigrationSessionState = "Completed"
	MigrationSessionStateFailed     MigrationSessionState = "Failed"
	MigrationSessionStateCancelled  MigrationSessionState = "Cancelled"
	MigrationSessionStateExpired    MigrationSessionState = "Expired"
)

func (s MigrationSessionState) IsTerminal() bool {
	switch s {
	case MigrationSessionStateCompleted,
		MigrationSessionStateFailed,
		MigrationSessionStateCancelled,
		MigrationSessionStateExpired:
		return true
	}
	return false
}

type MigrationChunkState string

const (
	MigrationChunkStateReceived  MigrationChunkState = "Received"
	MigrationChunkStateValidated MigrationChunkState = "Validated"
	MigrationChunkStateImported  MigrationChunkState = "Imported"
	MigrationChunkStateFailed    MigrationChunkState = "Failed"
)

type MigrationRecordState string

const (
	MigrationRecordStatePending MigrationRecordState = "Pending"
	MigrationRecordStateValid   MigrationRecordState = "Valid"
	MigrationRecordStateWarning MigrationRecordState = "Warning"
	MigrationRecordStateError   MigrationRecordState = "Error"
	MigrationRecordStateSkipped MigrationRecordState = "Skipped"
	MigrationRecordStateFixed   MigrationRecordState = "Fixed"
)

// Importable reports whether a record in this state may be written to the target store.
func (s MigrationRecordState) Importable(skipWarnings bool) bool {
	switch s {
	case MigrationRecordStateValid, MigrationRecordStateFixed:
		return true
	case MigrationRecordStateWarning:
		return !skipWarnings
	}
	return false
}

type MigrationErrorCode string

const (
	// client errors, rejected synchronously
	MigrationErrorCodeInvalidSourceConfig  MigrationErrorCode = "InvalidSourceConfig"
	MigrationErrorCodeDuplicateChunk       MigrationErrorCode = "DuplicateChunk"
	MigrationErrorCodeIncompleteUpload     MigrationErrorCode = "IncompleteUpload"
	MigrationErrorCodeSessionStateConflict MigrationErrorCode = "SessionStateConflict"
	MigrationErrorCodeSessionNotFound      MigrationErrorCode = "SessionNotFound"
	MigrationErrorCodeChunkNotFound        MigrationErrorCode = "ChunkNotFound"
	MigrationErrorCodeRecordNotFound       MigrationErrorCode = "RecordNotFound"

	// data errors, surfaced as record findings
	MigrationErrorCodeMalformedRow         MigrationErrorCode = "MalformedRow"
	MigrationErrorCodeMissingField         MigrationErrorCode = "MissingField"
	MigrationErrorCodeInvalidValue         MigrationErrorCode = "InvalidValue"
	MigrationErrorCodeUnresolvedReference  MigrationErrorCode = "UnresolvedReference"
	MigrationErrorCodeDuplicateBusinessKey MigrationErrorCode = "DuplicateBusinessKey"

	// infrastructure / fatal
	MigrationErrorCodeChunkUnreadable      MigrationErrorCode = "ChunkUnreadable"
	MigrationErrorCodeSourceUnreachable    MigrationErrorCode = "SourceUnreachable"
	MigrationErrorCodeAuthenticationFailed MigrationErrorCode = "AuthenticationFailed"
	MigrationErrorCodeTargetWriteFailed    MigrationErrorCode = "TargetWriteFailed"
	MigrationErrorCodeInternal             MigrationErrorCode = "Internal"
)

type MigrationJobKind string

const (
	MigrationJobKindExtract  MigrationJobKind = "Extract"
	MigrationJobKindValidate MigrationJobKind = "Validate"
	MigrationJobKindImport   MigrationJobKind = "Import"
)

type MigrationJobStatus string

const (
	MigrationJobStatusQueued    MigrationJobStatus = "Queued"
	MigrationJobStatusRunning   MigrationJobStatus = "Running"
	MigrationJobStatusSucceeded MigrationJobStatus = "Succeeded"
	MigrationJobStatusFailed    MigrationJobStatus = "Failed"
)
