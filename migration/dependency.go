package migration

import (
	"bitbucket.org/mmdatafocus/migration_backend/models"
)

// The entity dependency graph is fixed and small, so it is kept as a static
// predecessor table plus an explicit total order instead of a graph solver.
// Import (and referential validation) of a type must not start until every
// predecessor type has finished.
var entityPredecessors = map[models.MigrationEntityType][]models.MigrationEntityType{
	models.MigrationEntityTypeCategory: {},
	models.MigrationEntityTypeBrand:    {models.MigrationEntityTypeCategory},
	models.MigrationEntityTypeUnit:     {models.MigrationEntityTypeCategory},
	models.MigrationEntityTypeProduct: {
		models.MigrationEntityTypeCategory,
		models.MigrationEntityTypeBrand,
		models.MigrationEntityTypeUnit,
	},
	models.MigrationEntityTypeWarehouse: {models.MigrationEntityTypeProduct},
	models.MigrationEntityTypeLocation: {
		models.MigrationEntityTypeProduct,
		models.MigrationEntityTypeWarehouse,
	},
	models.MigrationEntityTypeStock: {
		models.MigrationEntityTypeProduct,
		models.MigrationEntityTypeWarehouse,
		models.MigrationEntityTypeLocation,
	},
	models.MigrationEntityTypeStockMovement: {
		models.MigrationEntityTypeProduct,
		models.MigrationEntityTypeWarehouse,
		models.MigrationEntityTypeLocation,
	},
	models.MigrationEntityTypeCustomer: {},
	models.MigrationEntityTypeSupplier: {},
	models.MigrationEntityTypeInvoice:  {models.MigrationEntityTypeCustomer},
	models.MigrationEntityTypeInvoiceItem: {
		models.MigrationEntityTypeInvoice,
		models.MigrationEntityTypeProduct,
	},
	models.MigrationEntityTypeOpeningBalance: {
		models.MigrationEntityTypeProduct,
		models.MigrationEntityTypeWarehouse,
	},
	models.MigrationEntityTypePriceList: {models.MigrationEntityTypeProduct},
}

// Predecessors returns the entity types that must be fully processed before
// the given type may start.
func Predecessors(entityType models.MigrationEntityType) []models.MigrationEntityType {
	preds := entityPredecessors[entityType]
	out := make([]models.MigrationEntityType, len(preds))
	copy(out, preds)
	return out
}

// ImportOrder returns the full processing order. The enum declaration order
// is already a valid topological sort of the predecessor table, which the
// dependency tests pin down.
func ImportOrder() []models.MigrationEntityType {
	return models.AllMigrationEntityTypes()
}

// SessionImportOrder filters ImportOrder down to the entity types a session
// actually requested, preserving order.
func SessionImportOrder(requested []models.MigrationEntityType) []models.MigrationEntityType {
	wanted := map[models.MigrationEntityType]bool{}
	for _, et := range requested {
		wanted[et] = true
	}
	var out []models.MigrationEntityType
	for _, et := range ImportOrder() {
		if wanted[et] {
			out = append(out, et)
		}
	}
	return out
}

// ValidationReady reports whether referential validation of entityType may
// start, given the set of entity types whose chunks have all finished
// validating. Predecessors outside the session's requested set do not gate.
func ValidationReady(entityType models.MigrationEntityType, requested []models.MigrationEntityType, done map[models.MigrationEntityType]bool) bool {
	inSession := map[models.MigrationEntityType]bool{}
	for _, et := range requested {
		inSession[et] = true
	}
	for _, pred := range entityPredecessors[entityType] {
		if inSession[pred] && !done[pred] {
			return false
		}
	}
	return true
}
