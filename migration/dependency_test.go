package migration

import (
	"testing"

	"bitbucket.org/mmdatafocus/migration_backend/models"
)

func TestImportOrder_CoversEveryEntityTypeOnce(t *testing.T) {
	order := ImportOrder()
	seen := map[models.MigrationEntityType]int{}
	for _, et := range order {
		seen[et]++
	}
	for _, et := range models.AllMigrationEntityTypes() {
		if seen[et] != 1 {
			t.Fatalf("entity type %s appears %d times in import order", et, seen[et])
		}
	}
	if len(order) != len(models.AllMigrationEntityTypes()) {
		t.Fatalf("import order has %d entries, expected %d", len(order), len(models.AllMigrationEntityTypes()))
	}
}

func TestImportOrder_IsTopologicalOverPredecessors(t *testing.T) {
	position := map[models.MigrationEntityType]int{}
	for i, et := range ImportOrder() {
		position[et] = i
	}
	for _, et := range ImportOrder() {
		for _, pred := range Predecessors(et) {
			if position[pred] >= position[et] {
				t.Fatalf("%s is a predecessor of %s but comes later in the import order", pred, et)
			}
		}
	}
}

func TestPredecessors_EveryPredecessorIsAKnownType(t *testing.T) {
	for _, et := range ImportOrder() {
		for _, pred := range Predecessors(et) {
			if !pred.IsValid() {
				t.Fatalf("%s has unknown predecessor %q", et, pred)
			}
		}
	}
}

func TestSessionImportOrder_FiltersAndPreservesOrder(t *testing.T) {
	// requested out of order on purpose
	requested := []models.MigrationEntityType{
		models.MigrationEntityTypeProduct,
		models.MigrationEntityTypeCategory,
		models.MigrationEntityTypeStock,
	}
	order := SessionImportOrder(requested)
	want := []models.MigrationEntityType{
		models.MigrationEntityTypeCategory,
		models.MigrationEntityTypeProduct,
		models.MigrationEntityTypeStock,
	}
	if len(order) != len(want) {
		t.Fatalf("got %d types, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, order[i], want[i])
		}
	}
}

func TestValidationReady_GatesOnInSessionPredecessors(t *testing.T) {
	requested := []models.MigrationEntityType{
		models.MigrationEntityTypeCategory,
		models.MigrationEntityTypeProduct,
	}
	done := map[models.MigrationEntityType]bool{}

	if !ValidationReady(models.MigrationEntityTypeCategory, requested, done) {
		t.Fatal("Category has no predecessors and must be ready immediately")
	}
	if ValidationReady(models.MigrationEntityTypeProduct, requested, done) {
		t.Fatal("Product must wait for Category within the same session")
	}

	done[models.MigrationEntityTypeCategory] = true
	if !ValidationReady(models.MigrationEntityTypeProduct, requested, done) {
		t.Fatal("Product must be ready once Category finished; Brand/Unit are not in the session")
	}
}

func TestValidationReady_LocationWaitsForWarehouse(t *testing.T) {
	// Location rows carry a warehouse_code reference, so Warehouse keys must
	// be fully registered before any Location chunk validates.
	requested := []models.MigrationEntityType{
		models.MigrationEntityTypeWarehouse,
		models.MigrationEntityTypeLocation,
	}
	done := map[models.MigrationEntityType]bool{}

	if ValidationReady(models.MigrationEntityTypeLocation, requested, done) {
		t.Fatal("Location must wait for in-session Warehouse chunks")
	}
	done[models.MigrationEntityTypeWarehouse] = true
	if !ValidationReady(models.MigrationEntityTypeLocation, requested, done) {
		t.Fatal("Location must be ready once Warehouse finished")
	}
}

func TestValidationReady_PredecessorsOutsideSessionDoNotGate(t *testing.T) {
	// Stock depends on Product, Warehouse and Location, but the session only
	// migrates Stock. Nothing gates it.
	requested := []models.MigrationEntityType{models.MigrationEntityTypeStock}
	if !ValidationReady(models.MigrationEntityTypeStock, requested, map[models.MigrationEntityType]bool{}) {
		t.Fatal("predecessors outside the session must not gate validation")
	}
}
