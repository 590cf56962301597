package models

import (
	"bitbucket.org/mmdatafocus/migration_backend/config"
	"bitbucket.org/mmdatafocus/migration_backend/utils"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},

		&MigrationSession{},
		&MigrationChunk{},
		&MigrationRecordReport{},
		&MigrationKeyIndex{},
		&MigrationJob{},

		&TargetCategory{},
		&TargetBrand{},
		&TargetUnit{},
		&TargetProduct{},
		&TargetWarehouse{},
		&TargetLocation{},
		&TargetStock{},
		&TargetStockMovement{},
		&TargetCustomer{},
		&TargetSupplier{},
		&TargetInvoice{},
		&TargetInvoiceItem{},
		&TargetOpeningBalance{},
		&TargetPriceList{},
	)
	utils.ErrorPanic(err)
}
