package models

import (
	"github.com/fieldmaxhq/inventory_backend/config"
)

func MigrateTable() error {
	db := config.GetDB()
	if err := db.AutoMigrate(
		&Category{},
		&Product{},
		&StockEntry{},
		&Sale{},
		&SaleItem{},
		&ReceiptCounter{},
	); err != nil {
		return err
	}

	// SKU uniqueness applies to active products only, and MySQL has no partial
	// indexes: the functional index maps inactive and SKU-less rows to NULL,
	// which unique indexes allow to repeat. This backstops the pre-insert
	// uniqueness check against concurrent creates of the same SKU.
	if err := db.Exec(
		"CREATE UNIQUE INDEX uniq_products_active_sku ON products ((CASE WHEN is_active = 1 AND sku_value <> '' THEN sku_value ELSE NULL END))",
	).Error; err != nil && !isDuplicateKeyNameErr(err) {
		return err
	}
	return nil
}
