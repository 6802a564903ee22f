package workflow

import (
	"context"

	"github.com/fieldmaxhq/inventory_backend/config"
	"github.com/fieldmaxhq/inventory_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Drift is one product whose stored quantity or status disagrees with the
// state derived from its ledger sum.
type Drift struct {
	ProductId      int                  `json:"product_id"`
	ProductCode    string               `json:"product_code"`
	StoredQuantity int64                `json:"stored_quantity"`
	LedgerQuantity int64                `json:"ledger_quantity"`
	StoredStatus   models.ProductStatus `json:"stored_status"`
	DerivedStatus  models.ProductStatus `json:"derived_status"`
}

// RebuildInventory re-derives every active product's quantity/status from the
// sum of its ledger deltas. With fix=false it only reports drift; with
// fix=true it also writes the derived state back under the product row locks.
//
// The ledger is the source of truth: after a crash mid-transaction or a
// manual database edit this restores the stored projection to match it.
func RebuildInventory(ctx context.Context, fix bool) ([]Drift, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := AcquireRebuildLock(tx, "all"); err != nil {
		tx.Rollback()
		return nil, err
	}
	// Released before commit: RELEASE_LOCK on a finished tx is a silent no-op
	// and would leak the lock into the pooled connection.
	fail := func(err error) ([]Drift, error) {
		ReleaseRebuildLock(tx, "all")
		tx.Rollback()
		return nil, err
	}

	var products []*models.Product
	query := tx.WithContext(ctx).Preload("Category").
		Where("is_active = ?", true).Order("id")
	if fix {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.Find(&products).Error; err != nil {
		return fail(err)
	}

	threshold := config.LowStockThreshold()
	var drifts []Drift
	for _, product := range products {
		ledgerQty, err := ledgerSum(tx.WithContext(ctx), product.ID)
		if err != nil {
			return fail(err)
		}

		derivedStatus := models.StatusForQuantity(product.Category.ItemKind, ledgerQty, threshold)
		if ledgerQty == product.Quantity && derivedStatus == product.Status {
			continue
		}

		drift := Drift{
			ProductId:      product.ID,
			ProductCode:    product.ProductCode,
			StoredQuantity: product.Quantity,
			LedgerQuantity: ledgerQty,
			StoredStatus:   product.Status,
			DerivedStatus:  derivedStatus,
		}
		drifts = append(drifts, drift)

		logger.WithFields(logrus.Fields{
			"product_code":    drift.ProductCode,
			"stored_quantity": drift.StoredQuantity,
			"ledger_quantity": drift.LedgerQuantity,
			"stored_status":   drift.StoredStatus,
			"derived_status":  drift.DerivedStatus,
			"fix":             fix,
		}).Warn("inventory drift")

		if !fix {
			continue
		}
		if err := tx.WithContext(ctx).Model(&models.Product{}).
			Where("id = ?", product.ID).
			Updates(map[string]interface{}{
				"quantity": ledgerQty,
				"status":   derivedStatus,
			}).Error; err != nil {
			return fail(err)
		}
	}

	ReleaseRebuildLock(tx, "all")
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return drifts, nil
}

func ledgerSum(tx *gorm.DB, productId int) (int64, error) {
	var sum *int64
	if err := tx.Model(&models.StockEntry{}).
		Where("product_id = ?", productId).
		Select("SUM(qty)").Scan(&sum).Error; err != nil {
		return 0, err
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

// MarkSoldProducts flips single items sitting at quantity zero but still
// flagged available over to sold. Such rows only appear after manual database
// edits; normal movements keep the pair consistent.
func MarkSoldProducts(ctx context.Context) (int64, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := AcquireRebuildLock(tx, "mark-sold"); err != nil {
		tx.Rollback()
		return 0, err
	}

	result := tx.WithContext(ctx).Model(&models.Product{}).
		Where("quantity <= 0 AND status = ? AND is_active = ?", models.ProductStatusAvailable, true).
		Where("category_id IN (?)", tx.Model(&models.Category{}).
			Select("id").Where("item_kind = ?", models.ItemKindSingle)).
		Update("status", models.ProductStatusSold)
	if result.Error != nil {
		ReleaseRebuildLock(tx, "mark-sold")
		tx.Rollback()
		return 0, result.Error
	}

	ReleaseRebuildLock(tx, "mark-sold")
	if err := tx.Commit().Error; err != nil {
		return 0, err
	}

	if result.RowsAffected > 0 {
		logger.WithFields(logrus.Fields{
			"count": result.RowsAffected,
		}).Warn("marked stale single items as sold")
	}
	return result.RowsAffected, nil
}
