package models

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldmaxhq/inventory_backend/config"
	"github.com/fieldmaxhq/inventory_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StockEntry is the append-only inventory ledger. Rows are never mutated or
// deleted in normal operation; the only retraction mechanism is an
// equal-and-opposite entry whose ReferenceId links back to the original
// (REVERSE-<sale>, DELETE-<sale>, ITEM-DELETE-<item>).
type StockEntry struct {
	ID          int             `gorm:"primary_key" json:"id"`
	ProductId   int             `gorm:"index;not null" json:"product_id"`
	Qty         int64           `gorm:"not null" json:"qty"`
	EntryKind   StockEntryKind  `gorm:"type:enum('purchase','sale','return','adjustment');not null;index" json:"entry_kind"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	ReferenceId string          `gorm:"size:100;index" json:"reference_id"`
	Notes       string          `gorm:"type:text" json:"notes"`
	CreatedBy   string          `gorm:"size:100" json:"created_by"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (e *StockEntry) IsStockIn() bool {
	return e.Qty > 0
}

type NewStockEntry struct {
	Qty       int64          `json:"qty" binding:"required"`
	EntryKind StockEntryKind `json:"entry_kind" binding:"required"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	// TotalAmount overrides the computed abs(qty)*unit_price; needed for
	// zero-value transfer/adjustment records.
	TotalAmount *decimal.Decimal `json:"total_amount"`
	ReferenceId string           `json:"reference_id"`
	Notes       string           `json:"notes"`
}

// AppendStockEntry appends one ledger row and applies it to the owning
// product's quantity/status inside the caller's transaction (one atomic unit
// of work). The caller must already hold the product's row lock.
func AppendStockEntry(tx *gorm.DB, logger *logrus.Logger, product *Product, category *Category, input *NewStockEntry, actor string) (*StockEntry, error) {
	if err := input.EntryKind.Valid(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMovement, err)
	}

	newQty, newStatus, err := applyStockMovement(logger, product, category, input.Qty, input.EntryKind)
	if err != nil {
		return nil, err
	}

	totalAmount := input.UnitPrice.Mul(decimal.NewFromInt(input.Qty).Abs())
	if input.TotalAmount != nil {
		totalAmount = *input.TotalAmount
	}

	entry := &StockEntry{
		ProductId:   product.ID,
		Qty:         input.Qty,
		EntryKind:   input.EntryKind,
		UnitPrice:   input.UnitPrice,
		TotalAmount: totalAmount,
		ReferenceId: input.ReferenceId,
		Notes:       input.Notes,
		CreatedBy:   actor,
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, translateLockErr(err)
	}

	if err := tx.Model(&Product{}).Where("id = ?", product.ID).
		Updates(map[string]interface{}{
			"quantity": newQty,
			"status":   newStatus,
		}).Error; err != nil {
		return nil, translateLockErr(err)
	}
	oldQty := product.Quantity
	product.Quantity = newQty
	product.Status = newStatus

	direction := "OUT"
	if entry.IsStockIn() {
		direction = "IN"
	}
	logger.WithFields(logrus.Fields{
		"direction":    direction,
		"entry_kind":   entry.EntryKind,
		"product_code": product.ProductCode,
		"qty":          entry.Qty,
		"old_stock":    oldQty,
		"new_stock":    newQty,
		"reference":    entry.ReferenceId,
		"actor":        actor,
	}).Info("stock movement")

	logStockAlerts(logger, product, category)

	return entry, nil
}

// logStockAlerts flags low / exhausted bulk stock. Alerting is log-only here;
// outbound notification delivery belongs to the surrounding system.
func logStockAlerts(logger *logrus.Logger, product *Product, category *Category) {
	if !category.IsBulkItem() {
		return
	}
	switch product.Status {
	case ProductStatusLowStock:
		logger.WithFields(logrus.Fields{
			"product_code": product.ProductCode,
			"quantity":     product.Quantity,
		}).Warn("low stock")
	case ProductStatusOutOfStock:
		logger.WithFields(logrus.Fields{
			"product_code": product.ProductCode,
		}).Error("out of stock")
	}
}

// RecordStockMovement is the inbound operation for manual movements
// (restock paperwork, corrections). It runs its own transaction: lock the
// product row, append, apply, commit.
func RecordStockMovement(ctx context.Context, productId int, input *NewStockEntry) (*StockEntry, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	actor := utils.ActorFromContext(ctx)

	release, _ := utils.StockLock(ctx, []int{productId}, "stockEntry.go", "RecordStockMovement")
	defer release()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	product, category, err := lockProduct(tx.WithContext(ctx), productId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	entry, err := AppendStockEntry(tx.WithContext(ctx), logger, product, category, input, actor)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, translateLockErr(err)
	}
	return entry, nil
}

// RetractStockEntry is the only supported way to undo a ledger row: the
// original stays in place and an equal-and-opposite adjustment is appended,
// keeping the ledger sum equal to the stored quantity. Retraction outside the
// sale compensation flows is exceptional and always logged at Error severity.
func RetractStockEntry(ctx context.Context, id int) (*StockEntry, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	actor := utils.ActorFromContext(ctx)

	entry, err := utils.FetchModel[StockEntry](ctx, id)
	if err != nil {
		return nil, err
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	// The original entry may belong to a deactivated product; retraction still
	// has to balance its ledger.
	product, category, err := lockAnyProduct(tx.WithContext(ctx), entry.ProductId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	compensation, err := AppendStockEntry(tx.WithContext(ctx), logger, product, category, &NewStockEntry{
		Qty:         -entry.Qty,
		EntryKind:   StockEntryKindAdjustment,
		UnitPrice:   entry.UnitPrice,
		ReferenceId: fmt.Sprintf("ENTRY-RETRACT-%d", entry.ID),
		Notes:       fmt.Sprintf("retraction of ledger entry %d", entry.ID),
	}, actor)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, translateLockErr(err)
	}

	logger.WithFields(logrus.Fields{
		"entry_id":     entry.ID,
		"entry_kind":   entry.EntryKind,
		"product_code": product.ProductCode,
		"qty":          entry.Qty,
		"actor":        actor,
	}).Error("stock entry retracted outside sale compensation flow")

	return compensation, nil
}

func GetStockEntryAll(ctx context.Context, productId *int, entryKind *StockEntryKind) ([]*StockEntry, error) {
	db := config.GetDB()
	var results []*StockEntry

	dbCtx := db.WithContext(ctx)
	if productId != nil {
		dbCtx = dbCtx.Where("product_id = ?", *productId)
	}
	if entryKind != nil {
		dbCtx = dbCtx.Where("entry_kind = ?", *entryKind)
	}
	if err := dbCtx.Order("id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
