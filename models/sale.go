package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fieldmaxhq/inventory_backend/config"
	"github.com/fieldmaxhq/inventory_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sale is one checkout transaction. Totals are derived from its items.
// Reversal is a one-way state transition (is_reversed), never a deletion;
// physical deletion exists but is an exceptional compensating event.
type Sale struct {
	ID            int             `gorm:"primary_key" json:"id"`
	SaleNumber    string          `gorm:"size:50;uniqueIndex;not null" json:"sale_number"`
	SellerId      int             `gorm:"index" json:"seller_id"`
	SellerName    string          `gorm:"size:100" json:"seller_name"`
	BuyerName     string          `gorm:"size:255" json:"buyer_name"`
	BuyerPhone    string          `gorm:"size:50" json:"buyer_phone"`
	TotalQuantity int64           `gorm:"not null;default:0" json:"total_quantity"`
	Subtotal      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	TaxAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_amount"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	IsReversed    *bool           `gorm:"not null;default:false;index" json:"is_reversed"`
	ReversedAt    *time.Time      `json:"reversed_at"`
	ReversedBy    *string         `gorm:"size:100" json:"reversed_by"`
	ReversalReason *string        `gorm:"type:text" json:"reversal_reason"`
	// Fiscal receipt metadata is recorded from the external ETR collaborator;
	// this system only stores what it returns.
	ReceiptNumber  *string    `gorm:"size:50;index" json:"receipt_number"`
	ReceiptCounter *int64     `json:"receipt_counter"`
	EtrProcessedAt *time.Time `json:"etr_processed_at"`
	Items          []SaleItem `gorm:"foreignKey:SaleId" json:"items"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Sale) Reversed() bool {
	return s.IsReversed != nil && *s.IsReversed
}

// SaleItem is one line of a sale. Product code/name/SKU are snapshotted at
// sale time so later catalog edits never alter historical receipts.
type SaleItem struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	SaleId              int             `gorm:"index;not null" json:"sale_id"`
	ProductId           int             `gorm:"index;not null" json:"product_id"`
	ProductCodeSnapshot string          `gorm:"size:50;not null" json:"product_code_snapshot"`
	ProductNameSnapshot string          `gorm:"size:255;not null" json:"product_name_snapshot"`
	SkuSnapshot         string          `gorm:"size:100" json:"sku_snapshot"`
	Quantity            int64           `gorm:"not null" json:"quantity"`
	UnitPrice           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	TotalPrice          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_price"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewSale struct {
	BuyerName  string          `json:"buyer_name"`
	BuyerPhone string          `json:"buyer_phone"`
	// Tax policy (e.g. VAT) is supplied by the caller, not computed here.
	TaxAmount decimal.Decimal `json:"tax_amount"`
	Items     []NewSaleItem   `json:"items" binding:"required,dive"`
}

type NewSaleItem struct {
	ProductId int   `json:"product_id" binding:"required"`
	Quantity  int64 `json:"quantity" binding:"required"`
	// UnitPrice defaults to the product's selling price when zero.
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// saleLine is the {product, quantity, unit price} tuple the compensator works
// on. Reversal and deletion both restore through restoreSaleLines so the two
// paths cannot drift apart.
type saleLine struct {
	ProductId int
	Quantity  int64
	UnitPrice decimal.Decimal
}

func linesFromItems(items []SaleItem) []saleLine {
	lines := make([]saleLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, saleLine{
			ProductId: item.ProductId,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return lines
}

func sortedProductIds(lines []saleLine) []int {
	ids := make([]int, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductId)
	}
	ids = utils.UniqueSlice(ids)
	sort.Ints(ids)
	return ids
}

// lockProductsInOrder takes the row locks for every product in ascending id
// order. The fixed ordering prevents deadlock between concurrent multi-line
// sales touching overlapping product sets. Checkout requires active products;
// compensation passes includeInactive because the rows and their ledgers
// survive deactivation.
func lockProductsInOrder(tx *gorm.DB, ids []int, includeInactive bool) (map[int]*Product, map[int]*Category, error) {
	products := make(map[int]*Product, len(ids))
	categories := make(map[int]*Category, len(ids))
	lock := lockProduct
	if includeInactive {
		lock = lockAnyProduct
	}
	for _, id := range ids {
		product, category, err := lock(tx, id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				if includeInactive {
					return nil, nil, fmt.Errorf("%w: product %d not found", ErrProductNotAvailable, id)
				}
				return nil, nil, fmt.Errorf("%w: product %d not found or inactive", ErrProductNotAvailable, id)
			}
			return nil, nil, err
		}
		products[id] = product
		categories[id] = category
	}
	return products, categories, nil
}

// restoreSaleLines appends one compensating return entry per line, restoring
// stock under the same category-aware rules that debited it. Products must
// already be locked by the caller.
func restoreSaleLines(tx *gorm.DB, logger *logrus.Logger, products map[int]*Product, categories map[int]*Category, lines []saleLine, reference string, notes string, actor string) error {
	for _, line := range lines {
		product := products[line.ProductId]
		category := categories[line.ProductId]
		if _, err := AppendStockEntry(tx, logger, product, category, &NewStockEntry{
			Qty:         line.Quantity,
			EntryKind:   StockEntryKindReturn,
			UnitPrice:   line.UnitPrice,
			ReferenceId: reference,
			Notes:       notes,
		}, actor); err != nil {
			return err
		}
	}
	return nil
}

// CreateSale checks out one or more line items atomically: every affected
// product is locked in ascending id order, every line is availability-checked
// against the locked quantity, and every accepted line debits stock through a
// sale ledger entry. Any failing line aborts the whole checkout.
func CreateSale(ctx context.Context, input *NewSale) (*Sale, error) {
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("%w: sale needs at least one item", ErrInvalidMovement)
	}
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line quantity must be positive", ErrInvalidMovement)
		}
	}

	db := config.GetDB()
	logger := config.GetLogger()
	actor := utils.ActorFromContext(ctx)

	lines := make([]saleLine, 0, len(input.Items))
	for _, item := range input.Items {
		lines = append(lines, saleLine{ProductId: item.ProductId, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	lockIds := sortedProductIds(lines)

	release, _ := utils.StockLock(ctx, lockIds, "sale.go", "CreateSale")
	defer release()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	products, categories, err := lockProductsInOrder(tx.WithContext(ctx), lockIds, false)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// Validate all lines against the locked quantities before debiting
	// anything (all-or-nothing). Requested quantities accumulate per product
	// so duplicate lines cannot oversell together.
	requested := make(map[int]int64, len(lockIds))
	for _, line := range lines {
		product := products[line.ProductId]
		category := categories[line.ProductId]
		requested[line.ProductId] += line.Quantity

		if category.IsSingleItem() {
			if line.Quantity != 1 || requested[line.ProductId] > 1 {
				tx.Rollback()
				return nil, fmt.Errorf("%w: single item %s sells exactly one unit", ErrInvalidMovement, product.ProductCode)
			}
			if product.Quantity != 1 || product.Status != ProductStatusAvailable {
				tx.Rollback()
				return nil, fmt.Errorf("%w: %q (%s) is not available", ErrProductNotAvailable, product.Name, product.ProductCode)
			}
			continue
		}
		if requested[line.ProductId] > product.Quantity && !config.AllowNegativeStock() {
			tx.Rollback()
			return nil, fmt.Errorf("%w: only %d units of %q available", ErrInsufficientStock, product.Quantity, product.Name)
		}
	}

	sale := &Sale{
		SaleNumber: "SALE-" + utils.ShortCode(),
		SellerName: actor,
		BuyerName:  input.BuyerName,
		BuyerPhone: input.BuyerPhone,
		TaxAmount:  input.TaxAmount,
		IsReversed: utils.NewFalse(),
	}
	if sellerId, ok := utils.GetUserIdFromContext(ctx); ok {
		sale.SellerId = sellerId
	}

	subtotal := decimal.Zero
	var totalQuantity int64
	items := make([]SaleItem, 0, len(input.Items))
	for _, line := range lines {
		product := products[line.ProductId]
		unitPrice := line.UnitPrice
		if unitPrice.IsZero() {
			unitPrice = product.SellingPrice
		}
		lineTotal := unitPrice.Mul(decimal.NewFromInt(line.Quantity))

		items = append(items, SaleItem{
			ProductId:           product.ID,
			ProductCodeSnapshot: product.ProductCode,
			ProductNameSnapshot: product.Name,
			SkuSnapshot:         product.SkuValue,
			Quantity:            line.Quantity,
			UnitPrice:           unitPrice,
			TotalPrice:          lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
		totalQuantity += line.Quantity
	}
	sale.Items = items
	sale.TotalQuantity = totalQuantity
	sale.Subtotal = subtotal
	sale.TotalAmount = subtotal.Add(input.TaxAmount)

	if err := tx.WithContext(ctx).Create(sale).Error; err != nil {
		tx.Rollback()
		return nil, translateLockErr(err)
	}

	for _, item := range sale.Items {
		product := products[item.ProductId]
		category := categories[item.ProductId]
		if _, err := AppendStockEntry(tx.WithContext(ctx), logger, product, category, &NewStockEntry{
			Qty:         -item.Quantity,
			EntryKind:   StockEntryKindSale,
			UnitPrice:   item.UnitPrice,
			ReferenceId: sale.SaleNumber,
			Notes:       fmt.Sprintf("sale %s", sale.SaleNumber),
		}, actor); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, translateLockErr(err)
	}

	for _, item := range sale.Items {
		logger.WithFields(logrus.Fields{
			"sale_number":  sale.SaleNumber,
			"product_code": item.ProductCodeSnapshot,
			"qty":          item.Quantity,
			"buyer":        buyerOrWalkIn(sale.BuyerName),
			"line_total":   item.TotalPrice,
		}).Info("sale recorded")
	}

	return sale, nil
}

func buyerOrWalkIn(name string) string {
	if name == "" {
		return "Walk-in"
	}
	return name
}

// ReverseSale flips a sale to reversed and restores stock with one return
// entry per item, referencing REVERSE-<sale-number>.
//
// The transition is one-way and guarded inside the transaction: a sale found
// already reversed is returned unchanged with no new compensating entries, so
// concurrent or repeated reversals cannot double-restore.
func ReverseSale(ctx context.Context, saleId int, reason string) (*Sale, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	actor := utils.ActorFromContext(ctx)

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	sale, err := lockSale(tx.WithContext(ctx), saleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if sale.Reversed() {
		tx.Rollback()
		return sale, nil
	}

	lines := linesFromItems(sale.Items)
	products, categories, err := lockProductsInOrder(tx.WithContext(ctx), sortedProductIds(lines), true)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	reference := fmt.Sprintf("REVERSE-%s", sale.SaleNumber)
	if err := restoreSaleLines(tx.WithContext(ctx), logger, products, categories, lines, reference,
		fmt.Sprintf("reversal of sale %s", sale.SaleNumber), actor); err != nil {
		tx.Rollback()
		return nil, err
	}

	now := time.Now().UTC()
	if err := tx.WithContext(ctx).Model(&Sale{}).Where("id = ?", sale.ID).
		Updates(map[string]interface{}{
			"is_reversed":     true,
			"reversed_at":     &now,
			"reversed_by":     &actor,
			"reversal_reason": &reason,
		}).Error; err != nil {
		tx.Rollback()
		return nil, translateLockErr(err)
	}
	sale.IsReversed = utils.NewTrue()
	sale.ReversedAt = &now
	sale.ReversedBy = &actor
	sale.ReversalReason = &reason

	if err := tx.Commit().Error; err != nil {
		return nil, translateLockErr(err)
	}

	logger.WithFields(logrus.Fields{
		"sale_number": sale.SaleNumber,
		"reason":      reason,
		"actor":       actor,
	}).Info("sale reversed")

	return sale, nil
}

// DeleteSale physically removes a sale and its items, then restores stock
// with one DELETE-<sale-number> entry per captured {product, qty, price}
// tuple. Deletion is exceptional and logged as such. A sale that was already
// reversed had its stock restored by the reversal, so deletion then removes
// the rows without compensating again.
func DeleteSale(ctx context.Context, saleId int) (*Sale, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	actor := utils.ActorFromContext(ctx)

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	sale, err := lockSale(tx.WithContext(ctx), saleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// Capture the restore tuples before the rows disappear.
	lines := linesFromItems(sale.Items)
	needsRestore := !sale.Reversed()

	if err := tx.WithContext(ctx).Where("sale_id = ?", sale.ID).Delete(&SaleItem{}).Error; err != nil {
		tx.Rollback()
		return nil, translateLockErr(err)
	}
	if err := tx.WithContext(ctx).Delete(&Sale{}, sale.ID).Error; err != nil {
		tx.Rollback()
		return nil, translateLockErr(err)
	}

	if needsRestore {
		products, categories, err := lockProductsInOrder(tx.WithContext(ctx), sortedProductIds(lines), true)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		reference := fmt.Sprintf("DELETE-%s", sale.SaleNumber)
		if err := restoreSaleLines(tx.WithContext(ctx), logger, products, categories, lines, reference,
			fmt.Sprintf("stock restored from deleted sale %s", sale.SaleNumber), actor); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, translateLockErr(err)
	}

	logger.WithFields(logrus.Fields{
		"sale_number": sale.SaleNumber,
		"items":       len(lines),
		"restored":    needsRestore,
		"actor":       actor,
	}).Warn("sale deleted")

	return sale, nil
}

// DeleteSaleItem removes one line from a sale, restores its stock with an
// ITEM-DELETE-<item-id> entry and recomputes the parent totals from the
// remaining items.
func DeleteSaleItem(ctx context.Context, itemId int) (*Sale, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	actor := utils.ActorFromContext(ctx)

	item, err := utils.FetchModel[SaleItem](ctx, itemId)
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

	sale, err := lockSale(tx.WithContext(ctx), item.SaleId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if !sale.Reversed() {
		products, categories, err := lockProductsInOrder(tx.WithContext(ctx), []int{item.ProductId}, true)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		reference := fmt.Sprintf("ITEM-DELETE-%d", item.ID)
		if err := restoreSaleLines(tx.WithContext(ctx), logger, products, categories,
			[]saleLine{{ProductId: item.ProductId, Quantity: item.Quantity, UnitPrice: item.UnitPrice}},
			reference, "stock restored from deleted sale item", actor); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.WithContext(ctx).Delete(&SaleItem{}, item.ID).Error; err != nil {
		tx.Rollback()
		return nil, translateLockErr(err)
	}

	if err := recomputeSaleTotals(tx.WithContext(ctx), sale); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, translateLockErr(err)
	}

	logger.WithFields(logrus.Fields{
		"sale_number": sale.SaleNumber,
		"item_id":     item.ID,
		"actor":       actor,
	}).Warn("sale item deleted, totals recomputed")

	return GetSale(ctx, sale.ID)
}

// recomputeSaleTotals re-derives quantity/subtotal/total from the sale's
// remaining items inside tx.
func recomputeSaleTotals(tx *gorm.DB, sale *Sale) error {
	var remaining []SaleItem
	if err := tx.Where("sale_id = ?", sale.ID).Find(&remaining).Error; err != nil {
		return err
	}

	subtotal := decimal.Zero
	var totalQuantity int64
	for _, item := range remaining {
		subtotal = subtotal.Add(item.TotalPrice)
		totalQuantity += item.Quantity
	}

	return tx.Model(&Sale{}).Where("id = ?", sale.ID).
		Updates(map[string]interface{}{
			"total_quantity": totalQuantity,
			"subtotal":       subtotal,
			"total_amount":   subtotal.Add(sale.TaxAmount),
		}).Error
}

// lockSale takes the sale's exclusive row lock and preloads its items.
func lockSale(tx *gorm.DB, saleId int) (*Sale, error) {
	var sale Sale
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", saleId).
		First(&sale).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, translateLockErr(err)
	}
	if err := tx.Where("sale_id = ?", sale.ID).Order("id").Find(&sale.Items).Error; err != nil {
		return nil, translateLockErr(err)
	}
	return &sale, nil
}

func GetSale(ctx context.Context, id int) (*Sale, error) {
	return utils.FetchModel[Sale](ctx, id, "Items")
}

func GetSaleAll(ctx context.Context, includeReversed bool) ([]*Sale, error) {
	db := config.GetDB()
	var results []*Sale

	dbCtx := db.WithContext(ctx).Preload("Items")
	if !includeReversed {
		dbCtx = dbCtx.Where("is_reversed = ?", false)
	}
	if err := dbCtx.Order("id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
