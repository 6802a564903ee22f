package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fieldmaxhq/inventory_backend/config"
	"github.com/fieldmaxhq/inventory_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Category struct {
	ID           int       `gorm:"primary_key" json:"id"`
	CategoryCode string    `gorm:"size:20;uniqueIndex;not null" json:"category_code"`
	Name         string    `gorm:"size:100;uniqueIndex;not null" json:"name" binding:"required"`
	ItemKind     ItemKind  `gorm:"type:enum('single','bulk');not null" json:"item_kind"`
	SkuKind      SkuKind   `gorm:"type:enum('imei','serial','barcode','none');not null" json:"sku_kind"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Category) IsSingleItem() bool {
	return c.ItemKind == ItemKindSingle
}

func (c *Category) IsBulkItem() bool {
	return c.ItemKind == ItemKindBulk
}

type NewCategory struct {
	Name     string   `json:"name" binding:"required"`
	ItemKind ItemKind `json:"item_kind" binding:"required"`
	SkuKind  SkuKind  `json:"sku_kind" binding:"required"`
}

func (input *NewCategory) validate(ctx context.Context, id int) error {
	if err := input.ItemKind.Valid(); err != nil {
		return err
	}
	if err := input.SkuKind.Valid(); err != nil {
		return err
	}
	if strings.TrimSpace(input.Name) == "" {
		return errors.New("category name is required")
	}
	if err := utils.ValidateUnique[Category](ctx, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func generateCategoryCode(name string) string {
	prefix := strings.ToUpper(strings.TrimSpace(name))
	prefix = strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r
		}
		return -1
	}, prefix)
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	if prefix == "" {
		prefix = "CAT"
	}
	return prefix + "-" + utils.ShortCode()[:4]
}

func CreateCategory(ctx context.Context, input *NewCategory) (*Category, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	category := Category{
		CategoryCode: generateCategoryCode(input.Name),
		Name:         strings.TrimSpace(input.Name),
		ItemKind:     input.ItemKind,
		SkuKind:      input.SkuKind,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&category).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, errors.New("duplicate category name or code")
		}
		return nil, err
	}
	return &category, nil
}

// UpdateCategory renames a category or changes its kinds.
//
// Changing ItemKind on a category with products is a reconciliation event:
// products are re-derived under the new kind's rules inside one transaction.
// Quantity clamps write a compensating adjustment entry so the ledger sum
// still matches the stored quantity afterwards.
func UpdateCategory(ctx context.Context, id int, input *NewCategory) (*Category, error) {
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	category, err := utils.FetchModel[Category](ctx, id)
	if err != nil {
		return nil, err
	}

	kindChanged := category.ItemKind != input.ItemKind
	oldKind := category.ItemKind

	db := config.GetDB()
	logger := config.GetLogger()
	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err = tx.WithContext(ctx).Model(category).
		Updates(map[string]interface{}{
			"Name":     strings.TrimSpace(input.Name),
			"ItemKind": input.ItemKind,
			"SkuKind":  input.SkuKind,
		}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	category.Name = strings.TrimSpace(input.Name)
	category.ItemKind = input.ItemKind
	category.SkuKind = input.SkuKind

	if kindChanged {
		logger.WithFields(logrus.Fields{
			"category_id": category.ID,
			"old_kind":    oldKind,
			"new_kind":    category.ItemKind,
		}).Warn("category kind change detected, reconciling products")

		if err := reconcileCategoryKindChange(tx.WithContext(ctx), logger, category, utils.ActorFromContext(ctx)); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return category, nil
}

// reconcileCategoryKindChange re-derives quantity/status for every active
// product after the owning category switched single<->bulk.
//
// Switch to single: quantity is forced to min(quantity, 1); the difference is
// written as a zero-value adjustment entry (ReconciliationWarning, not fatal).
// Switch to bulk: quantity is untouched; status is re-derived under bulk
// thresholds.
func reconcileCategoryKindChange(tx *gorm.DB, logger *logrus.Logger, category *Category, actor string) error {
	var products []*Product
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("category_id = ? AND is_active = ?", category.ID, true).
		Order("id").
		Find(&products).Error; err != nil {
		return translateLockErr(err)
	}

	threshold := config.LowStockThreshold()
	for _, product := range products {
		if category.IsSingleItem() && product.Quantity > 1 {
			clampDelta := 1 - product.Quantity
			logger.WithFields(logrus.Fields{
				"product_code": product.ProductCode,
				"old_quantity": product.Quantity,
				"delta":        clampDelta,
			}).Warn("reconciliation: forcing quantity to 1 for single item category")

			zero := decimal.Zero
			if _, err := AppendStockEntry(tx, logger, product, category, &NewStockEntry{
				Qty:         clampDelta,
				EntryKind:   StockEntryKindAdjustment,
				UnitPrice:   decimal.Zero,
				TotalAmount: &zero,
				ReferenceId: fmt.Sprintf("RECONCILE-%d", category.ID),
				Notes:       fmt.Sprintf("category kind change %s", category.CategoryCode),
			}, actor); err != nil {
				return err
			}
			continue
		}

		newStatus := StatusForQuantity(category.ItemKind, product.Quantity, threshold)
		if newStatus == product.Status {
			continue
		}
		if err := tx.Model(&Product{}).Where("id = ?", product.ID).
			Update("status", newStatus).Error; err != nil {
			return err
		}
	}
	return nil
}

func DeleteCategory(ctx context.Context, id int) (*Category, error) {
	category, err := utils.FetchModel[Category](ctx, id)
	if err != nil {
		return nil, err
	}

	// Never delete a category while products reference it.
	count, err := utils.ResourceCountWhere[Product](ctx, "category_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("category has products and cannot be deleted")
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(category).Error; err != nil {
		return nil, err
	}
	return category, nil
}

func GetCategory(ctx context.Context, id int) (*Category, error) {
	return utils.FetchModel[Category](ctx, id)
}

func GetCategoryAll(ctx context.Context, name *string) ([]*Category, error) {
	db := config.GetDB()
	var results []*Category

	dbCtx := db.WithContext(ctx)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
