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
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Product is one inventory line. Quantity and status are derived state: they
// are only written through ledger-backed operations (AppendStockEntry) and
// must equal the sum of the product's stock entries at all times.
type Product struct {
	ID           int             `gorm:"primary_key" json:"id"`
	ProductCode  string          `gorm:"size:50;uniqueIndex;not null" json:"product_code"`
	Name         string          `gorm:"size:255;not null;index" json:"name"`
	CategoryId   int             `gorm:"index;not null" json:"category_id"`
	Category     *Category       `gorm:"foreignKey:CategoryId" json:"category,omitempty"`
	SkuValue     string          `gorm:"size:100;index" json:"sku_value"`
	Quantity     int64           `gorm:"not null;default:0" json:"quantity"`
	Status       ProductStatus   `gorm:"type:enum('available','sold','lowstock','outofstock');default:'available';index" json:"status"`
	BuyingPrice  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"buying_price"`
	SellingPrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"selling_price"`
	OwnerId      *int            `gorm:"index" json:"owner_id"`
	IsActive     *bool           `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name         string          `json:"name" binding:"required"`
	CategoryId   int             `json:"category_id" binding:"required"`
	SkuValue     string          `json:"sku_value"`
	Quantity     int64           `json:"quantity"`
	BuyingPrice  decimal.Decimal `json:"buying_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

func generateProductCode(category *Category) string {
	return fmt.Sprintf("FM-%s-%s", strings.SplitN(category.CategoryCode, "-", 2)[0], utils.ShortCode())
}

// lockProduct takes the product's exclusive row lock inside tx and returns
// the current row plus its category. Every quantity read that precedes a
// write must go through here. New stock movements require an active product;
// compensation flows use lockAnyProduct.
func lockProduct(tx *gorm.DB, productId int) (*Product, *Category, error) {
	return lockProductWhere(tx, "id = ? AND is_active = ?", productId, true)
}

// lockAnyProduct ignores the active flag. Deactivation is ledger-preserving,
// so reversal, deletion and retraction must still reach the row.
func lockAnyProduct(tx *gorm.DB, productId int) (*Product, *Category, error) {
	return lockProductWhere(tx, "id = ?", productId)
}

func lockProductWhere(tx *gorm.DB, query string, args ...interface{}) (*Product, *Category, error) {
	var product Product
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(query, args...).
		First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, utils.ErrorRecordNotFound
		}
		return nil, nil, translateLockErr(err)
	}

	var category Category
	if err := tx.Where("id = ?", product.CategoryId).First(&category).Error; err != nil {
		return nil, nil, translateLockErr(err)
	}
	product.Category = &category
	return &product, &category, nil
}

// CreateProduct registers stock arriving for the first time.
//
// Single-kind categories always create a fresh product at quantity 1 with a
// unique SKU. Bulk-kind categories reuse an existing active product with the
// same name (stock merges into one line) or create one at quantity 0; either
// way the initial quantity lands via a purchase ledger entry.
func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	category, err := utils.FetchModel[Category](ctx, input.CategoryId)
	if err != nil {
		return nil, errors.New("category not found")
	}

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

	var product *Product

	if category.IsSingleItem() {
		skuValue := strings.TrimSpace(input.SkuValue)
		if skuValue == "" {
			tx.Rollback()
			return nil, fmt.Errorf("%s is required for single items", category.SkuKind)
		}
		var count int64
		if err := tx.WithContext(ctx).Model(&Product{}).
			Where("sku_value = ? AND is_active = ?", skuValue, true).
			Count(&count).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if count > 0 {
			tx.Rollback()
			return nil, fmt.Errorf("%s %q already exists", category.SkuKind, skuValue)
		}

		product = &Product{
			ProductCode:  generateProductCode(category),
			Name:         strings.TrimSpace(input.Name),
			CategoryId:   category.ID,
			SkuValue:     skuValue,
			Quantity:     0,
			Status:       ProductStatusSold,
			BuyingPrice:  input.BuyingPrice,
			SellingPrice: input.SellingPrice,
			IsActive:     utils.NewTrue(),
		}
		if ownerId, ok := utils.GetUserIdFromContext(ctx); ok {
			product.OwnerId = &ownerId
		}
		if err := tx.WithContext(ctx).Create(product).Error; err != nil {
			tx.Rollback()
			// The unique index on active SKUs closes the race the count
			// check above leaves open.
			if isDuplicateKeyErr(err) {
				return nil, fmt.Errorf("%s %q already exists", category.SkuKind, skuValue)
			}
			return nil, translateLockErr(err)
		}
		product.Category = category

		if _, err := AppendStockEntry(tx.WithContext(ctx), logger, product, category, &NewStockEntry{
			Qty:       1,
			EntryKind: StockEntryKindPurchase,
			UnitPrice: input.BuyingPrice,
			Notes:     "initial single item stock entry",
		}, actor); err != nil {
			tx.Rollback()
			return nil, err
		}
	} else {
		if input.Quantity <= 0 {
			tx.Rollback()
			return nil, fmt.Errorf("%w: bulk products need an initial quantity greater than zero", ErrInvalidMovement)
		}

		var existing Product
		err := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("LOWER(name) = LOWER(?) AND category_id = ? AND is_active = ?", strings.TrimSpace(input.Name), category.ID, true).
			First(&existing).Error
		switch {
		case err == nil:
			product = &existing
			product.Category = category
		case errors.Is(err, gorm.ErrRecordNotFound):
			product = &Product{
				ProductCode:  generateProductCode(category),
				Name:         strings.TrimSpace(input.Name),
				CategoryId:   category.ID,
				SkuValue:     strings.TrimSpace(input.SkuValue),
				Quantity:     0,
				Status:       ProductStatusOutOfStock,
				BuyingPrice:  input.BuyingPrice,
				SellingPrice: input.SellingPrice,
				IsActive:     utils.NewTrue(),
			}
			if ownerId, ok := utils.GetUserIdFromContext(ctx); ok {
				product.OwnerId = &ownerId
			}
			if err := tx.WithContext(ctx).Create(product).Error; err != nil {
				tx.Rollback()
				return nil, translateLockErr(err)
			}
			product.Category = category
		default:
			tx.Rollback()
			return nil, translateLockErr(err)
		}

		if _, err := AppendStockEntry(tx.WithContext(ctx), logger, product, category, &NewStockEntry{
			Qty:       input.Quantity,
			EntryKind: StockEntryKindPurchase,
			UnitPrice: input.BuyingPrice,
			Notes:     "initial stock entry",
		}, actor); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, translateLockErr(err)
	}
	return product, nil
}

type RestockInput struct {
	Quantity  int64           `json:"quantity" binding:"required"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Notes     string          `json:"notes"`
}

// RestockProduct adds purchased units to a bulk product. Single items cannot
// be restocked; each one is its own product record.
func RestockProduct(ctx context.Context, productId int, input *RestockInput) (*Product, error) {
	if input.Quantity <= 0 {
		return nil, fmt.Errorf("%w: restock quantity must be positive", ErrInvalidMovement)
	}

	db := config.GetDB()
	logger := config.GetLogger()
	actor := utils.ActorFromContext(ctx)

	release, _ := utils.StockLock(ctx, []int{productId}, "product.go", "RestockProduct")
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

	unitPrice := input.UnitPrice
	if unitPrice.IsZero() {
		unitPrice = product.BuyingPrice
	}
	notes := input.Notes
	if notes == "" {
		notes = "restock"
	}

	if _, err := AppendStockEntry(tx.WithContext(ctx), logger, product, category, &NewStockEntry{
		Qty:       input.Quantity,
		EntryKind: StockEntryKindPurchase,
		UnitPrice: unitPrice,
		Notes:     notes,
	}, actor); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, translateLockErr(err)
	}
	return product, nil
}

type UpdateProductInput struct {
	Name         *string          `json:"name"`
	Quantity     *int64           `json:"quantity"`
	BuyingPrice  *decimal.Decimal `json:"buying_price"`
	SellingPrice *decimal.Decimal `json:"selling_price"`
}

// UpdateProduct edits catalog fields. A quantity edit is an administrative
// correction and must reconcile through the ledger: the difference lands as
// an adjustment entry, never as a bare column write.
func UpdateProduct(ctx context.Context, productId int, input *UpdateProductInput) (*Product, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	actor := utils.ActorFromContext(ctx)

	release, _ := utils.StockLock(ctx, []int{productId}, "product.go", "UpdateProduct")
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

	updates := map[string]interface{}{}
	if input.Name != nil && strings.TrimSpace(*input.Name) != "" {
		updates["name"] = strings.TrimSpace(*input.Name)
	}
	if input.BuyingPrice != nil {
		updates["buying_price"] = *input.BuyingPrice
	}
	if input.SellingPrice != nil {
		updates["selling_price"] = *input.SellingPrice
	}
	if len(updates) > 0 {
		if err := tx.WithContext(ctx).Model(&Product{}).Where("id = ?", product.ID).
			Updates(updates).Error; err != nil {
			tx.Rollback()
			return nil, translateLockErr(err)
		}
		if name, ok := updates["name"].(string); ok {
			product.Name = name
		}
	}

	if input.Quantity != nil && *input.Quantity != product.Quantity {
		diff := *input.Quantity - product.Quantity
		if _, err := AppendStockEntry(tx.WithContext(ctx), logger, product, category, &NewStockEntry{
			Qty:       diff,
			EntryKind: StockEntryKindAdjustment,
			UnitPrice: product.BuyingPrice,
			Notes:     fmt.Sprintf("quantity adjustment: %d -> %d", product.Quantity, *input.Quantity),
		}, actor); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, translateLockErr(err)
	}
	return product, nil
}

// DeactivateProduct soft-deletes: the row and its ledger history stay.
func DeactivateProduct(ctx context.Context, productId int) (*Product, error) {
	product, err := utils.FetchModel[Product](ctx, productId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&Product{}).Where("id = ?", productId).
		Update("is_active", false).Error; err != nil {
		return nil, err
	}
	product.IsActive = utils.NewFalse()
	return product, nil
}

func GetProduct(ctx context.Context, id int) (*Product, error) {
	return utils.FetchModel[Product](ctx, id, "Category")
}

// SearchProducts looks products up by code, SKU or name fragment.
func SearchProducts(ctx context.Context, term string) ([]*Product, error) {
	term = strings.TrimSpace(term)
	db := config.GetDB()
	var results []*Product

	dbCtx := db.WithContext(ctx).Preload("Category").Where("is_active = ?", true)
	if term != "" {
		like := "%" + term + "%"
		dbCtx = dbCtx.Where("product_code = ? OR sku_value = ? OR name LIKE ?", term, term, like)
	}
	if err := dbCtx.Order("name").Limit(config.SearchLimit).Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
