package models

import (
	"fmt"

	"github.com/fieldmaxhq/inventory_backend/config"
	"github.com/sirupsen/logrus"
)

// StatusForQuantity derives product status from quantity under the category's
// kind rules.
//
// Single items are binary: 1 => available, 0 => sold.
// Bulk items: qty > threshold => available, 0 < qty <= threshold => lowstock,
// qty <= 0 => outofstock.
func StatusForQuantity(kind ItemKind, qty int64, lowStockThreshold int64) ProductStatus {
	if kind == ItemKindSingle {
		if qty >= 1 {
			return ProductStatusAvailable
		}
		return ProductStatusSold
	}
	if qty > lowStockThreshold {
		return ProductStatusAvailable
	}
	if qty > 0 {
		return ProductStatusLowStock
	}
	return ProductStatusOutOfStock
}

// applyStockMovement computes the product state (quantity, status) that a
// signed delta produces, enforcing per-kind invariants. It does not touch the
// database; AppendStockEntry persists the result in the caller's transaction.
func applyStockMovement(logger *logrus.Logger, product *Product, category *Category, delta int64, kind StockEntryKind) (int64, ProductStatus, error) {
	if delta == 0 {
		return 0, "", fmt.Errorf("%w: delta cannot be zero", ErrInvalidMovement)
	}

	if category.IsSingleItem() {
		// A stocked single item cannot take another purchase movement; the
		// correct action is creating a new product record.
		if kind == StockEntryKindPurchase && delta > 0 && product.Quantity >= 1 {
			return 0, "", fmt.Errorf("%w: %q is a single item and cannot be restocked, create a new product instead",
				ErrCannotRestockSingleItem, product.Name)
		}

		newQty := product.Quantity + delta
		if newQty < 0 {
			return 0, "", fmt.Errorf("%w: single item %s is already sold", ErrProductNotAvailable, product.ProductCode)
		}
		if newQty > 1 {
			// Domain for single items is {0,1}. Persisting a capped quantity
			// while the ledger keeps the full delta would desync the two, so
			// over-restores are rejected outright.
			return 0, "", fmt.Errorf("%w: single item %s holds at most one unit", ErrInvalidMovement, product.ProductCode)
		}
		return newQty, StatusForQuantity(ItemKindSingle, newQty, 0), nil
	}

	newQty := product.Quantity + delta
	if newQty < 0 && !config.AllowNegativeStock() {
		return 0, "", fmt.Errorf("%w: only %d units of %q available", ErrInsufficientStock, product.Quantity, product.Name)
	}
	return newQty, StatusForQuantity(ItemKindBulk, newQty, config.LowStockThreshold()), nil
}
