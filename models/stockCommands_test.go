package models

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestStatusForQuantity_SingleIsBinary(t *testing.T) {
	if got := StatusForQuantity(ItemKindSingle, 1, 0); got != ProductStatusAvailable {
		t.Fatalf("qty=1: expected available, got %s", got)
	}
	if got := StatusForQuantity(ItemKindSingle, 0, 0); got != ProductStatusSold {
		t.Fatalf("qty=0: expected sold, got %s", got)
	}
}

func TestStatusForQuantity_BulkThresholds(t *testing.T) {
	cases := []struct {
		qty       int64
		threshold int64
		want      ProductStatus
	}{
		{qty: 10, threshold: 5, want: ProductStatusAvailable},
		{qty: 6, threshold: 5, want: ProductStatusAvailable},
		{qty: 5, threshold: 5, want: ProductStatusLowStock},
		{qty: 1, threshold: 5, want: ProductStatusLowStock},
		{qty: 0, threshold: 5, want: ProductStatusOutOfStock},
		{qty: -2, threshold: 5, want: ProductStatusOutOfStock},
		// Threshold is configurable; boundary moves with it.
		{qty: 10, threshold: 10, want: ProductStatusLowStock},
		{qty: 11, threshold: 10, want: ProductStatusAvailable},
	}
	for _, tc := range cases {
		if got := StatusForQuantity(ItemKindBulk, tc.qty, tc.threshold); got != tc.want {
			t.Fatalf("qty=%d threshold=%d: expected %s, got %s", tc.qty, tc.threshold, tc.want, got)
		}
	}
}

func TestApplyStockMovement_RejectsZeroDelta(t *testing.T) {
	logger := logrus.New()
	category := &Category{ItemKind: ItemKindBulk}
	product := &Product{Name: "USB Cable", Quantity: 3}

	_, _, err := applyStockMovement(logger, product, category, 0, StockEntryKindAdjustment)
	if !errors.Is(err, ErrInvalidMovement) {
		t.Fatalf("expected ErrInvalidMovement, got %v", err)
	}
}

func TestApplyStockMovement_SingleCannotBeRestocked(t *testing.T) {
	logger := logrus.New()
	category := &Category{ItemKind: ItemKindSingle}
	product := &Product{Name: "iPhone 13", ProductCode: "FM-PHO-AAAA1111", Quantity: 1}

	_, _, err := applyStockMovement(logger, product, category, 2, StockEntryKindPurchase)
	if !errors.Is(err, ErrCannotRestockSingleItem) {
		t.Fatalf("expected ErrCannotRestockSingleItem, got %v", err)
	}
}

func TestApplyStockMovement_SingleSoldTwice(t *testing.T) {
	logger := logrus.New()
	category := &Category{ItemKind: ItemKindSingle}
	product := &Product{Name: "iPhone 13", ProductCode: "FM-PHO-AAAA1111", Quantity: 0, Status: ProductStatusSold}

	_, _, err := applyStockMovement(logger, product, category, -1, StockEntryKindSale)
	if !errors.Is(err, ErrProductNotAvailable) {
		t.Fatalf("expected ErrProductNotAvailable, got %v", err)
	}
}

func TestApplyStockMovement_SingleOverRestoreRejected(t *testing.T) {
	logger := logrus.New()
	category := &Category{ItemKind: ItemKindSingle}
	product := &Product{Name: "iPhone 13", ProductCode: "FM-PHO-AAAA1111", Quantity: 1}

	// A stray double restore must never push a single item above 1, and it
	// must not land in the ledger either: an accepted movement always persists
	// exactly the delta it applied, so anything above 1 is refused.
	_, _, err := applyStockMovement(logger, product, category, 1, StockEntryKindReturn)
	if !errors.Is(err, ErrInvalidMovement) {
		t.Fatalf("expected ErrInvalidMovement on over-restore, got %v", err)
	}
	if product.Quantity != 1 {
		t.Fatalf("rejected movement mutated quantity: got %d", product.Quantity)
	}

	// Same for oversized manual adjustments.
	_, _, err = applyStockMovement(logger, product, category, 4, StockEntryKindAdjustment)
	if !errors.Is(err, ErrInvalidMovement) {
		t.Fatalf("expected ErrInvalidMovement on +4 adjustment, got %v", err)
	}

	// Restoring a sold unit stays legal.
	product.Quantity = 0
	newQty, status, err := applyStockMovement(logger, product, category, 1, StockEntryKindReturn)
	if err != nil {
		t.Fatalf("unexpected error restoring sold unit: %v", err)
	}
	if newQty != 1 || status != ProductStatusAvailable {
		t.Fatalf("expected 1/available, got %d/%s", newQty, status)
	}
}

func TestApplyStockMovement_BulkInsufficientStock(t *testing.T) {
	t.Setenv("ALLOW_NEGATIVE_STOCK", "")
	logger := logrus.New()
	category := &Category{ItemKind: ItemKindBulk}
	product := &Product{Name: "USB Cable", Quantity: 3}

	_, _, err := applyStockMovement(logger, product, category, -4, StockEntryKindSale)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestApplyStockMovement_BulkNegativeStockFlag(t *testing.T) {
	t.Setenv("ALLOW_NEGATIVE_STOCK", "true")
	logger := logrus.New()
	category := &Category{ItemKind: ItemKindBulk}
	product := &Product{Name: "USB Cable", Quantity: 3}

	newQty, status, err := applyStockMovement(logger, product, category, -4, StockEntryKindSale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newQty != -1 {
		t.Fatalf("expected quantity -1, got %d", newQty)
	}
	if status != ProductStatusOutOfStock {
		t.Fatalf("expected outofstock, got %s", status)
	}
}

func TestApplyStockMovement_BulkThresholdFromEnv(t *testing.T) {
	t.Setenv("LOW_STOCK_THRESHOLD", "2")
	logger := logrus.New()
	category := &Category{ItemKind: ItemKindBulk}
	product := &Product{Name: "USB Cable", Quantity: 4}

	newQty, status, err := applyStockMovement(logger, product, category, -1, StockEntryKindSale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newQty != 3 || status != ProductStatusAvailable {
		t.Fatalf("expected 3/available under threshold 2, got %d/%s", newQty, status)
	}

	product.Quantity = 3
	newQty, status, err = applyStockMovement(logger, product, category, -1, StockEntryKindSale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newQty != 2 || status != ProductStatusLowStock {
		t.Fatalf("expected 2/lowstock under threshold 2, got %d/%s", newQty, status)
	}
}
