package models_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fieldmaxhq/inventory_backend/config"
	"github.com/fieldmaxhq/inventory_backend/models"
	"github.com/fieldmaxhq/inventory_backend/utils"
	"github.com/fieldmaxhq/inventory_backend/workflow"
	"github.com/shopspring/decimal"
)

// Regression: deleting a sale must restore stock through DELETE-<sale>
// compensating entries and leave the same product state a reversal would.
func TestSaleDeletionCompensation(t *testing.T) {
	ctx := setupInventoryTestEnv(t)

	cables, err := models.CreateCategory(ctx, &models.NewCategory{
		Name:     "Cables",
		ItemKind: models.ItemKindBulk,
		SkuKind:  models.SkuKindNone,
	})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	cable, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:         "HDMI Cable 2m",
		CategoryId:   cables.ID,
		Quantity:     12,
		SellingPrice: decimal.NewFromInt(900),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	sale, err := models.CreateSale(ctx, &models.NewSale{
		Items: []models.NewSaleItem{{ProductId: cable.ID, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	deleted, err := models.DeleteSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("DeleteSale: %v", err)
	}
	if deleted.SaleNumber != sale.SaleNumber {
		t.Fatalf("expected deleted sale %s, got %s", sale.SaleNumber, deleted.SaleNumber)
	}

	if _, err := models.GetSale(ctx, sale.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected sale gone, got %v", err)
	}

	cable, err = models.GetProduct(ctx, cable.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if cable.Quantity != 12 {
		t.Fatalf("expected stock restored to 12, got %d", cable.Quantity)
	}

	reference := fmt.Sprintf("DELETE-%s", sale.SaleNumber)
	if got := countEntriesByReference(t, reference); got != 1 {
		t.Fatalf("expected 1 compensating entry for %s, got %d", reference, got)
	}

	// The original sale entries stay in the ledger; the sum still matches.
	assertLedgerMatchesQuantity(t, ctx, cable.ID)
}

// Regression: a reversed sale already restored its stock; deleting it must
// remove the rows without compensating a second time.
func TestDeleteReversedSaleDoesNotDoubleRestore(t *testing.T) {
	ctx := setupInventoryTestEnv(t)

	cables, err := models.CreateCategory(ctx, &models.NewCategory{
		Name:     "Cables",
		ItemKind: models.ItemKindBulk,
		SkuKind:  models.SkuKindNone,
	})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	cable, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:       "AUX Cable",
		CategoryId: cables.ID,
		Quantity:   10,
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	sale, err := models.CreateSale(ctx, &models.NewSale{
		Items: []models.NewSaleItem{{ProductId: cable.ID, Quantity: 4}},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if _, err := models.ReverseSale(ctx, sale.ID, "wrong item rung up"); err != nil {
		t.Fatalf("ReverseSale: %v", err)
	}

	if _, err := models.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("DeleteSale: %v", err)
	}

	cable, err = models.GetProduct(ctx, cable.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if cable.Quantity != 10 {
		t.Fatalf("expected 10 after reversal+deletion, got %d", cable.Quantity)
	}
	if got := countEntriesByReference(t, fmt.Sprintf("DELETE-%s", sale.SaleNumber)); got != 0 {
		t.Fatalf("deletion of reversed sale must not compensate; found %d entries", got)
	}
	assertLedgerMatchesQuantity(t, ctx, cable.ID)
}

// Regression: deleting one line restores its stock with ITEM-DELETE-<id> and
// recomputes the parent totals from what remains.
func TestDeleteSaleItemRecomputesTotals(t *testing.T) {
	ctx := setupInventoryTestEnv(t)

	cables, err := models.CreateCategory(ctx, &models.NewCategory{
		Name:     "Cables",
		ItemKind: models.ItemKindBulk,
		SkuKind:  models.SkuKindNone,
	})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	usb, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:         "USB-C Cable 1m",
		CategoryId:   cables.ID,
		Quantity:     10,
		SellingPrice: decimal.NewFromInt(500),
	})
	if err != nil {
		t.Fatalf("CreateProduct(usb): %v", err)
	}
	hdmi, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:         "HDMI Cable 2m",
		CategoryId:   cables.ID,
		Quantity:     10,
		SellingPrice: decimal.NewFromInt(900),
	})
	if err != nil {
		t.Fatalf("CreateProduct(hdmi): %v", err)
	}

	sale, err := models.CreateSale(ctx, &models.NewSale{
		Items: []models.NewSaleItem{
			{ProductId: usb.ID, Quantity: 2},
			{ProductId: hdmi.ID, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if !sale.TotalAmount.Equal(decimal.NewFromInt(1900)) {
		t.Fatalf("expected total 1900, got %s", sale.TotalAmount)
	}

	var hdmiItem *models.SaleItem
	for i := range sale.Items {
		if sale.Items[i].ProductId == hdmi.ID {
			hdmiItem = &sale.Items[i]
		}
	}
	if hdmiItem == nil {
		t.Fatal("hdmi line missing from sale")
	}

	updated, err := models.DeleteSaleItem(ctx, hdmiItem.ID)
	if err != nil {
		t.Fatalf("DeleteSaleItem: %v", err)
	}
	if len(updated.Items) != 1 {
		t.Fatalf("expected 1 remaining item, got %d", len(updated.Items))
	}
	if !updated.TotalAmount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected recomputed total 1000, got %s", updated.TotalAmount)
	}
	if updated.TotalQuantity != 2 {
		t.Fatalf("expected recomputed quantity 2, got %d", updated.TotalQuantity)
	}

	hdmi, err = models.GetProduct(ctx, hdmi.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if hdmi.Quantity != 10 {
		t.Fatalf("expected hdmi stock restored to 10, got %d", hdmi.Quantity)
	}
	if got := countEntriesByReference(t, fmt.Sprintf("ITEM-DELETE-%d", hdmiItem.ID)); got != 1 {
		t.Fatalf("expected 1 compensating entry for deleted item, got %d", got)
	}

	assertLedgerMatchesQuantity(t, ctx, usb.ID)
	assertLedgerMatchesQuantity(t, ctx, hdmi.ID)
}

// Regression: deactivation keeps the row and its ledger, so a sale touching a
// deactivated product must still be reversible and deletable.
func TestReverseSaleAfterProductDeactivation(t *testing.T) {
	ctx := setupInventoryTestEnv(t)

	cables, err := models.CreateCategory(ctx, &models.NewCategory{
		Name:     "Cables",
		ItemKind: models.ItemKindBulk,
		SkuKind:  models.SkuKindNone,
	})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	cable, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:       "VGA Cable",
		CategoryId: cables.ID,
		Quantity:   6,
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	sale, err := models.CreateSale(ctx, &models.NewSale{
		Items: []models.NewSaleItem{{ProductId: cable.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	if _, err := models.DeactivateProduct(ctx, cable.ID); err != nil {
		t.Fatalf("DeactivateProduct: %v", err)
	}

	if _, err := models.ReverseSale(ctx, sale.ID, "discontinued line returned"); err != nil {
		t.Fatalf("ReverseSale after deactivation: %v", err)
	}

	cable, err = models.GetProduct(ctx, cable.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if cable.Quantity != 6 {
		t.Fatalf("expected stock restored to 6 on deactivated product, got %d", cable.Quantity)
	}
	if cable.IsActive == nil || *cable.IsActive {
		t.Fatal("reversal must not reactivate the product")
	}
	if got := countEntriesByReference(t, fmt.Sprintf("REVERSE-%s", sale.SaleNumber)); got != 1 {
		t.Fatalf("expected 1 compensating entry, got %d", got)
	}
	assertLedgerMatchesQuantity(t, ctx, cable.ID)

	// Deletion of the (now reversed) sale must also keep working.
	if _, err := models.DeleteSale(ctx, sale.ID); err != nil {
		t.Fatalf("DeleteSale after deactivation: %v", err)
	}
	assertLedgerMatchesQuantity(t, ctx, cable.ID)
}

// Regression: the rebuild job must detect a manually corrupted quantity and
// repair it from the ledger sum.
func TestInventoryRebuildRepairsDrift(t *testing.T) {
	ctx := setupInventoryTestEnv(t)

	cables, err := models.CreateCategory(ctx, &models.NewCategory{
		Name:     "Cables",
		ItemKind: models.ItemKindBulk,
		SkuKind:  models.SkuKindNone,
	})
	if err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	cable, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:       "Ethernet Cable 5m",
		CategoryId: cables.ID,
		Quantity:   9,
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	// Simulate a manual database edit bypassing the ledger.
	db := config.GetDB()
	if err := db.Model(&models.Product{}).Where("id = ?", cable.ID).
		Update("quantity", 42).Error; err != nil {
		t.Fatalf("corrupt quantity: %v", err)
	}

	drifts, err := workflow.RebuildInventory(ctx, false)
	if err != nil {
		t.Fatalf("RebuildInventory(report): %v", err)
	}
	if len(drifts) != 1 || drifts[0].ProductId != cable.ID {
		t.Fatalf("expected 1 drift on product %d, got %+v", cable.ID, drifts)
	}
	if drifts[0].LedgerQuantity != 9 || drifts[0].StoredQuantity != 42 {
		t.Fatalf("unexpected drift payload: %+v", drifts[0])
	}

	if _, err := workflow.RebuildInventory(ctx, true); err != nil {
		t.Fatalf("RebuildInventory(fix): %v", err)
	}

	cable, err = models.GetProduct(ctx, cable.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if cable.Quantity != 9 {
		t.Fatalf("expected repaired quantity 9, got %d", cable.Quantity)
	}

	clean, err := workflow.RebuildInventory(ctx, false)
	if err != nil {
		t.Fatalf("RebuildInventory(verify): %v", err)
	}
	if len(clean) != 0 {
		t.Fatalf("expected no drift after repair, got %+v", clean)
	}
}
