package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldmaxhq/inventory_backend/config"
	"github.com/fieldmaxhq/inventory_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReceiptCounter is the single-row fiscal counter. Every issued receipt
// increments it under the row lock, so counter values are gapless and unique
// even under concurrent issuance.
type ReceiptCounter struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Counter   int64     `gorm:"not null;default:0" json:"counter"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AssignFiscalReceipt stamps RCPT-<sale-number> and the next counter value
// onto the sale. Idempotent: a sale that already carries a receipt number is
// returned unchanged, so retried ETR callbacks never burn counter values.
func AssignFiscalReceipt(ctx context.Context, saleId int) (*Sale, error) {
	db := config.GetDB()
	logger := config.GetLogger()

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
	if sale.ReceiptNumber != nil {
		tx.Rollback()
		return sale, nil
	}
	if sale.Reversed() {
		tx.Rollback()
		return nil, fmt.Errorf("%w: sale %s is reversed", ErrSaleAlreadyReversed, sale.SaleNumber)
	}

	counter, err := nextReceiptCounter(tx.WithContext(ctx))
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	receiptNumber := fmt.Sprintf("RCPT-%s", sale.SaleNumber)
	now := time.Now().UTC()
	if err := tx.WithContext(ctx).Model(&Sale{}).Where("id = ?", sale.ID).
		Updates(map[string]interface{}{
			"receipt_number":   receiptNumber,
			"receipt_counter":  counter,
			"etr_processed_at": &now,
		}).Error; err != nil {
		tx.Rollback()
		return nil, translateLockErr(err)
	}
	sale.ReceiptNumber = &receiptNumber
	sale.ReceiptCounter = &counter
	sale.EtrProcessedAt = &now

	if err := tx.Commit().Error; err != nil {
		return nil, translateLockErr(err)
	}

	logger.WithFields(logrus.Fields{
		"sale_number":     sale.SaleNumber,
		"receipt_number":  receiptNumber,
		"receipt_counter": counter,
	}).Info("fiscal receipt assigned")

	return sale, nil
}

// nextReceiptCounter increments the counter row under its exclusive lock and
// returns the new value, creating the row on first use.
func nextReceiptCounter(tx *gorm.DB) (int64, error) {
	var row ReceiptCounter
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = ReceiptCounter{Counter: 0}
		if err := tx.Create(&row).Error; err != nil {
			return 0, translateLockErr(err)
		}
	} else if err != nil {
		return 0, translateLockErr(err)
	}

	row.Counter++
	if err := tx.Model(&ReceiptCounter{}).Where("id = ?", row.ID).
		Update("counter", row.Counter).Error; err != nil {
		return 0, translateLockErr(err)
	}
	return row.Counter, nil
}

func GetSaleByReceiptNumber(ctx context.Context, receiptNumber string) (*Sale, error) {
	db := config.GetDB()
	var sale Sale
	if err := db.WithContext(ctx).Preload("Items").
		Where("receipt_number = ?", receiptNumber).
		First(&sale).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &sale, nil
}
