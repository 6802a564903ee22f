package models

import "errors"

type ItemKind string

const (
	ItemKindSingle ItemKind = "single"
	ItemKindBulk   ItemKind = "bulk"
)

func (k ItemKind) Valid() error {
	switch k {
	case ItemKindSingle, ItemKindBulk:
		return nil
	}
	return errors.New("invalid item kind")
}

type SkuKind string

const (
	SkuKindImei    SkuKind = "imei"
	SkuKindSerial  SkuKind = "serial"
	SkuKindBarcode SkuKind = "barcode"
	SkuKindNone    SkuKind = "none"
)

func (k SkuKind) Valid() error {
	switch k {
	case SkuKindImei, SkuKindSerial, SkuKindBarcode, SkuKindNone:
		return nil
	}
	return errors.New("invalid sku kind")
}

type ProductStatus string

const (
	ProductStatusAvailable  ProductStatus = "available"
	ProductStatusSold       ProductStatus = "sold"
	ProductStatusLowStock   ProductStatus = "lowstock"
	ProductStatusOutOfStock ProductStatus = "outofstock"
)

type StockEntryKind string

const (
	StockEntryKindPurchase   StockEntryKind = "purchase"
	StockEntryKindSale       StockEntryKind = "sale"
	StockEntryKindReturn     StockEntryKind = "return"
	StockEntryKindAdjustment StockEntryKind = "adjustment"
)

func (k StockEntryKind) Valid() error {
	switch k {
	case StockEntryKindPurchase, StockEntryKindSale, StockEntryKindReturn, StockEntryKindAdjustment:
		return nil
	}
	return errors.New("invalid stock entry kind")
}
