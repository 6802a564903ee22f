package config

import (
	"os"
	"strconv"
	"strings"
)

// AllowNegativeStock lets bulk products go below zero (e.g. shops that record
// sales before the purchase paperwork catches up). Default is to reject any
// movement that would drive stock negative.
//
// Set via env:
// - ALLOW_NEGATIVE_STOCK=true
func AllowNegativeStock() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ALLOW_NEGATIVE_STOCK")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// LowStockThreshold is the bulk quantity at or below which a product is
// flagged lowstock. Above it the product is available; at or below zero it is
// outofstock.
//
// Set via env:
// - LOW_STOCK_THRESHOLD=5
func LowStockThreshold() int64 {
	v := strings.TrimSpace(os.Getenv("LOW_STOCK_THRESHOLD"))
	if v == "" {
		return 5
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 5
	}
	return n
}
