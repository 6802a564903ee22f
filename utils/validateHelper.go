package utils

import (
	"context"
	"errors"
	"reflect"

	"github.com/fieldmaxhq/inventory_backend/config"
	"gorm.io/gorm"
)

// ValidateUnique fails when another row (excluding exceptId) already holds the
// value in the given column.
func ValidateUnique[T any](ctx context.Context, column string, value interface{}, exceptId interface{}) error {
	var count int64
	var err error
	if reflect.ValueOf(exceptId).IsZero() {
		count, err = ResourceCountWhere[T](ctx, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, column+" = ? AND NOT id = ?", value, exceptId)
	}

	if err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate " + column)
	}
	return nil
}

// ValidateResourceId fails with ErrorRecordNotFound when no row has the id.
func ValidateResourceId[T any](ctx context.Context, id interface{}) error {
	count, err := ResourceCountWhere[T](ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}

// ResourceCountWhere counts records matching the condition.
func ResourceCountWhere[T any](ctx context.Context, condition string, value ...interface{}) (int64, error) {
	var model T
	var count int64

	db := config.GetDB()
	err := db.WithContext(ctx).Model(&model).
		Where(condition, value...).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// FetchModel fetches one row by id with optional preloads.
func FetchModel[T any](ctx context.Context, id int, associations ...string) (*T, error) {
	var result T

	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	for _, assoc := range associations {
		dbCtx = dbCtx.Preload(assoc)
	}
	if err := dbCtx.Where("id = ?", id).First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}
