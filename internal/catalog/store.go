// Package catalog adapts the product catalog for the order core: the
// server-trusted price lookup and atomic stock movements.
package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
)

// Store reads and adjusts products inside the caller's transaction.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// FindProducts loads the requested products keyed by id. Missing ids are
// simply absent from the result.
func (s *Store) FindProducts(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	out := make(map[uuid.UUID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Product
	if err := tx.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load products")
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// Decrement takes qty units of stock in a single conditional update. A
// concurrent checkout that drained the stock first makes it fail with
// ConcurrentStockConflict instead of going negative.
func (s *Store) Decrement(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	res := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND stock_quantity >= ?", productID, qty).
		UpdateColumn("stock_quantity", gorm.Expr("stock_quantity - ?", qty))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "decrement stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("stock for product %s changed during checkout", productID)).
			WithReason(pkgerrors.ReasonConcurrentStockConflict).
			WithDetails(map[string]any{"product_id": productID})
	}
	return nil
}

// Restore returns qty units to stock.
func (s *Store) Restore(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	res := tx.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		UpdateColumn("stock_quantity", gorm.Expr("stock_quantity + ?", qty))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "restore stock")
	}
	return nil
}
