package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
)

// Repository persists orders and their items. Every method runs against the
// handle it is given so callers control the transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Create inserts the order and its items.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if err := tx.WithContext(ctx).Omit("Items").Create(order).Error; err != nil {
		return err
	}
	if len(order.Items) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&order.Items).Error
}

// Find loads an order with its items in creation order.
func (r *Repository) Find(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := tx.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC").Order("id ASC")
		}).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderNotFound()
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return &order, nil
}

// FindOwned loads an order only if it belongs to customerID.
func (r *Repository) FindOwned(ctx context.Context, tx *gorm.DB, customerID, orderID uuid.UUID) (*models.Order, error) {
	order, err := r.Find(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, orderNotFound()
	}
	return order, nil
}

// FindItem loads a single order item.
func (r *Repository) FindItem(ctx context.Context, tx *gorm.DB, itemID uuid.UUID) (*models.OrderItem, error) {
	var item models.OrderItem
	if err := tx.WithContext(ctx).Where("id = ?", itemID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order item")
	}
	return &item, nil
}

// FindIDBySession resolves an order by its checkout session, current or
// superseded.
func (r *Repository) FindIDBySession(ctx context.Context, tx *gorm.DB, sessionID string) (uuid.UUID, bool, error) {
	var intent models.PaymentIntentRecord
	err := tx.WithContext(ctx).
		Select("order_id").
		Where("external_session_id = ?", sessionID).
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return intent.OrderID, true, nil
}

// FindIDByPaymentReference resolves an order by the processor's payment id.
func (r *Repository) FindIDByPaymentReference(ctx context.Context, tx *gorm.DB, reference string) (uuid.UUID, bool, error) {
	var order models.Order
	err := tx.WithContext(ctx).
		Select("id").
		Where("external_payment_reference = ?", reference).
		First(&order).Error
	if err == nil {
		return order.ID, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return uuid.Nil, false, err
	}
	var intent models.PaymentIntentRecord
	err = tx.WithContext(ctx).
		Select("order_id").
		Where("external_payment_reference = ?", reference).
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return intent.OrderID, true, nil
}

// Exists reports whether an order row exists.
func (r *Repository) Exists(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error) {
	var count int64
	if err := tx.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateOrder applies column updates to one order.
func (r *Repository) UpdateOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, updates map[string]any) error {
	return tx.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID).Updates(updates).Error
}

// UpdateItem applies column updates to one order item.
func (r *Repository) UpdateItem(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, updates map[string]any) error {
	return tx.WithContext(ctx).Model(&models.OrderItem{}).Where("id = ?", itemID).Updates(updates).Error
}

func orderNotFound() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "order not found").WithReason(pkgerrors.ReasonOrderNotFound)
}
