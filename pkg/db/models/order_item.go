package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
)

// OrderItem is one vendor's product line within an order. Name and price are
// snapshots taken when the order was split.
type OrderItem struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	VendorID       uuid.UUID             `gorm:"column:vendor_id;type:uuid;not null"`
	ProductID      uuid.UUID             `gorm:"column:product_id;type:uuid;not null"`
	ProductName    string                `gorm:"column:product_name;not null"`
	UnitPriceCents int64                 `gorm:"column:unit_price_cents;not null"`
	Quantity       int                   `gorm:"column:quantity;not null"`
	SubtotalCents  int64                 `gorm:"column:subtotal_cents;not null"`
	Status         enums.OrderItemStatus `gorm:"column:status;not null"`
	TrackingNumber *string               `gorm:"column:tracking_number"`
	ShippedAt      *time.Time            `gorm:"column:shipped_at"`
	DeliveredAt    *time.Time            `gorm:"column:delivered_at"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
