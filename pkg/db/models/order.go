package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/types"
)

// Order is one checkout attempt spanning any number of vendors.
// Payment fields are only written by the payment outcome applier; fulfillment
// fields only through the order state machine.
type Order struct {
	ID                       uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID               uuid.UUID           `gorm:"column:customer_id;type:uuid;not null"`
	Status                   enums.OrderStatus   `gorm:"column:status;not null"`
	PaymentStatus            enums.PaymentStatus `gorm:"column:payment_status;not null"`
	SubtotalCents            int64               `gorm:"column:subtotal_cents;not null"`
	ShippingCents            int64               `gorm:"column:shipping_cents;not null"`
	DiscountCents            int64               `gorm:"column:discount_cents;not null"`
	TotalCents               int64               `gorm:"column:total_cents;not null"`
	Currency                 string              `gorm:"column:currency;not null"`
	ShippingAddress          types.Address       `gorm:"column:shipping_address;type:jsonb;not null"`
	ExternalSessionID        *string             `gorm:"column:external_session_id"`
	ExternalPaymentReference *string             `gorm:"column:external_payment_reference"`
	PaidAt                   *time.Time          `gorm:"column:paid_at"`
	CanceledAt               *time.Time          `gorm:"column:canceled_at"`
	Items                    []OrderItem         `gorm:"foreignKey:OrderID"`
	CreatedAt                time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// CheckTotals verifies total == subtotal + shipping - discount and, when items
// are loaded, subtotal == sum(item subtotals).
func (o *Order) CheckTotals() bool {
	if o.TotalCents != o.SubtotalCents+o.ShippingCents-o.DiscountCents {
		return false
	}
	if len(o.Items) == 0 {
		return true
	}
	var sum int64
	for _, item := range o.Items {
		if item.SubtotalCents != item.UnitPriceCents*int64(item.Quantity) {
			return false
		}
		sum += item.SubtotalCents
	}
	return sum == o.SubtotalCents
}
