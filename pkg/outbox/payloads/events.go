package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
)

// VendorSubtotal is one vendor's share of an order before shipping/discount.
type VendorSubtotal struct {
	VendorID      uuid.UUID `json:"vendor_id"`
	SubtotalCents int64     `json:"subtotal_cents"`
}

// OrderCreatedEvent signals a new checkout split across vendors.
type OrderCreatedEvent struct {
	OrderID    uuid.UUID        `json:"order_id"`
	CustomerID uuid.UUID        `json:"customer_id"`
	TotalCents int64            `json:"total_cents"`
	Currency   string           `json:"currency"`
	Vendors    []VendorSubtotal `json:"vendors"`
}

// OrderPaidEvent is emitted once when a payment for the order is captured.
type OrderPaidEvent struct {
	OrderID          uuid.UUID `json:"order_id"`
	CustomerID       uuid.UUID `json:"customer_id"`
	PaymentReference string    `json:"payment_reference,omitempty"`
	AmountCents      int64     `json:"amount_cents"`
	Currency         string    `json:"currency"`
	PaidAt           time.Time `json:"paid_at"`
}

// PaymentStatusEvent covers payment failures and refunds.
type PaymentStatusEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	OrderStatus   enums.OrderStatus   `json:"order_status"`
	SessionID     string              `json:"session_id,omitempty"`
}

// OrderCanceledEvent is emitted when a customer or admin cancels an order.
type OrderCanceledEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	CanceledAt time.Time `json:"canceled_at"`
	Refunded   bool      `json:"refunded"`
	Reason     string    `json:"reason,omitempty"`
}

// OrderItemStatusChangedEvent tracks vendor fulfillment progress.
type OrderItemStatusChangedEvent struct {
	OrderID        uuid.UUID             `json:"order_id"`
	OrderItemID    uuid.UUID             `json:"order_item_id"`
	VendorID       uuid.UUID             `json:"vendor_id"`
	From           enums.OrderItemStatus `json:"from"`
	To             enums.OrderItemStatus `json:"to"`
	OrderStatus    enums.OrderStatus     `json:"order_status"`
	TrackingNumber *string               `json:"tracking_number,omitempty"`
}

// PayoutEvent covers the payout lifecycle.
type PayoutEvent struct {
	PayoutID           uuid.UUID          `json:"payout_id"`
	VendorID           uuid.UUID          `json:"vendor_id"`
	Status             enums.PayoutStatus `json:"status"`
	AmountCents        int64              `json:"amount_cents"`
	Currency           string             `json:"currency"`
	ItemCount          int                `json:"item_count"`
	Attempt            int                `json:"attempt"`
	ExternalTransferID *string            `json:"external_transfer_id,omitempty"`
	FailureReason      *string            `json:"failure_reason,omitempty"`
}
