package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/types"
)

type orderResponse struct {
	OrderID          uuid.UUID           `json:"order_id"`
	CustomerID       uuid.UUID           `json:"customer_id"`
	Status           string              `json:"status"`
	PaymentStatus    string              `json:"payment_status"`
	SubtotalCents    int64               `json:"subtotal_cents"`
	ShippingCents    int64               `json:"shipping_cents"`
	DiscountCents    int64               `json:"discount_cents"`
	TotalCents       int64               `json:"total_cents"`
	Currency         string              `json:"currency"`
	ShippingAddress  types.Address       `json:"shipping_address"`
	PaymentReference *string             `json:"payment_reference,omitempty"`
	PaidAt           *time.Time          `json:"paid_at,omitempty"`
	CanceledAt       *time.Time          `json:"canceled_at,omitempty"`
	Items            []orderItemResponse `json:"items"`
	CreatedAt        time.Time           `json:"created_at"`
}

type orderItemResponse struct {
	ItemID         uuid.UUID  `json:"item_id"`
	OrderID        uuid.UUID  `json:"order_id"`
	VendorID       uuid.UUID  `json:"vendor_id"`
	ProductID      uuid.UUID  `json:"product_id"`
	ProductName    string     `json:"product_name"`
	UnitPriceCents int64      `json:"unit_price_cents"`
	Quantity       int        `json:"quantity"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	Status         string     `json:"status"`
	TrackingNumber *string    `json:"tracking_number,omitempty"`
	ShippedAt      *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

type payoutResponse struct {
	PayoutID      uuid.UUID   `json:"payout_id"`
	VendorID      uuid.UUID   `json:"vendor_id"`
	Status        string      `json:"status"`
	GrossCents    int64       `json:"gross_cents"`
	FeeCents      int64       `json:"fee_cents"`
	AmountCents   int64       `json:"amount_cents"`
	Currency      string      `json:"currency"`
	Attempts      int         `json:"attempts"`
	TransferID    *string     `json:"transfer_id,omitempty"`
	FailureReason *string     `json:"failure_reason,omitempty"`
	ProcessedAt   *time.Time  `json:"processed_at,omitempty"`
	OrderItemIDs  []uuid.UUID `json:"order_item_ids"`
}

func newOrderResponse(order *models.Order) orderResponse {
	if order == nil {
		return orderResponse{}
	}
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, newOrderItemResponse(item))
	}
	return orderResponse{
		OrderID:          order.ID,
		CustomerID:       order.CustomerID,
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		SubtotalCents:    order.SubtotalCents,
		ShippingCents:    order.ShippingCents,
		DiscountCents:    order.DiscountCents,
		TotalCents:       order.TotalCents,
		Currency:         order.Currency,
		ShippingAddress:  order.ShippingAddress,
		PaymentReference: order.ExternalPaymentReference,
		PaidAt:           order.PaidAt,
		CanceledAt:       order.CanceledAt,
		Items:            items,
		CreatedAt:        order.CreatedAt,
	}
}

func newOrderItemResponse(item models.OrderItem) orderItemResponse {
	return orderItemResponse{
		ItemID:         item.ID,
		OrderID:        item.OrderID,
		VendorID:       item.VendorID,
		ProductID:      item.ProductID,
		ProductName:    item.ProductName,
		UnitPriceCents: item.UnitPriceCents,
		Quantity:       item.Quantity,
		SubtotalCents:  item.SubtotalCents,
		Status:         string(item.Status),
		TrackingNumber: item.TrackingNumber,
		ShippedAt:      item.ShippedAt,
		DeliveredAt:    item.DeliveredAt,
	}
}

func newPayoutResponse(payout *models.Payout) payoutResponse {
	if payout == nil {
		return payoutResponse{}
	}
	ids := make([]uuid.UUID, 0, len(payout.Items))
	for _, item := range payout.Items {
		ids = append(ids, item.OrderItemID)
	}
	return payoutResponse{
		PayoutID:      payout.ID,
		VendorID:      payout.VendorID,
		Status:        string(payout.Status),
		GrossCents:    payout.GrossCents,
		FeeCents:      payout.FeeCents,
		AmountCents:   payout.AmountCents,
		Currency:      payout.Currency,
		Attempts:      payout.Attempts,
		TransferID:    payout.ExternalTransferID,
		FailureReason: payout.FailureReason,
		ProcessedAt:   payout.ProcessedAt,
		OrderItemIDs:  ids,
	}
}
