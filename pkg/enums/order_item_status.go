package enums

import "fmt"

// OrderItemStatus is the vendor-controlled fulfillment state of a single order item.
type OrderItemStatus string

const (
	OrderItemStatusPending    OrderItemStatus = "PENDING"
	OrderItemStatusProcessing OrderItemStatus = "PROCESSING"
	OrderItemStatusShipped    OrderItemStatus = "SHIPPED"
	OrderItemStatusDelivered  OrderItemStatus = "DELIVERED"
	OrderItemStatusCancelled  OrderItemStatus = "CANCELLED"
)

var validOrderItemStatuses = []OrderItemStatus{
	OrderItemStatusPending,
	OrderItemStatusProcessing,
	OrderItemStatusShipped,
	OrderItemStatusDelivered,
	OrderItemStatusCancelled,
}

// String implements fmt.Stringer.
func (s OrderItemStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known order item status.
func (s OrderItemStatus) IsValid() bool {
	for _, candidate := range validOrderItemStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOrderItemStatus converts raw input into OrderItemStatus.
func ParseOrderItemStatus(value string) (OrderItemStatus, error) {
	for _, candidate := range validOrderItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order item status %q", value)
}

// Next returns the single forward step a vendor may take from s.
func (s OrderItemStatus) Next() (OrderItemStatus, bool) {
	switch s {
	case OrderItemStatusPending:
		return OrderItemStatusProcessing, true
	case OrderItemStatusProcessing:
		return OrderItemStatusShipped, true
	case OrderItemStatusShipped:
		return OrderItemStatusDelivered, true
	default:
		return "", false
	}
}

// OrderStatus maps an item state onto the order-level chain.
func (s OrderItemStatus) OrderStatus() OrderStatus {
	switch s {
	case OrderItemStatusProcessing:
		return OrderStatusProcessing
	case OrderItemStatusShipped:
		return OrderStatusShipped
	case OrderItemStatusDelivered:
		return OrderStatusDelivered
	case OrderItemStatusCancelled:
		return OrderStatusCancelled
	default:
		return OrderStatusPending
	}
}
