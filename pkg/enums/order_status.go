package enums

import "fmt"

// OrderStatus is the order-level lifecycle state persisted in orders.status.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known order status.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

// Rank orders the forward chain PENDING < PAID < PROCESSING < SHIPPED < DELIVERED.
// CANCELLED is off-chain and ranks -1.
func (s OrderStatus) Rank() int {
	switch s {
	case OrderStatusPending:
		return 0
	case OrderStatusPaid:
		return 1
	case OrderStatusProcessing:
		return 2
	case OrderStatusShipped:
		return 3
	case OrderStatusDelivered:
		return 4
	default:
		return -1
	}
}

// IsTerminal reports whether no further fulfillment transition can follow.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}
