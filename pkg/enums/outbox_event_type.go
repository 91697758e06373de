package enums

import "fmt"

// OutboxEventType maps to outbox_events.event_type.
type OutboxEventType string

const (
	EventOrderCreated           OutboxEventType = "order_created"
	EventOrderPaid              OutboxEventType = "order_paid"
	EventOrderPaymentFailed     OutboxEventType = "order_payment_failed"
	EventOrderRefunded          OutboxEventType = "order_refunded"
	EventOrderCanceled          OutboxEventType = "order_canceled"
	EventOrderItemStatusChanged OutboxEventType = "order_item_status_changed"
	EventPayoutScheduled        OutboxEventType = "payout_scheduled"
	EventPayoutPaid             OutboxEventType = "payout_paid"
	EventPayoutFailed           OutboxEventType = "payout_failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderPaymentFailed,
	EventOrderRefunded,
	EventOrderCanceled,
	EventOrderItemStatusChanged,
	EventPayoutScheduled,
	EventPayoutPaid,
	EventPayoutFailed,
}

// String implements fmt.Stringer.
func (s OutboxEventType) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known event type.
func (s OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// Aggregate returns the aggregate an event type is emitted for.
func (s OutboxEventType) Aggregate() OutboxAggregateType {
	switch s {
	case EventPayoutScheduled, EventPayoutPaid, EventPayoutFailed:
		return AggregatePayout
	case "":
		return ""
	default:
		return AggregateOrder
	}
}
