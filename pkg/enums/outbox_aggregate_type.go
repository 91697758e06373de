package enums

import "fmt"

// OutboxAggregateType maps to outbox_events.aggregate_type.
type OutboxAggregateType string

const (
	AggregateOrder  OutboxAggregateType = "order"
	AggregatePayout OutboxAggregateType = "payout"
)

var validOutboxAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayout,
}

// String implements fmt.Stringer.
func (s OutboxAggregateType) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known aggregate type.
func (s OutboxAggregateType) IsValid() bool {
	for _, candidate := range validOutboxAggregateTypes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validOutboxAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}
