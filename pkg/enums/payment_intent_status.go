package enums

import "fmt"

// PaymentIntentStatus is the last known processor-side state of a checkout session.
type PaymentIntentStatus string

const (
	PaymentIntentStatusOpen     PaymentIntentStatus = "OPEN"
	PaymentIntentStatusComplete PaymentIntentStatus = "COMPLETE"
	PaymentIntentStatusExpired  PaymentIntentStatus = "EXPIRED"
	PaymentIntentStatusFailed   PaymentIntentStatus = "FAILED"
)

var validPaymentIntentStatuses = []PaymentIntentStatus{
	PaymentIntentStatusOpen,
	PaymentIntentStatusComplete,
	PaymentIntentStatusExpired,
	PaymentIntentStatusFailed,
}

// String implements fmt.Stringer.
func (s PaymentIntentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known payment intent status.
func (s PaymentIntentStatus) IsValid() bool {
	for _, candidate := range validPaymentIntentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePaymentIntentStatus converts raw input into PaymentIntentStatus.
func ParsePaymentIntentStatus(value string) (PaymentIntentStatus, error) {
	for _, candidate := range validPaymentIntentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment intent status %q", value)
}
