package enums

import "fmt"

// LedgerEventType maps to ledger_events.type.
type LedgerEventType string

const (
	LedgerEventTypePaymentCaptured LedgerEventType = "payment_captured"
	LedgerEventTypeRefund          LedgerEventType = "refund"
	LedgerEventTypeVendorPayout    LedgerEventType = "vendor_payout"
)

func (s LedgerEventType) String() string {
	return string(s)
}

func (s LedgerEventType) IsValid() bool {
	switch s {
	case LedgerEventTypePaymentCaptured, LedgerEventTypeRefund, LedgerEventTypeVendorPayout:
		return true
	}
	return false
}

// PayoutScoped reports whether rows of this type hang off a payout (and its
// vendor) rather than an order.
func (s LedgerEventType) PayoutScoped() bool {
	return s == LedgerEventTypeVendorPayout
}

func ParseLedgerEventType(value string) (LedgerEventType, error) {
	if t := LedgerEventType(value); t.IsValid() {
		return t, nil
	}
	return "", fmt.Errorf("invalid ledger event type %q", value)
}
