package payments

import (
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
)

// OutcomeKind is the closed set of payment facts the orchestrator acts on.
type OutcomeKind string

const (
	OutcomePaymentSucceeded OutcomeKind = "payment_succeeded"
	OutcomePaymentFailed    OutcomeKind = "payment_failed"
	OutcomeChargeRefunded   OutcomeKind = "charge_refunded"
)

func (k OutcomeKind) IsValid() bool {
	switch k {
	case OutcomePaymentSucceeded, OutcomePaymentFailed, OutcomeChargeRefunded:
		return true
	default:
		return false
	}
}

// Outcome is a settled payment fact for one order, from a webhook or from
// polling the processor.
type Outcome struct {
	Kind             OutcomeKind
	OrderID          uuid.UUID
	SessionID        string
	PaymentReference string
	AmountCents      int64
	Currency         string
	// Expired marks a payment_failed outcome caused by session expiry.
	Expired bool
}

func (o Outcome) validate() error {
	if !o.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment outcome "+string(o.Kind)).
			WithReason(pkgerrors.ReasonMalformedEvent)
	}
	if o.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment outcome has no order").
			WithReason(pkgerrors.ReasonMalformedEvent)
	}
	if o.Kind == OutcomePaymentSucceeded && o.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment_succeeded requires an amount").
			WithReason(pkgerrors.ReasonMalformedEvent)
	}
	return nil
}

func (o Outcome) currencyMatches(currency string) bool {
	return o.Currency == "" || strings.EqualFold(o.Currency, currency)
}
