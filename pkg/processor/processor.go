// Package processor describes the external payment processor as the
// orchestration core sees it. Implementations translate to a concrete
// provider and classify failures into retryable dependency errors.
package processor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionState is the provider-neutral settlement state of a checkout session.
type SessionState string

const (
	SessionOpen    SessionState = "open"
	SessionPaid    SessionState = "paid"
	SessionFailed  SessionState = "failed"
	SessionExpired SessionState = "expired"
)

// Settled reports whether the state is final enough to apply to an order.
func (s SessionState) Settled() bool {
	return s == SessionPaid || s == SessionFailed || s == SessionExpired
}

type LineItem struct {
	Name           string
	UnitPriceCents int64
	Quantity       int
}

type CreateSessionInput struct {
	OrderID        uuid.UUID
	CustomerID     uuid.UUID
	Currency       string
	Lines          []LineItem
	ShippingCents  int64
	DiscountCents  int64
	// AmountCents is what the customer must be charged.
	AmountCents    int64
	SuccessURL     string
	CancelURL      string
	ExpiresAt      time.Time
	IdempotencyKey string
}

type Session struct {
	ID               string
	URL              string
	State            SessionState
	PaymentReference string
	AmountCents      int64
	Currency         string
}

type TransferInput struct {
	PayoutID           uuid.UUID
	AmountCents        int64
	Currency           string
	DestinationAccount string
	IdempotencyKey     string
}

type Transfer struct {
	ID string
}

type AccountState struct {
	ID               string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
	DisabledReason   string
	CurrentlyDue     []string
}

type OnboardingLink struct {
	URL       string
	ExpiresAt time.Time
}

type RefundInput struct {
	PaymentReference string
	AmountCents      int64
	IdempotencyKey   string
}

// Gateway is the outbound API of the payment processor.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, in CreateSessionInput) (*Session, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*Session, error)
	CreateTransfer(ctx context.Context, in TransferInput) (*Transfer, error)
	CreateConnectedAccount(ctx context.Context, vendorID uuid.UUID) (string, error)
	GetAccount(ctx context.Context, accountID string) (*AccountState, error)
	CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (*OnboardingLink, error)
	Refund(ctx context.Context, in RefundInput) (string, error)
}
