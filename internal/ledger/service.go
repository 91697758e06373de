package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
)

// Service records money movements. Every call joins the caller's
// transaction, so a ledger row commits together with the state change it
// describes or not at all.
type Service interface {
	RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	HasEvent(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error)
	HasPayoutEvent(ctx context.Context, tx *gorm.DB, payoutID uuid.UUID) (bool, error)
	OrderBalance(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (Balance, error)
}

type RecordLedgerEventInput struct {
	OrderID     *uuid.UUID            `json:"order_id,omitempty"`
	VendorID    *uuid.UUID            `json:"vendor_id,omitempty"`
	PayoutID    *uuid.UUID            `json:"payout_id,omitempty"`
	Type        enums.LedgerEventType `json:"type"`
	AmountCents int64                 `json:"amount_cents"`
	Currency    string                `json:"currency"`
	Metadata    json.RawMessage       `json:"metadata,omitempty"`
}

// Balance is what the ledger knows about an order's money.
type Balance struct {
	CapturedCents int64
	RefundedCents int64
}

// Refundable is the captured amount not yet refunded, never negative.
func (b Balance) Refundable() int64 {
	return max(b.CapturedCents-b.RefundedCents, 0)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, errors.New("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	currency, err := input.validate()
	if err != nil {
		return nil, err
	}
	event := &models.LedgerEvent{
		ID:          uuid.New(),
		OrderID:     input.OrderID,
		VendorID:    input.VendorID,
		PayoutID:    input.PayoutID,
		Type:        input.Type,
		AmountCents: input.AmountCents,
		Currency:    currency,
		Metadata:    input.Metadata,
	}
	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// validate returns the normalized currency.
func (in RecordLedgerEventInput) validate() (string, error) {
	if !in.Type.IsValid() {
		return "", fmt.Errorf("invalid ledger event type %q", in.Type)
	}
	if in.Type.PayoutScoped() {
		if in.PayoutID == nil || in.VendorID == nil {
			return "", fmt.Errorf("%s requires payout id and vendor id", in.Type)
		}
	} else if in.OrderID == nil {
		return "", fmt.Errorf("%s requires an order id", in.Type)
	}
	if in.AmountCents <= 0 {
		return "", fmt.Errorf("%s amount must be positive, got %d", in.Type, in.AmountCents)
	}
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		return "", errors.New("currency is required")
	}
	return currency, nil
}

func (s *service) HasEvent(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error) {
	if orderID == uuid.Nil {
		return false, errors.New("order id is required")
	}
	if !eventType.IsValid() {
		return false, fmt.Errorf("invalid ledger event type %q", eventType)
	}
	return s.repo.WithTx(tx).Exists(ctx, Query{OrderID: orderID, Type: eventType})
}

func (s *service) HasPayoutEvent(ctx context.Context, tx *gorm.DB, payoutID uuid.UUID) (bool, error) {
	if payoutID == uuid.Nil {
		return false, errors.New("payout id is required")
	}
	return s.repo.WithTx(tx).Exists(ctx, Query{PayoutID: payoutID, Type: enums.LedgerEventTypeVendorPayout})
}

func (s *service) OrderBalance(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (Balance, error) {
	if orderID == uuid.Nil {
		return Balance{}, errors.New("order id is required")
	}
	totals, err := s.repo.WithTx(tx).TotalsByType(ctx, orderID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		CapturedCents: totals[enums.LedgerEventTypePaymentCaptured],
		RefundedCents: totals[enums.LedgerEventTypeRefund],
	}, nil
}
