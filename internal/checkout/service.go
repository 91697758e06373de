package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/internal/orders"
	"github.com/angelmondragon/marketplace-orchestrator/internal/payments"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/locks"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/processor"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type sessionGateway interface {
	CreateCheckoutSession(ctx context.Context, in processor.CreateSessionInput) (*processor.Session, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*processor.Session, error)
}

type outcomeApplier interface {
	Apply(ctx context.Context, outcome payments.Outcome, record *payments.EventRecord) (*payments.Result, error)
}

// Service opens hosted checkout sessions and polls their settlement.
type Service interface {
	CreateCheckoutSession(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*SessionResult, error)
	VerifyPaymentStatus(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*VerifyResult, error)
}

type SessionResult struct {
	OrderID     uuid.UUID `json:"order_id"`
	SessionID   string    `json:"session_id"`
	CheckoutURL string    `json:"checkout_url"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type VerifyResult struct {
	OrderID       uuid.UUID           `json:"order_id"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	OrderStatus   enums.OrderStatus   `json:"order_status"`
	SessionState  string              `json:"session_state,omitempty"`
	Applied       bool                `json:"applied"`
}

type ServiceParams struct {
	Orders  *orders.Repository
	Intents *payments.IntentRepository
	Gateway sessionGateway
	Applier outcomeApplier
	DB      txRunner
	Locker  locks.Locker
	Config  config.CheckoutConfig
	Logger  *logger.Logger
}

type service struct {
	orders  *orders.Repository
	intents *payments.IntentRepository
	gateway sessionGateway
	applier outcomeApplier
	db      txRunner
	locker  locks.Locker
	cfg     config.CheckoutConfig
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Intents == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment intent repository required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "processor gateway required")
	}
	if params.Applier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment applier required")
	}
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Locker == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order locker required")
	}
	cfg := params.Config
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		cfg.Currency = "usd"
	}
	return &service{
		orders:  params.Orders,
		intents: params.Intents,
		gateway: params.Gateway,
		applier: params.Applier,
		db:      params.DB,
		locker:  params.Locker,
		cfg:     cfg,
		logg:    params.Logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// checkoutable reports whether a session may be opened for the order.
func checkoutable(order *models.Order) error {
	if order.Status == enums.OrderStatusPending &&
		(order.PaymentStatus == enums.PaymentStatusPending || order.PaymentStatus == enums.PaymentStatusFailed) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict,
		fmt.Sprintf("order is %s with payment %s; checkout is not allowed", order.Status, order.PaymentStatus)).
		WithReason(pkgerrors.ReasonInvalidOrderState).
		WithDetails(map[string]any{"status": order.Status, "payment_status": order.PaymentStatus})
}

func (s *service) loadOrder(ctx context.Context, tx *gorm.DB, principal auth.Principal, orderID uuid.UUID) (*models.Order, error) {
	if principal.IsAdmin() {
		return s.orders.Find(ctx, tx, orderID)
	}
	return s.orders.FindOwned(ctx, tx, principal.UserID, orderID)
}

// CreateCheckoutSession opens a hosted session for the order's total. A retry
// after a failed or abandoned payment supersedes the previous session; the
// order total never changes.
func (s *service) CreateCheckoutSession(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*SessionResult, error) {
	if err := principal.RequireCustomer(); err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(s.logg.WithUserID(ctx, principal.UserID.String()), orderID.String())

	unlock, err := s.locker.Lock(ctx, locks.OrderKey(orderID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlock() }()

	var (
		order    *models.Order
		attempts int64
	)
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.loadOrder(ctx, tx, principal, orderID)
		if err != nil {
			return err
		}
		if err := checkoutable(order); err != nil {
			return err
		}
		if !order.CheckTotals() {
			return pkgerrors.New(pkgerrors.CodeIntegrity, "order totals do not reconcile").
				WithReason(pkgerrors.ReasonAmountMismatch)
		}
		attempts, err = s.intents.CountForOrder(ctx, tx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count payment intents")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	lines := make([]processor.LineItem, 0, len(order.Items))
	for _, item := range order.Items {
		if item.Status == enums.OrderItemStatusCancelled {
			continue
		}
		lines = append(lines, processor.LineItem{
			Name:           item.ProductName,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
		})
	}
	expiresAt := s.now().Add(s.cfg.SessionTTL)
	session, err := s.gateway.CreateCheckoutSession(ctx, processor.CreateSessionInput{
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		Currency:       order.Currency,
		Lines:          lines,
		ShippingCents:  order.ShippingCents,
		DiscountCents:  order.DiscountCents,
		AmountCents:    order.TotalCents,
		SuccessURL:     s.cfg.SuccessURL,
		CancelURL:      s.cfg.CancelURL,
		ExpiresAt:      expiresAt,
		IdempotencyKey: fmt.Sprintf("checkout_%s_%d", order.ID, attempts+1),
	})
	if err != nil {
		s.logg.Error(ctx, "create checkout session", err)
		return nil, err
	}
	if session.AmountCents != 0 && session.AmountCents != order.TotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeIntegrity, "processor session amount differs from order total").
			WithReason(pkgerrors.ReasonAmountMismatch)
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.orders.Find(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if err := checkoutable(current); err != nil {
			return err
		}
		active, err := s.intents.Active(ctx, tx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
		}
		now := s.now()
		if active != nil {
			if err := s.intents.Supersede(ctx, tx, active.ID, now); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "supersede payment intent")
			}
		}
		if err := s.intents.Create(ctx, tx, &models.PaymentIntentRecord{
			OrderID:           order.ID,
			ExternalSessionID: session.ID,
			AmountCents:       order.TotalCents,
			Currency:          order.Currency,
			LastKnownStatus:   enums.PaymentIntentStatusOpen,
			CheckoutURL:       session.URL,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment intent")
		}
		return s.orders.UpdateOrder(ctx, tx, order.ID, map[string]any{
			"external_session_id": session.ID,
			"payment_status":      enums.PaymentStatusPending,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"session_id":   session.ID,
		"amount_cents": order.TotalCents,
		"attempt":      attempts + 1,
	}), "checkout session created")
	return &SessionResult{
		OrderID:     order.ID,
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		AmountCents: order.TotalCents,
		Currency:    order.Currency,
		ExpiresAt:   expiresAt,
	}, nil
}

// VerifyPaymentStatus polls the processor for the active session and, when it
// has settled, applies the outcome through the same path as webhooks.
func (s *service) VerifyPaymentStatus(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*VerifyResult, error) {
	if err := principal.RequireCustomer(); err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	var (
		order  *models.Order
		intent *models.PaymentIntentRecord
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.loadOrder(ctx, tx, principal, orderID)
		if err != nil {
			return err
		}
		intent, err = s.intents.Active(ctx, tx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{
		OrderID:       order.ID,
		PaymentStatus: order.PaymentStatus,
		OrderStatus:   order.Status,
	}
	if intent == nil || order.PaymentStatus == enums.PaymentStatusPaid || order.PaymentStatus == enums.PaymentStatusRefunded {
		return result, nil
	}

	session, err := s.gateway.GetCheckoutSession(ctx, intent.ExternalSessionID)
	if err != nil {
		return nil, err
	}
	result.SessionState = string(session.State)
	if !session.State.Settled() {
		return result, nil
	}

	outcome := payments.Outcome{
		OrderID:          order.ID,
		SessionID:        session.ID,
		PaymentReference: session.PaymentReference,
		AmountCents:      session.AmountCents,
		Currency:         session.Currency,
	}
	switch session.State {
	case processor.SessionPaid:
		outcome.Kind = payments.OutcomePaymentSucceeded
	case processor.SessionExpired:
		outcome.Kind = payments.OutcomePaymentFailed
		outcome.Expired = true
	default:
		outcome.Kind = payments.OutcomePaymentFailed
	}
	if outcome.SessionID == "" {
		outcome.SessionID = intent.ExternalSessionID
	}

	applied, err := s.applier.Apply(ctx, outcome, nil)
	if err != nil {
		return nil, err
	}
	result.Applied = applied.Applied
	if applied.Order != nil {
		result.PaymentStatus = applied.Order.PaymentStatus
		result.OrderStatus = applied.Order.Status
	}
	return result, nil
}
