package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/internal/ledger"
	"github.com/angelmondragon/marketplace-orchestrator/internal/orders"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/locks"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OrderCanceller cancels unshipped items and restores their stock inside the
// caller's transaction.
type OrderCanceller interface {
	CancelInTx(ctx context.Context, tx *gorm.DB, order *models.Order) error
}

type ApplierParams struct {
	Orders   *orders.Repository
	Intents  *IntentRepository
	EventLog *EventLogRepository
	Ledger   ledger.Service
	Canceler OrderCanceller
	Outbox   outboxPublisher
	DB       txRunner
	Locker   locks.Locker
	Logger   *logger.Logger
}

// Applier is the only writer of an order's payment fields. Webhooks and
// checkout verification both funnel through Apply.
type Applier struct {
	orders   *orders.Repository
	intents  *IntentRepository
	eventLog *EventLogRepository
	ledger   ledger.Service
	canceler OrderCanceller
	outbox   outboxPublisher
	db       txRunner
	locker   locks.Locker
	logg     *logger.Logger
	now      func() time.Time
}

func NewApplier(params ApplierParams) (*Applier, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Intents == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment intent repository required")
	}
	if params.EventLog == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook event log required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Canceler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order canceller required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Locker == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order locker required")
	}
	return &Applier{
		orders:   params.Orders,
		intents:  params.Intents,
		eventLog: params.EventLog,
		ledger:   params.Ledger,
		canceler: params.Canceler,
		outbox:   params.Outbox,
		db:       params.DB,
		locker:   params.Locker,
		logg:     params.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Result describes what Apply did to the order.
type Result struct {
	Order     *models.Order
	Applied   bool
	Duplicate bool
	Detail    string
}

// Apply moves the order's payment state according to outcome. Outcomes are
// monotonic: re-applying one, or applying a stale one, changes nothing. When
// record is non-nil the event is logged in the same transaction, and an event
// already logged is reported as a duplicate without touching the order.
func (a *Applier) Apply(ctx context.Context, outcome Outcome, record *EventRecord) (*Result, error) {
	if err := outcome.validate(); err != nil {
		return nil, err
	}
	ctx = a.logg.WithOrderID(ctx, outcome.OrderID.String())

	unlock, err := a.locker.Lock(ctx, locks.OrderKey(outcome.OrderID))
	if err != nil {
		a.logg.Warn(ctx, "payment outcome waiting on order lock: "+err.Error())
		return nil, err
	}
	defer func() { _ = unlock() }()

	var (
		result       *Result
		deferredLogs []func()
	)
	err = a.db.WithTx(ctx, func(tx *gorm.DB) error {
		result, deferredLogs = &Result{}, nil
		if record != nil {
			seen, err := a.eventLog.Seen(ctx, tx, record.Provider, record.ExternalEventID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check webhook event log")
			}
			if seen {
				result.Duplicate = true
				return a.eventLog.Append(ctx, tx, *record, &outcome.OrderID, enums.WebhookOutcomeIgnoredDuplicate, "")
			}
		}

		order, err := a.orders.Find(ctx, tx, outcome.OrderID)
		if err != nil {
			return err
		}
		result.Order = order

		switch outcome.Kind {
		case OutcomePaymentSucceeded:
			err = a.applySucceeded(ctx, tx, order, outcome, result, &deferredLogs)
		case OutcomePaymentFailed:
			err = a.applyFailed(ctx, tx, order, outcome, result)
		case OutcomeChargeRefunded:
			err = a.applyRefunded(ctx, tx, order, outcome, result, &deferredLogs)
		}
		if err != nil {
			return err
		}

		if record != nil {
			return a.eventLog.Append(ctx, tx, *record, &order.ID, enums.WebhookOutcomeApplied, result.Detail)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, fn := range deferredLogs {
		fn()
	}
	logCtx := a.logg.WithFields(ctx, map[string]any{
		"outcome":        string(outcome.Kind),
		"applied":        result.Applied,
		"duplicate":      result.Duplicate,
		"payment_status": paymentStatusOf(result.Order),
	})
	if result.Applied {
		a.logg.Info(logCtx, "payment outcome applied")
	} else {
		a.logg.Debug(logCtx, "payment outcome was a no-op: "+result.Detail)
	}
	return result, nil
}

func paymentStatusOf(order *models.Order) string {
	if order == nil {
		return ""
	}
	return string(order.PaymentStatus)
}

func (a *Applier) applySucceeded(ctx context.Context, tx *gorm.DB, order *models.Order, outcome Outcome, result *Result, deferredLogs *[]func()) error {
	switch order.PaymentStatus {
	case enums.PaymentStatusPaid:
		result.Detail = "payment already captured"
		return nil
	case enums.PaymentStatusRefunded:
		result.Detail = "payment already refunded"
		return nil
	}

	if outcome.AmountCents != order.TotalCents || !outcome.currencyMatches(order.Currency) {
		return pkgerrors.New(pkgerrors.CodeIntegrity,
			fmt.Sprintf("captured %d %s does not match order total %d %s", outcome.AmountCents, outcome.Currency, order.TotalCents, order.Currency)).
			WithReason(pkgerrors.ReasonAmountMismatch).
			WithDetails(map[string]any{"captured_cents": outcome.AmountCents, "total_cents": order.TotalCents})
	}

	var intent *models.PaymentIntentRecord
	if outcome.SessionID != "" {
		found, err := a.intents.FindBySession(ctx, tx, outcome.SessionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
		}
		intent = found
	}
	if intent == nil {
		active, err := a.intents.Active(ctx, tx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
		}
		intent = active
	}

	now := a.now()
	updates := map[string]any{
		"payment_status": enums.PaymentStatusPaid,
		"paid_at":        now,
	}
	if outcome.PaymentReference != "" {
		updates["external_payment_reference"] = outcome.PaymentReference
		order.ExternalPaymentReference = &outcome.PaymentReference
	}
	if outcome.SessionID != "" {
		updates["external_session_id"] = outcome.SessionID
		order.ExternalSessionID = &outcome.SessionID
	}
	order.PaymentStatus = enums.PaymentStatusPaid
	order.PaidAt = &now

	if order.Status == enums.OrderStatusCancelled {
		*deferredLogs = append(*deferredLogs, func() {
			a.logg.Warn(ctx, "payment captured for a cancelled order; refund required")
		})
	} else {
		if _, err := orders.Advance(order); err != nil {
			return err
		}
		updates["status"] = order.Status
	}
	if err := a.orders.UpdateOrder(ctx, tx, order.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment")
	}

	if intent != nil {
		if !intent.Active() {
			*deferredLogs = append(*deferredLogs, func() {
				a.logg.Warn(ctx, "payment captured on superseded session "+intent.ExternalSessionID)
			})
		}
		if err := a.intents.RecordStatus(ctx, tx, intent.ID, enums.PaymentIntentStatusComplete, outcome.PaymentReference); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payment intent")
		}
	}

	captured, err := a.ledger.HasEvent(ctx, tx, order.ID, enums.LedgerEventTypePaymentCaptured)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check ledger")
	}
	if !captured {
		if _, err := a.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
			OrderID:     &order.ID,
			Type:        enums.LedgerEventTypePaymentCaptured,
			AmountCents: order.TotalCents,
			Currency:    order.Currency,
			Metadata:    referenceMetadata(outcome),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record ledger event")
		}
	}

	result.Applied = true
	return a.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderPaidEvent{
			OrderID:          order.ID,
			CustomerID:       order.CustomerID,
			PaymentReference: outcome.PaymentReference,
			AmountCents:      order.TotalCents,
			Currency:         order.Currency,
			PaidAt:           now,
		},
	})
}

func (a *Applier) applyFailed(ctx context.Context, tx *gorm.DB, order *models.Order, outcome Outcome, result *Result) error {
	switch order.PaymentStatus {
	case enums.PaymentStatusPaid, enums.PaymentStatusRefunded:
		result.Detail = "payment already settled as " + string(order.PaymentStatus)
		return nil
	case enums.PaymentStatusFailed:
		result.Detail = "payment already failed"
		return nil
	}

	var intent *models.PaymentIntentRecord
	var err error
	if outcome.SessionID != "" {
		intent, err = a.intents.FindBySession(ctx, tx, outcome.SessionID)
	} else {
		intent, err = a.intents.Active(ctx, tx, order.ID)
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
	}
	if intent != nil && !intent.Active() {
		result.Detail = "session superseded by a newer checkout"
		return nil
	}

	if err := a.orders.UpdateOrder(ctx, tx, order.ID, map[string]any{"payment_status": enums.PaymentStatusFailed}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment failure")
	}
	order.PaymentStatus = enums.PaymentStatusFailed

	sessionID := outcome.SessionID
	if intent != nil {
		status := enums.PaymentIntentStatusFailed
		if outcome.Expired {
			status = enums.PaymentIntentStatusExpired
		}
		if err := a.intents.RecordStatus(ctx, tx, intent.ID, status, outcome.PaymentReference); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payment intent")
		}
		sessionID = intent.ExternalSessionID
	}

	result.Applied = true
	return a.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaymentFailed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.PaymentStatusEvent{
			OrderID:       order.ID,
			PaymentStatus: order.PaymentStatus,
			OrderStatus:   order.Status,
			SessionID:     sessionID,
		},
	})
}

func (a *Applier) applyRefunded(ctx context.Context, tx *gorm.DB, order *models.Order, outcome Outcome, result *Result, deferredLogs *[]func()) error {
	if order.PaymentStatus == enums.PaymentStatusRefunded {
		result.Detail = "payment already refunded"
		return nil
	}

	if err := a.orders.UpdateOrder(ctx, tx, order.ID, map[string]any{"payment_status": enums.PaymentStatusRefunded}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record refund")
	}
	order.PaymentStatus = enums.PaymentStatusRefunded
	if err := a.canceler.CancelInTx(ctx, tx, order); err != nil {
		return err
	}

	amount := outcome.AmountCents
	if amount <= 0 {
		amount = order.TotalCents
	}
	balance, err := a.ledger.OrderBalance(ctx, tx, order.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read order balance")
	}
	// Orders paid before capture rows existed have no balance to check against.
	if balance.CapturedCents > 0 && amount > balance.Refundable() {
		*deferredLogs = append(*deferredLogs, func() {
			a.logg.Warn(a.logg.WithFields(ctx, map[string]any{
				"refund_cents":     amount,
				"refundable_cents": balance.Refundable(),
			}), "refund exceeds captured balance, clamping")
		})
		amount = balance.Refundable()
	}
	if amount > 0 {
		if _, err := a.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
			OrderID:     &order.ID,
			Type:        enums.LedgerEventTypeRefund,
			AmountCents: amount,
			Currency:    order.Currency,
			Metadata:    referenceMetadata(outcome),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record ledger event")
		}
	}

	result.Applied = true
	return a.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderRefunded,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.PaymentStatusEvent{
			OrderID:       order.ID,
			PaymentStatus: order.PaymentStatus,
			OrderStatus:   order.Status,
			SessionID:     outcome.SessionID,
		},
	})
}

func referenceMetadata(outcome Outcome) json.RawMessage {
	meta := map[string]string{"source_outcome": string(outcome.Kind)}
	if outcome.PaymentReference != "" {
		meta["payment_reference"] = outcome.PaymentReference
	}
	if outcome.SessionID != "" {
		meta["session_id"] = outcome.SessionID
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return raw
}

// IsDuplicate reports whether err means the event was already recorded by a
// concurrent delivery.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrEventAlreadyRecorded)
}
