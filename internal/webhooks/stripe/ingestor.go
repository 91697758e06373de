package stripewebhook

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84/webhook"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/internal/orders"
	"github.com/angelmondragon/marketplace-orchestrator/internal/payments"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

// Provider is the webhook_event_logs.provider value for Stripe deliveries.
const Provider = "stripe"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outcomeApplier interface {
	Apply(ctx context.Context, outcome payments.Outcome, record *payments.EventRecord) (*payments.Result, error)
}

type outcomeCounter interface {
	IncWebhookOutcome(outcome string)
}

type IngestorParams struct {
	DB                 txRunner
	Orders             *orders.Repository
	EventLog           *payments.EventLogRepository
	Applier            outcomeApplier
	SigningSecret      string
	SignatureTolerance time.Duration
	Metrics            outcomeCounter
	Logger             *logger.Logger
}

// Ingestor turns signed Stripe deliveries into payment outcomes. Each
// delivery ends in exactly one webhook_event_logs row, except retryable
// failures which leave no trace so the redelivery runs the full pipeline.
type Ingestor struct {
	db        txRunner
	orders    *orders.Repository
	eventLog  *payments.EventLogRepository
	applier   outcomeApplier
	secret    string
	tolerance time.Duration
	metrics   outcomeCounter
	logg      *logger.Logger
}

func NewIngestor(params IngestorParams) (*Ingestor, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.EventLog == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook event log required")
	}
	if params.Applier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment applier required")
	}
	if strings.TrimSpace(params.SigningSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook signing secret required")
	}
	tolerance := params.SignatureTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Ingestor{
		db:        params.DB,
		orders:    params.Orders,
		eventLog:  params.EventLog,
		applier:   params.Applier,
		secret:    params.SigningSecret,
		tolerance: tolerance,
		metrics:   params.Metrics,
		logg:      params.Logger,
	}, nil
}

// IngestResult is the recorded outcome of one delivery.
type IngestResult struct {
	EventID   string               `json:"event_id"`
	EventType string               `json:"event_type"`
	Outcome   enums.WebhookOutcome `json:"outcome"`
	OrderID   *uuid.UUID           `json:"order_id,omitempty"`
}

// Ingest verifies, deduplicates, resolves and applies one delivery.
func (i *Ingestor) Ingest(ctx context.Context, payload []byte, signature string) (*IngestResult, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "stripe signature missing").
			WithReason(pkgerrors.ReasonInvalidSignature)
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, signature, i.secret, i.tolerance); err != nil {
		i.logg.Warn(ctx, "stripe webhook signature rejected: "+err.Error())
		return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "verify stripe signature").
			WithReason(pkgerrors.ReasonInvalidSignature)
	}

	env := ReadEnvelope(payload)
	record := payments.EventRecord{Provider: Provider, ExternalEventID: env.ID, EventType: env.Type}
	ctx = i.logg.WithFields(ctx, map[string]any{"event_id": env.ID, "event_type": env.Type})
	result := &IngestResult{EventID: env.ID, EventType: env.Type}

	var seen bool
	err := i.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		seen, err = i.eventLog.Seen(ctx, tx, Provider, env.ID)
		if err != nil || !seen {
			return err
		}
		return i.eventLog.Append(ctx, tx, record, nil, enums.WebhookOutcomeIgnoredDuplicate, "")
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check webhook event log")
	}
	if seen {
		return i.finish(ctx, result, enums.WebhookOutcomeIgnoredDuplicate), nil
	}

	event, err := Parse(payload)
	if err != nil {
		return nil, i.fail(ctx, record, nil, err)
	}

	outcome, ok := toOutcome(event)
	if !ok {
		detail := ""
		if ignored, isIgnored := event.(Ignored); isIgnored {
			detail = ignored.Reason
		}
		return i.recordTerminal(ctx, result, record, nil, enums.WebhookOutcomeIgnoredUnrecognized, detail)
	}

	orderID, found, err := i.resolveOrder(ctx, refOf(event))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve webhook order")
	}
	if !found {
		return i.recordTerminal(ctx, result, record, nil, enums.WebhookOutcomeIgnoredUnrecognized, "no matching order")
	}
	outcome.OrderID = orderID
	result.OrderID = &orderID

	applied, err := i.applier.Apply(ctx, outcome, &record)
	switch {
	case err == nil && applied.Duplicate:
		return i.finish(ctx, result, enums.WebhookOutcomeIgnoredDuplicate), nil
	case err == nil:
		return i.finish(ctx, result, enums.WebhookOutcomeApplied), nil
	case payments.IsDuplicate(err):
		return i.recordTerminal(ctx, result, record, &orderID, enums.WebhookOutcomeIgnoredDuplicate, "")
	case pkgerrors.IsRetryable(err):
		i.logg.Warn(i.logg.WithOrderID(ctx, orderID.String()), "webhook apply failed; awaiting redelivery: "+err.Error())
		return nil, err
	default:
		return nil, i.fail(ctx, record, &orderID, err)
	}
}

// toOutcome maps an event variant to the applier's vocabulary. Ignored events
// have no outcome.
func toOutcome(event Event) (payments.Outcome, bool) {
	switch ev := event.(type) {
	case PaymentSucceeded:
		return payments.Outcome{
			Kind:             payments.OutcomePaymentSucceeded,
			SessionID:        ev.Ref.SessionID,
			PaymentReference: ev.Ref.PaymentReference,
			AmountCents:      ev.AmountCents,
			Currency:         ev.Currency,
		}, true
	case PaymentFailed:
		return payments.Outcome{
			Kind:             payments.OutcomePaymentFailed,
			SessionID:        ev.Ref.SessionID,
			PaymentReference: ev.Ref.PaymentReference,
			Expired:          ev.Expired,
		}, true
	case ChargeRefunded:
		return payments.Outcome{
			Kind:             payments.OutcomeChargeRefunded,
			PaymentReference: ev.Ref.PaymentReference,
			AmountCents:      ev.AmountCents,
			Currency:         ev.Currency,
		}, true
	default:
		return payments.Outcome{}, false
	}
}

func refOf(event Event) OrderRef {
	switch ev := event.(type) {
	case PaymentSucceeded:
		return ev.Ref
	case PaymentFailed:
		return ev.Ref
	case ChargeRefunded:
		return ev.Ref
	default:
		return OrderRef{}
	}
}

// resolveOrder tries the session id, then the payment reference, then the
// order id carried in metadata.
func (i *Ingestor) resolveOrder(ctx context.Context, ref OrderRef) (uuid.UUID, bool, error) {
	var (
		orderID uuid.UUID
		found   bool
	)
	err := i.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if ref.SessionID != "" {
			orderID, found, err = i.orders.FindIDBySession(ctx, tx, ref.SessionID)
			if err != nil || found {
				return err
			}
		}
		if ref.PaymentReference != "" {
			orderID, found, err = i.orders.FindIDByPaymentReference(ctx, tx, ref.PaymentReference)
			if err != nil || found {
				return err
			}
		}
		if ref.OrderID != uuid.Nil {
			found, err = i.orders.Exists(ctx, tx, ref.OrderID)
			if err != nil {
				return err
			}
			if found {
				orderID = ref.OrderID
			}
		}
		return nil
	})
	return orderID, found, err
}

// recordTerminal appends the row for a delivery that ends without touching an
// order. Losing the race to a concurrent delivery downgrades it to a duplicate.
func (i *Ingestor) recordTerminal(ctx context.Context, result *IngestResult, record payments.EventRecord, orderID *uuid.UUID, outcome enums.WebhookOutcome, detail string) (*IngestResult, error) {
	err := i.db.WithTx(ctx, func(tx *gorm.DB) error {
		return i.eventLog.Append(ctx, tx, record, orderID, outcome, detail)
	})
	if errors.Is(err, payments.ErrEventAlreadyRecorded) {
		outcome = enums.WebhookOutcomeIgnoredDuplicate
		err = i.db.WithTx(ctx, func(tx *gorm.DB) error {
			return i.eventLog.Append(ctx, tx, record, orderID, outcome, "")
		})
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record webhook event")
	}
	return i.finish(ctx, result, outcome), nil
}

// fail logs a non-retryable failure as FAILED in its own transaction and
// returns the original error.
func (i *Ingestor) fail(ctx context.Context, record payments.EventRecord, orderID *uuid.UUID, cause error) error {
	err := i.db.WithTx(ctx, func(tx *gorm.DB) error {
		return i.eventLog.Append(ctx, tx, record, orderID, enums.WebhookOutcomeFailed, cause.Error())
	})
	if err != nil && !errors.Is(err, payments.ErrEventAlreadyRecorded) {
		i.logg.Error(ctx, "record failed webhook event", err)
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record webhook event")
	}
	if i.metrics != nil {
		i.metrics.IncWebhookOutcome(string(enums.WebhookOutcomeFailed))
	}
	i.logg.Error(ctx, "webhook event failed", cause)
	return cause
}

func (i *Ingestor) finish(ctx context.Context, result *IngestResult, outcome enums.WebhookOutcome) *IngestResult {
	result.Outcome = outcome
	if i.metrics != nil {
		i.metrics.IncWebhookOutcome(string(outcome))
	}
	i.logg.Info(i.logg.WithField(ctx, "outcome", string(outcome)), "webhook event recorded")
	return result
}
