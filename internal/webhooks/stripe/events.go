package stripewebhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	stripeclient "github.com/angelmondragon/marketplace-orchestrator/pkg/stripe"
)

// Event is the closed set of processor events the ingestor understands. Each
// recognized Stripe type decodes into exactly one variant; every other type
// becomes Ignored.
type Event interface {
	eventKind() string
}

// OrderRef carries every handle an event offers for locating its order, in
// resolution priority order.
type OrderRef struct {
	SessionID        string
	PaymentReference string
	OrderID          uuid.UUID
}

type PaymentSucceeded struct {
	Ref         OrderRef
	AmountCents int64
	Currency    string
}

type PaymentFailed struct {
	Ref     OrderRef
	Expired bool
}

type ChargeRefunded struct {
	Ref         OrderRef
	AmountCents int64
	Currency    string
}

type Ignored struct {
	Reason string
}

func (PaymentSucceeded) eventKind() string { return "payment_succeeded" }
func (PaymentFailed) eventKind() string    { return "payment_failed" }
func (ChargeRefunded) eventKind() string   { return "charge_refunded" }
func (Ignored) eventKind() string          { return "ignored" }

// Envelope is the part of a payload needed for deduplication.
type Envelope struct {
	ID   string
	Type string
}

// ReadEnvelope extracts the event id and type without validating the rest of
// the payload. A payload with no usable id is keyed by the SHA-256 of its body.
func ReadEnvelope(payload []byte) Envelope {
	var head struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || strings.TrimSpace(head.ID) == "" {
		sum := sha256.Sum256(payload)
		env := Envelope{ID: "sha256:" + hex.EncodeToString(sum[:]), Type: head.Type}
		if env.Type == "" {
			env.Type = "unknown"
		}
		return env
	}
	return Envelope{ID: head.ID, Type: head.Type}
}

func malformed(msg string, cause error) error {
	var err *pkgerrors.Error
	if cause != nil {
		err = pkgerrors.Wrap(pkgerrors.CodeValidation, cause, msg)
	} else {
		err = pkgerrors.New(pkgerrors.CodeValidation, msg)
	}
	return err.WithReason(pkgerrors.ReasonMalformedEvent)
}

// Parse decodes a verified payload into its Event variant.
func Parse(payload []byte) (Event, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, malformed("decode event", err)
	}
	if event.ID == "" || event.Type == "" {
		return nil, malformed("event id and type are required", nil)
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		session, err := decodeSession(event)
		if err != nil {
			return nil, err
		}
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return Ignored{Reason: "session completed with payment " + string(session.PaymentStatus)}, nil
		}
		return succeededFromSession(session)
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		session, err := decodeSession(event)
		if err != nil {
			return nil, err
		}
		return succeededFromSession(session)
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		session, err := decodeSession(event)
		if err != nil {
			return nil, err
		}
		return PaymentFailed{Ref: sessionRef(session)}, nil
	case stripe.EventTypeCheckoutSessionExpired:
		session, err := decodeSession(event)
		if err != nil {
			return nil, err
		}
		return PaymentFailed{Ref: sessionRef(session), Expired: true}, nil
	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := decodeObject(event, &intent); err != nil {
			return nil, err
		}
		if intent.ID == "" {
			return nil, malformed("payment intent id is required", nil)
		}
		return PaymentFailed{Ref: OrderRef{
			PaymentReference: intent.ID,
			OrderID:          metadataOrderID(intent.Metadata),
		}}, nil
	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := decodeObject(event, &charge); err != nil {
			return nil, err
		}
		if !charge.Refunded {
			return Ignored{Reason: "partial refund"}, nil
		}
		ref := OrderRef{OrderID: metadataOrderID(charge.Metadata)}
		if charge.PaymentIntent != nil {
			ref.PaymentReference = charge.PaymentIntent.ID
		}
		if ref.PaymentReference == "" && ref.OrderID == uuid.Nil {
			return nil, malformed("refunded charge has no payment reference", nil)
		}
		return ChargeRefunded{
			Ref:         ref,
			AmountCents: charge.AmountRefunded,
			Currency:    string(charge.Currency),
		}, nil
	default:
		return Ignored{Reason: "unhandled event type " + string(event.Type)}, nil
	}
}

func decodeObject(event stripe.Event, target any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return malformed("event data is required", nil)
	}
	if err := json.Unmarshal(event.Data.Raw, target); err != nil {
		return malformed("decode "+string(event.Type)+" object", err)
	}
	return nil
}

func decodeSession(event stripe.Event) (*stripe.CheckoutSession, error) {
	var session stripe.CheckoutSession
	if err := decodeObject(event, &session); err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, malformed("checkout session id is required", nil)
	}
	return &session, nil
}

func succeededFromSession(session *stripe.CheckoutSession) (Event, error) {
	if session.AmountTotal <= 0 {
		return nil, malformed("paid session has no amount", nil)
	}
	return PaymentSucceeded{
		Ref:         sessionRef(session),
		AmountCents: session.AmountTotal,
		Currency:    string(session.Currency),
	}, nil
}

func sessionRef(session *stripe.CheckoutSession) OrderRef {
	ref := OrderRef{
		SessionID: session.ID,
		OrderID:   metadataOrderID(session.Metadata),
	}
	if ref.OrderID == uuid.Nil && session.ClientReferenceID != "" {
		if id, err := uuid.Parse(session.ClientReferenceID); err == nil {
			ref.OrderID = id
		}
	}
	if session.PaymentIntent != nil {
		ref.PaymentReference = session.PaymentIntent.ID
	}
	return ref
}

func metadataOrderID(metadata map[string]string) uuid.UUID {
	raw, ok := metadata[stripeclient.MetadataOrderID]
	if !ok {
		return uuid.Nil
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil
	}
	return id
}
