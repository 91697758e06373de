// Package registry decides where each outbox row is published and checks
// that its stored envelope still decodes into the payload subscribers expect.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox/payloads"
)

type decoder func(json.RawMessage) (any, error)

func decodeAs[T any]() decoder {
	return func(raw json.RawMessage) (any, error) {
		v := new(T)
		if err := json.Unmarshal(raw, v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

var schemas = map[enums.OutboxEventType]decoder{
	enums.EventOrderCreated:           decodeAs[payloads.OrderCreatedEvent](),
	enums.EventOrderPaid:              decodeAs[payloads.OrderPaidEvent](),
	enums.EventOrderPaymentFailed:     decodeAs[payloads.PaymentStatusEvent](),
	enums.EventOrderRefunded:          decodeAs[payloads.PaymentStatusEvent](),
	enums.EventOrderCanceled:          decodeAs[payloads.OrderCanceledEvent](),
	enums.EventOrderItemStatusChanged: decodeAs[payloads.OrderItemStatusChangedEvent](),
	enums.EventPayoutScheduled:        decodeAs[payloads.PayoutEvent](),
	enums.EventPayoutPaid:             decodeAs[payloads.PayoutEvent](),
	enums.EventPayoutFailed:           decodeAs[payloads.PayoutEvent](),
}

// PermanentError marks a row that can never be published as stored.
// The publisher parks such rows instead of retrying them.
type PermanentError struct {
	err error
}

func (e *PermanentError) Error() string { return "unpublishable outbox row: " + e.err.Error() }

func (e *PermanentError) Unwrap() error { return e.err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Message is an outbox row resolved to its topic and typed payload.
type Message struct {
	Topic    string
	Envelope outbox.PayloadEnvelope
	Payload  any
}

// OrderingKey keeps every event of one order (or payout) in commit order on
// the topic.
func (m *Message) OrderingKey() string {
	return string(m.Envelope.AggregateType) + ":" + m.Envelope.AggregateID.String()
}

// Attributes are the message attributes subscribers filter on.
func (m *Message) Attributes() map[string]string {
	attrs := map[string]string{
		"event_id":         m.Envelope.EventID,
		"event_type":       string(m.Envelope.EventType),
		"aggregate_type":   string(m.Envelope.AggregateType),
		"aggregate_id":     m.Envelope.AggregateID.String(),
		"envelope_version": strconv.Itoa(m.Envelope.Version),
		"occurred_at":      m.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if m.Envelope.RequestID != "" {
		attrs["request_id"] = m.Envelope.RequestID
	}
	return attrs
}

// Router maps aggregates to topics. Order events share one topic and payout
// events another.
type Router struct {
	topics map[enums.OutboxAggregateType]string
}

func NewRouter(cfg config.PubSubConfig) (*Router, error) {
	topics := map[enums.OutboxAggregateType]string{
		enums.AggregateOrder:  strings.TrimSpace(cfg.OrdersTopic),
		enums.AggregatePayout: strings.TrimSpace(cfg.PayoutsTopic),
	}
	for agg, topic := range topics {
		if topic == "" {
			return nil, fmt.Errorf("no topic configured for %s events", agg)
		}
	}
	return &Router{topics: topics}, nil
}

// Topics lists the distinct configured topics.
func (r *Router) Topics() []string {
	seen := make(map[string]bool, len(r.topics))
	var out []string
	for _, agg := range []enums.OutboxAggregateType{enums.AggregateOrder, enums.AggregatePayout} {
		if t := r.topics[agg]; !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Resolve checks a stored row against its envelope and decodes the payload.
// Every error it returns is permanent.
func (r *Router) Resolve(row models.OutboxEvent) (*Message, error) {
	decode, known := schemas[row.EventType]
	if !known {
		return nil, Permanent(fmt.Errorf("no schema for event type %q", row.EventType))
	}
	if want := row.EventType.Aggregate(); row.AggregateType != want {
		return nil, Permanent(fmt.Errorf("%s is a %s event, row says %q", row.EventType, want, row.AggregateType))
	}
	if row.AggregateID == uuid.Nil {
		return nil, Permanent(fmt.Errorf("%s row %s has no aggregate id", row.EventType, row.ID))
	}

	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &env); err != nil {
		return nil, Permanent(fmt.Errorf("envelope: %w", err))
	}
	if err := reconcile(&env, row); err != nil {
		return nil, Permanent(err)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || string(data) == "null" {
		return nil, Permanent(fmt.Errorf("%s envelope has no data", row.EventType))
	}
	payload, err := decode(data)
	if err != nil {
		return nil, Permanent(fmt.Errorf("%s data: %w", row.EventType, err))
	}
	return &Message{Topic: r.topics[row.AggregateType], Envelope: env, Payload: payload}, nil
}

// reconcile fills identity fields that version 1 envelopes did not carry and
// rejects envelopes that disagree with their row.
func reconcile(env *outbox.PayloadEnvelope, row models.OutboxEvent) error {
	if env.Version < 1 || env.Version > outbox.EnvelopeVersion {
		return fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	if env.EventID == "" {
		env.EventID = row.ID.String()
	}
	switch {
	case env.EventType == "":
		env.EventType = row.EventType
	case env.EventType != row.EventType:
		return fmt.Errorf("envelope event type %q does not match row %q", env.EventType, row.EventType)
	}
	if env.AggregateType == "" {
		env.AggregateType = row.AggregateType
	}
	switch {
	case env.AggregateID == uuid.Nil:
		env.AggregateID = row.AggregateID
	case env.AggregateID != row.AggregateID:
		return fmt.Errorf("envelope aggregate %s does not match row %s", env.AggregateID, row.AggregateID)
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = row.CreatedAt
	}
	return nil
}
