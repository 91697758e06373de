package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox/payloads"
)

func testRouter(t *testing.T) *Router {
	t.Helper()
	r, err := NewRouter(config.PubSubConfig{OrdersTopic: "order-events", PayoutsTopic: "payout-events"})
	require.NoError(t, err)
	return r
}

func row(t *testing.T, typ enums.OutboxEventType, env outbox.PayloadEnvelope, data any) models.OutboxEvent {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	env.Data = raw
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     typ,
		AggregateType: typ.Aggregate(),
		AggregateID:   env.AggregateID,
		Payload:       body,
		CreatedAt:     time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestResolveOrderEvent(t *testing.T) {
	orderID, vendorID := uuid.New(), uuid.New()
	ev := row(t, enums.EventOrderCreated, outbox.PayloadEnvelope{
		Version:     outbox.EnvelopeVersion,
		EventID:     "evt-1",
		EventType:   enums.EventOrderCreated,
		AggregateID: orderID,
		RequestID:   "req-9",
	}, payloads.OrderCreatedEvent{
		OrderID:    orderID,
		TotalCents: 2800,
		Currency:   "usd",
		Vendors:    []payloads.VendorSubtotal{{VendorID: vendorID, SubtotalCents: 2000}},
	})

	msg, err := testRouter(t).Resolve(ev)
	require.NoError(t, err)
	assert.Equal(t, "order-events", msg.Topic)
	created, ok := msg.Payload.(*payloads.OrderCreatedEvent)
	require.True(t, ok, "payload type %T", msg.Payload)
	assert.Equal(t, vendorID, created.Vendors[0].VendorID)
	assert.Equal(t, "order:"+orderID.String(), msg.OrderingKey())

	attrs := msg.Attributes()
	assert.Equal(t, "evt-1", attrs["event_id"])
	assert.Equal(t, "req-9", attrs["request_id"])
	assert.Equal(t, "2", attrs["envelope_version"])
}

func TestResolveFillsVersionOneEnvelope(t *testing.T) {
	payoutID := uuid.New()
	ev := row(t, enums.EventPayoutPaid, outbox.PayloadEnvelope{Version: 1}, payloads.PayoutEvent{
		PayoutID:    payoutID,
		Status:      enums.PayoutStatusPaid,
		AmountCents: 1800,
	})
	ev.AggregateID = payoutID

	msg, err := testRouter(t).Resolve(ev)
	require.NoError(t, err)
	assert.Equal(t, "payout-events", msg.Topic)
	assert.Equal(t, ev.ID.String(), msg.Envelope.EventID)
	assert.Equal(t, payoutID, msg.Envelope.AggregateID)
	assert.Equal(t, ev.CreatedAt, msg.Envelope.OccurredAt)
	_, hasRequest := msg.Attributes()["request_id"]
	assert.False(t, hasRequest)
}

func TestResolveRejectsUnpublishableRows(t *testing.T) {
	r := testRouter(t)
	valid := func() models.OutboxEvent {
		id := uuid.New()
		return row(t, enums.EventOrderPaid, outbox.PayloadEnvelope{Version: 2, AggregateID: id}, payloads.OrderPaidEvent{OrderID: id})
	}

	cases := map[string]func(*models.OutboxEvent){
		"unknown type":       func(e *models.OutboxEvent) { e.EventType = "ad_clicked" },
		"wrong aggregate":    func(e *models.OutboxEvent) { e.AggregateType = enums.AggregatePayout },
		"no aggregate id":    func(e *models.OutboxEvent) { e.AggregateID = uuid.Nil },
		"not json":           func(e *models.OutboxEvent) { e.Payload = json.RawMessage(`{"version":`) },
		"future version":     func(e *models.OutboxEvent) { e.Payload = json.RawMessage(`{"version":9,"data":{}}`) },
		"null data":          func(e *models.OutboxEvent) { e.Payload = json.RawMessage(`{"version":2,"data":null}`) },
		"type disagreement":  func(e *models.OutboxEvent) { e.Payload = json.RawMessage(`{"version":2,"eventType":"order_created","data":{}}`) },
		"aggregate mismatch": func(e *models.OutboxEvent) { e.AggregateID = uuid.New() },
		"bad data":           func(e *models.OutboxEvent) { e.Payload = json.RawMessage(`{"version":2,"data":{"amount_cents":"ten"}}`) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			ev := valid()
			mutate(&ev)
			_, err := r.Resolve(ev)
			require.Error(t, err)
			assert.True(t, IsPermanent(err), "expected permanent error, got %v", err)
		})
	}
}

func TestNewRouterRequiresBothTopics(t *testing.T) {
	_, err := NewRouter(config.PubSubConfig{OrdersTopic: "orders", PayoutsTopic: " "})
	assert.Error(t, err)
}

func TestTopicsDeduplicated(t *testing.T) {
	r, err := NewRouter(config.PubSubConfig{OrdersTopic: "events", PayoutsTopic: "events"})
	require.NoError(t, err)
	assert.Equal(t, []string{"events"}, r.Topics())
	assert.Equal(t, []string{"order-events", "payout-events"}, testRouter(t).Topics())
}

func TestPermanentWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Permanent(cause)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsPermanent(err))
	assert.False(t, IsPermanent(cause))
	assert.NoError(t, Permanent(nil))
}
