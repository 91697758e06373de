package outbox

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

func TestEmitWritesEnvelopeInTransaction(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	orderID := uuid.New()

	customer := uuid.New()
	ctx := logger.New(logger.Options{Output: io.Discard}).WithRequestID(context.Background(), "req-42")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         ActorFrom(auth.Principal{UserID: customer, Role: enums.MemberRoleCustomer}),
			Data:          map[string]any{"order_id": orderID},
		})
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	var rows []models.OutboxEvent
	if err := client.DB().Find(&rows).Error; err != nil {
		t.Fatalf("load rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row got %d", len(rows))
	}
	var envelope PayloadEnvelope
	if err := json.Unmarshal(rows[0].Payload, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Version != EnvelopeVersion || envelope.EventID == "" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
	if envelope.EventType != enums.EventOrderPaid || envelope.AggregateID != orderID {
		t.Fatalf("envelope lost its aggregate: %+v", envelope)
	}
	if envelope.RequestID != "req-42" {
		t.Fatalf("expected request id on envelope, got %q", envelope.RequestID)
	}
	if envelope.Actor == nil || envelope.Actor.UserID != customer {
		t.Fatalf("expected customer actor, got %+v", envelope.Actor)
	}
}

func TestEmitRollsBackWithCaller(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)

	_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		}); err != nil {
			t.Fatalf("emit: %v", err)
		}
		return gorm.ErrInvalidData
	})

	var count int64
	client.DB().Model(&models.OutboxEvent{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected rollback, found %d rows", count)
	}
}

func TestEmitRejectsUnknownType(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)
	err := svc.Emit(context.Background(), client.DB(), DomainEvent{EventType: "nope", AggregateID: uuid.New()})
	if err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestEmitRejectsEventOnWrongAggregate(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)
	err := svc.Emit(context.Background(), client.DB(), DomainEvent{
		EventType:     enums.EventPayoutPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Data:          struct{}{},
	})
	if err == nil {
		t.Fatal("payout event on an order aggregate must be rejected")
	}
}

func TestActorFromAnonymousPrincipal(t *testing.T) {
	if ActorFrom(auth.Principal{}) != nil {
		t.Fatal("expected nil actor for zero principal")
	}
	vendor := uuid.New()
	actor := ActorFrom(auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleVendor, VendorID: &vendor})
	if actor.VendorID == nil || *actor.VendorID != vendor {
		t.Fatalf("expected vendor carried on actor, got %+v", actor)
	}
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	db := client.DB()

	old := time.Now().UTC().Add(-48 * time.Hour)
	published := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), PublishedAt: &old}
	pending := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	exhausted := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), AttemptCount: 5}
	for _, row := range []models.OutboxEvent{published, pending, exhausted} {
		if err := repo.Insert(db, row); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != pending.ID {
		t.Fatalf("expected only the pending row, got %+v", rows)
	}

	if err := repo.MarkFailedTx(db, pending.ID, gorm.ErrInvalidData); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	var reloaded models.OutboxEvent
	db.First(&reloaded, "id = ?", pending.ID)
	if reloaded.AttemptCount != 1 || reloaded.LastError == nil {
		t.Fatalf("expected failure recorded, got %+v", reloaded)
	}

	deleted, err := repo.DeletePublishedBefore(context.Background(), db, time.Now().UTC().Add(-24*time.Hour), 100)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted row got %d", deleted)
	}

	parked, err := repo.CountParked(context.Background(), db, 5)
	if err != nil {
		t.Fatalf("count parked: %v", err)
	}
	if parked != 1 {
		t.Fatalf("expected the exhausted row parked, got %d", parked)
	}
}
