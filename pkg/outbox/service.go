package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

// DomainEvent is an order or payout state change to be published after the
// surrounding transaction commits.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	OccurredAt    time.Time
}

type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit writes the event row on tx. It never opens its own transaction: an
// event without the state change it announces must not exist.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("outbox emit requires the caller's transaction")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validate(event); err != nil {
		return err
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.EventType, err)
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	envelope := PayloadEnvelope{
		Version:       EnvelopeVersion,
		EventID:       uuid.NewString(),
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		OccurredAt:    occurred.UTC(),
		RequestID:     logger.RequestIDFrom(ctx),
		Actor:         event.Actor,
		Data:          data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if err := s.repo.Insert(tx, models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       body,
	}); err != nil {
		return fmt.Errorf("queue %s: %w", event.EventType, err)
	}

	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"event_id":       envelope.EventID,
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
	}), "outbox event queued")
	return nil
}

func validate(event DomainEvent) error {
	switch {
	case !event.EventType.IsValid():
		return fmt.Errorf("unknown outbox event type %q", event.EventType)
	case event.AggregateType != event.EventType.Aggregate():
		return fmt.Errorf("%s belongs to %s aggregates, got %q", event.EventType, event.EventType.Aggregate(), event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return fmt.Errorf("%s has no aggregate id", event.EventType)
	case event.Data == nil:
		return fmt.Errorf("%s has no payload", event.EventType)
	}
	return nil
}
