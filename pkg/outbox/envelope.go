package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
)

// EnvelopeVersion is bumped when the envelope shape changes, not the payload.
const EnvelopeVersion = 2

// ActorRef is the customer, vendor or admin whose request caused the event.
// System-initiated events (webhooks, cron) carry no actor.
type ActorRef struct {
	UserID   uuid.UUID  `json:"userId"`
	VendorID *uuid.UUID `json:"vendorId,omitempty"`
	Role     string     `json:"role,omitempty"`
}

func ActorFrom(p auth.Principal) *ActorRef {
	if p.UserID == uuid.Nil {
		return nil
	}
	return &ActorRef{UserID: p.UserID, VendorID: p.VendorID, Role: string(p.Role)}
}

// PayloadEnvelope is what outbox_events.payload holds and what subscribers
// receive as the message body. Data is the event-specific payload.
type PayloadEnvelope struct {
	Version       int                       `json:"version"`
	EventID       string                    `json:"eventId"`
	EventType     enums.OutboxEventType     `json:"eventType"`
	AggregateType enums.OutboxAggregateType `json:"aggregateType"`
	AggregateID   uuid.UUID                 `json:"aggregateId"`
	OccurredAt    time.Time                 `json:"occurredAt"`
	RequestID     string                    `json:"requestId,omitempty"`
	Actor         *ActorRef                 `json:"actor,omitempty"`
	Data          json.RawMessage           `json:"data"`
}
