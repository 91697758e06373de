package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
)

// WebhookEventLog is an append-only record of every inbound processor event.
// (provider, external_event_id) is unique across all non-duplicate outcomes.
type WebhookEventLog struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Provider        string               `gorm:"column:provider;not null"`
	ExternalEventID string               `gorm:"column:external_event_id;not null"`
	EventType       string               `gorm:"column:event_type;not null"`
	OrderID         *uuid.UUID           `gorm:"column:order_id;type:uuid"`
	Outcome         enums.WebhookOutcome `gorm:"column:outcome;not null"`
	Detail          *string              `gorm:"column:detail"`
	ReceivedAt      time.Time            `gorm:"column:received_at;not null"`
}
