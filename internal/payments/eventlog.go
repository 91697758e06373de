package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/db"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
)

// ErrEventAlreadyRecorded is returned by Append when another delivery of the
// same event already holds the idempotency row.
var ErrEventAlreadyRecorded = errors.New("webhook event already recorded")

// EventRecord identifies the processor event that carried an outcome.
type EventRecord struct {
	Provider        string
	ExternalEventID string
	EventType       string
}

// EventLogRepository appends WebhookEventLog rows. Rows are never updated.
type EventLogRepository struct{}

func NewEventLogRepository() *EventLogRepository {
	return &EventLogRepository{}
}

// Seen reports whether a non-duplicate row exists for the event.
func (r *EventLogRepository) Seen(ctx context.Context, tx *gorm.DB, provider, eventID string) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&models.WebhookEventLog{}).
		Where("provider = ? AND external_event_id = ? AND outcome <> ?", provider, eventID, enums.WebhookOutcomeIgnoredDuplicate).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Append inserts one log row. A second non-duplicate row for the same event
// violates the partial unique index and yields ErrEventAlreadyRecorded.
func (r *EventLogRepository) Append(ctx context.Context, tx *gorm.DB, record EventRecord, orderID *uuid.UUID, outcome enums.WebhookOutcome, detail string) error {
	row := models.WebhookEventLog{
		ID:              uuid.New(),
		Provider:        record.Provider,
		ExternalEventID: record.ExternalEventID,
		EventType:       record.EventType,
		OrderID:         orderID,
		Outcome:         outcome,
		ReceivedAt:      time.Now().UTC(),
	}
	if detail != "" {
		row.Detail = &detail
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		if outcome != enums.WebhookOutcomeIgnoredDuplicate && db.IsUniqueViolation(err, "ux_webhook_event_logs_event") {
			return ErrEventAlreadyRecorded
		}
		return err
	}
	return nil
}

// List returns every row for an event in insertion order.
func (r *EventLogRepository) List(ctx context.Context, tx *gorm.DB, provider, eventID string) ([]models.WebhookEventLog, error) {
	var rows []models.WebhookEventLog
	err := tx.WithContext(ctx).
		Where("provider = ? AND external_event_id = ?", provider, eventID).
		Order("received_at ASC").
		Find(&rows).Error
	return rows, err
}
