package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
)

// IntentRepository persists PaymentIntentRecords. Every method runs on the
// caller's transaction.
type IntentRepository struct{}

func NewIntentRepository() *IntentRepository {
	return &IntentRepository{}
}

// Active returns the order's current session record, or nil when none exists.
func (r *IntentRepository) Active(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.PaymentIntentRecord, error) {
	var intent models.PaymentIntentRecord
	err := tx.WithContext(ctx).
		Where("order_id = ? AND superseded_at IS NULL", orderID).
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}

// FindBySession returns the record for a session id, or nil.
func (r *IntentRepository) FindBySession(ctx context.Context, tx *gorm.DB, sessionID string) (*models.PaymentIntentRecord, error) {
	var intent models.PaymentIntentRecord
	err := tx.WithContext(ctx).
		Where("external_session_id = ?", sessionID).
		First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &intent, nil
}

func (r *IntentRepository) Create(ctx context.Context, tx *gorm.DB, intent *models.PaymentIntentRecord) error {
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	return tx.WithContext(ctx).Create(intent).Error
}

// Supersede retires the record so a new session can become active.
func (r *IntentRepository) Supersede(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return tx.WithContext(ctx).
		Model(&models.PaymentIntentRecord{}).
		Where("id = ? AND superseded_at IS NULL", id).
		Update("superseded_at", at).Error
}

// RecordStatus stores the last status the processor reported for a session.
func (r *IntentRepository) RecordStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status enums.PaymentIntentStatus, paymentRef string) error {
	updates := map[string]any{"last_known_status": status}
	if paymentRef != "" {
		updates["external_payment_reference"] = paymentRef
	}
	return tx.WithContext(ctx).
		Model(&models.PaymentIntentRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// CountForOrder returns how many sessions, active or superseded, the order has had.
func (r *IntentRepository) CountForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).
		Model(&models.PaymentIntentRecord{}).
		Where("order_id = ?", orderID).
		Count(&count).Error
	return count, err
}
