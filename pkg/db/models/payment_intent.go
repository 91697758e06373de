package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
)

// PaymentIntentRecord binds an order to one hosted checkout session. A retried
// checkout supersedes the previous record instead of deleting it.
type PaymentIntentRecord struct {
	ID                       uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	OrderID                  uuid.UUID                 `gorm:"column:order_id;type:uuid;not null"`
	ExternalSessionID        string                    `gorm:"column:external_session_id;not null"`
	ExternalPaymentReference *string                   `gorm:"column:external_payment_reference"`
	AmountCents              int64                     `gorm:"column:amount_cents;not null"`
	Currency                 string                    `gorm:"column:currency;not null"`
	LastKnownStatus          enums.PaymentIntentStatus `gorm:"column:last_known_status;not null"`
	CheckoutURL              string                    `gorm:"column:checkout_url;not null"`
	SupersededAt             *time.Time                `gorm:"column:superseded_at"`
	CreatedAt                time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentIntentRecord) TableName() string { return "payment_intents" }

// Active reports whether this is the order's current session.
func (p PaymentIntentRecord) Active() bool {
	return p.SupersededAt == nil
}
