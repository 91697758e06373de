package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
)

// LedgerEvent records an immutable money lifecycle event tied to an order or payout.
type LedgerEvent struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     *uuid.UUID            `gorm:"column:order_id;type:uuid"`
	VendorID    *uuid.UUID            `gorm:"column:vendor_id;type:uuid"`
	PayoutID    *uuid.UUID            `gorm:"column:payout_id;type:uuid"`
	Type        enums.LedgerEventType `gorm:"column:type;not null"`
	AmountCents int64                 `gorm:"column:amount_cents;not null"`
	Currency    string                `gorm:"column:currency;not null"`
	Metadata    json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
}
