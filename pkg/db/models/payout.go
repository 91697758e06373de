package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
)

// Payout is one settlement batch transferred to a vendor's connected account.
type Payout struct {
	ID                 uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	VendorID           uuid.UUID          `gorm:"column:vendor_id;type:uuid;not null"`
	GrossCents         int64              `gorm:"column:gross_cents;not null"`
	FeeCents           int64              `gorm:"column:fee_cents;not null"`
	AmountCents        int64              `gorm:"column:amount_cents;not null"`
	Currency           string             `gorm:"column:currency;not null"`
	Status             enums.PayoutStatus `gorm:"column:status;not null"`
	Attempts           int                `gorm:"column:attempts;not null;default:0"`
	ExternalTransferID *string            `gorm:"column:external_transfer_id"`
	FailureReason      *string            `gorm:"column:failure_reason"`
	ProcessedAt        *time.Time         `gorm:"column:processed_at"`
	Items              []PayoutItem       `gorm:"foreignKey:PayoutID"`
	CreatedAt          time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// PayoutItem is one member of a payout's covered order item set.
type PayoutItem struct {
	PayoutID    uuid.UUID `gorm:"column:payout_id;type:uuid;primaryKey"`
	OrderItemID uuid.UUID `gorm:"column:order_item_id;type:uuid;primaryKey"`
	OrderID     uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	AmountCents int64     `gorm:"column:amount_cents;not null"`
}

// CoveredOrderIDs returns the distinct orders touched by the payout.
func (p *Payout) CoveredOrderIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(p.Items))
	ids := make([]uuid.UUID, 0, len(p.Items))
	for _, item := range p.Items {
		if _, ok := seen[item.OrderID]; ok {
			continue
		}
		seen[item.OrderID] = struct{}{}
		ids = append(ids, item.OrderID)
	}
	return ids
}
