package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
)

// VendorAccount caches a vendor's connected-account state at the processor.
type VendorAccount struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	VendorID          uuid.UUID              `gorm:"column:vendor_id;type:uuid;not null;uniqueIndex"`
	ExternalAccountID *string                `gorm:"column:external_account_id"`
	OnboardingStatus  enums.OnboardingStatus `gorm:"column:onboarding_status;not null"`
	ChargesEnabled    bool                   `gorm:"column:charges_enabled;not null;default:false"`
	PayoutsEnabled    bool                   `gorm:"column:payouts_enabled;not null;default:false"`
	DetailsSubmitted  bool                   `gorm:"column:details_submitted;not null;default:false"`
	DisabledReason    *string                `gorm:"column:disabled_reason"`
	LastSyncedAt      *time.Time             `gorm:"column:last_synced_at"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
