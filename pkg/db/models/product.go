package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
)

// Product is the catalog collaborator's listing. Only the fields the order
// splitter trusts are mapped here.
type Product struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	VendorID       uuid.UUID           `gorm:"column:vendor_id;type:uuid;not null"`
	Name           string              `gorm:"column:name;not null"`
	UnitPriceCents int64               `gorm:"column:unit_price_cents;not null"`
	Status         enums.ProductStatus `gorm:"column:status;not null"`
	StockQuantity  int                 `gorm:"column:stock_quantity;not null"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
