package models

import (
	"time"

	"github.com/google/uuid"
)

// CustomerAddress is an address-book entry owned by the address collaborator.
type CustomerAddress struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID    uuid.UUID `gorm:"column:customer_id;type:uuid;not null"`
	RecipientName string    `gorm:"column:recipient_name;not null"`
	Line1         string    `gorm:"column:line1;not null"`
	Line2         *string   `gorm:"column:line2"`
	City          string    `gorm:"column:city;not null"`
	State         string    `gorm:"column:state;not null"`
	PostalCode    string    `gorm:"column:postal_code;not null"`
	Country       string    `gorm:"column:country;not null"`
	Phone         *string   `gorm:"column:phone"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
