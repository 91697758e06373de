// Package address resolves a customer's saved address into the immutable
// snapshot stored on an order.
package address

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/types"
)

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Snapshot copies the address owned by customerID. An address belonging to
// someone else is reported as not found.
func (s *Service) Snapshot(ctx context.Context, tx *gorm.DB, customerID, addressID uuid.UUID) (types.Address, error) {
	var row models.CustomerAddress
	err := tx.WithContext(ctx).
		Where("id = ? AND customer_id = ?", addressID, customerID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.Address{}, pkgerrors.New(pkgerrors.CodeNotFound, "shipping address not found")
		}
		return types.Address{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipping address")
	}

	snapshot := types.Address{
		RecipientName: row.RecipientName,
		Line1:         row.Line1,
		Line2:         row.Line2,
		City:          row.City,
		State:         row.State,
		PostalCode:    row.PostalCode,
		Country:       row.Country,
		Phone:         row.Phone,
	}
	if err := snapshot.Validate(); err != nil {
		return types.Address{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "shipping address incomplete")
	}
	return snapshot, nil
}
