package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
)

// Query selects ledger rows by subject and type. Zero fields are ignored.
type Query struct {
	OrderID  uuid.UUID
	PayoutID uuid.UUID
	Type     enums.LedgerEventType
}

// Repository is append-only: ledger rows are never updated or deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.LedgerEvent) error
	Exists(ctx context.Context, q Query) (bool, error)
	// TotalsByType sums amount_cents per event type for one order.
	TotalsByType(ctx context.Context, orderID uuid.UUID) (map[enums.LedgerEventType]int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.LedgerEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) Exists(ctx context.Context, q Query) (bool, error) {
	scope := r.db.WithContext(ctx).Model(&models.LedgerEvent{})
	if q.OrderID != uuid.Nil {
		scope = scope.Where("order_id = ?", q.OrderID)
	}
	if q.PayoutID != uuid.Nil {
		scope = scope.Where("payout_id = ?", q.PayoutID)
	}
	if q.Type != "" {
		scope = scope.Where("type = ?", q.Type)
	}
	var ids []uuid.UUID
	if err := scope.Limit(1).Pluck("id", &ids).Error; err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (r *repository) TotalsByType(ctx context.Context, orderID uuid.UUID) (map[enums.LedgerEventType]int64, error) {
	var rows []struct {
		Type  enums.LedgerEventType
		Total int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEvent{}).
		Select("type, COALESCE(SUM(amount_cents), 0) AS total").
		Where("order_id = ?", orderID).
		Group("type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	totals := make(map[enums.LedgerEventType]int64, len(rows))
	for _, row := range rows {
		totals[row.Type] = row.Total
	}
	return totals, nil
}
