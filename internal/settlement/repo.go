package settlement

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
)

// Repository persists vendor accounts and payouts against the handle it is
// given.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// CoveredItem is an order item as seen by payout eligibility checks.
type CoveredItem struct {
	OrderItemID   uuid.UUID             `gorm:"column:order_item_id"`
	OrderID       uuid.UUID             `gorm:"column:order_id"`
	VendorID      uuid.UUID             `gorm:"column:vendor_id"`
	Status        enums.OrderItemStatus `gorm:"column:status"`
	SubtotalCents int64                 `gorm:"column:subtotal_cents"`
	PaymentStatus enums.PaymentStatus   `gorm:"column:payment_status"`
	Currency      string                `gorm:"column:currency"`
}

func (r *Repository) FindVendorAccount(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID) (*models.VendorAccount, error) {
	var account models.VendorAccount
	err := tx.WithContext(ctx).Where("vendor_id = ?", vendorID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load vendor account")
	}
	return &account, nil
}

// SaveVendorAccount inserts or updates the cached account row.
func (r *Repository) SaveVendorAccount(ctx context.Context, tx *gorm.DB, account *models.VendorAccount) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
		if err := tx.WithContext(ctx).Create(account).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create vendor account")
		}
		return nil
	}
	if err := tx.WithContext(ctx).Save(account).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update vendor account")
	}
	return nil
}

// ListLinkedVendors pages through vendors that have a connected account,
// ordered by vendor id.
func (r *Repository) ListLinkedVendors(ctx context.Context, tx *gorm.DB, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := tx.WithContext(ctx).
		Model(&models.VendorAccount{}).
		Where("external_account_id IS NOT NULL AND vendor_id > ?", after).
		Order("vendor_id ASC").
		Limit(limit).
		Pluck("vendor_id", &ids).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list linked vendors")
	}
	return ids, nil
}

// ListPayoutReadyVendors pages through vendors whose accounts accept payouts.
func (r *Repository) ListPayoutReadyVendors(ctx context.Context, tx *gorm.DB, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := tx.WithContext(ctx).
		Model(&models.VendorAccount{}).
		Where("payouts_enabled = ? AND vendor_id > ?", true, after).
		Order("vendor_id ASC").
		Limit(limit).
		Pluck("vendor_id", &ids).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payout-ready vendors")
	}
	return ids, nil
}

func coveredItemQuery(ctx context.Context, tx *gorm.DB) *gorm.DB {
	return tx.WithContext(ctx).
		Table("order_items AS oi").
		Select("oi.id AS order_item_id, oi.order_id, oi.vendor_id, oi.status, oi.subtotal_cents, o.payment_status, o.currency").
		Joins("JOIN orders AS o ON o.id = oi.order_id")
}

// UncoveredDeliveredItems returns the vendor's delivered items on paid orders
// that no live payout covers yet.
func (r *Repository) UncoveredDeliveredItems(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID, currency string) ([]CoveredItem, error) {
	live := tx.Table("payout_items AS pi").
		Select("pi.order_item_id").
		Joins("JOIN payouts AS p ON p.id = pi.payout_id").
		Where("p.status <> ?", enums.PayoutStatusFailed)

	var items []CoveredItem
	err := coveredItemQuery(ctx, tx).
		Where("oi.vendor_id = ? AND oi.status = ? AND o.payment_status = ? AND o.currency = ?",
			vendorID, enums.OrderItemStatusDelivered, enums.PaymentStatusPaid, currency).
		Where("oi.id NOT IN (?)", live).
		Order("oi.order_id ASC").Order("oi.id ASC").
		Scan(&items).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payable items")
	}
	return items, nil
}

// CoveredItems loads the current state of the given order items.
func (r *Repository) CoveredItems(ctx context.Context, tx *gorm.DB, itemIDs []uuid.UUID) (map[uuid.UUID]CoveredItem, error) {
	var rows []CoveredItem
	if len(itemIDs) > 0 {
		if err := coveredItemQuery(ctx, tx).Where("oi.id IN ?", itemIDs).Scan(&rows).Error; err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load covered items")
		}
	}
	out := make(map[uuid.UUID]CoveredItem, len(rows))
	for _, row := range rows {
		out[row.OrderItemID] = row
	}
	return out, nil
}

// OtherLiveCovers returns, per order item, the ids of non-FAILED payouts other
// than payoutID that also cover it.
func (r *Repository) OtherLiveCovers(ctx context.Context, tx *gorm.DB, payoutID uuid.UUID, itemIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	type cover struct {
		OrderItemID uuid.UUID `gorm:"column:order_item_id"`
		PayoutID    uuid.UUID `gorm:"column:payout_id"`
	}
	var rows []cover
	if len(itemIDs) > 0 {
		err := tx.WithContext(ctx).
			Table("payout_items AS pi").
			Select("pi.order_item_id, pi.payout_id").
			Joins("JOIN payouts AS p ON p.id = pi.payout_id").
			Where("pi.order_item_id IN ? AND pi.payout_id <> ? AND p.status <> ?", itemIDs, payoutID, enums.PayoutStatusFailed).
			Scan(&rows).Error
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check payout coverage")
		}
	}
	out := make(map[uuid.UUID][]uuid.UUID, len(rows))
	for _, row := range rows {
		out[row.OrderItemID] = append(out[row.OrderItemID], row.PayoutID)
	}
	return out, nil
}

// CreatePayout inserts the payout and its covered items.
func (r *Repository) CreatePayout(ctx context.Context, tx *gorm.DB, payout *models.Payout) error {
	if err := tx.WithContext(ctx).Omit("Items").Create(payout).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payout")
	}
	if len(payout.Items) == 0 {
		return nil
	}
	if err := tx.WithContext(ctx).Create(&payout.Items).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payout items")
	}
	return nil
}

func (r *Repository) FindPayout(ctx context.Context, tx *gorm.DB, payoutID uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	err := tx.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_id ASC").Order("order_item_id ASC")
		}).
		Where("id = ?", payoutID).
		First(&payout).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payout")
	}
	return &payout, nil
}

func (r *Repository) UpdatePayout(ctx context.Context, tx *gorm.DB, payoutID uuid.UUID, updates map[string]any) error {
	if err := tx.WithContext(ctx).Model(&models.Payout{}).Where("id = ?", payoutID).Updates(updates).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payout")
	}
	return nil
}
