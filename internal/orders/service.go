package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/locks"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/processor"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// StockStore is the catalog collaborator as seen by the order core.
type StockStore interface {
	FindProducts(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
	Decrement(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
	Restore(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

// AddressBook yields immutable shipping address snapshots.
type AddressBook interface {
	Snapshot(ctx context.Context, tx *gorm.DB, customerID, addressID uuid.UUID) (types.Address, error)
}

// Refunder issues processor refunds for paid orders cancelled by an admin.
type Refunder interface {
	Refund(ctx context.Context, in processor.RefundInput) (string, error)
}

type ServiceParams struct {
	Repository *Repository
	DB         txRunner
	Locker     locks.Locker
	Outbox     outboxPublisher
	Stock      StockStore
	Addresses  AddressBook
	Refunds    Refunder
	Logger     *logger.Logger
	Currency   string
}

type Service struct {
	repo      *Repository
	db        txRunner
	locker    locks.Locker
	outbox    outboxPublisher
	stock     StockStore
	addresses AddressBook
	refunds   Refunder
	logg      *logger.Logger
	currency  string
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Locker == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order locker required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Stock == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stock store required")
	}
	if params.Addresses == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "address book required")
	}
	if params.Refunds == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refund gateway required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		repo:      params.Repository,
		db:        params.DB,
		locker:    params.Locker,
		outbox:    params.Outbox,
		stock:     params.Stock,
		addresses: params.Addresses,
		refunds:   params.Refunds,
		logg:      params.Logger,
		currency:  currency,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Get returns the caller's order with its items. Admins may read any order.
func (s *Service) Get(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*models.Order, error) {
	if err := principal.RequireCustomer(); err != nil {
		return nil, err
	}
	var order *models.Order
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if principal.IsAdmin() {
			order, err = s.repo.Find(ctx, tx, orderID)
		} else {
			order, err = s.repo.FindOwned(ctx, tx, principal.UserID, orderID)
		}
		return err
	})
	return order, err
}

// CancelResult reports what a cancellation did.
type CancelResult struct {
	Order    *models.Order
	RefundID string
}

// Cancel cancels an order that has not started fulfillment. Customers may
// cancel their own PENDING orders; admins may also cancel PAID orders, which
// issues a full refund first.
func (s *Service) Cancel(ctx context.Context, principal auth.Principal, orderID uuid.UUID, reason string) (*CancelResult, error) {
	if err := principal.RequireCustomer(); err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	unlock, err := s.locker.Lock(ctx, locks.OrderKey(orderID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlock() }()

	var order *models.Order
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if principal.IsAdmin() {
			order, err = s.repo.Find(ctx, tx, orderID)
		} else {
			order, err = s.repo.FindOwned(ctx, tx, principal.UserID, orderID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	switch {
	case order.Status == enums.OrderStatusPending:
	case order.Status == enums.OrderStatusPaid && principal.IsAdmin():
	default:
		if err := ValidateOrderTransition(order.Status, enums.OrderStatusCancelled); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order in status %s cannot be cancelled by %s", order.Status, principal.Role)).
			WithReason(pkgerrors.ReasonInvalidOrderState)
	}

	result := &CancelResult{}
	refund := order.PaymentStatus == enums.PaymentStatusPaid
	if refund {
		if order.ExternalPaymentReference == nil {
			return nil, pkgerrors.New(pkgerrors.CodeIntegrity, "paid order has no payment reference").
				WithReason(pkgerrors.ReasonInvalidOrderState)
		}
		refundID, err := s.refunds.Refund(ctx, processor.RefundInput{
			PaymentReference: *order.ExternalPaymentReference,
			AmountCents:      order.TotalCents,
			IdempotencyKey:   "refund_" + order.ID.String(),
		})
		if err != nil {
			return nil, err
		}
		result.RefundID = refundID
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.repo.Find(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := s.CancelInTx(ctx, tx, current); err != nil {
			return err
		}
		order = current
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCanceled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         outbox.ActorFrom(principal),
			Data: payloads.OrderCanceledEvent{
				OrderID:    order.ID,
				CustomerID: order.CustomerID,
				CanceledAt: *order.CanceledAt,
				Refunded:   refund,
				Reason:     reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithActorRole(ctx, string(principal.Role)), "order cancelled")
	result.Order = order
	return result, nil
}

// CancelInTx cancels every item that has not shipped, restores its stock and
// marks the order CANCELLED. Callers hold the order lock.
func (s *Service) CancelInTx(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	now := s.now()
	for i := range order.Items {
		item := &order.Items[i]
		if item.Status == enums.OrderItemStatusCancelled ||
			item.Status == enums.OrderItemStatusShipped ||
			item.Status == enums.OrderItemStatusDelivered {
			continue
		}
		if err := s.stock.Restore(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
		if err := s.repo.UpdateItem(ctx, tx, item.ID, map[string]any{"status": enums.OrderItemStatusCancelled}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel order item")
		}
		item.Status = enums.OrderItemStatusCancelled
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil
	}
	order.Status = enums.OrderStatusCancelled
	order.CanceledAt = &now
	if err := s.repo.UpdateOrder(ctx, tx, order.ID, map[string]any{
		"status":      enums.OrderStatusCancelled,
		"canceled_at": now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel order")
	}
	return nil
}

// FulfillmentInput is a vendor's request to advance one order item.
type FulfillmentInput struct {
	ItemID         uuid.UUID
	Status         enums.OrderItemStatus
	TrackingNumber *string
}

// FulfillmentResult is the item after the update with the re-rolled order status.
type FulfillmentResult struct {
	Item        models.OrderItem
	OrderStatus enums.OrderStatus
	Changed     bool
}

// UpdateItemStatus advances an item one fulfillment step on behalf of the
// owning vendor and rolls the order status up.
func (s *Service) UpdateItemStatus(ctx context.Context, principal auth.Principal, input FulfillmentInput) (*FulfillmentResult, error) {
	vendorID, err := principal.RequireVendor()
	if err != nil {
		return nil, err
	}
	if input.Status == enums.OrderItemStatusCancelled || input.Status == enums.OrderItemStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status must be PROCESSING, SHIPPED or DELIVERED")
	}

	var orderID uuid.UUID
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		item, err := s.repo.FindItem(ctx, tx, input.ItemID)
		if err != nil {
			return err
		}
		if item.VendorID != vendorID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}
		orderID = item.OrderID
		return nil
	})
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(s.logg.WithVendorID(ctx, vendorID.String()), orderID.String())

	unlock, err := s.locker.Lock(ctx, locks.OrderKey(orderID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlock() }()

	result := &FulfillmentResult{}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.repo.Find(ctx, tx, orderID)
		if err != nil {
			return err
		}
		idx := -1
		for i := range order.Items {
			if order.Items[i].ID == input.ItemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}
		item := &order.Items[idx]
		from := item.Status

		if err := ValidateItemTransition(from, input.Status); err != nil {
			return err
		}
		if from == input.Status {
			result.Item = *item
			result.OrderStatus = order.Status
			return nil
		}
		if order.Status == enums.OrderStatusCancelled || order.PaymentStatus != enums.PaymentStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not paid; fulfillment cannot start").
				WithReason(pkgerrors.ReasonInvalidOrderState)
		}

		now := s.now()
		updates := map[string]any{"status": input.Status}
		switch input.Status {
		case enums.OrderItemStatusShipped:
			updates["shipped_at"] = now
			item.ShippedAt = &now
			if input.TrackingNumber != nil && strings.TrimSpace(*input.TrackingNumber) != "" {
				tracking := strings.TrimSpace(*input.TrackingNumber)
				updates["tracking_number"] = tracking
				item.TrackingNumber = &tracking
			}
		case enums.OrderItemStatusDelivered:
			updates["delivered_at"] = now
			item.DeliveredAt = &now
		}
		if err := s.repo.UpdateItem(ctx, tx, item.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order item")
		}
		item.Status = input.Status

		changed, err := Advance(order)
		if err != nil {
			return err
		}
		if changed {
			if err := s.repo.UpdateOrder(ctx, tx, order.ID, map[string]any{"status": order.Status}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
			}
		}
		if !order.CheckTotals() {
			return pkgerrors.New(pkgerrors.CodeIntegrity, "order totals do not reconcile").
				WithReason(pkgerrors.ReasonAmountMismatch)
		}

		result.Item = *item
		result.OrderStatus = order.Status
		result.Changed = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderItemStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: principal.UserID, VendorID: &vendorID, Role: string(principal.Role)},
			Data: payloads.OrderItemStatusChangedEvent{
				OrderID:        order.ID,
				OrderItemID:    item.ID,
				VendorID:       vendorID,
				From:           from,
				To:             item.Status,
				OrderStatus:    order.Status,
				TrackingNumber: item.TrackingNumber,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if result.Changed {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"order_item_id": input.ItemID.String(),
			"item_status":   result.Item.Status,
			"order_status":  result.OrderStatus,
		}), "order item advanced")
	}
	return result, nil
}
