package orders

import (
	"fmt"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
)

// transitionError names both states so callers can report the rejected move.
func transitionError(kind string, current, requested fmt.Stringer) error {
	return pkgerrors.New(
		pkgerrors.CodeStateConflict,
		fmt.Sprintf("%s cannot move from %s to %s", kind, current, requested),
	).WithReason(pkgerrors.ReasonInvalidStateTransition).
		WithDetails(map[string]any{"current": current.String(), "requested": requested.String()})
}

// ValidateOrderTransition enforces the order chain
// PENDING -> PAID -> PROCESSING -> SHIPPED -> DELIVERED. Forward moves may
// skip steps; CANCELLED is only reachable from PENDING or PAID. Staying in the
// same state is allowed and is a no-op for callers.
func ValidateOrderTransition(from, to enums.OrderStatus) error {
	if !to.IsValid() {
		return transitionError("order", from, to)
	}
	if from == to {
		return nil
	}
	if from == enums.OrderStatusCancelled {
		return transitionError("order", from, to)
	}
	if to == enums.OrderStatusCancelled {
		if from == enums.OrderStatusPending || from == enums.OrderStatusPaid {
			return nil
		}
		return transitionError("order", from, to)
	}
	if to.Rank() <= from.Rank() {
		return transitionError("order", from, to)
	}
	return nil
}

// ValidateItemTransition enforces single forward steps for vendor fulfillment.
// Items that have not shipped may be cancelled.
func ValidateItemTransition(from, to enums.OrderItemStatus) error {
	if !to.IsValid() {
		return transitionError("order item", from, to)
	}
	if from == to {
		return nil
	}
	if to == enums.OrderItemStatusCancelled {
		if from == enums.OrderItemStatusPending || from == enums.OrderItemStatusProcessing {
			return nil
		}
		return transitionError("order item", from, to)
	}
	next, ok := from.Next()
	if !ok || next != to {
		return transitionError("order item", from, to)
	}
	return nil
}

// Rollup derives the order status from payment and item state: PENDING until
// paid, then the coarsest live item status with PAID as the floor. An order
// whose items are all cancelled is CANCELLED.
func Rollup(paymentStatus enums.PaymentStatus, items []models.OrderItem) enums.OrderStatus {
	live := 0
	coarsest := enums.OrderStatusDelivered
	for _, item := range items {
		if item.Status == enums.OrderItemStatusCancelled {
			continue
		}
		live++
		status := item.Status.OrderStatus()
		if status == enums.OrderStatusPending {
			status = enums.OrderStatusPaid
		}
		if status.Rank() < coarsest.Rank() {
			coarsest = status
		}
	}
	if len(items) > 0 && live == 0 {
		return enums.OrderStatusCancelled
	}
	if paymentStatus != enums.PaymentStatusPaid {
		return enums.OrderStatusPending
	}
	if live == 0 {
		return enums.OrderStatusPaid
	}
	return coarsest
}

// Advance moves order.Status forward to its rollup. A rollup that would move
// backward leaves the order untouched. It reports whether the status changed.
func Advance(order *models.Order) (bool, error) {
	if order.Status == enums.OrderStatusCancelled {
		return false, nil
	}
	target := Rollup(order.PaymentStatus, order.Items)
	if target == order.Status {
		return false, nil
	}
	if target != enums.OrderStatusCancelled && target.Rank() < order.Status.Rank() {
		return false, nil
	}
	if err := ValidateOrderTransition(order.Status, target); err != nil {
		return false, err
	}
	order.Status = target
	return true, nil
}
