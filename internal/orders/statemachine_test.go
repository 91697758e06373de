package orders

import (
	"testing"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
)

func TestValidateOrderTransition(t *testing.T) {
	cases := []struct {
		from, to enums.OrderStatus
		ok       bool
	}{
		{enums.OrderStatusPending, enums.OrderStatusPaid, true},
		{enums.OrderStatusPaid, enums.OrderStatusShipped, true},
		{enums.OrderStatusPaid, enums.OrderStatusPaid, true},
		{enums.OrderStatusPending, enums.OrderStatusCancelled, true},
		{enums.OrderStatusPaid, enums.OrderStatusCancelled, true},
		{enums.OrderStatusProcessing, enums.OrderStatusCancelled, false},
		{enums.OrderStatusDelivered, enums.OrderStatusProcessing, false},
		{enums.OrderStatusCancelled, enums.OrderStatusPaid, false},
		{enums.OrderStatusPending, enums.OrderStatus("LOST"), false},
	}
	for _, tc := range cases {
		err := ValidateOrderTransition(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && !pkgerrors.HasReason(err, pkgerrors.ReasonInvalidStateTransition) {
			t.Fatalf("%s -> %s: expected invalid transition, got %v", tc.from, tc.to, err)
		}
	}
}

func TestValidateItemTransition(t *testing.T) {
	cases := []struct {
		from, to enums.OrderItemStatus
		ok       bool
	}{
		{enums.OrderItemStatusPending, enums.OrderItemStatusProcessing, true},
		{enums.OrderItemStatusProcessing, enums.OrderItemStatusShipped, true},
		{enums.OrderItemStatusShipped, enums.OrderItemStatusDelivered, true},
		{enums.OrderItemStatusPending, enums.OrderItemStatusShipped, false},
		{enums.OrderItemStatusDelivered, enums.OrderItemStatusProcessing, false},
		{enums.OrderItemStatusProcessing, enums.OrderItemStatusCancelled, true},
		{enums.OrderItemStatusShipped, enums.OrderItemStatusCancelled, false},
	}
	for _, tc := range cases {
		err := ValidateItemTransition(tc.from, tc.to)
		if (err == nil) != tc.ok {
			t.Fatalf("%s -> %s: ok=%v err=%v", tc.from, tc.to, tc.ok, err)
		}
	}
}

func items(statuses ...enums.OrderItemStatus) []models.OrderItem {
	out := make([]models.OrderItem, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, models.OrderItem{Status: s})
	}
	return out
}

func TestRollup(t *testing.T) {
	cases := []struct {
		name    string
		payment enums.PaymentStatus
		items   []models.OrderItem
		want    enums.OrderStatus
	}{
		{"unpaid", enums.PaymentStatusPending, items(enums.OrderItemStatusPending), enums.OrderStatusPending},
		{"paid floor", enums.PaymentStatusPaid, items(enums.OrderItemStatusPending, enums.OrderItemStatusShipped), enums.OrderStatusPaid},
		{"coarsest wins", enums.PaymentStatusPaid, items(enums.OrderItemStatusProcessing, enums.OrderItemStatusDelivered), enums.OrderStatusProcessing},
		{"all delivered", enums.PaymentStatusPaid, items(enums.OrderItemStatusDelivered, enums.OrderItemStatusDelivered), enums.OrderStatusDelivered},
		{"cancelled ignored", enums.PaymentStatusPaid, items(enums.OrderItemStatusCancelled, enums.OrderItemStatusShipped), enums.OrderStatusShipped},
		{"all cancelled", enums.PaymentStatusRefunded, items(enums.OrderItemStatusCancelled), enums.OrderStatusCancelled},
	}
	for _, tc := range cases {
		if got := Rollup(tc.payment, tc.items); got != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestAdvanceNeverMovesBackward(t *testing.T) {
	order := &models.Order{
		Status:        enums.OrderStatusShipped,
		PaymentStatus: enums.PaymentStatusPaid,
		Items:         items(enums.OrderItemStatusProcessing),
	}
	changed, err := Advance(order)
	if err != nil || changed {
		t.Fatalf("expected no change, got changed=%v err=%v", changed, err)
	}
	if order.Status != enums.OrderStatusShipped {
		t.Fatalf("status moved to %s", order.Status)
	}
}
