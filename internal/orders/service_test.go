package orders

import (
	"context"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-orchestrator/internal/address"
	"github.com/angelmondragon/marketplace-orchestrator/internal/catalog"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/locks"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/processor/processortest"
)

type harness struct {
	client  *db.Client
	svc     *Service
	gateway *processortest.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Open(t)
	gateway := &processortest.Fake{}
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	svc, err := NewService(ServiceParams{
		Repository: NewRepository(),
		DB:         client,
		Locker:     locks.NewArena(time.Second),
		Outbox:     outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Stock:      catalog.NewStore(),
		Addresses:  address.NewService(),
		Refunds:    gateway,
		Logger:     logg,
	})
	require.NoError(t, err)
	return &harness{client: client, svc: svc, gateway: gateway}
}

func customer() auth.Principal {
	return auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleCustomer}
}

func vendor(id uuid.UUID) auth.Principal {
	return auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleVendor, VendorID: &id}
}

func admin() auth.Principal {
	return auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleAdmin}
}

func stockOf(t *testing.T, h *harness, productID uuid.UUID) int {
	t.Helper()
	var product models.Product
	require.NoError(t, h.client.DB().First(&product, "id = ?", productID).Error)
	return product.StockQuantity
}

func countEvents(t *testing.T, h *harness, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func TestSplitAcrossVendors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := customer()
	vendorA, vendorB := uuid.New(), uuid.New()
	productA := dbtest.SeedProduct(t, h.client.DB(), vendorA, 1000, 5)
	productB := dbtest.SeedProduct(t, h.client.DB(), vendorB, 500, 5)
	addr := dbtest.SeedAddress(t, h.client.DB(), buyer.UserID)

	result, err := h.svc.Split(ctx, buyer, SplitInput{
		Lines: []SplitLine{
			{ProductID: productA.ID, Quantity: 2},
			{ProductID: productB.ID, Quantity: 1},
		},
		ShippingAddressID: addr.ID,
		ShippingCents:     300,
	})
	require.NoError(t, err)
	require.Equal(t, int64(2500), result.SubtotalCents)
	require.Equal(t, int64(2800), result.TotalCents)
	require.Len(t, result.Vendors, 2)

	byVendor := map[uuid.UUID]int64{}
	for _, v := range result.Vendors {
		byVendor[v.VendorID] = v.SubtotalCents
	}
	require.Equal(t, int64(2000), byVendor[vendorA])
	require.Equal(t, int64(500), byVendor[vendorB])

	order, err := h.svc.Get(ctx, buyer, result.OrderID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPending, order.Status)
	require.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	require.Len(t, order.Items, 2)
	require.True(t, order.CheckTotals())
	require.Equal(t, "Austin", order.ShippingAddress.City)

	require.Equal(t, 3, stockOf(t, h, productA.ID))
	require.Equal(t, 4, stockOf(t, h, productB.ID))
	require.Equal(t, int64(1), countEvents(t, h, enums.EventOrderCreated))
}

func TestSplitMergesRepeatedLines(t *testing.T) {
	h := newHarness(t)
	buyer := customer()
	product := dbtest.SeedProduct(t, h.client.DB(), uuid.New(), 250, 10)
	addr := dbtest.SeedAddress(t, h.client.DB(), buyer.UserID)

	result, err := h.svc.Split(context.Background(), buyer, SplitInput{
		Lines: []SplitLine{
			{ProductID: product.ID, Quantity: 1},
			{ProductID: product.ID, Quantity: 3},
		},
		ShippingAddressID: addr.ID,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1000), result.TotalCents)
	require.Equal(t, 6, stockOf(t, h, product.ID))
}

func TestSplitRejectsOversizedCart(t *testing.T) {
	h := newHarness(t)
	buyer := customer()
	product := dbtest.SeedProduct(t, h.client.DB(), uuid.New(), 250, 10)
	addr := dbtest.SeedAddress(t, h.client.DB(), buyer.UserID)

	cases := []struct {
		name  string
		input SplitInput
	}{
		{"merged lines past the cap", SplitInput{Lines: []SplitLine{
			{ProductID: product.ID, Quantity: MaxLineQuantity},
			{ProductID: product.ID, Quantity: 1},
		}}},
		{"line wrapping int", SplitInput{Lines: []SplitLine{
			{ProductID: product.ID, Quantity: math.MaxInt},
			{ProductID: product.ID, Quantity: math.MaxInt},
		}}},
		{"shipping past the cap", SplitInput{
			Lines:         []SplitLine{{ProductID: product.ID, Quantity: 1}},
			ShippingCents: MaxAdjustmentCents + 1,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.input.ShippingAddressID = addr.ID
			_, err := h.svc.Split(context.Background(), buyer, tc.input)
			require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err), "got %v", err)
		})
	}
	require.Equal(t, 10, stockOf(t, h, product.ID))
	require.Zero(t, countEvents(t, h, enums.EventOrderCreated))
}

func TestSplitOutOfStockLeavesNothingBehind(t *testing.T) {
	h := newHarness(t)
	buyer := customer()
	plenty := dbtest.SeedProduct(t, h.client.DB(), uuid.New(), 100, 10)
	scarce := dbtest.SeedProduct(t, h.client.DB(), uuid.New(), 100, 1)
	addr := dbtest.SeedAddress(t, h.client.DB(), buyer.UserID)

	_, err := h.svc.Split(context.Background(), buyer, SplitInput{
		Lines: []SplitLine{
			{ProductID: plenty.ID, Quantity: 2},
			{ProductID: scarce.ID, Quantity: 2},
		},
		ShippingAddressID: addr.ID,
	})
	require.Error(t, err)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonOutOfStock))
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	require.Equal(t, 1, details["line"])

	require.Equal(t, 10, stockOf(t, h, plenty.ID))
	var orders int64
	require.NoError(t, h.client.DB().Model(&models.Order{}).Count(&orders).Error)
	require.Zero(t, orders)
}

func TestSplitRejectsInactiveProduct(t *testing.T) {
	h := newHarness(t)
	buyer := customer()
	product := dbtest.SeedProduct(t, h.client.DB(), uuid.New(), 100, 10)
	require.NoError(t, h.client.DB().Model(&models.Product{}).Where("id = ?", product.ID).
		Update("status", enums.ProductStatusInactive).Error)
	addr := dbtest.SeedAddress(t, h.client.DB(), buyer.UserID)

	_, err := h.svc.Split(context.Background(), buyer, SplitInput{
		Lines:             []SplitLine{{ProductID: product.ID, Quantity: 1}},
		ShippingAddressID: addr.ID,
	})
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonProductUnavailable))
}

func TestSplitRequiresOwnedAddress(t *testing.T) {
	h := newHarness(t)
	buyer := customer()
	product := dbtest.SeedProduct(t, h.client.DB(), uuid.New(), 100, 10)
	someoneElse := dbtest.SeedAddress(t, h.client.DB(), uuid.New())

	_, err := h.svc.Split(context.Background(), buyer, SplitInput{
		Lines:             []SplitLine{{ProductID: product.ID, Quantity: 1}},
		ShippingAddressID: someoneElse.ID,
	})
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
	require.Equal(t, 10, stockOf(t, h, product.ID))
}

func TestSplitLastUnitRace(t *testing.T) {
	h := newHarness(t)
	product := dbtest.SeedProduct(t, h.client.DB(), uuid.New(), 100, 1)

	buyers := []auth.Principal{customer(), customer()}
	addrs := []uuid.UUID{
		dbtest.SeedAddress(t, h.client.DB(), buyers[0].UserID).ID,
		dbtest.SeedAddress(t, h.client.DB(), buyers[1].UserID).ID,
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range buyers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Split(context.Background(), buyers[i], SplitInput{
				Lines:             []SplitLine{{ProductID: product.ID, Quantity: 1}},
				ShippingAddressID: addrs[i],
			})
		}(i)
	}
	wg.Wait()

	succeeded, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case pkgerrors.HasReason(err, pkgerrors.ReasonOutOfStock),
			pkgerrors.HasReason(err, pkgerrors.ReasonConcurrentStockConflict):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, rejected)
	require.Equal(t, 0, stockOf(t, h, product.ID))
}

func TestCustomerCancelsPendingOrder(t *testing.T) {
	h := newHarness(t)
	buyer := customer()
	product := dbtest.SeedProduct(t, h.client.DB(), uuid.New(), 400, 3)
	addr := dbtest.SeedAddress(t, h.client.DB(), buyer.UserID)
	split, err := h.svc.Split(context.Background(), buyer, SplitInput{
		Lines:             []SplitLine{{ProductID: product.ID, Quantity: 2}},
		ShippingAddressID: addr.ID,
	})
	require.NoError(t, err)
	require.Equal(t, 1, stockOf(t, h, product.ID))

	result, err := h.svc.Cancel(context.Background(), buyer, split.OrderID, "changed my mind")
	require.NoError(t, err)
	require.Empty(t, result.RefundID)
	require.Equal(t, enums.OrderStatusCancelled, result.Order.Status)
	require.NotNil(t, result.Order.CanceledAt)
	require.Equal(t, 3, stockOf(t, h, product.ID))
	require.Empty(t, h.gateway.RefundInputs)
	require.Equal(t, int64(1), countEvents(t, h, enums.EventOrderCanceled))
}

func TestCustomerCannotCancelPaidOrder(t *testing.T) {
	h := newHarness(t)
	buyer := customer()
	order := dbtest.SeedOrder(t, h.client.DB(), dbtest.OrderSeed{
		CustomerID:       buyer.UserID,
		Status:           enums.OrderStatusPaid,
		PaymentStatus:    enums.PaymentStatusPaid,
		PaymentReference: "pi_paid",
		Items:            []dbtest.ItemSeed{{VendorID: uuid.New(), PriceCents: 1000}},
	})

	_, err := h.svc.Cancel(context.Background(), buyer, order.ID, "")
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
	require.Empty(t, h.gateway.RefundInputs)
}

func TestAdminCancelsPaidOrderWithRefund(t *testing.T) {
	h := newHarness(t)
	vendorID := uuid.New()
	product := dbtest.SeedProduct(t, h.client.DB(), vendorID, 1000, 0)
	order := dbtest.SeedOrder(t, h.client.DB(), dbtest.OrderSeed{
		Status:           enums.OrderStatusPaid,
		PaymentStatus:    enums.PaymentStatusPaid,
		PaymentReference: "pi_refund_me",
		ShippingCents:    200,
		Items:            []dbtest.ItemSeed{{VendorID: vendorID, ProductID: product.ID, PriceCents: 1000, Quantity: 2}},
	})

	result, err := h.svc.Cancel(context.Background(), admin(), order.ID, "fraud review")
	require.NoError(t, err)
	require.Equal(t, "re_test_1", result.RefundID)
	require.Len(t, h.gateway.RefundInputs, 1)
	refund := h.gateway.RefundInputs[0]
	require.Equal(t, "pi_refund_me", refund.PaymentReference)
	require.Equal(t, int64(2200), refund.AmountCents)
	require.Equal(t, "refund_"+order.ID.String(), refund.IdempotencyKey)
	require.Equal(t, enums.OrderStatusCancelled, result.Order.Status)
	require.Equal(t, 2, stockOf(t, h, product.ID))
}

func TestCancelShippedOrderIsRejected(t *testing.T) {
	h := newHarness(t)
	order := dbtest.SeedOrder(t, h.client.DB(), dbtest.OrderSeed{
		Status:        enums.OrderStatusShipped,
		PaymentStatus: enums.PaymentStatusPaid,
		Items:         []dbtest.ItemSeed{{VendorID: uuid.New(), PriceCents: 100, Status: enums.OrderItemStatusShipped}},
	})
	_, err := h.svc.Cancel(context.Background(), admin(), order.ID, "")
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidStateTransition))
}

func TestVendorFulfillmentRollsOrderUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	vendorA, vendorB := uuid.New(), uuid.New()
	order := dbtest.SeedOrder(t, h.client.DB(), dbtest.OrderSeed{
		Status:        enums.OrderStatusPaid,
		PaymentStatus: enums.PaymentStatusPaid,
		Items: []dbtest.ItemSeed{
			{VendorID: vendorA, PriceCents: 1000},
			{VendorID: vendorB, PriceCents: 500},
		},
	})
	itemA, itemB := order.Items[0].ID, order.Items[1].ID

	advance := func(vendorID, itemID uuid.UUID, status enums.OrderItemStatus) *FulfillmentResult {
		t.Helper()
		res, err := h.svc.UpdateItemStatus(ctx, vendor(vendorID), FulfillmentInput{ItemID: itemID, Status: status})
		require.NoError(t, err)
		return res
	}

	res := advance(vendorA, itemA, enums.OrderItemStatusProcessing)
	require.Equal(t, enums.OrderStatusPaid, res.OrderStatus)

	advance(vendorB, itemB, enums.OrderItemStatusProcessing)
	tracking := "1Z999"
	res, err := h.svc.UpdateItemStatus(ctx, vendor(vendorA), FulfillmentInput{
		ItemID: itemA, Status: enums.OrderItemStatusShipped, TrackingNumber: &tracking,
	})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusProcessing, res.OrderStatus)
	require.Equal(t, "1Z999", *res.Item.TrackingNumber)

	advance(vendorB, itemB, enums.OrderItemStatusShipped)
	advance(vendorA, itemA, enums.OrderItemStatusDelivered)
	res = advance(vendorB, itemB, enums.OrderItemStatusDelivered)
	require.Equal(t, enums.OrderStatusDelivered, res.OrderStatus)

	stored, err := h.svc.Get(ctx, admin(), order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusDelivered, stored.Status)
	require.Equal(t, int64(6), countEvents(t, h, enums.EventOrderItemStatusChanged))
}

func TestDeliveredItemCannotMoveBack(t *testing.T) {
	h := newHarness(t)
	vendorID := uuid.New()
	order := dbtest.SeedOrder(t, h.client.DB(), dbtest.OrderSeed{
		Status:        enums.OrderStatusDelivered,
		PaymentStatus: enums.PaymentStatusPaid,
		Items:         []dbtest.ItemSeed{{VendorID: vendorID, PriceCents: 100, Status: enums.OrderItemStatusDelivered}},
	})

	_, err := h.svc.UpdateItemStatus(context.Background(), vendor(vendorID), FulfillmentInput{
		ItemID: order.Items[0].ID,
		Status: enums.OrderItemStatusProcessing,
	})
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidStateTransition))
	typed := pkgerrors.As(err)
	details := typed.Details().(map[string]any)
	require.Equal(t, "DELIVERED", details["current"])
	require.Equal(t, "PROCESSING", details["requested"])
}

func TestFulfillmentRequiresPaidOrder(t *testing.T) {
	h := newHarness(t)
	vendorID := uuid.New()
	order := dbtest.SeedOrder(t, h.client.DB(), dbtest.OrderSeed{
		Items: []dbtest.ItemSeed{{VendorID: vendorID, PriceCents: 100}},
	})
	_, err := h.svc.UpdateItemStatus(context.Background(), vendor(vendorID), FulfillmentInput{
		ItemID: order.Items[0].ID,
		Status: enums.OrderItemStatusProcessing,
	})
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidOrderState))
}

func TestVendorCannotTouchAnotherVendorsItem(t *testing.T) {
	h := newHarness(t)
	order := dbtest.SeedOrder(t, h.client.DB(), dbtest.OrderSeed{
		Status:        enums.OrderStatusPaid,
		PaymentStatus: enums.PaymentStatusPaid,
		Items:         []dbtest.ItemSeed{{VendorID: uuid.New(), PriceCents: 100}},
	})
	_, err := h.svc.UpdateItemStatus(context.Background(), vendor(uuid.New()), FulfillmentInput{
		ItemID: order.Items[0].ID,
		Status: enums.OrderItemStatusProcessing,
	})
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestGetHidesOtherCustomersOrders(t *testing.T) {
	h := newHarness(t)
	order := dbtest.SeedOrder(t, h.client.DB(), dbtest.OrderSeed{
		Items: []dbtest.ItemSeed{{VendorID: uuid.New(), PriceCents: 100}},
	})
	_, err := h.svc.Get(context.Background(), customer(), order.ID)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonOrderNotFound))
}
