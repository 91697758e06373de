package orders

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/locks"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox/payloads"
)

// Cart bounds. A merged line may not exceed MaxLineQuantity.
const (
	MaxLineQuantity    = 10_000
	MaxAdjustmentCents = 100_000_000
)

type SplitLine struct {
	ProductID uuid.UUID
	Quantity  int
}

type SplitInput struct {
	Lines             []SplitLine
	ShippingAddressID uuid.UUID
	ShippingCents     int64
	DiscountCents     int64
}

type VendorBreakdown struct {
	VendorID      uuid.UUID `json:"vendor_id"`
	SubtotalCents int64     `json:"subtotal_cents"`
	ItemCount     int       `json:"item_count"`
}

type SplitResult struct {
	OrderID       uuid.UUID         `json:"order_id"`
	SubtotalCents int64             `json:"subtotal_cents"`
	ShippingCents int64             `json:"shipping_cents"`
	DiscountCents int64             `json:"discount_cents"`
	TotalCents    int64             `json:"total_cents"`
	Currency      string            `json:"currency"`
	Vendors       []VendorBreakdown `json:"vendors"`
}

// Split turns cart lines into one PENDING order with one item per product
// line, priced from the catalog. Stock for every line is taken in the same
// transaction: either the whole order is created or nothing changes.
func (s *Service) Split(ctx context.Context, principal auth.Principal, input SplitInput) (*SplitResult, error) {
	if err := principal.RequireCustomer(); err != nil {
		return nil, err
	}
	lines, err := normalizeLines(input)
	if err != nil {
		return nil, err
	}

	orderID := uuid.New()
	ctx = s.logg.WithOrderID(s.logg.WithUserID(ctx, principal.UserID.String()), orderID.String())

	unlock, err := s.locker.Lock(ctx, locks.OrderKey(orderID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlock() }()

	var result *SplitResult
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		ids := make([]uuid.UUID, 0, len(lines))
		for _, line := range lines {
			ids = append(ids, line.ProductID)
		}
		products, err := s.stock.FindProducts(ctx, tx, ids)
		if err != nil {
			return err
		}

		order := &models.Order{
			ID:            orderID,
			CustomerID:    principal.UserID,
			Status:        enums.OrderStatusPending,
			PaymentStatus: enums.PaymentStatusPending,
			ShippingCents: input.ShippingCents,
			DiscountCents: input.DiscountCents,
			Currency:      s.currency,
		}

		breakdown := make([]VendorBreakdown, 0)
		vendorIndex := make(map[uuid.UUID]int)
		for i, line := range lines {
			product, ok := products[line.ProductID]
			if !ok || product.Status != enums.ProductStatusActive {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: product %s is unavailable", i, line.ProductID)).
					WithReason(pkgerrors.ReasonProductUnavailable).
					WithDetails(map[string]any{"line": i, "product_id": line.ProductID})
			}
			if product.StockQuantity < line.Quantity {
				return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("line %d: product %s has %d in stock, %d requested", i, product.ID, product.StockQuantity, line.Quantity)).
					WithReason(pkgerrors.ReasonOutOfStock).
					WithDetails(map[string]any{
						"line":       i,
						"product_id": product.ID,
						"available":  product.StockQuantity,
						"requested":  line.Quantity,
					})
			}

			subtotal := product.UnitPriceCents * int64(line.Quantity)
			order.Items = append(order.Items, models.OrderItem{
				ID:             uuid.New(),
				OrderID:        orderID,
				VendorID:       product.VendorID,
				ProductID:      product.ID,
				ProductName:    product.Name,
				UnitPriceCents: product.UnitPriceCents,
				Quantity:       line.Quantity,
				SubtotalCents:  subtotal,
				Status:         enums.OrderItemStatusPending,
			})
			order.SubtotalCents += subtotal

			idx, seen := vendorIndex[product.VendorID]
			if !seen {
				idx = len(breakdown)
				vendorIndex[product.VendorID] = idx
				breakdown = append(breakdown, VendorBreakdown{VendorID: product.VendorID})
			}
			breakdown[idx].SubtotalCents += subtotal
			breakdown[idx].ItemCount++
		}

		if input.DiscountCents > order.SubtotalCents+input.ShippingCents {
			return pkgerrors.New(pkgerrors.CodeValidation, "discount exceeds order value")
		}
		order.TotalCents = order.SubtotalCents + order.ShippingCents - order.DiscountCents
		if !order.CheckTotals() {
			return pkgerrors.New(pkgerrors.CodeIntegrity, "order totals do not reconcile").
				WithReason(pkgerrors.ReasonAmountMismatch)
		}

		snapshot, err := s.addresses.Snapshot(ctx, tx, principal.UserID, input.ShippingAddressID)
		if err != nil {
			return err
		}
		order.ShippingAddress = snapshot

		if err := s.repo.Create(ctx, tx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
		}

		// decrement in product id order so concurrent splits lock rows consistently
		sorted := append([]SplitLine(nil), lines...)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].ProductID.String() < sorted[j].ProductID.String()
		})
		for _, line := range sorted {
			if err := s.stock.Decrement(ctx, tx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}

		result = &SplitResult{
			OrderID:       order.ID,
			SubtotalCents: order.SubtotalCents,
			ShippingCents: order.ShippingCents,
			DiscountCents: order.DiscountCents,
			TotalCents:    order.TotalCents,
			Currency:      order.Currency,
			Vendors:       breakdown,
		}

		vendors := make([]payloads.VendorSubtotal, 0, len(breakdown))
		for _, b := range breakdown {
			vendors = append(vendors, payloads.VendorSubtotal{VendorID: b.VendorID, SubtotalCents: b.SubtotalCents})
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         outbox.ActorFrom(principal),
			Data: payloads.OrderCreatedEvent{
				OrderID:    order.ID,
				CustomerID: order.CustomerID,
				TotalCents: order.TotalCents,
				Currency:   order.Currency,
				Vendors:    vendors,
			},
		})
	})
	if err != nil {
		if pkgerrors.HasReason(err, pkgerrors.ReasonOutOfStock) || pkgerrors.HasReason(err, pkgerrors.ReasonConcurrentStockConflict) {
			s.logg.Warn(ctx, err.Error())
		}
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"total_cents":  result.TotalCents,
		"vendor_count": len(result.Vendors),
	}), "order created")
	return result, nil
}

// normalizeLines validates the cart and merges repeated products into one line.
func normalizeLines(input SplitInput) ([]SplitLine, error) {
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	if input.ShippingAddressID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping_address_id is required")
	}
	if input.ShippingCents < 0 || input.DiscountCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping and discount must not be negative")
	}
	if input.ShippingCents > MaxAdjustmentCents || input.DiscountCents > MaxAdjustmentCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("shipping and discount must not exceed %d cents", MaxAdjustmentCents))
	}
	merged := make([]SplitLine, 0, len(input.Lines))
	index := make(map[uuid.UUID]int, len(input.Lines))
	for i, line := range input.Lines {
		if line.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: product_id is required", i))
		}
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: quantity must be positive", i))
		}
		if line.Quantity > MaxLineQuantity {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: quantity must not exceed %d", i, MaxLineQuantity))
		}
		if at, ok := index[line.ProductID]; ok {
			if merged[at].Quantity > MaxLineQuantity-line.Quantity {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: combined quantity for product %s exceeds %d", i, line.ProductID, MaxLineQuantity))
			}
			merged[at].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}
