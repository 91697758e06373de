package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/types"
)

// SeedProduct inserts an ACTIVE product.
func SeedProduct(t *testing.T, db *gorm.DB, vendorID uuid.UUID, priceCents int64, stock int) models.Product {
	t.Helper()
	product := models.Product{
		ID:             uuid.New(),
		VendorID:       vendorID,
		Name:           "Product " + uuid.NewString()[:8],
		UnitPriceCents: priceCents,
		Status:         enums.ProductStatusActive,
		StockQuantity:  stock,
	}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// SeedAddress inserts a complete address owned by customerID.
func SeedAddress(t *testing.T, db *gorm.DB, customerID uuid.UUID) models.CustomerAddress {
	t.Helper()
	row := models.CustomerAddress{
		ID:            uuid.New(),
		CustomerID:    customerID,
		RecipientName: "Test Customer",
		Line1:         "100 Congress Ave",
		City:          "Austin",
		State:         "TX",
		PostalCode:    "78701",
		Country:       "US",
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed address: %v", err)
	}
	return row
}

type ItemSeed struct {
	VendorID   uuid.UUID
	ProductID  uuid.UUID
	PriceCents int64
	Quantity   int
	Status     enums.OrderItemStatus
}

type OrderSeed struct {
	CustomerID       uuid.UUID
	Status           enums.OrderStatus
	PaymentStatus    enums.PaymentStatus
	ShippingCents    int64
	DiscountCents    int64
	SessionID        string
	PaymentReference string
	Items            []ItemSeed
}

// SeedOrder inserts an order with items whose totals reconcile. When a
// session id is given, an active payment intent record is created for it.
func SeedOrder(t *testing.T, db *gorm.DB, seed OrderSeed) *models.Order {
	t.Helper()
	if seed.CustomerID == uuid.Nil {
		seed.CustomerID = uuid.New()
	}
	if seed.Status == "" {
		seed.Status = enums.OrderStatusPending
	}
	if seed.PaymentStatus == "" {
		seed.PaymentStatus = enums.PaymentStatusPending
	}
	order := &models.Order{
		ID:            uuid.New(),
		CustomerID:    seed.CustomerID,
		Status:        seed.Status,
		PaymentStatus: seed.PaymentStatus,
		ShippingCents: seed.ShippingCents,
		DiscountCents: seed.DiscountCents,
		Currency:      "usd",
		ShippingAddress: types.Address{
			RecipientName: "Test Customer",
			Line1:         "100 Congress Ave",
			City:          "Austin",
			State:         "TX",
			PostalCode:    "78701",
			Country:       "US",
		},
	}
	if seed.SessionID != "" {
		order.ExternalSessionID = &seed.SessionID
	}
	if seed.PaymentReference != "" {
		order.ExternalPaymentReference = &seed.PaymentReference
	}
	if seed.PaymentStatus == enums.PaymentStatusPaid {
		now := time.Now().UTC()
		order.PaidAt = &now
	}
	for i, item := range seed.Items {
		if item.Status == "" {
			item.Status = enums.OrderItemStatusPending
		}
		if item.Quantity == 0 {
			item.Quantity = 1
		}
		if item.ProductID == uuid.Nil {
			item.ProductID = SeedProduct(t, db, item.VendorID, item.PriceCents, 0).ID
		}
		subtotal := item.PriceCents * int64(item.Quantity)
		order.Items = append(order.Items, models.OrderItem{
			ID:             uuid.New(),
			OrderID:        order.ID,
			VendorID:       item.VendorID,
			ProductID:      item.ProductID,
			ProductName:    "Seeded item",
			UnitPriceCents: item.PriceCents,
			Quantity:       item.Quantity,
			SubtotalCents:  subtotal,
			Status:         item.Status,
			CreatedAt:      time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		})
		order.SubtotalCents += subtotal
	}
	order.TotalCents = order.SubtotalCents + order.ShippingCents - order.DiscountCents
	if err := db.Omit("Items").Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if len(order.Items) > 0 {
		if err := db.Create(&order.Items).Error; err != nil {
			t.Fatalf("seed order items: %v", err)
		}
	}
	if seed.SessionID != "" {
		intent := models.PaymentIntentRecord{
			ID:                uuid.New(),
			OrderID:           order.ID,
			ExternalSessionID: seed.SessionID,
			AmountCents:       order.TotalCents,
			Currency:          order.Currency,
			LastKnownStatus:   enums.PaymentIntentStatusOpen,
			CheckoutURL:       "https://checkout.example.test/" + seed.SessionID,
		}
		if seed.PaymentReference != "" {
			intent.ExternalPaymentReference = &seed.PaymentReference
		}
		if err := db.Create(&intent).Error; err != nil {
			t.Fatalf("seed payment intent: %v", err)
		}
	}
	return order
}

// SeedVendorAccount inserts a connected account row for vendorID.
func SeedVendorAccount(t *testing.T, db *gorm.DB, vendorID uuid.UUID, accountID string, payoutsEnabled bool) models.VendorAccount {
	t.Helper()
	status := enums.OnboardingStatusPending
	if payoutsEnabled {
		status = enums.OnboardingStatusActive
	}
	row := models.VendorAccount{
		ID:               uuid.New(),
		VendorID:         vendorID,
		OnboardingStatus: status,
		PayoutsEnabled:   payoutsEnabled,
		ChargesEnabled:   payoutsEnabled,
		DetailsSubmitted: payoutsEnabled,
	}
	if accountID != "" {
		row.ExternalAccountID = &accountID
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed vendor account: %v", err)
	}
	return row
}
