package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/api/middleware"
	"github.com/angelmondragon/marketplace-orchestrator/api/responses"
	"github.com/angelmondragon/marketplace-orchestrator/api/validators"
	internalorders "github.com/angelmondragon/marketplace-orchestrator/internal/orders"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

// OrderService is the order surface the HTTP layer drives.
type OrderService interface {
	Split(ctx context.Context, principal auth.Principal, input internalorders.SplitInput) (*internalorders.SplitResult, error)
	Get(ctx context.Context, principal auth.Principal, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, principal auth.Principal, orderID uuid.UUID, reason string) (*internalorders.CancelResult, error)
	UpdateItemStatus(ctx context.Context, principal auth.Principal, input internalorders.FulfillmentInput) (*internalorders.FulfillmentResult, error)
}

const maxCancelReasonLen = 500

type createOrderRequest struct {
	Lines             []createOrderLine `json:"lines" validate:"required,min=1,dive"`
	ShippingAddressID uuid.UUID         `json:"shipping_address_id" validate:"required"`
	ShippingCents     int64             `json:"shipping_cents" validate:"gte=0,lte=100000000"`
	DiscountCents     int64             `json:"discount_cents" validate:"gte=0,lte=100000000"`
}

type createOrderLine struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0,lte=10000"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type cancelOrderResponse struct {
	Order    orderResponse `json:"order"`
	RefundID string        `json:"refund_id,omitempty"`
}

type updateItemRequest struct {
	Status         string  `json:"status" validate:"required,item_status"`
	TrackingNumber *string `json:"tracking_number,omitempty" validate:"omitempty,max=128"`
}

type updateItemResponse struct {
	Item        orderItemResponse `json:"item"`
	OrderStatus string            `json:"order_status"`
	Changed     bool              `json:"changed"`
}

// CreateOrder splits the caller's cart lines into a single multi-vendor order.
func CreateOrder(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]internalorders.SplitLine, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			lines = append(lines, internalorders.SplitLine{ProductID: line.ProductID, Quantity: line.Quantity})
		}

		result, err := svc.Split(r.Context(), middleware.PrincipalFromContext(r.Context()), internalorders.SplitInput{
			Lines:             lines,
			ShippingAddressID: payload.ShippingAddressID,
			ShippingCents:     payload.ShippingCents,
			DiscountCents:     payload.DiscountCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func GetOrder(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), middleware.PrincipalFromContext(r.Context()), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// CancelOrder cancels an order that has not begun fulfillment. The body is optional.
func CancelOrder(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelOrderRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		result, err := svc.Cancel(r.Context(), middleware.PrincipalFromContext(r.Context()), orderID,
			validators.SanitizeString(payload.Reason, maxCancelReasonLen))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cancelOrderResponse{
			Order:    newOrderResponse(result.Order),
			RefundID: result.RefundID,
		})
	}
}

// UpdateOrderItem advances one of the calling vendor's items a fulfillment step.
func UpdateOrderItem(svc OrderService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}
		itemID, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseOrderItemStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid item status"))
			return
		}

		var tracking *string
		if payload.TrackingNumber != nil {
			value := validators.SanitizeString(*payload.TrackingNumber, 128)
			if value != "" {
				tracking = &value
			}
		}

		result, err := svc.UpdateItemStatus(r.Context(), middleware.PrincipalFromContext(r.Context()), internalorders.FulfillmentInput{
			ItemID:         itemID,
			Status:         status,
			TrackingNumber: tracking,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, updateItemResponse{
			Item:        newOrderItemResponse(result.Item),
			OrderStatus: string(result.OrderStatus),
			Changed:     result.Changed,
		})
	}
}
