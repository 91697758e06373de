package controllers

import (
	"net/http"

	"github.com/angelmondragon/marketplace-orchestrator/api/middleware"
	"github.com/angelmondragon/marketplace-orchestrator/api/responses"
	"github.com/angelmondragon/marketplace-orchestrator/api/validators"
	checkoutsvc "github.com/angelmondragon/marketplace-orchestrator/internal/checkout"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

// Checkout opens (or returns the still-open) hosted payment session for an order.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.CreateCheckoutSession(r.Context(), middleware.PrincipalFromContext(r.Context()), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

// VerifyPayment polls the processor for the order's session and applies the
// outcome when the webhook has not arrived yet.
func VerifyPayment(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.VerifyPaymentStatus(r.Context(), middleware.PrincipalFromContext(r.Context()), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
