package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/api/middleware"
	"github.com/angelmondragon/marketplace-orchestrator/api/responses"
	"github.com/angelmondragon/marketplace-orchestrator/api/validators"
	"github.com/angelmondragon/marketplace-orchestrator/internal/settlement"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

// PayoutService is the admin settlement surface.
type PayoutService interface {
	SchedulePayout(ctx context.Context, principal auth.Principal, vendorID uuid.UUID) (*models.Payout, error)
	ProcessPayout(ctx context.Context, principal auth.Principal, payoutID uuid.UUID) (*settlement.PayoutResult, error)
}

type schedulePayoutRequest struct {
	VendorID uuid.UUID `json:"vendor_id" validate:"required"`
}

type processPayoutResponse struct {
	Payout      payoutResponse `json:"payout"`
	AlreadyPaid bool           `json:"already_paid"`
}

func SchedulePayout(svc PayoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		var payload schedulePayoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payout, err := svc.SchedulePayout(r.Context(), middleware.PrincipalFromContext(r.Context()), payload.VendorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newPayoutResponse(payout))
	}
}

// ProcessPayout runs (or resumes) the transfer for a scheduled payout.
func ProcessPayout(svc PayoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		payoutID, err := validators.ParseUUIDParam(r, "payoutId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ProcessPayout(r.Context(), middleware.PrincipalFromContext(r.Context()), payoutID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, processPayoutResponse{
			Payout:      newPayoutResponse(result.Payout),
			AlreadyPaid: result.AlreadyPaid,
		})
	}
}
