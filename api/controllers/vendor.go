package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/marketplace-orchestrator/api/middleware"
	"github.com/angelmondragon/marketplace-orchestrator/api/responses"
	"github.com/angelmondragon/marketplace-orchestrator/internal/settlement"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/processor"
)

// VendorAccountService manages the caller's connected payout account.
type VendorAccountService interface {
	GetVendorOnboardingLink(ctx context.Context, principal auth.Principal) (*processor.OnboardingLink, error)
	GetVendorAccountStatus(ctx context.Context, principal auth.Principal) (*settlement.AccountStatus, error)
}

type onboardingLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VendorOnboarding returns a fresh hosted onboarding link, creating the
// connected account on first use.
func VendorOnboarding(svc VendorAccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "vendor account service unavailable"))
			return
		}
		link, err := svc.GetVendorOnboardingLink(r.Context(), middleware.PrincipalFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, onboardingLinkResponse{URL: link.URL, ExpiresAt: link.ExpiresAt})
	}
}

func VendorAccountStatus(svc VendorAccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "vendor account service unavailable"))
			return
		}
		status, err := svc.GetVendorAccountStatus(r.Context(), middleware.PrincipalFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}
