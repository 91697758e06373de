package settlement

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/locks"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/processor"
)

// AccountStatus is the vendor-facing view of a connected account.
type AccountStatus struct {
	VendorID          uuid.UUID              `json:"vendor_id"`
	ExternalAccountID *string                `json:"external_account_id,omitempty"`
	OnboardingStatus  enums.OnboardingStatus `json:"onboarding_status"`
	ChargesEnabled    bool                   `json:"charges_enabled"`
	PayoutsEnabled    bool                   `json:"payouts_enabled"`
	DetailsSubmitted  bool                   `json:"details_submitted"`
	DisabledReason    *string                `json:"disabled_reason,omitempty"`
	CurrentlyDue      []string               `json:"currently_due,omitempty"`
}

// OnboardingStatusFor derives the cached onboarding status from processor
// state.
func OnboardingStatusFor(state processor.AccountState) enums.OnboardingStatus {
	switch {
	case !state.DetailsSubmitted:
		return enums.OnboardingStatusPending
	case state.DisabledReason != "" || !state.PayoutsEnabled || !state.ChargesEnabled:
		return enums.OnboardingStatusRestricted
	default:
		return enums.OnboardingStatusActive
	}
}

// GetVendorAccountStatus reads the caller's connected account through to the
// processor and refreshes the cached row. Concurrent reads for one vendor
// share a single processor call.
func (s *Service) GetVendorAccountStatus(ctx context.Context, principal auth.Principal) (*AccountStatus, error) {
	vendorID, err := principal.RequireVendor()
	if err != nil {
		return nil, err
	}
	return s.refreshAccount(s.logg.WithVendorID(ctx, vendorID.String()), vendorID)
}

// refreshAccount shares one load per vendor. The shared load runs detached
// from any single caller's cancellation and is bounded by the processor
// timeout; a caller that goes away stops waiting without failing the others.
func (s *Service) refreshAccount(ctx context.Context, vendorID uuid.UUID) (*AccountStatus, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.status.DoChan(vendorID.String(), func() (any, error) {
		return s.loadAndSync(shared, vendorID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		status := *res.Val.(*AccountStatus)
		return &status, nil
	}
}

func (s *Service) loadAndSync(ctx context.Context, vendorID uuid.UUID) (*AccountStatus, error) {
	var account *models.VendorAccount
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		account, err = s.repo.FindVendorAccount(ctx, tx, vendorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if account == nil || account.ExternalAccountID == nil {
		return &AccountStatus{VendorID: vendorID, OnboardingStatus: enums.OnboardingStatusNotStarted}, nil
	}

	state, err := s.processor.GetAccount(ctx, *account.ExternalAccountID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	account.OnboardingStatus = OnboardingStatusFor(*state)
	account.ChargesEnabled = state.ChargesEnabled
	account.PayoutsEnabled = state.PayoutsEnabled
	account.DetailsSubmitted = state.DetailsSubmitted
	account.DisabledReason = nil
	if state.DisabledReason != "" {
		reason := state.DisabledReason
		account.DisabledReason = &reason
	}
	account.LastSyncedAt = &now
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.SaveVendorAccount(ctx, tx, account)
	})
	if err != nil {
		return nil, err
	}

	status := statusFromAccount(account)
	status.CurrentlyDue = state.CurrentlyDue
	return status, nil
}

func statusFromAccount(account *models.VendorAccount) *AccountStatus {
	return &AccountStatus{
		VendorID:          account.VendorID,
		ExternalAccountID: account.ExternalAccountID,
		OnboardingStatus:  account.OnboardingStatus,
		ChargesEnabled:    account.ChargesEnabled,
		PayoutsEnabled:    account.PayoutsEnabled,
		DetailsSubmitted:  account.DetailsSubmitted,
		DisabledReason:    account.DisabledReason,
	}
}

// GetVendorOnboardingLink returns a fresh hosted onboarding URL, creating the
// vendor's connected account first if it has none.
func (s *Service) GetVendorOnboardingLink(ctx context.Context, principal auth.Principal) (*processor.OnboardingLink, error) {
	vendorID, err := principal.RequireVendor()
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithVendorID(ctx, vendorID.String())

	unlock, err := s.locker.Lock(ctx, locks.VendorSettlementKey(vendorID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlock() }()

	var account *models.VendorAccount
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		account, err = s.repo.FindVendorAccount(ctx, tx, vendorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if account == nil || account.ExternalAccountID == nil {
		accountID, err := s.processor.CreateConnectedAccount(ctx, vendorID)
		if err != nil {
			return nil, err
		}
		if account == nil {
			account = &models.VendorAccount{VendorID: vendorID}
		}
		account.ExternalAccountID = &accountID
		account.OnboardingStatus = enums.OnboardingStatusPending
		err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
			return s.repo.SaveVendorAccount(ctx, tx, account)
		})
		if err != nil {
			return nil, err
		}
		s.logg.Info(s.logg.WithField(ctx, "account_id", accountID), "connected account created")
	}

	return s.processor.CreateOnboardingLink(ctx, *account.ExternalAccountID, s.vendor.OnboardingRefreshURL, s.vendor.OnboardingReturnURL)
}

// SyncAccounts refreshes every linked vendor account. A failure for one
// vendor does not stop the rest; the combined error is returned.
func (s *Service) SyncAccounts(ctx context.Context) (int, error) {
	var (
		synced int
		errs   error
		after  uuid.UUID
	)
	for {
		var batch []uuid.UUID
		err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			batch, err = s.repo.ListLinkedVendors(ctx, tx, after, s.vendor.SyncBatchSize)
			return err
		})
		if err != nil {
			return synced, multierr.Append(errs, err)
		}
		for _, vendorID := range batch {
			if ctx.Err() != nil {
				return synced, multierr.Append(errs, ctx.Err())
			}
			if _, err := s.refreshAccount(ctx, vendorID); err != nil {
				s.logg.Error(s.logg.WithVendorID(ctx, vendorID.String()), "vendor account sync failed", err)
				errs = multierr.Append(errs, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sync vendor "+vendorID.String()))
				continue
			}
			synced++
		}
		if len(batch) < s.vendor.SyncBatchSize {
			return synced, errs
		}
		after = batch[len(batch)-1]
	}
}
