package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

type accountSyncer interface {
	SyncAccounts(ctx context.Context) (int, error)
}

type payoutScheduler interface {
	ScheduleAll(ctx context.Context) (int, error)
}

// NewVendorAccountSyncJob refreshes cached connected-account state for every
// vendor that has started onboarding.
func NewVendorAccountSyncJob(logg *logger.Logger, syncer accountSyncer) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if syncer == nil {
		return nil, fmt.Errorf("account syncer required")
	}
	return &vendorAccountSyncJob{logg: logg, syncer: syncer}, nil
}

type vendorAccountSyncJob struct {
	logg   *logger.Logger
	syncer accountSyncer
}

func (j *vendorAccountSyncJob) Name() string { return "vendor-account-sync" }

func (j *vendorAccountSyncJob) Run(ctx context.Context) error {
	synced, err := j.syncer.SyncAccounts(ctx)
	j.logg.Info(j.logg.WithField(ctx, "accounts_synced", synced), "vendor account sync finished")
	if err != nil {
		return fmt.Errorf("vendor account sync: %w", err)
	}
	return nil
}

// NewPayoutSchedulerJob opens a payout for every payout-ready vendor with
// delivered, paid items not yet covered.
func NewPayoutSchedulerJob(logg *logger.Logger, scheduler payoutScheduler) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("payout scheduler required")
	}
	return &payoutSchedulerJob{logg: logg, scheduler: scheduler}, nil
}

type payoutSchedulerJob struct {
	logg      *logger.Logger
	scheduler payoutScheduler
}

func (j *payoutSchedulerJob) Name() string { return "payout-scheduler" }

func (j *payoutSchedulerJob) Run(ctx context.Context) error {
	scheduled, err := j.scheduler.ScheduleAll(ctx)
	j.logg.Info(j.logg.WithField(ctx, "payouts_scheduled", scheduled), "payout scheduling finished")
	if err != nil {
		return fmt.Errorf("payout scheduling: %w", err)
	}
	return nil
}
