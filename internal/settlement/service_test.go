package settlement

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/internal/ledger"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/locks"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/processor"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/processor/processortest"
)

type payoutCounts struct {
	mu     sync.Mutex
	counts map[string]int
}

func (p *payoutCounts) IncPayoutResult(result string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts == nil {
		p.counts = map[string]int{}
	}
	p.counts[result]++
}

type harness struct {
	client  *db.Client
	svc     *Service
	fake    *processortest.Fake
	metrics *payoutCounts
	admin   auth.Principal
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "settlement-test", Output: io.Discard})
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()))
	require.NoError(t, err)
	fake := &processortest.Fake{}
	metrics := &payoutCounts{}
	svc, err := NewService(ServiceParams{
		Repository: NewRepository(),
		DB:         client,
		Locker:     locks.NewArena(time.Second),
		Processor:  fake,
		Ledger:     ledgerSvc,
		Outbox:     outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Metrics:    metrics,
		Vendor: config.VendorConfig{
			OnboardingRefreshURL: "https://market.test/refresh",
			OnboardingReturnURL:  "https://market.test/return",
			SyncBatchSize:        2,
		},
		Settlement: config.SettlementConfig{PlatformFeeBps: 1000, ScheduleBatchSize: 2},
		Currency:   "usd",
		Logger:     logg,
	})
	require.NoError(t, err)
	return &harness{
		client:  client,
		svc:     svc,
		fake:    fake,
		metrics: metrics,
		admin:   auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleAdmin},
	}
}

func vendorPrincipal(vendorID uuid.UUID) auth.Principal {
	return auth.Principal{UserID: uuid.New(), Role: enums.MemberRoleVendor, VendorID: &vendorID}
}

func (h *harness) deliveredOrder(t *testing.T, vendorID uuid.UUID, priceCents int64) *models.Order {
	t.Helper()
	return dbtest.SeedOrder(t, h.client.DB(), dbtest.OrderSeed{
		Status:        enums.OrderStatusDelivered,
		PaymentStatus: enums.PaymentStatusPaid,
		Items: []dbtest.ItemSeed{
			{VendorID: vendorID, PriceCents: priceCents, Status: enums.OrderItemStatusDelivered},
		},
	})
}

func (h *harness) readyVendor(t *testing.T) uuid.UUID {
	t.Helper()
	vendorID := uuid.New()
	accountID := "acct_" + vendorID.String()[:8]
	dbtest.SeedVendorAccount(t, h.client.DB(), vendorID, accountID, true)
	return vendorID
}

func (h *harness) reloadPayout(t *testing.T, id uuid.UUID) models.Payout {
	t.Helper()
	var payout models.Payout
	require.NoError(t, h.client.DB().Preload("Items").First(&payout, "id = ?", id).Error)
	return payout
}

func (h *harness) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.client.DB().Model(model).Where(query, args...).Count(&n).Error)
	return n
}

func TestSchedulePayoutCollectsDeliveredPaidItems(t *testing.T) {
	h := newHarness(t)
	vendorID := h.readyVendor(t)
	h.deliveredOrder(t, vendorID, 1500)
	h.deliveredOrder(t, vendorID, 999)
	dbtest.SeedOrder(t, h.client.DB(), dbtest.OrderSeed{
		Status:        enums.OrderStatusPaid,
		PaymentStatus: enums.PaymentStatusPaid,
		Items:         []dbtest.ItemSeed{{VendorID: vendorID, PriceCents: 700, Status: enums.OrderItemStatusShipped}},
	})
	h.deliveredOrder(t, uuid.New(), 4000)

	payout, err := h.svc.SchedulePayout(context.Background(), h.admin, vendorID)
	require.NoError(t, err)
	require.Equal(t, enums.PayoutStatusScheduled, payout.Status)
	require.Equal(t, int64(2499), payout.GrossCents)
	require.Equal(t, int64(249), payout.FeeCents)
	require.Equal(t, int64(2250), payout.AmountCents)
	require.Len(t, payout.Items, 2)
	require.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPayoutScheduled))

	_, err = h.svc.SchedulePayout(context.Background(), h.admin, vendorID)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonPayoutNotEligible))
}

func TestSchedulePayoutRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	vendorID := h.readyVendor(t)
	_, err := h.svc.SchedulePayout(context.Background(), vendorPrincipal(vendorID), vendorID)
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}

func TestProcessPayoutTransfersOnce(t *testing.T) {
	h := newHarness(t)
	vendorID := h.readyVendor(t)
	h.deliveredOrder(t, vendorID, 2000)
	ctx := context.Background()

	scheduled, err := h.svc.SchedulePayout(ctx, h.admin, vendorID)
	require.NoError(t, err)

	first, err := h.svc.ProcessPayout(ctx, h.admin, scheduled.ID)
	require.NoError(t, err)
	require.False(t, first.AlreadyPaid)
	require.Equal(t, enums.PayoutStatusPaid, first.Payout.Status)
	require.NotNil(t, first.Payout.ProcessedAt)
	require.Equal(t, 1, h.fake.TransferCount())
	require.Equal(t, "payout_"+scheduled.ID.String()+"_1", h.fake.TransferInputs[0].IdempotencyKey)
	require.Equal(t, int64(1800), h.fake.TransferInputs[0].AmountCents)

	second, err := h.svc.ProcessPayout(ctx, h.admin, scheduled.ID)
	require.NoError(t, err)
	require.True(t, second.AlreadyPaid)
	require.Equal(t, 1, h.fake.TransferCount())

	require.Equal(t, int64(1), h.count(t, &models.LedgerEvent{}, "payout_id = ? AND type = ?", scheduled.ID, enums.LedgerEventTypeVendorPayout))
	require.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPayoutPaid))
	require.Equal(t, 1, h.metrics.counts[PayoutResultPaid])
}

func TestProcessPayoutRejectsVendorWithoutPayouts(t *testing.T) {
	h := newHarness(t)
	vendorID := uuid.New()
	dbtest.SeedVendorAccount(t, h.client.DB(), vendorID, "acct_restricted", false)
	h.deliveredOrder(t, vendorID, 2000)
	ctx := context.Background()

	scheduled, err := h.svc.SchedulePayout(ctx, h.admin, vendorID)
	require.NoError(t, err)
	_, err = h.svc.ProcessPayout(ctx, h.admin, scheduled.ID)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonVendorNotPayoutReady))
	require.Zero(t, h.fake.TransferCount())
	require.Equal(t, enums.PayoutStatusScheduled, h.reloadPayout(t, scheduled.ID).Status)
}

func TestProcessPayoutRejectsItemsNoLongerDelivered(t *testing.T) {
	h := newHarness(t)
	vendorID := h.readyVendor(t)
	order := h.deliveredOrder(t, vendorID, 2000)
	ctx := context.Background()

	scheduled, err := h.svc.SchedulePayout(ctx, h.admin, vendorID)
	require.NoError(t, err)
	require.NoError(t, h.client.DB().Model(&models.Order{}).Where("id = ?", order.ID).
		Update("payment_status", enums.PaymentStatusRefunded).Error)

	_, err = h.svc.ProcessPayout(ctx, h.admin, scheduled.ID)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonPayoutNotEligible))
	require.Zero(t, h.fake.TransferCount())
}

func TestProcessPayoutRejectsDoubleCover(t *testing.T) {
	h := newHarness(t)
	vendorID := h.readyVendor(t)
	order := h.deliveredOrder(t, vendorID, 2000)
	ctx := context.Background()

	scheduled, err := h.svc.SchedulePayout(ctx, h.admin, vendorID)
	require.NoError(t, err)

	rogue := models.Payout{
		ID: uuid.New(), VendorID: vendorID, GrossCents: 2000, FeeCents: 200, AmountCents: 1800,
		Currency: "usd", Status: enums.PayoutStatusScheduled,
		Items: []models.PayoutItem{{OrderItemID: order.Items[0].ID, OrderID: order.ID, AmountCents: 2000}},
	}
	rogue.Items[0].PayoutID = rogue.ID
	require.NoError(t, h.client.WithTx(ctx, func(tx *gorm.DB) error {
		return NewRepository().CreatePayout(ctx, tx, &rogue)
	}))

	_, err = h.svc.ProcessPayout(ctx, h.admin, scheduled.ID)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonPayoutNotEligible))
	require.Zero(t, h.fake.TransferCount())
}

func TestProcessPayoutDetectsAmountMismatch(t *testing.T) {
	h := newHarness(t)
	vendorID := h.readyVendor(t)
	h.deliveredOrder(t, vendorID, 2000)
	ctx := context.Background()

	scheduled, err := h.svc.SchedulePayout(ctx, h.admin, vendorID)
	require.NoError(t, err)
	require.NoError(t, h.client.DB().Model(&models.Payout{}).Where("id = ?", scheduled.ID).
		Update("amount_cents", 5000).Error)

	_, err = h.svc.ProcessPayout(ctx, h.admin, scheduled.ID)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonAmountMismatch))
	require.Equal(t, pkgerrors.CodeIntegrity, pkgerrors.As(err).Code())
	require.Zero(t, h.fake.TransferCount())
}

func TestProcessPayoutRejectedTransferFailsThenRetriesWithFreshKey(t *testing.T) {
	h := newHarness(t)
	vendorID := h.readyVendor(t)
	h.deliveredOrder(t, vendorID, 2000)
	ctx := context.Background()

	scheduled, err := h.svc.SchedulePayout(ctx, h.admin, vendorID)
	require.NoError(t, err)

	h.fake.TransferErr = pkgerrors.New(pkgerrors.CodeValidation, "insufficient platform balance")
	_, err = h.svc.ProcessPayout(ctx, h.admin, scheduled.ID)
	require.Error(t, err)
	failed := h.reloadPayout(t, scheduled.ID)
	require.Equal(t, enums.PayoutStatusFailed, failed.Status)
	require.NotNil(t, failed.FailureReason)
	require.Equal(t, int64(1), h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventPayoutFailed))

	h.fake.TransferErr = nil
	result, err := h.svc.ProcessPayout(ctx, h.admin, scheduled.ID)
	require.NoError(t, err)
	require.Equal(t, enums.PayoutStatusPaid, result.Payout.Status)
	require.Equal(t, 2, result.Payout.Attempts)
	require.Equal(t, "payout_"+scheduled.ID.String()+"_2", h.fake.TransferInputs[1].IdempotencyKey)
}

func TestProcessPayoutTimeoutResumesSameKey(t *testing.T) {
	h := newHarness(t)
	vendorID := h.readyVendor(t)
	h.deliveredOrder(t, vendorID, 2000)
	ctx := context.Background()

	scheduled, err := h.svc.SchedulePayout(ctx, h.admin, vendorID)
	require.NoError(t, err)

	h.fake.TransferErr = pkgerrors.New(pkgerrors.CodeDependency, "processor timeout").
		WithReason(pkgerrors.ReasonProcessorTimeout)
	_, err = h.svc.ProcessPayout(ctx, h.admin, scheduled.ID)
	require.True(t, pkgerrors.IsRetryable(err))
	require.Equal(t, enums.PayoutStatusProcessing, h.reloadPayout(t, scheduled.ID).Status)

	h.fake.TransferErr = nil
	_, err = h.svc.ProcessPayout(ctx, h.admin, scheduled.ID)
	require.NoError(t, err)
	require.Len(t, h.fake.TransferInputs, 2)
	require.Equal(t, h.fake.TransferInputs[0].IdempotencyKey, h.fake.TransferInputs[1].IdempotencyKey)
}

func TestConcurrentProcessPayoutTransfersOnce(t *testing.T) {
	h := newHarness(t)
	vendorID := h.readyVendor(t)
	h.deliveredOrder(t, vendorID, 2000)
	ctx := context.Background()

	scheduled, err := h.svc.SchedulePayout(ctx, h.admin, vendorID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.ProcessPayout(ctx, h.admin, scheduled.ID)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, h.fake.TransferCount())
}

// waitingLocker reports when a caller starts waiting on key.
type waitingLocker struct {
	locks.Locker
	key     string
	waiting chan struct{}
	once    sync.Once
}

func (w *waitingLocker) Lock(ctx context.Context, key string) (locks.Unlock, error) {
	if key == w.key {
		w.once.Do(func() { close(w.waiting) })
	}
	return w.Locker.Lock(ctx, key)
}

func TestSchedulePayoutRechecksCoverageUnderOrderLock(t *testing.T) {
	h := newHarness(t)
	vendorID := h.readyVendor(t)
	order := h.deliveredOrder(t, vendorID, 2000)
	ctx := context.Background()

	first, err := h.svc.SchedulePayout(ctx, h.admin, vendorID)
	require.NoError(t, err)
	require.NoError(t, h.client.DB().Model(&models.Payout{}).Where("id = ?", first.ID).
		Update("status", enums.PayoutStatusFailed).Error)

	orderKey := locks.OrderKey(order.ID)
	unlockOrder, err := h.svc.locker.Lock(ctx, orderKey)
	require.NoError(t, err)
	gate := &waitingLocker{Locker: h.svc.locker, key: orderKey, waiting: make(chan struct{})}
	h.svc.locker = gate

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.SchedulePayout(ctx, h.admin, vendorID)
		done <- err
	}()
	<-gate.waiting

	// A retry of the failed payout claims the items while the order is locked.
	require.NoError(t, h.client.DB().Model(&models.Payout{}).Where("id = ?", first.ID).
		Update("status", enums.PayoutStatusProcessing).Error)
	require.NoError(t, unlockOrder())

	err = <-done
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonPayoutNotEligible), "got %v", err)
	require.Equal(t, int64(1), h.count(t, &models.Payout{}, "vendor_id = ?", vendorID))
}

func TestSchedulePayoutWaitsForOrderLock(t *testing.T) {
	h := newHarness(t)
	h.svc.locker = locks.NewArena(50 * time.Millisecond)
	vendorID := h.readyVendor(t)
	order := h.deliveredOrder(t, vendorID, 2000)
	ctx := context.Background()

	unlockOrder, err := h.svc.locker.Lock(ctx, locks.OrderKey(order.ID))
	require.NoError(t, err)
	defer func() { _ = unlockOrder() }()

	_, err = h.svc.SchedulePayout(ctx, h.admin, vendorID)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonLockTimeout), "got %v", err)
	require.Zero(t, h.count(t, &models.Payout{}, "vendor_id = ?", vendorID))
}

func TestScheduleAllSkipsVendorsWithoutItems(t *testing.T) {
	h := newHarness(t)
	paying := []uuid.UUID{h.readyVendor(t), h.readyVendor(t), h.readyVendor(t)}
	h.readyVendor(t)
	for _, vendorID := range paying {
		h.deliveredOrder(t, vendorID, 1000)
	}

	scheduled, err := h.svc.ScheduleAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, scheduled)
	require.Equal(t, int64(3), h.count(t, &models.Payout{}, "status = ?", enums.PayoutStatusScheduled))
}

func TestOnboardingLinkCreatesAccountOnce(t *testing.T) {
	h := newHarness(t)
	vendorID := uuid.New()
	principal := vendorPrincipal(vendorID)
	ctx := context.Background()

	link, err := h.svc.GetVendorOnboardingLink(ctx, principal)
	require.NoError(t, err)
	require.Contains(t, link.URL, "acct_test_1")

	_, err = h.svc.GetVendorOnboardingLink(ctx, principal)
	require.NoError(t, err)
	require.Equal(t, []string{"acct_test_1", "acct_test_1"}, h.fake.LinkRequests)

	status, err := h.svc.GetVendorAccountStatus(ctx, principal)
	require.NoError(t, err)
	require.Equal(t, enums.OnboardingStatusPending, status.OnboardingStatus)
}

func TestAccountStatusReadsThroughAndCaches(t *testing.T) {
	h := newHarness(t)
	vendorID := uuid.New()
	dbtest.SeedVendorAccount(t, h.client.DB(), vendorID, "acct_live", false)
	h.fake.SetAccount(processor.AccountState{
		ID: "acct_live", ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true,
	})

	status, err := h.svc.GetVendorAccountStatus(context.Background(), vendorPrincipal(vendorID))
	require.NoError(t, err)
	require.Equal(t, enums.OnboardingStatusActive, status.OnboardingStatus)
	require.True(t, status.PayoutsEnabled)

	var cached models.VendorAccount
	require.NoError(t, h.client.DB().First(&cached, "vendor_id = ?", vendorID).Error)
	require.True(t, cached.PayoutsEnabled)
	require.NotNil(t, cached.LastSyncedAt)
}

// heldAccounts blocks GetAccount until released and fails on a canceled ctx
// the way a real processor call does.
type heldAccounts struct {
	*processortest.Fake
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	calls   int
}

func (h *heldAccounts) GetAccount(ctx context.Context, accountID string) (*processor.AccountState, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	h.once.Do(func() { close(h.entered) })
	<-h.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.Fake.GetAccount(ctx, accountID)
}

func TestAccountStatusSurvivesFirstCallerCancel(t *testing.T) {
	h := newHarness(t)
	vendorID := uuid.New()
	dbtest.SeedVendorAccount(t, h.client.DB(), vendorID, "acct_shared", false)
	h.fake.SetAccount(processor.AccountState{ID: "acct_shared", PayoutsEnabled: true, DetailsSubmitted: true, ChargesEnabled: true})
	held := &heldAccounts{Fake: h.fake, entered: make(chan struct{}), release: make(chan struct{})}
	h.svc.processor = held

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := h.svc.GetVendorAccountStatus(firstCtx, vendorPrincipal(vendorID))
		first <- err
	}()
	<-held.entered

	type outcome struct {
		status *AccountStatus
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		status, err := h.svc.GetVendorAccountStatus(context.Background(), vendorPrincipal(vendorID))
		second <- outcome{status, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-first, context.Canceled)
	close(held.release)

	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, enums.OnboardingStatusActive, got.status.OnboardingStatus)
	require.Equal(t, 1, held.calls)
}

func TestAccountStatusWithoutAccountIsNotStarted(t *testing.T) {
	h := newHarness(t)
	status, err := h.svc.GetVendorAccountStatus(context.Background(), vendorPrincipal(uuid.New()))
	require.NoError(t, err)
	require.Equal(t, enums.OnboardingStatusNotStarted, status.OnboardingStatus)
}

func TestAccountStatusRequiresVendor(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.GetVendorAccountStatus(context.Background(), h.admin)
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}

func TestSyncAccountsContinuesPastFailures(t *testing.T) {
	h := newHarness(t)
	for i, unknownToProcessor := range []bool{false, true, false} {
		vendorID := uuid.New()
		accountID := "acct_sync_" + string(rune('a'+i))
		dbtest.SeedVendorAccount(t, h.client.DB(), vendorID, accountID, false)
		if unknownToProcessor {
			continue
		}
		h.fake.SetAccount(processor.AccountState{ID: accountID, DetailsSubmitted: true, DisabledReason: "requirements.past_due"})
	}

	synced, err := h.svc.SyncAccounts(context.Background())
	require.Error(t, err)
	require.Equal(t, 2, synced)
	require.Equal(t, int64(2), h.count(t, &models.VendorAccount{}, "onboarding_status = ?", enums.OnboardingStatusRestricted))
}

func TestOnboardingStatusFor(t *testing.T) {
	cases := []struct {
		state processor.AccountState
		want  enums.OnboardingStatus
	}{
		{processor.AccountState{}, enums.OnboardingStatusPending},
		{processor.AccountState{DetailsSubmitted: true}, enums.OnboardingStatusRestricted},
		{processor.AccountState{DetailsSubmitted: true, ChargesEnabled: true, PayoutsEnabled: true, DisabledReason: "rejected.fraud"}, enums.OnboardingStatusRestricted},
		{processor.AccountState{DetailsSubmitted: true, ChargesEnabled: true, PayoutsEnabled: true}, enums.OnboardingStatusActive},
	}
	for _, tc := range cases {
		if got := OnboardingStatusFor(tc.state); got != tc.want {
			t.Fatalf("OnboardingStatusFor(%+v) = %s, want %s", tc.state, got, tc.want)
		}
	}
}
