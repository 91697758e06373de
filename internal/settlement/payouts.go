package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/internal/ledger"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/locks"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/processor"
)

const (
	PayoutResultScheduled = "scheduled"
	PayoutResultPaid      = "paid"
	PayoutResultFailed    = "failed"
	PayoutResultPending   = "pending"
	PayoutResultRejected  = "rejected"
)

// SchedulePayout collects the vendor's payable items into a new SCHEDULED
// payout. Admin only.
func (s *Service) SchedulePayout(ctx context.Context, principal auth.Principal, vendorID uuid.UUID) (*models.Payout, error) {
	if err := principal.RequireAdmin(); err != nil {
		return nil, err
	}
	return s.scheduleForVendor(ctx, vendorID, outbox.ActorFrom(principal))
}

// ScheduleAll schedules a payout for every payout-ready vendor that has
// payable items. Vendors with nothing to pay are skipped silently.
func (s *Service) ScheduleAll(ctx context.Context) (int, error) {
	var (
		scheduled int
		errs      error
		after     uuid.UUID
	)
	batchSize := s.settlement.ScheduleBatchSize
	for {
		var batch []uuid.UUID
		err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			batch, err = s.repo.ListPayoutReadyVendors(ctx, tx, after, batchSize)
			return err
		})
		if err != nil {
			return scheduled, multierr.Append(errs, err)
		}
		for _, vendorID := range batch {
			if ctx.Err() != nil {
				return scheduled, multierr.Append(errs, ctx.Err())
			}
			_, err := s.scheduleForVendor(ctx, vendorID, nil)
			switch {
			case err == nil:
				scheduled++
			case pkgerrors.HasReason(err, pkgerrors.ReasonPayoutNotEligible):
			default:
				errs = multierr.Append(errs, err)
			}
		}
		if len(batch) < batchSize {
			return scheduled, errs
		}
		after = batch[len(batch)-1]
	}
}

func (s *Service) scheduleForVendor(ctx context.Context, vendorID uuid.UUID, actor *outbox.ActorRef) (*models.Payout, error) {
	ctx = s.logg.WithVendorID(ctx, vendorID.String())
	unlock, err := s.locker.Lock(ctx, locks.VendorSettlementKey(vendorID))
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlock() }()

	var candidates []CoveredItem
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		candidates, err = s.repo.UncoveredDeliveredItems(ctx, tx, vendorID, s.currency)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errNothingPayable()
	}

	// Coverage is decided under the order locks so a concurrent payout retry
	// or refund on the same orders lands either fully before or fully after.
	orderKeys := make([]string, 0, len(candidates))
	locked := make(map[uuid.UUID]struct{}, len(candidates))
	for _, item := range candidates {
		orderKeys = append(orderKeys, locks.OrderKey(item.OrderID))
		locked[item.OrderID] = struct{}{}
	}
	unlockOrders, err := locks.LockMany(ctx, s.locker, orderKeys)
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlockOrders() }()

	var payout *models.Payout
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		fresh, err := s.repo.UncoveredDeliveredItems(ctx, tx, vendorID, s.currency)
		if err != nil {
			return err
		}
		items := fresh[:0]
		for _, item := range fresh {
			if _, ok := locked[item.OrderID]; ok {
				items = append(items, item)
			}
		}
		if len(items) == 0 {
			return errNothingPayable()
		}

		var gross int64
		for _, item := range items {
			gross += item.SubtotalCents
		}
		fee, net := Split(gross, s.settlement.PlatformFeeBps)
		if net <= 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payout net amount is not positive").
				WithReason(pkgerrors.ReasonPayoutNotEligible)
		}

		payout = &models.Payout{
			ID:          uuid.New(),
			VendorID:    vendorID,
			GrossCents:  gross,
			FeeCents:    fee,
			AmountCents: net,
			Currency:    s.currency,
			Status:      enums.PayoutStatusScheduled,
			Items:       make([]models.PayoutItem, 0, len(items)),
		}
		for _, item := range items {
			payout.Items = append(payout.Items, models.PayoutItem{
				PayoutID:    payout.ID,
				OrderItemID: item.OrderItemID,
				OrderID:     item.OrderID,
				AmountCents: item.SubtotalCents,
			})
		}
		if err := s.repo.CreatePayout(ctx, tx, payout); err != nil {
			return err
		}
		return s.emitPayout(ctx, tx, enums.EventPayoutScheduled, payout, actor)
	})
	if err != nil {
		return nil, err
	}

	s.countPayout(PayoutResultScheduled)
	s.logg.Info(s.logg.WithFields(s.logg.WithPayoutID(ctx, payout.ID.String()), map[string]any{
		"amount_cents": payout.AmountCents,
		"items":        len(payout.Items),
	}), "payout scheduled")
	return payout, nil
}

func errNothingPayable() error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "vendor has no payable order items").
		WithReason(pkgerrors.ReasonPayoutNotEligible)
}

// PayoutResult reports the outcome of a processing call.
type PayoutResult struct {
	Payout      *models.Payout
	AlreadyPaid bool
}

// ProcessPayout transfers a payout's net amount to the vendor. It is safe to
// call repeatedly for the same payout: a PAID payout returns without a new
// transfer, and an interrupted PROCESSING attempt is resumed with the same
// processor idempotency key.
func (s *Service) ProcessPayout(ctx context.Context, principal auth.Principal, payoutID uuid.UUID) (*PayoutResult, error) {
	if err := principal.RequireAdmin(); err != nil {
		return nil, err
	}
	ctx = s.logg.WithPayoutID(ctx, payoutID.String())
	actor := outbox.ActorFrom(principal)

	var payout *models.Payout
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		payout, err = s.repo.FindPayout(ctx, tx, payoutID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if payout.Status == enums.PayoutStatusPaid {
		return &PayoutResult{Payout: payout, AlreadyPaid: true}, nil
	}

	keys := []string{locks.PayoutKey(payoutID)}
	for _, orderID := range payout.CoveredOrderIDs() {
		keys = append(keys, locks.OrderKey(orderID))
	}
	unlock, err := locks.LockMany(ctx, s.locker, keys)
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlock() }()

	var attempt int
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.repo.FindPayout(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		payout = current
		if payout.Status == enums.PayoutStatusPaid {
			return nil
		}
		if err := s.checkVendorReady(ctx, tx, payout.VendorID); err != nil {
			return err
		}
		if err := s.checkEligible(ctx, tx, payout); err != nil {
			return err
		}

		attempt = payout.Attempts
		if payout.Status != enums.PayoutStatusProcessing || attempt == 0 {
			attempt++
			payout.Status = enums.PayoutStatusProcessing
			payout.Attempts = attempt
			return s.repo.UpdatePayout(ctx, tx, payout.ID, map[string]any{
				"status":   enums.PayoutStatusProcessing,
				"attempts": attempt,
			})
		}
		return nil
	})
	if err != nil {
		if pkgerrors.HasReason(err, pkgerrors.ReasonPayoutNotEligible) ||
			pkgerrors.HasReason(err, pkgerrors.ReasonVendorNotPayoutReady) ||
			pkgerrors.HasReason(err, pkgerrors.ReasonAmountMismatch) {
			s.countPayout(PayoutResultRejected)
		}
		return nil, err
	}
	if payout.Status == enums.PayoutStatusPaid {
		return &PayoutResult{Payout: payout, AlreadyPaid: true}, nil
	}

	var account *models.VendorAccount
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		account, err = s.repo.FindVendorAccount(ctx, tx, payout.VendorID)
		return err
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithField(ctx, "attempt", attempt)
	transfer, transferErr := s.processor.CreateTransfer(ctx, processor.TransferInput{
		PayoutID:           payout.ID,
		AmountCents:        payout.AmountCents,
		Currency:           payout.Currency,
		DestinationAccount: *account.ExternalAccountID,
		IdempotencyKey:     fmt.Sprintf("payout_%s_%d", payout.ID, attempt),
	})
	if transferErr != nil {
		return nil, s.recordTransferFailure(ctx, payout, attempt, actor, transferErr)
	}

	now := s.now()
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		payout.Status = enums.PayoutStatusPaid
		payout.ExternalTransferID = &transfer.ID
		payout.FailureReason = nil
		payout.ProcessedAt = &now
		if err := s.repo.UpdatePayout(ctx, tx, payout.ID, map[string]any{
			"status":               enums.PayoutStatusPaid,
			"external_transfer_id": transfer.ID,
			"failure_reason":       nil,
			"processed_at":         now,
		}); err != nil {
			return err
		}
		recorded, err := s.ledger.HasPayoutEvent(ctx, tx, payout.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check payout ledger")
		}
		if !recorded {
			metadata, _ := json.Marshal(map[string]any{
				"transfer_id": transfer.ID,
				"gross_cents": payout.GrossCents,
				"fee_cents":   payout.FeeCents,
				"attempt":     attempt,
			})
			if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
				VendorID:    &payout.VendorID,
				PayoutID:    &payout.ID,
				Type:        enums.LedgerEventTypeVendorPayout,
				AmountCents: payout.AmountCents,
				Currency:    payout.Currency,
				Metadata:    metadata,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payout ledger")
			}
		}
		return s.emitPayout(ctx, tx, enums.EventPayoutPaid, payout, actor)
	})
	if err != nil {
		// The transfer went through; the payout stays PROCESSING so the next
		// call replays the same idempotency key and settles it.
		s.logg.Error(s.logg.WithField(ctx, "transfer_id", transfer.ID), "persist paid payout", err)
		return nil, err
	}

	s.countPayout(PayoutResultPaid)
	s.logg.Info(s.logg.WithField(ctx, "transfer_id", transfer.ID), "payout paid")
	return &PayoutResult{Payout: payout}, nil
}

// recordTransferFailure marks the payout FAILED when the processor rejected
// the transfer outright. Retryable failures leave it PROCESSING because the
// transfer may still have been created; the retry reuses the same key.
func (s *Service) recordTransferFailure(ctx context.Context, payout *models.Payout, attempt int, actor *outbox.ActorRef, cause error) error {
	if pkgerrors.IsRetryable(cause) {
		s.countPayout(PayoutResultPending)
		s.logg.Warn(ctx, "payout transfer interrupted; retry resumes attempt "+strconv.Itoa(attempt)+": "+cause.Error())
		return cause
	}

	reason := cause.Error()
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		payout.Status = enums.PayoutStatusFailed
		payout.FailureReason = &reason
		if err := s.repo.UpdatePayout(ctx, tx, payout.ID, map[string]any{
			"status":         enums.PayoutStatusFailed,
			"failure_reason": reason,
		}); err != nil {
			return err
		}
		return s.emitPayout(ctx, tx, enums.EventPayoutFailed, payout, actor)
	})
	if err != nil {
		s.logg.Error(ctx, "persist failed payout", err)
		return multierr.Append(cause, err)
	}
	s.countPayout(PayoutResultFailed)
	s.logg.Error(ctx, "payout transfer failed", cause)
	return cause
}

func (s *Service) checkVendorReady(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID) error {
	account, err := s.repo.FindVendorAccount(ctx, tx, vendorID)
	if err != nil {
		return err
	}
	if account == nil || account.ExternalAccountID == nil || !account.PayoutsEnabled {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "vendor account cannot receive payouts").
			WithReason(pkgerrors.ReasonVendorNotPayoutReady)
	}
	return nil
}

// checkEligible verifies every covered item is delivered on a paid order, is
// not covered by another live payout, and that the persisted amounts still
// match the items.
func (s *Service) checkEligible(ctx context.Context, tx *gorm.DB, payout *models.Payout) error {
	if len(payout.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payout covers no order items").
			WithReason(pkgerrors.ReasonPayoutNotEligible)
	}
	itemIDs := make([]uuid.UUID, 0, len(payout.Items))
	for _, item := range payout.Items {
		itemIDs = append(itemIDs, item.OrderItemID)
	}
	current, err := s.repo.CoveredItems(ctx, tx, itemIDs)
	if err != nil {
		return err
	}

	var gross int64
	for _, covered := range payout.Items {
		item, ok := current[covered.OrderItemID]
		if !ok {
			return notEligible(covered.OrderItemID, "order item no longer exists")
		}
		if item.VendorID != payout.VendorID {
			return notEligible(covered.OrderItemID, "order item belongs to another vendor")
		}
		if item.Status != enums.OrderItemStatusDelivered {
			return notEligible(covered.OrderItemID, "order item is "+string(item.Status))
		}
		if item.PaymentStatus != enums.PaymentStatusPaid {
			return notEligible(covered.OrderItemID, "order payment is "+string(item.PaymentStatus))
		}
		gross += item.SubtotalCents
	}

	others, err := s.repo.OtherLiveCovers(ctx, tx, payout.ID, itemIDs)
	if err != nil {
		return err
	}
	if len(others) > 0 {
		for itemID, payoutIDs := range others {
			s.logg.Error(s.logg.WithFields(ctx, map[string]any{
				"order_item_id": itemID.String(),
				"reason":        string(pkgerrors.ReasonDoubleCoveredPayout),
				"other_payouts": len(payoutIDs),
			}), "order item covered by more than one live payout", nil)
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order items already covered by another payout").
			WithReason(pkgerrors.ReasonPayoutNotEligible).
			WithDetails(map[string]any{"double_covered_items": len(others)})
	}

	if gross != payout.GrossCents || payout.GrossCents-payout.FeeCents != payout.AmountCents {
		return pkgerrors.New(pkgerrors.CodeIntegrity, "payout amount does not match covered items").
			WithReason(pkgerrors.ReasonAmountMismatch).
			WithDetails(map[string]any{
				"recorded_gross_cents": payout.GrossCents,
				"items_gross_cents":    gross,
				"amount_cents":         payout.AmountCents,
			})
	}
	return nil
}

func notEligible(itemID uuid.UUID, msg string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, msg).
		WithReason(pkgerrors.ReasonPayoutNotEligible).
		WithDetails(map[string]any{"order_item_id": itemID.String()})
}

func (s *Service) emitPayout(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payout *models.Payout, actor *outbox.ActorRef) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayout,
		AggregateID:   payout.ID,
		Actor:         actor,
		Data: payloads.PayoutEvent{
			PayoutID:           payout.ID,
			VendorID:           payout.VendorID,
			Status:             payout.Status,
			AmountCents:        payout.AmountCents,
			Currency:           payout.Currency,
			ItemCount:          len(payout.Items),
			Attempt:            payout.Attempts,
			ExternalTransferID: payout.ExternalTransferID,
			FailureReason:      payout.FailureReason,
		},
	})
}
