// Package settlement tracks vendor connected accounts and turns delivered,
// paid order items into vendor payouts.
package settlement

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/internal/ledger"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/locks"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/processor"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Processor is the slice of the payment processor settlement needs.
type Processor interface {
	CreateTransfer(ctx context.Context, in processor.TransferInput) (*processor.Transfer, error)
	CreateConnectedAccount(ctx context.Context, vendorID uuid.UUID) (string, error)
	GetAccount(ctx context.Context, accountID string) (*processor.AccountState, error)
	CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (*processor.OnboardingLink, error)
}

type payoutCounter interface {
	IncPayoutResult(result string)
}

type ServiceParams struct {
	Repository *Repository
	DB         txRunner
	Locker     locks.Locker
	Processor  Processor
	Ledger     ledger.Service
	Outbox     outboxPublisher
	Metrics    payoutCounter
	Vendor     config.VendorConfig
	Settlement config.SettlementConfig
	Currency   string
	Logger     *logger.Logger
}

type Service struct {
	repo       *Repository
	db         txRunner
	locker     locks.Locker
	processor  Processor
	ledger     ledger.Service
	outbox     outboxPublisher
	metrics    payoutCounter
	vendor     config.VendorConfig
	settlement config.SettlementConfig
	currency   string
	logg       *logger.Logger
	status     singleflight.Group
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settlement repository required")
	}
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Locker == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settlement locker required")
	}
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment processor required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Settlement.PlatformFeeBps < 0 || params.Settlement.PlatformFeeBps > bpsDenominator {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "platform fee must be between 0 and 10000 bps")
	}
	if params.Settlement.ScheduleBatchSize <= 0 {
		params.Settlement.ScheduleBatchSize = 100
	}
	if params.Vendor.SyncBatchSize <= 0 {
		params.Vendor.SyncBatchSize = 100
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		repo:       params.Repository,
		db:         params.DB,
		locker:     params.Locker,
		processor:  params.Processor,
		ledger:     params.Ledger,
		outbox:     params.Outbox,
		metrics:    params.Metrics,
		vendor:     params.Vendor,
		settlement: params.Settlement,
		currency:   currency,
		logg:       params.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Service) countPayout(result string) {
	if s.metrics != nil {
		s.metrics.IncPayoutResult(result)
	}
}
