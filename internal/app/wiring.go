// Package app assembles the orchestration services shared by the API and the
// background workers.
package app

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-orchestrator/internal/address"
	"github.com/angelmondragon/marketplace-orchestrator/internal/catalog"
	"github.com/angelmondragon/marketplace-orchestrator/internal/checkout"
	"github.com/angelmondragon/marketplace-orchestrator/internal/ledger"
	"github.com/angelmondragon/marketplace-orchestrator/internal/orders"
	"github.com/angelmondragon/marketplace-orchestrator/internal/payments"
	"github.com/angelmondragon/marketplace-orchestrator/internal/settlement"
	stripewebhook "github.com/angelmondragon/marketplace-orchestrator/internal/webhooks/stripe"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/locks"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/metrics"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/processor"
)

// LockBackend is what both request handlers and cron leader election need.
type LockBackend interface {
	locks.Locker
	locks.TryLocker
}

// NewLockBackend returns the in-process arena or the shared Redis locker.
// The arena is only correct with a single replica.
func NewLockBackend(cfg config.LocksConfig, store locks.RedisStore) (LockBackend, error) {
	if !cfg.UsesRedis() {
		return locks.NewArena(cfg.AcquireTimeout), nil
	}
	if store == nil {
		return nil, fmt.Errorf("redis lock backend requires a redis client")
	}
	return locks.NewRedisLocker(store, locks.RedisOptions{
		TTL:            cfg.TTL,
		AcquireTimeout: cfg.AcquireTimeout,
		RetryInterval:  cfg.RetryInterval,
	})
}

type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Locks      locks.Locker
	Gateway    processor.Gateway
	Registerer prometheus.Registerer
}

// Services is the wired orchestration core.
type Services struct {
	Orders     *orders.Service
	Checkout   checkout.Service
	Applier    *payments.Applier
	Settlement *settlement.Service
	Ingestor   *stripewebhook.Ingestor
	Metrics    *metrics.OrchestrationMetrics
}

// Build wires repositories, the payment applier and every service on top of
// one database, one lock backend and one processor gateway.
func Build(p Params) (*Services, error) {
	if p.Config == nil || p.DB == nil || p.Locks == nil || p.Gateway == nil {
		return nil, fmt.Errorf("config, database, locks and gateway are required")
	}
	cfg := p.Config

	orchestration := metrics.NewOrchestrationMetrics(p.Registerer)
	locker := locks.Instrument(p.Locks, orchestration)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(p.DB.DB()))
	if err != nil {
		return nil, fmt.Errorf("ledger service: %w", err)
	}
	outboxSvc := outbox.NewService(outbox.NewRepository(p.DB.DB()), p.Logger)

	orderRepo := orders.NewRepository()
	intentRepo := payments.NewIntentRepository()
	eventLog := payments.NewEventLogRepository()

	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repository: orderRepo,
		DB:         p.DB,
		Locker:     locker,
		Outbox:     outboxSvc,
		Stock:      catalog.NewStore(),
		Addresses:  address.NewService(),
		Refunds:    p.Gateway,
		Logger:     p.Logger,
		Currency:   cfg.Checkout.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	applier, err := payments.NewApplier(payments.ApplierParams{
		Orders:   orderRepo,
		Intents:  intentRepo,
		EventLog: eventLog,
		Ledger:   ledgerSvc,
		Canceler: ordersSvc,
		Outbox:   outboxSvc,
		DB:       p.DB,
		Locker:   locker,
		Logger:   p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("payment applier: %w", err)
	}

	checkoutSvc, err := checkout.NewService(checkout.ServiceParams{
		Orders:  orderRepo,
		Intents: intentRepo,
		Gateway: p.Gateway,
		Applier: applier,
		DB:      p.DB,
		Locker:  locker,
		Config:  cfg.Checkout,
		Logger:  p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	settlementSvc, err := settlement.NewService(settlement.ServiceParams{
		Repository: settlement.NewRepository(),
		DB:         p.DB,
		Locker:     locker,
		Processor:  p.Gateway,
		Ledger:     ledgerSvc,
		Outbox:     outboxSvc,
		Metrics:    orchestration,
		Vendor:     cfg.Vendor,
		Settlement: cfg.Settlement,
		Currency:   cfg.Checkout.Currency,
		Logger:     p.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement service: %w", err)
	}

	services := &Services{
		Orders:     ordersSvc,
		Checkout:   checkoutSvc,
		Applier:    applier,
		Settlement: settlementSvc,
		Metrics:    orchestration,
	}

	// Workers never receive webhooks and may run without a signing secret.
	if cfg.Stripe.Secret != "" {
		services.Ingestor, err = stripewebhook.NewIngestor(stripewebhook.IngestorParams{
			DB:                 p.DB,
			Orders:             orderRepo,
			EventLog:           eventLog,
			Applier:            applier,
			SigningSecret:      cfg.Stripe.Secret,
			SignatureTolerance: cfg.Stripe.SignatureTolerance,
			Metrics:            orchestration,
			Logger:             p.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("stripe ingestor: %w", err)
		}
	}

	return services, nil
}
