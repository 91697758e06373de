package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/marketplace-orchestrator/internal/app"
	"github.com/angelmondragon/marketplace-orchestrator/internal/cron"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/instance"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/metrics"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/migrate"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/redis"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/stripe"
)

const leaderLockName = "cron-worker"

func main() {
	once := flag.Bool("once", false, "run a single settlement cycle and exit")
	jobName := flag.String("job", "", "run only the named job once and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}
	gateway, err := stripe.NewGateway(stripeClient, cfg.Stripe)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe gateway", err)
		os.Exit(1)
	}

	lockBackend, err := app.NewLockBackend(cfg.Locks, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create lock backend", err)
		os.Exit(1)
	}

	services, err := app.Build(app.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Locks:      lockBackend,
		Gateway:    gateway,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, services)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewKeyedLock(lockBackend, leaderLockName)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:       logg,
		Registry:     registry,
		Lock:         lock,
		Metrics:      metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:     cfg.Cron.Interval,
		CycleTimeout: cfg.Cron.CycleTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"interval":    cfg.Cron.Interval.String(),
		"jobs":        registry.Names(),
		"instance_id": instance.GetID(),
	})

	switch {
	case *jobName != "":
		ctx = logg.WithField(ctx, "job", *jobName)
		exitOnce(ctx, logg, "manual job run", func() (bool, error) { return service.RunJob(ctx, *jobName) })
		return
	case *once:
		exitOnce(ctx, logg, "single settlement cycle", func() (bool, error) { return service.RunOnce(ctx) })
		return
	}

	logg.Info(ctx, "starting cron worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, services *app.Services) (*cron.Registry, error) {
	syncJob, err := cron.NewVendorAccountSyncJob(logg, services.Settlement)
	if err != nil {
		return nil, err
	}
	scheduleJob, err := cron.NewPayoutSchedulerJob(logg, services.Settlement)
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outbox.NewRepository(dbClient.DB()),
		Retention:   cfg.Outbox.Retention,
		PurgeBatch:  cfg.Outbox.PurgeBatch,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	// Account sync runs first so scheduling sees fresh payout readiness.
	return cron.NewRegistry(syncJob, scheduleJob, retentionJob)
}

func exitOnce(ctx context.Context, logg *logger.Logger, what string, run func() (bool, error)) {
	ran, err := run()
	if err != nil {
		logg.Error(ctx, what+" failed", err)
		os.Exit(1)
	}
	if !ran {
		logg.Warn(ctx, what+" skipped, leader lock held by another instance")
		return
	}
	logg.Info(ctx, what+" complete")
}
