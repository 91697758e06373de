package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

const (
	defaultOutboxRetention   = 30 * 24 * time.Hour
	defaultOutboxPurgeBatch  = 1000
	defaultOutboxMaxAttempts = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
	CountParked(ctx context.Context, tx *gorm.DB, maxAttempts int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxRetentionRepo
	Retention  time.Duration
	// PurgeBatch bounds the rows deleted per transaction.
	PurgeBatch int
	// MaxAttempts is the publisher's ceiling; rows at it are reported as parked.
	MaxAttempts int
}

// NewOutboxRetentionJob purges published outbox rows past the retention
// window and reports rows the publisher gave up on.
func NewOutboxRetentionJob(p OutboxRetentionJobParams) (Job, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("outbox retention: logger required")
	case p.DB == nil:
		return nil, errors.New("outbox retention: db required")
	case p.Repository == nil:
		return nil, errors.New("outbox retention: repository required")
	}
	return &outboxRetentionJob{
		logg:        p.Logger,
		db:          p.DB,
		repo:        p.Repository,
		retention:   positiveOr(p.Retention, defaultOutboxRetention),
		batch:       positiveOr(p.PurgeBatch, defaultOutboxPurgeBatch),
		maxAttempts: positiveOr(p.MaxAttempts, defaultOutboxMaxAttempts),
		now:         time.Now,
	}, nil
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        outboxRetentionRepo
	retention   time.Duration
	batch       int
	maxAttempts int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run deletes in short transactions so the publisher's row locks are never
// held up behind one large delete. Parked rows are left for an operator.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)

	var deleted int64
	for {
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
			n, err = j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.batch)
			return err
		})
		if err != nil {
			return fmt.Errorf("purge published outbox rows (%d removed so far): %w", deleted, err)
		}
		deleted += n
		if n < int64(j.batch) {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	var parked int64
	if err := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
		parked, err = j.repo.CountParked(ctx, tx, j.maxAttempts)
		return err
	}); err != nil {
		return fmt.Errorf("count parked outbox rows: %w", err)
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff.Format(time.RFC3339),
		"rows_deleted": deleted,
		"rows_parked":  parked,
	})
	if parked > 0 {
		j.logg.Warn(logCtx, "outbox has parked events")
		return nil
	}
	j.logg.Info(logCtx, "outbox retention cleanup complete")
	return nil
}
