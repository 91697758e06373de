package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/db/models"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/metrics"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/outbox/registry"
)

const (
	fallbackBatchSize = 50
	fallbackPoll      = 500 * time.Millisecond
	fallbackAttempts  = 10
	ackTimeout        = 15 * time.Second
	maxWait           = 10 * time.Second
	jitterWindow      = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(topic string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type eventRouter interface {
	Resolve(models.OutboxEvent) (*registry.Message, error)
}

// publisher is the part of *gcppubsub.Publisher the service drives. A failed
// publish pauses its ordering key until ResumePublish is called.
type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	PubSub     pubSubClient
	Repository outboxRepository
	Router     eventRouter
	Metrics    *metrics.OutboxMetrics
	// Publishers overrides how a topic's publisher is obtained.
	Publishers func(topic string) publisher
}

// Service moves outbox rows to Pub/Sub. A batch is fetched, published and
// marked inside one transaction, so a row is marked published only after the
// broker acknowledged it. Delivery is at least once.
type Service struct {
	logg        *logger.Logger
	db          dbClient
	pubsub      pubSubClient
	repo        outboxRepository
	router      eventRouter
	metrics     *metrics.OutboxMetrics
	newPub      func(topic string) publisher
	pubs        map[string]publisher
	batchSize   int
	maxAttempts int
	poll        time.Duration
	now         func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	var missing []string
	for _, dep := range []struct {
		name  string
		isNil bool
	}{
		{"config", p.Config == nil},
		{"logger", p.Logger == nil},
		{"db", p.DB == nil},
		{"pubsub", p.PubSub == nil},
		{"repository", p.Repository == nil},
		{"router", p.Router == nil},
	} {
		if dep.isNil {
			missing = append(missing, dep.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("outbox publisher missing dependencies: %v", missing)
	}

	s := &Service{
		logg:        p.Logger,
		db:          p.DB,
		pubsub:      p.PubSub,
		repo:        p.Repository,
		router:      p.Router,
		metrics:     p.Metrics,
		newPub:      p.Publishers,
		pubs:        map[string]publisher{},
		batchSize:   orDefault(p.Config.Outbox.BatchSize, fallbackBatchSize),
		maxAttempts: orDefault(p.Config.Outbox.MaxAttempts, fallbackAttempts),
		poll:        orDefault(time.Duration(p.Config.Outbox.PollIntervalMS)*time.Millisecond, fallbackPoll),
		now:         time.Now,
	}
	if s.newPub == nil {
		s.newPub = func(topic string) publisher { return wrapPublisher(s.pubsub.Publisher(topic)) }
	}
	return s, nil
}

func orDefault[T int | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

// Run polls until ctx ends. A full batch is followed straight away by the
// next one; failing batches back off exponentially up to maxWait.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database not reachable: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub not reachable: %w", err)
	}

	wait := s.poll
	for {
		n, err := s.drain(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.logg.Info(ctx, "outbox publisher stopping")
			return ctxErr
		}
		switch {
		case err != nil:
			wait = nextWait(wait, s.poll, maxWait)
			s.logg.Error(s.logg.WithField(ctx, "retry_in_ms", wait.Milliseconds()), "outbox batch failed", err)
		case n >= s.batchSize:
			wait = 0
		default:
			wait = s.poll
		}
		if err := pause(ctx, jitter(wait)); err != nil {
			return err
		}
	}
}

// flight is one row on its way to the broker.
type flight struct {
	row    models.OutboxEvent
	msg    *registry.Message
	pub    publisher
	result publishResult
	sentAt time.Time
	err    error
}

// drain handles one batch and reports how many rows it fetched.
func (s *Service) drain(ctx context.Context) (int, error) {
	fetched := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox rows: %w", err)
		}
		fetched = len(rows)
		if fetched == 0 {
			return nil
		}
		return s.settle(ctx, tx, s.dispatch(ctx, rows))
	})
	return fetched, err
}

// dispatch hands every resolvable row to its publisher without waiting, so
// the client batches them. Ordering keys keep per-aggregate order.
func (s *Service) dispatch(ctx context.Context, rows []models.OutboxEvent) []*flight {
	flights := make([]*flight, 0, len(rows))
	for _, row := range rows {
		f := &flight{row: row}
		flights = append(flights, f)

		f.msg, f.err = s.router.Resolve(row)
		if f.err != nil {
			continue
		}
		if f.pub = s.publisherFor(f.msg.Topic); f.pub == nil {
			f.err = registry.Permanent(fmt.Errorf("no publisher for topic %q", f.msg.Topic))
			continue
		}
		f.sentAt = s.now()
		f.result = f.pub.Publish(ctx, &gcppubsub.Message{
			Data:        row.Payload,
			Attributes:  f.msg.Attributes(),
			OrderingKey: f.msg.OrderingKey(),
		})
		if f.result == nil {
			f.err = fmt.Errorf("publisher for %q returned no result", f.msg.Topic)
		}
	}
	return flights
}

// settle waits for acknowledgements in row order and records each outcome.
// Once a row of an aggregate fails, its later rows in the batch are left
// untouched for the next poll so subscribers never see them out of order.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, flights []*flight) error {
	ackCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	blocked := map[string]publisher{}
	defer func() {
		for key, pub := range blocked {
			pub.ResumePublish(key)
		}
	}()

	var oldest time.Time
	for _, f := range flights {
		rowCtx := s.logg.WithFields(ctx, rowFields(f))
		if f.msg != nil {
			if _, held := blocked[f.msg.OrderingKey()]; held {
				s.metrics.IncRow(string(f.row.EventType), metrics.OutboxHeld)
				s.logg.Debug(rowCtx, "outbox row held behind failed sibling")
				continue
			}
		}
		if f.err == nil {
			_, f.err = f.result.Get(ackCtx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		var err error
		switch {
		case f.err == nil:
			s.metrics.ObserveAck(s.now().Sub(f.sentAt))
			if oldest.IsZero() || f.row.CreatedAt.Before(oldest) {
				oldest = f.row.CreatedAt
			}
			err = s.published(rowCtx, tx, f)
		case registry.IsPermanent(f.err):
			err = s.park(rowCtx, tx, f, f.err)
		default:
			if f.msg != nil && f.pub != nil {
				blocked[f.msg.OrderingKey()] = f.pub
			}
			err = s.failed(rowCtx, tx, f)
		}
		if err != nil {
			return err
		}
	}
	if !oldest.IsZero() {
		s.metrics.SetLag(s.now().Sub(oldest))
	}
	return nil
}

func (s *Service) published(ctx context.Context, tx *gorm.DB, f *flight) error {
	if err := s.repo.MarkPublishedTx(tx, f.row.ID); err != nil {
		return fmt.Errorf("mark %s published: %w", f.row.ID, err)
	}
	s.metrics.IncRow(string(f.row.EventType), metrics.OutboxPublished)
	s.logg.Info(ctx, "outbox event published")
	return nil
}

// failed records a transient failure, or parks the row once this attempt
// reaches the ceiling.
func (s *Service) failed(ctx context.Context, tx *gorm.DB, f *flight) error {
	attempt := f.row.AttemptCount + 1
	if attempt >= s.maxAttempts {
		return s.park(s.logg.WithField(ctx, "attempt", attempt), tx, f,
			fmt.Errorf("gave up after %d attempts: %w", attempt, f.err))
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"attempt": attempt, "error": f.err.Error()}), "outbox publish failed, will retry")
	if err := s.repo.MarkFailedTx(tx, f.row.ID, f.err); err != nil {
		return fmt.Errorf("record failure of %s: %w", f.row.ID, err)
	}
	s.metrics.IncRow(string(f.row.EventType), metrics.OutboxRetry)
	return nil
}

// park lifts the attempt count to the ceiling so the row is never fetched
// again. It stays in the table for an operator.
func (s *Service) park(ctx context.Context, tx *gorm.DB, f *flight, cause error) error {
	s.logg.Warn(s.logg.WithField(ctx, "error", cause.Error()), "outbox row parked")
	if err := s.repo.MarkTerminalTx(tx, f.row.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("park %s: %w", f.row.ID, err)
	}
	s.metrics.IncRow(string(f.row.EventType), metrics.OutboxParked)
	return nil
}

func (s *Service) publisherFor(topic string) publisher {
	if p, ok := s.pubs[topic]; ok {
		return p
	}
	p := s.newPub(topic)
	if p != nil {
		s.pubs[topic] = p
	}
	return p
}

func rowFields(f *flight) map[string]any {
	fields := map[string]any{
		"outbox_id":      f.row.ID.String(),
		"event_type":     string(f.row.EventType),
		"aggregate_type": string(f.row.AggregateType),
		"aggregate_id":   f.row.AggregateID.String(),
	}
	if f.msg != nil {
		fields["event_id"] = f.msg.Envelope.EventID
		fields["topic"] = f.msg.Topic
		if f.msg.Envelope.RequestID != "" {
			fields["request_id"] = f.msg.Envelope.RequestID
		}
	}
	return fields
}

// nextWait doubles prev, keeping it within [base, ceiling].
func nextWait(prev, base, ceiling time.Duration) time.Duration {
	return min(max(prev*2, base), ceiling)
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func wrapPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return gcpPublisher{p: p}
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return g.p.Publish(ctx, msg)
}

func (g gcpPublisher) ResumePublish(key string) { g.p.ResumePublish(key) }
