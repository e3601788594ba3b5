package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultIdle           = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	ParkTx(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, at time.Time) error
	Backlog(ctx context.Context) (int64, error)
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// outcome is what a single relay attempt decided for one outbox row.
type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeDeadLetter
)

func (o outcome) metric() string {
	switch o {
	case outcomePublished:
		return metrics.OutboxPublished
	case outcomeRetry:
		return metrics.OutboxRetried
	default:
		return metrics.OutboxDeadLettered
	}
}

type delivery struct {
	event   models.OutboxEvent
	eventID string
	topic   string
	result  outcome
	reason  enums.OutboxDLQErrorReason
	err     error
}

func (d delivery) fields() map[string]any {
	fields := map[string]any{
		"outbox_id":      d.event.ID.String(),
		"event_type":     d.event.EventType,
		"aggregate_type": d.event.AggregateType,
		"aggregate_id":   d.event.AggregateID.String(),
		"attempt_count":  d.event.AttemptCount,
	}
	if d.eventID != "" {
		fields["event_id"] = d.eventID
	}
	if d.topic != "" {
		fields["topic"] = d.topic
	}
	if d.reason != "" {
		fields["dlq_reason"] = d.reason
	}
	return fields
}

type ServiceParams struct {
	Outbox           config.OutboxConfig
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
	Metrics          *metrics.OutboxMetrics
}

// Service relays committed settlement events from outbox_events to Pub/Sub.
// Each batch runs in one transaction so rows are locked while in flight.
type Service struct {
	logg           *logger.Logger
	db             dbClient
	pubsub         pubSubClient
	repo           outboxRepository
	registry       registryResolver
	dlq            dlqRepository
	publishers     publisherFactory
	metrics        *metrics.OutboxMetrics
	batchSize      int
	maxAttempts    int
	idle           time.Duration
	publishTimeout time.Duration
	now            func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("database client required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	case params.Registry == nil:
		return nil, errors.New("event registry required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository required")
	}

	publishers := params.PublisherFactory
	if publishers == nil {
		publishers = topicPublishers(params.PubSub)
	}

	cfg := params.Outbox
	return &Service{
		logg:           params.Logger,
		db:             params.DB,
		pubsub:         params.PubSub,
		repo:           params.Repository,
		registry:       params.Registry,
		dlq:            params.DLQRepository,
		publishers:     publishers,
		metrics:        params.Metrics,
		batchSize:      positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:    positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		idle:           positiveOr(cfg.PollInterval, defaultIdle),
		publishTimeout: positiveOr(cfg.PublishTimeout, defaultPublishTimeout),
		now:            time.Now,
	}, nil
}

// Run relays until ctx ends. A full batch is followed immediately by the next
// one; a short batch waits for the idle interval; a failed batch backs off.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping: %w", err)
	}
	if parked, err := s.dlq.Backlog(ctx); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "could not count dead-lettered events")
	} else if parked > 0 {
		s.logg.Warn(s.logg.WithField(ctx, "dlq_backlog", parked), "dead-lettered events are waiting for an operator")
	}

	wait := s.idle
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.relayBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox relay batch failed", err)
			wait = min(wait*2, maxBackoff)
		case n >= s.batchSize:
			wait = s.idle
			continue
		default:
			wait = s.idle
		}

		if err := sleepCtx(ctx, withJitter(wait)); err != nil {
			return err
		}
	}
}

// relayBatch publishes one locked batch and returns how many rows it handled.
func (s *Service) relayBatch(ctx context.Context) (int, error) {
	handled := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		for _, event := range events {
			if err := s.record(ctx, tx, s.deliver(ctx, event)); err != nil {
				return err
			}
		}
		handled = len(events)
		return nil
	})
	return handled, err
}

func (s *Service) deliver(ctx context.Context, event models.OutboxEvent) delivery {
	d := delivery{event: event}

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		d.result, d.reason, d.err = outcomeDeadLetter, enums.OutboxDLQReasonNonRetryable, err
		return d
	}
	d.eventID = resolved.Envelope.EventID
	d.topic = resolved.Descriptor.Topic

	err = s.publish(ctx, d.topic, messageFor(event, resolved.Envelope))
	var nonRetryable registry.NonRetryableError
	switch {
	case err == nil:
		d.result = outcomePublished
	case errors.As(err, &nonRetryable):
		d.result, d.reason, d.err = outcomeDeadLetter, enums.OutboxDLQReasonNonRetryable, err
	case event.AttemptCount+1 >= s.maxAttempts:
		d.result, d.reason = outcomeDeadLetter, enums.OutboxDLQReasonMaxAttempts
		d.err = fmt.Errorf("max publish attempts reached: %w", err)
	default:
		d.result, d.err = outcomeRetry, err
	}
	return d
}

func (s *Service) record(ctx context.Context, tx *gorm.DB, d delivery) error {
	id := d.event.ID
	ctx = s.logg.WithFields(ctx, d.fields())

	switch d.result {
	case outcomePublished:
		if err := s.repo.MarkPublishedTx(tx, id); err != nil {
			return fmt.Errorf("mark %s published: %w", id, err)
		}
		s.logg.Info(ctx, "settlement event published")
	case outcomeRetry:
		if err := s.repo.MarkFailedTx(tx, id, d.err); err != nil {
			return fmt.Errorf("mark %s failed: %w", id, err)
		}
		s.logg.Warn(s.logg.WithField(ctx, "error", d.err.Error()), "settlement event publish failed, will retry")
	case outcomeDeadLetter:
		if err := s.dlq.ParkTx(tx, d.event, d.reason, d.err, s.now().UTC()); err != nil {
			return fmt.Errorf("dead-letter %s: %w", id, err)
		}
		if err := s.repo.MarkTerminalTx(tx, id, d.err, s.maxAttempts); err != nil {
			return fmt.Errorf("mark %s terminal: %w", id, err)
		}
		s.logg.Warn(s.logg.WithField(ctx, "error", d.err.Error()), "settlement event dead-lettered")
	}

	s.metrics.Inc(string(d.event.EventType), d.result.metric())
	return nil
}

func (s *Service) publish(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := s.publishers(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}

	ctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()

	result := pub.Publish(ctx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher for topic %s returned no result", topic))
	}
	_, err := result.Get(ctx)
	return err
}

// messageFor carries the stored envelope unchanged; consumers route on the
// attributes without decoding the body.
func messageFor(event models.OutboxEvent, env outbox.PayloadEnvelope) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       env.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}
	if env.Version > 0 {
		attrs["schema_version"] = strconv.Itoa(env.Version)
	}
	if env.Actor != nil && env.Actor.Role != "" {
		attrs["actor_role"] = env.Actor.Role
	}
	return &gcppubsub.Message{Data: event.Payload, Attributes: attrs}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int64N(int64(jitterWindow)))
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}

func topicPublishers(client pubSubClient) publisherFactory {
	return func(topic string) publisher {
		p := client.Publisher(topic)
		if p == nil {
			return nil
		}
		return topicPublisher{p: p}
	}
}

type topicPublisher struct {
	p *gcppubsub.Publisher
}

func (t topicPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return topicResult{r: t.p.Publish(ctx, msg)}
}

type topicResult struct {
	r *gcppubsub.PublishResult
}

func (t topicResult) Get(ctx context.Context) (string, error) {
	if t.r == nil {
		return "", errors.New("publish result missing")
	}
	return t.r.Get(ctx)
}
