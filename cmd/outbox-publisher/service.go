package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/payroll-backend/pkg/config"
	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/outbox"
	"github.com/angelmondragon/payroll-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultMaxAttempts    = 10
	defaultPublishTimeout = 15 * time.Second
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

type outboxStore interface {
	ClaimBatchTx(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, ids ...uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error
	ParkTx(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, terminalAttempts int) error
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

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Store            outboxStore
	Registry         registryResolver
	PublisherFactory publisherFactory
}

// Service relays committed outbox rows to Pub/Sub. A batch is claimed under
// row locks, every row is handed to its publisher, and only then are the
// results awaited, so one slow ack does not serialize the batch.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	pubsub       pubSubClient
	store        outboxStore
	registry     registryResolver
	publisherFor publisherFactory
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	var errs error
	for name, missing := range map[string]bool{
		"config":          params.Config == nil,
		"logger":          params.Logger == nil,
		"database client": params.DB == nil,
		"pubsub client":   params.PubSub == nil,
		"outbox store":    params.Store == nil,
		"event registry":  params.Registry == nil,
	} {
		if missing {
			errs = multierr.Append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if errs != nil {
		return nil, errs
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = func(topic string) publisher {
			if p := params.PubSub.Publisher(topic); p != nil {
				return gcpPublisher{p}
			}
			return nil
		}
	}

	cfg := params.Config.Outbox
	svc := &Service{
		logg:         params.Logger,
		db:           params.DB,
		pubsub:       params.PubSub,
		store:        params.Store,
		registry:     params.Registry,
		publisherFor: factory,
		batchSize:    cfg.BatchSize,
		maxAttempts:  cfg.MaxAttempts,
		pollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
	}
	if svc.batchSize <= 0 {
		svc.batchSize = defaultBatchSize
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = defaultMaxAttempts
	}
	if svc.pollInterval <= 0 {
		svc.pollInterval = defaultPollInterval
	}
	return svc, nil
}

// Run polls until ctx is canceled. A non-empty batch is followed immediately
// by the next; failed batches back off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	if err := multierr.Combine(s.db.Ping(ctx), s.pubsub.Ping(ctx)); err != nil {
		s.logg.Error(ctx, "outbox publisher dependencies not ready", err)
		return err
	}

	backoff := s.pollInterval
	for ctx.Err() == nil {
		busy, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxBackoff)
			wait = withJitter(backoff)
		case busy:
			backoff = s.pollInterval
			continue
		default:
			backoff = s.pollInterval
			wait = withJitter(s.pollInterval)
		}
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	s.logg.Info(ctx, "outbox publisher context canceled")
	return ctx.Err()
}

// pending is one row between publish and ack.
type pending struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	result   publishResult
	err      error
}

type batchTally struct {
	published, retried, parked int
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	var (
		claimed int
		tally   batchTally
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.store.ClaimBatchTx(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		claimed = len(events)
		if claimed == 0 {
			return nil
		}

		publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()

		inflight := make([]*pending, 0, len(events))
		for _, event := range events {
			inflight = append(inflight, s.send(publishCtx, event))
		}

		var published []uuid.UUID
		for _, p := range inflight {
			if p.err == nil && p.result != nil {
				_, p.err = p.result.Get(publishCtx)
			}
			if p.err == nil {
				published = append(published, p.event.ID)
				s.logg.Info(s.logg.WithFields(ctx, eventFields(p)), "outbox event published")
				continue
			}
			parked, err := s.recordFailure(ctx, tx, p)
			if err != nil {
				return err
			}
			if parked {
				tally.parked++
			} else {
				tally.retried++
			}
		}
		if err := s.store.MarkPublishedTx(tx, published...); err != nil {
			return fmt.Errorf("mark published: %w", err)
		}
		tally.published = len(published)
		return nil
	})
	if err == nil && claimed > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"claimed":   claimed,
			"published": tally.published,
			"retrying":  tally.retried,
			"parked":    tally.parked,
		}), "outbox batch processed")
	}
	return claimed > 0, err
}

// send resolves and hands one row to its topic publisher without waiting.
func (s *Service) send(ctx context.Context, event models.OutboxEvent) *pending {
	p := &pending{event: event}
	p.resolved, p.err = s.registry.Resolve(event)
	if p.err != nil {
		return p
	}
	topic := p.resolved.Descriptor.Topic
	pub := s.publisherFor(topic)
	if pub == nil {
		p.err = registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
		return p
	}
	p.result = pub.Publish(ctx, &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: messageAttributes(event, p.resolved.Envelope),
	})
	if p.result == nil {
		p.err = registry.NewNonRetryableError(fmt.Errorf("publisher for topic %s returned no result", topic))
	}
	return p
}

// recordFailure either schedules a retry or parks the row in the dead-letter
// table. A parked payroll stays pending, so the redelivery sweep still sees it.
func (s *Service) recordFailure(ctx context.Context, tx *gorm.DB, p *pending) (bool, error) {
	fields := eventFields(p)
	fields["error"] = p.err.Error()

	reason, cause := enums.OutboxDLQErrorReason(""), p.err
	switch attempt := p.event.AttemptCount + 1; {
	case registry.IsNonRetryable(p.err):
		reason = enums.OutboxDLQReasonNonRetryable
	case attempt >= s.maxAttempts:
		reason = enums.OutboxDLQReasonMaxAttempts
		cause = fmt.Errorf("gave up after %d attempts: %w", attempt, p.err)
	default:
		fields["attempt_count"] = attempt
		s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox publish failed, will retry")
		if err := s.store.MarkFailedTx(tx, p.event.ID, p.err); err != nil {
			return false, fmt.Errorf("mark failed %s: %w", p.event.ID, err)
		}
		return false, nil
	}

	fields["dlq_reason"] = reason
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event parked")
	if err := s.store.ParkTx(tx, p.event, reason, cause, s.maxAttempts); err != nil {
		return true, fmt.Errorf("park %s: %w", p.event.ID, err)
	}
	return true, nil
}

// messageAttributes carries routing data consumers filter on without decoding
// the body.
func messageAttributes(event models.OutboxEvent, envelope outbox.PayloadEnvelope) map[string]string {
	attrs := map[string]string{
		"event_id":         envelope.EventID,
		"event_type":       string(event.EventType),
		"aggregate_type":   string(event.AggregateType),
		"aggregate_id":     event.AggregateID.String(),
		"envelope_version": strconv.Itoa(envelope.Version),
		"created_at":       event.CreatedAt.Format(time.RFC3339Nano),
	}
	if envelope.Actor != nil && envelope.Actor.CustomerID != nil {
		attrs["customer_id"] = envelope.Actor.CustomerID.String()
	}
	if event.EventType.RequestsDelivery() {
		attrs["requests_delivery"] = "true"
	}
	return attrs
}

func eventFields(p *pending) map[string]any {
	fields := map[string]any{
		"outbox_id":     p.event.ID.String(),
		"event_type":    p.event.EventType,
		"aggregate_id":  p.event.AggregateID.String(),
		"attempt_count": p.event.AttemptCount,
	}
	if p.resolved != nil {
		fields["event_id"] = p.resolved.Envelope.EventID
		fields["topic"] = p.resolved.Descriptor.Topic
	}
	return fields
}

func nextBackoff(current, base, ceiling time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, ceiling)
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return g.p.Publish(ctx, msg)
}
