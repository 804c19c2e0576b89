package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/payroll-backend/pkg/config"
	"github.com/angelmondragon/payroll-backend/pkg/db/models"
	"github.com/angelmondragon/payroll-backend/pkg/enums"
	"github.com/angelmondragon/payroll-backend/pkg/logger"
	"github.com/angelmondragon/payroll-backend/pkg/outbox"
	"github.com/angelmondragon/payroll-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/payroll-backend/pkg/outbox/registry"
)

func payrollEvent(t *testing.T, attempts int) models.OutboxEvent {
	t.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPayrollCreated,
		AggregateType: enums.AggregatePayroll,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, nil),
		AttemptCount:  attempts,
		CreatedAt:     time.Now().UTC(),
	}
}

func payrollResolved(actor *outbox.ActorRef) *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     enums.EventPayrollCreated,
			AggregateType: enums.AggregatePayroll,
			Topic:         "payroll-events",
		},
		Envelope: outbox.PayloadEnvelope{Version: 1, Actor: actor},
		Payload:  &payloads.PayrollCreatedEvent{},
	}
}

func TestProcessBatchContinuesAfterTransientFailure(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{payrollEvent(t, 0), payrollEvent(t, 0)}}
	pub := &fakePublisher{results: []publishResult{
		fakePublishResult{err: errors.New("unavailable")},
		fakePublishResult{},
	}}
	svc := newTestService(t, repo, pub, &fakeRegistry{resolved: payrollResolved(nil)}, nil)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Equal(t, []uuid.UUID{repo.events[0].ID}, repo.failed)
	require.Equal(t, []uuid.UUID{repo.events[1].ID}, repo.published)
	require.Empty(t, repo.parked)
}

func TestProcessBatchReportsIdleWhenEmpty(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, nil)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.False(t, processed)
}

func TestPublishCarriesRoutingAttributes(t *testing.T) {
	customerID := uuid.New()
	event := payrollEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	actor := &outbox.ActorRef{UserID: uuid.New(), CustomerID: &customerID, Role: "admin"}
	svc := newTestService(t, repo, pub, &fakeRegistry{resolved: payrollResolved(actor)}, nil)

	var topics []string
	svc.publisherFor = func(topic string) publisher {
		topics = append(topics, topic)
		return pub
	}

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"payroll-events"}, topics)
	require.Len(t, pub.sent, 1)

	attrs := pub.sent[0].Attributes
	require.Equal(t, string(enums.EventPayrollCreated), attrs["event_type"])
	require.Equal(t, event.AggregateID.String(), attrs["aggregate_id"])
	require.Equal(t, customerID.String(), attrs["customer_id"])
	require.Equal(t, "1", attrs["envelope_version"])
	require.Equal(t, "true", attrs["requests_delivery"])
	require.Equal(t, []byte(event.Payload), pub.sent[0].Data)
}

func TestOrganizationEventsDoNotRequestDelivery(t *testing.T) {
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrganizationCreated,
		AggregateType: enums.AggregateOrganization,
		AggregateID:   uuid.New(),
	}
	attrs := messageAttributes(event, outbox.PayloadEnvelope{Version: 1, EventID: "evt"})
	_, ok := attrs["requests_delivery"]
	require.False(t, ok)
	_, ok = attrs["customer_id"]
	require.False(t, ok)
}

func TestProcessBatchParksUnresolvableRows(t *testing.T) {
	event := payrollEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	svc := newTestService(t, repo, &fakePublisher{}, reg, nil)

	processed, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	require.Len(t, repo.parked, 1)

	entry := repo.parked[0]
	require.Equal(t, event.ID, entry.id)
	require.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.reason)
	require.ErrorContains(t, entry.cause, "invalid payload")
	require.Equal(t, 5, entry.attempts)
	require.Empty(t, repo.published)
}

func TestProcessBatchParksRowsAtMaxAttempts(t *testing.T) {
	event := payrollEvent(t, 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{err: errors.New("deadline exceeded")}}}
	svc := newTestService(t, repo, pub, &fakeRegistry{resolved: payrollResolved(nil)}, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, repo.parked, 1)
	require.Equal(t, enums.OutboxDLQReasonMaxAttempts, repo.parked[0].reason)
	require.ErrorContains(t, repo.parked[0].cause, "gave up after 2 attempts")
	require.Empty(t, repo.failed)
}

func TestProcessBatchAbortsWhenBookkeepingFails(t *testing.T) {
	repo := &fakeRepo{
		events:  []models.OutboxEvent{payrollEvent(t, 0)},
		markErr: errors.New("connection reset"),
	}
	pub := &fakePublisher{results: []publishResult{fakePublishResult{}}}
	svc := newTestService(t, repo, pub, &fakeRegistry{resolved: payrollResolved(nil)}, nil)

	_, err := svc.processBatch(context.Background())
	require.ErrorContains(t, err, "mark published")
}

func TestNilPublisherIsTerminal(t *testing.T) {
	event := payrollEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	svc := newTestService(t, repo, nil, &fakeRegistry{resolved: payrollResolved(nil)}, nil)
	svc.publisherFor = func(string) publisher { return nil }

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, repo.parked, 1)
	require.Equal(t, enums.OutboxDLQReasonNonRetryable, repo.parked[0].reason)
}

func TestNewServiceReportsMissingParams(t *testing.T) {
	_, err := NewService(ServiceParams{
		Config: &config.Config{},
		Logger: logger.Nop(),
		DB:     &fakeDB{},
		PubSub: &fakePubSubClient{},
	})
	require.ErrorContains(t, err, "outbox store is required")
	require.ErrorContains(t, err, "event registry is required")
}

func TestProcessBatchPublishesBeforeAwaiting(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{payrollEvent(t, 0), payrollEvent(t, 0)}}
	var order []string
	pub := &orderedPublisher{order: &order}
	svc := newTestService(t, repo, pub, &fakeRegistry{resolved: payrollResolved(nil)}, nil)

	_, err := svc.processBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"publish", "publish", "get", "get"}, order)
	require.Len(t, repo.published, 2)
}

func TestNextBackoffCaps(t *testing.T) {
	base := 500 * time.Millisecond
	require.Equal(t, time.Second, nextBackoff(base, base, maxBackoff))
	require.Equal(t, maxBackoff, nextBackoff(8*time.Second, base, maxBackoff))
	require.Equal(t, time.Second, nextBackoff(0, base, maxBackoff))
}

func TestRunStopsOnCancel(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, svc.Run(ctx), context.Canceled)
}

func newTestService(t *testing.T, repo outboxStore, pub publisher, reg registryResolver, outboxOverride *config.OutboxConfig) *Service {
	t.Helper()
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxOverride != nil {
		outboxCfg = *outboxOverride
	}
	svc, err := NewService(ServiceParams{
		Config:           &config.Config{Outbox: outboxCfg},
		Logger:           logger.Nop(),
		DB:               &fakeDB{},
		PubSub:           &fakePubSubClient{},
		Store:            repo,
		Registry:         reg,
		PublisherFactory: func(string) publisher { return pub },
	})
	require.NoError(t, err)
	return svc
}

func mustEnvelopePayload(t *testing.T, actor *outbox.ActorRef) datatypes.JSON {
	t.Helper()
	data, err := json.Marshal(payloads.PayrollCreatedEvent{PayrollID: uuid.New(), NetPayable: "41250"})
	require.NoError(t, err)
	env, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Actor:      actor,
		Data:       data,
	})
	require.NoError(t, err)
	return datatypes.JSON(env)
}

type parkedRow struct {
	id       uuid.UUID
	reason   enums.OutboxDLQErrorReason
	cause    error
	attempts int
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	parked    []parkedRow
	markErr   error
}

func (f *fakeRepo) ClaimBatchTx(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, ids ...uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.published = append(f.published, ids...)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) ParkTx(_ *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, attempts int) error {
	f.parked = append(f.parked, parkedRow{id: event.ID, reason: reason, cause: cause, attempts: attempts})
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error { return nil }

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type fakePubSubClient struct{}

func (f *fakePubSubClient) Ping(context.Context) error { return nil }

func (f *fakePubSubClient) Publisher(string) *gcppubsub.Publisher { return nil }

type fakePublisher struct {
	results []publishResult
	sent    []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	if len(f.results) == 0 {
		return nil
	}
	f.sent = append(f.sent, msg)
	result := f.results[0]
	f.results = f.results[1:]
	return result
}

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(context.Context) (string, error) {
	return "server-id", f.err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		if f.err == nil {
			return nil, registry.NewNonRetryableError(errors.New("no descriptor"))
		}
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, nil
}

type orderedPublisher struct {
	order *[]string
}

func (o *orderedPublisher) Publish(context.Context, *gcppubsub.Message) publishResult {
	*o.order = append(*o.order, "publish")
	return orderedResult{order: o.order}
}

type orderedResult struct {
	order *[]string
}

func (r orderedResult) Get(context.Context) (string, error) {
	*r.order = append(*r.order, "get")
	return "id", nil
}
