package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/registry"
)

func settledEvent(t *testing.T, attempts int) models.OutboxEvent {
	t.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentSettled,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       envelopeBytes(t, nil),
		AttemptCount:  attempts,
	}
}

func TestRelayBatchKeepsGoingAfterTransientFailure(t *testing.T) {
	first, second := settledEvent(t, 0), settledEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &scriptedPublisher{errs: []error{errors.New("unavailable"), nil}}
	svc := newTestService(t, repo, pub, &fakeRegistry{topic: "settlement-events"}, &fakeDLQRepo{}, config.OutboxConfig{MaxAttempts: 5})

	n, err := svc.relayBatch(context.Background())
	if err != nil {
		t.Fatalf("relay batch: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows handled, got %d", n)
	}
	if len(repo.failed) != 1 || repo.failed[0] != first.ID {
		t.Fatalf("expected first row marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != second.ID {
		t.Fatalf("expected second row published, got %v", repo.published)
	}
	if len(repo.terminal) != 0 {
		t.Fatalf("transient failure must not be terminal")
	}
}

func TestMessageCarriesRoutingAttributes(t *testing.T) {
	actor := &outbox.ActorRef{UserID: uuid.New(), Role: "admin"}
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentRefunded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       envelopeBytes(t, actor),
	}
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &scriptedPublisher{}
	reg := &fakeRegistry{topic: "settlement-events", actor: actor}
	svc := newTestService(t, repo, pub, reg, &fakeDLQRepo{}, config.OutboxConfig{})

	if _, err := svc.relayBatch(context.Background()); err != nil {
		t.Fatalf("relay batch: %v", err)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.sent))
	}
	msg := pub.sent[0]
	if msg.Attributes["event_type"] != string(enums.EventPaymentRefunded) {
		t.Fatalf("event_type attribute = %q", msg.Attributes["event_type"])
	}
	if msg.Attributes["aggregate_id"] != event.AggregateID.String() {
		t.Fatalf("aggregate_id attribute = %q", msg.Attributes["aggregate_id"])
	}
	if msg.Attributes["actor_role"] != "admin" || msg.Attributes["schema_version"] != "1" {
		t.Fatalf("unexpected attributes %v", msg.Attributes)
	}
	if !bytes.Equal(msg.Data, event.Payload) {
		t.Fatalf("message body must be the stored envelope")
	}
}

func TestUnresolvableEventIsDeadLettered(t *testing.T) {
	event := settledEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	reg := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("unknown event type"))}
	svc := newTestService(t, repo, &scriptedPublisher{}, reg, dlq, config.OutboxConfig{})

	if _, err := svc.relayBatch(context.Background()); err != nil {
		t.Fatalf("relay batch: %v", err)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected one dlq entry, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.event.ID != event.ID || entry.reason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected dlq entry %+v", entry)
	}
	if !bytes.Equal(entry.event.Payload, event.Payload) || entry.cause == nil {
		t.Fatalf("dlq entry must keep the payload and cause")
	}
	if len(repo.terminal) != 1 {
		t.Fatalf("expected row marked terminal")
	}
}

func TestLastAttemptIsDeadLettered(t *testing.T) {
	event := settledEvent(t, 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	pub := &scriptedPublisher{errs: []error{errors.New("deadline exceeded")}}
	svc := newTestService(t, repo, pub, &fakeRegistry{topic: "settlement-events"}, dlq, config.OutboxConfig{MaxAttempts: 2})

	if _, err := svc.relayBatch(context.Background()); err != nil {
		t.Fatalf("relay batch: %v", err)
	}
	if len(dlq.entries) != 1 || dlq.entries[0].reason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("expected max_attempts dlq entry, got %+v", dlq.entries)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("terminal row must not also be marked for retry")
	}
}

func TestMissingPublisherIsNotRetried(t *testing.T) {
	event := settledEvent(t, 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	svc := newTestService(t, repo, nil, &fakeRegistry{topic: "missing"}, dlq, config.OutboxConfig{})

	if _, err := svc.relayBatch(context.Background()); err != nil {
		t.Fatalf("relay batch: %v", err)
	}
	if len(dlq.entries) != 1 || dlq.entries[0].reason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("expected non-retryable dlq entry, got %+v", dlq.entries)
	}
}

func TestNewServiceAppliesDefaults(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &scriptedPublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, config.OutboxConfig{})
	if svc.batchSize != defaultBatchSize || svc.maxAttempts != defaultMaxAttempts {
		t.Fatalf("unexpected defaults batch=%d attempts=%d", svc.batchSize, svc.maxAttempts)
	}
	if svc.idle != defaultIdle || svc.publishTimeout != defaultPublishTimeout {
		t.Fatalf("unexpected durations idle=%s timeout=%s", svc.idle, svc.publishTimeout)
	}

	if _, err := NewService(ServiceParams{Logger: logger.Nop()}); err == nil {
		t.Fatalf("expected error without database client")
	}
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, reg registryResolver, dlq dlqRepository, cfg config.OutboxConfig) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Outbox:     cfg,
		Logger:     logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:         fakeDB{},
		PubSub:     fakePubSub{},
		Repository: repo,
		Registry:   reg,
		PublisherFactory: func(string) publisher {
			if pub == nil {
				return nil
			}
			return pub
		},
		DLQRepository: dlq,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func envelopeBytes(t *testing.T, actor *outbox.ActorRef) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Actor:      actor,
		Data:       json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePubSub struct{}

func (fakePubSub) Ping(context.Context) error { return nil }

func (fakePubSub) Publisher(string) *gcppubsub.Publisher { return nil }

// scriptedPublisher records messages and fails them in order from errs.
type scriptedPublisher struct {
	errs []error
	sent []*gcppubsub.Message
}

func (p *scriptedPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.sent = append(p.sent, msg)
	var err error
	if len(p.errs) > 0 {
		err, p.errs = p.errs[0], p.errs[1:]
	}
	return stubResult{err: err}
}

type stubResult struct{ err error }

func (r stubResult) Get(context.Context) (string, error) { return "server-id", r.err }

type fakeRegistry struct {
	topic string
	actor *outbox.ActorRef
	err   error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: f.topic, AggregateType: event.AggregateType},
		Envelope: outbox.PayloadEnvelope{
			Version:    1,
			EventID:    event.ID.String(),
			OccurredAt: time.Now().UTC(),
			Actor:      f.actor,
		},
	}, nil
}

type parkedEvent struct {
	event  models.OutboxEvent
	reason enums.OutboxDLQErrorReason
	cause  error
}

type fakeDLQRepo struct {
	entries []parkedEvent
}

func (f *fakeDLQRepo) ParkTx(_ *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, _ time.Time) error {
	f.entries = append(f.entries, parkedEvent{event: event, reason: reason, cause: cause})
	return nil
}

func (f *fakeDLQRepo) Backlog(context.Context) (int64, error) {
	return int64(len(f.entries)), nil
}
