package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/internal/analytics/router"
	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
)

// ConsumerName scopes the worker's processed-event ledger.
const ConsumerName = "analytics"

const drainTimeout = 10 * time.Second

type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type dedupe interface {
	Claim(ctx context.Context, eventID uuid.UUID) (bool, error)
	Forget(ctx context.Context, eventID uuid.UUID) error
}

type flusher interface {
	Flush(ctx context.Context) error
}

// verdict is what happens to a message once process returns. Malformed and
// unrecorded messages are acked; only failures worth a redelivery are nacked.
type verdict int

const (
	ack verdict = iota
	nack
)

// Service turns settlement events from the analytics subscription into
// BigQuery facts. A redis mark per event id keeps redeliveries from writing a
// fact twice.
type Service struct {
	sub     receiver
	handler Handler
	seen    dedupe
	flusher flusher
	logg    *logger.Logger
}

// NewService wires the worker. flusher may be nil; when set it is drained
// after Receive returns.
func NewService(sub receiver, handler Handler, seen dedupe, flusher flusher, logg *logger.Logger) (*Service, error) {
	switch {
	case sub == nil:
		return nil, errors.New("analytics subscription is required")
	case handler == nil:
		return nil, errors.New("analytics handler is required")
	case seen == nil:
		return nil, errors.New("idempotency manager is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{sub: sub, handler: handler, seen: seen, flusher: flusher, logg: logg}, nil
}

func (s *Service) Run(ctx context.Context) error {
	err := s.sub.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if s.process(msgCtx, msg) == nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if s.flusher != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if ferr := s.flusher.Flush(drainCtx); ferr != nil {
			s.logg.Error(drainCtx, "flush buffered facts on shutdown", ferr)
		}
	}
	return err
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) verdict {
	ctx = s.logg.WithField(ctx, "message_id", msg.ID)

	env, err := decode(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "dropping malformed settlement message")
		return ack
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_id":       env.EventID,
		"event_type":     env.EventType,
		"aggregate_type": env.AggregateType,
		"aggregate_id":   env.AggregateID,
	})

	eventID, err := uuid.Parse(env.EventID)
	if err != nil {
		s.logg.Warn(ctx, "dropping settlement message with non-uuid event id")
		return ack
	}

	first, err := s.seen.Claim(ctx, eventID)
	if err != nil {
		s.logg.Error(ctx, "mark settlement event processed", err)
		return nack
	}
	if !first {
		s.logg.Debug(ctx, "settlement event already recorded")
		return ack
	}

	switch err := s.handler.Handle(ctx, env); {
	case err == nil:
		s.logg.Info(ctx, "settlement fact recorded")
		return ack
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Debug(ctx, "settlement event has no fact mapping")
		return ack
	default:
		s.logg.Error(ctx, "record settlement fact", err)
		if derr := s.seen.Forget(ctx, eventID); derr != nil {
			s.logg.Error(ctx, "clear processed mark", derr)
		}
		return nack
	}
}

// decode reads routing from the message attributes and the event itself from
// the body envelope. The envelope's event id and timestamp win over the
// attribute copies.
func decode(msg *gcppubsub.Message) (types.Envelope, error) {
	body, err := outbox.OpenEnvelope(msg.Data)
	if err != nil && !errors.Is(err, outbox.ErrEmptyPayload) {
		return types.Envelope{}, err
	}
	attr := func(name string) string { return strings.TrimSpace(msg.Attributes[name]) }

	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return types.Envelope{}, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return types.Envelope{}, fmt.Errorf("aggregate_type: %w", err)
	}
	env := types.Envelope{
		EventID:       firstNonEmpty(strings.TrimSpace(body.EventID), attr("event_id")),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   attr("aggregate_id"),
		ActorRole:     attr("actor_role"),
		OccurredAt:    body.OccurredAt,
		Payload:       body.Data,
	}
	if env.AggregateID == "" {
		return types.Envelope{}, errors.New("aggregate_id missing")
	}
	if env.EventID == "" {
		return types.Envelope{}, errors.New("event_id missing")
	}
	if env.OccurredAt.IsZero() {
		if at, perr := time.Parse(time.RFC3339Nano, attr("created_at")); perr == nil {
			env.OccurredAt = at
		}
	}
	env.OccurredAt = env.OccurredAt.UTC()
	return env, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
