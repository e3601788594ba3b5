package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
)

// EventDescriptor is where an event type is published and which aggregate
// it must belong to.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is an outbox row that passed validation, with its envelope
// opened and its data decoded into the payload type of its event.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that will fail the same way on every attempt.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

type stream int

const (
	settlementStream stream = iota
	walletStream
)

type schema struct {
	aggregate enums.OutboxAggregateType
	stream    stream
	decode    func(json.RawMessage) (any, error)
}

func decodeAs[T any](raw json.RawMessage) (any, error) {
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}

var schemas = map[enums.OutboxEventType]schema{
	enums.EventOrderCreated:         {enums.AggregateOrder, settlementStream, decodeAs[payloads.OrderCreatedEvent]},
	enums.EventPaymentSettled:       {enums.AggregatePayment, settlementStream, decodeAs[payloads.PaymentSettledEvent]},
	enums.EventPaymentRefunded:      {enums.AggregatePayment, settlementStream, decodeAs[payloads.PaymentRefundedEvent]},
	enums.EventRefundRequested:      {enums.AggregateRefund, settlementStream, decodeAs[payloads.RefundRequestedEvent]},
	enums.EventRefundRequestDecided: {enums.AggregateRefund, settlementStream, decodeAs[payloads.RefundRequestDecidedEvent]},
	enums.EventWalletCredited:       {enums.AggregateWallet, walletStream, decodeAs[payloads.WalletCreditedEvent]},
}

// EventRegistry resolves outbox rows against the settlement event catalog
// and the configured topics.
type EventRegistry struct {
	topics map[stream]string
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topics := map[stream]string{
		settlementStream: strings.TrimSpace(cfg.SettlementTopic),
		walletStream:     strings.TrimSpace(cfg.WalletTopic),
	}
	switch {
	case topics[settlementStream] == "":
		return nil, errors.New("settlement topic is required")
	case topics[walletStream] == "":
		return nil, errors.New("wallet topic is required")
	}
	return &EventRegistry{topics: topics}, nil
}

// Descriptor reports where eventType is routed.
func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	s, ok := schemas[eventType]
	if !ok {
		return EventDescriptor{}, false
	}
	return EventDescriptor{EventType: eventType, AggregateType: s.aggregate, Topic: r.topics[s.stream]}, true
}

// Resolve validates the row and decodes its payload. Every failure is
// NonRetryableError: the row bytes do not change between attempts.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.Descriptor(event.EventType)
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if event.AggregateType != desc.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("%s belongs to %s, row says %s", event.EventType, desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	envelope, err := outbox.OpenEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload, err := schemas[event.EventType].decode(envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
