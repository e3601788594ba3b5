package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
)

// ErrUnsupportedEventType marks events the facts table does not record. The
// worker acks them.
var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers settlement fact rows.
type Writer interface {
	InsertFact(ctx context.Context, row types.SettlementFactRow) error
}

// Handler receives an envelope plus its decoded payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type route struct {
	decode  func(json.RawMessage) (any, error)
	handler Handler
}

func decoded[T any](raw json.RawMessage) (any, error) {
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}

// Router dispatches settlement envelopes to the fact builder for their type.
type Router struct {
	routes map[enums.OutboxEventType]route
}

// NewRouter wires the fact builders. An override replaces the handler of an
// event type the router already supports and is ignored otherwise.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	switch {
	case writer == nil:
		return nil, errors.New("writer is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	fact := func(build factBuilder) Handler {
		return factHandler{writer: writer, logg: logg, build: build}
	}
	routes := map[enums.OutboxEventType]route{
		enums.EventOrderCreated:    {decoded[payloads.OrderCreatedEvent], fact(orderCreatedFact)},
		enums.EventPaymentSettled:  {decoded[payloads.PaymentSettledEvent], fact(paymentSettledFact)},
		enums.EventPaymentRefunded: {decoded[payloads.PaymentRefundedEvent], fact(paymentRefundedFact)},
		enums.EventWalletCredited:  {decoded[payloads.WalletCreditedEvent], fact(walletCreditedFact)},
	}
	for eventType, custom := range overrides {
		rt, ok := routes[eventType]
		if !ok || custom == nil {
			continue
		}
		rt.handler = custom
		routes[eventType] = rt
	}
	return &Router{routes: routes}, nil
}

// Handle decodes the payload and hands it to the handler for its type.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	rt, ok := r.routes[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	payload, err := rt.decode(envelope.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}
	return rt.handler.Handle(ctx, envelope, payload)
}
