package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
)

func newTestRouter(t *testing.T, writer Writer, overrides map[enums.OutboxEventType]Handler) *Router {
	t.Helper()
	r, err := NewRouter(writer, logger.Nop(), overrides)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return r
}

func envelopeFor(t *testing.T, eventType enums.OutboxEventType, payload any) types.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return types.Envelope{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		AggregateID: uuid.NewString(),
		ActorRole:   "shopper",
		OccurredAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload:     raw,
	}
}

func TestNewRouterValidation(t *testing.T) {
	if _, err := NewRouter(nil, logger.Nop(), nil); err == nil {
		t.Fatal("expected error without writer")
	}
	if _, err := NewRouter(&fakeWriter{}, nil, nil); err == nil {
		t.Fatal("expected error without logger")
	}
}

func TestPaymentSettledFact(t *testing.T) {
	writer := &fakeWriter{}
	r := newTestRouter(t, writer, nil)
	event := payloads.PaymentSettledEvent{
		PaymentID:   uuid.New(),
		OrderID:     uuid.New(),
		UserID:      uuid.New(),
		Provider:    enums.PaymentProviderPayPal,
		ProviderRef: "paypal:CAP-1",
		Amount:      "21.50",
		Currency:    "SGD",
	}
	env := envelopeFor(t, enums.EventPaymentSettled, event)

	if err := r.Handle(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(writer.inserted) != 1 {
		t.Fatalf("expected one row, got %d", len(writer.inserted))
	}
	row := writer.inserted[0]
	if row.EventID != env.EventID || row.EventType != "payment_settled" {
		t.Fatalf("unexpected identity %+v", row)
	}
	if row.AmountCents == nil || *row.AmountCents != 2150 {
		t.Fatalf("expected 2150 cents, got %v", row.AmountCents)
	}
	if row.Provider == nil || *row.Provider != "paypal" {
		t.Fatalf("unexpected provider %v", row.Provider)
	}
	if row.ProviderRef == nil || *row.ProviderRef != "paypal:CAP-1" {
		t.Fatalf("unexpected provider ref %v", row.ProviderRef)
	}
	if row.ActorRole == nil || *row.ActorRole != "shopper" {
		t.Fatalf("unexpected actor role %v", row.ActorRole)
	}
	if !row.Payload.Valid {
		t.Fatal("expected payload json")
	}
}

func TestPaymentRefundedFactIsNegative(t *testing.T) {
	writer := &fakeWriter{}
	r := newTestRouter(t, writer, nil)
	env := envelopeFor(t, enums.EventPaymentRefunded, payloads.PaymentRefundedEvent{
		PaymentID: uuid.New(),
		OrderID:   uuid.New(),
		UserID:    uuid.New(),
		Amount:    "6.00",
	})

	if err := r.Handle(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := *writer.inserted[0].AmountCents; got != -600 {
		t.Fatalf("expected -600 cents, got %d", got)
	}
}

func TestOrderCreatedFactCarriesFee(t *testing.T) {
	writer := &fakeWriter{}
	r := newTestRouter(t, writer, nil)
	env := envelopeFor(t, enums.EventOrderCreated, payloads.OrderCreatedEvent{
		OrderID:        uuid.New(),
		UserID:         uuid.New(),
		Total:          "21.50",
		DeliveryFee:    "1.50",
		DeliveryMethod: enums.DeliveryMethodDelivery,
		ItemCount:      1,
	})

	if err := r.Handle(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}
	row := writer.inserted[0]
	if *row.AmountCents != 2150 || *row.FeeCents != 150 {
		t.Fatalf("unexpected amounts %d / %d", *row.AmountCents, *row.FeeCents)
	}
}

func TestWalletCreditedFact(t *testing.T) {
	writer := &fakeWriter{}
	r := newTestRouter(t, writer, nil)
	env := envelopeFor(t, enums.EventWalletCredited, payloads.WalletCreditedEvent{
		TransactionID: uuid.New(),
		UserID:        uuid.New(),
		Type:          enums.WalletTransactionTypeTopup,
		Amount:        "10.00",
		BalanceAfter:  "15.00",
		Reference:     "nets:RR-1",
	})

	if err := r.Handle(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}
	row := writer.inserted[0]
	if row.WalletType == nil || *row.WalletType != "topup" {
		t.Fatalf("unexpected wallet type %v", row.WalletType)
	}
	if *row.AmountCents != 1000 {
		t.Fatalf("expected 1000 cents, got %d", *row.AmountCents)
	}
}

func TestUnsupportedEventType(t *testing.T) {
	r := newTestRouter(t, &fakeWriter{}, nil)
	env := envelopeFor(t, enums.EventRefundRequested, payloads.RefundRequestedEvent{OrderID: uuid.New()})

	err := r.Handle(context.Background(), env)
	if !errors.Is(err, ErrUnsupportedEventType) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestEmptyPayloadRejected(t *testing.T) {
	r := newTestRouter(t, &fakeWriter{}, nil)
	env := types.Envelope{EventID: uuid.NewString(), EventType: enums.EventPaymentSettled}
	if err := r.Handle(context.Background(), env); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestWriterErrorPropagates(t *testing.T) {
	writer := &fakeWriter{err: errors.New("bigquery down")}
	r := newTestRouter(t, writer, nil)
	env := envelopeFor(t, enums.EventPaymentRefunded, payloads.PaymentRefundedEvent{Amount: "1.00"})
	if err := r.Handle(context.Background(), env); err == nil {
		t.Fatal("expected writer error")
	}
}

type recordingHandler struct {
	calls int
}

func (h *recordingHandler) Handle(context.Context, types.Envelope, any) error {
	h.calls++
	return nil
}

func TestOverridesReplaceKnownHandlersOnly(t *testing.T) {
	custom := &recordingHandler{}
	writer := &fakeWriter{}
	r := newTestRouter(t, writer, map[enums.OutboxEventType]Handler{
		enums.EventWalletCredited:  custom,
		enums.EventRefundRequested: custom,
	})

	env := envelopeFor(t, enums.EventWalletCredited, payloads.WalletCreditedEvent{Amount: "1.00"})
	if err := r.Handle(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if custom.calls != 1 || len(writer.inserted) != 0 {
		t.Fatalf("expected override to handle event, calls=%d rows=%d", custom.calls, len(writer.inserted))
	}

	refund := envelopeFor(t, enums.EventRefundRequested, payloads.RefundRequestedEvent{})
	if err := r.Handle(context.Background(), refund); !errors.Is(err, ErrUnsupportedEventType) {
		t.Fatalf("override must not add event types, got %v", err)
	}
}
