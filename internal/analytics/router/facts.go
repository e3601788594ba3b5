package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
	analyticswriter "github.com/angelmondragon/settlement-engine/internal/analytics/writer"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/money"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
)

type factBuilder func(row *types.SettlementFactRow, payload any) error

type factHandler struct {
	writer Writer
	logg   *logger.Logger
	build  factBuilder
}

func (h factHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type":   envelope.EventType,
		"aggregate_id": envelope.AggregateID,
	})

	payloadJSON, err := analyticswriter.EncodeJSON(payload)
	if err != nil {
		return fmt.Errorf("encode payload json: %w", err)
	}
	row := types.SettlementFactRow{
		EventID:    envelope.EventID,
		EventType:  string(envelope.EventType),
		OccurredAt: envelope.OccurredAt.UTC(),
		ActorRole:  textPtr(envelope.ActorRole),
		Payload:    payloadJSON,
	}
	if err := h.build(&row, payload); err != nil {
		h.logg.Error(logCtx, "failed to build settlement fact", err)
		return err
	}

	if err := h.writer.InsertFact(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert settlement fact", err)
		return err
	}
	h.logg.Info(logCtx, "settlement fact inserted")
	return nil
}

func orderCreatedFact(row *types.SettlementFactRow, payload any) error {
	event, err := payloadAs[payloads.OrderCreatedEvent](payload, "order_created")
	if err != nil {
		return err
	}
	if row.AmountCents, err = centsPtr(event.Total, false); err != nil {
		return err
	}
	if row.FeeCents, err = centsPtr(event.DeliveryFee, false); err != nil {
		return err
	}
	row.UserID = idPtr(event.UserID)
	row.OrderID = idPtr(event.OrderID)
	return nil
}

func paymentSettledFact(row *types.SettlementFactRow, payload any) error {
	event, err := payloadAs[payloads.PaymentSettledEvent](payload, "payment_settled")
	if err != nil {
		return err
	}
	if row.AmountCents, err = centsPtr(event.Amount, false); err != nil {
		return err
	}
	row.UserID = idPtr(event.UserID)
	row.OrderID = idPtr(event.OrderID)
	row.PaymentID = idPtr(event.PaymentID)
	row.Provider = textPtr(string(event.Provider))
	row.ProviderRef = textPtr(event.ProviderRef)
	row.Currency = textPtr(event.Currency)
	return nil
}

// Refunds are stored as negative amounts so facts sum to net revenue.
func paymentRefundedFact(row *types.SettlementFactRow, payload any) error {
	event, err := payloadAs[payloads.PaymentRefundedEvent](payload, "payment_refunded")
	if err != nil {
		return err
	}
	if row.AmountCents, err = centsPtr(event.Amount, true); err != nil {
		return err
	}
	row.UserID = idPtr(event.UserID)
	row.OrderID = idPtr(event.OrderID)
	row.PaymentID = idPtr(event.PaymentID)
	return nil
}

func walletCreditedFact(row *types.SettlementFactRow, payload any) error {
	event, err := payloadAs[payloads.WalletCreditedEvent](payload, "wallet_credited")
	if err != nil {
		return err
	}
	if row.AmountCents, err = centsPtr(event.Amount, false); err != nil {
		return err
	}
	row.UserID = idPtr(event.UserID)
	row.WalletType = textPtr(string(event.Type))
	row.ProviderRef = textPtr(event.Reference)
	return nil
}

func payloadAs[T any](payload any, name string) (*T, error) {
	event, ok := payload.(*T)
	if !ok || event == nil {
		return nil, fmt.Errorf("invalid payload for %s: %T", name, payload)
	}
	return event, nil
}

func centsPtr(amount string, negate bool) (*int64, error) {
	if strings.TrimSpace(amount) == "" {
		return nil, nil
	}
	parsed, err := money.Parse(amount)
	if err != nil {
		return nil, err
	}
	cents := money.ToCents(parsed)
	if negate {
		cents = -cents
	}
	return &cents, nil
}

// textPtr maps blank strings to NULL.
func textPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func idPtr(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}
