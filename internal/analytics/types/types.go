package types

import (
	"encoding/json"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Envelope is a settlement event as received from Pub/Sub.
type Envelope struct {
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   string                    `json:"aggregate_id"`
	ActorRole     string                    `json:"actor_role,omitempty"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Payload       json.RawMessage           `json:"payload"`
}

// SettlementFactRow mirrors the settlement_facts BigQuery schema. AmountCents
// is signed: refunds and purchases debit, payments and credits are positive.
type SettlementFactRow struct {
	EventID     string             `bigquery:"event_id"`
	EventType   string             `bigquery:"event_type"`
	OccurredAt  time.Time          `bigquery:"occurred_at"`
	UserID      *string            `bigquery:"user_id"`
	OrderID     *string            `bigquery:"order_id"`
	PaymentID   *string            `bigquery:"payment_id"`
	Provider    *string            `bigquery:"provider"`
	ProviderRef *string            `bigquery:"provider_ref"`
	WalletType  *string            `bigquery:"wallet_type"`
	Currency    *string            `bigquery:"currency"`
	AmountCents *int64             `bigquery:"amount_cents"`
	FeeCents    *int64             `bigquery:"fee_cents"`
	ActorRole   *string            `bigquery:"actor_role"`
	Payload     cbigquery.NullJSON `bigquery:"payload"`
}
