package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// OrderCreatedEvent is emitted in the same transaction that reserves stock.
type OrderCreatedEvent struct {
	OrderID        uuid.UUID            `json:"order_id"`
	UserID         uuid.UUID            `json:"user_id"`
	Total          string               `json:"total"`
	DeliveryFee    string               `json:"delivery_fee"`
	DeliveryMethod enums.DeliveryMethod `json:"delivery_method"`
	ItemCount      int                  `json:"item_count"`
}

// PaymentSettledEvent records which channel paid for an order.
type PaymentSettledEvent struct {
	PaymentID   uuid.UUID             `json:"payment_id"`
	OrderID     uuid.UUID             `json:"order_id"`
	UserID      uuid.UUID             `json:"user_id"`
	Provider    enums.PaymentProvider `json:"provider"`
	ProviderRef string                `json:"provider_ref"`
	Amount      string                `json:"amount"`
	Currency    string                `json:"currency"`
}

// PaymentRefundedEvent is emitted once a payment reaches refunded.
type PaymentRefundedEvent struct {
	PaymentID uuid.UUID `json:"payment_id"`
	OrderID   uuid.UUID `json:"order_id"`
	UserID    uuid.UUID `json:"user_id"`
	Amount    string    `json:"amount"`
}

// WalletCreditedEvent covers top-ups and refunds landing in a wallet.
type WalletCreditedEvent struct {
	TransactionID uuid.UUID                   `json:"transaction_id"`
	UserID        uuid.UUID                   `json:"user_id"`
	Type          enums.WalletTransactionType `json:"type"`
	Amount        string                      `json:"amount"`
	BalanceAfter  string                      `json:"balance_after"`
	Reference     string                      `json:"reference"`
}

// RefundRequestedEvent is emitted when a shopper files a refund request.
type RefundRequestedEvent struct {
	RefundRequestID uuid.UUID `json:"refund_request_id"`
	OrderID         uuid.UUID `json:"order_id"`
	UserID          uuid.UUID `json:"user_id"`
	Reason          string    `json:"reason"`
}

// RefundRequestDecidedEvent is emitted when an admin approves or rejects.
type RefundRequestDecidedEvent struct {
	RefundRequestID uuid.UUID                 `json:"refund_request_id"`
	OrderID         uuid.UUID                 `json:"order_id"`
	Status          enums.RefundRequestStatus `json:"status"`
}
