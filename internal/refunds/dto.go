package refunds

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Result describes a completed refund.
type Result struct {
	OrderID    uuid.UUID           `json:"order_id"`
	PaymentID  uuid.UUID           `json:"payment_id"`
	UserID     uuid.UUID           `json:"user_id"`
	Amount     decimal.Decimal     `json:"amount"`
	NewBalance decimal.Decimal     `json:"new_balance"`
	Status     enums.PaymentStatus `json:"status"`
	RefundedAt time.Time           `json:"refunded_at"`
}

// RequestInput is a shopper's refund request.
type RequestInput struct {
	UserID       uuid.UUID
	OrderID      uuid.UUID
	Reason       string
	EvidencePath string
}

// Decision is an admin's answer to a refund request. Approving refunds the
// order into the shopper's wallet.
type Decision struct {
	RequestID uuid.UUID
	AdminID   uuid.UUID
	Approve   bool
	Note      string
}

// DecisionResult carries the decided request and, on approval, the refund.
type DecisionResult struct {
	RequestID uuid.UUID                 `json:"refund_request_id"`
	Status    enums.RefundRequestStatus `json:"status"`
	Refund    *Result                   `json:"refund,omitempty"`
}
