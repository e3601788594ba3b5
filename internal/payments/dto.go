package payments

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/internal/checkout"
	"github.com/angelmondragon/settlement-engine/internal/orders"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// CheckoutRequest pays for a cart. ProviderProof is the PayPal order id or the
// Stripe PaymentIntent id the shopper approved; wallet checkouts leave it empty.
type CheckoutRequest struct {
	UserID        uuid.UUID
	Lines         []orders.CartLine
	Delivery      orders.DeliveryOptions
	PaymentMethod enums.PaymentProvider
	ProviderProof string
}

// CheckoutResult is returned for new and replayed settlements alike.
type CheckoutResult struct {
	OrderID     uuid.UUID             `json:"order_id"`
	Total       decimal.Decimal       `json:"total"`
	Provider    enums.PaymentProvider `json:"provider"`
	Status      enums.PaymentStatus   `json:"status"`
	ProviderRef string                `json:"provider_ref"`
	NewBalance  *decimal.Decimal      `json:"new_balance,omitempty"`
	Duplicate   bool                  `json:"duplicate,omitempty"`
}

// BeginCheckoutRequest opens a provider payment for a cart.
type BeginCheckoutRequest struct {
	UserID   uuid.UUID
	Lines    []orders.CartLine
	Delivery orders.DeliveryOptions
	Provider enums.PaymentProvider
}

// TopupRequest credits the wallet from a captured provider payment.
type TopupRequest struct {
	UserID        uuid.UUID
	Amount        decimal.Decimal
	Provider      enums.PaymentProvider
	ProviderProof string
}

// BeginTopupRequest opens a provider payment for a wallet top-up.
type BeginTopupRequest struct {
	UserID   uuid.UUID
	Amount   decimal.Decimal
	Provider enums.PaymentProvider
}

// TopupResult carries the wallet balance after the credit.
type TopupResult struct {
	NewBalance  decimal.Decimal       `json:"new_balance"`
	Provider    enums.PaymentProvider `json:"provider"`
	ProviderRef string                `json:"provider_ref"`
	Duplicate   bool                  `json:"duplicate,omitempty"`
}

// PendingPayment is what the shopper needs to complete a provider payment.
type PendingPayment struct {
	Intent
	Provider enums.PaymentProvider `json:"provider"`
	Kind     checkout.Kind         `json:"kind"`
	Amount   decimal.Decimal       `json:"amount"`
	Currency string                `json:"currency"`
	Async    bool                  `json:"async"`
}

// Settlement is the outcome of settling an asynchronous payment. Exactly one
// of Order or Topup is set.
type Settlement struct {
	Kind        checkout.Kind         `json:"kind"`
	Provider    enums.PaymentProvider `json:"provider"`
	ProviderRef string                `json:"provider_ref"`
	Order       *CheckoutResult       `json:"order,omitempty"`
	Topup       *TopupResult          `json:"topup,omitempty"`
	Duplicate   bool                  `json:"duplicate,omitempty"`
}

func resultFromPayment(p *models.Payment, duplicate bool) *CheckoutResult {
	return &CheckoutResult{
		OrderID:     p.OrderID,
		Total:       p.Amount,
		Provider:    p.Provider,
		Status:      p.Status,
		ProviderRef: p.ProviderRef,
		Duplicate:   duplicate,
	}
}
