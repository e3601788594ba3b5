package wallet

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/internal/orders"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Credit is the outcome of crediting a wallet. Duplicate is set when the
// reference had already been applied and NewBalance is the balance recorded
// at that time.
type Credit struct {
	TransactionID uuid.UUID
	NewBalance    decimal.Decimal
	Duplicate     bool
}

// Purchase is the outcome of paying for an order from the wallet.
type Purchase struct {
	Order         *orders.Result
	TransactionID uuid.UUID
	NewBalance    decimal.Decimal
}

// TopupInput describes a provider-funded credit.
type TopupInput struct {
	UserID      uuid.UUID
	Provider    enums.PaymentProvider
	Amount      decimal.Decimal
	Currency    string
	ProviderRef string
}

// OrderReference keys the purchase row written for an order.
func OrderReference(orderID uuid.UUID) string {
	return "order:" + orderID.String()
}

// RefundReference keys the refund credit for an order, so an order is
// refunded into the wallet at most once.
func RefundReference(orderID uuid.UUID) string {
	return "refund:order:" + orderID.String()
}

// ProviderReference qualifies a provider's own identifier, e.g.
// paypal:<captureId> or nets:<retrievalRef>.
func ProviderReference(provider enums.PaymentProvider, ref string) string {
	ref = strings.TrimSpace(ref)
	prefix := provider.String() + ":"
	if strings.HasPrefix(ref, prefix) {
		return ref
	}
	return fmt.Sprintf("%s%s", prefix, ref)
}
