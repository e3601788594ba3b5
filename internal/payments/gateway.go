package payments

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Status is a provider payment state normalized across gateways.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Intent is what a shopper needs to pay a provider: an approval link, a
// client secret or a QR code, depending on the provider.
type Intent struct {
	Ref          string `json:"provider_ref"`
	ApproveURL   string `json:"approve_url,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	QRCode       string `json:"qr_code,omitempty"`
}

// Capture is the provider's proof of payment. Ref is the identifier the
// payment is recorded under. HasAmount is false for providers that confirm a
// QR code without echoing the amount it was issued for.
type Capture struct {
	Ref       string
	Status    Status
	Amount    decimal.Decimal
	Currency  string
	HasAmount bool
}

// PollStatus is one answer from a status query.
type PollStatus struct {
	Status       Status `json:"status"`
	ResponseCode string `json:"response_code"`
	TxnStatus    string `json:"txn_status"`
}

// Gateway is the verify-then-settle surface every provider implements.
type Gateway interface {
	Provider() enums.PaymentProvider
	CreateIntentOrOrder(ctx context.Context, amount decimal.Decimal, currency, reference string) (*Intent, error)
	CaptureOrConfirm(ctx context.Context, ref string) (*Capture, error)
	QueryStatus(ctx context.Context, ref string, finalAttempt bool) (*PollStatus, error)
	Refund(ctx context.Context, ref string) error
}

// Gateways indexes configured gateways by provider.
type Gateways map[enums.PaymentProvider]Gateway

// NewGateways skips nil gateways so unconfigured providers are simply absent.
func NewGateways(gateways ...Gateway) Gateways {
	out := make(Gateways, len(gateways))
	for _, gw := range gateways {
		if gw == nil {
			continue
		}
		out[gw.Provider()] = gw
	}
	return out
}

// Get returns the gateway for provider.
func (g Gateways) Get(provider enums.PaymentProvider) (Gateway, error) {
	gw, ok := g[provider]
	if !ok {
		return nil, fmt.Errorf("payment provider %q not configured", provider)
	}
	return gw, nil
}
