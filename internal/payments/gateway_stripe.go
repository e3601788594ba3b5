package payments

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/stripe"
)

type stripeAPI interface {
	CreateCardIntent(ctx context.Context, amount decimal.Decimal, currency, reference string) (*stripe.Intent, error)
	CreatePayNowIntent(ctx context.Context, amount decimal.Decimal, currency, reference string) (*stripe.Intent, error)
	GetIntent(ctx context.Context, id string) (*stripe.Intent, error)
	RefundIntent(ctx context.Context, id string) (string, error)
}

// stripeGateway serves both card payments, confirmed in the browser, and
// PayNow payments, confirmed by scanning a QR code. The PaymentIntent id is
// the settled reference for both.
type stripeGateway struct {
	api    stripeAPI
	paynow bool
}

// NewStripeGateway settles card PaymentIntents.
func NewStripeGateway(api stripeAPI) Gateway {
	if api == nil {
		return nil
	}
	return &stripeGateway{api: api}
}

// NewStripePayNowGateway settles PayNow PaymentIntents.
func NewStripePayNowGateway(api stripeAPI) Gateway {
	if api == nil {
		return nil
	}
	return &stripeGateway{api: api, paynow: true}
}

func (g *stripeGateway) Provider() enums.PaymentProvider {
	if g.paynow {
		return enums.PaymentProviderStripePayNow
	}
	return enums.PaymentProviderStripe
}

func (g *stripeGateway) CreateIntentOrOrder(ctx context.Context, amount decimal.Decimal, currency, reference string) (*Intent, error) {
	create := g.api.CreateCardIntent
	if g.paynow {
		create = g.api.CreatePayNowIntent
	}
	intent, err := create(ctx, amount, currency, reference)
	if err != nil {
		return nil, err
	}
	return &Intent{Ref: intent.ID, ClientSecret: intent.ClientSecret, QRCode: intent.QRImageURL}, nil
}

func (g *stripeGateway) CaptureOrConfirm(ctx context.Context, ref string) (*Capture, error) {
	intent, err := g.api.GetIntent(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &Capture{
		Ref:       intent.ID,
		Status:    stripeStatus(intent),
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		HasAmount: true,
	}, nil
}

func (g *stripeGateway) QueryStatus(ctx context.Context, ref string, _ bool) (*PollStatus, error) {
	intent, err := g.api.GetIntent(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &PollStatus{Status: stripeStatus(intent), TxnStatus: string(intent.Status)}, nil
}

func (g *stripeGateway) Refund(ctx context.Context, ref string) error {
	_, err := g.api.RefundIntent(ctx, ref)
	return err
}

func stripeStatus(intent *stripe.Intent) Status {
	switch {
	case intent.Succeeded():
		return StatusSucceeded
	case intent.Failed():
		return StatusFailed
	default:
		return StatusPending
	}
}
