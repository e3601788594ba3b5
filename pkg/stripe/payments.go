package stripe

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/money"
)

const paymentMethodPayNow = "paynow"

// Intent is the part of a PaymentIntent the settlement flow reads.
type Intent struct {
	ID           string
	Status       stripe.PaymentIntentStatus
	Amount       decimal.Decimal
	Currency     string
	ClientSecret string
	QRImageURL   string
}

// Succeeded reports a terminal successful intent.
func (i Intent) Succeeded() bool {
	return i.Status == stripe.PaymentIntentStatusSucceeded
}

// Failed reports an intent Stripe will not complete without a new payment method.
func (i Intent) Failed() bool {
	return i.Status == stripe.PaymentIntentStatusCanceled ||
		i.Status == stripe.PaymentIntentStatusRequiresPaymentMethod
}

// CreateCardIntent opens an intent the browser confirms with Stripe.js.
func (c *Client) CreateCardIntent(ctx context.Context, amount decimal.Decimal, currency, reference string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(money.ToCents(amount)),
		Currency:           stripe.String(strings.ToLower(currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	return c.createIntent(ctx, params, reference)
}

// CreatePayNowIntent opens and confirms a PayNow intent so the response
// already carries the QR code to display.
func (c *Client) CreatePayNowIntent(ctx context.Context, amount decimal.Decimal, currency, reference string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(money.ToCents(amount)),
		Currency:           stripe.String(strings.ToLower(currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{paymentMethodPayNow}),
		PaymentMethodData: &stripe.PaymentIntentPaymentMethodDataParams{
			Type: stripe.String(paymentMethodPayNow),
		},
		Confirm: stripe.Bool(true),
	}
	return c.createIntent(ctx, params, reference)
}

func (c *Client) createIntent(ctx context.Context, params *stripe.PaymentIntentParams, reference string) (*Intent, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe client not configured")
	}
	if params.Amount == nil || *params.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe amount must be positive")
	}
	params.Context = ctx
	if reference != "" {
		params.AddMetadata("reference", reference)
		params.SetIdempotencyKey("intent-" + reference)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, wrapStripeErr(err, "create payment intent")
	}
	return intentFrom(pi), nil
}

// GetIntent reads an intent's current state.
func (c *Client) GetIntent(ctx context.Context, id string) (*Intent, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe client not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, wrapStripeErr(err, "retrieve payment intent")
	}
	return intentFrom(pi), nil
}

// RefundIntent refunds the full amount collected by an intent.
func (c *Client) RefundIntent(ctx context.Context, id string) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "stripe client not configured")
	}
	params := &stripe.RefundParams{PaymentIntent: stripe.String(id)}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + id)
	r, err := refund.New(params)
	if err != nil {
		return "", wrapStripeErr(err, "refund payment intent")
	}
	return r.ID, nil
}

// ConstructEvent verifies a webhook payload against the signing secret.
func (c *Client) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signature, c.SigningSecret())
}

func intentFrom(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:           pi.ID,
		Status:       pi.Status,
		Amount:       money.FromCents(pi.Amount),
		Currency:     strings.ToUpper(string(pi.Currency)),
		ClientSecret: pi.ClientSecret,
	}
	if pi.NextAction != nil && pi.NextAction.PayNowDisplayQRCode != nil {
		intent.QRImageURL = pi.NextAction.PayNowDisplayQRCode.ImageURLPNG
	}
	return intent
}

func wrapStripeErr(err error, msg string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode > 0 && stripeErr.HTTPStatusCode < 500 {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeProviderUnavailable, err, msg)
}
