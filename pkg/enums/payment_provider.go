package enums

import "fmt"

// PaymentProvider names the settlement channel that paid for an order.
type PaymentProvider string

const (
	PaymentProviderWallet       PaymentProvider = "wallet"
	PaymentProviderPayPal       PaymentProvider = "paypal"
	PaymentProviderStripe       PaymentProvider = "stripe"
	PaymentProviderStripePayNow PaymentProvider = "stripe_paynow"
	PaymentProviderNETS         PaymentProvider = "nets"
)

var validPaymentProviders = []PaymentProvider{
	PaymentProviderWallet,
	PaymentProviderPayPal,
	PaymentProviderStripe,
	PaymentProviderStripePayNow,
	PaymentProviderNETS,
}

// String implements fmt.Stringer.
func (v PaymentProvider) String() string {
	return string(v)
}

// IsValid reports whether the value is a known PaymentProvider.
func (v PaymentProvider) IsValid() bool {
	for _, candidate := range validPaymentProviders {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParsePaymentProvider converts raw input into a PaymentProvider.
func ParsePaymentProvider(value string) (PaymentProvider, error) {
	for _, candidate := range validPaymentProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment provider %q", value)
}

// IsAsync reports whether the provider settles through a polled QR or intent.
func (v PaymentProvider) IsAsync() bool {
	return v == PaymentProviderNETS || v == PaymentProviderStripePayNow
}

// RequiresCapture reports whether the provider proves payment with a synchronous capture.
func (v PaymentProvider) RequiresCapture() bool {
	return v == PaymentProviderPayPal || v == PaymentProviderStripe
}
