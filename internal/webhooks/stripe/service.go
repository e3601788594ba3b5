package stripewebhook

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/settlement-engine/internal/payments"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type settler interface {
	SettlePending(ctx context.Context, provider enums.PaymentProvider, ref string) (*payments.Settlement, error)
}

type ServiceParams struct {
	Settler settler
	Logger  *logger.Logger
}

// Service settles Stripe payments that succeed without the shopper coming
// back to confirm them, which is the normal path for PayNow.
type Service struct {
	settler settler
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Settler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settler required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{settler: params.Settler, logg: logg}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		intent, err := decodeIntent(event)
		if err != nil {
			return err
		}
		provider := providerFor(intent)
		ctx = s.logg.WithFields(ctx, map[string]any{"provider": provider.String(), "provider_ref": intent.ID, "stripe_event_id": event.ID})
		settlement, err := s.settler.SettlePending(ctx, provider, intent.ID)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				// settled synchronously by the client, or the context expired
				s.logg.Warn(ctx, "no pending checkout for succeeded intent")
				return nil
			}
			return err
		}
		if settlement.Duplicate {
			s.logg.Info(ctx, "intent already settled")
		} else {
			s.logg.Info(ctx, "intent settled from webhook")
		}
		return nil
	case stripe.EventTypePaymentIntentPaymentFailed, stripe.EventTypePaymentIntentCanceled:
		intent, err := decodeIntent(event)
		if err != nil {
			return err
		}
		s.logg.Info(s.logg.WithField(ctx, "provider_ref", intent.ID), "stripe intent did not complete")
		return nil
	default:
		return nil
	}
}

func decodeIntent(event *stripe.Event) (*stripe.PaymentIntent, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
	}
	if intent.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}
	return &intent, nil
}

func providerFor(intent *stripe.PaymentIntent) enums.PaymentProvider {
	if slices.Contains(intent.PaymentMethodTypes, "paynow") {
		return enums.PaymentProviderStripePayNow
	}
	return enums.PaymentProviderStripe
}
